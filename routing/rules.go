package routing

import (
	"regexp"
	"strings"

	"github.com/manutech/courier-server/db"
)

// MatchRule evaluates automation rules against free text and returns the
// first match. Rules arrive already ordered highest priority first with
// storage order breaking ties, so a linear scan gives the right winner.
// Malformed regex rules never match.
func MatchRule(text string, rules []db.AutomationRule) *db.AutomationRule {
	t := strings.ToUpper(strings.TrimSpace(text))

	for i := range rules {
		r := &rules[i]
		keyword := strings.ToUpper(strings.TrimSpace(r.Keyword))

		switch r.MatchType {
		case db.MatchExact:
			if t == keyword {
				return r
			}
		case db.MatchContains:
			if keyword != "" && strings.Contains(t, keyword) {
				return r
			}
		case db.MatchRegex:
			re, err := regexp.Compile("(?i)" + r.Keyword)
			if err != nil {
				continue
			}
			if re.MatchString(text) {
				return r
			}
		}
	}
	return nil
}
