package db

const (
	MatchExact    = "exact"
	MatchContains = "contains"
	MatchRegex    = "regex"
)

const (
	RuleActionReply    = "reply"
	RuleActionForward  = "forward"
	RuleActionFunction = "function"
)

type AutomationRule struct {
	ID             int64   `json:"id"`
	Keyword        string  `json:"keyword"`
	MatchType      string  `json:"matchType"`
	ActionType     string  `json:"actionType"`
	ReplyText      string  `json:"replyText,omitempty"`
	TargetProfile  *string `json:"targetProfile,omitempty"`
	SystemFunction *string `json:"systemFunction,omitempty"`
	Priority       int     `json:"priority"`
	Active         bool    `json:"active"`
}

// ActiveRules returns active automation rules highest priority first.
// Ties keep insertion order, which is stable in sqlite rowid order.
func (db *DB) ActiveRules() ([]AutomationRule, error) {
	rows, err := db.Query(`
		SELECT id, keyword, match_type, action_type, reply_text, target_profile, system_function, priority, active
		FROM automation_rules WHERE active = 1
		ORDER BY priority DESC, id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []AutomationRule
	for rows.Next() {
		var r AutomationRule
		if err := rows.Scan(&r.ID, &r.Keyword, &r.MatchType, &r.ActionType, &r.ReplyText, &r.TargetProfile, &r.SystemFunction, &r.Priority, &r.Active); err != nil {
			continue
		}
		rules = append(rules, r)
	}
	return rules, nil
}

func (db *DB) InsertRule(r AutomationRule) (int64, error) {
	res, err := db.Exec(`
		INSERT INTO automation_rules (keyword, match_type, action_type, reply_text, target_profile, system_function, priority, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.Keyword, r.MatchType, r.ActionType, r.ReplyText, r.TargetProfile, r.SystemFunction, r.Priority, r.Active)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}
