package routing

import (
	"regexp"
	"strconv"
	"strings"
)

// Command is a structured command parsed from inbound text, with typed
// validated parameters. Ephemeral: produced and consumed in one turn.
type Command struct {
	Name     string
	ItemCode string
	Quantity int
	TicketID string
}

var (
	compraPattern  = regexp.MustCompile(`^#COMPRA\s+([A-Z0-9]{3,12})\s+([0-9]{1,4})$`)
	estoquePattern = regexp.MustCompile(`^#ESTOQUE\s+([A-Z0-9]{3,12})$`)
	osPattern      = regexp.MustCompile(`^#OS\s+([A-Z0-9-]{1,36})$`)
	ajudaPattern   = regexp.MustCompile(`^#AJUDA$`)
	spacesPattern  = regexp.MustCompile(`\s+`)
)

// ParseCommand matches text against the fixed command patterns and
// returns the first structural match, or nil. Input is case-normalized
// first; a command with malformed parameters is a non-match, letting the
// router fall through to rules and the menu.
func ParseCommand(text string) *Command {
	t := strings.ToUpper(strings.TrimSpace(text))
	t = spacesPattern.ReplaceAllString(t, " ")

	if m := compraPattern.FindStringSubmatch(t); m != nil {
		qty, err := strconv.Atoi(m[2])
		if err != nil || qty < 1 || qty > 9999 {
			return nil
		}
		return &Command{Name: "COMPRA", ItemCode: m[1], Quantity: qty}
	}
	if m := estoquePattern.FindStringSubmatch(t); m != nil {
		return &Command{Name: "ESTOQUE", ItemCode: m[1]}
	}
	if m := osPattern.FindStringSubmatch(t); m != nil {
		return &Command{Name: "OS", TicketID: m[1]}
	}
	if ajudaPattern.MatchString(t) {
		return &Command{Name: "AJUDA"}
	}
	return nil
}
