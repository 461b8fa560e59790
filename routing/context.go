// Package routing interprets inbound messages: it resolves the sender,
// drives multi-turn conversation flows, parses structured commands,
// evaluates operator automation rules, and falls back to a role menu.
// Every turn produces one outbound action: reply, forward, or silence.
package routing

import "encoding/json"

// Flow and state names. Each flow is a small state machine layered on
// one generic conversation-state record; the absence of a record is the
// universal idle baseline.
const (
	FlowAcceptance = "acceptance"
	FlowParts      = "parts"
	FlowRating     = "rating"
	FlowSchedule   = "schedule"
	FlowMenu       = "menu"

	StateAwaitingAcceptance   = "awaiting_acceptance"
	StateAwaitingPartCode     = "awaiting_part_code"
	StateAwaitingQuantity     = "awaiting_quantity"
	StateAwaitingRating       = "awaiting_rating"
	StateAwaitingScheduleDate = "awaiting_schedule_date"
	StateAwaitingMenuChoice   = "awaiting_menu_choice"
)

// FlowContext is the typed per-flow conversation context. Exactly one
// branch is set, keyed by the flow the record belongs to, so handlers
// read concrete fields instead of poking an untyped blob.
type FlowContext struct {
	Acceptance *AcceptanceContext `json:"acceptance,omitempty"`
	Parts      *PartsContext      `json:"parts,omitempty"`
	Rating     *RatingContext     `json:"rating,omitempty"`
	Schedule   *ScheduleContext   `json:"schedule,omitempty"`
	Menu       *MenuContext       `json:"menu,omitempty"`
}

type AcceptanceContext struct {
	TicketID string `json:"ticketId"`
}

type PartsContext struct {
	ItemCode string `json:"itemCode,omitempty"`
}

type RatingContext struct {
	TicketID string `json:"ticketId"`
}

type ScheduleContext struct {
	TicketID string `json:"ticketId"`
}

type MenuContext struct {
	Role string `json:"role"`
}

func encodeContext(fc FlowContext) string {
	b, err := json.Marshal(fc)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func decodeContext(s string) FlowContext {
	var fc FlowContext
	if s != "" {
		json.Unmarshal([]byte(s), &fc)
	}
	return fc
}
