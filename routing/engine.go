package routing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/manutech/courier-server/db"
)

// Inbound is one normalized inbound message handed to the engine. Text
// carries whatever should be routed: the message body, a media caption,
// or the id of the interactive row/button the sender picked.
type Inbound struct {
	From string // sender phone digits
	Text string
	Type string
}

// ActionKind discriminates what a routing turn wants done.
type ActionKind int

const (
	ActSilent ActionKind = iota
	ActReply
	ActForward
)

// Action is the outbound action one routing turn produced.
type Action struct {
	Kind          ActionKind
	Text          string
	TargetProfile string // forward target, for ActForward
}

func Reply(text string) Action { return Action{Kind: ActReply, Text: text} }

func Silent() Action { return Action{Kind: ActSilent} }

func Forward(profile, text string) Action {
	return Action{Kind: ActForward, Text: text, TargetProfile: profile}
}

// Services is the narrow collaborator surface the engine needs for
// business side effects. The business schema itself lives elsewhere.
type Services interface {
	ActiveTicket(contactID string) (*db.ServiceTicket, error)
	TicketByID(id string) (*db.ServiceTicket, error)
	AcceptTicket(ticketID string) error
	RejectTicket(ticketID string) error
	ScheduleTicket(ticketID string, when time.Time) error
	RateTicket(ticketID string, rating int) error
	CreatePurchaseRequest(contactID, itemCode string, quantity int) (*db.PurchaseRequest, error)
	StockLevel(itemCode string) (int, error)
}

// Publisher receives routing events for the operator feed. May be nil.
type Publisher interface {
	Publish(event string, data any)
}

type flowState struct {
	flow  string
	state string
}

type handlerFunc func(ctx context.Context, c *db.Contact, s *db.ConversationState, text string) Action

// Engine routes one inbound message per turn, in strict priority order:
// live conversation state, then command, then automation rule, then the
// role menu.
type Engine struct {
	db       *db.DB
	svc      Services
	funcs    map[string]SystemFunc
	events   Publisher
	handlers map[flowState]handlerFunc
	now      func() time.Time
}

func NewEngine(database *db.DB, svc Services, funcs map[string]SystemFunc, events Publisher) *Engine {
	e := &Engine{
		db:     database,
		svc:    svc,
		funcs:  funcs,
		events: events,
		now:    time.Now,
	}
	e.handlers = map[flowState]handlerFunc{
		{FlowAcceptance, StateAwaitingAcceptance}: e.handleAcceptance,
		{FlowParts, StateAwaitingPartCode}:        e.handlePartCode,
		{FlowParts, StateAwaitingQuantity}:        e.handleQuantity,
		{FlowRating, StateAwaitingRating}:         e.handleRating,
		{FlowSchedule, StateAwaitingScheduleDate}: e.handleScheduleDate,
		{FlowMenu, StateAwaitingMenuChoice}:       e.handleMenuChoice,
	}
	return e
}

// ValidateRules resolves system-function names in active rules against
// the registry. Called at startup so a misconfigured rule fails fast
// instead of at message time.
func (e *Engine) ValidateRules() error {
	rules, err := e.db.ActiveRules()
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	for _, r := range rules {
		if r.ActionType != db.RuleActionFunction {
			continue
		}
		if r.SystemFunction == nil || *r.SystemFunction == "" {
			return fmt.Errorf("rule %d: function action without system function name", r.ID)
		}
		if _, ok := e.funcs[*r.SystemFunction]; !ok {
			return fmt.Errorf("rule %d: unknown system function %q", r.ID, *r.SystemFunction)
		}
	}
	return nil
}

// HasFunction reports whether a system-function name is registered.
// Used when operators create rules, so bad names are rejected at write
// time as well as at startup.
func (e *Engine) HasFunction(name string) bool {
	_, ok := e.funcs[name]
	return ok
}

// HandleMessage runs one routing turn and returns the outbound action.
func (e *Engine) HandleMessage(ctx context.Context, in Inbound) Action {
	contact, err := e.db.ContactByPhoneSuffix(phoneSuffix(in.From))
	if err != nil {
		slog.Error("routing: contact lookup failed", "from", in.From, "err", err)
		return Silent()
	}
	if contact == nil {
		slog.Info("routing: unknown sender", "from", in.From)
		return Reply(onboardingNotice)
	}

	text := strings.TrimSpace(in.Text)
	if text == "" {
		return Reply(textOnlyNotice)
	}

	// 1. Live conversation state wins.
	state, err := e.db.GetConversationState(contact.ID)
	if err != nil {
		slog.Error("routing: state lookup failed", "contact", contact.ID, "err", err)
		return Silent()
	}
	if state != nil {
		if h, ok := e.handlers[flowState{state.Flow, state.CurrentState}]; ok {
			e.publish("routing.state", contact, state.Flow+"/"+state.CurrentState)
			return h(ctx, contact, state, text)
		}
		// Unroutable record, likely written by an older build. Drop it
		// and treat the sender as idle.
		slog.Warn("routing: orphan conversation state", "contact", contact.ID, "flow", state.Flow, "state", state.CurrentState)
		e.db.DeleteConversationState(contact.ID)
	}

	// 2. Structured command.
	if cmd := ParseCommand(text); cmd != nil {
		e.publish("routing.command", contact, cmd.Name)
		return e.execCommand(ctx, contact, cmd)
	}

	// 3. Automation rule.
	rules, err := e.db.ActiveRules()
	if err != nil {
		slog.Error("routing: rules load failed", "err", err)
	} else if rule := MatchRule(text, rules); rule != nil {
		e.publish("routing.rule", contact, rule.Keyword)
		return e.execRule(ctx, contact, rule, text)
	}

	// 4. Fallback: role menu, seeding a menu state so the next numeric
	// reply resolves as a choice.
	e.publish("routing.menu", contact, contact.Role)
	return e.showMenu(contact)
}

// BeginAcceptance seeds the acceptance dialog for a newly assigned
// ticket. Callers (assignment side of the host system) invoke this, then
// send the technician the acceptance prompt.
func (e *Engine) BeginAcceptance(contactID, ticketID string) error {
	fc := FlowContext{Acceptance: &AcceptanceContext{TicketID: ticketID}}
	_, err := e.db.CreateConversationState(contactID, FlowAcceptance, StateAwaitingAcceptance, encodeContext(fc), &ticketID)
	return err
}

// BeginRating seeds the rating dialog for a finished ticket.
func (e *Engine) BeginRating(contactID, ticketID string) error {
	fc := FlowContext{Rating: &RatingContext{TicketID: ticketID}}
	_, err := e.db.CreateConversationState(contactID, FlowRating, StateAwaitingRating, encodeContext(fc), &ticketID)
	return err
}

func (e *Engine) execCommand(ctx context.Context, c *db.Contact, cmd *Command) Action {
	switch cmd.Name {
	case "COMPRA":
		pr, err := e.svc.CreatePurchaseRequest(c.ID, cmd.ItemCode, cmd.Quantity)
		if err != nil {
			slog.Error("routing: purchase request failed", "contact", c.ID, "item", cmd.ItemCode, "err", err)
			return Reply(genericErrorNotice)
		}
		return Reply(fmt.Sprintf("Solicitação de compra registrada: %d x %s (pedido %s).", pr.Quantity, pr.ItemCode, shortID(pr.ID)))
	case "ESTOQUE":
		qty, err := e.svc.StockLevel(cmd.ItemCode)
		if err != nil {
			slog.Error("routing: stock lookup failed", "item", cmd.ItemCode, "err", err)
			return Reply(genericErrorNotice)
		}
		if qty < 0 {
			return Reply(fmt.Sprintf("Item %s não encontrado no estoque.", cmd.ItemCode))
		}
		return Reply(fmt.Sprintf("Estoque de %s: %d unidade(s).", cmd.ItemCode, qty))
	case "OS":
		t, err := e.svc.TicketByID(cmd.TicketID)
		if err != nil {
			slog.Error("routing: ticket lookup failed", "ticket", cmd.TicketID, "err", err)
			return Reply(genericErrorNotice)
		}
		if t == nil {
			return Reply(fmt.Sprintf("OS %s não encontrada.", cmd.TicketID))
		}
		return Reply(ticketStatusText(t))
	case "AJUDA":
		return Reply(commandHelp)
	default:
		return Reply(commandHelp)
	}
}

// execRule dispatches a matched automation rule over the closed action
// table. Function names were resolved at startup; an unknown one here
// means the rule set changed under us, so it is logged and swallowed.
func (e *Engine) execRule(ctx context.Context, c *db.Contact, rule *db.AutomationRule, text string) Action {
	switch rule.ActionType {
	case db.RuleActionReply:
		return Reply(rule.ReplyText)
	case db.RuleActionForward:
		if rule.TargetProfile == nil || *rule.TargetProfile == "" {
			slog.Warn("routing: forward rule without target", "rule", rule.ID)
			return Silent()
		}
		return Forward(*rule.TargetProfile, fmt.Sprintf("[%s] %s", c.Name, text))
	case db.RuleActionFunction:
		name := ""
		if rule.SystemFunction != nil {
			name = *rule.SystemFunction
		}
		fn, ok := e.funcs[name]
		if !ok {
			slog.Error("routing: unknown system function at runtime", "rule", rule.ID, "function", name)
			return Silent()
		}
		return fn(ctx, e, c, text)
	default:
		slog.Warn("routing: unknown rule action", "rule", rule.ID, "action", rule.ActionType)
		return Silent()
	}
}

// phoneSuffix extracts the trailing digits used for contact matching.
func phoneSuffix(from string) string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, from)
	if len(digits) > 8 {
		return digits[len(digits)-8:]
	}
	return digits
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func ticketStatusText(t *db.ServiceTicket) string {
	msg := fmt.Sprintf("OS %s: %s — %s", shortID(t.ID), t.Summary, ticketStatusLabel(t.Status))
	if t.ScheduledFor != nil {
		msg += fmt.Sprintf(" (agendada para %s)", t.ScheduledFor.Format("02/01/2006"))
	}
	return msg
}

func ticketStatusLabel(status string) string {
	switch status {
	case db.TicketOpen:
		return "aberta"
	case db.TicketAssigned:
		return "aguardando aceite"
	case db.TicketAccepted:
		return "em atendimento"
	case db.TicketRejected:
		return "recusada"
	case db.TicketScheduled:
		return "agendada"
	case db.TicketDone:
		return "concluída"
	default:
		return status
	}
}

func (e *Engine) publish(event string, c *db.Contact, detail string) {
	if e.events == nil {
		return
	}
	e.events.Publish(event, map[string]any{
		"contact": c.ID,
		"role":    c.Role,
		"detail":  detail,
	})
}
