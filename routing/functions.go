package routing

import (
	"context"
	"log/slog"

	"github.com/manutech/courier-server/db"
)

// SystemFunc is one named action an automation rule can invoke. The
// registry is closed and resolved at startup: an active rule naming a
// function not in the map fails configuration load, never a live turn.
type SystemFunc func(ctx context.Context, e *Engine, c *db.Contact, text string) Action

// BuiltinFunctions returns the registry of system functions rules may
// reference.
func BuiltinFunctions() map[string]SystemFunc {
	return map[string]SystemFunc{
		"ticket_status":  funcTicketStatus,
		"request_rating": funcRequestRating,
		"show_menu":      funcShowMenu,
	}
}

func funcTicketStatus(ctx context.Context, e *Engine, c *db.Contact, text string) Action {
	t, err := e.svc.ActiveTicket(c.ID)
	if err != nil {
		slog.Error("routing: active ticket lookup failed", "contact", c.ID, "err", err)
		return Reply(genericErrorNotice)
	}
	if t == nil {
		return Reply("Você não tem chamado ativo no momento.")
	}
	return Reply(ticketStatusText(t))
}

func funcRequestRating(ctx context.Context, e *Engine, c *db.Contact, text string) Action {
	t, err := e.svc.ActiveTicket(c.ID)
	if err != nil {
		slog.Error("routing: active ticket lookup failed", "contact", c.ID, "err", err)
		return Reply(genericErrorNotice)
	}
	if t == nil {
		return Reply("Você não tem atendimento para avaliar.")
	}
	if err := e.BeginRating(c.ID, t.ID); err != nil {
		slog.Error("routing: begin rating failed", "contact", c.ID, "err", err)
		return Reply(genericErrorNotice)
	}
	return Reply("De 1 a 5, como foi o atendimento?")
}

func funcShowMenu(ctx context.Context, e *Engine, c *db.Contact, text string) Action {
	return e.showMenu(c)
}
