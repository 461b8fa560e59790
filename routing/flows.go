package routing

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/manutech/courier-server/db"
)

// State handlers validate the reply against the shape that state expects,
// perform the business side effect, and either delete the state (flow
// complete) or advance it. Invalid input re-prompts without mutating
// state.

var (
	yesWords = map[string]bool{"SIM": true, "S": true, "ACEITO": true, "1": true}
	noWords  = map[string]bool{"NAO": true, "NÃO": true, "N": true, "RECUSO": true, "2": true}

	partCodePattern = regexp.MustCompile(`^[A-Z0-9]{3,12}$`)
	datePattern     = regexp.MustCompile(`^([0-3][0-9])/([01][0-9])/(20[0-9]{2})$`)
)

func (e *Engine) handleAcceptance(ctx context.Context, c *db.Contact, s *db.ConversationState, text string) Action {
	fc := decodeContext(s.Context)
	ticketID := ""
	if fc.Acceptance != nil {
		ticketID = fc.Acceptance.TicketID
	}
	if ticketID == "" && s.LinkedEntityID != nil {
		ticketID = *s.LinkedEntityID
	}
	if ticketID == "" {
		e.db.DeleteConversationState(c.ID)
		return Reply(genericErrorNotice)
	}

	answer := strings.ToUpper(strings.TrimSpace(text))
	switch {
	case yesWords[answer]:
		if err := e.svc.AcceptTicket(ticketID); err != nil {
			slog.Error("routing: accept ticket failed", "ticket", ticketID, "err", err)
			return Reply(genericErrorNotice)
		}
		e.db.DeleteConversationState(c.ID)
		return Reply("Chamado aceito. Bom atendimento!")
	case noWords[answer]:
		if err := e.svc.RejectTicket(ticketID); err != nil {
			slog.Error("routing: reject ticket failed", "ticket", ticketID, "err", err)
			return Reply(genericErrorNotice)
		}
		e.db.DeleteConversationState(c.ID)
		return Reply("Chamado recusado. A central será avisada.")
	default:
		return Reply("Responda SIM para aceitar ou NAO para recusar o chamado.")
	}
}

func (e *Engine) handlePartCode(ctx context.Context, c *db.Contact, s *db.ConversationState, text string) Action {
	code := strings.ToUpper(strings.TrimSpace(text))
	if !partCodePattern.MatchString(code) {
		return Reply("Código inválido. Informe o código da peça (ex: PARAF01).")
	}

	fc := FlowContext{Parts: &PartsContext{ItemCode: code}}
	if err := e.db.AdvanceConversationState(c.ID, StateAwaitingQuantity, encodeContext(fc)); err != nil {
		slog.Error("routing: advance parts flow failed", "contact", c.ID, "err", err)
		return Reply(genericErrorNotice)
	}
	return Reply(fmt.Sprintf("Peça %s. Qual a quantidade?", code))
}

func (e *Engine) handleQuantity(ctx context.Context, c *db.Contact, s *db.ConversationState, text string) Action {
	qty, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || qty < 1 || qty > 9999 {
		return Reply("Quantidade inválida. Informe um número de 1 a 9999.")
	}

	fc := decodeContext(s.Context)
	if fc.Parts == nil || fc.Parts.ItemCode == "" {
		e.db.DeleteConversationState(c.ID)
		return Reply(genericErrorNotice)
	}

	pr, err := e.svc.CreatePurchaseRequest(c.ID, fc.Parts.ItemCode, qty)
	if err != nil {
		slog.Error("routing: purchase request failed", "contact", c.ID, "item", fc.Parts.ItemCode, "err", err)
		return Reply(genericErrorNotice)
	}
	e.db.DeleteConversationState(c.ID)
	return Reply(fmt.Sprintf("Solicitação registrada: %d x %s (pedido %s).", pr.Quantity, pr.ItemCode, shortID(pr.ID)))
}

func (e *Engine) handleRating(ctx context.Context, c *db.Contact, s *db.ConversationState, text string) Action {
	rating, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || rating < 1 || rating > 5 {
		return Reply("Avalie de 1 a 5, sendo 5 excelente.")
	}

	fc := decodeContext(s.Context)
	ticketID := ""
	if fc.Rating != nil {
		ticketID = fc.Rating.TicketID
	}
	if ticketID == "" && s.LinkedEntityID != nil {
		ticketID = *s.LinkedEntityID
	}
	if ticketID == "" {
		e.db.DeleteConversationState(c.ID)
		return Reply(genericErrorNotice)
	}

	if err := e.svc.RateTicket(ticketID, rating); err != nil {
		slog.Error("routing: rate ticket failed", "ticket", ticketID, "err", err)
		return Reply(genericErrorNotice)
	}
	e.db.DeleteConversationState(c.ID)
	return Reply("Obrigado pela avaliação!")
}

func (e *Engine) handleScheduleDate(ctx context.Context, c *db.Contact, s *db.ConversationState, text string) Action {
	raw := strings.TrimSpace(text)
	if !datePattern.MatchString(raw) {
		return Reply("Data inválida. Use o formato DD/MM/AAAA.")
	}
	// Date math stays in the clock's own zone: truncating the absolute
	// time would build midnight in UTC and misread late-evening local
	// replies as a day ahead.
	nowT := e.now()
	when, err := time.ParseInLocation("02/01/2006", raw, nowT.Location())
	if err != nil {
		return Reply("Data inválida. Use o formato DD/MM/AAAA.")
	}
	y, m, d := nowT.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, nowT.Location())
	if when.Before(today) {
		return Reply("A data precisa ser a partir de hoje. Informe outra data.")
	}

	fc := decodeContext(s.Context)
	ticketID := ""
	if fc.Schedule != nil {
		ticketID = fc.Schedule.TicketID
	}
	if ticketID == "" && s.LinkedEntityID != nil {
		ticketID = *s.LinkedEntityID
	}
	if ticketID == "" {
		e.db.DeleteConversationState(c.ID)
		return Reply(genericErrorNotice)
	}

	if err := e.svc.ScheduleTicket(ticketID, when); err != nil {
		slog.Error("routing: schedule ticket failed", "ticket", ticketID, "err", err)
		return Reply(genericErrorNotice)
	}
	e.db.DeleteConversationState(c.ID)
	return Reply(fmt.Sprintf("Visita agendada para %s.", when.Format("02/01/2006")))
}
