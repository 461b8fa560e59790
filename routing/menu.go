package routing

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/manutech/courier-server/db"
)

const (
	onboardingNotice   = "Seu número ainda não está cadastrado. Fale com a central para liberar o acesso."
	textOnlyNotice     = "No momento só consigo atender mensagens de texto. Como posso ajudar?"
	genericErrorNotice = "Não consegui processar agora. Tente novamente em instantes."

	commandHelp = "Comandos disponíveis:\n" +
		"#COMPRA <código> <qtde> — solicitar compra de peça\n" +
		"#ESTOQUE <código> — consultar estoque\n" +
		"#OS <número> — status da ordem de serviço\n" +
		"#AJUDA — esta mensagem"
)

// showMenu replies with the role-appropriate menu and seeds a menu
// conversation state so the next numeric reply resolves as a choice.
func (e *Engine) showMenu(c *db.Contact) Action {
	fc := FlowContext{Menu: &MenuContext{Role: c.Role}}
	if _, err := e.db.CreateConversationState(c.ID, FlowMenu, StateAwaitingMenuChoice, encodeContext(fc), nil); err != nil {
		slog.Error("routing: seed menu state failed", "contact", c.ID, "err", err)
	}
	return Reply(menuText(c))
}

func menuText(c *db.Contact) string {
	switch c.Role {
	case db.RoleTechnician:
		return fmt.Sprintf("Olá, %s! O que você precisa?\n", firstName(c.Name)) +
			"1 - Solicitar peça\n" +
			"2 - Status do meu chamado\n" +
			"3 - Agendar visita\n" +
			"Responda com o número da opção ou envie #AJUDA para os comandos."
	case db.RoleCustomer:
		return fmt.Sprintf("Olá, %s! O que você precisa?\n", firstName(c.Name)) +
			"1 - Status do meu chamado\n" +
			"2 - Agendar visita\n" +
			"3 - Avaliar atendimento\n" +
			"Responda com o número da opção."
	default:
		return fmt.Sprintf("Olá, %s! Envie #AJUDA para ver os comandos disponíveis.", firstName(c.Name))
	}
}

// handleMenuChoice resolves a numeric menu reply for the role captured
// when the menu was shown. Queries answer and end the dialog; options
// that need more input supersede the menu state with the target flow.
func (e *Engine) handleMenuChoice(ctx context.Context, c *db.Contact, s *db.ConversationState, text string) Action {
	choice, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return Reply("Opção inválida.\n" + menuText(c))
	}

	fc := decodeContext(s.Context)
	role := c.Role
	if fc.Menu != nil && fc.Menu.Role != "" {
		role = fc.Menu.Role
	}

	switch role {
	case db.RoleTechnician:
		switch choice {
		case 1:
			return e.startPartsFlow(c)
		case 2:
			return e.answerTicketStatus(c)
		case 3:
			return e.startScheduleFlow(c)
		}
	case db.RoleCustomer:
		switch choice {
		case 1:
			return e.answerTicketStatus(c)
		case 2:
			return e.startScheduleFlow(c)
		case 3:
			return e.startRatingFlow(c)
		}
	}
	return Reply("Opção inválida.\n" + menuText(c))
}

func (e *Engine) startPartsFlow(c *db.Contact) Action {
	fc := FlowContext{Parts: &PartsContext{}}
	if _, err := e.db.CreateConversationState(c.ID, FlowParts, StateAwaitingPartCode, encodeContext(fc), nil); err != nil {
		slog.Error("routing: start parts flow failed", "contact", c.ID, "err", err)
		return Reply(genericErrorNotice)
	}
	return Reply("Informe o código da peça (ex: PARAF01).")
}

func (e *Engine) startScheduleFlow(c *db.Contact) Action {
	t, err := e.svc.ActiveTicket(c.ID)
	if err != nil {
		slog.Error("routing: active ticket lookup failed", "contact", c.ID, "err", err)
		return Reply(genericErrorNotice)
	}
	if t == nil {
		e.db.DeleteConversationState(c.ID)
		return Reply("Você não tem chamado ativo para agendar.")
	}

	fc := FlowContext{Schedule: &ScheduleContext{TicketID: t.ID}}
	if _, err := e.db.CreateConversationState(c.ID, FlowSchedule, StateAwaitingScheduleDate, encodeContext(fc), &t.ID); err != nil {
		slog.Error("routing: start schedule flow failed", "contact", c.ID, "err", err)
		return Reply(genericErrorNotice)
	}
	return Reply("Qual data você prefere? Use o formato DD/MM/AAAA.")
}

func (e *Engine) startRatingFlow(c *db.Contact) Action {
	t, err := e.svc.ActiveTicket(c.ID)
	if err != nil {
		slog.Error("routing: active ticket lookup failed", "contact", c.ID, "err", err)
		return Reply(genericErrorNotice)
	}
	if t == nil {
		e.db.DeleteConversationState(c.ID)
		return Reply("Você não tem atendimento para avaliar.")
	}

	fc := FlowContext{Rating: &RatingContext{TicketID: t.ID}}
	if _, err := e.db.CreateConversationState(c.ID, FlowRating, StateAwaitingRating, encodeContext(fc), &t.ID); err != nil {
		slog.Error("routing: start rating flow failed", "contact", c.ID, "err", err)
		return Reply(genericErrorNotice)
	}
	return Reply("De 1 a 5, como foi o atendimento?")
}

// answerTicketStatus is a terminal menu option: it answers and clears
// the dialog.
func (e *Engine) answerTicketStatus(c *db.Contact) Action {
	e.db.DeleteConversationState(c.ID)

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

func firstName(name string) string {
	if i := strings.IndexByte(name, ' '); i > 0 {
		return name[:i]
	}
	return name
}
