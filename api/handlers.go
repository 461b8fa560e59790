package api

import (
	"fmt"
	"net/http"

	"github.com/manutech/courier-server/db"
	"github.com/manutech/courier-server/dispatch"
)

func parsePriority(s string) (db.Priority, error) {
	switch s {
	case "", "normal":
		return db.PriorityNormal, nil
	case "high":
		return db.PriorityHigh, nil
	case "urgent":
		return db.PriorityUrgent, nil
	default:
		return 0, fmt.Errorf("unknown priority %q", s)
	}
}

func (rt *Router) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Recipient string `json:"recipient"`
		Body      string `json:"body"`
		Priority  string `json:"priority"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Recipient == "" || req.Body == "" {
		writeError(w, http.StatusBadRequest, "recipient and body are required")
		return
	}
	priority, err := parsePriority(req.Priority)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	m, out, err := rt.Dispatcher.Enqueue(r.Context(), req.Recipient, req.Body, priority)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	status := http.StatusAccepted
	if out.Code == dispatch.CodeInvalidRecipient {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, map[string]any{
		"id":     m.ID,
		"code":   string(out.Code),
		"detail": out.Detail,
	})
}

func (rt *Router) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	m, err := rt.DB.GetMessage(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if m == nil {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (rt *Router) handleCreateContact(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name  string `json:"name"`
		Phone string `json:"phone"`
		Role  string `json:"role"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Name == "" || req.Phone == "" {
		writeError(w, http.StatusBadRequest, "name and phone are required")
		return
	}
	switch req.Role {
	case db.RoleTechnician, db.RoleCustomer, db.RoleSupplier:
	default:
		writeError(w, http.StatusBadRequest, "role must be technician, customer or supplier")
		return
	}

	c, err := rt.DB.InsertContact(req.Name, req.Phone, req.Role)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (rt *Router) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Keyword        string  `json:"keyword"`
		MatchType      string  `json:"matchType"`
		ActionType     string  `json:"actionType"`
		ReplyText      string  `json:"replyText"`
		TargetProfile  *string `json:"targetProfile"`
		SystemFunction *string `json:"systemFunction"`
		Priority       int     `json:"priority"`
		Active         *bool   `json:"active"`
	}
	if !decode(w, r, &req) {
		return
	}
	// A new rule is live unless the operator says otherwise; a zero-value
	// default would create rules that silently never match.
	rule := db.AutomationRule{
		Keyword:        req.Keyword,
		MatchType:      req.MatchType,
		ActionType:     req.ActionType,
		ReplyText:      req.ReplyText,
		TargetProfile:  req.TargetProfile,
		SystemFunction: req.SystemFunction,
		Priority:       req.Priority,
		Active:         req.Active == nil || *req.Active,
	}
	switch rule.MatchType {
	case db.MatchExact, db.MatchContains, db.MatchRegex:
	default:
		writeError(w, http.StatusBadRequest, "matchType must be exact, contains or regex")
		return
	}
	switch rule.ActionType {
	case db.RuleActionReply, db.RuleActionForward:
	case db.RuleActionFunction:
		// Unknown function names fail here, not at message time.
		if rule.SystemFunction == nil || !rt.Engine.HasFunction(*rule.SystemFunction) {
			writeError(w, http.StatusBadRequest, "unknown system function")
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "actionType must be reply, forward or function")
		return
	}

	id, err := rt.DB.InsertRule(rule)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	rule.ID = id
	writeJSON(w, http.StatusCreated, rule)
}

func (rt *Router) handleCreateTicket(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ContactID string `json:"contactId"`
		Summary   string `json:"summary"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.ContactID == "" || req.Summary == "" {
		writeError(w, http.StatusBadRequest, "contactId and summary are required")
		return
	}

	t, err := rt.DB.InsertTicket(req.ContactID, req.Summary, db.TicketOpen)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// handleAssignTicket assigns a ticket to a technician, seeds the
// acceptance dialog and sends the acceptance prompt at high priority.
func (rt *Router) handleAssignTicket(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ContactID string `json:"contactId"`
	}
	if !decode(w, r, &req) {
		return
	}

	ticketID := r.PathValue("id")
	t, err := rt.DB.GetTicket(ticketID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if t == nil {
		writeError(w, http.StatusNotFound, "ticket not found")
		return
	}

	contact, err := rt.DB.GetContact(req.ContactID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if contact == nil {
		writeError(w, http.StatusNotFound, "contact not found")
		return
	}

	if err := rt.DB.SetTicketStatus(ticketID, db.TicketAssigned); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := rt.Engine.BeginAcceptance(contact.ID, ticketID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	prompt := fmt.Sprintf("Novo chamado para você: %s. Responda SIM para aceitar ou NAO para recusar.", t.Summary)
	_, out, err := rt.Dispatcher.Enqueue(r.Context(), contact.Phone, prompt, db.PriorityHigh)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"ticketId": ticketID,
		"code":     string(out.Code),
	})
}
