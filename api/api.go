// Package api is the operator-facing HTTP surface: the web UI, CRUD
// screens and periodic jobs live elsewhere and call in here to enqueue
// outbound messages, manage contacts and rules, and kick off the
// acceptance dialog when a ticket is assigned.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/manutech/courier-server/db"
	"github.com/manutech/courier-server/dispatch"
	"github.com/manutech/courier-server/routing"
)

type Router struct {
	DB         *db.DB
	Dispatcher *dispatch.Dispatcher
	Engine     *routing.Engine
}

func NewRouter(database *db.DB, d *dispatch.Dispatcher, engine *routing.Engine) *Router {
	return &Router{DB: database, Dispatcher: d, Engine: engine}
}

func (r *Router) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/messages", r.handleSendMessage)
	mux.HandleFunc("GET /api/messages/{id}", r.handleGetMessage)
	mux.HandleFunc("POST /api/contacts", r.handleCreateContact)
	mux.HandleFunc("POST /api/rules", r.handleCreateRule)
	mux.HandleFunc("POST /api/tickets", r.handleCreateTicket)
	mux.HandleFunc("POST /api/tickets/{id}/assign", r.handleAssignTicket)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		slog.Debug("api: bad request body", "err", err)
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}
