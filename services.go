package main

import (
	"time"

	"github.com/manutech/courier-server/db"
)

// services is the sqlite-backed implementation of routing.Services. The
// routing engine only ever sees this narrow surface, never the tables.
type services struct {
	db *db.DB
}

func newServices(database *db.DB) *services {
	return &services{db: database}
}

func (s *services) ActiveTicket(contactID string) (*db.ServiceTicket, error) {
	return s.db.ActiveTicketForContact(contactID)
}

func (s *services) TicketByID(id string) (*db.ServiceTicket, error) {
	return s.db.GetTicket(id)
}

func (s *services) AcceptTicket(ticketID string) error {
	return s.db.SetTicketStatus(ticketID, db.TicketAccepted)
}

func (s *services) RejectTicket(ticketID string) error {
	return s.db.SetTicketStatus(ticketID, db.TicketRejected)
}

func (s *services) ScheduleTicket(ticketID string, when time.Time) error {
	return s.db.SetTicketSchedule(ticketID, when)
}

func (s *services) RateTicket(ticketID string, rating int) error {
	return s.db.SetTicketRating(ticketID, rating)
}

func (s *services) CreatePurchaseRequest(contactID, itemCode string, quantity int) (*db.PurchaseRequest, error) {
	return s.db.InsertPurchaseRequest(contactID, itemCode, quantity)
}

func (s *services) StockLevel(itemCode string) (int, error) {
	return s.db.StockLevel(itemCode)
}
