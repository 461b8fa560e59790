package db

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

const (
	TicketOpen      = "open"
	TicketAssigned  = "assigned"
	TicketAccepted  = "accepted"
	TicketRejected  = "rejected"
	TicketScheduled = "scheduled"
	TicketDone      = "done"
)

type ServiceTicket struct {
	ID           string     `json:"id"`
	ContactID    string     `json:"contactId"`
	Summary      string     `json:"summary"`
	Status       string     `json:"status"`
	ScheduledFor *time.Time `json:"scheduledFor,omitempty"`
	Rating       *int       `json:"rating,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

type PurchaseRequest struct {
	ID        string    `json:"id"`
	ContactID string    `json:"contactId"`
	ItemCode  string    `json:"itemCode"`
	Quantity  int       `json:"quantity"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// ActiveTicketForContact returns the contact's newest non-terminal ticket.
func (db *DB) ActiveTicketForContact(contactID string) (*ServiceTicket, error) {
	t := &ServiceTicket{}
	err := db.QueryRow(`
		SELECT id, contact_id, summary, status, scheduled_for, rating, created_at
		FROM service_tickets
		WHERE contact_id = ? AND status NOT IN (?, ?)
		ORDER BY created_at DESC LIMIT 1
	`, contactID, TicketDone, TicketRejected).Scan(
		&t.ID, &t.ContactID, &t.Summary, &t.Status, &t.ScheduledFor, &t.Rating, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (db *DB) GetTicket(id string) (*ServiceTicket, error) {
	t := &ServiceTicket{}
	err := db.QueryRow(`
		SELECT id, contact_id, summary, status, scheduled_for, rating, created_at
		FROM service_tickets WHERE id = ?
	`, id).Scan(&t.ID, &t.ContactID, &t.Summary, &t.Status, &t.ScheduledFor, &t.Rating, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (db *DB) InsertTicket(contactID, summary, status string) (*ServiceTicket, error) {
	t := &ServiceTicket{
		ID:        uuid.NewString(),
		ContactID: contactID,
		Summary:   summary,
		Status:    status,
		CreatedAt: time.Now().UTC(),
	}
	_, err := db.Exec(`
		INSERT INTO service_tickets (id, contact_id, summary, status, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, t.ID, t.ContactID, t.Summary, t.Status, t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (db *DB) SetTicketStatus(id, status string) error {
	_, err := db.Exec(`UPDATE service_tickets SET status = ? WHERE id = ?`, status, id)
	return err
}

func (db *DB) SetTicketSchedule(id string, when time.Time) error {
	_, err := db.Exec(`
		UPDATE service_tickets SET status = ?, scheduled_for = ? WHERE id = ?
	`, TicketScheduled, when.UTC(), id)
	return err
}

func (db *DB) SetTicketRating(id string, rating int) error {
	_, err := db.Exec(`UPDATE service_tickets SET rating = ? WHERE id = ?`, rating, id)
	return err
}

func (db *DB) InsertPurchaseRequest(contactID, itemCode string, quantity int) (*PurchaseRequest, error) {
	p := &PurchaseRequest{
		ID:        uuid.NewString(),
		ContactID: contactID,
		ItemCode:  itemCode,
		Quantity:  quantity,
		Status:    "requested",
		CreatedAt: time.Now().UTC(),
	}
	_, err := db.Exec(`
		INSERT INTO purchase_requests (id, contact_id, item_code, quantity, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, p.ID, p.ContactID, p.ItemCode, p.Quantity, p.Status, p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// StockLevel returns the on-hand quantity for an item code, or -1 when
// the item is unknown.
func (db *DB) StockLevel(itemCode string) (int, error) {
	var qty int
	err := db.QueryRow(`SELECT quantity FROM stock_items WHERE item_code = ?`, itemCode).Scan(&qty)
	if errors.Is(err, sql.ErrNoRows) {
		return -1, nil
	}
	if err != nil {
		return 0, err
	}
	return qty, nil
}
