package db

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

type Priority int

const (
	PriorityNormal Priority = iota
	PriorityHigh
	PriorityUrgent
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	default:
		return "normal"
	}
}

const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

type OutboundMessage struct {
	ID            string     `json:"id"`
	Recipient     string     `json:"recipient"`
	Body          string     `json:"body"`
	Priority      Priority   `json:"priority"`
	Attempts      int        `json:"attempts"`
	Status        string     `json:"status"`
	LastResponse  string     `json:"lastResponse,omitempty"`
	NextAttemptAt *time.Time `json:"nextAttemptAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	SentAt        *time.Time `json:"sentAt,omitempty"`
}

func (db *DB) CreateMessage(recipient, body string, priority Priority) (*OutboundMessage, error) {
	now := time.Now().UTC()
	m := &OutboundMessage{
		ID:            uuid.NewString(),
		Recipient:     recipient,
		Body:          body,
		Priority:      priority,
		Status:        StatusPending,
		NextAttemptAt: &now,
		CreatedAt:     now,
	}
	_, err := db.Exec(`
		INSERT INTO outbound_messages (id, recipient, body, priority, attempts, status, next_attempt_at, created_at)
		VALUES (?, ?, ?, ?, 0, ?, ?, ?)
	`, m.ID, m.Recipient, m.Body, int(m.Priority), m.Status, now, now)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (db *DB) GetMessage(id string) (*OutboundMessage, error) {
	m := &OutboundMessage{}
	var prio int
	err := db.QueryRow(`
		SELECT id, recipient, body, priority, attempts, status, last_response, next_attempt_at, created_at, sent_at
		FROM outbound_messages WHERE id = ?
	`, id).Scan(&m.ID, &m.Recipient, &m.Body, &prio, &m.Attempts, &m.Status, &m.LastResponse, &m.NextAttemptAt, &m.CreatedAt, &m.SentAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m.Priority = Priority(prio)
	return m, nil
}

// DueMessages returns pending messages whose next attempt time has passed,
// highest priority first, oldest first within a priority.
func (db *DB) DueMessages(now time.Time, limit int) ([]OutboundMessage, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, recipient, body, priority, attempts, status, last_response, next_attempt_at, created_at, sent_at
		FROM outbound_messages
		WHERE status = ? AND next_attempt_at IS NOT NULL AND next_attempt_at <= ?
		ORDER BY priority DESC, created_at ASC LIMIT ?
	`, StatusPending, now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []OutboundMessage
	for rows.Next() {
		var m OutboundMessage
		var prio int
		if err := rows.Scan(&m.ID, &m.Recipient, &m.Body, &prio, &m.Attempts, &m.Status, &m.LastResponse, &m.NextAttemptAt, &m.CreatedAt, &m.SentAt); err != nil {
			continue
		}
		m.Priority = Priority(prio)
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// ClaimMessage takes exclusive hold of a due pending row by pushing its
// next attempt time into the future. The guard condition makes the
// claim atomic: a row already sent, failed, or claimed by another
// worker reports false and must not be dispatched again.
func (db *DB) ClaimMessage(id string, now, until time.Time) (bool, error) {
	res, err := db.Exec(`
		UPDATE outbound_messages SET next_attempt_at = ?
		WHERE id = ? AND status = ? AND next_attempt_at IS NOT NULL AND next_attempt_at <= ?
	`, until.UTC(), id, StatusPending, now.UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RecordAttempt persists the attempt count and the raw gateway response
// for audit, regardless of outcome.
func (db *DB) RecordAttempt(id string, attempts int, lastResponse string) error {
	_, err := db.Exec(`
		UPDATE outbound_messages SET attempts = ?, last_response = ? WHERE id = ?
	`, attempts, lastResponse, id)
	return err
}

func (db *DB) MarkSent(id string) error {
	now := time.Now().UTC()
	_, err := db.Exec(`
		UPDATE outbound_messages SET status = ?, sent_at = ?, next_attempt_at = NULL WHERE id = ?
	`, StatusSent, now, id)
	return err
}

func (db *DB) MarkFailed(id string) error {
	_, err := db.Exec(`
		UPDATE outbound_messages SET status = ?, next_attempt_at = NULL WHERE id = ?
	`, StatusFailed, id)
	return err
}

// Reschedule keeps the message pending and stamps when the scheduler may
// pick it up again.
func (db *DB) Reschedule(id string, at time.Time) error {
	_, err := db.Exec(`
		UPDATE outbound_messages SET status = ?, next_attempt_at = ? WHERE id = ?
	`, StatusPending, at.UTC(), id)
	return err
}
