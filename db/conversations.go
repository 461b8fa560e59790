package db

import (
	"database/sql"
	"errors"
	"time"
)

// StateTTL is how long a conversation state stays live without being
// touched. Older rows are treated as absent even if still stored.
const StateTTL = 24 * time.Hour

type ConversationState struct {
	ContactID      string    `json:"contactId"`
	Flow           string    `json:"flow"`
	CurrentState   string    `json:"currentState"`
	Context        string    `json:"context"` // JSON-serialized routing.FlowContext
	LinkedEntityID *string   `json:"linkedEntityId,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// GetConversationState returns the live state for a contact, or nil when
// none exists or the stored one has expired.
func (db *DB) GetConversationState(contactID string) (*ConversationState, error) {
	s := &ConversationState{}
	err := db.QueryRow(`
		SELECT contact_id, flow, current_state, context, linked_entity_id, updated_at
		FROM conversation_states WHERE contact_id = ?
	`, contactID).Scan(&s.ContactID, &s.Flow, &s.CurrentState, &s.Context, &s.LinkedEntityID, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if time.Since(s.UpdatedAt) > StateTTL {
		return nil, nil
	}
	return s, nil
}

// CreateConversationState starts a new dialog for a contact. Any prior
// state for the same contact is superseded: at most one live record per
// contact, enforced by delete-then-insert.
func (db *DB) CreateConversationState(contactID, flow, state, context string, linkedEntityID *string) (*ConversationState, error) {
	now := time.Now().UTC()
	if _, err := db.Exec(`DELETE FROM conversation_states WHERE contact_id = ?`, contactID); err != nil {
		return nil, err
	}
	_, err := db.Exec(`
		INSERT INTO conversation_states (contact_id, flow, current_state, context, linked_entity_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, contactID, flow, state, context, linkedEntityID, now)
	if err != nil {
		return nil, err
	}
	return &ConversationState{
		ContactID:      contactID,
		Flow:           flow,
		CurrentState:   state,
		Context:        context,
		LinkedEntityID: linkedEntityID,
		UpdatedAt:      now,
	}, nil
}

// AdvanceConversationState moves a dialog to its next state with a fresh
// context snapshot.
func (db *DB) AdvanceConversationState(contactID, newState, context string) error {
	_, err := db.Exec(`
		UPDATE conversation_states SET current_state = ?, context = ?, updated_at = ? WHERE contact_id = ?
	`, newState, context, time.Now().UTC(), contactID)
	return err
}

func (db *DB) DeleteConversationState(contactID string) error {
	_, err := db.Exec(`DELETE FROM conversation_states WHERE contact_id = ?`, contactID)
	return err
}
