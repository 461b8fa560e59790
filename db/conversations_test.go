package db

import (
	"testing"
	"time"
)

func TestConversationStateSupersede(t *testing.T) {
	database := openTestDB(t)

	if _, err := database.CreateConversationState("c1", "menu", "awaiting_menu_choice", "{}", nil); err != nil {
		t.Fatalf("create first state: %v", err)
	}
	ticket := "t1"
	if _, err := database.CreateConversationState("c1", "rating", "awaiting_rating", "{}", &ticket); err != nil {
		t.Fatalf("create second state: %v", err)
	}

	// At most one live record per contact.
	var count int
	if err := database.QueryRow(`SELECT COUNT(*) FROM conversation_states WHERE contact_id = 'c1'`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("state rows = %d, want 1", count)
	}

	s, err := database.GetConversationState("c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if s == nil || s.Flow != "rating" || s.CurrentState != "awaiting_rating" {
		t.Fatalf("state = %+v, want the superseding rating flow", s)
	}
	if s.LinkedEntityID == nil || *s.LinkedEntityID != "t1" {
		t.Fatalf("linked entity = %v, want t1", s.LinkedEntityID)
	}
}

func TestConversationStateExpiry(t *testing.T) {
	database := openTestDB(t)

	if _, err := database.CreateConversationState("c2", "parts", "awaiting_part_code", "{}", nil); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Age the row past the TTL; it stays stored but reads as absent.
	stale := time.Now().UTC().Add(-25 * time.Hour)
	if _, err := database.Exec(`UPDATE conversation_states SET updated_at = ? WHERE contact_id = 'c2'`, stale); err != nil {
		t.Fatalf("age row: %v", err)
	}

	s, err := database.GetConversationState("c2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if s != nil {
		t.Fatalf("expired state = %+v, want nil", s)
	}

	var count int
	database.QueryRow(`SELECT COUNT(*) FROM conversation_states WHERE contact_id = 'c2'`).Scan(&count)
	if count != 1 {
		t.Fatalf("expired row physically deleted, want it retained")
	}
}

func TestConversationStateAdvanceAndDelete(t *testing.T) {
	database := openTestDB(t)

	if _, err := database.CreateConversationState("c3", "parts", "awaiting_part_code", "{}", nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := database.AdvanceConversationState("c3", "awaiting_quantity", `{"parts":{"itemCode":"PARAF01"}}`); err != nil {
		t.Fatalf("advance: %v", err)
	}

	s, _ := database.GetConversationState("c3")
	if s == nil || s.CurrentState != "awaiting_quantity" {
		t.Fatalf("state = %+v, want awaiting_quantity", s)
	}
	if s.Context != `{"parts":{"itemCode":"PARAF01"}}` {
		t.Fatalf("context = %q not updated", s.Context)
	}

	if err := database.DeleteConversationState("c3"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if s, _ := database.GetConversationState("c3"); s != nil {
		t.Fatalf("state after delete = %+v, want nil", s)
	}
}
