package db

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func TestOutboxLifecycle(t *testing.T) {
	database := openTestDB(t)

	m, err := database.CreateMessage("5511988887777", "olá", PriorityNormal)
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if m.Status != StatusPending || m.Attempts != 0 {
		t.Fatalf("new message = %q/%d, want pending/0", m.Status, m.Attempts)
	}

	// Created messages are immediately due.
	due, err := database.DueMessages(time.Now().Add(time.Second), 10)
	if err != nil {
		t.Fatalf("DueMessages: %v", err)
	}
	if len(due) != 1 || due[0].ID != m.ID {
		t.Fatalf("due = %d messages, want the created one", len(due))
	}

	if err := database.RecordAttempt(m.ID, 1, `{"error":"timeout"}`); err != nil {
		t.Fatalf("RecordAttempt: %v", err)
	}
	if err := database.MarkSent(m.ID); err != nil {
		t.Fatalf("MarkSent: %v", err)
	}

	got, err := database.GetMessage(m.ID)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if got.Status != StatusSent || got.SentAt == nil || got.NextAttemptAt != nil {
		t.Fatalf("sent message = %+v, want sent with sentAt set and no next attempt", got)
	}
	if got.Attempts != 1 || got.LastResponse != `{"error":"timeout"}` {
		t.Fatalf("audit fields = %d/%q not persisted", got.Attempts, got.LastResponse)
	}

	// Terminal rows never come back as due.
	due, _ = database.DueMessages(time.Now().Add(time.Minute), 10)
	if len(due) != 0 {
		t.Fatalf("due = %d after terminal, want 0", len(due))
	}
}

func TestDueMessagesOrderAndSchedule(t *testing.T) {
	database := openTestDB(t)

	normal, _ := database.CreateMessage("5511900000001", "a", PriorityNormal)
	urgent, _ := database.CreateMessage("5511900000002", "b", PriorityUrgent)
	later, _ := database.CreateMessage("5511900000003", "c", PriorityHigh)

	// A rescheduled message stays pending but is not due yet.
	if err := database.Reschedule(later.ID, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Reschedule: %v", err)
	}

	due, err := database.DueMessages(time.Now().Add(time.Second), 10)
	if err != nil {
		t.Fatalf("DueMessages: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("due = %d, want 2", len(due))
	}
	if due[0].ID != urgent.ID || due[1].ID != normal.ID {
		t.Fatalf("due order = [%s %s], want urgent first", due[0].ID, due[1].ID)
	}

	// Once its time passes, the rescheduled one shows up too.
	due, _ = database.DueMessages(time.Now().Add(2*time.Hour), 10)
	if len(due) != 3 {
		t.Fatalf("due = %d after schedule passes, want 3", len(due))
	}
}

func TestMarkFailedIsTerminal(t *testing.T) {
	database := openTestDB(t)

	m, _ := database.CreateMessage("5511900000009", "x", PriorityNormal)
	if err := database.MarkFailed(m.ID); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	got, _ := database.GetMessage(m.ID)
	if got.Status != StatusFailed || got.NextAttemptAt != nil {
		t.Fatalf("failed message = %q nextAttempt=%v, want failed with no next attempt", got.Status, got.NextAttemptAt)
	}
}
