package database

import (
	"errors"
	"testing"
	"time"
)

func TestOpenRunsMigrations(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	for _, table := range []string{"users", "calendar_groups", "group_members", "events", "event_shares", "invitations", "notifications"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s: %v", table, err)
		}
	}

	var fk int
	if err := db.QueryRow(`PRAGMA foreign_keys`).Scan(&fk); err != nil {
		t.Fatalf("pragma: %v", err)
	}
	if fk != 1 {
		t.Errorf("foreign_keys = %d, want 1", fk)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	now := time.Now().UTC()
	insert := `INSERT INTO users (email, name, created_at, updated_at) VALUES (?, ?, ?, ?)`
	if _, err := db.Exec(insert, "ada@example.com", "Ada", now, now); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	_, err = db.Exec(insert, "ADA@example.com", "Ada again", now, now)
	if !IsUniqueViolation(err) {
		t.Errorf("IsUniqueViolation(%v) = false, want true", err)
	}

	if IsUniqueViolation(errors.New("something else")) {
		t.Error("IsUniqueViolation(plain error) = true")
	}
	if IsUniqueViolation(nil) {
		t.Error("IsUniqueViolation(nil) = true")
	}
}
