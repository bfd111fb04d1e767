package store

import (
	"errors"
	"testing"
)

func TestUserCreateAndLookup(t *testing.T) {
	s := setupTestStore(t)

	u, err := s.Users.Create("Ada@Example.com", "Ada")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if u.ID == 0 {
		t.Error("expected non-zero ID")
	}

	got, err := s.Users.GetByEmail("ada@example.com")
	if err != nil {
		t.Fatalf("get by email: %v", err)
	}
	if got == nil || got.ID != u.ID {
		t.Errorf("GetByEmail = %+v, want id %d", got, u.ID)
	}
}

func TestUserDuplicateEmail(t *testing.T) {
	s := setupTestStore(t)
	mustUser(t, s, "dup@example.com")

	_, err := s.Users.Create("DUP@example.com", "again")
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("err = %v, want ErrDuplicate", err)
	}
}

func TestUserGetByIDNotFound(t *testing.T) {
	s := setupTestStore(t)

	u, err := s.Users.GetByID(999)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if u != nil {
		t.Errorf("expected nil, got %+v", u)
	}
}

func TestUserUpdate(t *testing.T) {
	s := setupTestStore(t)
	u := mustUser(t, s, "old@example.com")

	updated, err := s.Users.Update(u.ID, "new@example.com", "New")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Email != "new@example.com" || updated.Name != "New" {
		t.Errorf("updated = %+v", updated)
	}
}
