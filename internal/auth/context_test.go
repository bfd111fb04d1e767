package auth

import (
	"context"
	"testing"
)

func TestWithAuthAndFromContext(t *testing.T) {
	ac := AuthContext{UserID: 1, Email: "ada@example.com"}

	ctx := WithAuth(context.Background(), ac)
	got, ok := FromContext(ctx)
	if !ok {
		t.Fatal("expected AuthContext in context")
	}
	if got.UserID != 1 {
		t.Errorf("UserID = %d, want 1", got.UserID)
	}
	if got.Email != "ada@example.com" {
		t.Errorf("Email = %q, want %q", got.Email, "ada@example.com")
	}
}

func TestFromContextMissing(t *testing.T) {
	_, ok := FromContext(context.Background())
	if ok {
		t.Error("expected false for missing AuthContext")
	}
}

func TestUserIDHelper(t *testing.T) {
	ctx := WithAuth(context.Background(), AuthContext{UserID: 42})
	if got := UserID(ctx); got != 42 {
		t.Errorf("UserID = %d, want 42", got)
	}
	if got := UserID(context.Background()); got != 0 {
		t.Errorf("UserID (empty) = %d, want 0", got)
	}
}
