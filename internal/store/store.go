package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dukerupert/morandi/internal/database"
)

// ErrDuplicate is returned when an insert or update hits a uniqueness
// constraint.
var ErrDuplicate = errors.New("duplicate")

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// Store groups the per-table stores over one connection or transaction.
type Store struct {
	db *sql.DB

	Users         *UserStore
	Groups        *GroupStore
	Members       *MemberStore
	Events        *EventStore
	Invitations   *InvitationStore
	Notifications *NotificationStore
}

func New(db *sql.DB) *Store {
	s := bind(db)
	s.db = db
	return s
}

func bind(q DBTX) *Store {
	return &Store{
		Users:         NewUserStore(q),
		Groups:        NewGroupStore(q),
		Members:       NewMemberStore(q),
		Events:        NewEventStore(q),
		Invitations:   NewInvitationStore(q),
		Notifications: NewNotificationStore(q),
	}
}

// InTx runs fn against stores bound to a single transaction. The
// transaction commits if fn returns nil and rolls back otherwise. Calling
// InTx on a Store that is already transactional runs fn in place.
func (s *Store) InTx(fn func(tx *Store) error) error {
	if s.db == nil {
		return fn(s)
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(bind(tx)); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func now() time.Time {
	return time.Now().UTC()
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// wrap converts uniqueness violations into ErrDuplicate and annotates
// everything else.
func wrap(op string, err error) error {
	if database.IsUniqueViolation(err) {
		return fmt.Errorf("%s: %w", op, ErrDuplicate)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}
