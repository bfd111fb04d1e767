package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/morandi/internal/model"
)

type InvitationStore struct {
	db DBTX
}

func NewInvitationStore(db DBTX) *InvitationStore {
	return &InvitationStore{db: db}
}

func scanInvitation(scanner interface{ Scan(...any) error }) (*model.Invitation, error) {
	var inv model.Invitation
	err := scanner.Scan(
		&inv.ID, &inv.GroupID, &inv.InviterID, &inv.InviteeID, &inv.Email, &inv.Type,
		&inv.Status, &inv.Role, &inv.Message, &inv.ExpiresAt, &inv.RespondedAt,
		&inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

const invitationCols = `id, group_id, inviter_id, invitee_id, email, type, status, role, message,
	expires_at, responded_at, created_at, updated_at`

// Create stores the invitation. tokenHash may be nil for invitations that
// cannot be accepted by link.
func (s *InvitationStore) Create(inv *model.Invitation, tokenHash *string) (*model.Invitation, error) {
	ts := now()
	result, err := s.db.Exec(
		`INSERT INTO invitations (group_id, inviter_id, invitee_id, email, type, status, role, message,
			token_hash, expires_at, responded_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.GroupID, inv.InviterID, inv.InviteeID, inv.Email, inv.Type, inv.Status, inv.Role, inv.Message,
		tokenHash, inv.ExpiresAt.UTC(), utcPtr(inv.RespondedAt), ts, ts,
	)
	if err != nil {
		return nil, wrap("insert invitation", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *InvitationStore) GetByID(id int64) (*model.Invitation, error) {
	return s.get(`SELECT `+invitationCols+` FROM invitations WHERE id = ?`, id)
}

func (s *InvitationStore) GetByTokenHash(hash string) (*model.Invitation, error) {
	return s.get(`SELECT `+invitationCols+` FROM invitations WHERE token_hash = ?`, hash)
}

// FindPending returns a pending invitation to groupID addressed to the user
// or email, if any.
func (s *InvitationStore) FindPending(groupID int64, userID *int64, email string) (*model.Invitation, error) {
	return s.get(
		`SELECT `+invitationCols+` FROM invitations
		WHERE group_id = ? AND status = 'pending' AND (invitee_id = ? OR (email != '' AND email = ?))
		ORDER BY id LIMIT 1`,
		groupID, userID, email,
	)
}

func (s *InvitationStore) get(query string, args ...any) (*model.Invitation, error) {
	inv, err := scanInvitation(s.db.QueryRow(query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get invitation: %w", err)
	}
	return inv, nil
}

func (s *InvitationStore) list(query string, args ...any) ([]model.Invitation, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list invitations: %w", err)
	}
	defer rows.Close()

	var out []model.Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invitation: %w", err)
		}
		out = append(out, *inv)
	}
	return out, rows.Err()
}

// ListForGroup returns the group's invitations, newest first. An empty
// status returns all of them.
func (s *InvitationStore) ListForGroup(groupID int64, status model.InvitationStatus) ([]model.Invitation, error) {
	query := `SELECT ` + invitationCols + ` FROM invitations WHERE group_id = ?`
	args := []any{groupID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	return s.list(query+` ORDER BY created_at DESC, id DESC`, args...)
}

// ListPendingFor returns pending invitations addressed to the user by id or
// by email.
func (s *InvitationStore) ListPendingFor(userID int64, email string) ([]model.Invitation, error) {
	return s.list(
		`SELECT `+invitationCols+` FROM invitations
		WHERE status = 'pending' AND (invitee_id = ? OR (email != '' AND email = ?))
		ORDER BY created_at DESC, id DESC`,
		userID, email,
	)
}

// Respond moves a pending invitation to a terminal status. It reports false
// if the invitation was no longer pending.
func (s *InvitationStore) Respond(id int64, status model.InvitationStatus, at time.Time) (bool, error) {
	res, err := s.db.Exec(
		`UPDATE invitations SET status = ?, responded_at = ?, updated_at = ? WHERE id = ? AND status = 'pending'`,
		status, at.UTC(), now(), id,
	)
	if err != nil {
		return false, fmt.Errorf("respond to invitation: %w", err)
	}
	return affected(res)
}

// SetInvitee records the resolved account on an email invitation.
func (s *InvitationStore) SetInvitee(id, userID int64) error {
	_, err := s.db.Exec(
		`UPDATE invitations SET invitee_id = ?, updated_at = ? WHERE id = ? AND invitee_id IS NULL`,
		userID, now(), id,
	)
	if err != nil {
		return fmt.Errorf("set invitee: %w", err)
	}
	return nil
}

// Renew pushes the expiry of a pending invitation forward and swaps its
// token digest. It reports false if the invitation was not pending.
func (s *InvitationStore) Renew(id int64, expiresAt time.Time, tokenHash string) (bool, error) {
	res, err := s.db.Exec(
		`UPDATE invitations SET expires_at = ?, token_hash = ?, updated_at = ? WHERE id = ? AND status = 'pending'`,
		expiresAt.UTC(), tokenHash, now(), id,
	)
	if err != nil {
		return false, wrap("renew invitation", err)
	}
	return affected(res)
}

// Expire persists the expired status of one invitation if it is pending
// and past its deadline.
func (s *InvitationStore) Expire(id int64, at time.Time) (bool, error) {
	res, err := s.db.Exec(
		`UPDATE invitations SET status = 'expired', updated_at = ? WHERE id = ? AND status = 'pending' AND expires_at < ?`,
		now(), id, at.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("expire invitation: %w", err)
	}
	return affected(res)
}

// ExpireAll persists the expired status of every overdue pending invitation.
func (s *InvitationStore) ExpireAll(at time.Time) (int64, error) {
	res, err := s.db.Exec(
		`UPDATE invitations SET status = 'expired', updated_at = ? WHERE status = 'pending' AND expires_at < ?`,
		now(), at.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("expire invitations: %w", err)
	}
	return res.RowsAffected()
}

// CancelAllForGroup cancels the group's pending invitations.
func (s *InvitationStore) CancelAllForGroup(groupID int64, at time.Time) error {
	_, err := s.db.Exec(
		`UPDATE invitations SET status = 'cancelled', responded_at = ?, updated_at = ? WHERE group_id = ? AND status = 'pending'`,
		at.UTC(), now(), groupID,
	)
	if err != nil {
		return fmt.Errorf("cancel group invitations: %w", err)
	}
	return nil
}
