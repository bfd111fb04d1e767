package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dukerupert/morandi/internal/model"
)

type MemberStore struct {
	db DBTX
}

func NewMemberStore(db DBTX) *MemberStore {
	return &MemberStore{db: db}
}

func scanMember(scanner interface{ Scan(...any) error }) (*model.GroupMember, error) {
	var m model.GroupMember
	var overrides string
	err := scanner.Scan(
		&m.ID, &m.GroupID, &m.UserID, &m.Role, &m.Status, &m.JoinedAt, &m.InvitedBy,
		&overrides, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if overrides != "" && overrides != "{}" {
		if err := json.Unmarshal([]byte(overrides), &m.Overrides); err != nil {
			return nil, fmt.Errorf("decode permissions: %w", err)
		}
	}
	return &m, nil
}

const memberCols = `id, group_id, user_id, role, status, joined_at, invited_by, permissions, created_at, updated_at`

// Add inserts a membership. A second row for the same (group, user) pair
// yields ErrDuplicate.
func (s *MemberStore) Add(m *model.GroupMember) (*model.GroupMember, error) {
	ts := now()
	result, err := s.db.Exec(
		`INSERT INTO group_members (group_id, user_id, role, status, joined_at, invited_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.GroupID, m.UserID, m.Role, m.Status, utcPtr(m.JoinedAt), m.InvitedBy, ts, ts,
	)
	if err != nil {
		return nil, wrap("add member", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	row := s.db.QueryRow(`SELECT `+memberCols+` FROM group_members WHERE id = ?`, id)
	return scanMember(row)
}

func (s *MemberStore) Get(groupID, userID int64) (*model.GroupMember, error) {
	row := s.db.QueryRow(
		`SELECT `+memberCols+` FROM group_members WHERE group_id = ? AND user_id = ?`,
		groupID, userID,
	)
	m, err := scanMember(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get member: %w", err)
	}
	return m, nil
}

// List returns the group's memberships; an empty status returns all of them.
func (s *MemberStore) List(groupID int64, status model.MemberStatus) ([]model.GroupMember, error) {
	query := `SELECT ` + memberCols + ` FROM group_members WHERE group_id = ?`
	args := []any{groupID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY id`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var members []model.GroupMember
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, *m)
	}
	return members, rows.Err()
}

// ActiveUserIDs returns the users with an active membership in groupID.
func (s *MemberStore) ActiveUserIDs(groupID int64) ([]int64, error) {
	return s.ids(
		`SELECT user_id FROM group_members WHERE group_id = ? AND status = 'active' ORDER BY user_id`,
		groupID,
	)
}

// ActiveGroupIDs returns the active groups where userID is an active member.
func (s *MemberStore) ActiveGroupIDs(userID int64) ([]int64, error) {
	return s.ids(
		`SELECT m.group_id FROM group_members m
		JOIN calendar_groups g ON g.id = m.group_id
		WHERE m.user_id = ? AND m.status = 'active' AND g.is_active = 1
		ORDER BY m.group_id`,
		userID,
	)
}

func (s *MemberStore) ids(query string, args ...any) ([]int64, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Activate moves an existing non-active membership to active with the given
// role. It reports false when there was no such row, including when the
// row was already active.
func (s *MemberStore) Activate(groupID, userID int64, role model.Role, joinedAt time.Time, invitedBy *int64) (bool, error) {
	res, err := s.db.Exec(
		`UPDATE group_members SET status = 'active', role = ?, joined_at = ?, invited_by = ?, updated_at = ?
		WHERE group_id = ? AND user_id = ? AND status != 'active'`,
		role, joinedAt.UTC(), invitedBy, now(), groupID, userID,
	)
	if err != nil {
		return false, fmt.Errorf("activate member: %w", err)
	}
	return affected(res)
}

func (s *MemberStore) SetRole(groupID, userID int64, role model.Role) error {
	_, err := s.db.Exec(
		`UPDATE group_members SET role = ?, updated_at = ? WHERE group_id = ? AND user_id = ?`,
		role, now(), groupID, userID,
	)
	if err != nil {
		return fmt.Errorf("set member role: %w", err)
	}
	return nil
}

func (s *MemberStore) SetStatus(groupID, userID int64, status model.MemberStatus) error {
	_, err := s.db.Exec(
		`UPDATE group_members SET status = ?, updated_at = ? WHERE group_id = ? AND user_id = ?`,
		status, now(), groupID, userID,
	)
	if err != nil {
		return fmt.Errorf("set member status: %w", err)
	}
	return nil
}

// SetOverrides replaces the member's capability overrides.
func (s *MemberStore) SetOverrides(groupID, userID int64, overrides map[string]bool) error {
	if overrides == nil {
		overrides = map[string]bool{}
	}
	data, err := json.Marshal(overrides)
	if err != nil {
		return fmt.Errorf("encode permissions: %w", err)
	}
	_, err = s.db.Exec(
		`UPDATE group_members SET permissions = ?, updated_at = ? WHERE group_id = ? AND user_id = ?`,
		string(data), now(), groupID, userID,
	)
	if err != nil {
		return fmt.Errorf("set member permissions: %w", err)
	}
	return nil
}

// DeactivateAll marks every membership of the group inactive.
func (s *MemberStore) DeactivateAll(groupID int64) error {
	_, err := s.db.Exec(
		`UPDATE group_members SET status = 'inactive', updated_at = ? WHERE group_id = ? AND status = 'active'`,
		now(), groupID,
	)
	if err != nil {
		return fmt.Errorf("deactivate members: %w", err)
	}
	return nil
}
