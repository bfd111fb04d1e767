package store

import (
	"database/sql"
	"fmt"

	"github.com/dukerupert/morandi/internal/model"
)

type GroupStore struct {
	db DBTX
}

func NewGroupStore(db DBTX) *GroupStore {
	return &GroupStore{db: db}
}

func scanGroup(scanner interface{ Scan(...any) error }) (*model.Group, error) {
	var g model.Group
	err := scanner.Scan(
		&g.ID, &g.Name, &g.Description, &g.Visibility, &g.CreatorID,
		&g.Settings.AllowMembersCreateEvents, &g.Settings.RequireEventApproval,
		&g.Settings.AllowMembersInvite, &g.Settings.DefaultEventPrivacy,
		&g.InviteCode, &g.MemberCount, &g.IsActive, &g.CreatedAt, &g.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

const groupCols = `id, name, description, visibility, creator_id,
	allow_members_create_events, require_event_approval, allow_members_invite, default_event_privacy,
	invite_code, member_count, is_active, created_at, updated_at`

func (s *GroupStore) Create(g *model.Group) (*model.Group, error) {
	ts := now()
	result, err := s.db.Exec(
		`INSERT INTO calendar_groups (name, description, visibility, creator_id,
			allow_members_create_events, require_event_approval, allow_members_invite, default_event_privacy,
			invite_code, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		g.Name, g.Description, g.Visibility, g.CreatorID,
		g.Settings.AllowMembersCreateEvents, g.Settings.RequireEventApproval,
		g.Settings.AllowMembersInvite, g.Settings.DefaultEventPrivacy,
		g.InviteCode, ts, ts,
	)
	if err != nil {
		return nil, wrap("insert group", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

// GetByID returns the group whether or not it is active.
func (s *GroupStore) GetByID(id int64) (*model.Group, error) {
	row := s.db.QueryRow(`SELECT `+groupCols+` FROM calendar_groups WHERE id = ?`, id)
	g, err := scanGroup(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get group: %w", err)
	}
	return g, nil
}

// GetByInviteCode only finds active groups.
func (s *GroupStore) GetByInviteCode(code string) (*model.Group, error) {
	row := s.db.QueryRow(
		`SELECT `+groupCols+` FROM calendar_groups WHERE invite_code = ? AND is_active = 1`, code,
	)
	g, err := scanGroup(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get group by invite code: %w", err)
	}
	return g, nil
}

// ListForUser returns the active groups where userID is an active member.
func (s *GroupStore) ListForUser(userID int64) ([]model.Group, error) {
	rows, err := s.db.Query(
		`SELECT `+groupCols+` FROM calendar_groups
		WHERE is_active = 1 AND id IN (
			SELECT group_id FROM group_members WHERE user_id = ? AND status = 'active'
		)
		ORDER BY name`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var groups []model.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, *g)
	}
	return groups, rows.Err()
}

func (s *GroupStore) Update(g *model.Group) (*model.Group, error) {
	_, err := s.db.Exec(
		`UPDATE calendar_groups SET name = ?, description = ?, visibility = ?,
			allow_members_create_events = ?, require_event_approval = ?,
			allow_members_invite = ?, default_event_privacy = ?, updated_at = ?
		WHERE id = ?`,
		g.Name, g.Description, g.Visibility,
		g.Settings.AllowMembersCreateEvents, g.Settings.RequireEventApproval,
		g.Settings.AllowMembersInvite, g.Settings.DefaultEventPrivacy, now(),
		g.ID,
	)
	if err != nil {
		return nil, wrap("update group", err)
	}
	return s.GetByID(g.ID)
}

// SetInviteCode replaces the group's invite code; nil clears it. A code
// already used by another group yields ErrDuplicate.
func (s *GroupStore) SetInviteCode(id int64, code *string) error {
	_, err := s.db.Exec(
		`UPDATE calendar_groups SET invite_code = ?, updated_at = ? WHERE id = ?`,
		code, now(), id,
	)
	if err != nil {
		return wrap("set invite code", err)
	}
	return nil
}

func (s *GroupStore) Deactivate(id int64) error {
	_, err := s.db.Exec(
		`UPDATE calendar_groups SET is_active = 0, invite_code = NULL, updated_at = ? WHERE id = ?`,
		now(), id,
	)
	if err != nil {
		return fmt.Errorf("deactivate group: %w", err)
	}
	return nil
}

// RecountMembers refreshes the denormalized member_count from the active
// memberships and returns the new count.
func (s *GroupStore) RecountMembers(id int64) (int, error) {
	_, err := s.db.Exec(
		`UPDATE calendar_groups SET member_count = (
			SELECT COUNT(*) FROM group_members WHERE group_id = ? AND status = 'active'
		) WHERE id = ?`,
		id, id,
	)
	if err != nil {
		return 0, fmt.Errorf("recount members: %w", err)
	}
	var n int
	if err := s.db.QueryRow(`SELECT member_count FROM calendar_groups WHERE id = ?`, id).Scan(&n); err != nil {
		return 0, fmt.Errorf("read member count: %w", err)
	}
	return n, nil
}
