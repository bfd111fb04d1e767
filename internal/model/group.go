package model

import "time"

type GroupVisibility string

const (
	GroupPublic     GroupVisibility = "public"
	GroupPrivate    GroupVisibility = "private"
	GroupInviteOnly GroupVisibility = "invite_only"
)

func (v GroupVisibility) Valid() bool {
	switch v {
	case GroupPublic, GroupPrivate, GroupInviteOnly:
		return true
	}
	return false
}

// Role is a member's position in a group. The set is closed.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
	RoleViewer Role = "viewer"
)

func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember, RoleViewer:
		return true
	}
	return false
}

type MemberStatus string

const (
	MemberPending  MemberStatus = "pending"
	MemberActive   MemberStatus = "active"
	MemberInactive MemberStatus = "inactive"
	MemberBanned   MemberStatus = "banned"
)

type GroupSettings struct {
	AllowMembersCreateEvents bool    `json:"allow_members_create_events"`
	RequireEventApproval     bool    `json:"require_event_approval"`
	AllowMembersInvite       bool    `json:"allow_members_invite"`
	DefaultEventPrivacy      Privacy `json:"default_event_privacy"`
}

// DefaultGroupSettings mirrors the column defaults of the groups table.
func DefaultGroupSettings() GroupSettings {
	return GroupSettings{
		AllowMembersCreateEvents: true,
		RequireEventApproval:     false,
		AllowMembersInvite:       false,
		DefaultEventPrivacy:      PrivacyGroupOnly,
	}
}

type Group struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Visibility  GroupVisibility `json:"visibility"`
	CreatorID   int64           `json:"creator_id"`
	Settings    GroupSettings   `json:"settings"`
	InviteCode  *string         `json:"invite_code,omitempty"`
	MemberCount int             `json:"member_count"`
	IsActive    bool            `json:"is_active"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// GroupSummary is the public view of a group returned after joining.
type GroupSummary struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Visibility  GroupVisibility `json:"visibility"`
	MemberCount int             `json:"member_count"`
}

func (g *Group) Summary() GroupSummary {
	return GroupSummary{
		ID:          g.ID,
		Name:        g.Name,
		Description: g.Description,
		Visibility:  g.Visibility,
		MemberCount: g.MemberCount,
	}
}

type GroupMember struct {
	ID        int64           `json:"id"`
	GroupID   int64           `json:"group_id"`
	UserID    int64           `json:"user_id"`
	Role      Role            `json:"role"`
	Status    MemberStatus    `json:"status"`
	JoinedAt  *time.Time      `json:"joined_at,omitempty"`
	InvitedBy *int64          `json:"invited_by,omitempty"`
	Overrides map[string]bool `json:"permission_overrides,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (m *GroupMember) IsActive() bool {
	return m != nil && m.Status == MemberActive
}
