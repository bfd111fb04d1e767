package model

import "time"

type InvitationType string

const (
	InviteDirect InvitationType = "direct"
	InviteEmail  InvitationType = "email"
	InviteCode   InvitationType = "invite_code"
)

type InvitationStatus string

const (
	InvitationPending   InvitationStatus = "pending"
	InvitationAccepted  InvitationStatus = "accepted"
	InvitationDeclined  InvitationStatus = "declined"
	InvitationExpired   InvitationStatus = "expired"
	InvitationCancelled InvitationStatus = "cancelled"
)

type Invitation struct {
	ID          int64            `json:"id"`
	GroupID     int64            `json:"group_id"`
	InviterID   int64            `json:"inviter_id"`
	InviteeID   *int64           `json:"invitee_id,omitempty"`
	Email       string           `json:"email,omitempty"`
	Type        InvitationType   `json:"type"`
	Status      InvitationStatus `json:"status"`
	Role        Role             `json:"role"`
	Message     string           `json:"message,omitempty"`
	ExpiresAt   time.Time        `json:"expires_at"`
	RespondedAt *time.Time       `json:"responded_at,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`

	// Token is only populated on the response that creates or resends the
	// invitation; the database keeps a digest.
	Token string `json:"token,omitempty"`
}

// IsExpired reports whether a pending invitation has passed its deadline.
func (inv *Invitation) IsExpired(now time.Time) bool {
	return inv.Status == InvitationPending && inv.ExpiresAt.Before(now)
}
