package model

import "time"

type NotificationType string

const (
	NotifEventPendingApproval NotificationType = "event_pending_approval"
	NotifEventApproved        NotificationType = "event_approved"
	NotifEventRejected        NotificationType = "event_rejected"
	NotifGroupEventPublished  NotificationType = "group_event_published"
	NotifEventShared          NotificationType = "event_shared"
	NotifGroupInvitation      NotificationType = "group_invitation"
	NotifInvitationAccepted   NotificationType = "invitation_accepted"
	NotifInvitationDeclined   NotificationType = "invitation_declined"
	NotifMemberJoined         NotificationType = "group_member_joined"
	NotifMemberRemoved        NotificationType = "group_member_removed"
	NotifRoleChanged          NotificationType = "group_role_changed"
)

type NotificationStatus string

const (
	NotificationUnread   NotificationStatus = "unread"
	NotificationRead     NotificationStatus = "read"
	NotificationArchived NotificationStatus = "archived"
)

// NotificationData is the loosely-typed payload attached to a notification.
type NotificationData struct {
	GroupID      *int64 `json:"group_id,omitempty"`
	EventID      *int64 `json:"event_id,omitempty"`
	InvitationID *int64 `json:"invitation_id,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

type Notification struct {
	ID          int64              `json:"id"`
	RecipientID int64              `json:"recipient_id"`
	SenderID    *int64             `json:"sender_id,omitempty"`
	Type        NotificationType   `json:"type"`
	Title       string             `json:"title"`
	Message     string             `json:"message"`
	Data        NotificationData   `json:"data"`
	Status      NotificationStatus `json:"status"`
	ExpiresAt   time.Time          `json:"expires_at"`
	ReadAt      *time.Time         `json:"read_at,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
}
