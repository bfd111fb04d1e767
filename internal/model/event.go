package model

import (
	"time"

	"github.com/dukerupert/morandi/internal/recurrence"
)

type Privacy string

const (
	PrivacyPrivate   Privacy = "private"
	PrivacyShared    Privacy = "shared"
	PrivacyPublic    Privacy = "public"
	PrivacyGroupOnly Privacy = "group_only"
)

func (p Privacy) Valid() bool {
	switch p {
	case PrivacyPrivate, PrivacyShared, PrivacyPublic, PrivacyGroupOnly:
		return true
	}
	return false
}

type ApprovalStatus string

const (
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalRejected ApprovalStatus = "rejected"
)

type EventStatus string

const (
	EventConfirmed EventStatus = "confirmed"
	EventCancelled EventStatus = "cancelled"
)

type SharePermission string

const (
	ShareView SharePermission = "view"
	ShareEdit SharePermission = "edit"
)

// Share grants one user access to an event.
type Share struct {
	UserID      int64             `json:"user_id"`
	Permissions []SharePermission `json:"permissions"`
}

func (s Share) Can(p SharePermission) bool {
	for _, have := range s.Permissions {
		if have == p {
			return true
		}
	}
	return false
}

type Approval struct {
	Required        bool           `json:"required"`
	Status          ApprovalStatus `json:"status"`
	ApprovedBy      *int64         `json:"approved_by,omitempty"`
	ApprovedAt      *time.Time     `json:"approved_at,omitempty"`
	RejectionReason string         `json:"rejection_reason,omitempty"`
}

type Event struct {
	ID          int64           `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	StartDate   time.Time       `json:"start_date"`
	EndDate     time.Time       `json:"end_date"`
	IsAllDay    bool            `json:"is_all_day"`
	Color       string          `json:"color"`
	Category    string          `json:"category"`
	CreatorID   int64           `json:"creator_id"`
	Privacy     Privacy         `json:"privacy"`
	SharedWith  []Share         `json:"shared_with"`
	GroupID     *int64          `json:"group_id,omitempty"`
	Approval    Approval        `json:"approval"`
	Recurrence  recurrence.Rule `json:"recurrence"`
	Status      EventStatus     `json:"status"`
	IsDeleted   bool            `json:"-"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`

	// Set only on materialized occurrences, which are never stored.
	IsRecurring     bool   `json:"is_recurring"`
	OriginalEventID *int64 `json:"original_event_id,omitempty"`
	OccurrenceIndex int    `json:"occurrence_index,omitempty"`
}

// SharedWithUser reports whether userID appears in the share list.
func (e *Event) SharedWithUser(userID int64) (Share, bool) {
	for _, s := range e.SharedWith {
		if s.UserID == userID {
			return s, true
		}
	}
	return Share{}, false
}

// InGroup reports whether the event is scoped to groupID.
func (e *Event) InGroup(groupID int64) bool {
	return e.GroupID != nil && *e.GroupID == groupID
}

// Overlaps reports whether [StartDate, EndDate] intersects [start, end].
func (e *Event) Overlaps(start, end time.Time) bool {
	return !e.EndDate.Before(start) && !e.StartDate.After(end)
}

// AtOccurrence returns a copy of the event moved to a generated repeat.
// The copy keeps the base event's id and records it as the original.
func (e Event) AtOccurrence(o recurrence.Occurrence) Event {
	id := e.ID
	occ := e
	occ.StartDate = o.Start
	occ.EndDate = o.End
	occ.IsRecurring = true
	occ.OriginalEventID = &id
	occ.OccurrenceIndex = o.Index
	occ.SharedWith = append([]Share(nil), e.SharedWith...)
	return occ
}
