// Package approval moderates group events before they become visible to
// the rest of the group.
package approval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukerupert/morandi/internal/apperr"
	"github.com/dukerupert/morandi/internal/model"
	"github.com/dukerupert/morandi/internal/notify"
	"github.com/dukerupert/morandi/internal/permission"
	"github.com/dukerupert/morandi/internal/store"
)

const DefaultRejectionReason = "not provided"

type Action string

const (
	Approve Action = "approve"
	Reject  Action = "reject"
)

type Decision struct {
	Action          Action `json:"action"`
	RejectionReason string `json:"rejectionReason,omitempty"`
}

// InitialApproval returns the approval state for a new event. Events in a
// group that requires approval start pending; everything else starts
// approved.
func InitialApproval(g *model.Group) model.Approval {
	if g != nil && g.Settings.RequireEventApproval {
		return model.Approval{Required: true, Status: model.ApprovalPending}
	}
	return model.Approval{Required: false, Status: model.ApprovalApproved}
}

type Workflow struct {
	store         *store.Store
	notifier      *notify.Notifier
	defaultReason string
	logger        *slog.Logger
	now           func() time.Time
}

func New(s *store.Store, n *notify.Notifier, defaultReason string, logger *slog.Logger) *Workflow {
	if strings.TrimSpace(defaultReason) == "" {
		defaultReason = DefaultRejectionReason
	}
	return &Workflow{
		store:         s,
		notifier:      n,
		defaultReason: defaultReason,
		logger:        logger,
		now:           time.Now,
	}
}

// Review approves or rejects a pending group event. The caller needs
// edit_event in the group. Reviewing an event that is no longer pending is
// a conflict.
func (w *Workflow) Review(ctx context.Context, actorID, groupID, eventID int64, d Decision) (*model.Event, error) {
	group, err := w.activeGroup(groupID)
	if err != nil {
		return nil, err
	}
	member, err := w.store.Members.Get(groupID, actorID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if err := permission.Require(group, member, actorID, permission.EditEvent); err != nil {
		return nil, err
	}

	var status model.ApprovalStatus
	switch d.Action {
	case Approve:
		status = model.ApprovalApproved
	case Reject:
		status = model.ApprovalRejected
	default:
		return nil, apperr.Validationf("action must be approve or reject")
	}

	event, err := w.store.Events.GetByID(eventID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if event == nil || !event.InGroup(groupID) {
		return nil, apperr.NotFoundf("event not found")
	}
	if event.Approval.Status != model.ApprovalPending {
		return nil, apperr.Conflictf("event is not pending approval")
	}

	reason := ""
	if status == model.ApprovalRejected {
		reason = strings.TrimSpace(d.RejectionReason)
		if reason == "" {
			reason = w.defaultReason
		}
	}

	ok, err := w.store.Events.Review(eventID, status, actorID, w.now(), reason)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if !ok {
		return nil, apperr.Conflictf("event is not pending approval")
	}
	updated, err := w.store.Events.GetByID(eventID)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	w.logger.Info("event reviewed", "event_id", eventID, "group_id", groupID, "status", status, "reviewer_id", actorID)
	w.notifyOutcome(ctx, actorID, group, updated)
	return updated, nil
}

// Pending lists the group's events awaiting review.
func (w *Workflow) Pending(ctx context.Context, actorID, groupID int64) ([]model.Event, error) {
	group, err := w.activeGroup(groupID)
	if err != nil {
		return nil, err
	}
	member, err := w.store.Members.Get(groupID, actorID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if err := permission.Require(group, member, actorID, permission.EditEvent); err != nil {
		return nil, err
	}
	events, err := w.store.Events.ListPending(groupID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return events, nil
}

// NeedsReview reports whether an edit by userID to an approved event in
// group sends it back for review: the group moderates events and the
// editor cannot approve them.
func NeedsReview(group *model.Group, member *model.GroupMember, userID int64) bool {
	return group.Settings.RequireEventApproval && !permission.Allowed(group, member, userID, permission.EditEvent)
}

// Submitted tells the group's reviewers that a pending event awaits them.
func (w *Workflow) Submitted(ctx context.Context, group *model.Group, event *model.Event) {
	if event.Approval.Status != model.ApprovalPending {
		return
	}
	members, err := w.store.Members.List(group.ID, model.MemberActive)
	if err != nil {
		w.logger.Error("list reviewers", "error", err, "group_id", group.ID)
		return
	}
	reviewers := []int64{group.CreatorID}
	for i := range members {
		m := &members[i]
		if permission.Allowed(group, m, m.UserID, permission.EditEvent) {
			reviewers = append(reviewers, m.UserID)
		}
	}

	w.notifier.Notify(ctx, notify.Fanout(model.Notification{
		SenderID: notify.Int64(event.CreatorID),
		Type:     model.NotifEventPendingApproval,
		Title:    "Event awaiting approval",
		Message:  fmt.Sprintf("%q in %s needs review", event.Title, group.Name),
		Data:     model.NotificationData{GroupID: notify.Int64(group.ID), EventID: notify.Int64(event.ID)},
	}, reviewers, event.CreatorID)...)
}

func (w *Workflow) notifyOutcome(ctx context.Context, actorID int64, group *model.Group, event *model.Event) {
	data := model.NotificationData{GroupID: notify.Int64(group.ID), EventID: notify.Int64(event.ID)}

	var out []model.Notification
	if event.CreatorID != actorID {
		nt := model.Notification{
			RecipientID: event.CreatorID,
			SenderID:    notify.Int64(actorID),
			Data:        data,
		}
		if event.Approval.Status == model.ApprovalApproved {
			nt.Type = model.NotifEventApproved
			nt.Title = "Event approved"
			nt.Message = fmt.Sprintf("%q was approved in %s", event.Title, group.Name)
		} else {
			nt.Type = model.NotifEventRejected
			nt.Title = "Event rejected"
			nt.Message = fmt.Sprintf("%q was rejected: %s", event.Title, event.Approval.RejectionReason)
			nt.Data.Reason = event.Approval.RejectionReason
		}
		out = append(out, nt)
	}

	if event.Approval.Status == model.ApprovalApproved {
		members, err := w.store.Members.ActiveUserIDs(group.ID)
		if err != nil {
			w.logger.Error("list group members", "error", err, "group_id", group.ID)
		}
		for _, nt := range notify.Fanout(model.Notification{
			SenderID: notify.Int64(actorID),
			Type:     model.NotifGroupEventPublished,
			Title:    "New group event",
			Message:  fmt.Sprintf("%q was published in %s", event.Title, group.Name),
			Data:     data,
		}, members, actorID) {
			// The creator already has the approval notice.
			if nt.RecipientID != event.CreatorID {
				out = append(out, nt)
			}
		}
	}
	w.notifier.Notify(ctx, out...)
}

func (w *Workflow) activeGroup(groupID int64) (*model.Group, error) {
	group, err := w.store.Groups.GetByID(groupID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if group == nil || !group.IsActive {
		return nil, apperr.NotFoundf("group not found")
	}
	return group, nil
}
