// Package calendar creates, edits and lists personal and group events.
package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukerupert/morandi/internal/apperr"
	"github.com/dukerupert/morandi/internal/approval"
	"github.com/dukerupert/morandi/internal/model"
	"github.com/dukerupert/morandi/internal/notify"
	"github.com/dukerupert/morandi/internal/permission"
	"github.com/dukerupert/morandi/internal/recurrence"
	"github.com/dukerupert/morandi/internal/store"
	"github.com/dukerupert/morandi/internal/visibility"
)

const maxTitleLength = 200

// EventInput holds the caller-editable fields of an event.
type EventInput struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	StartDate   time.Time       `json:"start_date"`
	EndDate     time.Time       `json:"end_date"`
	IsAllDay    bool            `json:"is_all_day"`
	Color       string          `json:"color"`
	Category    string          `json:"category"`
	Privacy     model.Privacy   `json:"privacy"`
	Recurrence  recurrence.Rule `json:"recurrence"`
	SharedWith  []model.Share   `json:"shared_with,omitempty"`
}

type Service struct {
	store    *store.Store
	resolver *visibility.Resolver
	workflow *approval.Workflow
	notifier *notify.Notifier
	logger   *slog.Logger
}

func New(s *store.Store, resolver *visibility.Resolver, workflow *approval.Workflow, n *notify.Notifier, logger *slog.Logger) *Service {
	return &Service{store: s, resolver: resolver, workflow: workflow, notifier: n, logger: logger}
}

// CreatePersonal stores an event outside any group. It is approved from
// the start.
func (s *Service) CreatePersonal(ctx context.Context, actorID int64, in EventInput) (*model.Event, error) {
	e := build(actorID, in)
	if e.Privacy == "" {
		e.Privacy = model.PrivacyPrivate
	}
	if len(e.SharedWith) > 0 && e.Privacy == model.PrivacyPrivate {
		e.Privacy = model.PrivacyShared
	}
	e.Approval = approval.InitialApproval(nil)
	if err := s.validate(e); err != nil {
		return nil, err
	}

	created, err := s.store.Events.Create(e)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	s.logger.Info("event created", "event_id", created.ID, "creator_id", actorID)
	s.notifyShared(ctx, created, nil)
	return created, nil
}

// CreateInGroup stores an event scoped to a group. Plain members need the
// group to allow member events, and moderated groups hold the event for
// review.
func (s *Service) CreateInGroup(ctx context.Context, actorID, groupID int64, in EventInput) (*model.Event, error) {
	g, member, err := s.group(groupID, actorID)
	if err != nil {
		return nil, err
	}
	if err := permission.Require(g, member, actorID, permission.CreateEvent); err != nil {
		return nil, err
	}
	if actorID != g.CreatorID && member.Role == model.RoleMember && !g.Settings.AllowMembersCreateEvents {
		return nil, apperr.Permissionf("members cannot create events in this group")
	}

	e := build(actorID, in)
	e.GroupID = &g.ID
	if e.Privacy == "" {
		e.Privacy = g.Settings.DefaultEventPrivacy
	}
	e.Approval = approval.InitialApproval(g)
	if err := s.validate(e); err != nil {
		return nil, err
	}

	created, err := s.store.Events.Create(e)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	s.logger.Info("group event created", "event_id", created.ID, "group_id", groupID, "approval", created.Approval.Status)
	s.workflow.Submitted(ctx, g, created)
	s.notifyShared(ctx, created, nil)
	return created, nil
}

// Get returns a single event the caller may read.
func (s *Service) Get(ctx context.Context, actorID, id int64) (*model.Event, error) {
	e, err := s.store.Events.GetByID(id)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	groups, err := s.resolver.ActiveGroups(actorID)
	if err != nil {
		return nil, err
	}
	if !visibility.CanView(e, actorID, groups) {
		return nil, apperr.NotFoundf("event not found")
	}
	return e, nil
}

// List returns the caller's visible events in rng with repeats expanded.
func (s *Service) List(ctx context.Context, actorID int64, rng visibility.Range) ([]model.Event, error) {
	return s.resolver.VisibleEvents(ctx, actorID, rng)
}

// Update replaces an event's editable fields. The creator, users holding an
// edit share, and group members with edit_event may update. Shares are
// changed through Share. In a moderated group an approved event edited by
// someone who cannot approve it goes back to pending.
func (s *Service) Update(ctx context.Context, actorID, id int64, in EventInput) (*model.Event, error) {
	e, err := s.editable(ctx, actorID, id, permission.EditEvent)
	if err != nil {
		return nil, err
	}
	var resubmitTo *model.Group
	if e.GroupID != nil && e.Approval.Status == model.ApprovalApproved {
		g, member, err := s.group(*e.GroupID, actorID)
		if err != nil {
			return nil, err
		}
		if approval.NeedsReview(g, member, actorID) {
			resubmitTo = g
		}
	}

	e.Title = strings.TrimSpace(in.Title)
	e.Description = strings.TrimSpace(in.Description)
	e.StartDate = in.StartDate.UTC()
	e.EndDate = in.EndDate.UTC()
	e.IsAllDay = in.IsAllDay
	e.Color = in.Color
	e.Category = strings.TrimSpace(in.Category)
	if in.Privacy != "" {
		e.Privacy = in.Privacy
	}
	e.Recurrence = in.Recurrence.Normalize()
	if err := s.validate(e); err != nil {
		return nil, err
	}

	err = s.store.InTx(func(tx *store.Store) error {
		if _, err := tx.Events.Update(e); err != nil {
			return err
		}
		if resubmitTo != nil {
			if _, err := tx.Events.Resubmit(id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, apperr.Internal(err)
	}
	updated, err := s.store.Events.GetByID(id)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	s.logger.Info("event updated", "event_id", id, "actor_id", actorID, "resubmitted", resubmitTo != nil)
	if resubmitTo != nil {
		s.workflow.Submitted(ctx, resubmitTo, updated)
	}
	return updated, nil
}

// Delete soft deletes an event. The creator and group members with
// delete_event may delete.
func (s *Service) Delete(ctx context.Context, actorID, id int64) error {
	e, err := s.editable(ctx, actorID, id, permission.DeleteEvent)
	if err != nil {
		return err
	}
	if e.CreatorID != actorID {
		// Edit shares do not extend to deletion.
		if err := s.authorizeGroup(e, actorID, permission.DeleteEvent); err != nil {
			return err
		}
	}
	if err := s.store.Events.SoftDelete(id); err != nil {
		return apperr.Internal(err)
	}
	s.logger.Info("event deleted", "event_id", id, "actor_id", actorID)
	return nil
}

// Share replaces the event's share list. Only the creator may share; a
// private event becomes shared.
func (s *Service) Share(ctx context.Context, actorID, id int64, shares []model.Share) (*model.Event, error) {
	e, err := s.Get(ctx, actorID, id)
	if err != nil {
		return nil, err
	}
	if e.CreatorID != actorID {
		return nil, apperr.Permissionf("only the creator can share this event")
	}
	previous := e.SharedWith
	e.SharedWith = normalizeShares(shares)
	if err := s.validateShares(e); err != nil {
		return nil, err
	}

	err = s.store.InTx(func(tx *store.Store) error {
		if err := tx.Events.SetShares(e.ID, e.SharedWith); err != nil {
			return err
		}
		if e.Privacy == model.PrivacyPrivate && len(e.SharedWith) > 0 {
			e.Privacy = model.PrivacyShared
			if _, err := tx.Events.Update(e); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, apperr.Internal(err)
	}

	updated, err := s.store.Events.GetByID(id)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	s.logger.Info("event shared", "event_id", id, "users", len(updated.SharedWith))
	s.notifyShared(ctx, updated, previous)
	return updated, nil
}

// editable fetches a live event and checks the caller may change it.
// Group members allowed the action can reach events they cannot otherwise
// see yet, such as pending ones.
func (s *Service) editable(ctx context.Context, actorID, id int64, action permission.Action) (*model.Event, error) {
	e, err := s.store.Events.GetByID(id)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if e == nil {
		return nil, apperr.NotFoundf("event not found")
	}
	if err := s.authorize(e, actorID, action); err != nil {
		groups, gerr := s.resolver.ActiveGroups(actorID)
		if gerr != nil {
			return nil, gerr
		}
		if !visibility.CanView(e, actorID, groups) {
			return nil, apperr.NotFoundf("event not found")
		}
		return nil, err
	}
	return e, nil
}

func (s *Service) authorize(e *model.Event, actorID int64, action permission.Action) error {
	if e.CreatorID == actorID {
		return nil
	}
	if share, ok := e.SharedWithUser(actorID); ok && share.Can(model.ShareEdit) {
		return nil
	}
	return s.authorizeGroup(e, actorID, action)
}

func (s *Service) authorizeGroup(e *model.Event, actorID int64, action permission.Action) error {
	if e.GroupID == nil {
		return apperr.Permissionf("only the creator can change this event")
	}
	g, member, err := s.group(*e.GroupID, actorID)
	if err != nil {
		return err
	}
	return permission.Require(g, member, actorID, action)
}

func (s *Service) group(groupID, actorID int64) (*model.Group, *model.GroupMember, error) {
	g, err := s.store.Groups.GetByID(groupID)
	if err != nil {
		return nil, nil, apperr.Internal(err)
	}
	if g == nil || !g.IsActive {
		return nil, nil, apperr.NotFoundf("group not found")
	}
	member, err := s.store.Members.Get(groupID, actorID)
	if err != nil {
		return nil, nil, apperr.Internal(err)
	}
	return g, member, nil
}

func (s *Service) validate(e *model.Event) error {
	if e.Title == "" {
		return apperr.Validationf("title is required")
	}
	if len(e.Title) > maxTitleLength {
		return apperr.Validationf("title must be at most %d characters", maxTitleLength)
	}
	if e.StartDate.IsZero() || e.EndDate.IsZero() {
		return apperr.Validationf("start and end dates are required")
	}
	if e.EndDate.Before(e.StartDate) {
		return apperr.Validationf("end date must not be before start date")
	}
	if !e.Privacy.Valid() {
		return apperr.Validationf("invalid privacy %q", e.Privacy)
	}
	if e.Privacy == model.PrivacyGroupOnly && e.GroupID == nil {
		return apperr.Validationf("group_only privacy requires a group event")
	}
	if err := e.Recurrence.Validate(); err != nil {
		return apperr.Validationf("invalid recurrence: %v", err)
	}
	if r := e.Recurrence; r.EndType == recurrence.EndDate && r.EndDate.Before(e.StartDate) {
		return apperr.Validationf("recurrence end date must not be before the start date")
	}
	return s.validateShares(e)
}

func (s *Service) validateShares(e *model.Event) error {
	for _, sh := range e.SharedWith {
		if sh.UserID == e.CreatorID {
			return apperr.Validationf("cannot share an event with its creator")
		}
		for _, p := range sh.Permissions {
			if p != model.ShareView && p != model.ShareEdit {
				return apperr.Validationf("invalid share permission %q", p)
			}
		}
		u, err := s.store.Users.GetByID(sh.UserID)
		if err != nil {
			return apperr.Internal(err)
		}
		if u == nil {
			return apperr.NotFoundf("user %d not found", sh.UserID)
		}
	}
	return nil
}

// notifyShared tells users newly added to the share list.
func (s *Service) notifyShared(ctx context.Context, e *model.Event, previous []model.Share) {
	had := make(map[int64]bool, len(previous))
	for _, sh := range previous {
		had[sh.UserID] = true
	}
	var recipients []int64
	for _, sh := range e.SharedWith {
		if !had[sh.UserID] {
			recipients = append(recipients, sh.UserID)
		}
	}
	if len(recipients) == 0 {
		return
	}
	s.notifier.Notify(ctx, notify.Fanout(model.Notification{
		SenderID: notify.Int64(e.CreatorID),
		Type:     model.NotifEventShared,
		Title:    "Event shared with you",
		Message:  fmt.Sprintf("%q was shared with you", e.Title),
		Data:     model.NotificationData{EventID: notify.Int64(e.ID), GroupID: e.GroupID},
	}, recipients, e.CreatorID)...)
}

func build(actorID int64, in EventInput) *model.Event {
	return &model.Event{
		Title:       strings.TrimSpace(in.Title),
		Description: strings.TrimSpace(in.Description),
		StartDate:   in.StartDate.UTC(),
		EndDate:     in.EndDate.UTC(),
		IsAllDay:    in.IsAllDay,
		Color:       in.Color,
		Category:    strings.TrimSpace(in.Category),
		CreatorID:   actorID,
		Privacy:     in.Privacy,
		SharedWith:  normalizeShares(in.SharedWith),
		Recurrence:  in.Recurrence.Normalize(),
		Status:      model.EventConfirmed,
	}
}

// normalizeShares drops duplicate users and defaults empty permission
// lists to view.
func normalizeShares(shares []model.Share) []model.Share {
	seen := make(map[int64]bool, len(shares))
	out := make([]model.Share, 0, len(shares))
	for _, sh := range shares {
		if seen[sh.UserID] {
			continue
		}
		seen[sh.UserID] = true
		if len(sh.Permissions) == 0 {
			sh.Permissions = []model.SharePermission{model.ShareView}
		}
		out = append(out, sh)
	}
	return out
}
