package approval

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/dukerupert/morandi/internal/apperr"
	"github.com/dukerupert/morandi/internal/database"
	"github.com/dukerupert/morandi/internal/model"
	"github.com/dukerupert/morandi/internal/notify"
	"github.com/dukerupert/morandi/internal/recurrence"
	"github.com/dukerupert/morandi/internal/store"
	"github.com/dukerupert/morandi/internal/visibility"
)

type fixture struct {
	store    *store.Store
	workflow *Workflow
	resolver *visibility.Resolver
	owner    int64
	admin    int64
	member   int64
	group    *model.Group
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	s := store.New(db)

	f := &fixture{
		store:    s,
		workflow: New(s, notify.New(s.Notifications, nil, 0, slog.Default()), "", slog.Default()),
		resolver: visibility.New(s, recurrence.Expander{}, slog.Default()),
	}

	ids := make([]int64, 3)
	for i, email := range []string{"owner@example.com", "admin@example.com", "member@example.com"} {
		u, err := s.Users.Create(email, email)
		if err != nil {
			t.Fatalf("create user: %v", err)
		}
		ids[i] = u.ID
	}
	f.owner, f.admin, f.member = ids[0], ids[1], ids[2]

	settings := model.DefaultGroupSettings()
	settings.RequireEventApproval = true
	f.group, err = s.Groups.Create(&model.Group{Name: "Choir", Visibility: model.GroupPrivate, CreatorID: f.owner, Settings: settings})
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	for userID, role := range map[int64]model.Role{f.owner: model.RoleOwner, f.admin: model.RoleAdmin, f.member: model.RoleMember} {
		if _, err := s.Members.Add(&model.GroupMember{GroupID: f.group.ID, UserID: userID, Role: role, Status: model.MemberActive}); err != nil {
			t.Fatalf("add member: %v", err)
		}
	}
	return f
}

func (f *fixture) submit(t *testing.T, creatorID int64, title string) *model.Event {
	t.Helper()
	start := time.Date(2024, 6, 10, 18, 0, 0, 0, time.UTC)
	e, err := f.store.Events.Create(&model.Event{
		Title:      title,
		StartDate:  start,
		EndDate:    start.Add(2 * time.Hour),
		CreatorID:  creatorID,
		Privacy:    model.PrivacyGroupOnly,
		GroupID:    &f.group.ID,
		Approval:   InitialApproval(f.group),
		Recurrence: recurrence.Rule{}.Normalize(),
		Status:     model.EventConfirmed,
	})
	if err != nil {
		t.Fatalf("create event: %v", err)
	}
	return e
}

func (f *fixture) sees(t *testing.T, userID, eventID int64) bool {
	t.Helper()
	events, err := f.resolver.VisibleEvents(context.Background(), userID, visibility.Month(2024, time.June))
	if err != nil {
		t.Fatalf("visible events: %v", err)
	}
	for _, e := range events {
		if e.ID == eventID {
			return true
		}
	}
	return false
}

func notifications(t *testing.T, s *store.Store, userID int64) []model.Notification {
	t.Helper()
	list, err := s.Notifications.ListForUser(userID, "", 50)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	return list
}

func TestInitialApproval(t *testing.T) {
	if a := InitialApproval(nil); a.Status != model.ApprovalApproved || a.Required {
		t.Errorf("personal event approval = %+v", a)
	}
	open := &model.Group{Settings: model.GroupSettings{RequireEventApproval: false}}
	if a := InitialApproval(open); a.Status != model.ApprovalApproved {
		t.Errorf("open group approval = %+v", a)
	}
	moderated := &model.Group{Settings: model.GroupSettings{RequireEventApproval: true}}
	if a := InitialApproval(moderated); a.Status != model.ApprovalPending || !a.Required {
		t.Errorf("moderated group approval = %+v", a)
	}
}

func TestModeratedEventBecomesVisibleAfterApproval(t *testing.T) {
	f := setup(t)
	e := f.submit(t, f.member, "Rehearsal")

	if e.Approval.Status != model.ApprovalPending {
		t.Fatalf("status = %s, want pending", e.Approval.Status)
	}
	if !f.sees(t, f.member, e.ID) {
		t.Error("creator cannot see own pending event")
	}
	if f.sees(t, f.admin, e.ID) {
		t.Error("pending event visible to another member")
	}

	updated, err := f.workflow.Review(context.Background(), f.admin, f.group.ID, e.ID, Decision{Action: Approve})
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if updated.Approval.Status != model.ApprovalApproved || updated.Approval.ApprovedBy == nil || *updated.Approval.ApprovedBy != f.admin {
		t.Errorf("approval = %+v", updated.Approval)
	}
	for _, u := range []int64{f.owner, f.admin, f.member} {
		if !f.sees(t, u, e.ID) {
			t.Errorf("user %d cannot see approved event", u)
		}
	}

	if got := notifications(t, f.store, f.member); len(got) != 1 || got[0].Type != model.NotifEventApproved {
		t.Errorf("creator notifications = %+v", got)
	}
	if got := notifications(t, f.store, f.owner); len(got) != 1 || got[0].Type != model.NotifGroupEventPublished {
		t.Errorf("owner notifications = %+v", got)
	}
	if got := notifications(t, f.store, f.admin); len(got) != 0 {
		t.Errorf("reviewer notified about own action: %+v", got)
	}
}

func TestRejectCancelsEvent(t *testing.T) {
	f := setup(t)
	e := f.submit(t, f.member, "Karaoke")

	updated, err := f.workflow.Review(context.Background(), f.owner, f.group.ID, e.ID, Decision{Action: Reject})
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if updated.Approval.Status != model.ApprovalRejected || updated.Status != model.EventCancelled {
		t.Errorf("after rejection: %+v / %s", updated.Approval, updated.Status)
	}
	if updated.Approval.RejectionReason != DefaultRejectionReason {
		t.Errorf("reason = %q, want %q", updated.Approval.RejectionReason, DefaultRejectionReason)
	}
	if f.sees(t, f.admin, e.ID) {
		t.Error("rejected event visible to members")
	}
	got := notifications(t, f.store, f.member)
	if len(got) != 1 || got[0].Type != model.NotifEventRejected || got[0].Data.Reason != DefaultRejectionReason {
		t.Errorf("creator notifications = %+v", got)
	}
}

func TestReviewRequiresEditEvent(t *testing.T) {
	f := setup(t)
	e := f.submit(t, f.admin, "Retreat")

	_, err := f.workflow.Review(context.Background(), f.member, f.group.ID, e.ID, Decision{Action: Approve})
	if apperr.KindOf(err) != apperr.KindPermission {
		t.Errorf("err = %v, want permission error", err)
	}

	// Unknown events and bad actions look the same as known ones.
	_, err = f.workflow.Review(context.Background(), f.member, f.group.ID, 9999, Decision{Action: Approve})
	if apperr.KindOf(err) != apperr.KindPermission {
		t.Errorf("unknown event err = %v, want permission error", err)
	}
	_, err = f.workflow.Review(context.Background(), f.member, f.group.ID, e.ID, Decision{Action: "maybe"})
	if apperr.KindOf(err) != apperr.KindPermission {
		t.Errorf("bad action err = %v, want permission error", err)
	}
}

func TestReviewNonPendingIsConflict(t *testing.T) {
	f := setup(t)
	e := f.submit(t, f.member, "Gig")

	if _, err := f.workflow.Review(context.Background(), f.admin, f.group.ID, e.ID, Decision{Action: Approve}); err != nil {
		t.Fatalf("first review: %v", err)
	}
	_, err := f.workflow.Review(context.Background(), f.owner, f.group.ID, e.ID, Decision{Action: Reject, RejectionReason: "changed my mind"})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("err = %v, want conflict", err)
	}
}

func TestReviewValidation(t *testing.T) {
	f := setup(t)
	e := f.submit(t, f.member, "Gig")

	if _, err := f.workflow.Review(context.Background(), f.admin, f.group.ID, e.ID, Decision{Action: "maybe"}); apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("bad action err = %v, want validation", err)
	}
	if _, err := f.workflow.Review(context.Background(), f.admin, f.group.ID, 9999, Decision{Action: Approve}); apperr.KindOf(err) != apperr.KindNotFound {
		t.Errorf("missing event err = %v, want not found", err)
	}
	if _, err := f.workflow.Review(context.Background(), f.admin, 9999, e.ID, Decision{Action: Approve}); apperr.KindOf(err) != apperr.KindNotFound {
		t.Errorf("missing group err = %v, want not found", err)
	}
}

func TestPendingAndSubmitted(t *testing.T) {
	f := setup(t)
	e := f.submit(t, f.member, "Rehearsal")
	f.workflow.Submitted(context.Background(), f.group, e)

	list, err := f.workflow.Pending(context.Background(), f.admin, f.group.ID)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(list) != 1 || list[0].ID != e.ID {
		t.Errorf("pending = %+v", list)
	}
	if _, err := f.workflow.Pending(context.Background(), f.member, f.group.ID); apperr.KindOf(err) != apperr.KindPermission {
		t.Errorf("member listing pending err = %v, want permission", err)
	}

	for _, reviewer := range []int64{f.owner, f.admin} {
		got := notifications(t, f.store, reviewer)
		if len(got) != 1 || got[0].Type != model.NotifEventPendingApproval {
			t.Errorf("reviewer %d notifications = %+v", reviewer, got)
		}
	}
	if got := notifications(t, f.store, f.member); len(got) != 0 {
		t.Errorf("submitter notified: %+v", got)
	}
}
