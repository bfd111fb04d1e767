package invitation

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/morandi/internal/apperr"
	"github.com/dukerupert/morandi/internal/database"
	"github.com/dukerupert/morandi/internal/model"
	"github.com/dukerupert/morandi/internal/notify"
	"github.com/dukerupert/morandi/internal/store"
)

type fixture struct {
	store *store.Store
	svc   *Service
	owner int64
	group *model.Group
}

func setup(t *testing.T) *fixture {
	t.Helper()
	return setupAt(t, ":memory:")
}

func setupAt(t *testing.T, dbPath string) *fixture {
	t.Helper()
	db, err := database.Open(dbPath)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	s := store.New(db)

	f := &fixture{
		store: s,
		svc:   New(s, notify.New(s.Notifications, nil, 0, slog.Default()), 0, slog.Default()),
	}
	f.owner = f.user(t, "owner@example.com")

	code := "JOINME42"
	f.group, err = s.Groups.Create(&model.Group{
		Name:       "Book club",
		Visibility: model.GroupPrivate,
		CreatorID:  f.owner,
		Settings:   model.DefaultGroupSettings(),
		InviteCode: &code,
	})
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	f.member(t, f.owner, model.RoleOwner)
	return f
}

func (f *fixture) user(t *testing.T, email string) int64 {
	t.Helper()
	u, err := f.store.Users.Create(email, "")
	if err != nil {
		t.Fatalf("create user %s: %v", email, err)
	}
	return u.ID
}

func (f *fixture) member(t *testing.T, userID int64, role model.Role) {
	t.Helper()
	now := time.Now()
	if _, err := f.store.Members.Add(&model.GroupMember{GroupID: f.group.ID, UserID: userID, Role: role, Status: model.MemberActive, JoinedAt: &now}); err != nil {
		t.Fatalf("add member: %v", err)
	}
}

func (f *fixture) membership(t *testing.T, userID int64) *model.GroupMember {
	t.Helper()
	m, err := f.store.Members.Get(f.group.ID, userID)
	if err != nil {
		t.Fatalf("get member: %v", err)
	}
	return m
}

func (f *fixture) notifications(t *testing.T, userID int64) []model.Notification {
	t.Helper()
	list, err := f.store.Notifications.ListForUser(userID, "", 50)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	return list
}

func TestDigest(t *testing.T) {
	token, digest := NewToken()
	if token == "" || digest == token {
		t.Fatalf("token %q digest %q", token, digest)
	}
	if len(digest) != 64 {
		t.Errorf("digest length = %d, want 64", len(digest))
	}
	if Digest(token) != digest {
		t.Error("digest is not deterministic")
	}
}

func TestEmailInvitationAcceptedAfterRegistration(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	inv, err := f.svc.Create(ctx, f.owner, f.group.ID, CreateParams{Email: " Newcomer@Example.com ", Role: model.RoleAdmin})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if inv.Type != model.InviteEmail || inv.InviteeID != nil || inv.Email != "newcomer@example.com" {
		t.Fatalf("invitation = %+v", inv)
	}
	if inv.Token == "" {
		t.Error("create did not return a link token")
	}

	// The invitee registers after the invitation was sent.
	newcomer := f.user(t, "newcomer@example.com")

	mine, err := f.svc.ListMine(ctx, newcomer)
	if err != nil {
		t.Fatalf("list mine: %v", err)
	}
	if len(mine) != 1 || mine[0].ID != inv.ID {
		t.Fatalf("list mine = %+v", mine)
	}

	m, err := f.svc.Accept(ctx, newcomer, inv.ID)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if m.Status != model.MemberActive || m.Role != model.RoleAdmin {
		t.Errorf("membership = %+v, want active admin", m)
	}
	if m.InvitedBy == nil || *m.InvitedBy != f.owner {
		t.Errorf("invited_by = %v, want %d", m.InvitedBy, f.owner)
	}

	stored, err := f.store.Invitations.GetByID(inv.ID)
	if err != nil {
		t.Fatalf("get invitation: %v", err)
	}
	if stored.Status != model.InvitationAccepted || stored.InviteeID == nil || *stored.InviteeID != newcomer {
		t.Errorf("stored invitation = %+v", stored)
	}

	g, err := f.store.Groups.GetByID(f.group.ID)
	if err != nil {
		t.Fatalf("get group: %v", err)
	}
	if g.MemberCount != 2 {
		t.Errorf("member count = %d, want 2", g.MemberCount)
	}

	got := f.notifications(t, f.owner)
	if len(got) != 1 || got[0].Type != model.NotifInvitationAccepted {
		t.Errorf("inviter notifications = %+v", got)
	}
}

func TestAcceptTwiceIsConflict(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	bob := f.user(t, "bob@example.com")

	inv, err := f.svc.Create(ctx, f.owner, f.group.ID, CreateParams{InviteeID: &bob})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if inv.Type != model.InviteDirect || inv.Role != model.RoleMember {
		t.Errorf("invitation = %+v", inv)
	}
	if got := f.notifications(t, bob); len(got) != 1 || got[0].Type != model.NotifGroupInvitation {
		t.Errorf("invitee notifications = %+v", got)
	}

	if _, err := f.svc.Accept(ctx, bob, inv.ID); err != nil {
		t.Fatalf("first accept: %v", err)
	}
	_, err = f.svc.Accept(ctx, bob, inv.ID)
	if !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("second accept err = %v, want conflict", err)
	}
}

func TestAcceptByToken(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	bob := f.user(t, "bob@example.com")

	inv, err := f.svc.Create(ctx, f.owner, f.group.ID, CreateParams{Email: "bob@example.com"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if inv.InviteeID == nil || *inv.InviteeID != bob {
		t.Errorf("registered email not resolved: %+v", inv)
	}

	if _, err := f.svc.AcceptToken(ctx, bob, "not-a-token"); apperr.KindOf(err) != apperr.KindNotFound {
		t.Errorf("unknown token err = %v, want not found", err)
	}
	if _, err := f.svc.AcceptToken(ctx, bob, inv.Token); err != nil {
		t.Fatalf("accept token: %v", err)
	}
	if !f.membership(t, bob).IsActive() {
		t.Error("bob is not an active member")
	}
}

func TestOnlyInviteeCanRespond(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	bob := f.user(t, "bob@example.com")
	eve := f.user(t, "eve@example.com")

	inv, err := f.svc.Create(ctx, f.owner, f.group.ID, CreateParams{InviteeID: &bob})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.Accept(ctx, eve, inv.ID); apperr.KindOf(err) != apperr.KindNotFound {
		t.Errorf("stranger accept err = %v, want not found", err)
	}
	if _, err := f.svc.AcceptToken(ctx, eve, inv.Token); apperr.KindOf(err) != apperr.KindNotFound {
		t.Errorf("stranger token accept err = %v, want not found", err)
	}
	if _, err := f.svc.Decline(ctx, eve, inv.ID); apperr.KindOf(err) != apperr.KindNotFound {
		t.Errorf("stranger decline err = %v, want not found", err)
	}
	if _, err := f.svc.Cancel(ctx, bob, inv.ID); apperr.KindOf(err) != apperr.KindPermission {
		t.Errorf("invitee cancel err = %v, want permission", err)
	}
	if m := f.membership(t, eve); m != nil {
		t.Errorf("stranger became member: %+v", m)
	}
}

func TestDeclineAndCancel(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	bob := f.user(t, "bob@example.com")
	carol := f.user(t, "carol@example.com")

	toBob, err := f.svc.Create(ctx, f.owner, f.group.ID, CreateParams{InviteeID: &bob})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	declined, err := f.svc.Decline(ctx, bob, toBob.ID)
	if err != nil {
		t.Fatalf("decline: %v", err)
	}
	if declined.Status != model.InvitationDeclined || declined.RespondedAt == nil {
		t.Errorf("declined = %+v", declined)
	}
	if _, err := f.svc.Accept(ctx, bob, toBob.ID); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("accept after decline err = %v, want conflict", err)
	}
	owner := f.notifications(t, f.owner)
	if len(owner) != 1 || owner[0].Type != model.NotifInvitationDeclined {
		t.Errorf("inviter notifications = %+v", owner)
	}

	toCarol, err := f.svc.Create(ctx, f.owner, f.group.ID, CreateParams{InviteeID: &carol})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	cancelled, err := f.svc.Cancel(ctx, f.owner, toCarol.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != model.InvitationCancelled {
		t.Errorf("status = %s, want cancelled", cancelled.Status)
	}
	if _, err := f.svc.Cancel(ctx, f.owner, toCarol.ID); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("second cancel err = %v, want conflict", err)
	}

	// A new invitation can follow a closed one.
	if _, err := f.svc.Create(ctx, f.owner, f.group.ID, CreateParams{InviteeID: &carol}); err != nil {
		t.Errorf("re-invite after cancel: %v", err)
	}
}

func TestCreateRules(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	bob := f.user(t, "bob@example.com")
	viewer := f.user(t, "viewer@example.com")
	plain := f.user(t, "plain@example.com")
	f.member(t, viewer, model.RoleViewer)
	f.member(t, plain, model.RoleMember)

	tests := []struct {
		name    string
		actor   int64
		groupID int64
		params  CreateParams
		want    apperr.Kind
	}{
		{"owner role", f.owner, f.group.ID, CreateParams{InviteeID: &bob, Role: model.RoleOwner}, apperr.KindValidation},
		{"unknown role", f.owner, f.group.ID, CreateParams{InviteeID: &bob, Role: "boss"}, apperr.KindValidation},
		{"no target", f.owner, f.group.ID, CreateParams{}, apperr.KindValidation},
		{"bad email", f.owner, f.group.ID, CreateParams{Email: "nobody"}, apperr.KindValidation},
		{"self", f.owner, f.group.ID, CreateParams{InviteeID: &f.owner}, apperr.KindValidation},
		{"already member", f.owner, f.group.ID, CreateParams{InviteeID: &plain}, apperr.KindConflict},
		{"viewer cannot invite", viewer, f.group.ID, CreateParams{InviteeID: &bob}, apperr.KindPermission},
		{"member cannot invite", plain, f.group.ID, CreateParams{InviteeID: &bob}, apperr.KindPermission},
		{"outsider cannot invite", bob, f.group.ID, CreateParams{Email: "x@example.com"}, apperr.KindPermission},
		{"missing group", f.owner, 9999, CreateParams{InviteeID: &bob}, apperr.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Create(ctx, tt.actor, tt.groupID, tt.params)
			if got := apperr.KindOf(err); got != tt.want {
				t.Errorf("kind = %s, want %s (err %v)", got, tt.want, err)
			}
		})
	}

	if _, err := f.svc.Create(ctx, f.owner, f.group.ID, CreateParams{InviteeID: &bob}); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := f.svc.Create(ctx, f.owner, f.group.ID, CreateParams{Email: "BOB@example.com"})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("duplicate pending err = %v, want conflict", err)
	}
}

func TestMembersCanInviteWhenAllowed(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	plain := f.user(t, "plain@example.com")
	f.member(t, plain, model.RoleMember)

	f.group.Settings.AllowMembersInvite = true
	if _, err := f.store.Groups.Update(f.group); err != nil {
		t.Fatalf("update group: %v", err)
	}
	inv, err := f.svc.Create(ctx, plain, f.group.ID, CreateParams{Email: "friend@example.com"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if inv.InviterID != plain {
		t.Errorf("inviter = %d, want %d", inv.InviterID, plain)
	}
}

func TestExpiredInvitation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	bob := f.user(t, "bob@example.com")

	inv, err := f.svc.Create(ctx, f.owner, f.group.ID, CreateParams{InviteeID: &bob})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	later := time.Now().Add(DefaultTTL + time.Hour)
	f.svc.now = func() time.Time { return later }

	if _, err := f.svc.Accept(ctx, bob, inv.ID); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("accept expired err = %v, want conflict", err)
	}
	stored, err := f.store.Invitations.GetByID(inv.ID)
	if err != nil {
		t.Fatalf("get invitation: %v", err)
	}
	if stored.Status != model.InvitationExpired {
		t.Errorf("stored status = %s, want expired", stored.Status)
	}
	if mine, err := f.svc.ListMine(ctx, bob); err != nil || len(mine) != 0 {
		t.Errorf("list mine = %+v, %v; want empty", mine, err)
	}
	if _, err := f.svc.Resend(ctx, f.owner, inv.ID); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("resend expired err = %v, want conflict", err)
	}
	// Expired invitations do not block a fresh one.
	if _, err := f.svc.Create(ctx, f.owner, f.group.ID, CreateParams{InviteeID: &bob}); err != nil {
		t.Errorf("re-invite after expiry: %v", err)
	}
}

func TestSweepExpired(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	for _, email := range []string{"a@example.com", "b@example.com"} {
		if _, err := f.svc.Create(ctx, f.owner, f.group.ID, CreateParams{Email: email}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	n, err := f.svc.SweepExpired(ctx)
	if err != nil || n != 0 {
		t.Fatalf("early sweep = %d, %v; want 0", n, err)
	}
	later := time.Now().Add(DefaultTTL + time.Hour)
	f.svc.now = func() time.Time { return later }
	n, err = f.svc.SweepExpired(ctx)
	if err != nil || n != 2 {
		t.Errorf("sweep = %d, %v; want 2", n, err)
	}
}

func TestResend(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	bob := f.user(t, "bob@example.com")

	inv, err := f.svc.Create(ctx, f.owner, f.group.ID, CreateParams{InviteeID: &bob})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	later := time.Now().Add(48 * time.Hour)
	f.svc.now = func() time.Time { return later }
	resent, err := f.svc.Resend(ctx, f.owner, inv.ID)
	if err != nil {
		t.Fatalf("resend: %v", err)
	}
	if !resent.ExpiresAt.After(inv.ExpiresAt) {
		t.Errorf("expires_at = %v, want after %v", resent.ExpiresAt, inv.ExpiresAt)
	}
	if resent.Token == "" || resent.Token == inv.Token {
		t.Error("resend did not issue a fresh token")
	}
	if _, err := f.svc.AcceptToken(ctx, bob, inv.Token); apperr.KindOf(err) != apperr.KindNotFound {
		t.Errorf("old token err = %v, want not found", err)
	}
	if _, err := f.svc.AcceptToken(ctx, bob, resent.Token); err != nil {
		t.Errorf("new token accept: %v", err)
	}
	if _, err := f.svc.Resend(ctx, bob, inv.ID); apperr.KindOf(err) != apperr.KindPermission {
		t.Errorf("invitee resend err = %v, want permission", err)
	}
}

func TestJoinByCode(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	bob := f.user(t, "bob@example.com")

	summary, err := f.svc.JoinByCode(ctx, bob, " joinme42 ")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if summary.ID != f.group.ID || summary.MemberCount != 2 {
		t.Errorf("summary = %+v", summary)
	}
	m := f.membership(t, bob)
	if !m.IsActive() || m.Role != model.RoleMember {
		t.Errorf("membership = %+v", m)
	}

	list, err := f.svc.ListForGroup(ctx, f.owner, f.group.ID, model.InvitationAccepted)
	if err != nil {
		t.Fatalf("list for group: %v", err)
	}
	if len(list) != 1 || list[0].Type != model.InviteCode {
		t.Errorf("audit invitations = %+v", list)
	}
	if got := f.notifications(t, f.owner); len(got) != 1 || got[0].Type != model.NotifMemberJoined {
		t.Errorf("owner notifications = %+v", got)
	}

	if _, err := f.svc.JoinByCode(ctx, bob, "JOINME42"); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("second join err = %v, want conflict", err)
	}
	if _, err := f.svc.JoinByCode(ctx, bob, "NOPE"); apperr.KindOf(err) != apperr.KindNotFound {
		t.Errorf("unknown code err = %v, want not found", err)
	}
	if _, err := f.svc.JoinByCode(ctx, bob, "  "); apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("empty code err = %v, want validation", err)
	}
}

func TestJoinByCodeReactivatesFormerMember(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	bob := f.user(t, "bob@example.com")
	f.member(t, bob, model.RoleAdmin)
	if err := f.store.Members.SetStatus(f.group.ID, bob, model.MemberInactive); err != nil {
		t.Fatalf("set status: %v", err)
	}

	if _, err := f.svc.JoinByCode(ctx, bob, "JOINME42"); err != nil {
		t.Fatalf("join: %v", err)
	}
	m := f.membership(t, bob)
	if !m.IsActive() || m.Role != model.RoleMember {
		t.Errorf("membership = %+v, want active member", m)
	}

	if err := f.store.Members.SetStatus(f.group.ID, bob, model.MemberBanned); err != nil {
		t.Fatalf("set status: %v", err)
	}
	if _, err := f.svc.JoinByCode(ctx, bob, "JOINME42"); apperr.KindOf(err) != apperr.KindPermission {
		t.Errorf("banned join err = %v, want permission", err)
	}
}

func TestConcurrentJoinByCode(t *testing.T) {
	t.Run("memory", func(t *testing.T) {
		concurrentJoin(t, setup(t), 2)
	})
	t.Run("file", func(t *testing.T) {
		for range 10 {
			concurrentJoin(t, setupAt(t, filepath.Join(t.TempDir(), "morandi.db")), 8)
		}
	})
}

func concurrentJoin(t *testing.T, f *fixture, callers int) {
	t.Helper()
	bob := f.user(t, "bob@example.com")

	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.svc.JoinByCode(context.Background(), bob, "JOINME42")
		}()
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, apperr.ErrConflict):
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || conflicts != callers-1 {
		t.Errorf("successes = %d, conflicts = %d; want 1 and %d", ok, conflicts, callers-1)
	}

	members, err := f.store.Members.List(f.group.ID, model.MemberActive)
	if err != nil {
		t.Fatalf("list members: %v", err)
	}
	if len(members) != 2 {
		t.Errorf("active members = %d, want 2", len(members))
	}
}
