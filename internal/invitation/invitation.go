// Package invitation implements group membership offers and self-service
// joins by invite code.
package invitation

import (
	"context"
	"errors"
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

// DefaultTTL is how long an invitation stays acceptable.
const DefaultTTL = 7 * 24 * time.Hour

type CreateParams struct {
	InviteeID *int64     `json:"invitee_id,omitempty"`
	Email     string     `json:"email,omitempty"`
	Role      model.Role `json:"role,omitempty"`
	Message   string     `json:"message,omitempty"`
}

type Service struct {
	store    *store.Store
	notifier *notify.Notifier
	ttl      time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

func New(s *store.Store, n *notify.Notifier, ttl time.Duration, logger *slog.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{store: s, notifier: n, ttl: ttl, logger: logger, now: time.Now}
}

// Create invites a user, by account or by email, into a group. The caller
// needs invite_member, or an active membership when the group lets members
// invite. The returned invitation carries the plaintext link token.
func (s *Service) Create(ctx context.Context, actorID, groupID int64, p CreateParams) (*model.Invitation, error) {
	group, err := s.activeGroup(groupID)
	if err != nil {
		return nil, err
	}
	member, err := s.store.Members.Get(groupID, actorID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	allowed := permission.Allowed(group, member, actorID, permission.InviteMember) ||
		(group.Settings.AllowMembersInvite && member.IsActive())
	if !allowed {
		return nil, apperr.Permissionf("missing %s permission", permission.InviteMember)
	}

	role := p.Role
	if role == "" {
		role = model.RoleMember
	}
	if !role.Valid() || role == model.RoleOwner {
		return nil, apperr.Validationf("role must be admin, member or viewer")
	}

	inv := &model.Invitation{
		GroupID:   groupID,
		InviterID: actorID,
		Status:    model.InvitationPending,
		Role:      role,
		Message:   strings.TrimSpace(p.Message),
		ExpiresAt: s.now().Add(s.ttl),
	}
	email := strings.ToLower(strings.TrimSpace(p.Email))
	switch {
	case p.InviteeID != nil:
		invitee, err := s.store.Users.GetByID(*p.InviteeID)
		if err != nil {
			return nil, apperr.Internal(err)
		}
		if invitee == nil {
			return nil, apperr.NotFoundf("user not found")
		}
		inv.Type = model.InviteDirect
		inv.InviteeID = &invitee.ID
		inv.Email = strings.ToLower(invitee.Email)
	case email != "":
		if !strings.Contains(email, "@") {
			return nil, apperr.Validationf("invalid email address")
		}
		inv.Type = model.InviteEmail
		inv.Email = email
		// Registered users are addressed directly as well.
		if u, err := s.store.Users.GetByEmail(email); err != nil {
			return nil, apperr.Internal(err)
		} else if u != nil {
			inv.InviteeID = &u.ID
		}
	default:
		return nil, apperr.Validationf("invitee or email is required")
	}

	if inv.InviteeID != nil {
		if *inv.InviteeID == actorID {
			return nil, apperr.Validationf("cannot invite yourself")
		}
		existing, err := s.store.Members.Get(groupID, *inv.InviteeID)
		if err != nil {
			return nil, apperr.Internal(err)
		}
		if existing.IsActive() {
			return nil, apperr.Conflictf("user is already a member")
		}
		if existing != nil && existing.Status == model.MemberBanned {
			return nil, apperr.Permissionf("user is banned from this group")
		}
	}
	open, err := s.store.Invitations.FindPending(groupID, inv.InviteeID, inv.Email)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if open != nil && !open.IsExpired(s.now()) {
		return nil, apperr.Conflictf("an invitation is already pending")
	}
	if open != nil {
		s.expire(open)
	}

	token, digest := NewToken()
	created, err := s.store.Invitations.Create(inv, &digest)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	created.Token = token

	s.logger.Info("invitation created", "invitation_id", created.ID, "group_id", groupID, "type", created.Type)
	if created.InviteeID != nil {
		s.notifyInvitee(ctx, group, created)
	}
	return created, nil
}

// Accept accepts an invitation addressed to the caller.
func (s *Service) Accept(ctx context.Context, actorID, id int64) (*model.GroupMember, error) {
	inv, user, err := s.loadForInvitee(actorID, func() (*model.Invitation, error) {
		return s.store.Invitations.GetByID(id)
	})
	if err != nil {
		return nil, err
	}
	return s.accept(ctx, inv, user)
}

// AcceptToken accepts the invitation identified by a link token.
func (s *Service) AcceptToken(ctx context.Context, actorID int64, token string) (*model.GroupMember, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apperr.Validationf("token is required")
	}
	inv, user, err := s.loadForInvitee(actorID, func() (*model.Invitation, error) {
		return s.store.Invitations.GetByTokenHash(Digest(token))
	})
	if err != nil {
		return nil, err
	}
	return s.accept(ctx, inv, user)
}

func (s *Service) accept(ctx context.Context, inv *model.Invitation, actor *model.User) (*model.GroupMember, error) {
	if inv.Status != model.InvitationPending {
		return nil, apperr.Conflictf("invitation already %s", inv.Status)
	}

	userID, err := s.resolveInvitee(inv)
	if err != nil {
		return nil, err
	}
	if userID != actor.ID {
		return nil, apperr.NotFoundf("invitation not found")
	}
	group, err := s.activeGroup(inv.GroupID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var member *model.GroupMember
	err = s.store.InTx(func(tx *store.Store) error {
		var err error
		member, err = join(tx, group.ID, userID, inv.Role, &inv.InviterID, now)
		if err != nil {
			return err
		}
		ok, err := tx.Invitations.Respond(inv.ID, model.InvitationAccepted, now)
		if err != nil {
			return apperr.Internal(err)
		}
		if !ok {
			return apperr.Conflictf("invitation is no longer pending")
		}
		if inv.InviteeID == nil {
			if err := tx.Invitations.SetInvitee(inv.ID, userID); err != nil {
				return apperr.Internal(err)
			}
		}
		if _, err := tx.Groups.RecountMembers(group.ID); err != nil {
			return apperr.Internal(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("invitation accepted", "invitation_id", inv.ID, "group_id", group.ID, "user_id", userID)
	s.notifier.Notify(ctx, model.Notification{
		RecipientID: inv.InviterID,
		SenderID:    notify.Int64(userID),
		Type:        model.NotifInvitationAccepted,
		Title:       "Invitation accepted",
		Message:     fmt.Sprintf("%s joined %s", displayName(actor), group.Name),
		Data:        model.NotificationData{GroupID: notify.Int64(group.ID), InvitationID: notify.Int64(inv.ID)},
	})
	return member, nil
}

// Decline declines an invitation addressed to the caller.
func (s *Service) Decline(ctx context.Context, actorID, id int64) (*model.Invitation, error) {
	inv, user, err := s.loadForInvitee(actorID, func() (*model.Invitation, error) {
		return s.store.Invitations.GetByID(id)
	})
	if err != nil {
		return nil, err
	}
	updated, err := s.respond(inv, model.InvitationDeclined)
	if err != nil {
		return nil, err
	}

	s.notifier.Notify(ctx, model.Notification{
		RecipientID: inv.InviterID,
		SenderID:    notify.Int64(user.ID),
		Type:        model.NotifInvitationDeclined,
		Title:       "Invitation declined",
		Message:     fmt.Sprintf("%s declined your invitation", displayName(user)),
		Data:        model.NotificationData{GroupID: notify.Int64(inv.GroupID), InvitationID: notify.Int64(inv.ID)},
	})
	return updated, nil
}

// Cancel withdraws a pending invitation. Only the inviter may cancel.
func (s *Service) Cancel(ctx context.Context, actorID, id int64) (*model.Invitation, error) {
	inv, err := s.loadForInviter(actorID, id)
	if err != nil {
		return nil, err
	}
	return s.respond(inv, model.InvitationCancelled)
}

// Resend pushes a pending invitation's expiry forward and issues a fresh
// link token. Only the inviter may resend.
func (s *Service) Resend(ctx context.Context, actorID, id int64) (*model.Invitation, error) {
	inv, err := s.loadForInviter(actorID, id)
	if err != nil {
		return nil, err
	}
	if inv.Status != model.InvitationPending {
		return nil, apperr.Conflictf("invitation already %s", inv.Status)
	}
	group, err := s.activeGroup(inv.GroupID)
	if err != nil {
		return nil, err
	}

	token, digest := NewToken()
	ok, err := s.store.Invitations.Renew(inv.ID, s.now().Add(s.ttl), digest)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if !ok {
		return nil, apperr.Conflictf("invitation is no longer pending")
	}
	updated, err := s.store.Invitations.GetByID(inv.ID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	updated.Token = token

	if updated.InviteeID != nil {
		s.notifyInvitee(ctx, group, updated)
	}
	return updated, nil
}

// JoinByCode adds the caller to the group owning code and records an
// already-accepted invitation for the audit trail.
func (s *Service) JoinByCode(ctx context.Context, actorID int64, code string) (*model.GroupSummary, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, apperr.Validationf("invite code is required")
	}
	user, err := s.store.Users.GetByID(actorID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if user == nil {
		return nil, apperr.NotFoundf("user not found")
	}
	group, err := s.store.Groups.GetByInviteCode(code)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if group == nil {
		return nil, apperr.NotFoundf("invite code not found")
	}

	now := s.now()
	err = s.store.InTx(func(tx *store.Store) error {
		if _, err := join(tx, group.ID, actorID, model.RoleMember, nil, now); err != nil {
			return err
		}
		_, err := tx.Invitations.Create(&model.Invitation{
			GroupID:     group.ID,
			InviterID:   group.CreatorID,
			InviteeID:   &actorID,
			Email:       strings.ToLower(user.Email),
			Type:        model.InviteCode,
			Status:      model.InvitationAccepted,
			Role:        model.RoleMember,
			ExpiresAt:   now,
			RespondedAt: &now,
		}, nil)
		if err != nil {
			return apperr.Internal(err)
		}
		if _, err := tx.Groups.RecountMembers(group.ID); err != nil {
			return apperr.Internal(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	updated, err := s.store.Groups.GetByID(group.ID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	s.logger.Info("joined by code", "group_id", group.ID, "user_id", actorID)
	s.notifier.Notify(ctx, model.Notification{
		RecipientID: group.CreatorID,
		SenderID:    notify.Int64(actorID),
		Type:        model.NotifMemberJoined,
		Title:       "New member",
		Message:     fmt.Sprintf("%s joined %s", displayName(user), group.Name),
		Data:        model.NotificationData{GroupID: notify.Int64(group.ID)},
	})
	summary := updated.Summary()
	return &summary, nil
}

// ListMine returns the caller's pending invitations.
func (s *Service) ListMine(ctx context.Context, actorID int64) ([]model.Invitation, error) {
	user, err := s.store.Users.GetByID(actorID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if user == nil {
		return nil, apperr.NotFoundf("user not found")
	}
	list, err := s.store.Invitations.ListPendingFor(user.ID, user.Email)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	out := list[:0]
	for i := range list {
		if s.refresh(&list[i]) {
			out = append(out, list[i])
		}
	}
	return out, nil
}

// ListForGroup returns a group's invitations; the caller needs invite_member.
func (s *Service) ListForGroup(ctx context.Context, actorID, groupID int64, status model.InvitationStatus) ([]model.Invitation, error) {
	group, err := s.activeGroup(groupID)
	if err != nil {
		return nil, err
	}
	member, err := s.store.Members.Get(groupID, actorID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if err := permission.Require(group, member, actorID, permission.InviteMember); err != nil {
		return nil, err
	}
	list, err := s.store.Invitations.ListForGroup(groupID, "")
	if err != nil {
		return nil, apperr.Internal(err)
	}
	out := list[:0]
	for i := range list {
		s.refresh(&list[i])
		if status == "" || list[i].Status == status {
			out = append(out, list[i])
		}
	}
	return out, nil
}

// SweepExpired persists the expired status of every overdue invitation.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	return s.store.Invitations.ExpireAll(s.now())
}

// join makes userID an active member of the group. It must run inside a
// transaction.
func join(tx *store.Store, groupID, userID int64, role model.Role, invitedBy *int64, now time.Time) (*model.GroupMember, error) {
	existing, err := tx.Members.Get(groupID, userID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	switch {
	case existing.IsActive():
		return nil, apperr.Conflictf("already a member of this group")
	case existing != nil && existing.Status == model.MemberBanned:
		return nil, apperr.Permissionf("banned from this group")
	case existing != nil:
		ok, err := tx.Members.Activate(groupID, userID, role, now, invitedBy)
		if err != nil {
			return nil, apperr.Internal(err)
		}
		if !ok {
			return nil, apperr.Conflictf("already a member of this group")
		}
	default:
		_, err := tx.Members.Add(&model.GroupMember{
			GroupID:   groupID,
			UserID:    userID,
			Role:      role,
			Status:    model.MemberActive,
			JoinedAt:  &now,
			InvitedBy: invitedBy,
		})
		if errors.Is(err, store.ErrDuplicate) {
			return nil, apperr.Conflictf("already a member of this group")
		}
		if err != nil {
			return nil, apperr.Internal(err)
		}
	}
	m, err := tx.Members.Get(groupID, userID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return m, nil
}

func (s *Service) respond(inv *model.Invitation, status model.InvitationStatus) (*model.Invitation, error) {
	if inv.Status != model.InvitationPending {
		return nil, apperr.Conflictf("invitation already %s", inv.Status)
	}
	ok, err := s.store.Invitations.Respond(inv.ID, status, s.now())
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if !ok {
		return nil, apperr.Conflictf("invitation is no longer pending")
	}
	s.logger.Info("invitation "+string(status), "invitation_id", inv.ID, "group_id", inv.GroupID)
	updated, err := s.store.Invitations.GetByID(inv.ID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return updated, nil
}

func (s *Service) loadForInvitee(actorID int64, get func() (*model.Invitation, error)) (*model.Invitation, *model.User, error) {
	user, err := s.store.Users.GetByID(actorID)
	if err != nil {
		return nil, nil, apperr.Internal(err)
	}
	if user == nil {
		return nil, nil, apperr.NotFoundf("user not found")
	}
	inv, err := get()
	if err != nil {
		return nil, nil, apperr.Internal(err)
	}
	if inv == nil || !addressedTo(inv, user) {
		return nil, nil, apperr.NotFoundf("invitation not found")
	}
	s.refresh(inv)
	return inv, user, nil
}

func (s *Service) loadForInviter(actorID, id int64) (*model.Invitation, error) {
	inv, err := s.store.Invitations.GetByID(id)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if inv == nil {
		return nil, apperr.NotFoundf("invitation not found")
	}
	if inv.InviterID != actorID {
		return nil, apperr.Permissionf("only the inviter can change this invitation")
	}
	s.refresh(inv)
	return inv, nil
}

// refresh applies lazy expiry to inv, persisting it when it changes, and
// reports whether inv is still pending.
func (s *Service) refresh(inv *model.Invitation) bool {
	if inv.IsExpired(s.now()) {
		s.expire(inv)
	}
	return inv.Status == model.InvitationPending
}

func (s *Service) expire(inv *model.Invitation) {
	if _, err := s.store.Invitations.Expire(inv.ID, s.now()); err != nil {
		s.logger.Error("persist invitation expiry", "error", err, "invitation_id", inv.ID)
	}
	inv.Status = model.InvitationExpired
}

func (s *Service) resolveInvitee(inv *model.Invitation) (int64, error) {
	if inv.InviteeID != nil {
		return *inv.InviteeID, nil
	}
	if inv.Email != "" {
		u, err := s.store.Users.GetByEmail(inv.Email)
		if err != nil {
			return 0, apperr.Internal(err)
		}
		if u != nil {
			return u.ID, nil
		}
	}
	return 0, apperr.NotFoundf("no account matches this invitation")
}

func (s *Service) notifyInvitee(ctx context.Context, group *model.Group, inv *model.Invitation) {
	s.notifier.Notify(ctx, model.Notification{
		RecipientID: *inv.InviteeID,
		SenderID:    notify.Int64(inv.InviterID),
		Type:        model.NotifGroupInvitation,
		Title:       "Group invitation",
		Message:     fmt.Sprintf("You have been invited to join %s", group.Name),
		Data:        model.NotificationData{GroupID: notify.Int64(group.ID), InvitationID: notify.Int64(inv.ID)},
	})
}

func (s *Service) activeGroup(groupID int64) (*model.Group, error) {
	group, err := s.store.Groups.GetByID(groupID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if group == nil || !group.IsActive {
		return nil, apperr.NotFoundf("group not found")
	}
	return group, nil
}

func addressedTo(inv *model.Invitation, u *model.User) bool {
	if inv.InviteeID != nil && *inv.InviteeID == u.ID {
		return true
	}
	return inv.Email != "" && strings.EqualFold(inv.Email, u.Email)
}

// NormalizeCode canonicalizes user-typed invite codes.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func displayName(u *model.User) string {
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}
