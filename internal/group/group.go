// Package group manages calendar groups and their memberships.
package group

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dukerupert/morandi/internal/apperr"
	"github.com/dukerupert/morandi/internal/model"
	"github.com/dukerupert/morandi/internal/notify"
	"github.com/dukerupert/morandi/internal/permission"
	"github.com/dukerupert/morandi/internal/store"
	"github.com/dukerupert/morandi/internal/websocket"
)

const (
	DefaultCodeLength = 8
	maxNameLength     = 100
	codeAttempts      = 5
)

type CreateParams struct {
	Name        string                `json:"name"`
	Description string                `json:"description"`
	Visibility  model.GroupVisibility `json:"visibility"`
	Settings    *model.GroupSettings  `json:"settings,omitempty"`
	InviteCode  bool                  `json:"generate_invite_code"`
}

// UpdateParams carries a partial update; nil fields are left unchanged.
type UpdateParams struct {
	Name        *string                `json:"name,omitempty"`
	Description *string                `json:"description,omitempty"`
	Visibility  *model.GroupVisibility `json:"visibility,omitempty"`
	Settings    *model.GroupSettings   `json:"settings,omitempty"`
}

type Service struct {
	store      *store.Store
	notifier   *notify.Notifier
	pusher     notify.Pusher
	codeLength int
	logger     *slog.Logger
	now        func() time.Time
	newCode    func(n int) string
}

// New builds a Service. pusher may be nil.
func New(s *store.Store, n *notify.Notifier, pusher notify.Pusher, codeLength int, logger *slog.Logger) *Service {
	if codeLength <= 0 {
		codeLength = DefaultCodeLength
	}
	return &Service{
		store:      s,
		notifier:   n,
		pusher:     pusher,
		codeLength: codeLength,
		logger:     logger,
		now:        time.Now,
		newCode:    newInviteCode,
	}
}

// Create makes a group whose sole active member is the creator, as owner.
func (s *Service) Create(ctx context.Context, actorID int64, p CreateParams) (*model.Group, error) {
	g := &model.Group{
		Name:        strings.TrimSpace(p.Name),
		Description: strings.TrimSpace(p.Description),
		Visibility:  p.Visibility,
		CreatorID:   actorID,
		Settings:    model.DefaultGroupSettings(),
	}
	if g.Visibility == "" {
		g.Visibility = model.GroupPrivate
	}
	if p.Settings != nil {
		g.Settings = *p.Settings
	}
	if err := validate(g); err != nil {
		return nil, err
	}

	now := s.now()
	err := s.store.InTx(func(tx *store.Store) error {
		created, err := tx.Groups.Create(g)
		if err != nil {
			return apperr.Internal(err)
		}
		_, err = tx.Members.Add(&model.GroupMember{
			GroupID:  created.ID,
			UserID:   actorID,
			Role:     model.RoleOwner,
			Status:   model.MemberActive,
			JoinedAt: &now,
		})
		if err != nil {
			return apperr.Internal(err)
		}
		if _, err := tx.Groups.RecountMembers(created.ID); err != nil {
			return apperr.Internal(err)
		}
		g = created
		return nil
	})
	if err != nil {
		return nil, err
	}

	if p.InviteCode {
		if _, err := s.assignInviteCode(ctx, g.ID); err != nil {
			return nil, err
		}
	}
	s.logger.Info("group created", "group_id", g.ID, "creator_id", actorID)
	return s.reload(g.ID)
}

// Get returns a group. Public groups are readable by anyone; the rest only
// by their active members. The invite code is only shown to users who may
// hand it out.
func (s *Service) Get(ctx context.Context, actorID, id int64) (*model.Group, error) {
	g, member, err := s.load(id, actorID)
	if err != nil {
		return nil, err
	}
	if g.Visibility != model.GroupPublic && !permission.Allowed(g, member, actorID, permission.View) {
		return nil, apperr.NotFoundf("group not found")
	}
	if !canShareCode(g, member, actorID) {
		g.InviteCode = nil
	}
	return g, nil
}

// ListMine returns the active groups the caller belongs to.
func (s *Service) ListMine(ctx context.Context, actorID int64) ([]model.Group, error) {
	groups, err := s.store.Groups.ListForUser(actorID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	for i := range groups {
		if groups[i].CreatorID != actorID {
			member, err := s.store.Members.Get(groups[i].ID, actorID)
			if err != nil {
				return nil, apperr.Internal(err)
			}
			if !canShareCode(&groups[i], member, actorID) {
				groups[i].InviteCode = nil
			}
		}
	}
	return groups, nil
}

func (s *Service) Update(ctx context.Context, actorID, id int64, p UpdateParams) (*model.Group, error) {
	g, err := s.authorize(id, actorID, permission.EditGroup)
	if err != nil {
		return nil, err
	}
	if p.Name != nil {
		g.Name = strings.TrimSpace(*p.Name)
	}
	if p.Description != nil {
		g.Description = strings.TrimSpace(*p.Description)
	}
	if p.Visibility != nil {
		g.Visibility = *p.Visibility
	}
	if p.Settings != nil {
		g.Settings = *p.Settings
	}
	if err := validate(g); err != nil {
		return nil, err
	}

	updated, err := s.store.Groups.Update(g)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	s.logger.Info("group updated", "group_id", id, "actor_id", actorID)
	s.publish(id, "updated", updated.Summary())
	return updated, nil
}

// Deactivate retires a group: memberships become inactive, events are
// soft deleted and pending invitations are cancelled.
func (s *Service) Deactivate(ctx context.Context, actorID, id int64) error {
	if _, err := s.authorize(id, actorID, permission.DeleteGroup); err != nil {
		return err
	}
	recipients, err := s.store.Members.ActiveUserIDs(id)
	if err != nil {
		return apperr.Internal(err)
	}

	now := s.now()
	err = s.store.InTx(func(tx *store.Store) error {
		if err := tx.Groups.Deactivate(id); err != nil {
			return err
		}
		if err := tx.Members.DeactivateAll(id); err != nil {
			return err
		}
		if err := tx.Events.SoftDeleteByGroup(id); err != nil {
			return err
		}
		if err := tx.Invitations.CancelAllForGroup(id, now); err != nil {
			return err
		}
		_, err := tx.Groups.RecountMembers(id)
		return err
	})
	if err != nil {
		return apperr.Internal(err)
	}

	s.logger.Info("group deactivated", "group_id", id, "actor_id", actorID)
	if s.pusher != nil {
		s.pusher.SendTo(websocket.NewMessage("group", "deactivated", id, nil), recipients...)
	}
	return nil
}

// ListMembers returns the group's active members.
func (s *Service) ListMembers(ctx context.Context, actorID, groupID int64) ([]model.GroupMember, error) {
	if _, err := s.authorize(groupID, actorID, permission.View); err != nil {
		return nil, err
	}
	members, err := s.store.Members.List(groupID, model.MemberActive)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return members, nil
}

// ChangeRole sets an active member's role. Ownership cannot be granted,
// the creator's role never changes, and only owners may change the role of
// an admin or owner.
func (s *Service) ChangeRole(ctx context.Context, actorID, groupID, userID int64, role model.Role) (*model.GroupMember, error) {
	g, err := s.authorize(groupID, actorID, permission.EditGroup)
	if err != nil {
		return nil, err
	}
	if !role.Valid() || role == model.RoleOwner {
		return nil, apperr.Validationf("role must be admin, member or viewer")
	}
	if userID == g.CreatorID {
		return nil, apperr.Permissionf("the group creator's role cannot be changed")
	}
	target, err := s.activeMember(groupID, userID)
	if err != nil {
		return nil, err
	}
	if target.Role == role {
		return target, nil
	}
	if err := s.requireOwnerFor(g, actorID, target, "change the role of"); err != nil {
		return nil, err
	}
	if err := s.store.Members.SetRole(groupID, userID, role); err != nil {
		return nil, apperr.Internal(err)
	}

	s.logger.Info("member role changed", "group_id", groupID, "user_id", userID, "from", target.Role, "to", role)
	if userID != actorID {
		s.notifier.Notify(ctx, model.Notification{
			RecipientID: userID,
			SenderID:    notify.Int64(actorID),
			Type:        model.NotifRoleChanged,
			Title:       "Role changed",
			Message:     fmt.Sprintf("Your role in %s is now %s", g.Name, role),
			Data:        model.NotificationData{GroupID: notify.Int64(groupID)},
		})
	}
	target.Role = role
	s.publish(groupID, "member_updated", target)
	return target, nil
}

// RemoveMember deactivates another user's membership. Only owners may
// remove admins, and the creator can never be removed.
func (s *Service) RemoveMember(ctx context.Context, actorID, groupID, userID int64) error {
	if userID == actorID {
		return s.Leave(ctx, actorID, groupID)
	}
	g, err := s.authorize(groupID, actorID, permission.RemoveMember)
	if err != nil {
		return err
	}
	if userID == g.CreatorID {
		return apperr.Permissionf("the group creator cannot be removed")
	}
	target, err := s.activeMember(groupID, userID)
	if err != nil {
		return err
	}
	if err := s.requireOwnerFor(g, actorID, target, "remove"); err != nil {
		return err
	}
	if err := s.deactivateMember(groupID, userID); err != nil {
		return err
	}

	s.logger.Info("member removed", "group_id", groupID, "user_id", userID, "actor_id", actorID)
	s.notifier.Notify(ctx, model.Notification{
		RecipientID: userID,
		SenderID:    notify.Int64(actorID),
		Type:        model.NotifMemberRemoved,
		Title:       "Removed from group",
		Message:     fmt.Sprintf("You were removed from %s", g.Name),
		Data:        model.NotificationData{GroupID: notify.Int64(groupID)},
	})
	s.publish(groupID, "member_removed", map[string]int64{"user_id": userID})
	return nil
}

// requireOwnerFor rejects actions on admins and owners unless the actor is
// an owner or the group's creator.
func (s *Service) requireOwnerFor(g *model.Group, actorID int64, target *model.GroupMember, action string) error {
	if target.Role != model.RoleOwner && target.Role != model.RoleAdmin {
		return nil
	}
	if actorID == g.CreatorID {
		return nil
	}
	actor, err := s.store.Members.Get(g.ID, actorID)
	if err != nil {
		return apperr.Internal(err)
	}
	if actor == nil || actor.Role != model.RoleOwner {
		return apperr.Permissionf("only owners can %s %ss", action, target.Role)
	}
	return nil
}

// Leave ends the caller's own membership. The creator cannot leave.
func (s *Service) Leave(ctx context.Context, actorID, groupID int64) error {
	g, member, err := s.load(groupID, actorID)
	if err != nil {
		return err
	}
	if actorID == g.CreatorID {
		return apperr.Validationf("the group creator cannot leave; deactivate the group instead")
	}
	if !member.IsActive() {
		return apperr.NotFoundf("not a member of this group")
	}
	if err := s.deactivateMember(groupID, actorID); err != nil {
		return err
	}
	s.logger.Info("member left", "group_id", groupID, "user_id", actorID)
	s.publish(groupID, "member_left", map[string]int64{"user_id": actorID})
	return nil
}

// SetOverrides replaces a member's per-capability overrides.
func (s *Service) SetOverrides(ctx context.Context, actorID, groupID, userID int64, overrides map[string]bool) (*model.GroupMember, error) {
	g, err := s.authorize(groupID, actorID, permission.EditGroup)
	if err != nil {
		return nil, err
	}
	for key := range overrides {
		if !permission.Action(key).Valid() {
			return nil, apperr.Validationf("unknown permission %q", key)
		}
	}
	if userID == g.CreatorID {
		return nil, apperr.Validationf("the group creator always has every permission")
	}
	if _, err := s.activeMember(groupID, userID); err != nil {
		return nil, err
	}
	if err := s.store.Members.SetOverrides(groupID, userID, overrides); err != nil {
		return nil, apperr.Internal(err)
	}
	updated, err := s.store.Members.Get(groupID, userID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	s.logger.Info("member permissions set", "group_id", groupID, "user_id", userID)
	return updated, nil
}

// RegenerateInviteCode replaces the group's invite code.
func (s *Service) RegenerateInviteCode(ctx context.Context, actorID, groupID int64) (string, error) {
	if _, err := s.authorize(groupID, actorID, permission.EditGroup); err != nil {
		return "", err
	}
	return s.assignInviteCode(ctx, groupID)
}

// assignInviteCode stores a fresh random code, retrying on collisions with
// another group's code.
func (s *Service) assignInviteCode(ctx context.Context, groupID int64) (string, error) {
	var code string
	backoff := retry.WithMaxRetries(codeAttempts-1, retry.NewConstant(5*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		code = s.newCode(s.codeLength)
		err := s.store.Groups.SetInviteCode(groupID, &code)
		if errors.Is(err, store.ErrDuplicate) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return "", apperr.Internal(fmt.Errorf("assign invite code: %w", err))
	}
	return code, nil
}

func (s *Service) deactivateMember(groupID, userID int64) error {
	err := s.store.InTx(func(tx *store.Store) error {
		if err := tx.Members.SetStatus(groupID, userID, model.MemberInactive); err != nil {
			return err
		}
		_, err := tx.Groups.RecountMembers(groupID)
		return err
	})
	if err != nil {
		return apperr.Internal(err)
	}
	return nil
}

// authorize loads an active group and checks the caller may perform action.
func (s *Service) authorize(groupID, actorID int64, action permission.Action) (*model.Group, error) {
	g, member, err := s.load(groupID, actorID)
	if err != nil {
		return nil, err
	}
	if err := permission.Require(g, member, actorID, action); err != nil {
		return nil, err
	}
	return g, nil
}

func (s *Service) load(groupID, actorID int64) (*model.Group, *model.GroupMember, error) {
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

func (s *Service) activeMember(groupID, userID int64) (*model.GroupMember, error) {
	m, err := s.store.Members.Get(groupID, userID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if !m.IsActive() {
		return nil, apperr.NotFoundf("member not found")
	}
	return m, nil
}

func (s *Service) reload(id int64) (*model.Group, error) {
	g, err := s.store.Groups.GetByID(id)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return g, nil
}

// publish pushes a live group change to the group's active members.
func (s *Service) publish(groupID int64, action string, data any) {
	if s.pusher == nil {
		return
	}
	ids, err := s.store.Members.ActiveUserIDs(groupID)
	if err != nil {
		s.logger.Warn("list recipients for group update", "error", err, "group_id", groupID)
		return
	}
	s.pusher.SendTo(websocket.NewMessage("group", action, groupID, data), ids...)
}

func validate(g *model.Group) error {
	if g.Name == "" {
		return apperr.Validationf("name is required")
	}
	if len(g.Name) > maxNameLength {
		return apperr.Validationf("name must be at most %d characters", maxNameLength)
	}
	if !g.Visibility.Valid() {
		return apperr.Validationf("invalid visibility %q", g.Visibility)
	}
	if g.Settings.DefaultEventPrivacy == "" {
		g.Settings.DefaultEventPrivacy = model.PrivacyGroupOnly
	}
	if !g.Settings.DefaultEventPrivacy.Valid() {
		return apperr.Validationf("invalid default event privacy %q", g.Settings.DefaultEventPrivacy)
	}
	return nil
}

func canShareCode(g *model.Group, member *model.GroupMember, userID int64) bool {
	return permission.Allowed(g, member, userID, permission.InviteMember) ||
		(g.Settings.AllowMembersInvite && member.IsActive())
}

// newInviteCode returns n random characters from the base32 alphabet.
func newInviteCode(n int) string {
	var b strings.Builder
	for b.Len() < n {
		b.WriteString(rand.Text())
	}
	return b.String()[:n]
}
