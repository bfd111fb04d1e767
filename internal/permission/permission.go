// Package permission maps group roles to capabilities.
package permission

import (
	"github.com/dukerupert/morandi/internal/apperr"
	"github.com/dukerupert/morandi/internal/model"
)

type Action string

const (
	View         Action = "view"
	CreateEvent  Action = "create_event"
	EditEvent    Action = "edit_event"
	DeleteEvent  Action = "delete_event"
	InviteMember Action = "invite_member"
	RemoveMember Action = "remove_member"
	EditGroup    Action = "edit_group"
	DeleteGroup  Action = "delete_group"
)

// Actions lists every action in matrix order.
var Actions = []Action{View, CreateEvent, EditEvent, DeleteEvent, InviteMember, RemoveMember, EditGroup, DeleteGroup}

func (a Action) Valid() bool {
	_, ok := matrix[a]
	return ok
}

var matrix = map[Action]map[model.Role]bool{
	View:         {model.RoleOwner: true, model.RoleAdmin: true, model.RoleMember: true, model.RoleViewer: true},
	CreateEvent:  {model.RoleOwner: true, model.RoleAdmin: true, model.RoleMember: true},
	EditEvent:    {model.RoleOwner: true, model.RoleAdmin: true},
	DeleteEvent:  {model.RoleOwner: true, model.RoleAdmin: true},
	InviteMember: {model.RoleOwner: true, model.RoleAdmin: true},
	RemoveMember: {model.RoleOwner: true, model.RoleAdmin: true},
	EditGroup:    {model.RoleOwner: true, model.RoleAdmin: true},
	DeleteGroup:  {model.RoleOwner: true},
}

// HasCapability reports whether role grants action.
func HasCapability(role model.Role, action Action) bool {
	return matrix[action][role]
}

// Capabilities returns the actions granted to role.
func Capabilities(role model.Role) []Action {
	var out []Action
	for _, a := range Actions {
		if HasCapability(role, a) {
			out = append(out, a)
		}
	}
	return out
}

// Allowed reports whether userID may perform action in group. The group
// creator always may. Otherwise the membership must be active; a per-member
// override, when present, replaces the role's answer.
func Allowed(group *model.Group, member *model.GroupMember, userID int64, action Action) bool {
	if group == nil || !group.IsActive {
		return false
	}
	if group.CreatorID == userID {
		return true
	}
	if !member.IsActive() || member.UserID != userID || member.GroupID != group.ID {
		return false
	}
	if v, ok := member.Overrides[string(action)]; ok {
		return v
	}
	return HasCapability(member.Role, action)
}

// Require is Allowed returning a permission error.
func Require(group *model.Group, member *model.GroupMember, userID int64, action Action) error {
	if Allowed(group, member, userID, action) {
		return nil
	}
	return apperr.Permissionf("missing %s permission", action)
}
