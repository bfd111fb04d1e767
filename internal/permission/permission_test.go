package permission

import (
	"testing"

	"github.com/dukerupert/morandi/internal/model"
)

func TestCapabilityMatrix(t *testing.T) {
	want := map[Action][4]bool{ // owner, admin, member, viewer
		View:         {true, true, true, true},
		CreateEvent:  {true, true, true, false},
		EditEvent:    {true, true, false, false},
		DeleteEvent:  {true, true, false, false},
		InviteMember: {true, true, false, false},
		RemoveMember: {true, true, false, false},
		EditGroup:    {true, true, false, false},
		DeleteGroup:  {true, false, false, false},
	}
	roles := [4]model.Role{model.RoleOwner, model.RoleAdmin, model.RoleMember, model.RoleViewer}

	for action, row := range want {
		for i, role := range roles {
			if got := HasCapability(role, action); got != row[i] {
				t.Errorf("HasCapability(%s, %s) = %v, want %v", role, action, got, row[i])
			}
		}
	}
	if HasCapability("superuser", View) {
		t.Error("unknown role should have no capabilities")
	}
	if HasCapability(model.RoleOwner, "launch_rockets") {
		t.Error("unknown action should never be granted")
	}
}

func TestCapabilities(t *testing.T) {
	if got := len(Capabilities(model.RoleOwner)); got != len(Actions) {
		t.Errorf("owner has %d capabilities, want %d", got, len(Actions))
	}
	got := Capabilities(model.RoleViewer)
	if len(got) != 1 || got[0] != View {
		t.Errorf("viewer capabilities = %v, want [view]", got)
	}
}

func testGroup() *model.Group {
	return &model.Group{ID: 7, CreatorID: 1, IsActive: true}
}

func member(userID int64, role model.Role, status model.MemberStatus) *model.GroupMember {
	return &model.GroupMember{GroupID: 7, UserID: userID, Role: role, Status: status}
}

func TestCreatorAlwaysAllowed(t *testing.T) {
	g := testGroup()
	// Stored role has drifted to viewer and the row is inactive.
	m := member(1, model.RoleViewer, model.MemberInactive)
	for _, a := range Actions {
		if !Allowed(g, m, 1, a) {
			t.Errorf("creator denied %s", a)
		}
		if !Allowed(g, nil, 1, a) {
			t.Errorf("creator without membership denied %s", a)
		}
	}
}

func TestInactiveMembersHaveNothing(t *testing.T) {
	g := testGroup()
	for _, status := range []model.MemberStatus{model.MemberPending, model.MemberInactive, model.MemberBanned} {
		m := member(2, model.RoleAdmin, status)
		for _, a := range Actions {
			if Allowed(g, m, 2, a) {
				t.Errorf("%s admin allowed %s", status, a)
			}
		}
	}
	if Allowed(g, nil, 2, View) {
		t.Error("non-member allowed view")
	}
}

func TestAllowedFollowsRole(t *testing.T) {
	g := testGroup()
	m := member(2, model.RoleMember, model.MemberActive)
	if !Allowed(g, m, 2, CreateEvent) {
		t.Error("member denied create_event")
	}
	if Allowed(g, m, 2, EditEvent) {
		t.Error("member allowed edit_event")
	}
}

func TestAllowedRejectsMismatchedMembership(t *testing.T) {
	g := testGroup()
	m := member(2, model.RoleAdmin, model.MemberActive)
	if Allowed(g, m, 3, EditEvent) {
		t.Error("membership of user 2 granted user 3")
	}
	m.GroupID = 8
	if Allowed(g, m, 2, EditEvent) {
		t.Error("membership of group 8 granted group 7")
	}
}

func TestOverrides(t *testing.T) {
	g := testGroup()
	m := member(2, model.RoleMember, model.MemberActive)
	m.Overrides = map[string]bool{string(InviteMember): true, string(CreateEvent): false}

	if !Allowed(g, m, 2, InviteMember) {
		t.Error("override should grant invite_member")
	}
	if Allowed(g, m, 2, CreateEvent) {
		t.Error("override should revoke create_event")
	}
	if !Allowed(g, m, 2, View) {
		t.Error("unrelated capability should follow role")
	}
}

func TestDeactivatedGroup(t *testing.T) {
	g := testGroup()
	g.IsActive = false
	if Allowed(g, member(2, model.RoleOwner, model.MemberActive), 2, View) {
		t.Error("deactivated group granted view")
	}
	if Allowed(g, nil, 1, View) {
		t.Error("deactivated group granted creator view")
	}
}

func TestRequire(t *testing.T) {
	g := testGroup()
	if err := Require(g, member(2, model.RoleViewer, model.MemberActive), 2, CreateEvent); err == nil {
		t.Error("Require should fail for viewer create_event")
	}
	if err := Require(g, member(2, model.RoleAdmin, model.MemberActive), 2, EditGroup); err != nil {
		t.Errorf("Require error: %v", err)
	}
}
