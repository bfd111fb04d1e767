package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/morandi/internal/auth"
	"github.com/dukerupert/morandi/internal/group"
	"github.com/dukerupert/morandi/internal/model"
)

type GroupHandler struct {
	groups *group.Service
	logger *slog.Logger
}

func NewGroupHandler(g *group.Service, logger *slog.Logger) *GroupHandler {
	return &GroupHandler{groups: g, logger: logger}
}

func (h *GroupHandler) Create(w http.ResponseWriter, r *http.Request) {
	var p group.CreateParams
	if err := decode(r, &p); err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	g, err := h.groups.Create(r.Context(), auth.UserID(r.Context()), p)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

func (h *GroupHandler) List(w http.ResponseWriter, r *http.Request) {
	groups, err := h.groups.ListMine(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	if groups == nil {
		groups = []model.Group{}
	}
	writeJSON(w, http.StatusOK, groups)
}

func (h *GroupHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	g, err := h.groups.Get(r.Context(), auth.UserID(r.Context()), id)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (h *GroupHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	var p group.UpdateParams
	if err := decode(r, &p); err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	g, err := h.groups.Update(r.Context(), auth.UserID(r.Context()), id, p)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// Delete deactivates the group.
func (h *GroupHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	if err := h.groups.Deactivate(r.Context(), auth.UserID(r.Context()), id); err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *GroupHandler) Members(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	members, err := h.groups.ListMembers(r.Context(), auth.UserID(r.Context()), id)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	if members == nil {
		members = []model.GroupMember{}
	}
	writeJSON(w, http.StatusOK, members)
}

// memberParams reads the group and user ids of a /groups/{id}/members/{userId} route.
func memberParams(r *http.Request) (groupID, userID int64, err error) {
	if groupID, err = parseIDParam(r); err != nil {
		return 0, 0, err
	}
	if userID, err = pathID(r, "userId"); err != nil {
		return 0, 0, err
	}
	return groupID, userID, nil
}

type roleRequest struct {
	Role model.Role `json:"role"`
}

func (h *GroupHandler) ChangeRole(w http.ResponseWriter, r *http.Request) {
	groupID, userID, err := memberParams(r)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	var req roleRequest
	if err := decode(r, &req); err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	m, err := h.groups.ChangeRole(r.Context(), auth.UserID(r.Context()), groupID, userID, req.Role)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

type permissionsRequest struct {
	Overrides map[string]bool `json:"permission_overrides"`
}

func (h *GroupHandler) SetPermissions(w http.ResponseWriter, r *http.Request) {
	groupID, userID, err := memberParams(r)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	var req permissionsRequest
	if err := decode(r, &req); err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	m, err := h.groups.SetOverrides(r.Context(), auth.UserID(r.Context()), groupID, userID, req.Overrides)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *GroupHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	groupID, userID, err := memberParams(r)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	if err := h.groups.RemoveMember(r.Context(), auth.UserID(r.Context()), groupID, userID); err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *GroupHandler) Leave(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	if err := h.groups.Leave(r.Context(), auth.UserID(r.Context()), id); err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *GroupHandler) RegenerateInviteCode(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	code, err := h.groups.RegenerateInviteCode(r.Context(), auth.UserID(r.Context()), id)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"invite_code": code})
}
