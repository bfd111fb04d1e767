package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dukerupert/morandi/internal/apperr"
	"github.com/dukerupert/morandi/internal/auth"
	"github.com/dukerupert/morandi/internal/invitation"
	"github.com/dukerupert/morandi/internal/model"
)

type InvitationHandler struct {
	invitations *invitation.Service
	logger      *slog.Logger
}

func NewInvitationHandler(s *invitation.Service, logger *slog.Logger) *InvitationHandler {
	return &InvitationHandler{invitations: s, logger: logger}
}

// Create handles POST /groups/{id}/invitations.
func (h *InvitationHandler) Create(w http.ResponseWriter, r *http.Request) {
	groupID, err := parseIDParam(r)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	var p invitation.CreateParams
	if err := decode(r, &p); err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	inv, err := h.invitations.Create(r.Context(), auth.UserID(r.Context()), groupID, p)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}

// ListForGroup handles GET /groups/{id}/invitations?status=.
func (h *InvitationHandler) ListForGroup(w http.ResponseWriter, r *http.Request) {
	groupID, err := parseIDParam(r)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	status := model.InvitationStatus(r.URL.Query().Get("status"))
	list, err := h.invitations.ListForGroup(r.Context(), auth.UserID(r.Context()), groupID, status)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	writeList(w, list)
}

// ListMine returns the caller's pending invitations.
func (h *InvitationHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	list, err := h.invitations.ListMine(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	writeList(w, list)
}

func writeList(w http.ResponseWriter, list []model.Invitation) {
	if list == nil {
		list = []model.Invitation{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *InvitationHandler) Accept(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	m, err := h.invitations.Accept(r.Context(), auth.UserID(r.Context()), id)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

type tokenRequest struct {
	Token string `json:"token"`
}

// AcceptToken accepts an invitation from its emailed link token.
func (h *InvitationHandler) AcceptToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decode(r, &req); err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	if req.Token == "" {
		writeErr(w, r, h.logger, apperr.Validationf("token is required"))
		return
	}
	m, err := h.invitations.AcceptToken(r.Context(), auth.UserID(r.Context()), req.Token)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *InvitationHandler) Decline(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.invitations.Decline)
}

func (h *InvitationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.invitations.Cancel)
}

func (h *InvitationHandler) Resend(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.invitations.Resend)
}

func (h *InvitationHandler) transition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, actorID, id int64) (*model.Invitation, error)) {
	id, err := parseIDParam(r)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	inv, err := fn(r.Context(), auth.UserID(r.Context()), id)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

type joinRequest struct {
	InviteCode string `json:"inviteCode"`
}

// JoinByCode adds the caller to the group owning the invite code.
func (h *InvitationHandler) JoinByCode(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := decode(r, &req); err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	if invitation.NormalizeCode(req.InviteCode) == "" {
		writeErr(w, r, h.logger, apperr.Validationf("inviteCode is required"))
		return
	}
	summary, err := h.invitations.JoinByCode(r.Context(), auth.UserID(r.Context()), req.InviteCode)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
