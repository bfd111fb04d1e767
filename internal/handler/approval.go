package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/morandi/internal/approval"
	"github.com/dukerupert/morandi/internal/auth"
	"github.com/dukerupert/morandi/internal/model"
)

type ApprovalHandler struct {
	workflow *approval.Workflow
	logger   *slog.Logger
}

func NewApprovalHandler(wf *approval.Workflow, logger *slog.Logger) *ApprovalHandler {
	return &ApprovalHandler{workflow: wf, logger: logger}
}

func (h *ApprovalHandler) Pending(w http.ResponseWriter, r *http.Request) {
	groupID, err := parseIDParam(r)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	events, err := h.workflow.Pending(r.Context(), auth.UserID(r.Context()), groupID)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// Review approves or rejects a pending group event.
func (h *ApprovalHandler) Review(w http.ResponseWriter, r *http.Request) {
	groupID, err := parseIDParam(r)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	eventID, err := pathID(r, "eventId")
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	var d approval.Decision
	if err := decode(r, &d); err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	event, err := h.workflow.Review(r.Context(), auth.UserID(r.Context()), groupID, eventID, d)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}
