package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/morandi/internal/auth"
	"github.com/dukerupert/morandi/internal/calendar"
	"github.com/dukerupert/morandi/internal/ics"
	"github.com/dukerupert/morandi/internal/model"
)

const maxImportBytes = 4 << 20

type EventHandler struct {
	calendar *calendar.Service
	exporter *ics.Exporter
	importer *ics.Importer
	logger   *slog.Logger
	now      func() time.Time
}

func NewEventHandler(c *calendar.Service, x *ics.Exporter, im *ics.Importer, logger *slog.Logger) *EventHandler {
	return &EventHandler{calendar: c, exporter: x, importer: im, logger: logger, now: time.Now}
}

// List returns the caller's visible events in the requested window with
// recurring series expanded.
func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	rng, err := parseRange(r, h.now())
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	events, err := h.calendar.List(r.Context(), auth.UserID(r.Context()), rng)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (h *EventHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	event, err := h.calendar.Get(r.Context(), auth.UserID(r.Context()), id)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

func (h *EventHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in calendar.EventInput
	if err := decode(r, &in); err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	event, err := h.calendar.CreatePersonal(r.Context(), auth.UserID(r.Context()), in)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, event)
}

// CreateInGroup handles POST /groups/{id}/events.
func (h *EventHandler) CreateInGroup(w http.ResponseWriter, r *http.Request) {
	groupID, err := parseIDParam(r)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	var in calendar.EventInput
	if err := decode(r, &in); err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	event, err := h.calendar.CreateInGroup(r.Context(), auth.UserID(r.Context()), groupID, in)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, event)
}

func (h *EventHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	var in calendar.EventInput
	if err := decode(r, &in); err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	event, err := h.calendar.Update(r.Context(), auth.UserID(r.Context()), id, in)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

func (h *EventHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	if err := h.calendar.Delete(r.Context(), auth.UserID(r.Context()), id); err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type shareRequest struct {
	SharedWith []model.Share `json:"shared_with"`
}

// Share replaces the event's share list.
func (h *EventHandler) Share(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	var req shareRequest
	if err := decode(r, &req); err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	event, err := h.calendar.Share(r.Context(), auth.UserID(r.Context()), id, req.SharedWith)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// Export serves the caller's window as text/calendar.
func (h *EventHandler) Export(w http.ResponseWriter, r *http.Request) {
	rng, err := parseRange(r, h.now())
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	doc, err := h.exporter.Export(r.Context(), auth.UserID(r.Context()), rng)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="morandi.ics"`)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(doc))
}

// Import stores an uploaded iCalendar document as personal events.
func (h *EventHandler) Import(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxImportBytes)
	res, err := h.importer.Import(r.Context(), auth.UserID(r.Context()), body)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}
