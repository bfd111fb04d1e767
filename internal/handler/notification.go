package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/morandi/internal/apperr"
	"github.com/dukerupert/morandi/internal/auth"
	"github.com/dukerupert/morandi/internal/model"
	"github.com/dukerupert/morandi/internal/store"
)

const (
	defaultNotificationLimit = 50
	maxNotificationLimit     = 200
)

type NotificationHandler struct {
	notifications *store.NotificationStore
	logger        *slog.Logger
	now           func() time.Time
}

func NewNotificationHandler(ns *store.NotificationStore, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{notifications: ns, logger: logger, now: time.Now}
}

// List handles GET /notifications?status=&limit=. Without a status, unread
// and read notifications are returned.
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	status := model.NotificationStatus(r.URL.Query().Get("status"))
	switch status {
	case "", model.NotificationUnread, model.NotificationRead, model.NotificationArchived:
	default:
		writeErr(w, r, h.logger, apperr.Validationf("invalid status %q", status))
		return
	}
	limit := queryInt(r, "limit", defaultNotificationLimit, maxNotificationLimit)

	list, err := h.notifications.ListForUser(auth.UserID(r.Context()), status, limit)
	if err != nil {
		writeErr(w, r, h.logger, apperr.Internal(err))
		return
	}
	if list == nil {
		list = []model.Notification{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *NotificationHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.notifications.UnreadCount(auth.UserID(r.Context()))
	if err != nil {
		writeErr(w, r, h.logger, apperr.Internal(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	ok, err := h.notifications.MarkRead(id, auth.UserID(r.Context()), h.now())
	h.respondChanged(w, r, ok, err)
}

func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.notifications.MarkAllRead(auth.UserID(r.Context()), h.now())
	if err != nil {
		writeErr(w, r, h.logger, apperr.Internal(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"updated": n})
}

func (h *NotificationHandler) Archive(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	ok, err := h.notifications.Archive(id, auth.UserID(r.Context()))
	h.respondChanged(w, r, ok, err)
}

// respondChanged answers a single-row update. Rows that belong to someone
// else, or are already in the target state, report not found.
func (h *NotificationHandler) respondChanged(w http.ResponseWriter, r *http.Request, ok bool, err error) {
	switch {
	case err != nil:
		writeErr(w, r, h.logger, apperr.Internal(err))
	case !ok:
		writeErr(w, r, h.logger, apperr.NotFoundf("notification not found"))
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}
