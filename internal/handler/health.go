package handler

import (
	"context"
	"database/sql"
	"net/http"
	"time"
)

// ClientCounter reports live websocket connections.
type ClientCounter interface {
	ClientCount() int
}

type HealthHandler struct {
	db      *sql.DB
	clients ClientCounter
}

func NewHealthHandler(db *sql.DB, clients ClientCounter) *HealthHandler {
	return &HealthHandler{db: db, clients: clients}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.db.PingContext(ctx); err != nil {
		writeMessage(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "connections": h.clients.ClientCount()})
}
