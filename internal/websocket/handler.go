package websocket

import (
	"log/slog"
	"net/http"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/morandi/internal/auth"
)

// HandleWebSocket upgrades authenticated requests and runs them as hub
// clients. originPatterns restricts cross-origin upgrades; an empty list
// allows same-origin only.
func HandleWebSocket(hub *Hub, originPatterns []string, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ac, ok := auth.FromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := ws.Accept(w, r, &ws.AcceptOptions{OriginPatterns: originPatterns})
		if err != nil {
			logger.Warn("websocket accept", "error", err, "user_id", ac.UserID)
			return
		}

		client := NewClient(hub, conn, ac.UserID)
		client.Run(r.Context())
	}
}
