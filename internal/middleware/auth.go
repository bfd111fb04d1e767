package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/dukerupert/morandi/internal/auth"
	"github.com/dukerupert/morandi/internal/store"
)

// RequireAuth validates the bearer token, checks the user still exists, and
// populates AuthContext. Browsers cannot set headers on websocket upgrades,
// so an access_token query parameter is accepted as well.
func RequireAuth(tokens *auth.Tokens, users *store.UserStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}

			ac, err := tokens.Verify(raw)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			user, err := users.GetByID(ac.UserID)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}
			if user == nil {
				writeError(w, http.StatusUnauthorized, "unknown user")
				return
			}
			ac.Email = user.Email

			ctx := auth.WithAuth(r.Context(), ac)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return ""
		}
		return strings.TrimSpace(token)
	}
	return r.URL.Query().Get("access_token")
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"success": false, "message": message})
}
