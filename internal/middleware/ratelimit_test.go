package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukerupert/morandi/internal/auth"
)

func TestRateLimiterAllow(t *testing.T) {
	rl := NewRateLimiter()
	for i := range 5 {
		if !rl.Allow("user:1", 5, time.Minute) {
			t.Fatalf("attempt %d denied", i+1)
		}
	}
	if rl.Allow("user:1", 5, time.Minute) {
		t.Error("attempt over the limit allowed")
	}
	if !rl.Allow("user:2", 5, time.Minute) {
		t.Error("separate key shares the limit")
	}
}

func TestRateLimiterPeriodReset(t *testing.T) {
	rl := NewRateLimiter()
	for range 2 {
		rl.Allow("k", 2, 10*time.Millisecond)
	}
	if rl.Allow("k", 2, 10*time.Millisecond) {
		t.Error("allowed within the period")
	}
	time.Sleep(15 * time.Millisecond)
	if !rl.Allow("k", 2, 10*time.Millisecond) {
		t.Error("denied after the period reset")
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter()
	rl.Allow("stale", 5, 10*time.Millisecond)
	time.Sleep(15 * time.Millisecond)
	rl.Allow("fresh", 5, time.Minute)

	rl.Cleanup()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.entries["stale"]; ok {
		t.Error("stale entry kept")
	}
	if _, ok := rl.entries["fresh"]; !ok {
		t.Error("fresh entry removed")
	}
}

func TestRateLimitPerUser(t *testing.T) {
	handler := RateLimit(NewRateLimiter(), UserKey, 1, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	call := func(userID int64) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/invitations/join-by-code", nil)
		req = req.WithContext(auth.WithAuth(req.Context(), auth.AuthContext{UserID: userID}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	if rec := call(1); rec.Code != http.StatusNoContent {
		t.Fatalf("first call status = %d", rec.Code)
	}
	rec := call(1)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second call status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
	if rec.Header().Get("Retry-After") != "60" {
		t.Errorf("Retry-After = %q, want 60", rec.Header().Get("Retry-After"))
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["success"] != false {
		t.Errorf("body = %v", body)
	}
	if rec := call(2); rec.Code != http.StatusNoContent {
		t.Errorf("other user status = %d", rec.Code)
	}
}

func TestUserKeyFallsBackToIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.9:4242"
	if got := UserKey(req); got != "ip:203.0.113.9" {
		t.Errorf("UserKey = %q", got)
	}
}

func TestRealIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"cloudflare", map[string]string{"CF-Connecting-IP": "198.51.100.1", "X-Forwarded-For": "10.0.0.1"}, "198.51.100.1"},
		{"forwarded chain", map[string]string{"X-Forwarded-For": "198.51.100.2, 10.0.0.1"}, "198.51.100.2"},
		{"remote addr", nil, "192.0.2.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = "192.0.2.1:1234"
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := RealIP(req); got != tt.want {
				t.Errorf("RealIP = %q, want %q", got, tt.want)
			}
		})
	}
}
