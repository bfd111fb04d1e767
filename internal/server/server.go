// Package server assembles the stores, services and handlers into the HTTP
// router.
package server

import (
	"database/sql"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/cors"

	"github.com/dukerupert/morandi/internal/approval"
	"github.com/dukerupert/morandi/internal/auth"
	"github.com/dukerupert/morandi/internal/calendar"
	"github.com/dukerupert/morandi/internal/config"
	"github.com/dukerupert/morandi/internal/group"
	"github.com/dukerupert/morandi/internal/handler"
	"github.com/dukerupert/morandi/internal/ics"
	"github.com/dukerupert/morandi/internal/invitation"
	"github.com/dukerupert/morandi/internal/middleware"
	"github.com/dukerupert/morandi/internal/notify"
	"github.com/dukerupert/morandi/internal/recurrence"
	"github.com/dukerupert/morandi/internal/store"
	"github.com/dukerupert/morandi/internal/sweeper"
	"github.com/dukerupert/morandi/internal/visibility"
	ws "github.com/dukerupert/morandi/internal/websocket"
)

type Server struct {
	store       *store.Store
	hub         *ws.Hub
	tokens      *auth.Tokens
	rateLimiter *middleware.RateLimiter
	sweeper     *sweeper.Sweeper
	cfg         *config.Config
	logger      *slog.Logger

	eventH        *handler.EventHandler
	groupH        *handler.GroupHandler
	approvalH     *handler.ApprovalHandler
	invitationH   *handler.InvitationHandler
	notificationH *handler.NotificationHandler
	healthH       *handler.HealthHandler
}

func New(db *sql.DB, cfg *config.Config, logger *slog.Logger) *Server {
	s := store.New(db)
	hub := ws.NewHub(logger.With("component", "websocket"))
	expander := recurrence.Expander{Cap: cfg.OccurrenceCap}

	notifier := notify.New(s.Notifications, hub, cfg.NotificationTTL, logger.With("component", "notify"))
	resolver := visibility.New(s, expander, logger.With("component", "visibility"))
	workflow := approval.New(s, notifier, cfg.DefaultRejectionReason, logger.With("component", "approval"))
	calendarSvc := calendar.New(s, resolver, workflow, notifier, logger.With("component", "calendar"))
	groupSvc := group.New(s, notifier, hub, cfg.InviteCodeLength, logger.With("component", "group"))
	invitationSvc := invitation.New(s, notifier, cfg.InvitationTTL, logger.With("component", "invitation"))

	exporter := ics.NewExporter(resolver, expander, "", logger.With("component", "ics"))
	importer := ics.NewImporter(calendarSvc, logger.With("component", "ics"))

	return &Server{
		store:       s,
		hub:         hub,
		tokens:      auth.NewTokens(cfg.JWTSecret, cfg.TokenTTL),
		rateLimiter: middleware.NewRateLimiter(),
		sweeper:     sweeper.New(invitationSvc, s.Notifications, cfg.SweepSchedule, logger),
		cfg:         cfg,
		logger:      logger,

		eventH:        handler.NewEventHandler(calendarSvc, exporter, importer, logger.With("component", "event_handler")),
		groupH:        handler.NewGroupHandler(groupSvc, logger.With("component", "group_handler")),
		approvalH:     handler.NewApprovalHandler(workflow, logger.With("component", "approval_handler")),
		invitationH:   handler.NewInvitationHandler(invitationSvc, logger.With("component", "invitation_handler")),
		notificationH: handler.NewNotificationHandler(s.Notifications, logger.With("component", "notification_handler")),
		healthH:       handler.NewHealthHandler(db, hub),
	}
}

// Tokens returns the bearer token issuer.
func (s *Server) Tokens() *auth.Tokens {
	return s.tokens
}

// Sweeper returns the housekeeping scheduler; the caller starts and stops it.
func (s *Server) Sweeper() *sweeper.Sweeper {
	return s.sweeper
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()
	outerMux.HandleFunc("GET /health", s.healthH.Health)

	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	authMiddleware := middleware.RequireAuth(s.tokens, s.store.Users)
	outerMux.Handle("/", authMiddleware(protectedMux))

	c := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           600,
	})

	logged := middleware.RequestLogger(s.logger.With("component", "http"))(c.Handler(outerMux))
	return middleware.RequestID(logged)
}

// limited wraps h in the per-user limit for code and token redemption.
func (s *Server) limited(h http.HandlerFunc) http.Handler {
	return middleware.RateLimit(s.rateLimiter, middleware.UserKey, s.cfg.JoinRateLimit, time.Minute)(h)
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	// Events
	mux.HandleFunc("GET /events", s.eventH.List)
	mux.HandleFunc("POST /events", s.eventH.Create)
	mux.HandleFunc("GET /events.ics", s.eventH.Export)
	mux.HandleFunc("POST /events/import", s.eventH.Import)
	mux.HandleFunc("GET /events/{id}", s.eventH.Get)
	mux.HandleFunc("PUT /events/{id}", s.eventH.Update)
	mux.HandleFunc("DELETE /events/{id}", s.eventH.Delete)
	mux.HandleFunc("PUT /events/{id}/share", s.eventH.Share)

	// Groups
	mux.HandleFunc("POST /groups", s.groupH.Create)
	mux.HandleFunc("GET /groups", s.groupH.List)
	mux.HandleFunc("GET /groups/{id}", s.groupH.Get)
	mux.HandleFunc("PUT /groups/{id}", s.groupH.Update)
	mux.HandleFunc("DELETE /groups/{id}", s.groupH.Delete)
	mux.HandleFunc("GET /groups/{id}/members", s.groupH.Members)
	mux.HandleFunc("PUT /groups/{id}/members/{userId}/role", s.groupH.ChangeRole)
	mux.HandleFunc("PUT /groups/{id}/members/{userId}/permissions", s.groupH.SetPermissions)
	mux.HandleFunc("DELETE /groups/{id}/members/{userId}", s.groupH.RemoveMember)
	mux.HandleFunc("POST /groups/{id}/leave", s.groupH.Leave)
	mux.HandleFunc("POST /groups/{id}/invite-code", s.groupH.RegenerateInviteCode)

	// Group events and approval
	mux.HandleFunc("POST /groups/{id}/events", s.eventH.CreateInGroup)
	mux.HandleFunc("GET /groups/{id}/events/pending", s.approvalH.Pending)
	mux.HandleFunc("PUT /groups/{id}/events/{eventId}/approve", s.approvalH.Review)

	// Invitations
	mux.HandleFunc("POST /groups/{id}/invitations", s.invitationH.Create)
	mux.HandleFunc("GET /groups/{id}/invitations", s.invitationH.ListForGroup)
	mux.HandleFunc("GET /invitations", s.invitationH.ListMine)
	mux.HandleFunc("POST /invitations/{id}/accept", s.invitationH.Accept)
	mux.HandleFunc("POST /invitations/{id}/decline", s.invitationH.Decline)
	mux.HandleFunc("DELETE /invitations/{id}", s.invitationH.Cancel)
	mux.HandleFunc("POST /invitations/{id}/resend", s.invitationH.Resend)
	mux.Handle("POST /invitations/accept-token", s.limited(s.invitationH.AcceptToken))
	mux.Handle("POST /invitations/join-by-code", s.limited(s.invitationH.JoinByCode))

	// Notifications
	mux.HandleFunc("GET /notifications", s.notificationH.List)
	mux.HandleFunc("GET /notifications/unread-count", s.notificationH.UnreadCount)
	mux.HandleFunc("POST /notifications/read-all", s.notificationH.MarkAllRead)
	mux.HandleFunc("POST /notifications/{id}/read", s.notificationH.MarkRead)
	mux.HandleFunc("POST /notifications/{id}/archive", s.notificationH.Archive)

	// WebSocket
	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub, originHosts(s.cfg.CORSOrigins), s.logger.With("component", "websocket")))
}

// originHosts turns CORS origins into the host patterns the websocket
// upgrader matches against.
func originHosts(origins []string) []string {
	hosts := make([]string, 0, len(origins))
	for _, o := range origins {
		if o == "*" {
			return []string{"*"}
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			hosts = append(hosts, u.Host)
			continue
		}
		hosts = append(hosts, o)
	}
	return hosts
}
