// Package sweeper runs periodic housekeeping: persisting expiry on stale
// invitations and purging notifications past their retention.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dukerupert/morandi/internal/store"
)

// DefaultSchedule is used when no schedule is configured.
const DefaultSchedule = "@every 15m"

// InvitationExpirer persists the expired status on overdue invitations.
type InvitationExpirer interface {
	SweepExpired(ctx context.Context) (int64, error)
}

type Sweeper struct {
	mu            sync.Mutex
	invitations   InvitationExpirer
	notifications *store.NotificationStore
	schedule      string
	logger        *slog.Logger
	now           func() time.Time
	cron          *cron.Cron
}

func New(invitations InvitationExpirer, notifications *store.NotificationStore, schedule string, logger *slog.Logger) *Sweeper {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	return &Sweeper{
		invitations:   invitations,
		notifications: notifications,
		schedule:      schedule,
		logger:        logger.With("component", "sweeper"),
		now:           time.Now,
	}
}

// Validate reports whether schedule is a standard cron spec or descriptor.
func Validate(schedule string) error {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("parse sweep schedule %q: %w", schedule, err)
	}
	return nil
}

// Start schedules the sweep. Overlapping runs are skipped.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}

	logger := cronLogger{s.logger}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(s.schedule, func() { s.Run(context.Background()) }); err != nil {
		return fmt.Errorf("schedule sweep %q: %w", s.schedule, err)
	}
	c.Start()
	s.cron = c
	s.logger.Info("sweeper started", "schedule", s.schedule)
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish or ctx to
// expire.
func (s *Sweeper) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		s.logger.Warn("sweeper stop timed out")
	}
}

// Result counts what a single sweep changed.
type Result struct {
	InvitationsExpired   int64
	NotificationsDeleted int64
}

// Run performs one sweep. Failures are logged; one job failing does not
// stop the other.
func (s *Sweeper) Run(ctx context.Context) Result {
	var res Result
	var err error

	if s.invitations != nil {
		res.InvitationsExpired, err = s.invitations.SweepExpired(ctx)
		if err != nil {
			s.logger.Error("expire invitations", "error", err)
		}
	}
	if s.notifications != nil {
		res.NotificationsDeleted, err = s.notifications.DeleteExpired(s.now())
		if err != nil {
			s.logger.Error("delete expired notifications", "error", err)
		}
	}

	if res.InvitationsExpired > 0 || res.NotificationsDeleted > 0 {
		s.logger.Info("sweep complete",
			"invitations_expired", res.InvitationsExpired,
			"notifications_deleted", res.NotificationsDeleted)
	}
	return res
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
