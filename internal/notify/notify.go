// Package notify records notifications and pushes them to connected users.
// Delivery is best effort: failures are logged and never returned.
package notify

import (
	"context"
	"log/slog"
	"time"

	"go.uber.org/multierr"

	"github.com/dukerupert/morandi/internal/model"
	"github.com/dukerupert/morandi/internal/store"
	"github.com/dukerupert/morandi/internal/websocket"
)

// DefaultTTL is how long a notification lives before the sweeper removes it.
const DefaultTTL = 30 * 24 * time.Hour

// Pusher delivers live messages; *websocket.Hub satisfies it.
type Pusher interface {
	SendTo(msg websocket.Message, userIDs ...int64)
}

type Notifier struct {
	store  *store.NotificationStore
	pusher Pusher
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// New builds a Notifier. pusher may be nil.
func New(notifications *store.NotificationStore, pusher Pusher, ttl time.Duration, logger *slog.Logger) *Notifier {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Notifier{
		store:  notifications,
		pusher: pusher,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// Notify persists the notifications in one batch, falling back to one
// insert per notification if the batch fails, then pushes each stored
// notification to its recipient.
func (n *Notifier) Notify(ctx context.Context, ns ...model.Notification) {
	if n == nil || len(ns) == 0 {
		return
	}
	expires := n.now().Add(n.ttl)
	for i := range ns {
		if ns[i].ExpiresAt.IsZero() {
			ns[i].ExpiresAt = expires
		}
		if ns[i].Status == "" {
			ns[i].Status = model.NotificationUnread
		}
	}

	delivered := ns
	if err := n.store.CreateBatch(ns); err != nil {
		n.logger.Warn("notification batch failed, inserting individually", "error", err, "count", len(ns))
		delivered = n.insertEach(ctx, ns)
	}

	if n.pusher == nil {
		return
	}
	for _, nt := range delivered {
		n.pusher.SendTo(websocket.NewMessage("notification", "created", nt.ID, nt), nt.RecipientID)
	}
}

func (n *Notifier) insertEach(ctx context.Context, ns []model.Notification) []model.Notification {
	var errs error
	var stored []model.Notification
	for i := range ns {
		if ctx.Err() != nil {
			errs = multierr.Append(errs, ctx.Err())
			break
		}
		created, err := n.store.Create(&ns[i])
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		stored = append(stored, *created)
	}
	if errs != nil {
		n.logger.Error("notifications dropped",
			"error", errs,
			"failed", len(multierr.Errors(errs)),
			"stored", len(stored),
		)
	}
	return stored
}

// Fanout builds one notification per recipient from a template, skipping
// the excluded user (usually the actor).
func Fanout(tmpl model.Notification, recipients []int64, exclude int64) []model.Notification {
	out := make([]model.Notification, 0, len(recipients))
	seen := make(map[int64]bool, len(recipients))
	for _, id := range recipients {
		if id == exclude || seen[id] {
			continue
		}
		seen[id] = true
		nt := tmpl
		nt.RecipientID = id
		out = append(out, nt)
	}
	return out
}

func Int64(v int64) *int64 { return &v }
