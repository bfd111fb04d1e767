// Package visibility decides which events a user may read and expands
// recurring ones over a date range.
package visibility

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dukerupert/morandi/internal/apperr"
	"github.com/dukerupert/morandi/internal/model"
	"github.com/dukerupert/morandi/internal/recurrence"
	"github.com/dukerupert/morandi/internal/store"
)

// Range is an inclusive time window.
type Range struct {
	Start time.Time
	End   time.Time
}

func (r Range) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return apperr.Validationf("start and end dates are required")
	}
	if r.End.Before(r.Start) {
		return apperr.Validationf("end date must not be before start date")
	}
	return nil
}

// Month returns the range covering a calendar month in UTC.
func Month(year int, month time.Month) Range {
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return Range{Start: start, End: start.AddDate(0, 1, 0).Add(-time.Nanosecond)}
}

// CanView reports whether userID may read e. activeGroups holds the ids of
// the groups where the user is an active member.
func CanView(e *model.Event, userID int64, activeGroups map[int64]bool) bool {
	if e == nil || e.IsDeleted {
		return false
	}
	if e.CreatorID == userID {
		return true
	}
	if _, ok := e.SharedWithUser(userID); ok {
		return true
	}
	approved := e.Approval.Status == model.ApprovalApproved
	if e.GroupID != nil && activeGroups[*e.GroupID] && approved {
		return true
	}
	return e.Privacy == model.PrivacyPublic && approved
}

type Resolver struct {
	store    *store.Store
	expander recurrence.Expander
	logger   *slog.Logger
}

func New(s *store.Store, expander recurrence.Expander, logger *slog.Logger) *Resolver {
	return &Resolver{store: s, expander: expander, logger: logger}
}

// ActiveGroups returns the set of groups where userID is an active member.
func (r *Resolver) ActiveGroups(userID int64) (map[int64]bool, error) {
	ids, err := r.store.Members.ActiveGroupIDs(userID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	set := make(map[int64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}

// VisibleEvents returns every event userID may read that touches rng, with
// recurring events expanded into their occurrences, sorted by start.
func (r *Resolver) VisibleEvents(ctx context.Context, userID int64, rng Range) ([]model.Event, error) {
	bases, err := r.VisibleBases(ctx, userID, rng)
	if err != nil {
		return nil, err
	}
	var out []model.Event
	for _, e := range bases {
		out = append(out, r.Expand(e, rng)...)
	}
	Sort(out)
	return out, nil
}

// VisibleBases returns the stored events userID may read that could touch
// rng, without expanding repeats.
//
// Candidates come from four sources: events the user created, events
// shared with the user, approved events of the user's active groups, and
// approved public events. An event reachable through several sources is
// returned once.
func (r *Resolver) VisibleBases(ctx context.Context, userID int64, rng Range) ([]model.Event, error) {
	if err := rng.Validate(); err != nil {
		return nil, err
	}

	var owned, shared, grouped, public []model.Event
	var activeGroups map[int64]bool

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		var err error
		owned, err = r.store.Events.ListOwned(userID, rng.Start, rng.End)
		return err
	})
	g.Go(func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		var err error
		shared, err = r.store.Events.ListShared(userID, rng.Start, rng.End)
		return err
	})
	g.Go(func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		var err error
		activeGroups, err = r.ActiveGroups(userID)
		if err != nil {
			return err
		}
		ids := make([]int64, 0, len(activeGroups))
		for id := range activeGroups {
			ids = append(ids, id)
		}
		grouped, err = r.store.Events.ListApprovedInGroups(ids, rng.Start, rng.End)
		return err
	})
	g.Go(func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		var err error
		public, err = r.store.Events.ListPublic(rng.Start, rng.End)
		return err
	})
	if err := g.Wait(); err != nil {
		if apperr.KindOf(err) != apperr.KindInternal {
			return nil, err
		}
		return nil, apperr.Internal(err)
	}

	seen := make(map[int64]bool)
	var out []model.Event
	for _, source := range [][]model.Event{owned, shared, grouped, public} {
		for i := range source {
			e := &source[i]
			if seen[e.ID] {
				continue
			}
			seen[e.ID] = true
			if !CanView(e, userID, activeGroups) {
				r.logger.Warn("dropped event failing visibility check", "event_id", e.ID, "user_id", userID)
				continue
			}
			out = append(out, *e)
		}
	}
	return out, nil
}

// Expand returns the base event if it touches rng, followed by its
// generated occurrences inside rng.
func (r *Resolver) Expand(base model.Event, rng Range) []model.Event {
	var out []model.Event
	if base.Overlaps(rng.Start, rng.End) {
		out = append(out, base)
	}
	for o := range r.expander.Occurrences(base.Recurrence, base.StartDate, base.EndDate, rng.Start, rng.End) {
		out = append(out, base.AtOccurrence(o))
	}
	return out
}

// Sort orders events by start, breaking ties by id and repeat index.
func Sort(events []model.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if !a.StartDate.Equal(b.StartDate) {
			return a.StartDate.Before(b.StartDate)
		}
		if a.ID != b.ID {
			return a.ID < b.ID
		}
		return a.OccurrenceIndex < b.OccurrenceIndex
	})
}
