package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dukerupert/morandi/internal/model"
)

type EventStore struct {
	db DBTX
}

func NewEventStore(db DBTX) *EventStore {
	return &EventStore{db: db}
}

func scanEvent(scanner interface{ Scan(...any) error }) (*model.Event, error) {
	var e model.Event
	err := scanner.Scan(
		&e.ID, &e.Title, &e.Description, &e.StartDate, &e.EndDate, &e.IsAllDay,
		&e.Color, &e.Category, &e.CreatorID, &e.Privacy, &e.GroupID,
		&e.Approval.Required, &e.Approval.Status, &e.Approval.ApprovedBy,
		&e.Approval.ApprovedAt, &e.Approval.RejectionReason,
		&e.Recurrence.Type, &e.Recurrence.Interval, &e.Recurrence.EndType,
		&e.Recurrence.EndDate, &e.Recurrence.Occurrences,
		&e.Status, &e.IsDeleted, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

const eventCols = `id, title, description, start_date, end_date, is_all_day,
	color, category, creator_id, privacy, group_id,
	approval_required, approval_status, approved_by, approved_at, rejection_reason,
	recurrence_type, recurrence_interval, recurrence_end_type, recurrence_end_date, recurrence_occurrences,
	status, is_deleted, created_at, updated_at`

// Events of deactivated groups are treated as gone.
const liveEvent = `is_deleted = 0 AND (group_id IS NULL OR group_id IN (SELECT id FROM calendar_groups WHERE is_active = 1))`

// inWindow matches single events overlapping the window, and recurring
// events that start before it ends since their repeats may land inside.
// Arguments: windowEnd, windowStart, windowEnd.
const inWindow = `((recurrence_type = 'none' AND start_date <= ? AND end_date >= ?) OR (recurrence_type != 'none' AND start_date <= ?))`

func windowArgs(from, to time.Time) []any {
	return []any{to.UTC(), from.UTC(), to.UTC()}
}

func (s *EventStore) Create(e *model.Event) (*model.Event, error) {
	ts := now()
	r := e.Recurrence
	result, err := s.db.Exec(
		`INSERT INTO events (title, description, start_date, end_date, is_all_day,
			color, category, creator_id, privacy, group_id,
			approval_required, approval_status, approved_by, approved_at, rejection_reason,
			recurrence_type, recurrence_interval, recurrence_end_type, recurrence_end_date, recurrence_occurrences,
			status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Title, e.Description, e.StartDate.UTC(), e.EndDate.UTC(), e.IsAllDay,
		e.Color, e.Category, e.CreatorID, e.Privacy, e.GroupID,
		e.Approval.Required, e.Approval.Status, e.Approval.ApprovedBy, utcPtr(e.Approval.ApprovedAt), e.Approval.RejectionReason,
		r.Type, r.Interval, r.EndType, utcPtr(r.EndDate), r.Occurrences,
		e.Status, ts, ts,
	)
	if err != nil {
		return nil, wrap("insert event", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	if len(e.SharedWith) > 0 {
		if err := s.SetShares(id, e.SharedWith); err != nil {
			return nil, err
		}
	}
	return s.GetByID(id)
}

// GetByID returns nil for missing, soft-deleted, or deactivated-group events.
func (s *EventStore) GetByID(id int64) (*model.Event, error) {
	row := s.db.QueryRow(`SELECT `+eventCols+` FROM events WHERE id = ? AND `+liveEvent, id)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	if err := s.loadShares([]*model.Event{e}); err != nil {
		return nil, err
	}
	return e, nil
}

// Update writes the editable fields. Approval state is changed only via
// Review.
func (s *EventStore) Update(e *model.Event) (*model.Event, error) {
	r := e.Recurrence
	_, err := s.db.Exec(
		`UPDATE events SET title = ?, description = ?, start_date = ?, end_date = ?, is_all_day = ?,
			color = ?, category = ?, privacy = ?,
			recurrence_type = ?, recurrence_interval = ?, recurrence_end_type = ?,
			recurrence_end_date = ?, recurrence_occurrences = ?, updated_at = ?
		WHERE id = ? AND is_deleted = 0`,
		e.Title, e.Description, e.StartDate.UTC(), e.EndDate.UTC(), e.IsAllDay,
		e.Color, e.Category, e.Privacy,
		r.Type, r.Interval, r.EndType, utcPtr(r.EndDate), r.Occurrences, now(),
		e.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("update event: %w", err)
	}
	return s.GetByID(e.ID)
}

func (s *EventStore) SoftDelete(id int64) error {
	_, err := s.db.Exec(`UPDATE events SET is_deleted = 1, updated_at = ? WHERE id = ?`, now(), id)
	if err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	return nil
}

func (s *EventStore) SoftDeleteByGroup(groupID int64) error {
	_, err := s.db.Exec(
		`UPDATE events SET is_deleted = 1, updated_at = ? WHERE group_id = ? AND is_deleted = 0`,
		now(), groupID,
	)
	if err != nil {
		return fmt.Errorf("delete group events: %w", err)
	}
	return nil
}

// Review moves a pending event to approved or rejected. Rejection also
// cancels the event. It reports false if the event was not pending.
func (s *EventStore) Review(id int64, status model.ApprovalStatus, reviewerID int64, at time.Time, reason string) (bool, error) {
	eventStatus := model.EventConfirmed
	if status == model.ApprovalRejected {
		eventStatus = model.EventCancelled
	}
	res, err := s.db.Exec(
		`UPDATE events SET approval_status = ?, approved_by = ?, approved_at = ?, rejection_reason = ?,
			status = ?, updated_at = ?
		WHERE id = ? AND approval_status = 'pending' AND is_deleted = 0`,
		status, reviewerID, at.UTC(), reason, eventStatus, now(), id,
	)
	if err != nil {
		return false, fmt.Errorf("review event: %w", err)
	}
	return affected(res)
}

// Resubmit returns an approved event to pending review. It reports false
// if the event was not approved.
func (s *EventStore) Resubmit(id int64) (bool, error) {
	res, err := s.db.Exec(
		`UPDATE events SET approval_required = 1, approval_status = 'pending', approved_by = NULL,
			approved_at = NULL, updated_at = ?
		WHERE id = ? AND approval_status = 'approved' AND is_deleted = 0`,
		now(), id,
	)
	if err != nil {
		return false, fmt.Errorf("resubmit event: %w", err)
	}
	return affected(res)
}

// SetShares replaces the event's share list.
func (s *EventStore) SetShares(eventID int64, shares []model.Share) error {
	if _, err := s.db.Exec(`DELETE FROM event_shares WHERE event_id = ?`, eventID); err != nil {
		return fmt.Errorf("clear shares: %w", err)
	}
	for _, sh := range shares {
		perms, err := json.Marshal(sh.Permissions)
		if err != nil {
			return fmt.Errorf("encode share permissions: %w", err)
		}
		_, err = s.db.Exec(
			`INSERT INTO event_shares (event_id, user_id, permissions) VALUES (?, ?, ?)`,
			eventID, sh.UserID, string(perms),
		)
		if err != nil {
			return wrap("insert share", err)
		}
	}
	return nil
}

func (s *EventStore) loadShares(events []*model.Event) error {
	if len(events) == 0 {
		return nil
	}
	byID := make(map[int64]*model.Event, len(events))
	ids := make([]int64, 0, len(events))
	for _, e := range events {
		if _, dup := byID[e.ID]; !dup {
			ids = append(ids, e.ID)
		}
		byID[e.ID] = e
	}

	rows, err := s.db.Query(
		`SELECT event_id, user_id, permissions FROM event_shares WHERE event_id IN (`+placeholders(len(ids))+`) ORDER BY event_id, user_id`,
		int64Args(ids)...,
	)
	if err != nil {
		return fmt.Errorf("list shares: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var eventID int64
		var sh model.Share
		var perms string
		if err := rows.Scan(&eventID, &sh.UserID, &perms); err != nil {
			return fmt.Errorf("scan share: %w", err)
		}
		if err := json.Unmarshal([]byte(perms), &sh.Permissions); err != nil {
			return fmt.Errorf("decode share permissions: %w", err)
		}
		e := byID[eventID]
		e.SharedWith = append(e.SharedWith, sh)
	}
	return rows.Err()
}

func (s *EventStore) list(query string, args ...any) ([]model.Event, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}

	var ptrs []*model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ptrs = append(ptrs, e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	rows.Close()

	// Shares are loaded after the cursor is closed; a single-connection
	// pool cannot serve a second query while rows are open.
	if err := s.loadShares(ptrs); err != nil {
		return nil, err
	}
	events := make([]model.Event, len(ptrs))
	for i, e := range ptrs {
		events[i] = *e
	}
	return events, nil
}

// ListOwned returns the user's events that may be visible in [from, to].
func (s *EventStore) ListOwned(userID int64, from, to time.Time) ([]model.Event, error) {
	return s.list(
		`SELECT `+eventCols+` FROM events WHERE creator_id = ? AND `+liveEvent+` AND `+inWindow+` ORDER BY start_date, id`,
		append([]any{userID}, windowArgs(from, to)...)...,
	)
}

// ListShared returns events shared with the user that may be visible in
// [from, to].
func (s *EventStore) ListShared(userID int64, from, to time.Time) ([]model.Event, error) {
	return s.list(
		`SELECT `+eventCols+` FROM events
		WHERE id IN (SELECT event_id FROM event_shares WHERE user_id = ?) AND `+liveEvent+` AND `+inWindow+`
		ORDER BY start_date, id`,
		append([]any{userID}, windowArgs(from, to)...)...,
	)
}

// ListApprovedInGroups returns approved events of the given groups that may
// be visible in [from, to].
func (s *EventStore) ListApprovedInGroups(groupIDs []int64, from, to time.Time) ([]model.Event, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}
	args := append(int64Args(groupIDs), windowArgs(from, to)...)
	return s.list(
		`SELECT `+eventCols+` FROM events
		WHERE group_id IN (`+placeholders(len(groupIDs))+`) AND approval_status = 'approved' AND `+liveEvent+` AND `+inWindow+`
		ORDER BY start_date, id`,
		args...,
	)
}

// ListPublic returns approved public events that may be visible in [from, to].
func (s *EventStore) ListPublic(from, to time.Time) ([]model.Event, error) {
	return s.list(
		`SELECT `+eventCols+` FROM events
		WHERE privacy = 'public' AND approval_status = 'approved' AND `+liveEvent+` AND `+inWindow+`
		ORDER BY start_date, id`,
		windowArgs(from, to)...,
	)
}

// ListPending returns the group's events awaiting review, oldest first.
func (s *EventStore) ListPending(groupID int64) ([]model.Event, error) {
	return s.list(
		`SELECT `+eventCols+` FROM events
		WHERE group_id = ? AND approval_status = 'pending' AND `+liveEvent+`
		ORDER BY created_at, id`,
		groupID,
	)
}
