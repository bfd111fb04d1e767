package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dukerupert/morandi/internal/model"
)

type NotificationStore struct {
	db DBTX
}

func NewNotificationStore(db DBTX) *NotificationStore {
	return &NotificationStore{db: db}
}

func scanNotification(scanner interface{ Scan(...any) error }) (*model.Notification, error) {
	var n model.Notification
	var data string
	err := scanner.Scan(
		&n.ID, &n.RecipientID, &n.SenderID, &n.Type, &n.Title, &n.Message, &data,
		&n.Status, &n.ExpiresAt, &n.ReadAt, &n.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(data), &n.Data); err != nil {
		return nil, fmt.Errorf("decode notification data: %w", err)
	}
	return &n, nil
}

const notificationCols = `id, recipient_id, sender_id, type, title, message, data, status, expires_at, read_at, created_at`

func notificationArgs(n *model.Notification, ts time.Time) ([]any, error) {
	data, err := json.Marshal(n.Data)
	if err != nil {
		return nil, fmt.Errorf("encode notification data: %w", err)
	}
	status := n.Status
	if status == "" {
		status = model.NotificationUnread
	}
	return []any{n.RecipientID, n.SenderID, n.Type, n.Title, n.Message, string(data), status, n.ExpiresAt.UTC(), ts}, nil
}

const notificationInsert = `INSERT INTO notifications (recipient_id, sender_id, type, title, message, data, status, expires_at, created_at) VALUES `

// CreateBatch inserts all notifications in a single statement.
func (s *NotificationStore) CreateBatch(ns []model.Notification) error {
	if len(ns) == 0 {
		return nil
	}
	ts := now()
	rows := make([]string, 0, len(ns))
	args := make([]any, 0, len(ns)*9)
	for i := range ns {
		a, err := notificationArgs(&ns[i], ts)
		if err != nil {
			return err
		}
		rows = append(rows, "(?, ?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args, a...)
	}
	if _, err := s.db.Exec(notificationInsert+strings.Join(rows, ", "), args...); err != nil {
		return fmt.Errorf("insert notifications: %w", err)
	}
	return nil
}

func (s *NotificationStore) Create(n *model.Notification) (*model.Notification, error) {
	args, err := notificationArgs(n, now())
	if err != nil {
		return nil, err
	}
	result, err := s.db.Exec(notificationInsert+"(?, ?, ?, ?, ?, ?, ?, ?, ?)", args...)
	if err != nil {
		return nil, fmt.Errorf("insert notification: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	row := s.db.QueryRow(`SELECT `+notificationCols+` FROM notifications WHERE id = ?`, id)
	return scanNotification(row)
}

// ListForUser returns the user's notifications, newest first. An empty
// status returns unread and read ones.
func (s *NotificationStore) ListForUser(userID int64, status model.NotificationStatus, limit int) ([]model.Notification, error) {
	query := `SELECT ` + notificationCols + ` FROM notifications WHERE recipient_id = ?`
	args := []any{userID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	} else {
		query += ` AND status != 'archived'`
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

func (s *NotificationStore) UnreadCount(userID int64) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM notifications WHERE recipient_id = ? AND status = 'unread'`, userID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

// MarkRead reports false if the notification does not belong to the user
// or is not unread.
func (s *NotificationStore) MarkRead(id, userID int64, at time.Time) (bool, error) {
	res, err := s.db.Exec(
		`UPDATE notifications SET status = 'read', read_at = ? WHERE id = ? AND recipient_id = ? AND status = 'unread'`,
		at.UTC(), id, userID,
	)
	if err != nil {
		return false, fmt.Errorf("mark notification read: %w", err)
	}
	return affected(res)
}

func (s *NotificationStore) MarkAllRead(userID int64, at time.Time) (int64, error) {
	res, err := s.db.Exec(
		`UPDATE notifications SET status = 'read', read_at = ? WHERE recipient_id = ? AND status = 'unread'`,
		at.UTC(), userID,
	)
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}
	return res.RowsAffected()
}

// Archive reports false if the notification does not belong to the user.
func (s *NotificationStore) Archive(id, userID int64) (bool, error) {
	res, err := s.db.Exec(
		`UPDATE notifications SET status = 'archived' WHERE id = ? AND recipient_id = ? AND status != 'archived'`,
		id, userID,
	)
	if err != nil {
		return false, fmt.Errorf("archive notification: %w", err)
	}
	return affected(res)
}

func (s *NotificationStore) DeleteExpired(at time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM notifications WHERE expires_at < ?`, at.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired notifications: %w", err)
	}
	return res.RowsAffected()
}
