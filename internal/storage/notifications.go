package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cronix/internal/task"
)

type notificationRow struct {
	ID        int64  `db:"id"`
	Type      string `db:"notify_type"`
	Config    string `db:"config"`
	CreatedAt string `db:"created_at"`
	UpdatedAt string `db:"updated_at"`
}

func (r *notificationRow) toDomain() (*task.Notification, error) {
	n := &task.Notification{
		ID:   r.ID,
		Type: task.NotifyType(r.Type),
	}
	if err := json.Unmarshal([]byte(r.Config), &n.Config); err != nil {
		return nil, fmt.Errorf("notification %d: decode config: %w", r.ID, err)
	}
	var err error
	if n.CreatedAt, err = parseTime(r.CreatedAt); err != nil {
		return nil, fmt.Errorf("notification %d: created_at: %w", r.ID, err)
	}
	if n.UpdatedAt, err = parseTime(r.UpdatedAt); err != nil {
		return nil, fmt.Errorf("notification %d: updated_at: %w", r.ID, err)
	}
	return n, nil
}

// SeedNotifications creates one placeholder row per transport type on first
// boot so the UI always has the three configs to edit.
func (s *Store) SeedNotifications(ctx context.Context) error {
	defaults := []task.Notification{
		{Type: task.NotifyWebhook, Config: map[string]string{"url": ""}},
		{Type: task.NotifyTelegram, Config: map[string]string{"bot_token": "", "chat_id": ""}},
		{Type: task.NotifyDingTalk, Config: map[string]string{"webhook_url": "", "secret": ""}},
	}
	now := fmtTime(time.Now())
	for _, n := range defaults {
		cfg, err := json.Marshal(n.Config)
		if err != nil {
			return err
		}
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO notifications (notify_type, config, created_at, updated_at)
			 VALUES (?,?,?,?)
			 ON CONFLICT(notify_type) DO NOTHING`,
			string(n.Type), string(cfg), now, now,
		)
		if err != nil {
			return fmt.Errorf("seed notification %s: %w", n.Type, err)
		}
	}
	return nil
}

func (s *Store) ListNotifications(ctx context.Context) ([]*task.Notification, error) {
	var rows []notificationRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT id, notify_type, config, created_at, updated_at FROM notifications ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	out := make([]*task.Notification, 0, len(rows))
	for i := range rows {
		n, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func (s *Store) GetNotification(ctx context.Context, id int64) (*task.Notification, error) {
	var row notificationRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, notify_type, config, created_at, updated_at FROM notifications WHERE id=?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get notification %d: %w", id, err)
	}
	return row.toDomain()
}

// GetNotifications resolves a set of ids, preserving the input order.
// Missing ids are skipped, not errors: a task may reference a config that
// was deleted after the task was saved.
func (s *Store) GetNotifications(ctx context.Context, ids []int64) ([]*task.Notification, error) {
	out := make([]*task.Notification, 0, len(ids))
	for _, id := range ids {
		n, err := s.GetNotification(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// UpdateNotificationConfig replaces the config for one row.
func (s *Store) UpdateNotificationConfig(ctx context.Context, id int64, cfg map[string]string) error {
	b, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET config=?, updated_at=? WHERE id=?`,
		string(b), fmtTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("update notification %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
