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

// taskRow is the persistence shape of a task: nullable columns scan
// through sql.Null*, times travel as text.
type taskRow struct {
	ID             int64          `db:"id"`
	Name           string         `db:"name"`
	Description    string         `db:"description"`
	CronExpression string         `db:"cron_expression"`
	ExecutionType  string         `db:"execution_type"`
	Command        string         `db:"command"`
	IsActive       bool           `db:"is_active"`
	Timeout        int            `db:"timeout"`
	RetryCount     int            `db:"retry_count"`
	RetryInterval  int            `db:"retry_interval"`
	Notifications  string         `db:"notifications"`
	NextRunTime    sql.NullString `db:"next_run_time"`
	CreatedAt      string         `db:"created_at"`
	UpdatedAt      string         `db:"updated_at"`
}

func (r *taskRow) toDomain() (*task.Task, error) {
	t := &task.Task{
		ID:             r.ID,
		Name:           r.Name,
		Description:    r.Description,
		CronExpression: r.CronExpression,
		ExecutionType:  task.ExecType(r.ExecutionType),
		Command:        r.Command,
		IsActive:       r.IsActive,
		Timeout:        r.Timeout,
		RetryCount:     r.RetryCount,
		RetryInterval:  r.RetryInterval,
	}
	if r.Notifications != "" {
		if err := json.Unmarshal([]byte(r.Notifications), &t.Notifications); err != nil {
			return nil, fmt.Errorf("task %d: decode notifications: %w", r.ID, err)
		}
	}
	var err error
	if t.NextRunTime, err = parseTimePtr(r.NextRunTime); err != nil {
		return nil, fmt.Errorf("task %d: next_run_time: %w", r.ID, err)
	}
	if t.CreatedAt, err = parseTime(r.CreatedAt); err != nil {
		return nil, fmt.Errorf("task %d: created_at: %w", r.ID, err)
	}
	if t.UpdatedAt, err = parseTime(r.UpdatedAt); err != nil {
		return nil, fmt.Errorf("task %d: updated_at: %w", r.ID, err)
	}
	return t, nil
}

func encodeNotifications(refs []task.NotifyRef) (string, error) {
	if len(refs) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(refs)
	if err != nil {
		return "", fmt.Errorf("encode notifications: %w", err)
	}
	return string(b), nil
}

const taskColumns = `id, name, description, cron_expression, execution_type, command,
	is_active, timeout, retry_count, retry_interval, notifications,
	next_run_time, created_at, updated_at`

// CreateTask inserts t and fills in its id and timestamps.
func (s *Store) CreateTask(ctx context.Context, t *task.Task) error {
	notif, err := encodeNotifications(t.Notifications)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (name, description, cron_expression, execution_type, command,
		                    is_active, timeout, retry_count, retry_interval, notifications,
		                    next_run_time, created_at, updated_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.Name, t.Description, t.CronExpression, string(t.ExecutionType), t.Command,
		t.IsActive, t.Timeout, t.RetryCount, t.RetryInterval, notif,
		fmtTimePtr(t.NextRunTime), fmtTime(now), fmtTime(now),
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	t.ID = id
	t.CreatedAt = now
	t.UpdatedAt = now
	return nil
}

// UpdateTask rewrites the mutable columns of t. Name is identity and is
// deliberately not part of the UPDATE.
func (s *Store) UpdateTask(ctx context.Context, t *task.Task) error {
	notif, err := encodeNotifications(t.Notifications)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET description=?, cron_expression=?, execution_type=?, command=?,
		        is_active=?, timeout=?, retry_count=?, retry_interval=?, notifications=?,
		        updated_at=?
		 WHERE id=?`,
		t.Description, t.CronExpression, string(t.ExecutionType), t.Command,
		t.IsActive, t.Timeout, t.RetryCount, t.RetryInterval, notif,
		fmtTime(now), t.ID,
	)
	if err != nil {
		return fmt.Errorf("update task %d: %w", t.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	t.UpdatedAt = now
	return nil
}

func (s *Store) DeleteTask(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("delete task %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) GetTask(ctx context.Context, id int64) (*task.Task, error) {
	var row taskRow
	err := s.db.GetContext(ctx, &row, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task %d: %w", id, err)
	}
	return row.toDomain()
}

func (s *Store) GetTaskByName(ctx context.Context, name string) (*task.Task, error) {
	var row taskRow
	err := s.db.GetContext(ctx, &row, `SELECT `+taskColumns+` FROM tasks WHERE name=?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task %q: %w", name, err)
	}
	return row.toDomain()
}

// ListTasks returns all tasks ordered by id.
func (s *Store) ListTasks(ctx context.Context) ([]*task.Task, error) {
	return s.listTasks(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY id`)
}

// ListActiveTasks returns tasks eligible for scheduling.
func (s *Store) ListActiveTasks(ctx context.Context) ([]*task.Task, error) {
	return s.listTasks(ctx, `SELECT `+taskColumns+` FROM tasks WHERE is_active=1 ORDER BY id`)
}

func (s *Store) listTasks(ctx context.Context, query string, args ...any) ([]*task.Task, error) {
	var rows []taskRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	out := make([]*task.Task, 0, len(rows))
	for i := range rows {
		t, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// SetNextRunTime records the display value computed by the evaluator.
// Pass nil to clear it (deactivated or deleted schedules).
func (s *Store) SetNextRunTime(ctx context.Context, taskID int64, next *time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET next_run_time=? WHERE id=?`,
		fmtTimePtr(next), taskID)
	if err != nil {
		return fmt.Errorf("set next_run_time for task %d: %w", taskID, err)
	}
	return nil
}
