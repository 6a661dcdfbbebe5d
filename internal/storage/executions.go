package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"cronix/internal/task"

	"cronix/pkg/logx"
)

type executionRow struct {
	ID           int64          `db:"id"`
	TaskID       int64          `db:"task_id"`
	StartedAt    string         `db:"started_at"`
	FinishedAt   sql.NullString `db:"finished_at"`
	Status       string         `db:"status"`
	RetryAttempt int            `db:"retry_attempt"`
	Output       sql.NullString `db:"output"`
	Error        sql.NullString `db:"error"`
	Duration     sql.NullInt64  `db:"duration"`
}

func (r *executionRow) toDomain() (*task.Execution, error) {
	e := &task.Execution{
		ID:           r.ID,
		TaskID:       r.TaskID,
		Status:       task.ExecutionStatus(r.Status),
		RetryAttempt: r.RetryAttempt,
		Output:       r.Output.String,
		Error:        r.Error.String,
	}
	var err error
	if e.StartedAt, err = parseTime(r.StartedAt); err != nil {
		return nil, fmt.Errorf("execution %d: started_at: %w", r.ID, err)
	}
	if e.FinishedAt, err = parseTimePtr(r.FinishedAt); err != nil {
		return nil, fmt.Errorf("execution %d: finished_at: %w", r.ID, err)
	}
	if r.Duration.Valid {
		d := r.Duration.Int64
		e.Duration = &d
	}
	return e, nil
}

const executionColumns = `id, task_id, started_at, finished_at, status, retry_attempt, output, error, duration`

// CreateExecution inserts a new attempt record and fills in its id.
// New records are created in pending the instant a firing is dispatched.
func (s *Store) CreateExecution(ctx context.Context, e *task.Execution) error {
	if e.Status == "" {
		e.Status = task.StatusPending
	}
	if e.StartedAt.IsZero() {
		e.StartedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO task_executions (task_id, started_at, status, retry_attempt)
		 VALUES (?,?,?,?)`,
		e.TaskID, fmtTime(e.StartedAt), string(e.Status), e.RetryAttempt,
	)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = id
	return nil
}

// MarkExecutionRunning transitions pending -> running and stamps the real
// process start time.
func (s *Store) MarkExecutionRunning(ctx context.Context, id int64, startedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE task_executions SET status=?, started_at=? WHERE id=? AND status=?`,
		string(task.StatusRunning), fmtTime(startedAt), id, string(task.StatusPending),
	)
	if err != nil {
		return fmt.Errorf("mark execution %d running: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTerminal
	}
	return nil
}

// FinishExecution writes the terminal state of an attempt. The WHERE clause
// refuses to touch rows that are already terminal, which is what makes
// "terminal states are final" hold even under racing writers.
func (s *Store) FinishExecution(ctx context.Context, id int64, status task.ExecutionStatus, finishedAt time.Time, output, errMsg string) error {
	if !status.Terminal() {
		return fmt.Errorf("finish execution %d: status %q is not terminal", id, status)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE task_executions
		 SET status=?, finished_at=?, output=?, error=?,
		     duration=CAST((julianday(?) - julianday(started_at)) * 86400 AS INTEGER)
		 WHERE id=? AND status IN (?,?)`,
		string(status), fmtTime(finishedAt), nullStr(output), nullStr(errMsg),
		fmtTime(finishedAt),
		id, string(task.StatusPending), string(task.StatusRunning),
	)
	if err != nil {
		return fmt.Errorf("finish execution %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTerminal
	}
	return nil
}

func (s *Store) GetExecution(ctx context.Context, id int64) (*task.Execution, error) {
	var row executionRow
	err := s.db.GetContext(ctx, &row, `SELECT `+executionColumns+` FROM task_executions WHERE id=?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get execution %d: %w", id, err)
	}
	return row.toDomain()
}

// ExecutionFilter narrows ListExecutions.
type ExecutionFilter struct {
	TaskID *int64
	Status *task.ExecutionStatus

	Page     int // 1-based
	PageSize int
}

// ExecutionPage is one page of history, newest first.
type ExecutionPage struct {
	Items      []*task.Execution `json:"items"`
	Total      int               `json:"total"`
	Page       int               `json:"page"`
	PageSize   int               `json:"page_size"`
	TotalPages int               `json:"total_pages"`
}

func (s *Store) ListExecutions(ctx context.Context, f ExecutionFilter) (*ExecutionPage, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 || f.PageSize > 200 {
		f.PageSize = 20
	}

	where := make([]string, 0, 2)
	args := make([]any, 0, 2)
	if f.TaskID != nil {
		where = append(where, "task_id=?")
		args = append(args, *f.TaskID)
	}
	if f.Status != nil {
		where = append(where, "status=?")
		args = append(args, string(*f.Status))
	}
	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM task_executions`+cond, args...); err != nil {
		return nil, fmt.Errorf("count executions: %w", err)
	}

	var rows []executionRow
	query := `SELECT ` + executionColumns + ` FROM task_executions` + cond +
		` ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?`
	listArgs := append(append([]any{}, args...), f.PageSize, (f.Page-1)*f.PageSize)
	if err := s.db.SelectContext(ctx, &rows, query, listArgs...); err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}

	page := &ExecutionPage{
		Total:      total,
		Page:       f.Page,
		PageSize:   f.PageSize,
		TotalPages: (total + f.PageSize - 1) / f.PageSize,
		Items:      make([]*task.Execution, 0, len(rows)),
	}
	for i := range rows {
		e, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		page.Items = append(page.Items, e)
	}
	return page, nil
}

// LatestExecution returns the most recent attempt for a task, or ErrNotFound.
func (s *Store) LatestExecution(ctx context.Context, taskID int64) (*task.Execution, error) {
	var row executionRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+executionColumns+` FROM task_executions
		 WHERE task_id=? ORDER BY started_at DESC, id DESC LIMIT 1`, taskID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest execution for task %d: %w", taskID, err)
	}
	return row.toDomain()
}

// RecoverInterrupted finalizes executions a dead process left behind.
// Their child processes no longer exist, so the rows are closed as failed.
// Returns the number of rows recovered.
func (s *Store) RecoverInterrupted(ctx context.Context) (int64, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE task_executions
		 SET status=?, finished_at=?, error=?,
		     duration=CAST((julianday(?) - julianday(started_at)) * 86400 AS INTEGER)
		 WHERE status IN (?,?)`,
		string(task.StatusFailed), fmtTime(now),
		"interrupted: scheduler restarted while execution was in flight",
		fmtTime(now),
		string(task.StatusPending), string(task.StatusRunning),
	)
	if err != nil {
		return 0, fmt.Errorf("recover interrupted executions: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.log.Warn("recovered interrupted executions", logx.Int64("count", n))
	}
	return n, nil
}

// CountExecutionsByStatus aggregates history for the stats endpoint.
func (s *Store) CountExecutionsByStatus(ctx context.Context) (map[task.ExecutionStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM task_executions GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count executions by status: %w", err)
	}
	defer rows.Close()

	out := map[task.ExecutionStatus]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[task.ExecutionStatus(status)] = n
	}
	return out, rows.Err()
}
