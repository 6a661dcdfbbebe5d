package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cronix/internal/task"
	"cronix/pkg/logx"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testTask(name string) *task.Task {
	return &task.Task{
		Name:           name,
		CronExpression: "*/5 * * * *",
		ExecutionType:  task.ExecShell,
		Command:        "echo hi",
		IsActive:       true,
		Timeout:        300,
		RetryCount:     0,
		RetryInterval:  60,
	}
}

func TestTaskCRUD(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tk := testTask("backup")
	tk.Notifications = []task.NotifyRef{{NotificationID: 1, Policy: task.NotifyFailureOnly}}
	require.NoError(t, s.CreateTask(ctx, tk))
	require.NotZero(t, tk.ID)

	got, err := s.GetTask(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, "backup", got.Name)
	assert.Equal(t, task.ExecShell, got.ExecutionType)
	require.Len(t, got.Notifications, 1)
	assert.Equal(t, task.NotifyFailureOnly, got.Notifications[0].Policy)

	byName, err := s.GetTaskByName(ctx, "backup")
	require.NoError(t, err)
	assert.Equal(t, tk.ID, byName.ID)

	got.Command = "echo bye"
	got.Name = "renamed"
	require.NoError(t, s.UpdateTask(ctx, got))

	after, err := s.GetTask(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, "echo bye", after.Command)
	assert.Equal(t, "backup", after.Name, "name is immutable")

	require.NoError(t, s.DeleteTask(ctx, tk.ID))
	_, err = s.GetTask(ctx, tk.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteTask(ctx, tk.ID), ErrNotFound)
}

func TestTaskNameUnique(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateTask(ctx, testTask("dup")))
	assert.Error(t, s.CreateTask(ctx, testTask("dup")))
}

func TestSetNextRunTime(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tk := testTask("next")
	require.NoError(t, s.CreateTask(ctx, tk))

	next := time.Now().Add(5 * time.Minute).UTC().Truncate(time.Second)
	require.NoError(t, s.SetNextRunTime(ctx, tk.ID, &next))

	got, err := s.GetTask(ctx, tk.ID)
	require.NoError(t, err)
	require.NotNil(t, got.NextRunTime)
	assert.True(t, got.NextRunTime.Equal(next))

	require.NoError(t, s.SetNextRunTime(ctx, tk.ID, nil))
	got, err = s.GetTask(ctx, tk.ID)
	require.NoError(t, err)
	assert.Nil(t, got.NextRunTime)
}

func TestExecutionLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tk := testTask("exec")
	require.NoError(t, s.CreateTask(ctx, tk))

	e := &task.Execution{TaskID: tk.ID}
	require.NoError(t, s.CreateExecution(ctx, e))
	require.NotZero(t, e.ID)
	assert.Equal(t, task.StatusPending, e.Status)

	start := time.Now().UTC()
	require.NoError(t, s.MarkExecutionRunning(ctx, e.ID, start))

	// running -> running is refused: the pending guard already fired
	assert.ErrorIs(t, s.MarkExecutionRunning(ctx, e.ID, start), ErrTerminal)

	finish := start.Add(2 * time.Second)
	require.NoError(t, s.FinishExecution(ctx, e.ID, task.StatusSuccess, finish, "done", ""))

	got, err := s.GetExecution(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusSuccess, got.Status)
	assert.Equal(t, "done", got.Output)
	require.NotNil(t, got.Duration)
	// julianday arithmetic is float-based; allow one second of truncation
	assert.InDelta(t, 2, *got.Duration, 1)
}

func TestFinishExecutionTerminalIsFinal(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tk := testTask("final")
	require.NoError(t, s.CreateTask(ctx, tk))

	e := &task.Execution{TaskID: tk.ID}
	require.NoError(t, s.CreateExecution(ctx, e))
	now := time.Now().UTC()
	require.NoError(t, s.FinishExecution(ctx, e.ID, task.StatusCancelled, now, "", "cancelled by operator"))

	// A late timeout result must not overwrite the cancellation.
	err := s.FinishExecution(ctx, e.ID, task.StatusTimeout, now.Add(time.Second), "", "deadline exceeded")
	assert.ErrorIs(t, err, ErrTerminal)

	got, err := s.GetExecution(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCancelled, got.Status)

	// Non-terminal statuses are rejected outright.
	err = s.FinishExecution(ctx, e.ID, task.StatusRunning, now, "", "")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrTerminal)
}

func TestListExecutionsFilterAndPaging(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a := testTask("a")
	b := testTask("b")
	require.NoError(t, s.CreateTask(ctx, a))
	require.NoError(t, s.CreateTask(ctx, b))

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		e := &task.Execution{TaskID: a.ID, StartedAt: base.Add(time.Duration(i) * time.Minute)}
		require.NoError(t, s.CreateExecution(ctx, e))
		status := task.StatusSuccess
		if i%2 == 1 {
			status = task.StatusFailed
		}
		require.NoError(t, s.FinishExecution(ctx, e.ID, status, e.StartedAt.Add(time.Second), "", ""))
	}
	e := &task.Execution{TaskID: b.ID, StartedAt: base.Add(time.Hour)}
	require.NoError(t, s.CreateExecution(ctx, e))

	page, err := s.ListExecutions(ctx, ExecutionFilter{Page: 1, PageSize: 4})
	require.NoError(t, err)
	assert.Equal(t, 6, page.Total)
	assert.Equal(t, 2, page.TotalPages)
	require.Len(t, page.Items, 4)
	// newest first
	assert.Equal(t, b.ID, page.Items[0].TaskID)

	failed := task.StatusFailed
	page, err = s.ListExecutions(ctx, ExecutionFilter{TaskID: &a.ID, Status: &failed})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)

	latest, err := s.LatestExecution(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, base.Add(4*time.Minute).Unix(), latest.StartedAt.Unix())
}

func TestRecoverInterrupted(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tk := testTask("recover")
	require.NoError(t, s.CreateTask(ctx, tk))

	pending := &task.Execution{TaskID: tk.ID}
	require.NoError(t, s.CreateExecution(ctx, pending))
	running := &task.Execution{TaskID: tk.ID}
	require.NoError(t, s.CreateExecution(ctx, running))
	require.NoError(t, s.MarkExecutionRunning(ctx, running.ID, time.Now().UTC()))
	done := &task.Execution{TaskID: tk.ID}
	require.NoError(t, s.CreateExecution(ctx, done))
	require.NoError(t, s.FinishExecution(ctx, done.ID, task.StatusSuccess, time.Now().UTC(), "", ""))

	n, err := s.RecoverInterrupted(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	for _, id := range []int64{pending.ID, running.ID} {
		got, err := s.GetExecution(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, task.StatusFailed, got.Status)
		assert.Contains(t, got.Error, "interrupted")
	}
	got, err := s.GetExecution(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusSuccess, got.Status)
}

func TestNotificationSeedAndUpdate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SeedNotifications(ctx))
	// idempotent
	require.NoError(t, s.SeedNotifications(ctx))

	list, err := s.ListNotifications(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)

	types := map[task.NotifyType]bool{}
	for _, n := range list {
		types[n.Type] = true
	}
	assert.True(t, types[task.NotifyWebhook])
	assert.True(t, types[task.NotifyTelegram])
	assert.True(t, types[task.NotifyDingTalk])

	first := list[0]
	require.NoError(t, s.UpdateNotificationConfig(ctx, first.ID, map[string]string{"url": "https://example.com/hook"}))
	got, err := s.GetNotification(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/hook", got.Config["url"])

	assert.ErrorIs(t, s.UpdateNotificationConfig(ctx, 9999, nil), ErrNotFound)

	resolved, err := s.GetNotifications(ctx, []int64{first.ID, 9999})
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	assert.Equal(t, first.ID, resolved[0].ID)
}
