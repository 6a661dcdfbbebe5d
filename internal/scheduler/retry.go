package scheduler

import (
	"context"
	"fmt"
	"time"

	"cronix/internal/eventbus"
	"cronix/internal/registry"
	"cronix/internal/runner"
	"cronix/internal/task"
	"cronix/pkg/logx"
)

// runSequence executes one firing of a task: attempt 0 plus up to
// retry_count retries. Retries happen only after failed or timeout attempts;
// success and cancelled end the sequence immediately. Every attempt gets its
// own execution record, and a cancellation observed during the inter-retry
// delay aborts with a cancelled record instead of a further attempt.
func (s *Service) runSequence(h *registry.Handle) {
	t := h.Task
	ctx := h.Context()
	// Store writes must survive run cancellation: a cancelled attempt still
	// needs its terminal row written.
	dbCtx := context.WithoutCancel(ctx)

	for attempt := 0; ; attempt++ {
		exec := &task.Execution{TaskID: t.ID, RetryAttempt: attempt}
		if err := s.store.CreateExecution(dbCtx, exec); err != nil {
			s.log.Error("create execution record",
				logx.Int64("task_id", t.ID), logx.Err(err))
			return
		}

		var res runner.Result
		if ctx.Err() != nil {
			// Cancelled before the process started.
			now := time.Now().UTC()
			res = runner.Result{
				Status:     task.StatusCancelled,
				Error:      "execution cancelled",
				StartedAt:  now,
				FinishedAt: now,
			}
		} else {
			if err := s.store.MarkExecutionRunning(dbCtx, exec.ID, time.Now().UTC()); err != nil {
				s.log.Error("mark execution running",
					logx.Int64("execution_id", exec.ID), logx.Err(err))
				return
			}
			exec.Status = task.StatusRunning
			s.bus.Publish(eventbus.Event{
				Type: eventbus.ExecutionStarted,
				Data: eventbus.ExecutionPayload{Task: t, Execution: exec},
			})
			res = s.runAttempt(ctx, t)
		}

		if err := s.store.FinishExecution(dbCtx, exec.ID, res.Status, res.FinishedAt, res.Output, res.Error); err != nil {
			s.log.Error("finish execution record",
				logx.Int64("execution_id", exec.ID), logx.Err(err))
		}
		exec.Status = res.Status
		exec.FinishedAt = &res.FinishedAt
		exec.Output = res.Output
		exec.Error = res.Error
		duration := int64(res.FinishedAt.Sub(res.StartedAt) / time.Second)
		exec.Duration = &duration
		s.bus.Publish(eventbus.Event{
			Type: eventbus.ExecutionFinished,
			Data: eventbus.ExecutionPayload{Task: t, Execution: exec},
		})

		s.log.Info("attempt finished",
			logx.Int64("task_id", t.ID), logx.String("task", t.Name),
			logx.Int("attempt", attempt), logx.String("status", string(res.Status)))

		switch res.Status {
		case task.StatusSuccess, task.StatusCancelled:
			return
		}
		// failed or timeout: retry while budget remains
		if attempt >= t.RetryCount {
			return
		}

		delay := time.NewTimer(t.RetryDelay())
		select {
		case <-ctx.Done():
			delay.Stop()
			// The abort is recorded so the firing's final status is
			// cancelled, not the previous attempt's failure.
			s.recordAborted(dbCtx, t, attempt+1)
			return
		case <-delay.C:
		}
	}
}

// runAttempt isolates one process run. A panic anywhere in the runner is
// converted into a failed result instead of taking down the worker.
func (s *Service) runAttempt(ctx context.Context, t *task.Task) (res runner.Result) {
	started := time.Now().UTC()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("runner panicked",
				logx.Int64("task_id", t.ID), logx.Any("panic", r))
			res = runner.Result{
				Status:     task.StatusFailed,
				Error:      fmt.Sprintf("internal error: %v", r),
				StartedAt:  started,
				FinishedAt: time.Now().UTC(),
			}
		}
	}()
	return s.run.Run(ctx, t)
}

// recordAborted writes the cancelled marker row for a retry that never ran.
func (s *Service) recordAborted(ctx context.Context, t *task.Task, attempt int) {
	now := time.Now().UTC()
	exec := &task.Execution{TaskID: t.ID, RetryAttempt: attempt, StartedAt: now}
	if err := s.store.CreateExecution(ctx, exec); err != nil {
		s.log.Error("record aborted retry", logx.Int64("task_id", t.ID), logx.Err(err))
		return
	}
	if err := s.store.FinishExecution(ctx, exec.ID, task.StatusCancelled, now, "", "cancelled during retry delay"); err != nil {
		s.log.Error("record aborted retry", logx.Int64("execution_id", exec.ID), logx.Err(err))
	}
	exec.Status = task.StatusCancelled
	exec.FinishedAt = &now
	exec.Error = "cancelled during retry delay"
	zero := int64(0)
	exec.Duration = &zero
	s.bus.Publish(eventbus.Event{
		Type: eventbus.ExecutionFinished,
		Data: eventbus.ExecutionPayload{Task: t, Execution: exec},
	})
}
