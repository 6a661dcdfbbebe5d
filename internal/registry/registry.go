// Package registry mirrors persisted task definitions in memory and owns
// per-task concurrency control.
//
// The registry is the single serialization point for the "at most one live
// run per task" invariant: scheduler ticks and manual run requests both go
// through TryAcquire, so cron-triggered and manual executions can never
// overlap for the same task.
package registry

import (
	"context"
	"sync"
	"time"

	"cronix/internal/cronspec"
	"cronix/internal/storage"
	"cronix/internal/task"
	"cronix/pkg/logx"
)

// Handle is the live-run token for one task. It exists only while an
// execution sequence is in flight and is removed the moment Release runs.
type Handle struct {
	Task       *task.Task
	AcquiredAt time.Time
	Manual     bool

	ctx    context.Context
	cancel context.CancelFunc
}

// Context is cancelled when the run is cancelled (operator request or
// registry shutdown).
func (h *Handle) Context() context.Context { return h.ctx }

type entry struct {
	task     *task.Task
	sched    *cronspec.Schedule
	lastNext time.Time // last persisted next_run_time, zero if none
}

type Registry struct {
	store *storage.Store
	log   logx.Logger

	mu      sync.Mutex
	tasks   map[int64]*entry
	running map[int64]*Handle
}

func New(store *storage.Store, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{
		store:   store,
		log:     log,
		tasks:   map[int64]*entry{},
		running: map[int64]*Handle{},
	}
}

// Refresh reloads active task definitions from the store and recomputes the
// next_run_time display values. CRUD done through the API is picked up here,
// so definition changes take effect by the next tick at the latest.
func (r *Registry) Refresh(ctx context.Context) error {
	active, err := r.store.ListActiveTasks(ctx)
	if err != nil {
		return err
	}
	now := time.Now()

	type nextWrite struct {
		taskID int64
		next   *time.Time
	}
	var writes []nextWrite

	r.mu.Lock()
	seen := make(map[int64]bool, len(active))
	for _, t := range active {
		seen[t.ID] = true
		e := r.tasks[t.ID]
		if e == nil || e.task.CronExpression != t.CronExpression {
			sched, err := cronspec.Parse(t.CronExpression)
			if err != nil {
				// Validation should have caught this at save time; a bad row
				// is skipped, never fatal to the tick.
				r.log.Warn("task has unparseable cron expression, skipping",
					logx.Int64("task_id", t.ID), logx.String("task", t.Name), logx.Err(err))
				delete(r.tasks, t.ID)
				continue
			}
			e = &entry{sched: sched}
			r.tasks[t.ID] = e
		}
		e.task = t
		next := e.sched.Next(now)
		if !next.Equal(e.lastNext) {
			e.lastNext = next
			writes = append(writes, nextWrite{taskID: t.ID, next: &next})
		}
	}
	// Tasks deleted or deactivated since the last refresh drop out of the
	// index and lose their displayed next fire time.
	for id := range r.tasks {
		if !seen[id] {
			delete(r.tasks, id)
			writes = append(writes, nextWrite{taskID: id})
		}
	}
	r.mu.Unlock()

	for _, w := range writes {
		if err := r.store.SetNextRunTime(ctx, w.taskID, w.next); err != nil {
			r.log.Warn("persist next_run_time", logx.Int64("task_id", w.taskID), logx.Err(err))
		}
	}
	return nil
}

// ListDue returns active tasks with a fire time inside (lastTick, now].
func (r *Registry) ListDue(lastTick, now time.Time) []*task.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []*task.Task
	for _, e := range r.tasks {
		if e.sched.DueWithin(lastTick, now) {
			due = append(due, e.task)
		}
	}
	return due
}

// Get returns the cached active definition for id, or nil.
func (r *Registry) Get(id int64) *task.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e := r.tasks[id]; e != nil {
		return e.task
	}
	return nil
}

// TryAcquire claims the run slot for a task. It fails (nil, false) if a run
// is already in flight; the caller skips this firing rather than queueing.
func (r *Registry) TryAcquire(parent context.Context, t *task.Task, manual bool) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.running[t.ID]; busy {
		return nil, false
	}
	ctx, cancel := context.WithCancel(parent)
	h := &Handle{
		Task:       t,
		AcquiredAt: time.Now(),
		Manual:     manual,
		ctx:        ctx,
		cancel:     cancel,
	}
	r.running[t.ID] = h
	return h, true
}

// Release frees the run slot. Safe to call once per acquired handle.
func (r *Registry) Release(h *Handle) {
	if h == nil {
		return
	}
	h.cancel()
	r.mu.Lock()
	if r.running[h.Task.ID] == h {
		delete(r.running, h.Task.ID)
	}
	r.mu.Unlock()
}

// RequestCancel flags the live run of a task for cancellation. Returns false
// when no run is in flight. Cancellation is asynchronous: the running attempt
// observes it at its next suspension point.
func (r *Registry) RequestCancel(taskID int64) bool {
	r.mu.Lock()
	h := r.running[taskID]
	r.mu.Unlock()
	if h == nil {
		return false
	}
	h.cancel()
	return true
}

// RunningIDs lists tasks with a live handle, for the stats endpoint.
func (r *Registry) RunningIDs() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int64, 0, len(r.running))
	for id := range r.running {
		ids = append(ids, id)
	}
	return ids
}

// ActiveCount returns the number of indexed active tasks.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}
