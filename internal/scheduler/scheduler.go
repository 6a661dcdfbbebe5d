// Package scheduler drives the tick loop that turns due cron schedules into
// executions.
//
// Each tick the registry is refreshed, due tasks are claimed through
// TryAcquire and handed to a bounded worker pool. A task whose previous run
// is still in flight is skipped for that tick, never queued.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"cronix/internal/eventbus"
	"cronix/internal/registry"
	"cronix/internal/runner"
	"cronix/internal/storage"
	"cronix/internal/task"
	"cronix/pkg/logx"
)

var (
	// ErrBusy means a run is already in flight for the task.
	ErrBusy = errors.New("task already running")

	// ErrUnknownTask means the task id resolves to nothing.
	ErrUnknownTask = errors.New("unknown task")
)

type Config struct {
	Tick    time.Duration // polling interval, default 1s
	Workers int           // execution slots, default 4
}

type Service struct {
	cfg   Config
	store *storage.Store
	reg   *registry.Registry
	run   *runner.Runner
	bus   eventbus.Bus
	log   logx.Logger

	slots   chan struct{}
	wg      sync.WaitGroup
	skipped atomic.Uint64
	baseCtx atomic.Value // context.Context set by Run
}

func New(cfg Config, store *storage.Store, reg *registry.Registry, run *runner.Runner, bus eventbus.Bus, log logx.Logger) *Service {
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:   cfg,
		store: store,
		reg:   reg,
		run:   run,
		bus:   bus,
		log:   log,
		slots: make(chan struct{}, cfg.Workers),
	}
}

// Run blocks driving the tick loop until ctx is cancelled, then waits for
// in-flight workers to drain. Call once.
func (s *Service) Run(ctx context.Context) error {
	s.baseCtx.Store(ctx)

	// A previous process lifetime may have died mid-run; those child
	// processes no longer exist, so their rows are closed out first.
	if _, err := s.store.RecoverInterrupted(ctx); err != nil {
		return err
	}
	if err := s.reg.Refresh(ctx); err != nil {
		return err
	}

	s.log.Info("scheduler started",
		logx.Duration("tick", s.cfg.Tick), logx.Int("workers", s.cfg.Workers))

	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	lastTick := time.Now()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopping, draining workers")
			s.wg.Wait()
			return nil
		case now := <-ticker.C:
			s.tick(ctx, lastTick, now)
			lastTick = now
		}
	}
}

func (s *Service) tick(ctx context.Context, lastTick, now time.Time) {
	if err := s.reg.Refresh(ctx); err != nil {
		s.log.Error("registry refresh failed", logx.Err(err))
		return
	}
	for _, t := range s.reg.ListDue(lastTick, now) {
		s.dispatch(ctx, t, false)
	}
}

// dispatch claims the task's run slot and hands the firing to a worker.
// An already-running task is a skipped tick, not an error.
func (s *Service) dispatch(ctx context.Context, t *task.Task, manual bool) bool {
	h, ok := s.reg.TryAcquire(ctx, t, manual)
	if !ok {
		s.skipped.Add(1)
		s.log.Debug("firing skipped, run already in flight",
			logx.Int64("task_id", t.ID), logx.String("task", t.Name))
		s.bus.Publish(eventbus.Event{
			Type: eventbus.FiringSkipped,
			Data: eventbus.SkipPayload{TaskID: t.ID, Name: t.Name, Reason: "already running"},
		})
		return false
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.reg.Release(h)

		// Bounded pool. Waiting here blocks only this firing's goroutine;
		// the tick loop never blocks, and same-task overlap is already
		// excluded by the handle.
		select {
		case s.slots <- struct{}{}:
		case <-ctx.Done():
			return
		}
		defer func() { <-s.slots }()

		s.runSequence(h)
	}()
	return true
}

// RunNow fires a task immediately, outside its schedule. Inactive tasks can
// be run manually. Returns ErrBusy while a run is in flight.
func (s *Service) RunNow(ctx context.Context, taskID int64) error {
	t, err := s.store.GetTask(ctx, taskID)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrUnknownTask
	}
	if err != nil {
		return err
	}
	base, _ := s.baseCtx.Load().(context.Context)
	if base == nil {
		base = context.Background()
	}
	if !s.dispatch(base, t, true) {
		return ErrBusy
	}
	s.log.Info("manual run dispatched", logx.Int64("task_id", t.ID), logx.String("task", t.Name))
	return nil
}

// Cancel requests cancellation of a task's in-flight run. Returns false when
// nothing is running.
func (s *Service) Cancel(taskID int64) bool {
	ok := s.reg.RequestCancel(taskID)
	if ok {
		s.log.Info("cancellation requested", logx.Int64("task_id", taskID))
	}
	return ok
}

// SkippedFirings returns the number of firings skipped due to an in-flight run.
func (s *Service) SkippedFirings() uint64 { return s.skipped.Load() }
