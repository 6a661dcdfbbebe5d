package api

import (
	"context"
	"sync"
	"time"

	"cronix/internal/eventbus"
	"cronix/internal/task"
)

// ActivityEntry is one row of the dashboard's recent-activity feed.
type ActivityEntry struct {
	Time        time.Time            `json:"time"`
	Kind        string               `json:"kind"`
	TaskID      int64                `json:"task_id"`
	TaskName    string               `json:"task_name"`
	ExecutionID int64                `json:"execution_id,omitempty"`
	Status      task.ExecutionStatus `json:"status,omitempty"`
	Reason      string               `json:"reason,omitempty"`
}

// Feed keeps the most recent execution lifecycle events in a ring buffer so
// the dashboard can show activity without querying the store.
type Feed struct {
	capacity int

	mu      sync.Mutex
	entries []ActivityEntry
	next    int
	full    bool
}

func NewFeed(capacity int) *Feed {
	if capacity <= 0 {
		capacity = 256
	}
	return &Feed{
		capacity: capacity,
		entries:  make([]ActivityEntry, capacity),
	}
}

// Run consumes bus events until ctx is cancelled.
func (f *Feed) Run(ctx context.Context, bus eventbus.Bus) error {
	events, unsub := bus.Subscribe(64)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			if entry, ok := entryFor(e); ok {
				f.record(entry)
			}
		}
	}
}

func entryFor(e eventbus.Event) (ActivityEntry, bool) {
	switch e.Type {
	case eventbus.ExecutionStarted, eventbus.ExecutionFinished:
		p, ok := e.Data.(eventbus.ExecutionPayload)
		if !ok || p.Task == nil || p.Execution == nil {
			return ActivityEntry{}, false
		}
		kind := "started"
		if e.Type == eventbus.ExecutionFinished {
			kind = "finished"
		}
		return ActivityEntry{
			Time:        e.Time,
			Kind:        kind,
			TaskID:      p.Task.ID,
			TaskName:    p.Task.Name,
			ExecutionID: p.Execution.ID,
			Status:      p.Execution.Status,
		}, true
	case eventbus.FiringSkipped:
		p, ok := e.Data.(eventbus.SkipPayload)
		if !ok {
			return ActivityEntry{}, false
		}
		return ActivityEntry{
			Time:     e.Time,
			Kind:     "skipped",
			TaskID:   p.TaskID,
			TaskName: p.Name,
			Reason:   p.Reason,
		}, true
	default:
		return ActivityEntry{}, false
	}
}

func (f *Feed) record(entry ActivityEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[f.next] = entry
	f.next = (f.next + 1) % f.capacity
	if f.next == 0 {
		f.full = true
	}
}

// Recent returns up to limit entries, newest first.
func (f *Feed) Recent(limit int) []ActivityEntry {
	f.mu.Lock()
	defer f.mu.Unlock()

	size := f.next
	if f.full {
		size = f.capacity
	}
	if limit <= 0 || limit > size {
		limit = size
	}
	out := make([]ActivityEntry, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (f.next - i + f.capacity) % f.capacity
		out = append(out, f.entries[idx])
	}
	return out
}
