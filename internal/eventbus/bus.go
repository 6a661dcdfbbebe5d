// Package eventbus decouples the scheduler core from its observers.
//
// The scheduler publishes execution lifecycle events; the notify dispatcher
// and the API's activity feed subscribe. Publish never blocks: slow
// subscribers drop events rather than stalling a tick.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"

	"cronix/internal/task"
)

// Event types published by the scheduler.
const (
	ExecutionStarted  = "execution.started"
	ExecutionFinished = "execution.finished"
	FiringSkipped     = "firing.skipped"
)

// ExecutionPayload is the Data of started/finished events.
type ExecutionPayload struct {
	Task      *task.Task
	Execution *task.Execution
}

// SkipPayload is the Data of a skipped-firing event.
type SkipPayload struct {
	TaskID int64
	Name   string
	Reason string
}

type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns a simple in-memory fanout bus.
// It owns no background goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Snapshot subscribers so Publish doesn't hold locks while sending.
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// Non-blocking delivery. If a subscriber unsubscribes concurrently
		// and the channel closes, recover from the send panic.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			// Closing is safe because Publish recovers from send panics.
			close(ch)
		})
	}
	return ch, unsub
}
