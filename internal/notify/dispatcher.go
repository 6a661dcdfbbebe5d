// Package notify turns execution outcomes into delivered messages.
//
// The dispatcher consumes finished-execution events, applies each target's
// delivery policy and hands the rendered message to a transport. Delivery
// failures are logged and swallowed: a lost notification never alters an
// execution's terminal status and never retries the task.
package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"cronix/internal/eventbus"
	"cronix/internal/storage"
	"cronix/internal/task"
	"cronix/pkg/logx"
)

type Config struct {
	RatePerSec    int           // outbound token bucket, default 3
	Timeout       time.Duration // per-delivery deadline, default 10s
	OutputSnippet int           // max output bytes embedded in a message, default 1000
}

// TransportFactory builds a transport from a stored notification config.
// Swappable in tests.
type TransportFactory func(n *task.Notification) (Transport, error)

type Dispatcher struct {
	cfg     Config
	store   *storage.Store
	log     logx.Logger
	limiter *rate.Limiter
	factory TransportFactory
}

func New(cfg Config, store *storage.Store, log logx.Logger) *Dispatcher {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.OutputSnippet <= 0 {
		cfg.OutputSnippet = 1000
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	client := &http.Client{Timeout: cfg.Timeout}
	return &Dispatcher{
		cfg:     cfg,
		store:   store,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		factory: func(n *task.Notification) (Transport, error) {
			return NewTransport(n, client)
		},
	}
}

// SetTransportFactory replaces transport construction. Call before Run.
func (d *Dispatcher) SetTransportFactory(f TransportFactory) { d.factory = f }

// Run consumes finished-execution events from the bus until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(64)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if ev.Type != eventbus.ExecutionFinished {
				continue
			}
			p, ok := ev.Data.(eventbus.ExecutionPayload)
			if !ok || p.Task == nil || p.Execution == nil {
				continue
			}
			if !finalOutcome(p.Task, p.Execution) {
				continue
			}
			d.Dispatch(ctx, p.Task, p.Execution)
		}
	}
}

// finalOutcome reports whether this attempt ends its firing. Intermediate
// attempts that will be retried do not notify.
func finalOutcome(t *task.Task, e *task.Execution) bool {
	switch e.Status {
	case task.StatusSuccess, task.StatusCancelled:
		return true
	case task.StatusFailed, task.StatusTimeout:
		return e.RetryAttempt >= t.RetryCount
	}
	return false
}

// Dispatch evaluates every configured target's policy for one outcome and
// delivers where the policy allows.
func (d *Dispatcher) Dispatch(ctx context.Context, t *task.Task, e *task.Execution) {
	if len(t.Notifications) == 0 {
		return
	}
	msg := d.buildMessage(t, e)

	for _, ref := range t.Notifications {
		if !shouldSend(ref.Policy, e.Status) {
			continue
		}
		n, err := d.store.GetNotification(ctx, ref.NotificationID)
		if err != nil {
			d.log.Warn("notification config unavailable",
				logx.Int64("task_id", t.ID), logx.Int64("notification_id", ref.NotificationID), logx.Err(err))
			continue
		}
		d.deliver(ctx, t, n, msg)
	}
}

func shouldSend(p task.NotifyPolicy, status task.ExecutionStatus) bool {
	switch p {
	case task.NotifyAlways:
		return true
	case task.NotifyFailureOnly:
		return status.Failure()
	default:
		return false
	}
}

func (d *Dispatcher) deliver(ctx context.Context, t *task.Task, n *task.Notification, msg string) {
	tr, err := d.factory(n)
	if err != nil {
		d.log.Warn("notification transport unavailable",
			logx.Int64("task_id", t.ID), logx.String("type", string(n.Type)), logx.Err(err))
		return
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return
	}
	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()
	if err := tr.Send(sendCtx, msg); err != nil {
		d.log.Error("notification delivery failed",
			logx.Int64("task_id", t.ID), logx.String("type", string(n.Type)), logx.Err(err))
		return
	}
	d.log.Info("notification sent",
		logx.Int64("task_id", t.ID), logx.String("type", string(n.Type)))
}

func (d *Dispatcher) buildMessage(t *task.Task, e *task.Execution) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task Execution Report\n")
	fmt.Fprintf(&b, "━━━━━━━━━━━━━━━━━━\n")
	fmt.Fprintf(&b, "Task: %s\n", t.Name)
	fmt.Fprintf(&b, "ID: %d\n", t.ID)
	fmt.Fprintf(&b, "Status: %s\n", e.Status)
	if e.Duration != nil {
		fmt.Fprintf(&b, "Duration: %ds\n", *e.Duration)
	}
	if e.Error != "" {
		fmt.Fprintf(&b, "Error: %s\n", snippet(e.Error, d.cfg.OutputSnippet))
	}
	fmt.Fprintf(&b, "Output:\n%s", snippet(e.Output, d.cfg.OutputSnippet))
	return b.String()
}

func snippet(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
