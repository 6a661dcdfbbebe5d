// Package cronspec evaluates task cron expressions.
//
// Expressions may be 5-field (minute hour dom month dow) or 6-field with a
// leading seconds field; the field count picks the granularity. Evaluation is
// pure: callers inject the reference times, so results are reproducible in
// tests without a live clock.
package cronspec

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// SecondOptional accepts both 5-field and 6-field (leading seconds) specs.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ScheduleError marks a malformed cron expression. It is surfaced at task
// save time, never at fire time.
type ScheduleError struct {
	Expr string
	Err  error
}

func (e *ScheduleError) Error() string {
	return fmt.Sprintf("invalid cron expression %q: %v", e.Expr, e.Err)
}

func (e *ScheduleError) Unwrap() error { return e.Err }

// Schedule is a parsed, immutable cron expression.
type Schedule struct {
	expr  string
	sched cron.Schedule
}

// Parse validates expr and returns its schedule.
// Descriptors ("@hourly", "@every ...") are rejected: task definitions use
// explicit field syntax only.
func Parse(expr string) (*Schedule, error) {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return nil, &ScheduleError{Expr: expr, Err: fmt.Errorf("empty expression")}
	}
	if strings.HasPrefix(trimmed, "@") {
		return nil, &ScheduleError{Expr: expr, Err: fmt.Errorf("descriptors are not supported; use 5- or 6-field syntax")}
	}
	if n := len(strings.Fields(trimmed)); n != 5 && n != 6 {
		return nil, &ScheduleError{Expr: expr, Err: fmt.Errorf("expected 5 or 6 fields, got %d", n)}
	}
	s, err := parser.Parse(trimmed)
	if err != nil {
		return nil, &ScheduleError{Expr: expr, Err: err}
	}
	return &Schedule{expr: trimmed, sched: s}, nil
}

// Validate reports whether expr parses, without keeping the schedule.
func Validate(expr string) error {
	_, err := Parse(expr)
	return err
}

// Expr returns the normalized expression text.
func (s *Schedule) Expr() string { return s.expr }

// Seconds reports whether the expression carries a seconds field.
func (s *Schedule) Seconds() bool { return len(strings.Fields(s.expr)) == 6 }

// Next returns the first fire time strictly after from.
func (s *Schedule) Next(from time.Time) time.Time {
	return s.sched.Next(from)
}

// DueWithin reports whether a fire time falls inside the polling window
// (lastTick, now]. Each fire time belongs to exactly one window as long as
// consecutive calls chain now -> lastTick, so a due task fires exactly once
// per window: no double-fire, no skip.
func (s *Schedule) DueWithin(lastTick, now time.Time) bool {
	if !lastTick.Before(now) {
		return false
	}
	next := s.sched.Next(lastTick)
	return !next.IsZero() && !next.After(now)
}
