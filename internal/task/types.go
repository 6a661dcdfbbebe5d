package task

import (
	"time"
)

// ExecType selects the interpreter used to run a task's command.
type ExecType string

const (
	ExecShell  ExecType = "shell"
	ExecPython ExecType = "python"
	ExecNode   ExecType = "node"
)

func (t ExecType) Valid() bool {
	switch t {
	case ExecShell, ExecPython, ExecNode:
		return true
	}
	return false
}

// ExecutionStatus is the lifecycle state of one execution attempt.
//
// pending -> running -> {success|failed|timeout|cancelled}
//
// The four right-hand values are terminal: a row that reached one of them
// is never updated again.
type ExecutionStatus string

const (
	StatusPending   ExecutionStatus = "pending"
	StatusRunning   ExecutionStatus = "running"
	StatusSuccess   ExecutionStatus = "success"
	StatusFailed    ExecutionStatus = "failed"
	StatusTimeout   ExecutionStatus = "timeout"
	StatusCancelled ExecutionStatus = "cancelled"
)

func (s ExecutionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusSuccess, StatusFailed, StatusTimeout, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether the status permits no further transitions.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusTimeout, StatusCancelled:
		return true
	}
	return false
}

// Failure reports whether the status counts as a failure outcome for
// failure-only notification targets.
func (s ExecutionStatus) Failure() bool {
	switch s {
	case StatusFailed, StatusTimeout, StatusCancelled:
		return true
	}
	return false
}

// NotifyPolicy decides whether an outcome is delivered to a target.
type NotifyPolicy string

const (
	NotifyNever       NotifyPolicy = "never"
	NotifyAlways      NotifyPolicy = "always"
	NotifyFailureOnly NotifyPolicy = "failure-only"
)

func (p NotifyPolicy) Valid() bool {
	switch p {
	case NotifyNever, NotifyAlways, NotifyFailureOnly:
		return true
	}
	return false
}

// NotifyRef ties a task to a stored notification config with a delivery policy.
// Order is preserved; dispatch walks refs in the order they were configured.
type NotifyRef struct {
	NotificationID int64        `json:"notification_id"`
	Policy         NotifyPolicy `json:"policy"`
}

// Task is a persisted scheduled-job definition.
//
// NextRunTime is display-only: it is recomputed from CronExpression whenever
// the registry refreshes, never trusted stale.
type Task struct {
	ID          int64  `db:"id" json:"id"`
	Name        string `db:"name" json:"name"`
	Description string `db:"description" json:"description,omitempty"`

	CronExpression string   `db:"cron_expression" json:"cron_expression"`
	ExecutionType  ExecType `db:"execution_type" json:"execution_type"`
	Command        string   `db:"command" json:"command"`

	IsActive      bool `db:"is_active" json:"is_active"`
	Timeout       int  `db:"timeout" json:"timeout"`              // seconds
	RetryCount    int  `db:"retry_count" json:"retry_count"`      // extra attempts after the first
	RetryInterval int  `db:"retry_interval" json:"retry_interval"` // seconds between attempts

	Notifications []NotifyRef `db:"-" json:"notifications,omitempty"`

	NextRunTime *time.Time `db:"next_run_time" json:"next_run_time,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// TimeoutDuration returns the per-attempt wall-clock deadline.
func (t *Task) TimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// RetryDelay returns the sleep between attempts.
func (t *Task) RetryDelay() time.Duration {
	return time.Duration(t.RetryInterval) * time.Second
}

// Execution is one attempt of one firing.
type Execution struct {
	ID     int64 `db:"id" json:"id"`
	TaskID int64 `db:"task_id" json:"task_id"`

	StartedAt  time.Time  `db:"started_at" json:"started_at"`
	FinishedAt *time.Time `db:"finished_at" json:"finished_at,omitempty"`

	Status       ExecutionStatus `db:"status" json:"status"`
	RetryAttempt int             `db:"retry_attempt" json:"retry_attempt"`

	Output string `db:"output" json:"output,omitempty"`
	Error  string `db:"error" json:"error,omitempty"`

	// Duration is finished_at - started_at in whole seconds, null while running.
	Duration *int64 `db:"duration" json:"duration,omitempty"`
}

// NotifyType tags a notification transport.
type NotifyType string

const (
	NotifyWebhook  NotifyType = "webhook"
	NotifyTelegram NotifyType = "telegram"
	NotifyDingTalk NotifyType = "dingtalk"
)

func (t NotifyType) Valid() bool {
	switch t {
	case NotifyWebhook, NotifyTelegram, NotifyDingTalk:
		return true
	}
	return false
}

// Notification is a stored transport configuration, one row per type.
// Config is a tagged union keyed by Type; see ValidateNotificationConfig.
type Notification struct {
	ID        int64             `db:"id" json:"id"`
	Type      NotifyType        `db:"notify_type" json:"notify_type"`
	Config    map[string]string `db:"-" json:"config"`
	CreatedAt time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt time.Time         `db:"updated_at" json:"updated_at"`
}
