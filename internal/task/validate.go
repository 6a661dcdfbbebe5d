package task

import (
	"fmt"
	"strings"
)

// Policy bounds enforced at create/update time.
const (
	MinTimeout       = 1
	MaxTimeout       = 3600
	MinRetryCount    = 0
	MaxRetryCount    = 5
	MinRetryInterval = 1
	MaxRetryInterval = 600

	DefaultTimeout       = 300
	DefaultRetryInterval = 60

	MaxNameLen = 100
)

// ValidationError reports a rejected field on create/update.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Validate checks everything except the cron expression, which the caller
// validates with the evaluator so schedule errors surface at save time.
func (t *Task) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return invalid("name", "must not be empty")
	}
	if len(t.Name) > MaxNameLen {
		return invalid("name", "longer than %d characters", MaxNameLen)
	}
	if !t.ExecutionType.Valid() {
		return invalid("execution_type", "must be one of shell, python, node")
	}
	if strings.TrimSpace(t.Command) == "" {
		return invalid("command", "must not be empty")
	}
	if t.Timeout < MinTimeout || t.Timeout > MaxTimeout {
		return invalid("timeout", "must be between %d and %d seconds", MinTimeout, MaxTimeout)
	}
	if t.RetryCount < MinRetryCount || t.RetryCount > MaxRetryCount {
		return invalid("retry_count", "must be between %d and %d", MinRetryCount, MaxRetryCount)
	}
	if t.RetryInterval < MinRetryInterval || t.RetryInterval > MaxRetryInterval {
		return invalid("retry_interval", "must be between %d and %d seconds", MinRetryInterval, MaxRetryInterval)
	}
	for i, ref := range t.Notifications {
		if ref.NotificationID <= 0 {
			return invalid("notifications", "entry %d: notification_id must be positive", i)
		}
		if !ref.Policy.Valid() {
			return invalid("notifications", "entry %d: policy must be never, always or failure-only", i)
		}
	}
	return nil
}

// ValidateNotificationConfig checks the per-type config shape.
// Shapes are validated here, at save time, so dispatch never has to.
func ValidateNotificationConfig(typ NotifyType, cfg map[string]string) error {
	switch typ {
	case NotifyWebhook:
		if !isHTTPURL(cfg["url"]) {
			return invalid("config.url", "webhook requires a valid http(s) url")
		}
	case NotifyTelegram:
		if strings.TrimSpace(cfg["bot_token"]) == "" {
			return invalid("config.bot_token", "telegram requires a non-empty bot_token")
		}
		if strings.TrimSpace(cfg["chat_id"]) == "" {
			return invalid("config.chat_id", "telegram requires a non-empty chat_id")
		}
	case NotifyDingTalk:
		if !isHTTPURL(cfg["webhook_url"]) {
			return invalid("config.webhook_url", "dingtalk requires a valid http(s) webhook_url")
		}
		if strings.TrimSpace(cfg["secret"]) == "" {
			return invalid("config.secret", "dingtalk requires a non-empty secret")
		}
	default:
		return invalid("notify_type", "must be one of webhook, telegram, dingtalk")
	}
	return nil
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
