package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the daemon's on-disk configuration.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// A handful of fields can also be overridden through the environment
// (see applyEnv); a .env file next to the binary is honored.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Notifier  NotifierConfig  `yaml:"notifier"`
	Scripts   ScriptsConfig   `yaml:"scripts"`
}

// ScriptsConfig locates the managed script library.
type ScriptsConfig struct {
	Dir string `yaml:"dir"` // default "./data/scripts"
}

type ServerConfig struct {
	Listen       string `yaml:"listen"`        // default ":8000"
	ReadTimeout  string `yaml:"read_timeout"`  // default "15s"
	WriteTimeout string `yaml:"write_timeout"` // default "30s"
}

type DatabaseConfig struct {
	Path        string `yaml:"path"`         // default "./data/cronix.db"
	BusyTimeout string `yaml:"busy_timeout"` // default "5s"
}

type LoggingConfig struct {
	Level   string        `yaml:"level"` // trace|debug|info|warn|error
	Console *bool         `yaml:"console,omitempty"`
	File    LogFileConfig `yaml:"file"`
}

type LogFileConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// SchedulerConfig controls the tick loop and the execution worker pool.
type SchedulerConfig struct {
	// Tick is the polling interval. Bounds 1s..60s; use 1s when any task
	// needs second-level (6-field) cron granularity.
	Tick string `yaml:"tick"`

	Workers int `yaml:"workers"` // execution slots, default 4

	// OutputLimitBytes caps captured stdout/stderr per attempt. Default 1 MiB.
	OutputLimitBytes int `yaml:"output_limit_bytes"`

	// TermGrace is how long a terminated process gets before SIGKILL.
	TermGrace string `yaml:"term_grace"` // default "5s"
}

// NotifierConfig controls outbound notification delivery.
type NotifierConfig struct {
	RatePerSec int    `yaml:"rate_per_sec"` // token bucket, default 3
	Timeout    string `yaml:"timeout"`      // per-delivery HTTP timeout, default "10s"

	// OutputSnippet is how much task output is embedded in a message.
	OutputSnippetBytes int `yaml:"output_snippet_bytes"` // default 1000
}

func (c *Config) withDefaults() {
	if strings.TrimSpace(c.Server.Listen) == "" {
		c.Server.Listen = ":8000"
	}
	if c.Server.ReadTimeout == "" {
		c.Server.ReadTimeout = "15s"
	}
	if c.Server.WriteTimeout == "" {
		c.Server.WriteTimeout = "30s"
	}
	if strings.TrimSpace(c.Database.Path) == "" {
		c.Database.Path = "./data/cronix.db"
	}
	if c.Database.BusyTimeout == "" {
		c.Database.BusyTimeout = "5s"
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Console == nil {
		on := true
		c.Logging.Console = &on
	}
	if c.Scheduler.Tick == "" {
		c.Scheduler.Tick = "1s"
	}
	if c.Scheduler.Workers <= 0 {
		c.Scheduler.Workers = 4
	}
	if c.Scheduler.OutputLimitBytes <= 0 {
		c.Scheduler.OutputLimitBytes = 1 << 20
	}
	if c.Scheduler.TermGrace == "" {
		c.Scheduler.TermGrace = "5s"
	}
	if c.Notifier.RatePerSec <= 0 {
		c.Notifier.RatePerSec = 3
	}
	if c.Notifier.Timeout == "" {
		c.Notifier.Timeout = "10s"
	}
	if c.Notifier.OutputSnippetBytes <= 0 {
		c.Notifier.OutputSnippetBytes = 1000
	}
	if strings.TrimSpace(c.Scripts.Dir) == "" {
		c.Scripts.Dir = "./data/scripts"
	}
}

// applyEnv overlays environment variables onto file values. The variables
// mirror the original deployment knobs: listen address, database path and
// log level are the ones operators actually override per host.
func (c *Config) applyEnv() {
	if v := os.Getenv("CRONIX_LISTEN"); v != "" {
		c.Server.Listen = v
	}
	if v := os.Getenv("CRONIX_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("CRONIX_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("CRONIX_SCHEDULER_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Scheduler.Workers = n
		}
	}
}

// validate rejects values outside supported bounds.
func (c *Config) validate() error {
	tick, err := ParseDurationField("scheduler.tick", c.Scheduler.Tick)
	if err != nil {
		return err
	}
	if tick < time.Second || tick > time.Minute {
		return fmt.Errorf("scheduler.tick: must be between 1s and 60s, got %s", tick)
	}
	if _, err := ParseDurationField("scheduler.term_grace", c.Scheduler.TermGrace); err != nil {
		return err
	}
	if _, err := ParseDurationField("database.busy_timeout", c.Database.BusyTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("notifier.timeout", c.Notifier.Timeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("server.read_timeout", c.Server.ReadTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("server.write_timeout", c.Server.WriteTimeout); err != nil {
		return err
	}
	return nil
}

// TickDuration returns the parsed scheduler tick. Call after Load.
func (c *Config) TickDuration() time.Duration {
	d, _ := ParseDurationOrDefault("scheduler.tick", c.Scheduler.Tick, time.Second)
	return d
}

func (c *Config) ConsoleLogging() bool {
	return c.Logging.Console == nil || *c.Logging.Console
}

// ParseDurationField parses a duration-string config value. The path names
// the field in error messages ("scheduler.tick"). Empty input parses to 0
// so callers can distinguish "unset" from an explicit value; negative
// durations are rejected.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with unset values replaced
// by def.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
