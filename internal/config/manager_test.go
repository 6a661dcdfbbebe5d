package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "cronix.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "server:\n  listen: \":9000\"\n")

	m := NewManager(path)
	cfg, err := m.Load()
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Listen)
	assert.Equal(t, "./data/cronix.db", cfg.Database.Path)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 4, cfg.Scheduler.Workers)
	assert.Equal(t, time.Second, cfg.TickDuration())
	assert.Equal(t, 1<<20, cfg.Scheduler.OutputLimitBytes)
	assert.True(t, cfg.ConsoleLogging())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.yaml")
	cfg, err := NewManager(path).Load()
	require.NoError(t, err)
	assert.Equal(t, ":8000", cfg.Server.Listen)
	assert.Equal(t, 4, cfg.Scheduler.Workers)
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: warn\n")
	t.Setenv("CRONIX_LOG_LEVEL", "debug")
	t.Setenv("CRONIX_SCHEDULER_WORKERS", "8")

	cfg, err := NewManager(path).Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 8, cfg.Scheduler.Workers)
}

func TestLoadRejectsBadTick(t *testing.T) {
	path := writeConfig(t, "scheduler:\n  tick: \"90s\"\n")
	_, err := NewManager(path).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheduler.tick")
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "schedulr:\n  tick: \"5s\"\n")
	_, err := NewManager(path).Load()
	require.Error(t, err)
}

func TestReloadPublishesChangedConfig(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: info\n")
	m := NewManager(path)
	_, err := m.Load()
	require.NoError(t, err)

	ch := m.Subscribe(1)
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0o644))
	m.reload()

	select {
	case cfg := <-ch:
		assert.Equal(t, "debug", cfg.Logging.Level)
	default:
		t.Fatal("expected published config")
	}

	// Same content again: no redundant publish.
	m.reload()
	select {
	case <-ch:
		t.Fatal("unexpected publish for unchanged content")
	default:
	}
}

func TestParseDurationFields(t *testing.T) {
	d, err := ParseDurationField("x", " 10s ")
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, d)

	d, err = ParseDurationField("x", "")
	require.NoError(t, err)
	assert.Zero(t, d)

	_, err = ParseDurationField("x", "-1s")
	assert.Error(t, err)
	_, err = ParseDurationField("x", "soon")
	assert.Error(t, err)

	d, err = ParseDurationOrDefault("x", "", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, d)
}
