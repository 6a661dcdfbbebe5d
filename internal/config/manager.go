package config

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"go.yaml.in/yaml/v3"

	"cronix/pkg/logx"
)

// Manager owns the on-disk config: initial load, live value, and hot reload.
//
// Reload is best-effort: a config that fails to parse or validate is logged
// and dropped, the previous value stays committed.
type Manager struct {
	path string

	mu  sync.RWMutex
	cfg *Config

	subsMu sync.Mutex
	subs   []chan *Config

	log logx.Logger

	// lastHash tracks the last committed content so editor double-writes
	// don't cause redundant publishes.
	lastHash uint64
}

func NewManager(path string) *Manager {
	return &Manager{path: path}
}

func (m *Manager) SetLogger(log logx.Logger) { m.log = log }

// Load reads .env (if present), then the YAML file, overlays environment
// variables, applies defaults and validates. The result is committed.
func (m *Manager) Load() (*Config, error) {
	// .env is optional; missing file is not an error.
	_ = godotenv.Load()

	cfg, raw, err := m.parse()
	if err != nil {
		return nil, err
	}
	m.commit(cfg, hashBytes(raw))
	return cfg, nil
}

func (m *Manager) parse() (*Config, []byte, error) {
	var cfg Config
	b, err := os.ReadFile(m.path)
	switch {
	case os.IsNotExist(err):
		// No file: env overlays plus defaults are a complete config.
		b = nil
	case err != nil:
		return nil, nil, err
	case len(b) > 0:
		dec := yaml.NewDecoder(bytes.NewReader(b))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return nil, nil, fmt.Errorf("parse %s: %w", m.path, err)
		}
	}
	cfg.applyEnv()
	cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, nil, err
	}
	return &cfg, b, nil
}

func (m *Manager) commit(cfg *Config, hash uint64) {
	m.mu.Lock()
	m.cfg = cfg
	m.lastHash = hash
	m.mu.Unlock()
}

func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Subscribe returns a channel receiving each newly committed config.
func (m *Manager) Subscribe(buffer int) chan *Config {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan *Config, buffer)
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()
	return ch
}

func (m *Manager) publish(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		// Deliver the latest value; if the subscriber is behind, drop one
		// stale item and push the newest.
		select {
		case ch <- cfg:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- cfg:
			default:
			}
		}
	}
}

// Watch reloads the config when the file changes, until ctx is done.
// Editors replace files via rename, so the watcher follows the directory.
func (m *Manager) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	dir := filepath.Dir(m.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	target := filepath.Clean(m.path)
	var debounce *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// Debounce bursts of write events from a single save.
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(200*time.Millisecond, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			m.log.Warn("config watcher error", logx.Err(err))
		case <-fire:
			m.reload()
		}
	}
}

func (m *Manager) reload() {
	cfg, raw, err := m.parse()
	if err != nil {
		m.log.Error("config reload rejected", logx.Err(err))
		return
	}
	h := hashBytes(raw)

	m.mu.Lock()
	unchanged := h == m.lastHash
	m.mu.Unlock()
	if unchanged {
		return
	}

	m.commit(cfg, h)
	m.log.Info("config reloaded", logx.String("path", m.path))
	m.publish(cfg)
}

func hashBytes(b []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
