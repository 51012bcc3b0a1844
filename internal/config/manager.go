package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "remindd/pkg/logx"
)

const (
	reloadDebounce  = 250 * time.Millisecond
	validateTimeout = 5 * time.Second
)

// ErrWatcherClosed is returned by Watch when fsnotify closes its channels.
// Callers restart Watch (see supervisor.GoRestart).
var ErrWatcherClosed = errors.New("config watcher closed")

// Manager owns the current config and fans out reloads to subscribers.
type Manager struct {
	path string

	mu       sync.RWMutex
	cfg      *Config
	lastHash uint64 // content hash of cfg; editor double-writes publish once

	subsMu sync.Mutex
	subs   map[chan *Config]struct{}

	log       logx.Logger
	validator func(ctx context.Context, cfg *Config) error
}

func NewManager(path string) *Manager {
	return &Manager{path: path, log: logx.Nop(), subs: map[chan *Config]struct{}{}}
}

func (m *Manager) Path() string { return m.path }

func (m *Manager) SetLogger(log logx.Logger) { m.log = log }

// SetValidator installs an extra check run on reloads after Validate.
func (m *Manager) SetValidator(fn func(ctx context.Context, cfg *Config) error) {
	m.validator = fn
}

func (m *Manager) Parse() (*Config, error) {
	b, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	return ParseBytes(m.path, b)
}

// Load reads, validates and commits the file without notifying subscribers.
func (m *Manager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	m.commit(cfg, hashConfig(cfg))
	return cfg, nil
}

func (m *Manager) commit(cfg *Config, h uint64) {
	m.mu.Lock()
	m.cfg, m.lastHash = cfg, h
	m.mu.Unlock()
}

func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) Subscribe(buffer int) chan *Config {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan *Config, buffer)
	m.subsMu.Lock()
	m.subs[ch] = struct{}{}
	m.subsMu.Unlock()
	return ch
}

// Unsubscribe closes ch. Unknown or repeated channels are ignored.
func (m *Manager) Unsubscribe(ch chan *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	if _, ok := m.subs[ch]; ok {
		delete(m.subs, ch)
		close(ch)
	}
}

func (m *Manager) publish(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for ch := range m.subs {
		if !offerLatest(ch, cfg) {
			m.log.Debug("config update dropped (subscriber slow)", logx.Int("queue_cap", cap(ch)))
		}
	}
}

// offerLatest sends cfg, evicting one stale queued config if ch is full.
func offerLatest(ch chan *Config, cfg *Config) bool {
	for attempt := 0; attempt < 2; attempt++ {
		select {
		case ch <- cfg:
			return true
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
	return false
}

// Reload re-reads the file and publishes it when the content changed and
// every check passed. It reports whether subscribers were notified.
func (m *Manager) Reload(ctx context.Context) (bool, error) {
	cfg, err := m.Parse()
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", m.path, err)
	}
	h := hashConfig(cfg)
	m.mu.RLock()
	same := h != 0 && h == m.lastHash
	m.mu.RUnlock()
	if same {
		return false, nil
	}
	if err := Validate(cfg); err != nil {
		return false, err
	}
	if m.validator != nil {
		vctx, cancel := context.WithTimeout(ctx, validateTimeout)
		err := m.validator(vctx, cfg)
		cancel()
		if err != nil {
			return false, err
		}
	}
	m.commit(cfg, h)
	m.publish(cfg)
	return true, nil
}

// Watch reloads on file changes until ctx is done (nil) or the watcher breaks
// (error). The parent directory is watched so rename-replace saves are seen.
// Reloads run on this goroutine, so they never overlap.
func (m *Manager) Watch(ctx context.Context) error {
	dir, file := filepath.Dir(m.path), filepath.Base(m.path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watch init: %w", err)
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("config watch %s: %w", dir, err)
	}
	m.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", file))

	debounce := time.NewTimer(reloadDebounce)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return ErrWatcherClosed
			}
			if strings.EqualFold(filepath.Base(ev.Name), file) && ev.Op != 0 {
				debounce.Reset(reloadDebounce)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return ErrWatcherClosed
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				m.log.Warn("config watch overflow; forcing reload")
				debounce.Reset(reloadDebounce)
				continue
			}
			m.log.Warn("config watch error", logx.Err(err), logx.String("dir", dir))
		case <-debounce.C:
			published, err := m.Reload(ctx)
			switch {
			case err != nil:
				m.log.Warn("config rejected", logx.String("path", m.path), logx.Err(err))
			case published:
				m.log.Debug("config published", logx.String("path", m.path))
			default:
				m.log.Debug("config unchanged; skipping publish", logx.String("path", m.path))
			}
		}
	}
}

func hashConfig(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil || len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
