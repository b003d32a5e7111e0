package config

import (
	"context"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"ecosim/internal/logging"
)

// Manager holds the live configuration and optionally watches the config
// file for changes. The applicator re-clamps against the *current* intervals
// on every apply, so tightening a range here takes effect without reparsing
// stored assessments.
type Manager struct {
	mu   sync.RWMutex
	cfg  *Config
	path string

	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
	doneCh   chan struct{}
	running  bool
	lastLoad time.Time
}

// NewManager wraps an already-validated config.
func NewManager(cfg *Config) *Manager {
	return &Manager{cfg: cfg}
}

// LoadManager loads the config from path and returns a manager bound to it.
func LoadManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Manager{cfg: cfg, path: path, lastLoad: time.Now()}, nil
}

// Current returns the live config. Callers must not mutate it.
func (m *Manager) Current() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Clamps returns the live clamp intervals.
func (m *Manager) Clamps() ClampConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.Clamps
}

// Modifier returns the live applicator settings.
func (m *Manager) Modifier() ModifierConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.Modifier
}

// Replace swaps in a new config after validating it.
func (m *Manager) Replace(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
	return nil
}

// Watch starts watching the bound config file and hot-reloads tuning changes.
// A reload that fails validation is rejected and the previous config stays
// live; the turn pipeline never sees a half-applied config.
func (m *Manager) Watch(ctx context.Context) error {
	m.mu.Lock()
	if m.running || m.path == "" {
		m.mu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.watcher = watcher
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	m.running = true
	path := m.path
	m.mu.Unlock()

	if err := watcher.Add(path); err != nil {
		logging.Get(logging.CategoryBoot).Warn("config watch failed for %s: %v", path, err)
	}

	go func() {
		defer close(m.doneCh)
		// Debounce rapid saves from editors.
		const debounce = 500 * time.Millisecond
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				m.mu.RLock()
				since := time.Since(m.lastLoad)
				m.mu.RUnlock()
				if since < debounce {
					continue
				}
				m.reload()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.Get(logging.CategoryBoot).Warn("config watcher error: %v", err)
			}
		}
	}()

	return nil
}

func (m *Manager) reload() {
	cfg, err := Load(m.path)
	if err != nil {
		logging.Get(logging.CategoryBoot).Error("config reload rejected: %v", err)
		return
	}
	m.mu.Lock()
	m.cfg = cfg
	m.lastLoad = time.Now()
	m.mu.Unlock()
	logging.Get(logging.CategoryBoot).Info("config reloaded from %s", m.path)
}

// Close stops the watcher, if running.
func (m *Manager) Close() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	m.watcher.Close()
	done := m.doneCh
	m.mu.Unlock()

	// The watcher goroutine takes m.mu while handling an event, so the
	// lock must be released before waiting for it to exit.
	<-done
}
