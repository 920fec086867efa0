package config

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// ReloadableConfig watches the config file and atomically swaps in new
// configurations; the running client is restarted by its owner.
type ReloadableConfig struct {
	path      string
	current   atomic.Value // *Config
	mu        sync.RWMutex
	watchers  []func(old, next *Config)
	watcher   *fsnotify.Watcher
	stopCh    chan struct{}
	reloading atomic.Bool
}

// NewReloadable loads path and starts watching it for changes.
func NewReloadable(path string) (*ReloadableConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("initial config load: %w", err)
	}

	r := &ReloadableConfig{
		path:   path,
		stopCh: make(chan struct{}),
	}
	r.current.Store(cfg)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch config file: %w", err)
	}
	r.watcher = watcher
	go r.watchLoop()

	return r, nil
}

// Get returns the current configuration.
func (r *ReloadableConfig) Get() *Config {
	return r.current.Load().(*Config)
}

// Watch registers a callback invoked with the old and new configuration
// after each successful reload.
func (r *ReloadableConfig) Watch(fn func(old, next *Config)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.watchers = append(r.watchers, fn)
}

// Reload forces a reload from disk.
func (r *ReloadableConfig) Reload() error {
	if !r.reloading.CompareAndSwap(false, true) {
		return fmt.Errorf("reload already in progress")
	}
	defer r.reloading.Store(false)

	next, err := Load(r.path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	old := r.Get()
	if err := validateTransition(old, next); err != nil {
		return fmt.Errorf("validate transition: %w", err)
	}
	r.current.Store(next)

	r.mu.RLock()
	watchers := make([]func(old, next *Config), len(r.watchers))
	copy(watchers, r.watchers)
	r.mu.RUnlock()
	for _, fn := range watchers {
		go fn(old, next)
	}
	return nil
}

// validateTransition rejects changes that cannot take effect without a
// process restart.
func validateTransition(old, next *Config) error {
	if old.Metrics.Listen != next.Metrics.Listen {
		return fmt.Errorf("metrics listen address change requires restart")
	}
	if old.TUN.Enabled != next.TUN.Enabled {
		return fmt.Errorf("tun enable change requires restart")
	}
	return nil
}

func (r *ReloadableConfig) watchLoop() {
	for {
		select {
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Write == fsnotify.Write {
				if err := r.Reload(); err != nil {
					log.Printf("config reload failed: %v", err)
				}
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("config watcher error: %v", err)
		case <-r.stopCh:
			return
		}
	}
}

// Close stops the file watcher.
func (r *ReloadableConfig) Close() error {
	close(r.stopCh)
	return r.watcher.Close()
}
