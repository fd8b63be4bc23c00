package policy

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the engine when the persisted policy file changes on
// disk, so edits made by external rule editors become visible without a
// restart. Rapid write bursts are debounced into one reload.
type Watcher struct {
	engine   *Engine
	path     string
	debounce time.Duration

	watcher *fsnotify.Watcher
	running atomic.Bool

	mu    sync.Mutex
	stats WatcherStats
}

// WatcherStats tracks reload outcomes.
type WatcherStats struct {
	ReloadsTotal     int64     `json:"reloads_total"`
	ReloadsDefaulted int64     `json:"reloads_defaulted"`
	LastReload       time.Time `json:"last_reload,omitempty"`
}

// NewWatcher creates a watcher for the policy file backing engine.
func NewWatcher(engine *Engine, path string, debounce time.Duration) (*Watcher, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if path == "" {
		return nil, fmt.Errorf("policy path is required")
	}
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}
	return &Watcher{engine: engine, path: filepath.Clean(path), debounce: debounce}, nil
}

// Start begins watching. It watches the parent directory rather than the
// file itself so atomic rename-replace writes keep the watch alive.
func (w *Watcher) Start(ctx context.Context) error {
	if !w.running.CompareAndSwap(false, true) {
		return fmt.Errorf("watcher already running")
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.running.Store(false)
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		_ = fw.Close()
		w.running.Store(false)
		return fmt.Errorf("watch policy dir: %w", err)
	}
	w.watcher = fw

	go w.loop(ctx)
	return nil
}

// Stop halts watching and releases the fsnotify handle.
func (w *Watcher) Stop() error {
	if !w.running.CompareAndSwap(true, false) {
		return nil
	}
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}

// Stats returns a copy of the reload statistics.
func (w *Watcher) Stats() WatcherStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *Watcher) loop(ctx context.Context) {
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				fire = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("policy watcher error", "err", err)
		case <-fire:
			timer = nil
			fire = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	usedDefaults := w.engine.Load()

	w.mu.Lock()
	w.stats.ReloadsTotal++
	if usedDefaults {
		w.stats.ReloadsDefaulted++
	}
	w.stats.LastReload = time.Now().UTC()
	w.mu.Unlock()
}
