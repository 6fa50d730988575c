package config

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// RoutingWatcher holds the current routing table and hot-reloads it from
// disk when fsnotify reports a write or create of the file. There is no
// polling fallback: if the watch cannot be set up, the table loaded at
// startup stays in place.
type RoutingWatcher struct {
	path    string
	current atomic.Pointer[RoutingConfig]
}

// NewRoutingWatcher loads path once and returns a watcher; a load failure
// here is fatal since routing exists at every startup.
func NewRoutingWatcher(path string) (*RoutingWatcher, error) {
	cfg, err := LoadRoutingConfig(path)
	if err != nil {
		return nil, err
	}
	w := &RoutingWatcher{path: path}
	w.current.Store(cfg)
	return w, nil
}

// Get returns the current routing table.
func (w *RoutingWatcher) Get() *RoutingConfig {
	return w.current.Load()
}

// Watch starts a best-effort fsnotify watch that reloads the table on
// write. A bad edit is logged and the previous table kept in place.
func (w *RoutingWatcher) Watch(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("config: routing fsnotify unavailable, no hot reload", "error", err)
		return
	}
	dir := dirOfPath(w.path)
	if err := watcher.Add(dir); err != nil {
		slog.Warn("config: routing fsnotify watch failed, no hot reload", "dir", dir, "error", err)
		watcher.Close()
		return
	}
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Name != w.path || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := LoadRoutingConfig(w.path)
				if err != nil {
					slog.Warn("config: routing reload failed, keeping previous table", "error", err)
					continue
				}
				w.current.Store(cfg)
				slog.Info("config: routing table reloaded")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("config: routing fsnotify error", "error", err)
			}
		}
	}()
}

func dirOfPath(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return "."
	}
	return path[:i]
}
