// Package watcher observes local source files and invalidates their cache
// entries when they change or disappear. Remote (URL) sources are never
// watched, and the watcher never reads artifact content itself.
package watcher

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Invalidator is the only cache capability the watcher needs.
type Invalidator interface {
	Invalidate(sourceID string) error
}

// Watcher tracks one registration per distinct local source path.
type Watcher struct {
	fs  *fsnotify.Watcher
	inv Invalidator
	log *slog.Logger

	mu      sync.Mutex
	watched map[string]struct{}
	closed  bool
}

// New creates a watcher and starts its event loop.
func New(inv Invalidator, log *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fs watcher: %w", err)
	}
	w := &Watcher{
		fs:      fsw,
		inv:     inv,
		log:     log,
		watched: make(map[string]struct{}),
	}
	go w.loop()
	return w, nil
}

// IsRemote reports whether a source identity is a URL rather than a local
// path.
func IsRemote(sourceID string) bool {
	return strings.HasPrefix(sourceID, "http://") || strings.HasPrefix(sourceID, "https://")
}

// Watch registers a local source file. Remote sources are a no-op, and
// registering the same path twice is idempotent.
func (w *Watcher) Watch(sourceID string) error {
	if IsRemote(sourceID) {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("watcher is closed")
	}
	if _, ok := w.watched[sourceID]; ok {
		return nil
	}
	if err := w.fs.Add(sourceID); err != nil {
		return fmt.Errorf("watch %s: %w", sourceID, err)
	}
	w.watched[sourceID] = struct{}{}
	w.log.Debug("watching source", "path", sourceID)
	return nil
}

// Unwatch removes a registration. Unknown paths are a no-op.
func (w *Watcher) Unwatch(sourceID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.watched[sourceID]; !ok {
		return
	}
	delete(w.watched, sourceID)
	_ = w.fs.Remove(sourceID)
}

// Close disposes every registration and stops the event loop.
func (w *Watcher) Close() error {
	w.mu.Lock()
	w.closed = true
	w.watched = make(map[string]struct{})
	w.mu.Unlock()
	return w.fs.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", "error", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Remove) && !ev.Op.Has(fsnotify.Rename) {
		return
	}
	if err := w.inv.Invalidate(ev.Name); err != nil {
		w.log.Error("cache invalidation failed", "path", ev.Name, "error", err)
		return
	}
	w.log.Info("source changed, cached result dropped; next request will reprocess", "path", ev.Name, "op", ev.Op.String())
	if ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename) {
		w.Unwatch(ev.Name)
	}
}
