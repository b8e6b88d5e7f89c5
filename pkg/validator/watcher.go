package validator

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces bursts of filesystem events (editors write
// schema files in several steps) into a single reload.
const reloadDebounce = 500 * time.Millisecond

// Watcher reloads schema documents when the schema directory changes.
// A document that stops compiling keeps its last-known-good version.
type Watcher struct {
	validator *Validator
	dir       string
	fsWatcher *fsnotify.Watcher
	logger    *slog.Logger

	debounceMu    sync.Mutex
	debounceTimer *time.Timer
}

// NewWatcher creates a watcher over dir feeding the given validator.
func NewWatcher(v *Validator, dir string, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsWatcher.Add(dir); err != nil {
		fsWatcher.Close()
		return nil, err
	}
	return &Watcher{
		validator: v,
		dir:       dir,
		fsWatcher: fsWatcher,
		logger:    logger,
	}, nil
}

// Run processes filesystem events until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	defer w.fsWatcher.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Ext(event.Name) != ".json" {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("schema watcher error", "error", err)
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(reloadDebounce, w.reload)
}

func (w *Watcher) reload() {
	if err := w.validator.LoadDir(w.dir); err != nil {
		// Last-known-good schemas stay registered.
		w.logger.Error("schema reload failed", "dir", w.dir, "error", err)
		return
	}
	w.logger.Info("reloaded schemas", "dir", w.dir)
}
