package rules

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher hot-reloads a profile file into a store. Reload failures keep the
// previous snapshot active.
type Watcher struct {
	path     string
	store    *Store
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
	debounce time.Duration

	pendingMu sync.Mutex
	pending   bool
}

// NewWatcher creates a watcher for the profile at path feeding store.
func NewWatcher(path string, store *Store, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		path:     path,
		store:    store,
		watcher:  fsw,
		logger:   logger,
		debounce: 100 * time.Millisecond,
	}, nil
}

// Start watches the profile's directory. Editors replace files with
// rename+create, so watching the file itself would lose the watch on the
// first save.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	go w.processEvents(ctx)

	w.logger.Info("Safety-rule profile watcher started",
		"path", w.path,
		"debounce", w.debounce)
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

func (w *Watcher) processEvents(ctx context.Context) {
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.pendingMu.Lock()
				w.pending = true
				w.pendingMu.Unlock()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Profile watcher error", "error", err)

		case <-ticker.C:
			w.pendingMu.Lock()
			fire := w.pending
			w.pending = false
			w.pendingMu.Unlock()
			if fire {
				w.reload()
			}
		}
	}
}

func (w *Watcher) reload() {
	profile, err := LoadProfile(w.path)
	if err != nil {
		w.logger.Error("Profile reload failed, keeping previous snapshot",
			"path", w.path,
			"error", err)
		return
	}

	snap, err := w.store.Replace(profile.Rules)
	if err != nil {
		w.logger.Error("Profile reload rejected, keeping previous snapshot",
			"path", w.path,
			"error", err)
		return
	}

	w.logger.Info("Safety-rule profile reloaded",
		"path", w.path,
		"version", snap.Version,
		"rules", len(snap.Rules))
}
