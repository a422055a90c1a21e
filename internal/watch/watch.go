// Package watch triggers an incremental rescan shortly after fsnotify
// observes a change under a library's tree, on top of (not instead of) the
// scan.interval polling loop.
package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vorleser/vorleser-server/internal/domain"
	"github.com/vorleser/vorleser-server/internal/fswalk"
	"github.com/vorleser/vorleser-server/internal/scanner"
)

// debounce collapses a burst of events (e.g. a multi-file copy) into a
// single rescan.
const debounce = 2 * time.Second

// Watcher rescans a library's data shortly after its tree changes.
type Watcher struct {
	scanner *scanner.Scanner
	logger  *slog.Logger
	fsw     *fsnotify.Watcher
	timers  *SyncMap[string, *time.Timer]
}

// New creates a Watcher. Callers add libraries with Watch and drive events
// with Run.
func New(s *scanner.Scanner, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		scanner: s,
		logger:  logger,
		fsw:     fsw,
		timers:  NewSyncMap[string, *time.Timer](),
	}, nil
}

// Watch recursively adds lib's tree to the watch set, following symlinked
// subdirectories the same way the scanner does. fsnotify watches
// directories, not trees, so every subdirectory (and every directory a
// symlink resolves to) is added individually; directories created later are
// not added to the watch set, so books under them are found only by the
// next periodic or CLI scan.
func (w *Watcher) Watch(lib *domain.Library) error {
	return fswalk.Walk(lib.Location, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.fsw.Add(path)
		}
		return nil
	})
}

// Run processes fsnotify events for lib until ctx is cancelled or the
// underlying watcher is closed.
func (w *Watcher) Run(ctx context.Context, lib *domain.Library) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if shouldIgnore(event.Name) {
				continue
			}
			w.scheduleRescan(ctx, lib)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("fsnotify error", "error", err)
		}
	}
}

// scheduleRescan (re)arms a per-library debounce timer; a timer already
// pending for lib is simply reset rather than duplicated.
func (w *Watcher) scheduleRescan(ctx context.Context, lib *domain.Library) {
	if t, ok := w.timers.Load(lib.ID); ok {
		t.Reset(debounce)
		return
	}

	t := time.AfterFunc(debounce, func() {
		if err := w.scanner.Scan(ctx, lib, false, scanner.LockError); err != nil {
			w.logger.Warn("fsnotify-triggered rescan skipped or failed", "library_id", lib.ID, "error", err)
		}
	})
	w.timers.Store(lib.ID, t)
}

// Close stops the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// shouldIgnore filters out lock files, temp files, and directory events
// (bare path with no extension) that never change which books exist.
func shouldIgnore(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".lock", ".tmp", "":
		return true
	default:
		return false
	}
}
