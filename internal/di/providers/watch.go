package providers

import (
	"context"

	"github.com/samber/do/v2"

	"github.com/vorleser/vorleser-server/internal/logger"
	"github.com/vorleser/vorleser-server/internal/scanner"
	"github.com/vorleser/vorleser-server/internal/watch"
)

// WatcherHandle owns the fsnotify watcher and the per-library goroutines
// draining its events.
type WatcherHandle struct {
	watcher *watch.Watcher
	cancel  context.CancelFunc
}

// Shutdown implements do.Shutdownable.
func (h *WatcherHandle) Shutdown() error {
	h.cancel()
	return h.watcher.Close()
}

// ProvideWatcher starts an fsnotify-backed watcher over every known
// library's tree, triggering a debounced incremental rescan on change.
// A library whose tree no longer exists is skipped with a warning rather
// than failing startup.
func ProvideWatcher(i do.Injector) (*WatcherHandle, error) {
	log := do.MustInvoke[*logger.Logger](i)
	cat := do.MustInvoke[*CatalogHandle](i)
	s := do.MustInvoke[*scanner.Scanner](i)

	w, err := watch.New(s, log.Logger)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	handle := &WatcherHandle{watcher: w, cancel: cancel}

	libraries, err := cat.ListLibraries(ctx)
	if err != nil {
		cancel()
		return nil, err
	}

	for _, lib := range libraries {
		if err := w.Watch(lib); err != nil {
			log.WithLibrary(lib.ID, lib.Location).Warn("skipping fsnotify watch for library", "error", err)
			continue
		}
		go w.Run(ctx, lib)
	}

	log.Info("fsnotify watcher started", "libraries", len(libraries))
	return handle, nil
}
