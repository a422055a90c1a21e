package providers

import (
	"context"
	"time"

	"github.com/samber/do/v2"

	"github.com/vorleser/vorleser-server/internal/catalog"
	"github.com/vorleser/vorleser-server/internal/config"
	"github.com/vorleser/vorleser-server/internal/logger"
	"github.com/vorleser/vorleser-server/internal/scanner"
)

// ProvideScanner constructs the scanner against the Catalog and data directory.
func ProvideScanner(i do.Injector) (*scanner.Scanner, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	cat := do.MustInvoke[*CatalogHandle](i)

	return scanner.New(cat.Catalog, cfg.Data.Directory, log.Logger), nil
}

// PeriodicScanHandle runs a background goroutine rescanning every configured
// library on cfg.Scan.Interval, stopped via Shutdown.
type PeriodicScanHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Shutdown implements do.Shutdownable.
func (h *PeriodicScanHandle) Shutdown() error {
	h.cancel()
	<-h.done
	return nil
}

// ProvidePeriodicScan starts the periodic scan loop if cfg.Scan.Enabled, and
// is otherwise a no-op handle.
func ProvidePeriodicScan(i do.Injector) (*PeriodicScanHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	cat := do.MustInvoke[*CatalogHandle](i)
	s := do.MustInvoke[*scanner.Scanner](i)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	handle := &PeriodicScanHandle{cancel: cancel, done: done}

	if !cfg.Scan.Enabled {
		close(done)
		return handle, nil
	}

	go func() {
		defer close(done)
		ticker := time.NewTicker(cfg.Scan.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				runScanAll(ctx, cat.Catalog, s, log)
			}
		}
	}()

	log.Info("periodic scan enabled", "interval", cfg.Scan.Interval)
	return handle, nil
}

func runScanAll(ctx context.Context, cat *catalog.Catalog, s *scanner.Scanner, log *logger.Logger) {
	libraries, err := cat.ListLibraries(ctx)
	if err != nil {
		log.Error("periodic scan: listing libraries failed", "error", err)
		return
	}
	for _, lib := range libraries {
		if err := s.Scan(ctx, lib, false, scanner.LockError); err != nil {
			log.WithLibrary(lib.ID, lib.Location).Warn("periodic scan skipped or failed", "error", err)
		}
	}
}
