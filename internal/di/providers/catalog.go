package providers

import (
	"os"
	"path/filepath"

	"github.com/samber/do/v2"

	"github.com/vorleser/vorleser-server/internal/catalog"
	"github.com/vorleser/vorleser-server/internal/config"
	"github.com/vorleser/vorleser-server/internal/logger"
)

// CatalogHandle wraps *catalog.Catalog so the container can close the
// underlying database handle on shutdown.
type CatalogHandle struct {
	*catalog.Catalog
}

// Shutdown implements do.Shutdownable.
func (h *CatalogHandle) Shutdown() error {
	return h.Catalog.Close()
}

// ProvideCatalog opens the SQLite-backed catalog at cfg.Data.Database,
// creating cfg.Data.Directory first if it doesn't exist.
func ProvideCatalog(i do.Injector) (*CatalogHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	if err := os.MkdirAll(cfg.Data.Directory, 0o755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Data.Database), 0o755); err != nil {
		return nil, err
	}

	cat, err := catalog.Open(cfg.Data.Database, log.Logger)
	if err != nil {
		return nil, err
	}
	return &CatalogHandle{Catalog: cat}, nil
}
