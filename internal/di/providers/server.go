package providers

import (
	"context"
	"net/http"

	"github.com/samber/do/v2"

	"github.com/vorleser/vorleser-server/internal/api"
	"github.com/vorleser/vorleser-server/internal/config"
	"github.com/vorleser/vorleser-server/internal/logger"
)

// HTTPServerHandle wraps the *http.Server so the container can drain
// in-flight requests on shutdown.
type HTTPServerHandle struct {
	server *http.Server
}

// Shutdown implements do.Shutdownable. It waits up to shutdownTimeout for
// in-flight requests (chiefly long Range reads) to finish.
func (h *HTTPServerHandle) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return h.server.Shutdown(ctx)
}

// ProvideHTTPServer builds the api.Server and starts it listening in a
// background goroutine.
func ProvideHTTPServer(i do.Injector) (*HTTPServerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	cat := do.MustInvoke[*CatalogHandle](i)

	handler := api.NewServer(cat.Catalog, cfg.Data.Directory, log.Logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("http server listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server stopped unexpectedly", "error", err)
		}
	}()

	return &HTTPServerHandle{server: srv}, nil
}
