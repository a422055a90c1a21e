// Package di provides dependency injection configuration for vorleserd.
package di

import (
	"github.com/samber/do/v2"

	"github.com/vorleser/vorleser-server/internal/config"
	"github.com/vorleser/vorleser-server/internal/di/providers"
	"github.com/vorleser/vorleser-server/internal/logger"
	"github.com/vorleser/vorleser-server/internal/scanner"
)

// NewContainer creates and configures the DI container with all providers.
func NewContainer() *do.RootScope {
	injector := do.New()

	do.Provide(injector, providers.ProvideConfig)
	do.Provide(injector, providers.ProvideLogger)
	do.Provide(injector, providers.ProvideCatalog)
	do.Provide(injector, providers.ProvideScanner)
	do.Provide(injector, providers.ProvidePeriodicScan)
	do.Provide(injector, providers.ProvideWatcher)
	do.Provide(injector, providers.ProvideHTTPServer)
	do.Provide(injector, providers.ProvideMDNSService)

	return injector
}

// Bootstrap invokes the container's services to trigger their lazy
// initialization, in dependency order.
func Bootstrap(injector *do.RootScope) error {
	_ = do.MustInvoke[*config.Config](injector)
	_ = do.MustInvoke[*logger.Logger](injector)
	_ = do.MustInvoke[*providers.CatalogHandle](injector)
	_ = do.MustInvoke[*scanner.Scanner](injector)
	_ = do.MustInvoke[*providers.PeriodicScanHandle](injector)
	_ = do.MustInvoke[*providers.WatcherHandle](injector)
	_ = do.MustInvoke[*providers.HTTPServerHandle](injector)
	_ = do.MustInvoke[*providers.MDNSServiceHandle](injector)

	return nil
}
