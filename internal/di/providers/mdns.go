package providers

import (
	"strconv"

	"github.com/google/uuid"
	"github.com/samber/do/v2"

	"github.com/vorleser/vorleser-server/internal/config"
	"github.com/vorleser/vorleser-server/internal/logger"
	"github.com/vorleser/vorleser-server/internal/mdns"
)

// MDNSServiceHandle wraps *mdns.Service so the container can stop
// advertising on shutdown.
type MDNSServiceHandle struct {
	*mdns.Service
}

// Shutdown implements do.Shutdownable.
func (h *MDNSServiceHandle) Shutdown() error {
	h.Service.Stop()
	return nil
}

// ProvideMDNSService starts advertising the server over mDNS/avahi when
// cfg.Server.AdvertiseMDNS is set. Failure to advertise (no avahi on the
// host, e.g. inside a container) is logged, not fatal: the server continues
// without discoverability.
func ProvideMDNSService(i do.Injector) (*MDNSServiceHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	svc := mdns.NewService(log.Logger)
	handle := &MDNSServiceHandle{Service: svc}

	if !cfg.Server.AdvertiseMDNS {
		return handle, nil
	}

	port, err := strconv.Atoi(cfg.Server.Port)
	if err != nil {
		log.Error("mDNS: invalid server port, skipping advertisement", "port", cfg.Server.Port, "error", err)
		return handle, nil
	}

	instance := mdns.Instance{ID: uuid.NewString()}
	if err := svc.Start(instance, port); err != nil {
		log.Error("mDNS advertisement unavailable, continuing without it", "error", err)
	}

	return handle, nil
}
