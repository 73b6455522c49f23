// Package service bridges the OS service manager and the supervision
// core: it reports service status, dispatches control requests, and
// installs or removes the service registration.
package service

import (
	"github.com/svcwatchdogteam/svcwatchdog/internal/config"
	"github.com/svcwatchdogteam/svcwatchdog/internal/events"
	"github.com/svcwatchdogteam/svcwatchdog/internal/logging"
	"github.com/svcwatchdogteam/svcwatchdog/internal/watchdog"
)

// Service is what the adapter drives. The control callbacks must
// return promptly; only Run blocks.
type Service interface {
	ServiceName() string
	Activate()
	Run()
	Stop()
	Shutdown()
	UserControl(opcode uint32) bool
}

// Adapter connects a Service to the host's service manager.
type Adapter struct {
	svc    Service
	logger *logging.Logger
	bus    *events.Bus

	autoStart      bool
	loadOrderGroup string
}

// New creates an adapter. Installation options (autoStart and the
// optional load order group) come from the supervisor section.
func New(svc Service, cfg *config.Config, logger *logging.Logger, bus *events.Bus) *Adapter {
	return &Adapter{
		svc:            svc,
		logger:         logger,
		bus:            bus,
		autoStart:      cfg.GetBool(watchdog.Section, "autoStart", false),
		loadOrderGroup: cfg.GetString(watchdog.Section, "loadOrderGroup", ""),
	}
}

// runService activates the core, runs it on its own goroutine and
// returns a channel that closes when it finishes.
func (a *Adapter) runService() <-chan struct{} {
	a.svc.Activate()
	a.bus.Publish(events.Event{Type: events.SupervisorRunning})

	done := make(chan struct{})
	go func() {
		a.svc.Run()
		close(done)
	}()
	return done
}
