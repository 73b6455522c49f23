//go:build windows

package service

import (
	"fmt"
	"os"
	"os/signal"

	"golang.org/x/sys/windows/svc"
	"golang.org/x/sys/windows/svc/mgr"

	"github.com/svcwatchdogteam/svcwatchdog/internal/events"
)

// userControlBase is the first opcode of the user control range.
const userControlBase = 128

// Run attaches to the service control dispatcher when running as a
// Windows service; started from a console it falls back to a Ctrl+C
// driven loop so the same binary is debuggable interactively.
func (a *Adapter) Run() error {
	isService, err := svc.IsWindowsService()
	if err != nil {
		return err
	}

	if isService {
		a.logger.Verbosef("calling the service control dispatcher")
		return svc.Run(a.svc.ServiceName(), a)
	}

	done := a.runService()
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	defer signal.Stop(interrupt)

	select {
	case <-interrupt:
		a.bus.Publish(events.Event{Type: events.SupervisorStopping})
		a.svc.Stop()
		<-done
	case <-done:
	}
	return nil
}

// Execute implements svc.Handler: the state machine the service
// control manager observes.
func (a *Adapter) Execute(args []string, requests <-chan svc.ChangeRequest, status chan<- svc.Status) (svcSpecificEC bool, exitCode uint32) {
	status <- svc.Status{State: svc.StartPending}

	const accepted = svc.AcceptStop | svc.AcceptShutdown | svc.AcceptPauseAndContinue
	running := svc.Status{State: svc.Running, Accepts: accepted}

	done := a.runService()
	status <- running

	for {
		select {
		case <-done:
			status <- svc.Status{State: svc.StopPending}
			return false, 0

		case req := <-requests:
			switch req.Cmd {
			case svc.Interrogate:
				status <- running

			case svc.Stop:
				status <- svc.Status{State: svc.StopPending}
				a.bus.Publish(events.Event{Type: events.SupervisorStopping})
				a.svc.Stop()

			case svc.Shutdown:
				status <- svc.Status{State: svc.StopPending}
				a.bus.Publish(events.Event{Type: events.SupervisorStopping})
				a.svc.Shutdown()

			case svc.Pause, svc.Continue:
				// Supervision has no meaningful paused state.
				a.logger.Verbosef("doing nothing")
				status <- running

			default:
				opcode := uint32(req.Cmd)
				if opcode < userControlBase || !a.svc.UserControl(opcode) {
					a.logger.Errorf("unknown user control code %d", opcode)
				}
			}
		}
	}
}

// IsInstalled reports whether the service is registered with the SCM.
func (a *Adapter) IsInstalled() bool {
	m, err := mgr.Connect()
	if err != nil {
		return false
	}
	defer m.Disconnect()

	s, err := m.OpenService(a.svc.ServiceName())
	if err != nil {
		return false
	}
	s.Close()
	return true
}

// Install registers the service. Requires administrative rights.
func (a *Adapter) Install() error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}

	m, err := mgr.Connect()
	if err != nil {
		return fmt.Errorf("cannot connect to the service manager: %w", err)
	}
	defer m.Disconnect()

	startType := uint32(mgr.StartManual)
	if a.autoStart {
		startType = mgr.StartAutomatic
	}

	s, err := m.CreateService(a.svc.ServiceName(), exe, mgr.Config{
		DisplayName:    a.svc.ServiceName(),
		StartType:      startType,
		LoadOrderGroup: a.loadOrderGroup,
	})
	if err != nil {
		return fmt.Errorf("failed to create service %s: %w", a.svc.ServiceName(), err)
	}
	defer s.Close()

	a.logger.Infof("service %s installed", a.svc.ServiceName())
	return nil
}

// Uninstall removes the service registration.
func (a *Adapter) Uninstall() error {
	m, err := mgr.Connect()
	if err != nil {
		return fmt.Errorf("cannot connect to the service manager: %w", err)
	}
	defer m.Disconnect()

	s, err := m.OpenService(a.svc.ServiceName())
	if err != nil {
		return fmt.Errorf("service %s is not installed: %w", a.svc.ServiceName(), err)
	}
	defer s.Close()

	if err := s.Delete(); err != nil {
		return fmt.Errorf("service %s NOT removed: %w", a.svc.ServiceName(), err)
	}

	a.logger.Infof("service %s removed", a.svc.ServiceName())
	return nil
}
