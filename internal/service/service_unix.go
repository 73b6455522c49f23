//go:build !windows

package service

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/svcwatchdogteam/svcwatchdog/internal/events"
	"github.com/svcwatchdogteam/svcwatchdog/internal/logging"
)

// SignalQueue captures OS signals for the adapter's control loop.
type SignalQueue struct {
	C      <-chan os.Signal
	ch     chan os.Signal
	logger *logging.Logger
}

// NewSignalQueue registers for the termination signals a service
// manager (or an interactive operator) sends.
func NewSignalQueue(logger *logging.Logger) *SignalQueue {
	ch := make(chan os.Signal, 16)
	signal.Notify(ch,
		syscall.SIGTERM,
		syscall.SIGINT,
		syscall.SIGQUIT,
		syscall.SIGHUP,
	)
	return &SignalQueue{C: ch, ch: ch, logger: logger}
}

// Stop deregisters signal notifications.
func (sq *SignalQueue) Stop() {
	signal.Stop(sq.ch)
}

// Run drives the supervision core under a signal-based control loop:
// SIGTERM, SIGINT and SIGQUIT map to the Stop control, matching what
// systemd sends on `systemctl stop`.
func (a *Adapter) Run() error {
	sq := NewSignalQueue(a.logger)
	defer sq.Stop()

	done := a.runService()

	for {
		select {
		case sig := <-sq.C:
			a.logger.Infof("received signal %s", sig)
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT:
				a.bus.Publish(events.Event{Type: events.SupervisorStopping})
				a.svc.Stop()
			case syscall.SIGHUP:
				// Configuration is immutable for the lifetime of the
				// process; a reload means a restart.
				a.logger.Warningf("ignoring SIGHUP, restart the service to reload configuration")
			}
		case <-done:
			return nil
		}
	}
}

const systemdUnitDir = "/etc/systemd/system"

func (a *Adapter) unitPath() string {
	return systemdUnitDir + "/" + a.svc.ServiceName() + ".service"
}

// IsInstalled reports whether the systemd unit exists.
func (a *Adapter) IsInstalled() bool {
	_, err := os.Stat(a.unitPath())
	return err == nil
}

// Install writes the systemd unit and reloads the daemon. Requires
// root.
func (a *Adapter) Install() error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}

	unit := RenderUnit(a.svc.ServiceName(), exe, a.autoStart)
	if err := os.WriteFile(a.unitPath(), []byte(unit), 0o644); err != nil {
		return fmt.Errorf("cannot write %s: %w", a.unitPath(), err)
	}

	systemctl(a.logger, "daemon-reload")
	if a.autoStart {
		systemctl(a.logger, "enable", a.svc.ServiceName())
	}

	a.logger.Infof("service %s installed", a.svc.ServiceName())
	return nil
}

// Uninstall removes the systemd unit.
func (a *Adapter) Uninstall() error {
	systemctl(a.logger, "disable", a.svc.ServiceName())

	if err := os.Remove(a.unitPath()); err != nil {
		return fmt.Errorf("cannot remove %s: %w", a.unitPath(), err)
	}
	systemctl(a.logger, "daemon-reload")

	a.logger.Infof("service %s removed", a.svc.ServiceName())
	return nil
}

// RenderUnit produces the systemd unit for the supervisor. The
// supervisor handles child restarts itself, so the unit does not.
func RenderUnit(name, exePath string, autoStart bool) string {
	wantedBy := ""
	if autoStart {
		wantedBy = "\n[Install]\nWantedBy=multi-user.target\n"
	}
	return fmt.Sprintf(`[Unit]
Description=%s service supervisor

[Service]
Type=exec
ExecStart=%s
Restart=no
KillMode=mixed
`, name, exePath) + wantedBy
}

func systemctl(logger *logging.Logger, args ...string) {
	cmd := exec.Command("systemctl", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		logger.Warningf("systemctl %v failed: %v (%s)", args, err, out)
	}
}
