// Package watchdog implements the supervision core: it spawns the
// configured child process, listens for UDP liveness pings, and drives
// restart and graceful-shutdown cycles.
package watchdog

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/svcwatchdogteam/svcwatchdog/internal/config"
	"github.com/svcwatchdogteam/svcwatchdog/internal/events"
	"github.com/svcwatchdogteam/svcwatchdog/internal/logging"
	"github.com/svcwatchdogteam/svcwatchdog/internal/shutdownevent"
	"github.com/svcwatchdogteam/svcwatchdog/internal/syncevent"
	"github.com/svcwatchdogteam/svcwatchdog/internal/version"
)

// Section is the config section holding the supervisor parameters.
const Section = "svcWatchDog"

// Watchdog supervises exactly one child process.
type Watchdog struct {
	cfg    *config.Config
	logger *logging.Logger
	bus    *events.Bus

	exeFile     string
	exeDir      string
	serviceName string
	workDir     string

	argv             []string
	targetExecutable string

	mu            sync.Mutex
	killAt        time.Time // zero = no forced termination scheduled
	isRunning     bool
	shutdownEvent *shutdownevent.Event

	loopTrigger *syncevent.Event

	watchdogConn *udpListener
	secret       string
}

// New creates a watchdog bound to the executable's identity: the
// service name is the executable file stem, and the working directory
// is resolved against the executable's directory.
func New(cfg *config.Config, logger *logging.Logger, bus *events.Bus) *Watchdog {
	w := &Watchdog{
		cfg:         cfg,
		logger:      logger,
		bus:         bus,
		loopTrigger: syncevent.New(),
	}

	exe, err := os.Executable()
	if err == nil {
		w.exeFile = exe
		w.exeDir = filepath.Dir(exe)
		w.serviceName = strings.TrimSuffix(filepath.Base(exe), filepath.Ext(exe))
	}

	workDir := cfg.GetString(Section, "workDir", "")
	if filepath.IsAbs(workDir) {
		w.workDir = filepath.Clean(workDir)
	} else {
		w.workDir, _ = filepath.Abs(filepath.Join(w.exeDir, workDir))
	}

	w.CdToWorkingDir()
	return w
}

// ServiceName returns the name under which the supervisor registers
// with the OS service manager.
func (w *Watchdog) ServiceName() string { return w.serviceName }

// WorkDir returns the resolved working directory.
func (w *Watchdog) WorkDir() string { return w.workDir }

// Configure reads the child's argument vector and resolves the target
// executable. Call after the logger is running.
func (w *Watchdog) Configure() {
	w.logger.Infof("SvcWatchDog %s", version.Version)
	w.logger.Infof("service name: %s", w.serviceName)
	w.logger.Debugf("exeFile=%s", w.exeFile)
	w.logger.Debugf("exeDir=%s", w.exeDir)
	w.logger.Debugf("workDir=%s", w.workDir)

	usePath := w.cfg.GetBool(Section, "usePath", false)
	w.logger.Debugf("usePath=%v", usePath)

	w.argv = w.cfg.GetStringVector(Section, "args")
	for i, arg := range w.argv {
		w.logger.Infof("arg #%d: %s", i, arg)
	}

	if len(w.argv) == 0 {
		w.logger.Errorf("args missing, check configuration")
		return
	}

	w.targetExecutable = w.argv[0]
	if usePath {
		if resolved, ok := ResolveInPath(w.argv[0], os.Getenv("PATH")); ok {
			w.targetExecutable = resolved
		} else {
			w.logger.Errorf("target executable %s not found in path", w.argv[0])
		}
	}
	w.logger.Debugf("using target executable %s", w.targetExecutable)
}

// ResolveInPath scans the entries of a PATH-style list for the first
// one containing the named file.
func ResolveInPath(name, pathEnv string) (string, bool) {
	for _, dir := range filepath.SplitList(pathEnv) {
		if dir == "" {
			continue
		}
		candidate := filepath.Join(dir, name)
		if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
			return candidate, true
		}
	}
	return "", false
}

// CdToWorkingDir changes into the executable's directory first, so
// relative logger paths resolve from a known point, then into the
// configured working directory. Neither failure is fatal.
func (w *Watchdog) CdToWorkingDir() {
	if w.exeDir != "" {
		if err := os.Chdir(w.exeDir); err != nil {
			w.logger.Errorf("failed to change directory to the supervisor binary's folder %s: %v", w.exeDir, err)
			return
		}
	}
	if err := os.Chdir(w.workDir); err != nil {
		w.logger.Errorf("failed to change directory to the working folder %s: %v", w.workDir, err)
	}
}

// Activate marks the supervisor as running. The service adapter calls
// this before entering Run.
func (w *Watchdog) Activate() {
	w.mu.Lock()
	w.isRunning = true
	w.mu.Unlock()
}

// IsRunning reports whether the main loop should keep cycling.
func (w *Watchdog) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.isRunning
}

// Stop requests a service stop: the main loop winds down after the
// current child is shut down.
func (w *Watchdog) Stop() {
	w.logger.Infof("stopping service")

	w.mu.Lock()
	w.isRunning = false
	w.mu.Unlock()

	w.CdToWorkingDir()
	w.InitiateProcessShutdown()
	w.loopTrigger.Set()
}

// Shutdown handles the system-shutdown request; it behaves like Stop.
func (w *Watchdog) Shutdown() {
	w.logger.Infof("shutting down")
	w.Stop()
}

// UserControl handles service control opcodes in the user range.
// Unhandled opcodes return false.
func (w *Watchdog) UserControl(opcode uint32) bool {
	w.logger.Debugf("opcode=%d", opcode)
	w.CdToWorkingDir()
	return false
}

// InitiateProcessShutdown signals the shutdown event so the child can
// exit gracefully, and schedules forced termination at now +
// shutdownTime.
func (w *Watchdog) InitiateProcessShutdown() {
	shutdownTime := time.Duration(config.GetNumber(w.cfg, Section, "shutdownTime", 10000)) * time.Millisecond
	w.logger.Infof("signalling the process and setting timeout to now + %v", shutdownTime)

	w.mu.Lock()
	defer w.mu.Unlock()

	// The event may be missing when creation failed; the kill-at
	// deadline still bounds the child's lifetime.
	if w.shutdownEvent != nil {
		if err := w.shutdownEvent.Set(); err != nil {
			w.logger.Errorf("cannot signal shutdown event: %v", err)
		}
	}
	w.killAt = time.Now().Add(shutdownTime)
}

func (w *Watchdog) killAtTime() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.killAt
}

func (w *Watchdog) clearKillAt() {
	w.mu.Lock()
	w.killAt = time.Time{}
	w.mu.Unlock()
}

func (w *Watchdog) setShutdownEvent(e *shutdownevent.Event) {
	w.mu.Lock()
	w.shutdownEvent = e
	w.mu.Unlock()
}

// BuildShutdownEventName derives the cross-process event name from the
// absolute working directory and a monotonic timestamp: only
// alphanumeric characters are kept, lowercased, after the fixed
// prefix.
func BuildShutdownEventName(workDir string, steadyMillis uint64) string {
	raw := workDir + strconv.FormatUint(steadyMillis, 10)
	var b strings.Builder
	b.WriteString(`Global\SvcWatchDog.`)
	for _, ch := range raw {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= '0' && ch <= '9':
			b.WriteRune(ch)
		case ch >= 'A' && ch <= 'Z':
			b.WriteRune(ch + ('a' - 'A'))
		}
	}
	return b.String()
}

var processStart = time.Now()

// steadyTime returns milliseconds of monotonic time since process
// start.
func steadyTime() uint64 {
	return uint64(time.Since(processStart) / time.Millisecond)
}
