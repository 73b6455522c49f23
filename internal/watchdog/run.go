package watchdog

import (
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/svcwatchdogteam/svcwatchdog/internal/config"
	"github.com/svcwatchdogteam/svcwatchdog/internal/events"
	"github.com/svcwatchdogteam/svcwatchdog/internal/logging"
	"github.com/svcwatchdogteam/svcwatchdog/internal/shutdownevent"
)

const pollTick = 200 * time.Millisecond

type waitResult struct {
	state *os.ProcessState
	err   error
}

// Run executes the supervision loop until Stop is called. Per-run
// resources (the liveness socket and the shutdown event) are allocated
// here and released before returning.
func (w *Watchdog) Run() {
	if w.targetExecutable == "" || w.workDir == "" {
		w.logger.Errorf("parameters missing, check configuration")
		for w.IsRunning() {
			w.loopTrigger.Wait(time.Second)
		}
		return
	}

	w.CdToWorkingDir()

	watchdogTimeout := time.Duration(config.GetNumber(w.cfg, Section, "watchdogTimeout", -1)) * time.Millisecond
	w.logger.Infof("watchdogTimeout=%v", watchdogTimeout)

	if watchdogTimeout > 0 {
		// Not much of a secret, but it should do.
		w.secret = newSecret()
		w.watchdogConn = w.startUDPWatchdog()
		if w.watchdogConn != nil {
			os.Setenv("WATCHDOG_PORT", strconv.Itoa(w.watchdogConn.port))
			os.Setenv("WATCHDOG_SECRET", w.secret)
			defer func() {
				w.watchdogConn.conn.Close()
				w.watchdogConn = nil
				os.Unsetenv("WATCHDOG_PORT")
				os.Unsetenv("WATCHDOG_SECRET")
			}()
		}
	}

	eventName := BuildShutdownEventName(w.workDir, steadyTime())
	ev, err := shutdownevent.Create(eventName)
	if err != nil {
		w.logger.Errorf("cannot create shutdown event %s: %v", eventName, err)
	} else {
		w.setShutdownEvent(ev)
		defer func() {
			w.setShutdownEvent(nil)
			ev.Close()
		}()
	}
	os.Setenv("SHUTDOWN_EVENT", eventName)
	defer os.Unsetenv("SHUTDOWN_EVENT")

	for w.IsRunning() {
		w.runOnce(watchdogTimeout)

		if w.IsRunning() {
			restartDelay := time.Duration(config.GetNumber(w.cfg, Section, "restartDelay", 5000)) * time.Millisecond
			w.logger.Debugf("waiting %v before restarting", restartDelay)
			w.loopTrigger.Wait(restartDelay)
		}
	}
}

// runOnce drives a single child lifetime: spawn, poll until exit or
// kill-at, then make sure the child is gone.
func (w *Watchdog) runOnce(watchdogTimeout time.Duration) {
	// A watchdog-initiated shutdown from the previous cycle may have
	// left the event signaled and the deadline set.
	w.mu.Lock()
	if w.shutdownEvent != nil {
		w.shutdownEvent.Reset()
	}
	w.killAt = time.Time{}
	w.mu.Unlock()

	w.logger.Infof("starting %s", w.targetExecutable)

	cmd, waitCh, err := w.spawn()
	if err != nil {
		w.logger.Errorf("failed to start %s: %v", w.targetExecutable, err)
		w.bus.Publish(events.Event{Type: events.ChildSpawnError, Data: map[string]string{"error": err.Error()}})
		return
	}

	w.bus.Publish(events.Event{Type: events.ChildStarted, Data: map[string]string{"pid": strconv.Itoa(cmd.Process.Pid)}})

	w.loopTrigger.Wait(250 * time.Millisecond)

	res := w.poll(waitCh, watchdogTimeout)

	exitCodeValid := res != nil
	if res == nil {
		// Kill-at expired with the child still active.
		w.logger.Warningf("forcibly terminating child process")
		if err := cmd.Process.Kill(); err != nil {
			w.logger.Errorf("kill failed: %v", err)
		}
		w.bus.Publish(events.Event{Type: events.ChildKilled})
		time.Sleep(50 * time.Millisecond)

		// Reap the child so no zombie outlives the cycle.
		select {
		case r := <-waitCh:
			res = &r
		case <-time.After(5 * time.Second):
			w.logger.Errorf("child did not terminate after kill")
		}
	}

	exitCode := "unknown"
	if exitCodeValid && res != nil && res.state != nil {
		exitCode = strconv.Itoa(res.state.ExitCode())
	}

	// An unexpected death is a warning; an exit while stopping is just
	// operational noise.
	level := logging.Information
	if w.IsRunning() {
		level = logging.Warning
	}
	w.logger.Log(level, w.targetExecutable+" died, exit code "+exitCode)
	w.bus.Publish(events.Event{Type: events.ChildExited, Data: map[string]string{"exit_code": exitCode}})
}

// poll watches the running child. It returns the wait result when the
// child exits, or nil when the kill-at deadline expired first.
func (w *Watchdog) poll(waitCh <-chan waitResult, watchdogTimeout time.Duration) *waitResult {
	nextPing := time.Now().Add(watchdogTimeout)

	for {
		select {
		case res := <-waitCh:
			return &res
		default:
		}

		w.loopTrigger.Wait(pollTick)

		select {
		case res := <-waitCh:
			return &res
		default:
		}

		now := time.Now()

		killAt := w.killAtTime()
		if !killAt.IsZero() && !now.Before(killAt) {
			return nil
		}

		if w.watchdogConn != nil && killAt.IsZero() {
			if w.drainPings() > 0 {
				// The process is alive and well.
				nextPing = now.Add(watchdogTimeout)
			}

			if now.After(nextPing) {
				w.logger.Warningf("child process stopped sending valid UDP ping packets, restarting it")
				w.bus.Publish(events.Event{Type: events.WatchdogTimeout})
				w.InitiateProcessShutdown()
			}
		}
	}
}

func (w *Watchdog) spawn() (*exec.Cmd, chan waitResult, error) {
	cmd := exec.Command(w.targetExecutable, w.argv[1:]...)
	cmd.Dir = w.workDir
	cmd.Env = os.Environ()
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, nil, err
	}

	waitCh := make(chan waitResult, 1)
	go func() {
		err := cmd.Wait()
		waitCh <- waitResult{state: cmd.ProcessState, err: err}
	}()
	return cmd, waitCh, nil
}
