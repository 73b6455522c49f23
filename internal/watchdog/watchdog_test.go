package watchdog

import (
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/svcwatchdogteam/svcwatchdog/internal/config"
	"github.com/svcwatchdogteam/svcwatchdog/internal/events"
	"github.com/svcwatchdogteam/svcwatchdog/internal/logging"
)

func quietLogger() *logging.Logger {
	l := logging.New()
	l.Config(config.New(map[string]any{"log": map[string]any{"minConsoleLevel": float64(logging.MaskAllLogs)}}), "log")
	l.Start()
	return l
}

func TestBuildShutdownEventName(t *testing.T) {
	name := BuildShutdownEventName(`C:\Services\My App-1.2`, 123456)

	if !strings.HasPrefix(name, `Global\SvcWatchDog.`) {
		t.Fatalf("name %q lacks the prefix", name)
	}
	suffix := strings.TrimPrefix(name, `Global\SvcWatchDog.`)
	if !regexp.MustCompile(`^[a-z0-9]+$`).MatchString(suffix) {
		t.Fatalf("suffix %q contains non-alphanumerics or uppercase", suffix)
	}
	if !strings.Contains(suffix, "cservicesmyapp12123456") {
		t.Fatalf("suffix %q lost expected characters", suffix)
	}
}

func TestBuildShutdownEventNameDiffersAcrossTime(t *testing.T) {
	a := BuildShutdownEventName("/srv/app", 1)
	b := BuildShutdownEventName("/srv/app", 2)
	if a == b {
		t.Fatal("names for distinct timestamps collide")
	}
}

func TestResolveInPath(t *testing.T) {
	dir1 := t.TempDir()
	dir2 := t.TempDir()

	target := filepath.Join(dir2, "mychild")
	if err := os.WriteFile(target, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	pathEnv := strings.Join([]string{dir1, dir2}, string(os.PathListSeparator))

	resolved, ok := ResolveInPath("mychild", pathEnv)
	if !ok {
		t.Fatal("existing file was not found")
	}
	if resolved != target {
		t.Fatalf("resolved = %q, want %q", resolved, target)
	}

	if _, ok := ResolveInPath("ghost", pathEnv); ok {
		t.Fatal("missing file was found")
	}

	// A directory of the same name is not a hit.
	if err := os.Mkdir(filepath.Join(dir1, "dirname"), 0o755); err != nil {
		t.Fatal(err)
	}
	if _, ok := ResolveInPath("dirname", pathEnv); ok {
		t.Fatal("a directory was treated as the target executable")
	}
}

func TestNewSecret(t *testing.T) {
	a := newSecret()
	b := newSecret()
	if a == b {
		t.Fatal("secrets collide across runs")
	}
	if len(a) < 32 {
		t.Fatalf("secret %q is suspiciously short", a)
	}
	if strings.Contains(a, "-") {
		t.Fatalf("secret %q contains separators", a)
	}
}

func TestPrintable(t *testing.T) {
	in := []byte("ok\x00\x1b[31mevil\xff")
	out := printable(in)
	if out != "ok  [31mevil " {
		t.Fatalf("printable = %q", out)
	}
}

func TestDrainPings(t *testing.T) {
	logger := quietLogger()
	defer logger.Shutdown()

	bus := events.NewBus()
	pings := 0
	bus.Subscribe(func(events.Event) { pings++ }, events.WatchdogPing)

	w := &Watchdog{cfg: config.New(nil), logger: logger, bus: bus}
	w.secret = "the-secret-payload"
	w.watchdogConn = w.startUDPWatchdog()
	if w.watchdogConn == nil {
		t.Fatal("UDP bind failed")
	}
	defer w.watchdogConn.conn.Close()

	dst := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: w.watchdogConn.port}
	client, err := net.DialUDP("udp4", nil, dst)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	client.Write([]byte("the-secret-payload"))
	client.Write([]byte("bogus"))
	client.Write([]byte("the-secret-payload"))
	time.Sleep(100 * time.Millisecond)

	valid := w.drainPings()
	if valid != 2 {
		t.Fatalf("valid pings = %d, want 2", valid)
	}
	if pings != 2 {
		t.Fatalf("published pings = %d, want 2", pings)
	}

	// The queue is now empty; a second drain finds nothing.
	if again := w.drainPings(); again != 0 {
		t.Fatalf("drain of an empty queue = %d", again)
	}
}

func TestKillAtLifecycle(t *testing.T) {
	logger := quietLogger()
	defer logger.Shutdown()

	cfg := config.New(map[string]any{
		Section: map[string]any{"shutdownTime": float64(500)},
	})
	w := &Watchdog{cfg: cfg, logger: logger, bus: events.NewBus()}

	if !w.killAtTime().IsZero() {
		t.Fatal("fresh watchdog has a kill deadline")
	}

	before := time.Now()
	w.InitiateProcessShutdown()
	killAt := w.killAtTime()
	if killAt.IsZero() {
		t.Fatal("InitiateProcessShutdown did not schedule the kill")
	}
	if d := killAt.Sub(before); d < 400*time.Millisecond || d > 700*time.Millisecond {
		t.Fatalf("kill deadline %v away, want ~500ms", d)
	}

	w.clearKillAt()
	if !w.killAtTime().IsZero() {
		t.Fatal("clearKillAt did not clear the deadline")
	}
}
