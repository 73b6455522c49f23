package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/svcwatchdogteam/svcwatchdog/internal/config"
)

func testConfig(overrides map[string]any) *config.Config {
	section := map[string]any{}
	for k, v := range overrides {
		section[k] = v
	}
	return config.New(map[string]any{"log": section})
}

func newFileLogger(t *testing.T, overrides map[string]any) (*Logger, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "svc.log")
	merged := map[string]any{
		"filePath":      path,
		"maxWriteDelay": float64(50),
	}
	for k, v := range overrides {
		merged[k] = v
	}
	l := New()
	l.console = &bytes.Buffer{}
	l.Config(testConfig(merged), "log")
	l.Start()
	t.Cleanup(l.Shutdown)
	return l, path
}

func waitForFile(t *testing.T, path string, timeout time.Duration) string {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		data, err := os.ReadFile(path)
		if err == nil && len(data) > 0 {
			return string(data)
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no log data appeared in %s", path)
	return ""
}

var recordRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\.\d{3} \[(VRB|DBG|INF|WRN|ERR|FAT)\] \S+: .*\n$`)

func TestRecordFormatAndFlushDelay(t *testing.T) {
	l, path := newFileLogger(t, nil)

	l.Infof("hello %s", "world")

	data := waitForFile(t, path, 2*time.Second)
	if !recordRe.MatchString(data) {
		t.Fatalf("record %q does not match the expected layout", data)
	}
	if !strings.Contains(data, "[INF]") || !strings.Contains(data, "hello world") {
		t.Fatalf("unexpected record: %q", data)
	}
}

func TestLocationPrefixForMethod(t *testing.T) {
	l, path := newFileLogger(t, nil)

	// Logf is called through a method on a named type, so the location
	// prefix must carry Type::Method.
	w := &widget{logger: l}
	w.poke()

	data := waitForFile(t, path, 2*time.Second)
	if !strings.Contains(data, "widget::poke: ") {
		t.Fatalf("record %q lacks the method location prefix", data)
	}
}

type widget struct{ logger *Logger }

func (w *widget) poke() { w.logger.Infof("poked") }

func TestThreadIDPrefix(t *testing.T) {
	l, path := newFileLogger(t, map[string]any{"logThreadId": true})

	l.Infof("with thread id")

	data := waitForFile(t, path, 2*time.Second)
	if !regexp.MustCompile(`\[INF\] [0-9a-f]{8}: `).MatchString(data) {
		t.Fatalf("record %q lacks the 8-hex-digit goroutine prefix", data)
	}
}

func TestLevelFiltering(t *testing.T) {
	l, path := newFileLogger(t, map[string]any{"minFileLevel": float64(Warning)})

	l.Infof("too quiet")
	l.Warningf("loud enough")

	data := waitForFile(t, path, 2*time.Second)
	if strings.Contains(data, "too quiet") {
		t.Error("Information record passed a Warning threshold")
	}
	if !strings.Contains(data, "loud enough") {
		t.Error("Warning record missing")
	}
}

func TestLevelAliases(t *testing.T) {
	l := New()
	l.Config(testConfig(map[string]any{
		"consoleLevel": float64(Error),
		"fileLevel":    float64(Warning),
		"filePath":     filepath.Join(t.TempDir(), "a.log"),
	}), "log")
	if l.minConsole != Error {
		t.Errorf("minConsole = %d, want %d (via consoleLevel alias)", l.minConsole, Error)
	}
	if l.minFile != Warning {
		t.Errorf("minFile = %d, want %d (via fileLevel alias)", l.minFile, Warning)
	}
}

func TestEmptyFilePathDisablesFileSink(t *testing.T) {
	l := New()
	l.Config(testConfig(nil), "log")
	if l.minFile != MaskAllLogs {
		t.Fatalf("minFile = %d, want MaskAllLogs", l.minFile)
	}
}

func TestMute(t *testing.T) {
	l, path := newFileLogger(t, nil)

	l.Mute(true)
	l.Infof("silenced")
	l.Mute(false)
	l.Infof("audible")

	data := waitForFile(t, path, 2*time.Second)
	if strings.Contains(data, "silenced") {
		t.Error("muted record was persisted")
	}
	if !strings.Contains(data, "audible") {
		t.Error("unmuted record missing")
	}
}

func TestConsoleThreshold(t *testing.T) {
	buf := &bytes.Buffer{}
	l := New()
	l.console = buf
	l.Config(testConfig(map[string]any{"minConsoleLevel": float64(Warning)}), "log")
	l.Start()
	defer l.Shutdown()

	l.Infof("below")
	l.Errorf("above")

	l.mu.Lock()
	out := buf.String()
	l.mu.Unlock()
	if strings.Contains(out, "below") {
		t.Error("Information record reached a Warning console")
	}
	if !strings.Contains(out, "above") {
		t.Error("Error record missing from console")
	}
}

func TestRotationCreatesTimestampedArchive(t *testing.T) {
	l, path := newFileLogger(t, map[string]any{"maxFileSize": float64(10_000)})

	record := strings.Repeat("x", 180)
	for i := 0; i < 100; i++ {
		l.Infof("%03d %s", i, record)
	}
	l.Shutdown()

	dir := filepath.Dir(path)
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	archiveRe := regexp.MustCompile(`^svc\.\d{14}\.log$`)
	archives := 0
	for _, e := range entries {
		if archiveRe.MatchString(e.Name()) {
			archives++
		}
	}
	if archives == 0 {
		t.Fatal("no timestamped archive was created")
	}
	// The active file restarts after each rotation, so it stays well
	// under the threshold plus one record.
	if info, err := os.Stat(path); err == nil && info.Size() > 10_000+512 {
		t.Errorf("active file size = %d, want < threshold + one record", info.Size())
	}
}

func TestRetentionKeepsNewestArchives(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "svc.log")

	stamps := []string{"20240101000000", "20240102000000", "20240103000000"}
	for _, ts := range stamps {
		if err := os.WriteFile(filepath.Join(dir, "svc."+ts+".log"), []byte("old"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(path, []byte("active"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := rotate(path, 2, time.Date(2024, 1, 4, 0, 0, 0, 0, time.Local)); err != nil {
		t.Fatal(err)
	}

	entries, _ := os.ReadDir(dir)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	if len(names) != 2 {
		t.Fatalf("archives = %v, want exactly 2 newest", names)
	}
	for _, name := range names {
		if name == "svc.20240101000000.log" || name == "svc.20240102000000.log" {
			t.Errorf("old archive %s survived retention", name)
		}
	}
}

func TestRotationDisabledWhenMaxFileSizeZero(t *testing.T) {
	l, path := newFileLogger(t, map[string]any{"maxFileSize": float64(0)})

	for i := 0; i < 50; i++ {
		l.Infof("%s", strings.Repeat("y", 200))
	}
	l.Shutdown()

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Fatalf("expected only the active file, found %d entries", len(entries))
	}
}

type captureSink struct {
	mu      sync.Mutex
	min     Level
	records []string
	flushes int
}

func (s *captureSink) MinLogLevel() Level { return s.min }

func (s *captureSink) Log(level Level, record string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
}

func (s *captureSink) Flush(stillRunning, force bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
}

func TestSinkFanoutRespectsThreshold(t *testing.T) {
	l, _ := newFileLogger(t, nil)
	sink := &captureSink{min: Warning}
	l.RegisterSink(sink)

	l.Infof("below sink threshold")
	l.Errorf("above sink threshold")
	l.Shutdown()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.records) != 1 || !strings.Contains(sink.records[0], "above sink threshold") {
		t.Fatalf("sink records = %v", sink.records)
	}
	if sink.flushes == 0 {
		t.Error("sink was never flushed")
	}
}
