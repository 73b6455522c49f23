package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/svcwatchdogteam/svcwatchdog/internal/config"
	"github.com/svcwatchdogteam/svcwatchdog/internal/syncevent"
)

// Sink is a pluggable log destination. Log is called under the logger
// mutex and must be fast and never re-enter the logger; Flush is called
// from the background flusher and may block briefly. stillRunning=false
// indicates teardown.
type Sink interface {
	MinLogLevel() Level
	Log(level Level, record string)
	Flush(stillRunning, force bool)
}

// Logger is the thread-safe logging front end plus its background
// flusher. The front end never performs blocking I/O; the file is only
// written from the flusher goroutine.
type Logger struct {
	mu    sync.Mutex
	queue []string
	sinks []Sink

	minConsole Level
	minFile    Level
	filePath   string

	logThreadID   bool
	maxFileSize   int64
	maxOldFiles   int
	maxWriteDelay time.Duration

	minSink atomic.Int32
	mute    atomic.Bool
	running atomic.Bool

	trigger *syncevent.Event
	done    chan struct{}

	console io.Writer
	errOut  io.Writer
}

// New creates an unconfigured, stopped logger.
func New() *Logger {
	l := &Logger{
		minConsole: Verbose,
		minFile:    Verbose,
		trigger:    syncevent.New(),
		console:    os.Stdout,
		errOut:     os.Stderr,
	}
	l.minSink.Store(int32(MaskAllLogs))
	return l
}

// Config reads the logger settings from the given config section.
// Must be called before Start.
func (l *Logger) Config(cfg *config.Config, section string) {
	// The older key names are accepted as aliases.
	l.minConsole = Level(config.GetNumber(cfg, section, "minConsoleLevel",
		config.GetNumber(cfg, section, "consoleLevel", int(Verbose))))
	l.minFile = Level(config.GetNumber(cfg, section, "minFileLevel",
		config.GetNumber(cfg, section, "fileLevel", int(Verbose))))

	filePath := cfg.GetString(section, "filePath", "")
	if filePath == "" {
		// No file path disables the file sink.
		l.minFile = MaskAllLogs
	} else {
		abs, err := filepath.Abs(filePath)
		if err == nil {
			filePath = abs
		}
		l.filePath = filePath
		if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
			fmt.Fprintf(l.errOut, "logging: cannot create log directory: %v\n", err)
		}
	}

	l.maxFileSize = config.GetNumber(cfg, section, "maxFileSize", int64(20*1024*1024))
	l.maxOldFiles = config.GetNumber(cfg, section, "maxOldFiles", 0)
	l.maxWriteDelay = time.Duration(config.GetNumber(cfg, section, "maxWriteDelay", 500)) * time.Millisecond
	l.logThreadID = cfg.GetBool(section, "logThreadId", false)
}

// Start launches the background flusher.
func (l *Logger) Start() {
	if l.maxWriteDelay <= 0 {
		l.maxWriteDelay = 500 * time.Millisecond
	}
	if l.running.Swap(true) {
		return
	}
	l.done = make(chan struct{})
	go l.flusher()

	l.Logf(Debug, "minConsoleLevel=%d, minFileLevel=%d, filePath=%s, maxFileSize=%d, maxOldFiles=%d, maxWriteDelay=%v, logThreadId=%v",
		l.minConsole, l.minFile, l.filePath, l.maxFileSize, l.maxOldFiles, l.maxWriteDelay, l.logThreadID)
}

// Shutdown stops the flusher and performs a final flush pass so late
// records and batched sinks are persisted. Records logged after
// Shutdown are dropped.
func (l *Logger) Shutdown() {
	if !l.running.Swap(false) {
		return
	}
	l.trigger.Set()
	<-l.done
	l.flushPass(false, true)
}

// Mute suppresses all output while keeping the pipeline running.
func (l *Logger) Mute(mute bool) { l.mute.Store(mute) }

// SetOutput redirects console and error output. Intended for tests;
// call before Start.
func (l *Logger) SetOutput(console, errOut io.Writer) {
	if console != nil {
		l.console = console
	}
	if errOut != nil {
		l.errOut = errOut
	}
}

// RegisterSink adds a destination. The front end skips formatting
// entirely when a record passes no destination's threshold.
func (l *Logger) RegisterSink(s Sink) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sinks = append(l.sinks, s)

	minSink := MaskAllLogs
	for _, sink := range l.sinks {
		if lvl := sink.MinLogLevel(); lvl < minSink {
			minSink = lvl
		}
	}
	l.minSink.Store(int32(minSink))
}

// Log records a message at the given level, attributed to the caller.
func (l *Logger) Log(level Level, message string) {
	l.logAt(level, 3, message)
}

// Logf records a formatted message at the given level.
func (l *Logger) Logf(level Level, format string, args ...any) {
	l.logAt(level, 3, fmt.Sprintf(format, args...))
}

// Verbosef records at Verbose level.
func (l *Logger) Verbosef(format string, args ...any) {
	l.logAt(Verbose, 3, fmt.Sprintf(format, args...))
}

// Debugf records at Debug level.
func (l *Logger) Debugf(format string, args ...any) {
	l.logAt(Debug, 3, fmt.Sprintf(format, args...))
}

// Infof records at Information level.
func (l *Logger) Infof(format string, args ...any) {
	l.logAt(Information, 3, fmt.Sprintf(format, args...))
}

// Warningf records at Warning level.
func (l *Logger) Warningf(format string, args ...any) {
	l.logAt(Warning, 3, fmt.Sprintf(format, args...))
}

// Errorf records at Error level.
func (l *Logger) Errorf(format string, args ...any) {
	l.logAt(Error, 3, fmt.Sprintf(format, args...))
}

// Assert records an invariant violation at Fatal level when cond is
// false. Execution continues; a supervisor that aborts on its own
// assertions defeats its purpose.
func (l *Logger) Assert(cond bool, format string, args ...any) {
	if !cond {
		l.logAt(Fatal, 3, "assertion failed: "+fmt.Sprintf(format, args...))
	}
}

func (l *Logger) logAt(level Level, depth int, message string) {
	if l.mute.Load() || !l.running.Load() {
		return
	}
	if level < l.minConsole && level < l.minFile && level < Level(l.minSink.Load()) {
		return
	}

	threadPrefix := ""
	if l.logThreadID {
		threadPrefix = goroutinePrefix()
	}

	record := time.Now().Format("2006-01-02 15:04:05.000") +
		" [" + level.String() + "] " + threadPrefix + locationPrefix(depth) + message + "\n"

	l.mu.Lock()
	defer l.mu.Unlock()

	if level >= l.minConsole {
		io.WriteString(l.console, record)
	}
	if level >= l.minFile {
		l.queue = append(l.queue, record)
	}
	for _, s := range l.sinks {
		if level >= s.MinLogLevel() {
			s.Log(level, record)
		}
	}
}

func (l *Logger) flusher() {
	defer close(l.done)
	for l.running.Load() {
		l.trigger.Wait(l.maxWriteDelay)
		if !l.running.Load() {
			return
		}
		l.flushPass(true, false)
	}
}

// flushPass drains the file queue, rotates and retains if needed, then
// flushes every sink. I/O failures go to stderr, never back through the
// logger.
func (l *Logger) flushPass(stillRunning, force bool) {
	l.mu.Lock()
	batch := l.queue
	l.queue = nil
	sinks := make([]Sink, len(l.sinks))
	copy(sinks, l.sinks)
	l.mu.Unlock()

	if len(batch) > 0 && l.filePath != "" {
		if err := l.persist(batch); err != nil {
			fmt.Fprintf(l.errOut, "logging: flush failed: %v\n", err)
			// The directory may have disappeared; recreate it so the
			// next pass has a chance.
			if mkErr := os.MkdirAll(filepath.Dir(l.filePath), 0o755); mkErr != nil {
				fmt.Fprintf(l.errOut, "logging: cannot create log directory: %v\n", mkErr)
			}
		}
	}

	for _, s := range sinks {
		s.Flush(stillRunning, force)
	}
}

func (l *Logger) persist(batch []string) error {
	f, err := os.OpenFile(l.filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	for _, record := range batch {
		if _, err := io.WriteString(f, record); err != nil {
			f.Close()
			return err
		}
	}

	var size int64
	if info, err := f.Stat(); err == nil {
		size = info.Size()
	}
	if err := f.Close(); err != nil {
		return err
	}

	// Rotation is a recommendation, not a hard cap: the record that
	// crossed the threshold has already been written in full.
	if l.maxFileSize > 0 && size > l.maxFileSize {
		return rotate(l.filePath, l.maxOldFiles, time.Now())
	}
	return nil
}
