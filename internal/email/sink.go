package email

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/svcwatchdogteam/svcwatchdog/internal/config"
	"github.com/svcwatchdogteam/svcwatchdog/internal/logging"
	"github.com/svcwatchdogteam/svcwatchdog/internal/vault"
)

// LogSink batches log records and mails them out when the batch is old
// enough, large enough, or a flush is forced.
type LogSink struct {
	mu        sync.Mutex
	queue     []string
	watermark time.Time

	minLevel          logging.Level
	recipients        []string
	subject           string
	emailSection      string
	maxDelay          time.Duration
	maxLogs           int
	timeoutOnShutdown time.Duration

	sender Sender
}

// LogSinkOption configures a LogSink.
type LogSinkOption func(*LogSink)

// WithSender overrides the SMTP transport, for tests.
func WithSender(s Sender) LogSinkOption {
	return func(sink *LogSink) { sink.sender = s }
}

// ConfigureAll registers one email sink per subsection of
// parentSection (conventionally "log.email").
func ConfigureAll(cfg *config.Config, logger *logging.Logger, v *vault.Vault, parentSection string) {
	for _, name := range cfg.GetKeys(parentSection, true, false, false) {
		sink := NewLogSink(cfg, parentSection+"."+name, logger, v)
		logger.RegisterSink(sink)
	}
}

// NewLogSink reads one sink's settings. A sink missing its emailSection
// or recipients is registered disabled, so a half-written config shows
// up in the logs instead of silently dropping mail.
func NewLogSink(cfg *config.Config, section string, logger *logging.Logger, v *vault.Vault, opts ...LogSinkOption) *LogSink {
	s := &LogSink{
		minLevel:          logging.Level(config.GetNumber(cfg, section, "minLogLevel", int(logging.Verbose))),
		recipients:        cfg.GetStringVector(section, "recipients"),
		subject:           cfg.GetString(section, "subject", ""),
		emailSection:      cfg.GetString(section, "emailSection", ""),
		maxDelay:          time.Duration(config.GetNumber(cfg, section, "maxDelay", 300)) * time.Second,
		maxLogs:           config.GetNumber(cfg, section, "maxLogs", 1000),
		timeoutOnShutdown: time.Duration(config.GetNumber(cfg, section, "timeoutOnShutdown", 3000)) * time.Millisecond,
	}

	if s.emailSection == "" || len(s.recipients) == 0 || s.minLevel >= logging.MaskAllLogs {
		s.emailSection = ""
		s.minLevel = logging.MaskAllLogs
		logger.Debugf("section=%s: disabled or not fully configured", section)
	} else {
		if s.subject == "" {
			s.subject = defaultSubject()
		}

		sender := NewEmailSender(logger)
		sender.Configure(cfg, s.emailSection, v)
		s.sender = sender

		logger.Debugf("section=%s: minLogLevel=%d, emailSection=%s, recipients=%s, subject=%s, maxDelay=%v, maxLogs=%d, timeoutOnShutdown=%v",
			section, s.minLevel, s.emailSection, strings.Join(s.recipients, ", "), s.subject, s.maxDelay, s.maxLogs, s.timeoutOnShutdown)
	}

	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MinLogLevel implements logging.Sink.
func (s *LogSink) MinLogLevel() logging.Level { return s.minLevel }

// Log implements logging.Sink. Records produced by the SMTP transport
// itself are ignored, so delivery diagnostics cannot start an email
// sending loop.
func (s *LogSink) Log(level logging.Level, record string) {
	if level < s.minLevel || strings.Contains(record, "EmailSender") {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		s.watermark = time.Now()
	}
	s.queue = append(s.queue, record)
}

// Flush implements logging.Sink. While the process is running the
// batch is handed to a detached worker; during teardown the send runs
// synchronously with the shorter shutdown timeout so terminal records
// still have a bounded chance of delivery.
func (s *LogSink) Flush(stillRunning, force bool) {
	s.mu.Lock()
	if len(s.queue) == 0 ||
		(!force && len(s.queue) < s.maxLogs && time.Since(s.watermark) < s.maxDelay) {
		s.mu.Unlock()
		return
	}
	batch := s.queue
	s.queue = nil
	s.mu.Unlock()

	if s.sender == nil {
		return
	}

	body := strings.Join(batch, "")

	if stillRunning {
		go s.sender.Send(s.subject, body, s.recipients, "", 0)
		if force {
			// Give the detached worker a moment to copy its inputs
			// before a shutdown tears the process down around it.
			time.Sleep(100 * time.Millisecond)
		}
		return
	}

	s.sender.Send(s.subject, body, s.recipients, "", s.timeoutOnShutdown)
}

func defaultSubject() string {
	exe, err := os.Executable()
	name := "svcwatchdog"
	if err == nil {
		name = strings.TrimSuffix(filepath.Base(exe), filepath.Ext(exe))
	}
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	return name + "@" + host
}
