package email

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/svcwatchdogteam/svcwatchdog/internal/config"
	"github.com/svcwatchdogteam/svcwatchdog/internal/logging"
	"github.com/svcwatchdogteam/svcwatchdog/internal/vault"
)

type sentMail struct {
	subject string
	body    string
	to      []string
	timeout time.Duration
}

type fakeSender struct {
	mu    sync.Mutex
	sent  []sentMail
	calls chan sentMail
}

func newFakeSender() *fakeSender {
	return &fakeSender{calls: make(chan sentMail, 16)}
}

func (f *fakeSender) Send(subject, body string, to []string, from string, timeout time.Duration) error {
	mail := sentMail{subject: subject, body: body, to: to, timeout: timeout}
	f.mu.Lock()
	f.sent = append(f.sent, mail)
	f.mu.Unlock()
	f.calls <- mail
	return nil
}

func (f *fakeSender) waitForMail(t *testing.T) sentMail {
	t.Helper()
	select {
	case m := <-f.calls:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no mail was sent")
		return sentMail{}
	}
}

func sinkConfig(overrides map[string]any) *config.Config {
	section := map[string]any{
		"minLogLevel":  float64(logging.Warning),
		"recipients":   []any{"ops@example.com"},
		"subject":      "unit test",
		"emailSection": "smtp",
		"maxDelay":     float64(300),
		"maxLogs":      float64(3),
	}
	for k, v := range overrides {
		section[k] = v
	}
	return config.New(map[string]any{
		"log": map[string]any{"email": map[string]any{"ops": section}},
		"smtp": map[string]any{
			"smtpServerUrl":        "smtps://mail.example.com:465",
			"defaultSourceAddress": "svc@example.com",
		},
	})
}

func newTestSink(t *testing.T, overrides map[string]any) (*LogSink, *fakeSender) {
	t.Helper()
	logger := logging.New()
	v := vault.New(logger)
	v.Configure(config.New(nil), "", "pw")

	sender := newFakeSender()
	sink := NewLogSink(sinkConfig(overrides), "log.email.ops", logger, v, WithSender(sender))
	return sink, sender
}

func TestSinkQueuesAboveThreshold(t *testing.T) {
	sink, sender := newTestSink(t, nil)

	sink.Log(logging.Information, "below threshold\n")
	sink.Log(logging.Warning, "first\n")
	sink.Flush(true, true)

	m := sender.waitForMail(t)
	if strings.Contains(m.body, "below threshold") {
		t.Error("a record below minLogLevel was mailed")
	}
	if !strings.Contains(m.body, "first") {
		t.Error("the queued record is missing from the batch")
	}
	if m.subject != "unit test" {
		t.Errorf("subject = %q", m.subject)
	}
}

func TestSinkSuppressesTransportDiagnostics(t *testing.T) {
	sink, sender := newTestSink(t, nil)

	sink.Log(logging.Error, "2026-01-01 00:00:00.000 [ERR] EmailSender::Send: delivery failed\n")
	sink.Log(logging.Error, "real problem\n")
	sink.Flush(true, true)

	m := sender.waitForMail(t)
	if strings.Contains(m.body, "EmailSender") {
		t.Error("transport diagnostics leaked into the batch")
	}
	if !strings.Contains(m.body, "real problem") {
		t.Error("genuine record missing")
	}
}

func TestSinkHoldsSmallYoungBatch(t *testing.T) {
	sink, sender := newTestSink(t, nil)

	sink.Log(logging.Warning, "only one\n")
	sink.Flush(true, false)

	select {
	case <-sender.calls:
		t.Fatal("a young, small batch was flushed without force")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSinkFlushesOnCount(t *testing.T) {
	sink, sender := newTestSink(t, nil) // maxLogs = 3

	sink.Log(logging.Warning, "one\n")
	sink.Log(logging.Warning, "two\n")
	sink.Log(logging.Warning, "three\n")
	sink.Flush(true, false)

	m := sender.waitForMail(t)
	for _, want := range []string{"one", "two", "three"} {
		if !strings.Contains(m.body, want) {
			t.Errorf("batch lacks %q", want)
		}
	}
}

func TestSinkFlushesOnAge(t *testing.T) {
	sink, sender := newTestSink(t, map[string]any{"maxDelay": float64(0)})

	sink.Log(logging.Warning, "aged\n")
	sink.Flush(true, false)

	if m := sender.waitForMail(t); !strings.Contains(m.body, "aged") {
		t.Errorf("batch = %q", m.body)
	}
}

func TestSinkShutdownUsesShutdownTimeout(t *testing.T) {
	sink, sender := newTestSink(t, map[string]any{"timeoutOnShutdown": float64(1234)})

	sink.Log(logging.Warning, "last words\n")
	sink.Flush(false, true)

	// The shutdown path sends synchronously, so the mail is already
	// recorded.
	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.sent) != 1 {
		t.Fatalf("sent %d mails, want 1", len(sender.sent))
	}
	if sender.sent[0].timeout != 1234*time.Millisecond {
		t.Errorf("timeout = %v, want 1234ms", sender.sent[0].timeout)
	}
}

func TestSinkDisabledWhenNotFullyConfigured(t *testing.T) {
	sink, _ := newTestSink(t, map[string]any{"recipients": []any{}})
	if sink.MinLogLevel() != logging.MaskAllLogs {
		t.Fatalf("minLevel = %d, want MaskAllLogs", sink.MinLogLevel())
	}
}

func TestConfigureAllRegistersSinkPerSubsection(t *testing.T) {
	logger := logging.New()
	v := vault.New(logger)
	v.Configure(config.New(nil), "", "pw")

	cfg := config.New(map[string]any{
		"log": map[string]any{"email": map[string]any{
			"ops": map[string]any{"minLogLevel": float64(4), "recipients": []any{"a@b.c"}, "emailSection": "smtp"},
			"dev": map[string]any{"minLogLevel": float64(3), "recipients": []any{"d@b.c"}, "emailSection": "smtp"},
		}},
		"smtp": map[string]any{"smtpServerUrl": "smtp://h:25", "defaultSourceAddress": "s@b.c"},
	})

	ConfigureAll(cfg, logger, v, "log.email")
	// Registration is observable through the logger's sink threshold:
	// the lowest sink level is now Warning (3).
	sink := NewLogSink(cfg, "log.email.dev", logger, v)
	if sink.MinLogLevel() != logging.Warning {
		t.Fatalf("minLevel = %d, want %d", sink.MinLogLevel(), logging.Warning)
	}
}

func TestParseServerURL(t *testing.T) {
	tests := []struct {
		in       string
		host     string
		port     int
		implicit bool
		wantErr  bool
	}{
		{"smtps://mail.example.com:465", "mail.example.com", 465, true, false},
		{"smtp://mail.example.com:587", "mail.example.com", 587, false, false},
		{"smtp://mail.example.com", "mail.example.com", 587, false, false},
		{"smtps://mail.example.com", "mail.example.com", 465, true, false},
		{"mail.example.com:2525", "mail.example.com", 2525, false, false},
		{"http://mail.example.com", "", 0, false, true},
	}
	for _, tt := range tests {
		host, port, implicit, err := parseServerURL(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseServerURL(%q) err = %v", tt.in, err)
			continue
		}
		if err != nil {
			continue
		}
		if host != tt.host || port != tt.port || implicit != tt.implicit {
			t.Errorf("parseServerURL(%q) = %s:%d ssl=%v", tt.in, host, port, implicit)
		}
	}
}
