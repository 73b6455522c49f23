// Package email delivers log batches over SMTP and provides the
// batching email sink for the logging pipeline.
package email

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/svcwatchdogteam/svcwatchdog/internal/config"
	"github.com/svcwatchdogteam/svcwatchdog/internal/logging"
	"github.com/svcwatchdogteam/svcwatchdog/internal/vault"
)

// Sender transmits one batched message. A zero timeout means the
// sender's configured default.
type Sender interface {
	Send(subject, body string, to []string, from string, timeout time.Duration) error
}

// EmailSender is the SMTP-backed Sender. Its log records all carry the
// EmailSender location prefix, which the email sink filters out to
// avoid transmission diagnostics feeding back into new emails.
type EmailSender struct {
	logger *logging.Logger

	host          string
	port          int
	implicitSSL   bool
	sslFlag       int
	username      string
	password      string
	defaultSource string
	timeout       time.Duration

	configured bool
}

// NewEmailSender creates an unconfigured sender.
func NewEmailSender(logger *logging.Logger) *EmailSender {
	return &EmailSender{logger: logger, timeout: 20 * time.Second}
}

// Configure reads the SMTP settings from the given config section. The
// password may be stored encrypted; it goes through the vault's
// opportunistic decrypt.
func (s *EmailSender) Configure(cfg *config.Config, section string, v *vault.Vault) {
	s.logger.Debugf("reading configuration from section: %s", section)

	serverURL := cfg.GetString(section, "smtpServerUrl", "")
	s.defaultSource = cfg.GetString(section, "defaultSourceAddress", "")

	if serverURL == "" || s.defaultSource == "" {
		s.logger.Errorf("smtpServerUrl or defaultSourceAddress not configured in section: %s", section)
		return
	}

	host, port, implicitSSL, err := parseServerURL(serverURL)
	if err != nil {
		s.logger.Errorf("invalid smtpServerUrl %q: %v", serverURL, err)
		return
	}
	s.host = host
	s.port = port
	s.implicitSSL = implicitSSL

	s.sslFlag = config.GetNumber(cfg, section, "sslFlag", 0)
	s.username = cfg.GetString(section, "username", "")
	s.password = v.GetPossiblyEncryptedString(cfg, section, "password", "")
	s.timeout = time.Duration(config.GetNumber(cfg, section, "timeout", int64(s.timeout/time.Millisecond))) * time.Millisecond

	s.configured = true
	s.logger.Debugf("smtpServer=%s:%d, sslFlag=%d, username=%s, timeout=%v", s.host, s.port, s.sslFlag, s.username, s.timeout)
}

// Send transmits a plain-text message to the given recipients.
func (s *EmailSender) Send(subject, body string, to []string, from string, timeout time.Duration) error {
	if !s.configured {
		return fmt.Errorf("email sender is not configured")
	}

	s.logger.Infof("sending email to %s", strings.Join(to, ", "))

	if from == "" {
		from = s.defaultSource
	}
	if timeout <= 0 {
		timeout = s.timeout
	}

	msg := mail.NewMsg()
	if err := msg.From(from); err != nil {
		return fmt.Errorf("invalid source address %q: %w", from, err)
	}
	if err := msg.To(to...); err != nil {
		return fmt.Errorf("invalid recipients %v: %w", to, err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	opts := []mail.Option{
		mail.WithPort(s.port),
		mail.WithTimeout(timeout),
		mail.WithTLSPolicy(tlsPolicy(s.sslFlag)),
	}
	if s.implicitSSL {
		opts = append(opts, mail.WithSSL())
	}
	if s.username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.username),
			mail.WithPassword(s.password),
		)
	}

	client, err := mail.NewClient(s.host, opts...)
	if err != nil {
		s.logger.Errorf("cannot create SMTP client for %s: %v", s.host, err)
		return err
	}

	if err := client.DialAndSend(msg); err != nil {
		s.logger.Errorf("delivery to %s failed: %v", s.host, err)
		return err
	}

	s.logger.Infof("delivered %d bytes to %s", len(body), strings.Join(to, ", "))
	return nil
}

// parseServerURL splits an smtp:// or smtps:// URL into host, port and
// the implicit-SSL flag. A bare host[:port] is accepted as smtp.
func parseServerURL(raw string) (host string, port int, implicitSSL bool, err error) {
	if !strings.Contains(raw, "://") {
		raw = "smtp://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", 0, false, err
	}

	switch u.Scheme {
	case "smtp":
	case "smtps":
		implicitSSL = true
	default:
		return "", 0, false, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	host = u.Hostname()
	if host == "" {
		return "", 0, false, fmt.Errorf("no host in %q", raw)
	}

	port = 587
	if implicitSSL {
		port = 465
	}
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return "", 0, false, err
		}
	}
	return host, port, implicitSSL, nil
}

func tlsPolicy(sslFlag int) mail.TLSPolicy {
	switch {
	case sslFlag <= 0:
		return mail.NoTLS
	case sslFlag == 1:
		return mail.TLSOpportunistic
	default:
		return mail.TLSMandatory
	}
}
