// Package notify delivers high-risk detection alerts by email.
package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

// ErrDisabled is returned by Send when no SMTP credentials are configured.
var ErrDisabled = errors.New("email alerts disabled")

const (
	defaultPort    = 587
	implicitTLS    = 465
	defaultTimeout = 10 * time.Second
)

// SMTPConfig holds the outgoing mail settings.
type SMTPConfig struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	From     string        `yaml:"from"`
	To       []string      `yaml:"to"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Enabled reports whether alerts can be sent.
func (c SMTPConfig) Enabled() bool {
	return c.Host != "" && c.Username != "" && c.Password != "" && len(c.To) > 0
}

// RetryConfig holds retry configuration.
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
}

// DefaultRetryConfig tries three times, waiting 2s then 4s, capped at 10s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     10 * time.Second,
		BackoffFactor:  2.0,
	}
}

// Sender delivers composed messages. *mail.Client implements it.
type Sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// Mailer sends plain-text alerts with retries.
type Mailer struct {
	cfg    SMTPConfig
	retry  RetryConfig
	sender Sender
	logger *zap.Logger
}

// NewMailer creates a mailer backed by an SMTP client. Port 465 uses implicit
// TLS; any other port requires STARTTLS. A client that cannot be built leaves
// the mailer disabled.
func NewMailer(cfg SMTPConfig, retry RetryConfig, logger *zap.Logger) *Mailer {
	cfg = withDefaults(cfg)
	var sender Sender
	if cfg.Enabled() {
		client, err := newClient(cfg)
		if err != nil {
			logger.Warn("email alerts disabled: invalid SMTP settings", zap.Error(err))
		} else {
			sender = client
		}
	}
	return NewMailerWithSender(cfg, retry, sender, logger)
}

// NewMailerWithSender creates a mailer with a custom transport.
func NewMailerWithSender(cfg SMTPConfig, retry RetryConfig, sender Sender, logger *zap.Logger) *Mailer {
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 1
	}
	if retry.BackoffFactor < 1 {
		retry.BackoffFactor = 1
	}
	return &Mailer{cfg: withDefaults(cfg), retry: retry, sender: sender, logger: logger}
}

func withDefaults(cfg SMTPConfig) SMTPConfig {
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return cfg
}

func newClient(cfg SMTPConfig) (*mail.Client, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(cfg.Username),
		mail.WithPassword(cfg.Password),
		mail.WithTimeout(cfg.Timeout),
		mail.WithDialContextFunc(deadlineDialer(cfg.Host, cfg.Port == implicitTLS)),
	}
	if cfg.Port == implicitTLS {
		opts = append(opts, mail.WithSSL())
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	}
	return mail.NewClient(cfg.Host, opts...)
}

// deadlineDialer copies the dial context's deadline onto the connection, so a
// server that accepts and then stalls cannot hold the caller past it. The dial
// context carries the caller's deadline capped by the client timeout.
func deadlineDialer(host string, useTLS bool) mail.DialContextFunc {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		dial := (&net.Dialer{}).DialContext
		if useTLS {
			dial = (&tls.Dialer{Config: &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}}).DialContext
		}
		conn, err := dial(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		if deadline, ok := ctx.Deadline(); ok {
			if err := conn.SetDeadline(deadline); err != nil {
				conn.Close()
				return nil, err
			}
		}
		return conn, nil
	}
}

// Enabled reports whether Send will try to deliver.
func (m *Mailer) Enabled() bool {
	return m.cfg.Enabled() && m.sender != nil
}

// Send delivers the alert to every configured recipient. Each attempt is
// bounded by ctx.
func (m *Mailer) Send(ctx context.Context, subject, body string) error {
	if !m.Enabled() {
		return ErrDisabled
	}

	msg, err := m.buildMessage(subject, body)
	if err != nil {
		return err
	}

	var lastErr error
	backoff := m.retry.InitialBackoff

	for attempt := 1; attempt <= m.retry.MaxAttempts; attempt++ {
		lastErr = m.sender.DialAndSendWithContext(ctx, msg)
		if lastErr == nil {
			m.logger.Info("alert email sent", zap.Strings("to", m.cfg.To), zap.Int("attempt", attempt))
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("alert email abandoned: %w", ctx.Err())
		}

		if attempt == m.retry.MaxAttempts {
			break
		}
		m.logger.Warn("alert email failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(lastErr),
		)

		select {
		case <-time.After(backoff):
			backoff = time.Duration(float64(backoff) * m.retry.BackoffFactor)
			if backoff > m.retry.MaxBackoff {
				backoff = m.retry.MaxBackoff
			}
		case <-ctx.Done():
			return fmt.Errorf("alert email abandoned: %w", ctx.Err())
		}
	}

	return fmt.Errorf("alert email failed after %d attempts: %w", m.retry.MaxAttempts, lastErr)
}

func (m *Mailer) buildMessage(subject, body string) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(m.cfg.From); err != nil {
		return nil, fmt.Errorf("invalid sender address: %w", err)
	}
	if err := msg.To(m.cfg.To...); err != nil {
		return nil, fmt.Errorf("invalid recipient address: %w", err)
	}
	msg.Subject(sanitizeHeader(subject))
	msg.SetBodyString(mail.TypeTextPlain, body)
	return msg, nil
}

func sanitizeHeader(v string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(v)
}
