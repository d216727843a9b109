package channel

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/upmon/upmon/internal/domain/check"
	"github.com/upmon/upmon/internal/domain/notification"
)

type SMTPConfig struct {
	Addr       string        `mapstructure:"addr"`
	From       string        `mapstructure:"from"`
	User       string        `mapstructure:"user"`
	Password   string        `mapstructure:"password"`
	UseTLS     bool          `mapstructure:"use_tls"`
	Timeout    time.Duration `mapstructure:"timeout"`
	SubjPrefix string        `mapstructure:"subj_prefix"`
}

// Email sends alert emails over SMTP.
type Email struct {
	addr       string
	auth       smtp.Auth
	useTLS     bool
	timeout    time.Duration
	from       string
	subjPrefix string

	log *zap.Logger
}

func NewEmail(cfg SMTPConfig, log *zap.Logger) *Email {
	var auth smtp.Auth
	if cfg.User != "" || cfg.Password != "" {
		auth = smtp.PlainAuth("", cfg.User, cfg.Password, host(cfg.Addr))
	}
	if log == nil {
		log = zap.L()
	}
	return &Email{
		addr:       cfg.Addr,
		auth:       auth,
		useTLS:     cfg.UseTLS,
		timeout:    cfg.Timeout,
		from:       cfg.From,
		subjPrefix: cfg.SubjPrefix,
		log:        log.With(zap.String("component", "channel.email")),
	}
}

func (m *Email) Send(ctx context.Context, n *notification.Notification, snap notification.CheckSnapshot, a *notification.Alert) error {
	to := strings.TrimSpace(n.Email)
	if to == "" || !strings.Contains(to, "@") {
		return Permanent(fmt.Sprintf("notification %d has no usable email address", n.ID), nil)
	}

	subject, body := renderEmail(m.subjPrefix, n, snap, a)
	msg := []byte(
		"From: " + m.from + "\r\n" +
			"To: " + to + "\r\n" +
			"Subject: " + subject + "\r\n" +
			"Content-Type: text/plain; charset=utf-8\r\n" +
			"\r\n" + body + "\r\n")

	start := time.Now()
	log := m.log.With(
		zap.String("to", to),
		zap.Int64("check_id", snap.ID),
		zap.String("check_status", string(a.CheckStatus)),
	)

	if err := m.deliver(ctx, to, msg); err != nil {
		log.Warn("email send failed", zap.Error(err))
		return Transient("smtp send", err)
	}
	log.Info("email sent", zap.Duration("elapsed", time.Since(start)))
	return nil
}

// deliver runs one SMTP conversation under the caller's deadline. The
// connection deadline covers every read and write, so a server that stalls
// mid-dialogue surfaces as a timeout instead of wedging the worker.
func (m *Email) deliver(ctx context.Context, to string, msg []byte) error {
	dialer := net.Dialer{Timeout: m.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", m.addr)
	if err != nil {
		return err
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	} else if m.timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(m.timeout))
	}
	if m.useTLS {
		conn = tls.Client(conn, &tls.Config{ServerName: host(m.addr)})
	}

	c, err := smtp.NewClient(conn, host(m.addr))
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer func() { _ = c.Close() }()

	if !m.useTLS {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(&tls.Config{ServerName: host(m.addr)}); err != nil {
				return err
			}
		}
	}
	if m.auth != nil {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(m.auth); err != nil {
				return err
			}
		}
	}
	if err := c.Mail(m.from); err != nil {
		return err
	}
	if err := c.Rcpt(to); err != nil {
		return err
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err = w.Write(msg); err != nil {
		return err
	}
	return w.Close()
}

func renderEmail(prefix string, n *notification.Notification, snap notification.CheckSnapshot, a *notification.Alert) (subject, body string) {
	name := n.Name
	if name == "" {
		name = snap.Name
	}

	subject = strings.TrimSpace(fmt.Sprintf("%s [%s] %s", prefix, a.CheckStatus, name))

	lastPing := "never"
	if snap.LastPingAt != nil {
		lastPing = snap.LastPingAt.UTC().Format(time.RFC3339)
	}
	verb := "is back up"
	if a.CheckStatus == check.StatusDown {
		verb = "missed its expected ping"
	}
	body = fmt.Sprintf(
		"Hello!\n\nYour check %q %s.\nStatus: %s\nLast ping: %s\n\n-- upmon",
		name, verb, a.CheckStatus, lastPing,
	)
	return subject, body
}

func host(addr string) string {
	if i := strings.Index(addr, ":"); i >= 0 {
		return addr[:i]
	}
	return addr
}
