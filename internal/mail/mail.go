// Package mail sends transactional email over SMTP. Callers hand it a
// fully-rendered message; templates live with the feature that owns them.
package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	gomail "net/mail"
	gosmtp "net/smtp"
	"strings"
	"time"

	"github.com/Plabrum/arive/internal/config"
)

type Message struct {
	To      []string
	Subject string
	Body    string
	HTML    bool
}

type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// New returns an SMTP-backed mailer, or a logging stub when no host is
// configured so local development works without a relay.
func New(cfg config.MailConfig) Mailer {
	if cfg.Host == "" {
		return &logMailer{}
	}
	return &smtpMailer{cfg: cfg}
}

type smtpMailer struct {
	cfg config.MailConfig
}

func (m *smtpMailer) Send(ctx context.Context, msg Message) error {
	from := gomail.Address{Name: m.cfg.FromName, Address: m.cfg.FromAddress}

	contentType := "text/plain"
	if msg.HTML {
		contentType = "text/html"
	}

	var raw strings.Builder
	raw.WriteString(fmt.Sprintf("From: %s\r\n", from.String()))
	raw.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(msg.To, ", ")))
	raw.WriteString(fmt.Sprintf("Subject: %s\r\n", msg.Subject))
	raw.WriteString(fmt.Sprintf("Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z)))
	raw.WriteString("MIME-Version: 1.0\r\n")
	raw.WriteString(fmt.Sprintf("Content-Type: %s; charset=UTF-8\r\n", contentType))
	raw.WriteString("\r\n")
	raw.WriteString(msg.Body)

	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	return m.sendStartTLS(ctx, addr, from.Address, msg.To, raw.String())
}

// sendStartTLS speaks STARTTLS (port 587 typical) and falls back to plain
// when the server does not advertise it, which covers local relays.
func (m *smtpMailer) sendStartTLS(ctx context.Context, addr, from string, to []string, raw string) error {
	d := net.Dialer{Timeout: 10 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", addr, err)
	}
	defer conn.Close()

	client, err := gosmtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		return fmt.Errorf("creating smtp client: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: m.cfg.Host}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}

	if m.cfg.Username != "" {
		auth := gosmtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp rcpt %s: %w", rcpt, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write([]byte(raw)); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close data: %w", err)
	}
	return client.Quit()
}

// logMailer writes outbound mail to the log instead of a relay.
type logMailer struct{}

func (l *logMailer) Send(_ context.Context, msg Message) error {
	slog.Info("mail (no relay configured)", "to", strings.Join(msg.To, ","), "subject", msg.Subject)
	return nil
}
