package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"brassradar/models"
)

type EmailConfig struct {
	Host string
	Port int
	User string
	Pass string
	From string
	To   string
}

func (c EmailConfig) Complete() bool {
	return c.Host != "" && c.User != "" && c.Pass != "" && c.From != "" && c.To != ""
}

// Email sends plain-text mail over implicit TLS.
type Email struct {
	cfg EmailConfig
}

func NewEmail(cfg EmailConfig) *Email {
	if cfg.Port == 0 {
		cfg.Port = 465
	}
	return &Email{cfg: cfg}
}

func (e *Email) Name() string { return "email" }

func (e *Email) Deliver(ctx context.Context, msg models.Notification) error {
	addr := net.JoinHostPort(e.cfg.Host, strconv.Itoa(e.cfg.Port))
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: 15 * time.Second},
		Config:    &tls.Config{ServerName: e.cfg.Host},
	}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, e.cfg.Host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if err := c.Auth(smtp.PlainAuth("", e.cfg.User, e.cfg.Pass, e.cfg.Host)); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if err := c.Mail(e.cfg.From); err != nil {
		return err
	}
	if err := c.Rcpt(e.cfg.To); err != nil {
		return err
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(composeMail(e.cfg.From, e.cfg.To, msg)); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

func composeMail(from, to string, msg models.Notification) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + msg.Title + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body(), "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}
