// Package notifications renders and delivers the group emails.
package notifications

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/smtp"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/topcoder-platform/forums-groups/pkg/forums/config"
	"github.com/topcoder-platform/forums-groups/pkg/forums/logger"
)

// Message is a single outgoing HTML email
type Message struct {
	To       []string
	Subject  string
	HTMLBody string
}

// Mailer delivers messages
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// NewMailer returns an SMTP mailer, or a logging mailer when mail is disabled
func NewMailer(cfg config.MailConfig, log *logger.Logger) Mailer {
	if log == nil {
		log = logger.Nop()
	}
	if !cfg.Enabled {
		return &LogMailer{log: log}
	}
	return NewSMTPMailer(cfg)
}

// SMTPMailer sends through a relay with PLAIN auth
type SMTPMailer struct {
	cfg      config.MailConfig
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPMailer(cfg config.MailConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg, sendMail: smtp.SendMail}
}

func (m *SMTPMailer) Send(_ context.Context, msg Message) error {
	if m.cfg.Host == "" || m.cfg.Port == 0 {
		return errors.New("invalid mail configuration: missing host or port")
	}
	if len(msg.To) == 0 {
		return errors.New("message has no recipients")
	}

	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	from := m.cfg.From
	if from == "" {
		from = m.cfg.Username
	}
	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)

	if err := m.sendMail(addr, auth, from, msg.To, buildMIME(from, msg)); err != nil {
		return fmt.Errorf("sending mail via %s: %w", addr, err)
	}
	return nil
}

func buildMIME(from string, msg Message) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + strings.Join(msg.To, ", ") + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", msg.Subject) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.HTMLBody)
	b.WriteString("\r\n")
	return []byte(b.String())
}

// LogMailer writes messages to the log instead of sending them
type LogMailer struct {
	log *logger.Logger
}

func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	m.log.InfoContext(ctx, "mail disabled, not sending",
		zap.Strings("to", msg.To),
		zap.String("subject", msg.Subject))
	return nil
}

// Recorder keeps sent messages in memory. Setting Err makes every send fail.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
	Err      error
}

func (r *Recorder) Send(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.messages = append(r.messages, msg)
	return nil
}

// Messages returns a copy of everything sent so far
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.messages))
	copy(out, r.messages)
	return out
}
