package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
)

// SMTPMailer delivers mail through a plain SMTP relay (Mailpit locally).
type SMTPMailer struct {
	Addr string
	From string
}

// NewSMTPMailer constructs an SMTPMailer for host:port.
func NewSMTPMailer(host string, port int, from string) *SMTPMailer {
	return &SMTPMailer{Addr: fmt.Sprintf("%s:%d", host, port), From: from}
}

// Send delivers one message.
func (m *SMTPMailer) Send(_ context.Context, to, subject, body string) error {
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", m.From)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	msg.WriteString(body)
	msg.WriteString("\r\n")
	return smtp.SendMail(m.Addr, nil, m.From, []string{to}, []byte(msg.String()))
}

// LogMailer writes messages to the log instead of delivering them. Used in
// test mode.
type LogMailer struct {
	Logger *slog.Logger
}

// Send logs the message.
func (m LogMailer) Send(_ context.Context, to, subject, _ string) error {
	m.Logger.Info("mail suppressed", slog.String("to", to), slog.String("subject", subject))
	return nil
}
