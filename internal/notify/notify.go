// Package notify delivers account emails.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// SMTPConfig describes an outgoing mail server.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTP sends plain-text mail through an SMTP relay.
type SMTP struct {
	cfg  SMTPConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTP creates an SMTP notifier.
func NewSMTP(cfg SMTPConfig) *SMTP {
	return &SMTP{cfg: cfg, send: smtp.SendMail}
}

// Send delivers one message to address.
func (s *SMTP) Send(ctx context.Context, address, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.ContainsAny(address, "\r\n") || strings.ContainsAny(subject, "\r\n") {
		return errors.New("send mail: header injection in address or subject")
	}

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}

	msg := "From: " + s.cfg.From + "\r\n" +
		"To: " + address + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/plain; charset=UTF-8\r\n" +
		"\r\n" + body + "\r\n"

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	if err := s.send(addr, auth, s.cfg.From, []string{address}, []byte(msg)); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

// Log writes messages to the logger instead of sending them. It is used
// when no SMTP relay is configured.
type Log struct {
	log *zap.Logger
}

// NewLog creates a Log notifier.
func NewLog(log *zap.Logger) *Log {
	return &Log{log: log}
}

// Send logs the message.
func (l *Log) Send(ctx context.Context, address, subject, body string) error {
	l.log.Info("outgoing email",
		zap.String("to", address),
		zap.String("subject", subject),
		zap.String("body", body),
	)
	return nil
}
