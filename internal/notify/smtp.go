// Package notify delivers newsletter notifications to subscribers.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/trendfeed/pipeline/internal/trend"
)

// ErrNoRecipients is returned when a notification carries an empty
// recipient list.
var ErrNoRecipients = errors.New("notification has no recipients")

// SMTPConfig captures mail relay settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPSink sends notifications through an SMTP relay.
type SMTPSink struct {
	cfg  SMTPConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPSink validates the config and constructs an SMTPSink.
func NewSMTPSink(cfg SMTPConfig) (*SMTPSink, error) {
	if cfg.Host == "" || cfg.From == "" {
		return nil, errors.New("smtp host and from address are required")
	}
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	return &SMTPSink{cfg: cfg, send: smtp.SendMail}, nil
}

// Send delivers one notification to all recipients in a single message.
func (s *SMTPSink) Send(ctx context.Context, n trend.Notification) error {
	if len(n.Recipients) == 0 {
		return ErrNoRecipients
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	msg := buildMessage(s.cfg.From, n)
	if err := s.send(addr, auth, s.cfg.From, n.Recipients, msg); err != nil {
		return fmt.Errorf("send notification for %s: %w", n.RepoName, err)
	}
	return nil
}

func buildMessage(from string, n trend.Notification) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	// Recipients go in Bcc at the relay, keep the visible To minimal.
	b.WriteString("To: undisclosed-recipients:;\r\n")
	b.WriteString("Subject: " + n.Subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(n.HTMLBody)
	return []byte(b.String())
}
