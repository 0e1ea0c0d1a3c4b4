// Package notify implements notification sinks: SMTP email, structured
// logging, and a fan-out over several sinks. Delivery is best-effort
// everywhere; failures come back as NotificationError and the workflow
// carries on without them.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/wneessen/go-mail"
	"github.com/yuin/goldmark"

	"github.com/jmakela/tome/pkg/api"
)

// SMTPConfig describes the mail account notifications are sent from.
// Username may be empty for relays that accept unauthenticated mail.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

// SMTPSink emails notifications. The markdown body is sent as plain text
// with an HTML alternative, and the attachment (when present) rides along
// as a file.
type SMTPSink struct {
	cfg    SMTPConfig
	client *mail.Client
	logger *slog.Logger
}

var _ api.NotificationSink = (*SMTPSink)(nil)

// NewSMTPSink validates cfg and prepares the mail client. Port defaults to
// 587. If logger is nil, slog.Default() is used.
func NewSMTPSink(cfg SMTPConfig, logger *slog.Logger) (*SMTPSink, error) {
	if cfg.Host == "" {
		return nil, errors.New("smtp host is required")
	}
	if cfg.From == "" {
		return nil, errors.New("smtp from address is required")
	}
	if len(cfg.To) == 0 {
		return nil, errors.New("at least one smtp recipient is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := []mail.Option{mail.WithPort(cfg.Port)}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to configure smtp client: %w", err)
	}
	return &SMTPSink{cfg: cfg, client: client, logger: logger}, nil
}

func (s *SMTPSink) Notify(ctx context.Context, n api.Notification) error {
	msg := mail.NewMsg()
	if err := msg.From(s.cfg.From); err != nil {
		return &api.NotificationError{Sink: "smtp", Err: err}
	}
	if err := msg.To(s.cfg.To...); err != nil {
		return &api.NotificationError{Sink: "smtp", Err: err}
	}
	msg.Subject(n.Subject)
	msg.SetBodyString(mail.TypeTextPlain, n.Body)

	if html, err := renderHTML(n.Body); err == nil {
		msg.AddAlternativeString(mail.TypeTextHTML, html)
	} else {
		s.logger.WarnContext(ctx, "markdown render failed, sending text only",
			slog.String("session_id", n.SessionID),
			slog.Any("error", err),
		)
	}

	if n.Attachment != nil {
		if err := msg.AttachReader(n.Attachment.Filename, bytes.NewReader(n.Attachment.Content)); err != nil {
			return &api.NotificationError{Sink: "smtp", Err: err}
		}
	}

	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		return &api.NotificationError{Sink: "smtp", Err: err}
	}
	s.logger.DebugContext(ctx, "notification sent",
		slog.String("session_id", n.SessionID),
		slog.String("subject", n.Subject),
	)
	return nil
}

// renderHTML converts a markdown notification body into the HTML
// alternative part.
func renderHTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(markdown), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
