package notify

import (
	"context"
	"log/slog"

	"github.com/jmakela/tome/pkg/api"
)

// LoggingSink writes notifications to a structured log instead of sending
// them anywhere. It is the default sink for development and the CLI's
// memory backend.
type LoggingSink struct {
	logger *slog.Logger
}

var _ api.NotificationSink = (*LoggingSink)(nil)

// NewLoggingSink returns a sink logging at Info level. If logger is nil,
// slog.Default() is used.
func NewLoggingSink(logger *slog.Logger) *LoggingSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingSink{logger: logger}
}

func (s *LoggingSink) Notify(ctx context.Context, n api.Notification) error {
	attrs := []slog.Attr{
		slog.String("session_id", n.SessionID),
		slog.String("subject", n.Subject),
	}
	if n.Attachment != nil {
		attrs = append(attrs,
			slog.String("attachment", n.Attachment.Filename),
			slog.Int("attachment_bytes", len(n.Attachment.Content)),
		)
	}
	s.logger.LogAttrs(ctx, slog.LevelInfo, "notification", attrs...)
	return nil
}
