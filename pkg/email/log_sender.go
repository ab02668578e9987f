package email

import (
	"context"
	"log/slog"
)

// LogSender writes emails to the log instead of delivering them.
// Used when Postmark is not configured.
type LogSender struct {
	log *slog.Logger
}

// NewLogSender returns a sender that logs every email at info level.
func NewLogSender(log *slog.Logger) *LogSender {
	return &LogSender{log: log}
}

func (s *LogSender) SendEmail(ctx context.Context, params SendEmailParams) error {
	if err := params.Validate(); err != nil {
		return err
	}
	s.log.InfoContext(ctx, "email not sent, delivery disabled",
		slog.String("to", params.SendTo),
		slog.String("subject", params.Subject),
		slog.String("tag", params.Tag))
	return nil
}
