package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/trendfeed/pipeline/internal/trend"
)

// NoopSink logs notifications instead of delivering them. Used in
// development and as the default when no relay is configured.
type NoopSink struct {
	logger *zap.Logger
}

// NewNoopSink creates a NoopSink.
func NewNoopSink(logger *zap.Logger) *NoopSink {
	return &NoopSink{logger: logger}
}

// Send logs the notification and reports success.
func (s *NoopSink) Send(ctx context.Context, n trend.Notification) error {
	if len(n.Recipients) == 0 {
		return ErrNoRecipients
	}
	s.logger.Info("notification suppressed (noop sink)",
		zap.String("repo", n.RepoName),
		zap.String("subject", n.Subject),
		zap.Int("recipients", len(n.Recipients)),
	)
	return nil
}
