package notify

import (
	"context"
	"log/slog"
)

// LogSink writes notifications to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink returns a sink writing to logger, or the default logger if nil.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "notification")}
}

// Name returns the sink identifier.
func (l *LogSink) Name() string { return "log" }

// Validate always succeeds.
func (l *LogSink) Validate() error { return nil }

// Send logs the notification.
func (l *LogSink) Send(ctx context.Context, n Notification) error {
	l.logger.InfoContext(ctx, n.Title(),
		"incident_id", n.IncidentID,
		"message", n.Body(),
		"old_status", n.Old.String(),
		"new_status", n.New.String(),
	)
	return nil
}
