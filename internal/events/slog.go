package events

import (
	"context"
	"log/slog"
)

// SlogSink writes every event to a structured logger.
type SlogSink struct {
	logger *slog.Logger
}

func NewSlogSink(logger *slog.Logger) *SlogSink {
	return &SlogSink{logger: logger}
}

func (s *SlogSink) Emit(ctx context.Context, event Event) {
	attrs := []any{
		slog.String("kind", string(event.Kind)),
		slog.String("source", event.Source),
		slog.String("service", event.Service),
	}
	if event.From != "" || event.To != "" {
		attrs = append(attrs,
			slog.String("from", event.From),
			slog.String("to", event.To),
			slog.Int("failure_count", event.FailureCount))
	}

	switch event.Severity {
	case SeverityError:
		s.logger.ErrorContext(ctx, event.Message, attrs...)
	case SeverityWarn:
		s.logger.WarnContext(ctx, event.Message, attrs...)
	default:
		s.logger.InfoContext(ctx, event.Message, attrs...)
	}
}
