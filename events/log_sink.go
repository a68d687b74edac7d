package events

import (
	"context"
	"log/slog"

	"github.com/ruteri/confidential-loan-ledger/interfaces"
)

// LogSink writes events to the structured log.
type LogSink struct {
	log *slog.Logger
}

func NewLogSink(log *slog.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Publish(ctx context.Context, events []interfaces.Event) error {
	for _, ev := range events {
		attrs := []any{"seq", ev.Seq, "kind", ev.Kind}
		if ev.ApplicationID != 0 {
			attrs = append(attrs, "applicationID", ev.ApplicationID)
		}
		if ev.Category != "" {
			attrs = append(attrs, "category", ev.Category)
		}
		if ev.RequestID != "" {
			attrs = append(attrs, "requestID", ev.RequestID)
		}
		if ev.Kind == interfaces.EventCounterDecrypted {
			attrs = append(attrs, "count", ev.Count)
		}
		s.log.InfoContext(ctx, "Ledger event", attrs...)
	}
	return nil
}
