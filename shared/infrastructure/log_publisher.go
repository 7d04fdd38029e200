package infrastructure

import (
	"context"
	"log/slog"

	"github.com/agrifood/contract-system/shared/events"
)

var _ events.Publisher = (*LogEventPublisher)(nil)

// LogEventPublisher writes events to the log instead of a broker. Used when
// no SNS topic is configured, e.g. local runs on sqlite.
type LogEventPublisher struct {
	logger *slog.Logger
}

func NewLogEventPublisher(logger *slog.Logger) *LogEventPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEventPublisher{logger: logger}
}

func (p *LogEventPublisher) Publish(ctx context.Context, evts ...*events.Event) error {
	for _, event := range evts {
		payload, err := event.MarshalPayload()
		if err != nil {
			return err
		}
		p.logger.InfoContext(ctx, "event_published",
			slog.String("event_id", event.ID.String()),
			slog.String("topic", event.Topic.String()),
			slog.String("aggregate_id", event.AggregateID.String()),
			slog.Any("metadata", event.Metadata),
			slog.String("payload", string(payload)),
		)
	}
	return nil
}
