package infrastructure

import (
	"context"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/agrifood/contract-system/shared/events"
	"github.com/agrifood/contract-system/shared/telemetry"
)

var _ events.Publisher = (*SNSEventPublisher)(nil)

// maxBatchSize is the SNS PublishBatch entry limit
const maxBatchSize = 10

// SNSEventPublisher publishes events to an SNS topic in batches. The event
// topic travels as the "topic" message attribute so subscriptions can
// filter on it.
type SNSEventPublisher struct {
	client   SNSAPI
	topicArn string
	logger   *slog.Logger
}

// NewSNSEventPublisher creates a new SNSEventPublisher
func NewSNSEventPublisher(client SNSAPI, topicArn string, logger *slog.Logger) *SNSEventPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &SNSEventPublisher{
		client:   client,
		topicArn: topicArn,
		logger:   logger,
	}
}

// Publish publishes events to SNS, one PublishBatch call per chunk of ten
func (p *SNSEventPublisher) Publish(ctx context.Context, evts ...*events.Event) error {
	if len(evts) == 0 {
		return nil
	}

	gr, ctx := errgroup.WithContext(ctx)
	for _, batch := range splitToChunks(evts, maxBatchSize) {
		gr.Go(func() error {
			return p.batchPublish(ctx, batch)
		})
	}

	return gr.Wait()
}

func (p *SNSEventPublisher) batchPublish(ctx context.Context, batch []*events.Event) error {
	requests := make([]types.PublishBatchRequestEntry, len(batch))

	for i, event := range batch {
		body, err := encodeEvent(event)
		if err != nil {
			return err
		}

		attrs := map[string]types.MessageAttributeValue{
			"topic": {
				DataType:    aws.String("String"),
				StringValue: aws.String(event.Topic.String()),
			},
		}
		for k, v := range event.Metadata {
			if isTransportKey(k) || v == "" {
				continue
			}
			attrs[k] = types.MessageAttributeValue{
				DataType:    aws.String("String"),
				StringValue: aws.String(v),
			}
		}

		requests[i] = types.PublishBatchRequestEntry{
			Id:                aws.String(event.ID.String()),
			Message:           aws.String(string(body)),
			MessageAttributes: attrs,
		}
	}

	res, err := p.client.PublishBatch(ctx, &sns.PublishBatchInput{
		TopicArn:                   aws.String(p.topicArn),
		PublishBatchRequestEntries: requests,
	})
	if err != nil {
		for _, event := range batch {
			recordPublish(ctx, event, false)
		}
		return errors.Wrap(err, "failed to publish batch to SNS")
	}

	failed := make(map[string]string, len(res.Failed))
	for _, entry := range res.Failed {
		failed[aws.ToString(entry.Id)] = aws.ToString(entry.Message)
	}

	var failedIDs []string
	for _, event := range batch {
		reason, isFailed := failed[event.ID.String()]
		recordPublish(ctx, event, !isFailed)
		if isFailed {
			failedIDs = append(failedIDs, event.ID.String())
			p.logger.ErrorContext(ctx, "event_publish_failed",
				slog.String("event_id", event.ID.String()),
				slog.String("topic", event.Topic.String()),
				slog.String("error", reason),
			)
		}
	}

	if len(failedIDs) > 0 {
		return errors.Errorf("failed to publish %d of %d events: %s", len(failedIDs), len(batch), strings.Join(failedIDs, ","))
	}

	return nil
}

func recordPublish(ctx context.Context, event *events.Event, success bool) {
	result := "success"
	if !success {
		result = "error"
	}
	telemetry.RecordCounter(ctx, "events_published_total", "Events published to SNS", 1,
		attribute.String("topic", event.Topic.String()),
		attribute.String("result", result),
	)
}

// splitToChunks splits slice into chunks of specified size
func splitToChunks[T any](slice []T, chunkSize int) [][]T {
	var chunks [][]T
	for i := 0; i < len(slice); i += chunkSize {
		end := min(i+chunkSize, len(slice))
		chunks = append(chunks, slice[i:end])
	}
	return chunks
}
