package infrastructure

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"

	"github.com/agrifood/contract-system/shared/events"
	"github.com/agrifood/contract-system/shared/telemetry"
)

var _ events.Subscriber = (*SQSEventSubscriber)(nil)

var ErrSubscriberRunning = errors.New("subscriber is already running")

type sqsMessage struct {
	Message types.Message
	Event   *events.Event
	Err     error
}

// SQSEventSubscriber consumes events from an SQS queue.
//
// Readers long-poll the queue, workers run the handler and cleaners delete
// handled messages or push back the visibility timeout of failed ones so
// SQS redelivers them later.
type SQSEventSubscriber struct {
	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool

	client   SQSAPI
	queueURL string
	logger   *slog.Logger
	options  sqsSubscriberOptions
}

type sqsSubscriberOptions struct {
	workers                        int
	readers                        int
	cleaners                       int
	maxNumberOfMessages            int32
	waitTimeSeconds                int32
	visibilityTimeout              int32
	sleepTimeAfterEmptyReceive     time.Duration
	sleepTimeAfterError            time.Duration
	extendVisibilityTimeoutOnError bool
	receiveCountRange              int32
	visibilityTimeoutOffset        int32
	maxVisibilityTimeout           int32
}

type SQSSubscriberOption func(*sqsSubscriberOptions)

func WithWorkers(workers int) SQSSubscriberOption {
	return func(o *sqsSubscriberOptions) {
		o.workers = workers
	}
}

func WithReaders(readers int) SQSSubscriberOption {
	return func(o *sqsSubscriberOptions) {
		o.readers = readers
	}
}

func WithVisibilityTimeout(seconds int32) SQSSubscriberOption {
	return func(o *sqsSubscriberOptions) {
		o.visibilityTimeout = seconds
	}
}

func WithWaitTime(seconds int32) SQSSubscriberOption {
	return func(o *sqsSubscriberOptions) {
		o.waitTimeSeconds = seconds
	}
}

// WithPollBackoff sets the pauses after an empty receive and after a
// receive error.
func WithPollBackoff(empty, onError time.Duration) SQSSubscriberOption {
	return func(o *sqsSubscriberOptions) {
		o.sleepTimeAfterEmptyReceive = empty
		o.sleepTimeAfterError = onError
	}
}

// NewSQSEventSubscriber creates a new SQS event subscriber
func NewSQSEventSubscriber(client SQSAPI, queueURL string, logger *slog.Logger, opts ...SQSSubscriberOption) *SQSEventSubscriber {
	options := sqsSubscriberOptions{
		workers:                        10,
		readers:                        1,
		cleaners:                       2,
		maxNumberOfMessages:            5,
		waitTimeSeconds:                15,
		visibilityTimeout:              30,
		sleepTimeAfterEmptyReceive:     time.Second,
		sleepTimeAfterError:            20 * time.Second,
		extendVisibilityTimeoutOnError: true,
		receiveCountRange:              3,
		visibilityTimeoutOffset:        30,
		maxVisibilityTimeout:           900,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &SQSEventSubscriber{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
		options:  options,
	}
}

// Subscribe starts consuming and hands every event whose topic matches
// pattern to handler. Non-matching events are acknowledged untouched.
// A subscriber serves a single subscription.
func (s *SQSEventSubscriber) Subscribe(ctx context.Context, pattern events.Topic, handler events.EventHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrSubscriberRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	inbound := make(chan *sqsMessage, s.options.workers)
	outbound := make(chan *sqsMessage, s.options.workers)

	s.spawn(s.options.readers, func() { s.startReader(ctx, inbound) })
	s.spawn(s.options.workers, func() { s.startWorker(ctx, pattern, handler, inbound, outbound) })
	s.spawn(s.options.cleaners, func() { s.startCleaner(ctx, outbound) })

	s.logger.InfoContext(ctx, "sqs_subscriber_started",
		slog.String("queue_url", s.queueURL),
		slog.String("pattern", pattern.String()),
	)

	return nil
}

func (s *SQSEventSubscriber) spawn(n int, fn func()) {
	for i := 0; i < n; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			fn()
		}()
	}
}

// Close stops every goroutine and waits for in-flight messages
func (s *SQSEventSubscriber) Close() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.cancel()
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

func (s *SQSEventSubscriber) startReader(ctx context.Context, inbound chan<- *sqsMessage) {
	for ctx.Err() == nil {
		received, err := s.read(ctx, inbound)
		switch {
		case err != nil && ctx.Err() == nil:
			s.logger.ErrorContext(ctx, "sqs_receive_failed", slog.String("error", err.Error()))
			sleep(ctx, s.options.sleepTimeAfterError)
		case err == nil && received == 0:
			sleep(ctx, s.options.sleepTimeAfterEmptyReceive)
		}
	}
}

func (s *SQSEventSubscriber) startWorker(ctx context.Context, pattern events.Topic, handler events.EventHandler, inbound <-chan *sqsMessage, outbound chan<- *sqsMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case message := <-inbound:
			if message.Event.Topic.Matches(pattern) {
				message.Err = s.handle(ctx, handler, message.Event)
			}
			select {
			case outbound <- message:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *SQSEventSubscriber) startCleaner(ctx context.Context, outbound <-chan *sqsMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case message := <-outbound:
			if err := s.clean(ctx, message); err != nil {
				s.logger.ErrorContext(ctx, "sqs_clean_failed",
					slog.String("message_id", aws.ToString(message.Message.MessageId)),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func (s *SQSEventSubscriber) read(ctx context.Context, inbound chan<- *sqsMessage) (int, error) {
	output, err := s.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(s.queueURL),
		MaxNumberOfMessages: s.options.maxNumberOfMessages,
		WaitTimeSeconds:     s.options.waitTimeSeconds,
		VisibilityTimeout:   s.options.visibilityTimeout,
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
		},
		MessageAttributeNames: []string{"All"},
	})
	if err != nil {
		return 0, errors.Wrap(err, "failed to receive message from SQS")
	}

	for _, message := range output.Messages {
		event, err := decodeEvent([]byte(aws.ToString(message.Body)))
		if err != nil {
			// left on the queue; the redrive policy moves it to the DLQ
			s.logger.WarnContext(ctx, "sqs_message_malformed",
				slog.String("message_id", aws.ToString(message.MessageId)),
				slog.String("error", err.Error()),
			)
			continue
		}

		event.Metadata[SQSMessageIDKey] = aws.ToString(message.MessageId)
		event.Metadata[SQSReceiptHandleKey] = aws.ToString(message.ReceiptHandle)
		if count, ok := message.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)]; ok {
			event.Metadata[SQSReceiveCountKey] = count
		}
		for k, v := range message.MessageAttributes {
			if v.StringValue != nil && !event.Metadata.Has(k) {
				event.Metadata[k] = *v.StringValue
			}
		}

		select {
		case inbound <- &sqsMessage{Message: message, Event: event}:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	return len(output.Messages), nil
}

func (s *SQSEventSubscriber) handle(ctx context.Context, handler events.EventHandler, event *events.Event) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("handler panic: %v", r)
		}

		result := "success"
		if err != nil {
			result = "error"
			s.logger.ErrorContext(ctx, "event_handling_failed",
				slog.String("event_id", event.ID.String()),
				slog.String("topic", event.Topic.String()),
				slog.String("error", err.Error()),
			)
		}
		telemetry.RecordCounter(ctx, "events_consumed_total", "Events consumed from SQS", 1,
			attribute.String("topic", event.Topic.String()),
			attribute.String("result", result),
		)
		telemetry.RecordHistogram(ctx, "event_handling_duration_seconds", "Event handling duration", time.Since(start).Seconds(),
			attribute.String("topic", event.Topic.String()),
		)
	}()

	return handler.Handle(ctx, event)
}

func (s *SQSEventSubscriber) clean(ctx context.Context, message *sqsMessage) error {
	if message.Err == nil {
		_, err := s.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      aws.String(s.queueURL),
			ReceiptHandle: message.Message.ReceiptHandle,
		})
		return errors.Wrap(err, "failed to delete message from SQS")
	}

	if !s.options.extendVisibilityTimeoutOnError {
		return nil
	}

	_, err := s.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(s.queueURL),
		ReceiptHandle:     message.Message.ReceiptHandle,
		VisibilityTimeout: s.backoffVisibility(message.Event.Metadata[SQSReceiveCountKey]),
	})
	return errors.Wrap(err, "failed to extend visibility timeout")
}

// backoffVisibility grows the visibility timeout every receiveCountRange
// deliveries, capped at maxVisibilityTimeout.
func (s *SQSEventSubscriber) backoffVisibility(receiveCount string) int32 {
	count, err := strconv.Atoi(receiveCount)
	if err != nil {
		count = 1
	}
	timeout := s.options.visibilityTimeout + (int32(count)/s.options.receiveCountRange)*s.options.visibilityTimeoutOffset
	return min(timeout, s.options.maxVisibilityTimeout)
}

func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
