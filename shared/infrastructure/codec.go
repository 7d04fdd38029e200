package infrastructure

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/agrifood/contract-system/shared/events"
	"github.com/agrifood/contract-system/shared/models"
)

// Metadata keys set by the subscriber; never forwarded on publish
const (
	SQSMessageIDKey     = "sqs_message_id"
	SQSReceiptHandleKey = "sqs_receipt_handle"
	SQSReceiveCountKey  = "sqs_receive_count"
)

// wireMessage is the JSON body exchanged over SNS and SQS
type wireMessage struct {
	ID            string          `json:"id"`
	AggregateID   string          `json:"aggregate_id"`
	Topic         string          `json:"topic"`
	Version       string          `json:"version"`
	Payload       json.RawMessage `json:"payload"`
	Metadata      events.Metadata `json:"metadata,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

// snsNotification is the envelope SNS wraps around messages delivered to
// SQS when raw message delivery is disabled.
type snsNotification struct {
	Type    string `json:"Type"`
	Message string `json:"Message"`
}

func encodeEvent(event *events.Event) ([]byte, error) {
	payload, err := event.MarshalPayload()
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal payload")
	}

	metadata := make(events.Metadata, len(event.Metadata))
	for k, v := range event.Metadata {
		if isTransportKey(k) {
			continue
		}
		metadata[k] = v
	}

	return json.Marshal(&wireMessage{
		ID:            event.ID.String(),
		AggregateID:   event.AggregateID.String(),
		Topic:         event.Topic.String(),
		Version:       event.Version,
		Payload:       payload,
		Metadata:      metadata,
		Timestamp:     event.Timestamp,
		CorrelationID: event.CorrelationID.String(),
	})
}

func decodeEvent(body []byte) (*events.Event, error) {
	var envelope snsNotification
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Type == "Notification" {
		body = []byte(envelope.Message)
	}

	var msg wireMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, errors.Wrap(err, "failed to decode message body")
	}

	topic, err := events.NewTopic(msg.Topic)
	if err != nil {
		return nil, err
	}

	metadata := msg.Metadata
	if metadata == nil {
		metadata = make(events.Metadata)
	}

	return &events.Event{
		ID:            models.ID(msg.ID),
		AggregateID:   models.ID(msg.AggregateID),
		Topic:         topic,
		Version:       msg.Version,
		Data:          msg.Payload,
		Metadata:      metadata,
		Timestamp:     msg.Timestamp,
		CorrelationID: models.ID(msg.CorrelationID),
	}, nil
}

func isTransportKey(key string) bool {
	switch key {
	case SQSMessageIDKey, SQSReceiptHandleKey, SQSReceiveCountKey:
		return true
	}
	return false
}
