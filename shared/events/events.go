package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/agrifood/contract-system/shared/models"
)

var (
	ErrInvalidTopic    = errors.New("invalid topic")
	ErrInvalidReceiver = errors.New("receiver should be a non-nil pointer")
	ErrVersionConflict = errors.New("event stream version conflict")
)

// Topic represents an event topic with pattern matching support.
//
// Patterns are dot separated. "*" matches exactly one segment and a
// leading or trailing "#" turns the rest of the pattern into a suffix or
// prefix match: "contract.#" matches every contract topic.
type Topic string

func NewTopic(topic string) (Topic, error) {
	if strings.TrimSpace(topic) == "" {
		return "", ErrInvalidTopic
	}
	return Topic(topic), nil
}

func (t Topic) Matches(pattern Topic) bool {
	topicStr := t.String()
	patternStr := pattern.String()

	if patternStr == "#" {
		return true
	}

	prefixed := strings.HasPrefix(patternStr, "#")
	suffixed := strings.HasSuffix(patternStr, "#")
	trimmed := strings.TrimSuffix(strings.TrimPrefix(patternStr, "#"), "#")

	switch {
	case prefixed && suffixed:
		return strings.Contains(topicStr, trimmed)
	case prefixed:
		return strings.HasSuffix(topicStr, trimmed)
	case suffixed:
		return strings.HasPrefix(topicStr, trimmed)
	}

	return matchSegments(strings.Split(patternStr, "."), strings.Split(topicStr, "."))
}

func (t Topic) String() string {
	return string(t)
}

func matchSegments(pattern, topic []string) bool {
	if len(pattern) != len(topic) {
		return false
	}
	for i := range pattern {
		if pattern[i] != "*" && pattern[i] != topic[i] {
			return false
		}
	}
	return true
}

// Metadata represents event metadata
type Metadata map[string]string

// Well-known metadata keys
const (
	MetadataSagaID    = "saga_id"
	MetadataRecipient = "recipient"
	MetadataActor     = "actor"
	MetadataSource    = "source"
	MetadataRoles     = "roles"
)

func (m Metadata) Get(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

func (m Metadata) Has(key string) bool {
	_, ok := m[key]
	return ok
}

// Matches reports whether every key of o is present in m with the same value
func (m Metadata) Matches(o Metadata) bool {
	for k, v := range o {
		if m[k] != v {
			return false
		}
	}
	return true
}

func (m Metadata) Clone() Metadata {
	clone := make(Metadata, len(m))
	for k, v := range m {
		clone[k] = v
	}
	return clone
}

// Event represents a domain event
type Event struct {
	ID            models.ID `json:"id"`
	AggregateID   models.ID `json:"aggregate_id"`
	Topic         Topic     `json:"topic"`
	Version       string    `json:"version"`
	Data          any       `json:"data"`
	Metadata      Metadata  `json:"metadata"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID models.ID `json:"correlation_id,omitempty"`
}

// Publisher publishes events
type Publisher interface {
	Publish(ctx context.Context, events ...*Event) error
}

// Subscriber subscribes to events
type Subscriber interface {
	Subscribe(ctx context.Context, pattern Topic, handler EventHandler) error
}

// EventHandler handles domain events
type EventHandler interface {
	Handle(ctx context.Context, event *Event) error
}

// EventHandlerFunc adapts a function to EventHandler
type EventHandlerFunc func(ctx context.Context, event *Event) error

func (f EventHandlerFunc) Handle(ctx context.Context, event *Event) error {
	return f(ctx, event)
}

// EventStore stores and retrieves events.
//
// SaveEvents appends to the aggregate stream only when its current version
// equals expectedVersion, otherwise it fails with ErrVersionConflict.
// Passing a negative expectedVersion appends unconditionally.
type EventStore interface {
	SaveEvents(ctx context.Context, aggregateID models.ID, events []*Event, expectedVersion int) error
	GetEvents(ctx context.Context, aggregateID models.ID) ([]*Event, error)
	GetEventsByTopic(ctx context.Context, topic Topic, offset, limit int) ([]*Event, error)
}

// NewEvent creates a new domain event
func NewEvent(aggregateID models.ID, topic Topic, data any) *Event {
	return &Event{
		ID:          models.GenerateUUID(),
		AggregateID: aggregateID,
		Topic:       topic,
		Version:     "1.0",
		Data:        data,
		Metadata:    make(Metadata),
		Timestamp:   time.Now().UTC(),
	}
}

// WithCorrelationID sets correlation ID
func (e *Event) WithCorrelationID(correlationID models.ID) *Event {
	e.CorrelationID = correlationID
	return e
}

// WithMetadata adds metadata
func (e *Event) WithMetadata(key string, value string) *Event {
	if e.Metadata == nil {
		e.Metadata = make(Metadata)
	}
	e.Metadata[key] = value
	return e
}

// ToJSON converts event to JSON
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON creates event from JSON
func FromJSON(data []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// MarshalPayload marshals the event payload
func (e *Event) MarshalPayload() (json.RawMessage, error) {
	switch b := e.Data.(type) {
	case json.RawMessage:
		return b, nil
	case []byte:
		return b, nil
	}
	return json.Marshal(e.Data)
}

// UnmarshalPayload decodes the event payload into v, which must be a pointer
func (e *Event) UnmarshalPayload(v any) error {
	if v == nil {
		return ErrInvalidReceiver
	}
	raw, err := e.MarshalPayload()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		var invalid *json.InvalidUnmarshalError
		if errors.As(err, &invalid) {
			return ErrInvalidReceiver
		}
		return err
	}
	return nil
}

// Matches checks if the event matches the given topic pattern and metadata
func (e *Event) Matches(pattern Topic, metadata Metadata) bool {
	return e.Topic.Matches(pattern) && e.Metadata.Matches(metadata)
}

// Clone creates a copy of the event
func (e *Event) Clone() *Event {
	clone := *e
	clone.Metadata = e.Metadata.Clone()
	return &clone
}
