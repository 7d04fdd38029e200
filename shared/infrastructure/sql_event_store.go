package infrastructure

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/agrifood/contract-system/shared/events"
	"github.com/agrifood/contract-system/shared/models"
)

var _ events.EventStore = (*SQLEventStore)(nil)

// EventStoreSchema creates the event_stream table. It is valid for both
// PostgreSQL and SQLite.
const EventStoreSchema = `
CREATE TABLE IF NOT EXISTS event_stream (
	id             TEXT PRIMARY KEY,
	aggregate_id   TEXT NOT NULL,
	topic          TEXT NOT NULL,
	version        TEXT NOT NULL,
	data           TEXT NOT NULL,
	metadata       TEXT NOT NULL,
	occurred_at    TIMESTAMP NOT NULL,
	correlation_id TEXT NOT NULL DEFAULT '',
	stream_version INTEGER NOT NULL,
	UNIQUE (aggregate_id, stream_version)
);
CREATE INDEX IF NOT EXISTS idx_event_stream_topic ON event_stream (topic, occurred_at);
`

// SQLEventStore implements EventStore on top of sqlx. Queries are written
// with "?" placeholders and rebound for the driver in use.
type SQLEventStore struct {
	db *sqlx.DB
}

// NewSQLEventStore creates a new SQLEventStore
func NewSQLEventStore(db *sqlx.DB) *SQLEventStore {
	return &SQLEventStore{db: db}
}

type sqlEvent struct {
	ID            string    `db:"id"`
	AggregateID   string    `db:"aggregate_id"`
	Topic         string    `db:"topic"`
	Version       string    `db:"version"`
	Data          string    `db:"data"`
	Metadata      string    `db:"metadata"`
	OccurredAt    time.Time `db:"occurred_at"`
	CorrelationID string    `db:"correlation_id"`
	StreamVersion int       `db:"stream_version"`
}

// SaveEvents appends events to the aggregate stream
func (es *SQLEventStore) SaveEvents(ctx context.Context, aggregateID models.ID, evts []*events.Event, expectedVersion int) error {
	if len(evts) == 0 {
		return nil
	}

	tx, err := es.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	var currentVersion int
	err = tx.GetContext(ctx, &currentVersion,
		tx.Rebind("SELECT COALESCE(MAX(stream_version), 0) FROM event_stream WHERE aggregate_id = ?"),
		aggregateID.String())
	if err != nil {
		return errors.Wrap(err, "failed to get current version")
	}

	if expectedVersion >= 0 && currentVersion != expectedVersion {
		return errors.Wrapf(events.ErrVersionConflict, "expected version %d, got %d", expectedVersion, currentVersion)
	}

	query := `
		INSERT INTO event_stream (
			id, aggregate_id, topic, version, data, metadata,
			occurred_at, correlation_id, stream_version
		) VALUES (
			:id, :aggregate_id, :topic, :version, :data, :metadata,
			:occurred_at, :correlation_id, :stream_version
		)`

	for i, event := range evts {
		row, err := toSQLEvent(aggregateID, event, currentVersion+i+1)
		if err != nil {
			return err
		}
		if _, err := tx.NamedExecContext(ctx, query, row); err != nil {
			return errors.Wrap(err, "failed to insert event")
		}
	}

	return errors.Wrap(tx.Commit(), "failed to commit events")
}

// GetEvents retrieves all events for an aggregate in stream order
func (es *SQLEventStore) GetEvents(ctx context.Context, aggregateID models.ID) ([]*events.Event, error) {
	query := es.db.Rebind(`
		SELECT id, aggregate_id, topic, version, data, metadata,
			   occurred_at, correlation_id, stream_version
		FROM event_stream
		WHERE aggregate_id = ?
		ORDER BY stream_version ASC`)

	var rows []sqlEvent
	if err := es.db.SelectContext(ctx, &rows, query, aggregateID.String()); err != nil {
		return nil, errors.Wrap(err, "failed to get events")
	}

	return toDomainEvents(rows)
}

// GetEventsByTopic retrieves events of one topic with pagination
func (es *SQLEventStore) GetEventsByTopic(ctx context.Context, topic events.Topic, offset, limit int) ([]*events.Event, error) {
	query := es.db.Rebind(`
		SELECT id, aggregate_id, topic, version, data, metadata,
			   occurred_at, correlation_id, stream_version
		FROM event_stream
		WHERE topic = ?
		ORDER BY occurred_at ASC, stream_version ASC
		LIMIT ? OFFSET ?`)

	var rows []sqlEvent
	if err := es.db.SelectContext(ctx, &rows, query, topic.String(), limit, offset); err != nil {
		return nil, errors.Wrap(err, "failed to get events by topic")
	}

	return toDomainEvents(rows)
}

func toSQLEvent(aggregateID models.ID, event *events.Event, streamVersion int) (*sqlEvent, error) {
	data, err := event.MarshalPayload()
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal event data")
	}

	metadata := make(events.Metadata, len(event.Metadata))
	for k, v := range event.Metadata {
		if !isTransportKey(k) {
			metadata[k] = v
		}
	}
	rawMetadata, err := json.Marshal(metadata)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal event metadata")
	}

	return &sqlEvent{
		ID:            event.ID.String(),
		AggregateID:   aggregateID.String(),
		Topic:         event.Topic.String(),
		Version:       event.Version,
		Data:          string(data),
		Metadata:      string(rawMetadata),
		OccurredAt:    event.Timestamp.UTC(),
		CorrelationID: event.CorrelationID.String(),
		StreamVersion: streamVersion,
	}, nil
}

func toDomainEvents(rows []sqlEvent) ([]*events.Event, error) {
	out := make([]*events.Event, len(rows))
	for i, row := range rows {
		var metadata events.Metadata
		if err := json.Unmarshal([]byte(row.Metadata), &metadata); err != nil {
			return nil, errors.Wrapf(err, "failed to unmarshal metadata of event %s", row.ID)
		}
		if metadata == nil {
			metadata = make(events.Metadata)
		}

		out[i] = &events.Event{
			ID:            models.ID(row.ID),
			AggregateID:   models.ID(row.AggregateID),
			Topic:         events.Topic(row.Topic),
			Version:       row.Version,
			Data:          json.RawMessage(row.Data),
			Metadata:      metadata,
			Timestamp:     row.OccurredAt.UTC(),
			CorrelationID: models.ID(row.CorrelationID),
		}
	}
	return out, nil
}
