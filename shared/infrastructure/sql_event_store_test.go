package infrastructure

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/agrifood/contract-system/shared/events"
	"github.com/agrifood/contract-system/shared/models"
)

func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()

	db, err := sqlx.Connect("sqlite", ":memory:")
	require.NoError(t, err)
	// every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(EventStoreSchema)
	require.NoError(t, err)
	return db
}

func TestSQLEventStore_SaveAndGetEvents(t *testing.T) {
	ctx := context.Background()
	store := NewSQLEventStore(newTestDB(t))
	aggregateID := models.GenerateUUID()
	sagaID := models.GenerateUUID()

	first := events.NewEvent(aggregateID, events.SagaStartedEvent, map[string]string{"saga": "contract-creation"}).
		WithCorrelationID(sagaID).
		WithMetadata(events.MetadataSagaID, sagaID.String()).
		WithMetadata(SQSReceiptHandleKey, "should-not-be-stored")
	second := events.NewEvent(aggregateID, events.SagaCompletedEvent, map[string]string{"status": "completed"})

	require.NoError(t, store.SaveEvents(ctx, aggregateID, []*events.Event{first, second}, 0))

	stored, err := store.GetEvents(ctx, aggregateID)
	require.NoError(t, err)
	require.Len(t, stored, 2)

	assert.Equal(t, first.ID, stored[0].ID)
	assert.Equal(t, events.SagaStartedEvent, stored[0].Topic)
	assert.Equal(t, sagaID, stored[0].CorrelationID)
	assert.Equal(t, sagaID.String(), stored[0].Metadata[events.MetadataSagaID])
	assert.False(t, stored[0].Metadata.Has(SQSReceiptHandleKey))
	assert.WithinDuration(t, first.Timestamp, stored[0].Timestamp, time.Millisecond)

	var payload map[string]string
	require.NoError(t, stored[1].UnmarshalPayload(&payload))
	assert.Equal(t, "completed", payload["status"])
	assert.IsType(t, json.RawMessage{}, stored[1].Data)
}

func TestSQLEventStore_VersionConflict(t *testing.T) {
	ctx := context.Background()
	store := NewSQLEventStore(newTestDB(t))
	aggregateID := models.GenerateUUID()

	require.NoError(t, store.SaveEvents(ctx, aggregateID, []*events.Event{
		events.NewEvent(aggregateID, events.SagaStartedEvent, nil),
	}, 0))

	err := store.SaveEvents(ctx, aggregateID, []*events.Event{
		events.NewEvent(aggregateID, events.SagaCompletedEvent, nil),
	}, 0)
	assert.ErrorIs(t, err, events.ErrVersionConflict)

	// negative expected version appends unconditionally
	require.NoError(t, store.SaveEvents(ctx, aggregateID, []*events.Event{
		events.NewEvent(aggregateID, events.SagaCompletedEvent, nil),
	}, -1))

	stored, err := store.GetEvents(ctx, aggregateID)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestSQLEventStore_GetEventsByTopic(t *testing.T) {
	ctx := context.Background()
	store := NewSQLEventStore(newTestDB(t))

	for i := 0; i < 3; i++ {
		aggregateID := models.GenerateUUID()
		require.NoError(t, store.SaveEvents(ctx, aggregateID, []*events.Event{
			events.NewEvent(aggregateID, events.SagaCompensationFailedEvent, map[string]int{"n": i}),
			events.NewEvent(aggregateID, events.SagaCompensatedEvent, nil),
		}, -1))
	}

	page, err := store.GetEventsByTopic(ctx, events.SagaCompensationFailedEvent, 1, 10)
	require.NoError(t, err)
	assert.Len(t, page, 2)
	for _, event := range page {
		assert.Equal(t, events.SagaCompensationFailedEvent, event.Topic)
	}

	empty, err := store.GetEventsByTopic(ctx, events.ContractSignedEvent, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSQLEventStore_SaveNothing(t *testing.T) {
	store := NewSQLEventStore(newTestDB(t))
	assert.NoError(t, store.SaveEvents(context.Background(), models.GenerateUUID(), nil, 0))
}
