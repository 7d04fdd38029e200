package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/agrifood/contract-system/shared/events"
	"github.com/agrifood/contract-system/shared/models"
)

// MockEventStore is a testify mock of events.EventStore
type MockEventStore struct {
	mock.Mock
}

type MockEventStore_Expecter struct {
	mock *mock.Mock
}

func (m *MockEventStore) EXPECT() *MockEventStore_Expecter {
	return &MockEventStore_Expecter{mock: &m.Mock}
}

func (m *MockEventStore) SaveEvents(ctx context.Context, aggregateID models.ID, evts []*events.Event, expectedVersion int) error {
	return m.Called(ctx, aggregateID, evts, expectedVersion).Error(0)
}

func (e *MockEventStore_Expecter) SaveEvents(ctx, aggregateID, evts, expectedVersion any) *mock.Call {
	return e.mock.On("SaveEvents", ctx, aggregateID, evts, expectedVersion)
}

func (m *MockEventStore) GetEvents(ctx context.Context, aggregateID models.ID) ([]*events.Event, error) {
	args := m.Called(ctx, aggregateID)
	evts, _ := args.Get(0).([]*events.Event)
	return evts, args.Error(1)
}

func (e *MockEventStore_Expecter) GetEvents(ctx, aggregateID any) *mock.Call {
	return e.mock.On("GetEvents", ctx, aggregateID)
}

func (m *MockEventStore) GetEventsByTopic(ctx context.Context, topic events.Topic, offset, limit int) ([]*events.Event, error) {
	args := m.Called(ctx, topic, offset, limit)
	evts, _ := args.Get(0).([]*events.Event)
	return evts, args.Error(1)
}

func (e *MockEventStore_Expecter) GetEventsByTopic(ctx, topic, offset, limit any) *mock.Call {
	return e.mock.On("GetEventsByTopic", ctx, topic, offset, limit)
}

// NewMockEventStore creates a MockEventStore that asserts its expectations
// when the test ends.
func NewMockEventStore(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockEventStore {
	m := &MockEventStore{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}
