package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/agrifood/contract-system/shared/events"
)

// MockPublisher is a testify mock of events.Publisher. Variadic events are
// matched one argument per event.
type MockPublisher struct {
	mock.Mock
}

type MockPublisher_Expecter struct {
	mock *mock.Mock
}

func (m *MockPublisher) EXPECT() *MockPublisher_Expecter {
	return &MockPublisher_Expecter{mock: &m.Mock}
}

func (m *MockPublisher) Publish(ctx context.Context, evts ...*events.Event) error {
	args := make([]any, 0, len(evts)+1)
	args = append(args, ctx)
	for _, event := range evts {
		args = append(args, event)
	}
	return m.Called(args...).Error(0)
}

func (e *MockPublisher_Expecter) Publish(ctx any, evts ...any) *mock.Call {
	return e.mock.On("Publish", append([]any{ctx}, evts...)...)
}

// NewMockPublisher creates a MockPublisher that asserts its expectations
// when the test ends.
func NewMockPublisher(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockPublisher {
	m := &MockPublisher{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}
