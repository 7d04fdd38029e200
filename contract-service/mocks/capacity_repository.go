package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/agrifood/contract-system/contract-service/domain"
	"github.com/agrifood/contract-system/shared/models"
)

// MockCapacityRepository is a testify mock of domain.CapacityRepository
type MockCapacityRepository struct {
	mock.Mock
}

type MockCapacityRepository_Expecter struct {
	mock *mock.Mock
}

func (m *MockCapacityRepository) EXPECT() *MockCapacityRepository_Expecter {
	return &MockCapacityRepository_Expecter{mock: &m.Mock}
}

func (m *MockCapacityRepository) Reserve(ctx context.Context, reservationID models.ID, supplierID string, quantity int64) error {
	return m.Called(ctx, reservationID, supplierID, quantity).Error(0)
}

func (e *MockCapacityRepository_Expecter) Reserve(ctx, reservationID, supplierID, quantity any) *mock.Call {
	return e.mock.On("Reserve", ctx, reservationID, supplierID, quantity)
}

func (m *MockCapacityRepository) Release(ctx context.Context, reservationID models.ID) error {
	return m.Called(ctx, reservationID).Error(0)
}

func (e *MockCapacityRepository_Expecter) Release(ctx, reservationID any) *mock.Call {
	return e.mock.On("Release", ctx, reservationID)
}

func (m *MockCapacityRepository) FindBySupplier(ctx context.Context, supplierID string) (*domain.SupplierCapacity, error) {
	args := m.Called(ctx, supplierID)
	capacity, _ := args.Get(0).(*domain.SupplierCapacity)
	return capacity, args.Error(1)
}

func (e *MockCapacityRepository_Expecter) FindBySupplier(ctx, supplierID any) *mock.Call {
	return e.mock.On("FindBySupplier", ctx, supplierID)
}

func (m *MockCapacityRepository) FindReservation(ctx context.Context, reservationID models.ID) (*domain.Reservation, error) {
	args := m.Called(ctx, reservationID)
	reservation, _ := args.Get(0).(*domain.Reservation)
	return reservation, args.Error(1)
}

func (e *MockCapacityRepository_Expecter) FindReservation(ctx, reservationID any) *mock.Call {
	return e.mock.On("FindReservation", ctx, reservationID)
}

func (m *MockCapacityRepository) Adjust(ctx context.Context, supplierID string, total int64, status domain.SupplierStatus) (*domain.SupplierCapacity, error) {
	args := m.Called(ctx, supplierID, total, status)
	capacity, _ := args.Get(0).(*domain.SupplierCapacity)
	return capacity, args.Error(1)
}

func (e *MockCapacityRepository_Expecter) Adjust(ctx, supplierID, total, status any) *mock.Call {
	return e.mock.On("Adjust", ctx, supplierID, total, status)
}

// NewMockCapacityRepository creates a MockCapacityRepository that asserts
// its expectations when the test ends.
func NewMockCapacityRepository(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockCapacityRepository {
	m := &MockCapacityRepository{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}
