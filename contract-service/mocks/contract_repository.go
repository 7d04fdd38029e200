package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/agrifood/contract-system/contract-service/domain"
	"github.com/agrifood/contract-system/shared/models"
	"github.com/agrifood/contract-system/shared/saga"
)

// MockContractRepository is a testify mock of domain.ContractRepository
type MockContractRepository struct {
	mock.Mock
}

type MockContractRepository_Expecter struct {
	mock *mock.Mock
}

func (m *MockContractRepository) EXPECT() *MockContractRepository_Expecter {
	return &MockContractRepository_Expecter{mock: &m.Mock}
}

func (m *MockContractRepository) Save(ctx context.Context, contract *domain.Contract) error {
	return m.Called(ctx, contract).Error(0)
}

func (e *MockContractRepository_Expecter) Save(ctx, contract any) *mock.Call {
	return e.mock.On("Save", ctx, contract)
}

func (m *MockContractRepository) Update(ctx context.Context, contract *domain.Contract) error {
	return m.Called(ctx, contract).Error(0)
}

func (e *MockContractRepository_Expecter) Update(ctx, contract any) *mock.Call {
	return e.mock.On("Update", ctx, contract)
}

func (m *MockContractRepository) UpdateSagaStatus(ctx context.Context, id models.ID, status saga.Status) error {
	return m.Called(ctx, id, status).Error(0)
}

func (e *MockContractRepository_Expecter) UpdateSagaStatus(ctx, id, status any) *mock.Call {
	return e.mock.On("UpdateSagaStatus", ctx, id, status)
}

func (m *MockContractRepository) Delete(ctx context.Context, id models.ID) error {
	return m.Called(ctx, id).Error(0)
}

func (e *MockContractRepository_Expecter) Delete(ctx, id any) *mock.Call {
	return e.mock.On("Delete", ctx, id)
}

func (m *MockContractRepository) FindByID(ctx context.Context, id models.ID) (*domain.Contract, error) {
	args := m.Called(ctx, id)
	contract, _ := args.Get(0).(*domain.Contract)
	return contract, args.Error(1)
}

func (e *MockContractRepository_Expecter) FindByID(ctx, id any) *mock.Call {
	return e.mock.On("FindByID", ctx, id)
}

func (m *MockContractRepository) FindBySagaID(ctx context.Context, sagaID models.ID) (*domain.Contract, error) {
	args := m.Called(ctx, sagaID)
	contract, _ := args.Get(0).(*domain.Contract)
	return contract, args.Error(1)
}

func (e *MockContractRepository_Expecter) FindBySagaID(ctx, sagaID any) *mock.Call {
	return e.mock.On("FindBySagaID", ctx, sagaID)
}

func (m *MockContractRepository) List(ctx context.Context, filter domain.ContractFilter) ([]*domain.Contract, error) {
	args := m.Called(ctx, filter)
	contracts, _ := args.Get(0).([]*domain.Contract)
	return contracts, args.Error(1)
}

func (e *MockContractRepository_Expecter) List(ctx, filter any) *mock.Call {
	return e.mock.On("List", ctx, filter)
}

// NewMockContractRepository creates a MockContractRepository that asserts
// its expectations when the test ends.
func NewMockContractRepository(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockContractRepository {
	m := &MockContractRepository{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}
