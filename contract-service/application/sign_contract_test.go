package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/agrifood/contract-system/contract-service/domain"
	"github.com/agrifood/contract-system/contract-service/mocks"
	"github.com/agrifood/contract-system/shared/events"
	"github.com/agrifood/contract-system/shared/security"
)

func TestSignContract_Execute(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name          string
		roles         []security.Role
		status        domain.ContractStatus
		setupMocks    func(*domain.Contract, *mocks.MockContractRepository, *mocks.MockPublisher, *mocks.MockEventStore)
		expectedError error
	}{
		{
			name:   "supplier signs a draft",
			roles:  []security.Role{security.RoleSupplier},
			status: domain.ContractStatusDraft,
			setupMocks: func(c *domain.Contract, repo *mocks.MockContractRepository, publisher *mocks.MockPublisher, store *mocks.MockEventStore) {
				repo.EXPECT().FindByID(mock.Anything, c.ID).Return(c, nil).Once()
				repo.EXPECT().Update(mock.Anything, c).Return(nil).Once()
				publisher.EXPECT().Publish(mock.Anything, topicIs(events.ContractSignedEvent)).Return(nil).Once()
				store.EXPECT().SaveEvents(mock.Anything, c.ID, historyIs(events.ContractSignedEvent), -1).Return(nil).Once()
			},
		},
		{
			name:   "signed contract cannot be signed again",
			roles:  []security.Role{security.RoleBuyer},
			status: domain.ContractStatusSigned,
			setupMocks: func(c *domain.Contract, repo *mocks.MockContractRepository, publisher *mocks.MockPublisher, store *mocks.MockEventStore) {
				repo.EXPECT().FindByID(mock.Anything, c.ID).Return(c, nil).Once()
			},
			expectedError: domain.ErrInvalidTransition,
		},
		{
			name:   "concurrent update",
			roles:  []security.Role{security.RoleBuyer},
			status: domain.ContractStatusPending,
			setupMocks: func(c *domain.Contract, repo *mocks.MockContractRepository, publisher *mocks.MockPublisher, store *mocks.MockEventStore) {
				repo.EXPECT().FindByID(mock.Anything, c.ID).Return(c, nil).Once()
				repo.EXPECT().Update(mock.Anything, c).Return(domain.ErrConcurrentModification).Once()
			},
			expectedError: domain.ErrConcurrentModification,
		},
		{
			name:   "missing contract",
			roles:  []security.Role{security.RoleAdmin},
			status: domain.ContractStatusDraft,
			setupMocks: func(c *domain.Contract, repo *mocks.MockContractRepository, publisher *mocks.MockPublisher, store *mocks.MockEventStore) {
				repo.EXPECT().FindByID(mock.Anything, c.ID).Return(nil, domain.ErrContractNotFound).Once()
			},
			expectedError: domain.ErrContractNotFound,
		},
		{
			name:   "auditor cannot sign",
			roles:  []security.Role{security.RoleAuditor},
			status: domain.ContractStatusDraft,
			setupMocks: func(c *domain.Contract, repo *mocks.MockContractRepository, publisher *mocks.MockPublisher, store *mocks.MockEventStore) {
			},
			expectedError: security.ErrAccessDenied,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := mocks.NewMockContractRepository(t)
			publisher := mocks.NewMockPublisher(t)
			store := mocks.NewMockEventStore(t)

			contract := testContract()
			contract.Status = tt.status
			tt.setupMocks(contract, repo, publisher, store)

			uc := NewSignContract(repo, publisher, store)
			uc.now = func() time.Time { return now }

			resp, err := uc.Execute(context.Background(), &SignContractCommand{ContractID: contract.ID, Roles: tt.roles})

			if tt.expectedError != nil {
				assert.ErrorIs(t, err, tt.expectedError)
				assert.Nil(t, resp)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, string(domain.ContractStatusSigned), resp.Status)
			require.NotNil(t, resp.SignedAt)
			assert.Equal(t, now, *resp.SignedAt)
			assert.Empty(t, contract.Events())
		})
	}
}
