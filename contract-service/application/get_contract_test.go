package application

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/agrifood/contract-system/contract-service/domain"
	"github.com/agrifood/contract-system/contract-service/mocks"
	"github.com/agrifood/contract-system/shared/events"
	"github.com/agrifood/contract-system/shared/models"
	"github.com/agrifood/contract-system/shared/security"
)

func TestGetContract_Execute(t *testing.T) {
	repo := mocks.NewMockContractRepository(t)
	uc := NewGetContract(repo)
	contract := testContract()

	repo.EXPECT().FindByID(mock.Anything, contract.ID).Return(contract, nil).Once()

	resp, err := uc.Execute(context.Background(), contract.ID, []security.Role{security.RoleAuditor})
	require.NoError(t, err)
	assert.Equal(t, contract.ID.String(), resp.ContractID)
	assert.Equal(t, int64(1000), resp.Amount)
	assert.Equal(t, "USD", resp.Currency)

	_, err = uc.Execute(context.Background(), contract.ID, nil)
	assert.ErrorIs(t, err, security.ErrAccessDenied)
}

func TestListContracts_Execute(t *testing.T) {
	t.Run("passes filters through", func(t *testing.T) {
		repo := mocks.NewMockContractRepository(t)
		uc := NewListContracts(repo)

		repo.EXPECT().List(mock.Anything, domain.ContractFilter{
			BuyerID: "buyer-1",
			Status:  domain.ContractStatusSigned,
			Limit:   10,
		}).Return([]*domain.Contract{testContract(), testContract()}, nil).Once()

		resp, err := uc.Execute(context.Background(), &ListContractsQuery{
			BuyerID: "buyer-1",
			Status:  "signed",
			Limit:   10,
			Roles:   []security.Role{security.RoleBuyer},
		})
		require.NoError(t, err)
		assert.Len(t, resp, 2)
	})

	t.Run("rejects unknown status", func(t *testing.T) {
		uc := NewListContracts(mocks.NewMockContractRepository(t))

		_, err := uc.Execute(context.Background(), &ListContractsQuery{
			Status: "archived",
			Roles:  []security.Role{security.RoleBuyer},
		})
		assert.ErrorIs(t, err, domain.ErrInvalidContract)
	})
}

func TestGetContractHistory_Execute(t *testing.T) {
	id := models.GenerateUUID()
	roles := []security.Role{security.RoleAuditor}

	t.Run("returns the stream", func(t *testing.T) {
		repo := mocks.NewMockContractRepository(t)
		store := mocks.NewMockEventStore(t)
		uc := NewGetContractHistory(repo, store)

		sagaID := models.GenerateUUID()
		stored := []*events.Event{
			events.NewEvent(id, events.SagaStartedEvent, json.RawMessage(`{"status":"started"}`)).WithCorrelationID(sagaID),
			events.NewEvent(id, events.SagaCompensatedEvent, json.RawMessage(`{"status":"compensated"}`)).WithCorrelationID(sagaID),
		}
		store.EXPECT().GetEvents(mock.Anything, id).Return(stored, nil).Once()

		history, err := uc.Execute(context.Background(), id, roles)
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, "saga.started", history[0].Topic)
		assert.Equal(t, sagaID.String(), history[1].SagaID)
		assert.JSONEq(t, `{"status":"compensated"}`, string(history[1].Data))
	})

	t.Run("unknown contract", func(t *testing.T) {
		repo := mocks.NewMockContractRepository(t)
		store := mocks.NewMockEventStore(t)
		uc := NewGetContractHistory(repo, store)

		store.EXPECT().GetEvents(mock.Anything, id).Return(nil, nil).Once()
		repo.EXPECT().FindByID(mock.Anything, id).Return(nil, domain.ErrContractNotFound).Once()

		_, err := uc.Execute(context.Background(), id, roles)
		assert.ErrorIs(t, err, domain.ErrContractNotFound)
	})

	t.Run("store failure", func(t *testing.T) {
		store := mocks.NewMockEventStore(t)
		uc := NewGetContractHistory(mocks.NewMockContractRepository(t), store)

		store.EXPECT().GetEvents(mock.Anything, id).Return(nil, errors.New("timeout")).Once()

		_, err := uc.Execute(context.Background(), id, roles)
		assert.ErrorContains(t, err, "failed to load contract history")
	})
}
