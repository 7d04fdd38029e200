package application

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/agrifood/contract-system/contract-service/domain"
	"github.com/agrifood/contract-system/shared/events"
	"github.com/agrifood/contract-system/shared/models"
	"github.com/agrifood/contract-system/shared/security"
	"github.com/agrifood/contract-system/shared/telemetry"
)

// GetContract use case
type GetContract struct {
	contractRepository domain.ContractRepository
}

// NewGetContract creates a new GetContract use case
func NewGetContract(contractRepository domain.ContractRepository) *GetContract {
	return &GetContract{contractRepository: contractRepository}
}

// Execute returns one contract
func (uc *GetContract) Execute(ctx context.Context, id models.ID, roles []security.Role) (*ContractResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "GetContract.Execute")
	defer span.End()

	if err := security.RequireRole(roles, security.ReadRoles...); err != nil {
		return nil, errors.Wrap(err, "get contract")
	}

	contract, err := uc.contractRepository.FindByID(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "failed to find contract")
	}
	return newContractResponse(contract), nil
}

// ListContractsQuery filters ListContracts
type ListContractsQuery struct {
	BuyerID    string
	SupplierID string
	Status     string
	Limit      int
	Offset     int
	Roles      []security.Role
}

// ListContracts use case
type ListContracts struct {
	contractRepository domain.ContractRepository
}

// NewListContracts creates a new ListContracts use case
func NewListContracts(contractRepository domain.ContractRepository) *ListContracts {
	return &ListContracts{contractRepository: contractRepository}
}

// Execute lists contracts newest first
func (uc *ListContracts) Execute(ctx context.Context, query *ListContractsQuery) ([]*ContractResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "ListContracts.Execute")
	defer span.End()

	if err := security.RequireRole(query.Roles, security.ReadRoles...); err != nil {
		return nil, errors.Wrap(err, "list contracts")
	}

	status := domain.ContractStatus(query.Status)
	if status != "" && !status.IsValid() {
		return nil, errors.Wrapf(domain.ErrInvalidContract, "unknown status %q", query.Status)
	}
	if query.Limit < 0 || query.Offset < 0 {
		return nil, errors.Wrap(domain.ErrInvalidContract, "limit and offset must not be negative")
	}

	contracts, err := uc.contractRepository.List(ctx, domain.ContractFilter{
		BuyerID:    query.BuyerID,
		SupplierID: query.SupplierID,
		Status:     status,
		Limit:      query.Limit,
		Offset:     query.Offset,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list contracts")
	}

	out := make([]*ContractResponse, 0, len(contracts))
	for _, c := range contracts {
		out = append(out, newContractResponse(c))
	}
	return out, nil
}

// HistoryEntry is one event of a contract history
type HistoryEntry struct {
	EventID   string          `json:"event_id"`
	Topic     string          `json:"topic"`
	SagaID    string          `json:"saga_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// GetContractHistory use case. History outlives the contract record, so a
// rolled back creation can still be audited.
type GetContractHistory struct {
	contractRepository domain.ContractRepository
	eventStore         events.EventStore
}

// NewGetContractHistory creates a new GetContractHistory use case
func NewGetContractHistory(contractRepository domain.ContractRepository, eventStore events.EventStore) *GetContractHistory {
	return &GetContractHistory{
		contractRepository: contractRepository,
		eventStore:         eventStore,
	}
}

// Execute returns the events recorded for a contract, oldest first
func (uc *GetContractHistory) Execute(ctx context.Context, id models.ID, roles []security.Role) ([]*HistoryEntry, error) {
	ctx, span := telemetry.StartSpan(ctx, "GetContractHistory.Execute")
	defer span.End()

	if err := security.RequireRole(roles, security.ReadRoles...); err != nil {
		return nil, errors.Wrap(err, "get contract history")
	}

	stream, err := uc.eventStore.GetEvents(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load contract history")
	}

	if len(stream) == 0 {
		if _, err := uc.contractRepository.FindByID(ctx, id); err != nil {
			return nil, errors.Wrap(err, "failed to find contract")
		}
	}

	out := make([]*HistoryEntry, 0, len(stream))
	for _, event := range stream {
		data, err := event.MarshalPayload()
		if err != nil {
			return nil, errors.Wrapf(err, "failed to encode event %s", event.ID)
		}
		out = append(out, &HistoryEntry{
			EventID:   event.ID.String(),
			Topic:     event.Topic.String(),
			SagaID:    event.CorrelationID.String(),
			Timestamp: event.Timestamp,
			Data:      data,
		})
	}
	return out, nil
}
