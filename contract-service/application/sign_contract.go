package application

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"

	"github.com/agrifood/contract-system/contract-service/domain"
	"github.com/agrifood/contract-system/shared/events"
	"github.com/agrifood/contract-system/shared/models"
	"github.com/agrifood/contract-system/shared/security"
	"github.com/agrifood/contract-system/shared/telemetry"
)

// SignContractCommand represents the command to sign a contract
type SignContractCommand struct {
	ContractID models.ID
	Roles      []security.Role
}

// SignContract moves a draft or pending contract to signed
type SignContract struct {
	contractRepository domain.ContractRepository
	eventPublisher     events.Publisher
	eventStore         events.EventStore
	now                func() time.Time
}

// NewSignContract creates a new SignContract use case
func NewSignContract(
	contractRepository domain.ContractRepository,
	eventPublisher events.Publisher,
	eventStore events.EventStore,
) *SignContract {
	return &SignContract{
		contractRepository: contractRepository,
		eventPublisher:     eventPublisher,
		eventStore:         eventStore,
		now:                time.Now,
	}
}

// Execute signs the contract and publishes contract.signed
func (uc *SignContract) Execute(ctx context.Context, cmd *SignContractCommand) (resp *ContractResponse, err error) {
	ctx, span := telemetry.StartSpan(ctx, "SignContract.Execute")
	defer span.End()

	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			telemetry.RecordError(ctx, err)
		}
		telemetry.RecordCounter(ctx, "contracts_signed_total", "Contract sign requests", 1,
			attribute.String("status", status))
	}()

	if err := security.RequireRole(cmd.Roles, security.RoleBuyer, security.RoleSupplier); err != nil {
		return nil, errors.Wrap(err, "sign contract")
	}

	contract, err := uc.contractRepository.FindByID(ctx, cmd.ContractID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to find contract")
	}

	if err := contract.Sign(uc.now()); err != nil {
		return nil, err
	}

	if err := uc.contractRepository.Update(ctx, contract); err != nil {
		return nil, errors.Wrap(err, "failed to update contract")
	}

	signed := contract.Events()
	if err := uc.eventPublisher.Publish(ctx, signed...); err != nil {
		return nil, errors.Wrap(err, "failed to publish events")
	}
	if err := uc.eventStore.SaveEvents(ctx, contract.ID, signed, -1); err != nil {
		telemetry.RecordError(ctx, errors.Wrap(err, "failed to append contract history"))
	}
	contract.ClearEvents()

	return newContractResponse(contract), nil
}
