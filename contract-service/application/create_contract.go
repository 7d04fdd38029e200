package application

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"

	"github.com/agrifood/contract-system/contract-service/domain"
	"github.com/agrifood/contract-system/shared/events"
	"github.com/agrifood/contract-system/shared/models"
	"github.com/agrifood/contract-system/shared/saga"
	"github.com/agrifood/contract-system/shared/security"
	"github.com/agrifood/contract-system/shared/telemetry"
)

// ContractCreationSaga is the saga name used in logs and metrics
const ContractCreationSaga = "contract-creation"

// DefaultSettleTimeout bounds the wait for a step that was still running
// when the orchestrator gave up on it.
const DefaultSettleTimeout = 30 * time.Second

// CreateContractCommand represents the command to create a contract
type CreateContractCommand struct {
	ProcurementID string `json:"procurement_id"`
	BuyerID       string `json:"buyer_id"`
	SupplierID    string `json:"supplier_id"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	Quantity      int64  `json:"quantity"`

	// SagaID is set by asynchronous requests so that a redelivered request
	// resolves to the contract created the first time.
	SagaID models.ID       `json:"-"`
	Roles  []security.Role `json:"-"`
}

// ContractResponse represents a contract returned by the use cases
type ContractResponse struct {
	ContractID     string     `json:"contract_id"`
	ContractNumber string     `json:"contract_number"`
	ProcurementID  string     `json:"procurement_id"`
	BuyerID        string     `json:"buyer_id"`
	SupplierID     string     `json:"supplier_id"`
	Amount         int64      `json:"amount"`
	Currency       string     `json:"currency"`
	Quantity       int64      `json:"quantity"`
	Status         string     `json:"status"`
	SagaID         string     `json:"saga_id"`
	SagaStatus     string     `json:"saga_status"`
	SignedAt       *time.Time `json:"signed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func newContractResponse(c *domain.Contract) *ContractResponse {
	return &ContractResponse{
		ContractID:     c.ID.String(),
		ContractNumber: c.ContractNumber,
		ProcurementID:  c.ProcurementID,
		BuyerID:        c.BuyerID,
		SupplierID:     c.SupplierID,
		Amount:         c.Amount.Amount,
		Currency:       c.Amount.Currency,
		Quantity:       c.Quantity,
		Status:         string(c.Status),
		SagaID:         c.SagaID.String(),
		SagaStatus:     c.SagaStatus.String(),
		SignedAt:       c.SignedAt,
		CreatedAt:      c.Timestamps.CreatedAt,
		UpdatedAt:      c.Timestamps.UpdatedAt,
	}
}

// SagaEventData is the payload of the saga.* history events
type SagaEventData struct {
	SagaID     models.ID     `json:"saga_id"`
	SagaName   string        `json:"saga_name"`
	Status     saga.Status   `json:"status"`
	Outcome    saga.Outcome  `json:"outcome,omitempty"`
	FailedStep string        `json:"failed_step,omitempty"`
	Error      string        `json:"error,omitempty"`
	Failures   []StepFailure `json:"compensation_failures,omitempty"`
}

// StepFailure names a compensation that did not complete
type StepFailure struct {
	Step  string `json:"step"`
	Error string `json:"error"`
}

// CreateContract runs the contract creation saga: validate, reserve
// supplier capacity, create the contract record, notify both parties.
type CreateContract struct {
	contractRepository domain.ContractRepository
	capacityRepository domain.CapacityRepository
	eventPublisher     events.Publisher
	eventStore         events.EventStore
	orchestrator       *saga.Orchestrator
	settleTimeout      time.Duration
}

// NewCreateContract creates a new CreateContract use case
func NewCreateContract(
	contractRepository domain.ContractRepository,
	capacityRepository domain.CapacityRepository,
	eventPublisher events.Publisher,
	eventStore events.EventStore,
	orchestrator *saga.Orchestrator,
) *CreateContract {
	return &CreateContract{
		contractRepository: contractRepository,
		capacityRepository: capacityRepository,
		eventPublisher:     eventPublisher,
		eventStore:         eventStore,
		orchestrator:       orchestrator,
		settleTimeout:      DefaultSettleTimeout,
	}
}

// WithSettleTimeout sets how long a failed run waits for a step that
// outlived its deadline before giving up on undoing it
func (uc *CreateContract) WithSettleTimeout(d time.Duration) *CreateContract {
	if d > 0 {
		uc.settleTimeout = d
	}
	return uc
}

// Execute creates a contract. A saga that did not complete is reported as a
// *SagaFailure wrapping ErrSagaRolledBack or ErrManualInterventionRequired.
func (uc *CreateContract) Execute(ctx context.Context, cmd *CreateContractCommand) (resp *ContractResponse, err error) {
	ctx, span := telemetry.StartSpan(ctx, "CreateContract.Execute")
	defer span.End()

	start := time.Now()
	defer func() {
		result := "created"
		switch {
		case errors.Is(err, ErrManualInterventionRequired):
			result = "needs_intervention"
		case errors.Is(err, ErrSagaRolledBack):
			result = "rolled_back"
		case err != nil:
			result = "error"
			telemetry.RecordError(ctx, err)
		}
		telemetry.RecordCounter(ctx, "contracts_create_total", "Contract creation requests", 1,
			attribute.String("result", result))
		telemetry.RecordHistogram(ctx, "contracts_create_duration_seconds", "Contract creation latency",
			time.Since(start).Seconds(), attribute.String("result", result))
	}()

	if err := security.RequireRole(cmd.Roles, security.RoleBuyer); err != nil {
		return nil, errors.Wrap(err, "create contract")
	}

	sagaID := cmd.SagaID
	if sagaID.IsZero() {
		sagaID = models.GenerateUUID()
	} else {
		existing, err := uc.contractRepository.FindBySagaID(ctx, sagaID)
		switch {
		case err == nil:
			return newContractResponse(existing), nil
		case !errors.Is(err, domain.ErrContractNotFound):
			return nil, errors.Wrap(err, "failed to look up saga")
		}
	}

	contract := domain.NewContract(
		strings.TrimSpace(cmd.ProcurementID),
		strings.TrimSpace(cmd.BuyerID),
		strings.TrimSpace(cmd.SupplierID),
		models.NewMoney(cmd.Amount, cmd.Currency),
		cmd.Quantity,
		sagaID,
	)
	contract.MarkSaga(saga.StatusInProgress)

	steps := newCreationSteps(contract, uc.contractRepository, uc.capacityRepository, uc.eventPublisher)
	run := saga.NewRun(sagaID, ContractCreationSaga, steps.list()...)
	span.SetAttributes(
		attribute.String("saga.id", sagaID.String()),
		attribute.String("contract.id", contract.ID.String()),
	)

	ok := uc.orchestrator.Execute(ctx, run)
	span.SetAttributes(attribute.String("saga.status", run.Status().String()))

	if ok {
		contract.MarkSaga(saga.StatusCompleted)
		if err := uc.contractRepository.UpdateSagaStatus(ctx, contract.ID, saga.StatusCompleted); err != nil {
			telemetry.RecordError(ctx, errors.Wrap(err, "failed to record saga status"))
		}
		uc.appendHistory(ctx, contract, run, steps.journal)
		return newContractResponse(contract), nil
	}

	// A step abandoned on its deadline may still be writing; only the
	// contract ID is read from here on.
	undoCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), uc.settleTimeout)
	undoErr := steps.undoAbandoned(undoCtx, run)
	cancel()

	failure := newSagaFailure(run, contract.ID)
	var extra []StepFailure
	if undoErr != nil {
		failure.escalate(undoErr)
		extra = append(extra, StepFailure{Step: failure.FailedStep, Error: undoErr.Error()})
	}

	if failure.RequiresIntervention() {
		if steps.create.Created() {
			if err := uc.contractRepository.UpdateSagaStatus(ctx, contract.ID, run.Status()); err != nil {
				telemetry.RecordError(ctx, errors.Wrap(err, "failed to record saga status"))
			}
		}
		alert := events.NewEvent(contract.ID, events.SagaCompensationFailedEvent, sagaEventData(run, extra...)).
			WithCorrelationID(sagaID).
			WithMetadata(events.MetadataSagaID, sagaID.String())
		if err := uc.eventPublisher.Publish(ctx, alert); err != nil {
			telemetry.RecordError(ctx, errors.Wrap(err, "failed to publish compensation alert"))
		}
	}

	uc.appendHistory(ctx, contract, run, steps.journal, extra...)
	return nil, failure
}

// appendHistory stores the run's events on the contract stream. History is
// an audit trail: failing to write it does not change the saga result.
func (uc *CreateContract) appendHistory(ctx context.Context, contract *domain.Contract, run *saga.Run, j *journal, extra ...StepFailure) {
	data := sagaEventData(run, extra...)
	recorded := j.snapshot()
	started := events.NewEvent(contract.ID, events.SagaStartedEvent, SagaEventData{
		SagaID:   run.ID(),
		SagaName: run.Name(),
		Status:   saga.StatusStarted,
	}).WithCorrelationID(run.ID())
	started.Timestamp = time.Now().UTC().Add(-run.Duration())

	var terminal events.Topic
	switch run.Status() {
	case saga.StatusCompleted:
		terminal = events.SagaCompletedEvent
	case saga.StatusFailed:
		terminal = events.SagaFailedEvent
	default:
		terminal = events.SagaCompensatedEvent
	}

	history := make([]*events.Event, 0, len(recorded)+2)
	history = append(history, started)
	history = append(history, recorded...)
	history = append(history, events.NewEvent(contract.ID, terminal, data).WithCorrelationID(run.ID()))

	if err := uc.eventStore.SaveEvents(ctx, contract.ID, history, -1); err != nil {
		telemetry.RecordError(ctx, errors.Wrap(err, "failed to append contract history"))
	}
}

func sagaEventData(run *saga.Run, extra ...StepFailure) SagaEventData {
	data := SagaEventData{
		SagaID:   run.ID(),
		SagaName: run.Name(),
		Status:   run.Status(),
		Outcome:  run.Outcome(),
	}
	if failure := run.Failure(); failure != nil {
		data.FailedStep = failure.StepName
		data.Error = failure.Err.Error()
	}
	for _, f := range run.CompensationFailures() {
		data.Failures = append(data.Failures, StepFailure{Step: f.StepName, Error: f.Err.Error()})
	}
	data.Failures = append(data.Failures, extra...)
	if len(extra) > 0 {
		data.Outcome = saga.OutcomeNeedsIntervention
	}
	return data
}
