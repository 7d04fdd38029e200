package application

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/agrifood/contract-system/contract-service/domain"
	"github.com/agrifood/contract-system/shared/events"
	"github.com/agrifood/contract-system/shared/models"
	"github.com/agrifood/contract-system/shared/saga"
)

// Step names of the contract creation saga
const (
	StepValidateContract = "validate_contract"
	StepReserveCapacity  = "reserve_supplier_capacity"
	StepCreateContract   = "create_contract_record"
	StepNotifyParties    = "notify_parties"
)

// CapacityReservationData is the payload of supplier.capacity.reserved and
// supplier.capacity.released
type CapacityReservationData struct {
	ReservationID models.ID `json:"reservation_id"`
	SupplierID    string    `json:"supplier_id"`
	Quantity      int64     `json:"quantity"`
}

// journal collects the events a saga run produced, in order. A step the
// orchestrator stopped waiting for may still record into it.
type journal struct {
	mu     sync.Mutex
	events []*events.Event
}

func (j *journal) record(evts ...*events.Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, evts...)
}

func (j *journal) snapshot() []*events.Event {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]*events.Event(nil), j.events...)
}

// effect tracks whether a step's side effect is in place. Execute may keep
// running after its deadline elapsed, so the state is guarded and callers
// can wait for the call to return with settle.
type effect struct {
	mu      sync.Mutex
	applied bool
	running chan struct{}
}

func (e *effect) begin() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.running = make(chan struct{})
}

func (e *effect) end(applied bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if applied {
		e.applied = true
	}
	close(e.running)
}

func (e *effect) inPlace() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.applied
}

func (e *effect) undone() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.applied = false
}

// settle waits until a started Execute returned. It reports false when ctx
// ends first.
func (e *effect) settle(ctx context.Context) bool {
	e.mu.Lock()
	running := e.running
	e.mu.Unlock()
	if running == nil {
		return true
	}
	select {
	case <-running:
		return true
	case <-ctx.Done():
		return false
	}
}

// ValidateContractStep checks the contract business rules. It has no side
// effects, so its compensation is a no-op.
type ValidateContractStep struct {
	contract *domain.Contract
}

func (s *ValidateContractStep) Name() string { return StepValidateContract }

func (s *ValidateContractStep) Execute(ctx context.Context) error {
	return saga.DeclineWith(s.contract.Validate())
}

func (s *ValidateContractStep) Compensate(ctx context.Context) error {
	return nil
}

// ReserveCapacityStep holds supplier capacity for the contract quantity.
// The reservation is keyed by the saga ID.
type ReserveCapacityStep struct {
	capacity domain.CapacityRepository
	contract *domain.Contract
	journal  *journal

	reservation effect
}

func (s *ReserveCapacityStep) Name() string { return StepReserveCapacity }

func (s *ReserveCapacityStep) Execute(ctx context.Context) error {
	applied := false
	s.reservation.begin()
	defer func() { s.reservation.end(applied) }()

	err := s.capacity.Reserve(ctx, s.contract.SagaID, s.contract.SupplierID, s.contract.Quantity)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrInsufficientCapacity),
		errors.Is(err, domain.ErrSupplierNotFound),
		errors.Is(err, domain.ErrSupplierNotActive),
		errors.Is(err, domain.ErrReservationReleased),
		errors.Is(err, domain.ErrInvalidCapacity):
		return saga.DeclineWith(err)
	default:
		return errors.Wrap(err, "failed to reserve supplier capacity")
	}

	applied = true
	s.journal.record(s.event(events.SupplierCapacityReservedEvent))
	return nil
}

func (s *ReserveCapacityStep) Compensate(ctx context.Context) error {
	if !s.reservation.inPlace() {
		return nil
	}
	if err := s.capacity.Release(ctx, s.contract.SagaID); err != nil {
		return errors.Wrap(err, "failed to release supplier capacity")
	}
	s.reservation.undone()
	s.journal.record(s.event(events.SupplierCapacityReleasedEvent))
	return nil
}

func (s *ReserveCapacityStep) event(topic events.Topic) *events.Event {
	return events.NewEvent(s.contract.ID, topic, CapacityReservationData{
		ReservationID: s.contract.SagaID,
		SupplierID:    s.contract.SupplierID,
		Quantity:      s.contract.Quantity,
	}).WithCorrelationID(s.contract.SagaID)
}

// CreateContractRecordStep persists the contract. The contract is only
// read here; the use case marks it before the run starts.
type CreateContractRecordStep struct {
	contracts domain.ContractRepository
	contract  *domain.Contract
	journal   *journal

	record effect
}

func (s *CreateContractRecordStep) Name() string { return StepCreateContract }

func (s *CreateContractRecordStep) Execute(ctx context.Context) error {
	applied := false
	s.record.begin()
	defer func() { s.record.end(applied) }()

	if err := s.contracts.Save(ctx, s.contract); err != nil {
		return errors.Wrap(err, "failed to save contract")
	}
	applied = true

	s.journal.record(events.NewEvent(s.contract.ID, events.ContractCreatedEvent, s.contract.CreatedData()).
		WithCorrelationID(s.contract.SagaID))
	return nil
}

func (s *CreateContractRecordStep) Compensate(ctx context.Context) error {
	if !s.record.inPlace() {
		return nil
	}
	if err := s.contracts.Delete(ctx, s.contract.ID); err != nil {
		return errors.Wrap(err, "failed to delete contract")
	}
	s.record.undone()
	return nil
}

// Created reports whether the contract record currently exists
func (s *CreateContractRecordStep) Created() bool {
	return s.record.inPlace()
}

// NotifyPartiesStep tells the buyer and the supplier about the new contract
type NotifyPartiesStep struct {
	publisher events.Publisher
	contract  *domain.Contract
	journal   *journal

	notified effect
}

func (s *NotifyPartiesStep) Name() string { return StepNotifyParties }

func (s *NotifyPartiesStep) Execute(ctx context.Context) error {
	applied := false
	s.notified.begin()
	defer func() { s.notified.end(applied) }()

	data := s.contract.CreatedData()
	if err := s.publisher.Publish(ctx, s.notifications(events.ContractCreatedEvent, data)...); err != nil {
		return errors.Wrap(err, "failed to notify parties")
	}
	applied = true
	return nil
}

func (s *NotifyPartiesStep) Compensate(ctx context.Context) error {
	if !s.notified.inPlace() {
		return nil
	}

	data := s.contract.CreatedData()
	data.Reason = "contract creation rolled back"
	cancellations := s.notifications(events.ContractCancelledEvent, data)
	if err := s.publisher.Publish(ctx, cancellations...); err != nil {
		return errors.Wrap(err, "failed to notify parties of cancellation")
	}
	s.notified.undone()
	s.journal.record(cancellations...)
	return nil
}

func (s *NotifyPartiesStep) notifications(topic events.Topic, data domain.ContractCreatedData) []*events.Event {
	recipients := []string{s.contract.BuyerID, s.contract.SupplierID}
	out := make([]*events.Event, 0, len(recipients))
	for _, recipient := range recipients {
		out = append(out, events.NewEvent(s.contract.ID, topic, data).
			WithCorrelationID(s.contract.SagaID).
			WithMetadata(events.MetadataSagaID, s.contract.SagaID.String()).
			WithMetadata(events.MetadataRecipient, recipient))
	}
	return out
}

// creationSteps is the step set of one contract creation run
type creationSteps struct {
	validate *ValidateContractStep
	reserve  *ReserveCapacityStep
	create   *CreateContractRecordStep
	notify   *NotifyPartiesStep
	journal  *journal
}

func newCreationSteps(contract *domain.Contract, contracts domain.ContractRepository,
	capacity domain.CapacityRepository, publisher events.Publisher) *creationSteps {
	j := &journal{}
	return &creationSteps{
		validate: &ValidateContractStep{contract: contract},
		reserve:  &ReserveCapacityStep{capacity: capacity, contract: contract, journal: j},
		create:   &CreateContractRecordStep{contracts: contracts, contract: contract, journal: j},
		notify:   &NotifyPartiesStep{publisher: publisher, contract: contract, journal: j},
		journal:  j,
	}
}

func (c *creationSteps) list() []saga.Step {
	return []saga.Step{c.validate, c.reserve, c.create, c.notify}
}

// undoAbandoned settles the step the run failed on and compensates it if
// its side effect landed after the orchestrator stopped waiting. Steps that
// failed synchronously have nothing in place, so this is a no-op for them.
func (c *creationSteps) undoAbandoned(ctx context.Context, run *saga.Run) error {
	failure := run.Failure()
	if failure == nil {
		return nil
	}

	var settle func(context.Context) bool
	var step saga.Step
	switch failure.StepName {
	case StepReserveCapacity:
		step, settle = c.reserve, c.reserve.reservation.settle
	case StepCreateContract:
		step, settle = c.create, c.create.record.settle
	case StepNotifyParties:
		step, settle = c.notify, c.notify.notified.settle
	default:
		return nil
	}

	if !settle(ctx) {
		return errors.Wrapf(ctx.Err(), "step %s did not return", failure.StepName)
	}
	return step.Compensate(ctx)
}
