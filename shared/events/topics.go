package events

// Contract topics
const (
	ContractCreationRequestedEvent Topic = "contract.creation.requested"
	ContractCreatedEvent           Topic = "contract.created"
	ContractCancelledEvent         Topic = "contract.cancelled"
	ContractSignedEvent            Topic = "contract.signed"
)

// Supplier topics
const (
	SupplierCapacityAdjustedEvent Topic = "supplier.capacity.adjusted"
	SupplierCapacityReservedEvent Topic = "supplier.capacity.reserved"
	SupplierCapacityReleasedEvent Topic = "supplier.capacity.released"
)

// Saga topics
const (
	SagaStartedEvent            Topic = "saga.started"
	SagaCompletedEvent          Topic = "saga.completed"
	SagaCompensatedEvent        Topic = "saga.compensated"
	SagaFailedEvent             Topic = "saga.failed"
	SagaCompensationFailedEvent Topic = "saga.compensation.failed"
)
