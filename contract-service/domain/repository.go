package domain

import (
	"context"

	"github.com/agrifood/contract-system/shared/models"
	"github.com/agrifood/contract-system/shared/saga"
)

// ContractFilter narrows ListContracts. Empty fields match everything.
type ContractFilter struct {
	BuyerID    string
	SupplierID string
	Status     ContractStatus
	Limit      int
	Offset     int
}

// ContractRepository persists contracts
type ContractRepository interface {
	Save(ctx context.Context, contract *Contract) error
	// Update stores contract if its stored version is one less than
	// contract.Version, else ErrConcurrentModification.
	Update(ctx context.Context, contract *Contract) error
	UpdateSagaStatus(ctx context.Context, id models.ID, status saga.Status) error
	// Delete removes a contract. Deleting a missing contract is not an error.
	Delete(ctx context.Context, id models.ID) error
	FindByID(ctx context.Context, id models.ID) (*Contract, error)
	FindBySagaID(ctx context.Context, sagaID models.ID) (*Contract, error)
	List(ctx context.Context, filter ContractFilter) ([]*Contract, error)
}

// CapacityRepository manages supplier capacity and reservations
type CapacityRepository interface {
	// Reserve holds quantity for reservationID. Reserving the same ID twice
	// is a no-op.
	Reserve(ctx context.Context, reservationID models.ID, supplierID string, quantity int64) error
	// Release returns the capacity held by reservationID. Releasing an
	// unknown or released reservation is a no-op.
	Release(ctx context.Context, reservationID models.ID) error
	FindBySupplier(ctx context.Context, supplierID string) (*SupplierCapacity, error)
	FindReservation(ctx context.Context, reservationID models.ID) (*Reservation, error)
	// Adjust creates or updates a supplier capacity record
	Adjust(ctx context.Context, supplierID string, total int64, status SupplierStatus) (*SupplierCapacity, error)
}
