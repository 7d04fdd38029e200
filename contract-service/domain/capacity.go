package domain

import (
	"time"

	"github.com/pkg/errors"

	"github.com/agrifood/contract-system/shared/models"
)

// SupplierStatus controls whether a supplier may take new contracts
type SupplierStatus string

const (
	SupplierStatusActive        SupplierStatus = "active"
	SupplierStatusSuspended     SupplierStatus = "suspended"
	SupplierStatusBlacklisted   SupplierStatus = "blacklisted"
	SupplierStatusPendingReview SupplierStatus = "pending_review"
)

func (s SupplierStatus) IsValid() bool {
	switch s {
	case SupplierStatusActive, SupplierStatusSuspended, SupplierStatusBlacklisted, SupplierStatusPendingReview:
		return true
	}
	return false
}

// SupplierCapacity tracks how many units a supplier can still commit to
type SupplierCapacity struct {
	SupplierID string         `json:"supplier_id"`
	Status     SupplierStatus `json:"status"`
	Total      int64          `json:"total"`
	Reserved   int64          `json:"reserved"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Available returns the units not reserved yet
func (c *SupplierCapacity) Available() int64 {
	return c.Total - c.Reserved
}

// CanReserve explains why quantity cannot be reserved, or returns nil
func (c *SupplierCapacity) CanReserve(quantity int64) error {
	if c.Status != SupplierStatusActive {
		return errors.Wrapf(ErrSupplierNotActive, "supplier %s is %s", c.SupplierID, c.Status)
	}
	if quantity > c.Available() {
		return errors.Wrapf(ErrInsufficientCapacity, "supplier %s has %d available, %d requested",
			c.SupplierID, c.Available(), quantity)
	}
	return nil
}

// Adjust sets the total capacity and status. The total cannot drop below
// what is already reserved.
func (c *SupplierCapacity) Adjust(total int64, status SupplierStatus) error {
	if total < 0 || !status.IsValid() {
		return errors.Wrapf(ErrInvalidCapacity, "total %d status %q", total, status)
	}
	if total < c.Reserved {
		return errors.Wrapf(ErrInvalidCapacity, "total %d below reserved %d", total, c.Reserved)
	}
	c.Total = total
	c.Status = status
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// ReservationStatus is the state of a capacity reservation
type ReservationStatus string

const (
	ReservationStatusReserved ReservationStatus = "reserved"
	ReservationStatusReleased ReservationStatus = "released"
)

// Reservation holds capacity for one saga. Its ID is the saga ID, which
// makes reserve and release idempotent per saga.
type Reservation struct {
	ID         models.ID         `json:"id"`
	SupplierID string            `json:"supplier_id"`
	Quantity   int64             `json:"quantity"`
	Status     ReservationStatus `json:"status"`
	CreatedAt  time.Time         `json:"created_at"`
	ReleasedAt *time.Time        `json:"released_at,omitempty"`
}
