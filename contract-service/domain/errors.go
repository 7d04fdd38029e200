package domain

import "github.com/pkg/errors"

var (
	ErrContractNotFound       = errors.New("contract not found")
	ErrInvalidContract        = errors.New("invalid contract")
	ErrInvalidTransition      = errors.New("invalid contract status transition")
	ErrSupplierNotFound       = errors.New("supplier not found")
	ErrSupplierNotActive      = errors.New("supplier is not active")
	ErrInsufficientCapacity   = errors.New("insufficient supplier capacity")
	ErrInvalidCapacity        = errors.New("invalid supplier capacity")
	ErrReservationReleased    = errors.New("reservation already released")
	ErrConcurrentModification = errors.New("contract was modified concurrently")
)
