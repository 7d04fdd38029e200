package application

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"

	"github.com/agrifood/contract-system/contract-service/domain"
	"github.com/agrifood/contract-system/shared/security"
	"github.com/agrifood/contract-system/shared/telemetry"
)

// AdjustCapacityCommand sets a supplier's total capacity and status
type AdjustCapacityCommand struct {
	SupplierID string `json:"supplier_id"`
	Total      int64  `json:"total"`
	Status     string `json:"status"`

	Roles []security.Role `json:"-"`
}

// CapacityResponse represents a supplier capacity
type CapacityResponse struct {
	SupplierID string    `json:"supplier_id"`
	Status     string    `json:"status"`
	Total      int64     `json:"total"`
	Reserved   int64     `json:"reserved"`
	Available  int64     `json:"available"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func newCapacityResponse(c *domain.SupplierCapacity) *CapacityResponse {
	return &CapacityResponse{
		SupplierID: c.SupplierID,
		Status:     string(c.Status),
		Total:      c.Total,
		Reserved:   c.Reserved,
		Available:  c.Available(),
		UpdatedAt:  c.UpdatedAt,
	}
}

// AdjustSupplierCapacity use case. It does not publish: it is itself driven
// by supplier.capacity.adjusted.
type AdjustSupplierCapacity struct {
	capacityRepository domain.CapacityRepository
}

// NewAdjustSupplierCapacity creates a new AdjustSupplierCapacity use case
func NewAdjustSupplierCapacity(capacityRepository domain.CapacityRepository) *AdjustSupplierCapacity {
	return &AdjustSupplierCapacity{capacityRepository: capacityRepository}
}

// Execute creates or updates the supplier capacity record
func (uc *AdjustSupplierCapacity) Execute(ctx context.Context, cmd *AdjustCapacityCommand) (resp *CapacityResponse, err error) {
	ctx, span := telemetry.StartSpan(ctx, "AdjustSupplierCapacity.Execute")
	defer span.End()

	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			telemetry.RecordError(ctx, err)
		}
		telemetry.RecordCounter(ctx, "supplier_capacity_adjustments_total", "Supplier capacity adjustments", 1,
			attribute.String("status", status))
	}()

	if err := security.RequireRole(cmd.Roles, security.RoleSupplier); err != nil {
		return nil, errors.Wrap(err, "adjust supplier capacity")
	}

	supplierID := strings.TrimSpace(cmd.SupplierID)
	if supplierID == "" {
		return nil, errors.Wrap(domain.ErrInvalidCapacity, "supplier id is required")
	}

	status := domain.SupplierStatus(strings.ToLower(strings.TrimSpace(cmd.Status)))
	if status == "" {
		status = domain.SupplierStatusActive
	}

	capacity, err := uc.capacityRepository.Adjust(ctx, supplierID, cmd.Total, status)
	if err != nil {
		return nil, errors.Wrap(err, "failed to adjust supplier capacity")
	}

	telemetry.RecordGauge(ctx, "supplier_capacity_available", "Units a supplier can still commit",
		float64(capacity.Available()), attribute.String("supplier_id", capacity.SupplierID))
	return newCapacityResponse(capacity), nil
}

// GetSupplierCapacity use case
type GetSupplierCapacity struct {
	capacityRepository domain.CapacityRepository
}

// NewGetSupplierCapacity creates a new GetSupplierCapacity use case
func NewGetSupplierCapacity(capacityRepository domain.CapacityRepository) *GetSupplierCapacity {
	return &GetSupplierCapacity{capacityRepository: capacityRepository}
}

// Execute returns the supplier capacity
func (uc *GetSupplierCapacity) Execute(ctx context.Context, supplierID string, roles []security.Role) (*CapacityResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "GetSupplierCapacity.Execute")
	defer span.End()

	if err := security.RequireRole(roles, security.ReadRoles...); err != nil {
		return nil, errors.Wrap(err, "get supplier capacity")
	}

	capacity, err := uc.capacityRepository.FindBySupplier(ctx, supplierID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to find supplier capacity")
	}
	return newCapacityResponse(capacity), nil
}
