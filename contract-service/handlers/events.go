package handlers

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/agrifood/contract-system/contract-service/application"
	"github.com/agrifood/contract-system/contract-service/domain"
	"github.com/agrifood/contract-system/shared/events"
	"github.com/agrifood/contract-system/shared/security"
)

// ContractEventHandlers consumes the asynchronous contract commands.
//
// A handler returns an error only when the message should be redelivered.
// A saga that ran is final whatever its outcome, and a request that can
// never succeed is dropped after logging.
type ContractEventHandlers struct {
	createContract *application.CreateContract
	adjustCapacity *application.AdjustSupplierCapacity
	logger         *slog.Logger
}

// NewContractEventHandlers creates new contract event handlers
func NewContractEventHandlers(
	createContract *application.CreateContract,
	adjustCapacity *application.AdjustSupplierCapacity,
	logger *slog.Logger,
) *ContractEventHandlers {
	return &ContractEventHandlers{
		createContract: createContract,
		adjustCapacity: adjustCapacity,
		logger:         logger,
	}
}

// Register binds the handlers to their topics
func (h *ContractEventHandlers) Register(router *events.Router) {
	router.Register(events.ContractCreationRequestedEvent, events.EventHandlerFunc(h.HandleCreationRequested))
	router.Register(events.SupplierCapacityAdjustedEvent, events.EventHandlerFunc(h.HandleCapacityAdjusted))
}

// HandleCreationRequested runs the creation saga for a queued request. The
// event ID becomes the saga ID so that redeliveries are idempotent.
func (h *ContractEventHandlers) HandleCreationRequested(ctx context.Context, event *events.Event) error {
	var cmd application.CreateContractCommand
	if err := event.UnmarshalPayload(&cmd); err != nil {
		h.logger.ErrorContext(ctx, "contract_request_malformed", "event_id", event.ID.String(), "error", err.Error())
		return nil
	}

	roles, err := eventRoles(event, security.RoleBuyer)
	if err != nil {
		h.logger.ErrorContext(ctx, "contract_request_malformed", "event_id", event.ID.String(), "error", err.Error())
		return nil
	}
	cmd.SagaID = event.ID
	cmd.Roles = roles

	resp, err := h.createContract.Execute(ctx, &cmd)

	var failure *application.SagaFailure
	switch {
	case err == nil:
		h.logger.InfoContext(ctx, "contract_created",
			"saga_id", resp.SagaID,
			"contract_id", resp.ContractID,
			"contract_number", resp.ContractNumber,
		)
		return nil
	case errors.As(err, &failure):
		level := slog.LevelWarn
		if errors.Is(err, application.ErrManualInterventionRequired) {
			level = slog.LevelError
		}
		h.logger.Log(ctx, level, "contract_request_failed",
			"saga_id", failure.SagaID.String(),
			"contract_id", failure.ContractID.String(),
			"saga_status", failure.Status.String(),
			"outcome", string(failure.Outcome),
			"failed_step", failure.FailedStep,
			"error", err.Error(),
		)
		return nil
	case errors.Is(err, security.ErrAccessDenied):
		h.logger.WarnContext(ctx, "contract_request_rejected", "event_id", event.ID.String(), "error", err.Error())
		return nil
	default:
		return errors.Wrapf(err, "contract request %s", event.ID)
	}
}

// HandleCapacityAdjusted applies a capacity update published by the
// supplier service
func (h *ContractEventHandlers) HandleCapacityAdjusted(ctx context.Context, event *events.Event) error {
	var cmd application.AdjustCapacityCommand
	if err := event.UnmarshalPayload(&cmd); err != nil {
		h.logger.ErrorContext(ctx, "capacity_update_malformed", "event_id", event.ID.String(), "error", err.Error())
		return nil
	}
	cmd.Roles = []security.Role{security.RoleAdmin}

	resp, err := h.adjustCapacity.Execute(ctx, &cmd)
	switch {
	case err == nil:
		h.logger.InfoContext(ctx, "capacity_adjusted",
			"supplier_id", resp.SupplierID,
			"status", resp.Status,
			"total", resp.Total,
			"available", resp.Available,
		)
		return nil
	case errors.Is(err, domain.ErrInvalidCapacity):
		h.logger.WarnContext(ctx, "capacity_update_rejected", "event_id", event.ID.String(), "error", err.Error())
		return nil
	default:
		return errors.Wrapf(err, "capacity update %s", event.ID)
	}
}

func eventRoles(event *events.Event, fallback security.Role) ([]security.Role, error) {
	header, _ := event.Metadata.Get(events.MetadataRoles)
	roles, err := security.ParseRoles(header)
	if err != nil {
		return nil, err
	}
	if len(roles) == 0 {
		roles = []security.Role{fallback}
	}
	return roles, nil
}
