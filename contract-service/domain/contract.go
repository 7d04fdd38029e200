package domain

import (
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/agrifood/contract-system/shared/events"
	"github.com/agrifood/contract-system/shared/models"
	"github.com/agrifood/contract-system/shared/saga"
)

// ContractStatus is the lifecycle status of a contract
type ContractStatus string

const (
	ContractStatusDraft      ContractStatus = "draft"
	ContractStatusPending    ContractStatus = "pending"
	ContractStatusSigned     ContractStatus = "signed"
	ContractStatusActive     ContractStatus = "active"
	ContractStatusCompleted  ContractStatus = "completed"
	ContractStatusTerminated ContractStatus = "terminated"
	ContractStatusDisputed   ContractStatus = "disputed"
)

func (s ContractStatus) IsValid() bool {
	switch s {
	case ContractStatusDraft, ContractStatusPending, ContractStatusSigned, ContractStatusActive,
		ContractStatusCompleted, ContractStatusTerminated, ContractStatusDisputed:
		return true
	}
	return false
}

// Contract aggregate root: an agreement between a buyer and a supplier for
// one procurement.
type Contract struct {
	ID             models.ID         `json:"id"`
	ContractNumber string            `json:"contract_number"`
	ProcurementID  string            `json:"procurement_id"`
	BuyerID        string            `json:"buyer_id"`
	SupplierID     string            `json:"supplier_id"`
	Amount         models.Money      `json:"amount"`
	Quantity       int64             `json:"quantity"`
	Status         ContractStatus    `json:"status"`
	SagaID         models.ID         `json:"saga_id"`
	SagaStatus     saga.Status       `json:"saga_status"`
	DeliveryStatus string            `json:"delivery_status,omitempty"`
	SignedAt       *time.Time        `json:"signed_at,omitempty"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
	Timestamps     models.Timestamps `json:"-"`
	Version        models.Version    `json:"-"`

	events []*events.Event
}

// ContractCreatedData is the payload of contract.created and contract.cancelled
type ContractCreatedData struct {
	ContractID     models.ID    `json:"contract_id"`
	ContractNumber string       `json:"contract_number"`
	ProcurementID  string       `json:"procurement_id"`
	BuyerID        string       `json:"buyer_id"`
	SupplierID     string       `json:"supplier_id"`
	Amount         models.Money `json:"amount"`
	Quantity       int64        `json:"quantity"`
	SagaID         models.ID    `json:"saga_id"`
	Reason         string       `json:"reason,omitempty"`
}

// ContractSignedData is the payload of contract.signed
type ContractSignedData struct {
	ContractID     models.ID `json:"contract_id"`
	ContractNumber string    `json:"contract_number"`
	SignedAt       time.Time `json:"signed_at"`
}

// NewContractNumber returns CNT-<unix millis>-<6 upper-case characters>
func NewContractNumber(now time.Time) string {
	return fmt.Sprintf("CNT-%d-%s", now.UnixMilli(), models.ShortCode())
}

// NewContract builds a draft contract. It is not validated; the creation
// saga validates it as its first step.
func NewContract(procurementID, buyerID, supplierID string, amount models.Money, quantity int64, sagaID models.ID) *Contract {
	timestamps := models.NewTimestamps()
	return &Contract{
		ID:             models.GenerateUUID(),
		ContractNumber: NewContractNumber(timestamps.CreatedAt),
		ProcurementID:  procurementID,
		BuyerID:        buyerID,
		SupplierID:     supplierID,
		Amount:         amount,
		Quantity:       quantity,
		Status:         ContractStatusDraft,
		SagaID:         sagaID,
		SagaStatus:     saga.StatusStarted,
		Timestamps:     timestamps,
		Version:        models.NewVersion(),
	}
}

// Validate checks the business rules a contract must satisfy before any
// side effect happens.
func (c *Contract) Validate() error {
	switch {
	case c.BuyerID == "":
		return errors.Wrap(ErrInvalidContract, "buyer id is required")
	case c.SupplierID == "":
		return errors.Wrap(ErrInvalidContract, "supplier id is required")
	case c.ProcurementID == "":
		return errors.Wrap(ErrInvalidContract, "procurement id is required")
	case !c.Amount.IsPositive():
		return errors.Wrap(ErrInvalidContract, "amount must be positive")
	case c.Amount.Validate() != nil:
		return errors.Wrap(ErrInvalidContract, "amount currency must be an ISO 4217 code")
	case c.Quantity <= 0:
		return errors.Wrap(ErrInvalidContract, "quantity must be positive")
	}
	return nil
}

// Sign moves a draft or pending contract to signed
func (c *Contract) Sign(now time.Time) error {
	if c.Status != ContractStatusDraft && c.Status != ContractStatusPending {
		return errors.Wrapf(ErrInvalidTransition, "cannot sign a %s contract", c.Status)
	}

	signedAt := now.UTC()
	c.Status = ContractStatusSigned
	c.SignedAt = &signedAt
	c.touch()

	c.recordEvent(events.NewEvent(c.ID, events.ContractSignedEvent, ContractSignedData{
		ContractID:     c.ID,
		ContractNumber: c.ContractNumber,
		SignedAt:       signedAt,
	}).WithCorrelationID(c.SagaID))

	return nil
}

// MarkSaga records the status of the creation saga on the contract
func (c *Contract) MarkSaga(status saga.Status) {
	c.SagaStatus = status
}

// CreatedData returns the payload describing this contract
func (c *Contract) CreatedData() ContractCreatedData {
	return ContractCreatedData{
		ContractID:     c.ID,
		ContractNumber: c.ContractNumber,
		ProcurementID:  c.ProcurementID,
		BuyerID:        c.BuyerID,
		SupplierID:     c.SupplierID,
		Amount:         c.Amount,
		Quantity:       c.Quantity,
		SagaID:         c.SagaID,
	}
}

// Events returns the domain events recorded since the last ClearEvents
func (c *Contract) Events() []*events.Event {
	return c.events
}

func (c *Contract) ClearEvents() {
	c.events = nil
}

func (c *Contract) touch() {
	c.Timestamps = c.Timestamps.Update()
	c.Version = c.Version.Update()
}

func (c *Contract) recordEvent(event *events.Event) {
	c.events = append(c.events, event)
}
