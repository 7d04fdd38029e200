package infrastructure

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/agrifood/contract-system/contract-service/domain"
	"github.com/agrifood/contract-system/shared/models"
	"github.com/agrifood/contract-system/shared/saga"
)

var _ domain.ContractRepository = (*SQLContractRepository)(nil)

const defaultListLimit = 100

// SQLContractRepository implements ContractRepository with sqlx
type SQLContractRepository struct {
	db *sqlx.DB
}

// NewSQLContractRepository creates a new SQLContractRepository
func NewSQLContractRepository(db *sqlx.DB) *SQLContractRepository {
	return &SQLContractRepository{db: db}
}

type sqlContract struct {
	ID             string     `db:"id"`
	ContractNumber string     `db:"contract_number"`
	ProcurementID  string     `db:"procurement_id"`
	BuyerID        string     `db:"buyer_id"`
	SupplierID     string     `db:"supplier_id"`
	Amount         int64      `db:"amount"`
	Currency       string     `db:"currency"`
	Quantity       int64      `db:"quantity"`
	Status         string     `db:"status"`
	SagaID         string     `db:"saga_id"`
	SagaStatus     string     `db:"saga_status"`
	DeliveryStatus string     `db:"delivery_status"`
	SignedAt       *time.Time `db:"signed_at"`
	CompletedAt    *time.Time `db:"completed_at"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
	Version        int        `db:"version"`
}

const contractColumns = `
	id, contract_number, procurement_id, buyer_id, supplier_id, amount, currency,
	quantity, status, saga_id, saga_status, delivery_status, signed_at, completed_at,
	created_at, updated_at, version`

// Save inserts a new contract
func (r *SQLContractRepository) Save(ctx context.Context, contract *domain.Contract) error {
	query := `
		INSERT INTO contracts (` + contractColumns + `
		) VALUES (
			:id, :contract_number, :procurement_id, :buyer_id, :supplier_id, :amount, :currency,
			:quantity, :status, :saga_id, :saga_status, :delivery_status, :signed_at, :completed_at,
			:created_at, :updated_at, :version
		)`

	if _, err := r.db.NamedExecContext(ctx, query, toSQLContract(contract)); err != nil {
		return errors.Wrap(err, "failed to insert contract")
	}
	return nil
}

// Update stores a modified contract using optimistic locking on version
func (r *SQLContractRepository) Update(ctx context.Context, contract *domain.Contract) error {
	query := `
		UPDATE contracts
		SET status = :status, saga_status = :saga_status, delivery_status = :delivery_status,
			signed_at = :signed_at, completed_at = :completed_at,
			updated_at = :updated_at, version = :version
		WHERE id = :id AND version = :old_version`

	res, err := r.db.NamedExecContext(ctx, query, map[string]any{
		"id":              contract.ID.String(),
		"status":          string(contract.Status),
		"saga_status":     string(contract.SagaStatus),
		"delivery_status": contract.DeliveryStatus,
		"signed_at":       utcPtr(contract.SignedAt),
		"completed_at":    utcPtr(contract.CompletedAt),
		"updated_at":      contract.Timestamps.UpdatedAt.UTC(),
		"version":         contract.Version.Value,
		"old_version":     contract.Version.Value - 1,
	})
	if err != nil {
		return errors.Wrap(err, "failed to update contract")
	}

	return r.checkAffected(ctx, res, contract.ID, domain.ErrConcurrentModification)
}

// UpdateSagaStatus records the creation saga status without bumping the version
func (r *SQLContractRepository) UpdateSagaStatus(ctx context.Context, id models.ID, status saga.Status) error {
	res, err := r.db.ExecContext(ctx,
		r.db.Rebind(`UPDATE contracts SET saga_status = ? WHERE id = ?`),
		string(status), id.String())
	if err != nil {
		return errors.Wrap(err, "failed to update saga status")
	}
	return r.checkAffected(ctx, res, id, domain.ErrContractNotFound)
}

// Delete removes a contract
func (r *SQLContractRepository) Delete(ctx context.Context, id models.ID) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM contracts WHERE id = ?`), id.String())
	return errors.Wrap(err, "failed to delete contract")
}

// FindByID finds a contract by ID
func (r *SQLContractRepository) FindByID(ctx context.Context, id models.ID) (*domain.Contract, error) {
	return r.findOne(ctx, "id", id.String())
}

// FindBySagaID finds the contract created by a saga
func (r *SQLContractRepository) FindBySagaID(ctx context.Context, sagaID models.ID) (*domain.Contract, error) {
	return r.findOne(ctx, "saga_id", sagaID.String())
}

func (r *SQLContractRepository) findOne(ctx context.Context, column, value string) (*domain.Contract, error) {
	query := r.db.Rebind(`SELECT ` + contractColumns + ` FROM contracts WHERE ` + column + ` = ?`)

	var row sqlContract
	if err := r.db.GetContext(ctx, &row, query, value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrContractNotFound
		}
		return nil, errors.Wrap(err, "failed to find contract")
	}
	return row.toDomain(), nil
}

// List returns contracts matching filter, newest first
func (r *SQLContractRepository) List(ctx context.Context, filter domain.ContractFilter) ([]*domain.Contract, error) {
	var (
		conditions []string
		args       []any
	)
	if filter.BuyerID != "" {
		conditions = append(conditions, "buyer_id = ?")
		args = append(args, filter.BuyerID)
	}
	if filter.SupplierID != "" {
		conditions = append(conditions, "supplier_id = ?")
		args = append(args, filter.SupplierID)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := `SELECT ` + contractColumns + ` FROM contracts`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	query += ` ORDER BY created_at DESC, id ASC LIMIT ? OFFSET ?`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	args = append(args, limit, max(filter.Offset, 0))

	var rows []sqlContract
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, errors.Wrap(err, "failed to list contracts")
	}

	contracts := make([]*domain.Contract, len(rows))
	for i := range rows {
		contracts[i] = rows[i].toDomain()
	}
	return contracts, nil
}

// checkAffected maps a zero-row update to ErrContractNotFound when the
// contract does not exist, else to conflict.
func (r *SQLContractRepository) checkAffected(ctx context.Context, res sql.Result, id models.ID, conflict error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read affected rows")
	}
	if affected > 0 {
		return nil
	}

	var exists int
	err = r.db.GetContext(ctx, &exists, r.db.Rebind(`SELECT COUNT(1) FROM contracts WHERE id = ?`), id.String())
	if err != nil {
		return errors.Wrap(err, "failed to check contract")
	}
	if exists == 0 {
		return domain.ErrContractNotFound
	}
	return conflict
}

func toSQLContract(c *domain.Contract) *sqlContract {
	return &sqlContract{
		ID:             c.ID.String(),
		ContractNumber: c.ContractNumber,
		ProcurementID:  c.ProcurementID,
		BuyerID:        c.BuyerID,
		SupplierID:     c.SupplierID,
		Amount:         c.Amount.Amount,
		Currency:       c.Amount.Currency,
		Quantity:       c.Quantity,
		Status:         string(c.Status),
		SagaID:         c.SagaID.String(),
		SagaStatus:     string(c.SagaStatus),
		DeliveryStatus: c.DeliveryStatus,
		SignedAt:       utcPtr(c.SignedAt),
		CompletedAt:    utcPtr(c.CompletedAt),
		CreatedAt:      c.Timestamps.CreatedAt.UTC(),
		UpdatedAt:      c.Timestamps.UpdatedAt.UTC(),
		Version:        c.Version.Value,
	}
}

func (row *sqlContract) toDomain() *domain.Contract {
	return &domain.Contract{
		ID:             models.ID(row.ID),
		ContractNumber: row.ContractNumber,
		ProcurementID:  row.ProcurementID,
		BuyerID:        row.BuyerID,
		SupplierID:     row.SupplierID,
		Amount:         models.NewMoney(row.Amount, row.Currency),
		Quantity:       row.Quantity,
		Status:         domain.ContractStatus(row.Status),
		SagaID:         models.ID(row.SagaID),
		SagaStatus:     saga.Status(row.SagaStatus),
		DeliveryStatus: row.DeliveryStatus,
		SignedAt:       utcPtr(row.SignedAt),
		CompletedAt:    utcPtr(row.CompletedAt),
		Timestamps: models.Timestamps{
			CreatedAt: row.CreatedAt.UTC(),
			UpdatedAt: row.UpdatedAt.UTC(),
		},
		Version: models.Version{Value: row.Version},
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}
