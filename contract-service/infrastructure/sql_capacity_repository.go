package infrastructure

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/agrifood/contract-system/contract-service/domain"
	"github.com/agrifood/contract-system/shared/models"
)

var _ domain.CapacityRepository = (*SQLCapacityRepository)(nil)

// SQLCapacityRepository implements CapacityRepository with sqlx. Capacity
// checks are folded into conditional updates so no row locks are needed.
type SQLCapacityRepository struct {
	db *sqlx.DB
}

// NewSQLCapacityRepository creates a new SQLCapacityRepository
func NewSQLCapacityRepository(db *sqlx.DB) *SQLCapacityRepository {
	return &SQLCapacityRepository{db: db}
}

// queryer is satisfied by both *sqlx.DB and *sqlx.Tx
type queryer interface {
	sqlx.QueryerContext
	Rebind(query string) string
}

type sqlCapacity struct {
	SupplierID    string    `db:"supplier_id"`
	Status        string    `db:"status"`
	TotalCapacity int64     `db:"total_capacity"`
	Reserved      int64     `db:"reserved"`
	UpdatedAt     time.Time `db:"updated_at"`
}

type sqlReservation struct {
	ID         string     `db:"id"`
	SupplierID string     `db:"supplier_id"`
	Quantity   int64      `db:"quantity"`
	Status     string     `db:"status"`
	CreatedAt  time.Time  `db:"created_at"`
	ReleasedAt *time.Time `db:"released_at"`
}

// Reserve holds quantity units of supplierID for reservationID
func (r *SQLCapacityRepository) Reserve(ctx context.Context, reservationID models.ID, supplierID string, quantity int64) error {
	if quantity <= 0 {
		return errors.Wrapf(domain.ErrInvalidCapacity, "quantity %d", quantity)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	existing, err := findReservation(ctx, tx, reservationID)
	if err != nil {
		return err
	}
	if existing != nil {
		if existing.Status == string(domain.ReservationStatusReleased) {
			return errors.Wrapf(domain.ErrReservationReleased, "reservation %s", reservationID)
		}
		return nil
	}

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, tx.Rebind(`
		UPDATE supplier_capacity
		SET reserved = reserved + ?, updated_at = ?
		WHERE supplier_id = ? AND status = ? AND total_capacity - reserved >= ?`),
		quantity, now, supplierID, string(domain.SupplierStatusActive), quantity)
	if err != nil {
		return errors.Wrap(err, "failed to reserve capacity")
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read affected rows")
	}
	if affected == 0 {
		capacity, err := findCapacity(ctx, tx, supplierID)
		if err != nil {
			return err
		}
		if err := capacity.CanReserve(quantity); err != nil {
			return err
		}
		return errors.Wrap(domain.ErrInsufficientCapacity, "capacity changed during reservation")
	}

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO capacity_reservations (id, supplier_id, quantity, status, created_at)
		VALUES (:id, :supplier_id, :quantity, :status, :created_at)`,
		&sqlReservation{
			ID:         reservationID.String(),
			SupplierID: supplierID,
			Quantity:   quantity,
			Status:     string(domain.ReservationStatusReserved),
			CreatedAt:  now,
		})
	if err != nil {
		return errors.Wrap(err, "failed to insert reservation")
	}

	return errors.Wrap(tx.Commit(), "failed to commit reservation")
}

// Release returns the capacity held by reservationID
func (r *SQLCapacityRepository) Release(ctx context.Context, reservationID models.ID) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	reservation, err := findReservation(ctx, tx, reservationID)
	if err != nil {
		return err
	}
	if reservation == nil || reservation.Status == string(domain.ReservationStatusReleased) {
		return nil
	}

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, tx.Rebind(`
		UPDATE capacity_reservations SET status = ?, released_at = ?
		WHERE id = ? AND status = ?`),
		string(domain.ReservationStatusReleased), now, reservationID.String(), string(domain.ReservationStatusReserved))
	if err != nil {
		return errors.Wrap(err, "failed to release reservation")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read affected rows")
	}
	if affected == 0 {
		// released concurrently
		return nil
	}

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		UPDATE supplier_capacity SET reserved = reserved - ?, updated_at = ?
		WHERE supplier_id = ?`),
		reservation.Quantity, now, reservation.SupplierID)
	if err != nil {
		return errors.Wrap(err, "failed to release capacity")
	}

	return errors.Wrap(tx.Commit(), "failed to commit release")
}

// FindBySupplier returns the capacity of a supplier
func (r *SQLCapacityRepository) FindBySupplier(ctx context.Context, supplierID string) (*domain.SupplierCapacity, error) {
	return findCapacity(ctx, r.db, supplierID)
}

// FindReservation returns a reservation, or nil when it does not exist
func (r *SQLCapacityRepository) FindReservation(ctx context.Context, reservationID models.ID) (*domain.Reservation, error) {
	row, err := findReservation(ctx, r.db, reservationID)
	if err != nil || row == nil {
		return nil, err
	}
	return &domain.Reservation{
		ID:         models.ID(row.ID),
		SupplierID: row.SupplierID,
		Quantity:   row.Quantity,
		Status:     domain.ReservationStatus(row.Status),
		CreatedAt:  row.CreatedAt.UTC(),
		ReleasedAt: utcPtr(row.ReleasedAt),
	}, nil
}

// Adjust creates or updates the capacity of a supplier
func (r *SQLCapacityRepository) Adjust(ctx context.Context, supplierID string, total int64, status domain.SupplierStatus) (*domain.SupplierCapacity, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	capacity, err := findCapacity(ctx, tx, supplierID)
	exists := err == nil
	switch {
	case errors.Is(err, domain.ErrSupplierNotFound):
		capacity = &domain.SupplierCapacity{SupplierID: supplierID}
	case err != nil:
		return nil, err
	}

	if err := capacity.Adjust(total, status); err != nil {
		return nil, err
	}

	row := &sqlCapacity{
		SupplierID:    capacity.SupplierID,
		Status:        string(capacity.Status),
		TotalCapacity: capacity.Total,
		Reserved:      capacity.Reserved,
		UpdatedAt:     capacity.UpdatedAt,
	}

	query := `
		INSERT INTO supplier_capacity (supplier_id, status, total_capacity, reserved, updated_at)
		VALUES (:supplier_id, :status, :total_capacity, :reserved, :updated_at)`
	if exists {
		// reserved may have moved since the read; the CHECK constraint
		// rejects a total below it
		query = `
			UPDATE supplier_capacity
			SET status = :status, total_capacity = :total_capacity, updated_at = :updated_at
			WHERE supplier_id = :supplier_id`
	}

	if _, err := tx.NamedExecContext(ctx, query, row); err != nil {
		return nil, errors.Wrap(err, "failed to store supplier capacity")
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit supplier capacity")
	}
	return capacity, nil
}

func findCapacity(ctx context.Context, q queryer, supplierID string) (*domain.SupplierCapacity, error) {
	var row sqlCapacity
	err := sqlx.GetContext(ctx, q, &row, q.Rebind(`
		SELECT supplier_id, status, total_capacity, reserved, updated_at
		FROM supplier_capacity WHERE supplier_id = ?`), supplierID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(domain.ErrSupplierNotFound, "supplier %s", supplierID)
		}
		return nil, errors.Wrap(err, "failed to find supplier capacity")
	}

	return &domain.SupplierCapacity{
		SupplierID: row.SupplierID,
		Status:     domain.SupplierStatus(row.Status),
		Total:      row.TotalCapacity,
		Reserved:   row.Reserved,
		UpdatedAt:  row.UpdatedAt.UTC(),
	}, nil
}

func findReservation(ctx context.Context, q queryer, reservationID models.ID) (*sqlReservation, error) {
	var row sqlReservation
	err := sqlx.GetContext(ctx, q, &row, q.Rebind(`
		SELECT id, supplier_id, quantity, status, created_at, released_at
		FROM capacity_reservations WHERE id = ?`), reservationID.String())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to find reservation")
	}
	return &row, nil
}
