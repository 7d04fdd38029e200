package infrastructure

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/agrifood/contract-system/contract-service/domain"
	"github.com/agrifood/contract-system/shared/models"
	"github.com/agrifood/contract-system/shared/saga"
)

func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()

	db, err := sqlx.Connect("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, Migrate(context.Background(), db))
	// idempotent
	require.NoError(t, Migrate(context.Background(), db))
	return db
}

func newContract(buyerID, supplierID string) *domain.Contract {
	return domain.NewContract("proc-1", buyerID, supplierID, models.NewMoney(250000, "USD"), 40, models.GenerateUUID())
}

func TestSQLContractRepository_SaveAndFind(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLContractRepository(newTestDB(t))

	contract := newContract("buyer-1", "supplier-1")
	contract.MarkSaga(saga.StatusInProgress)
	require.NoError(t, repo.Save(ctx, contract))

	found, err := repo.FindByID(ctx, contract.ID)
	require.NoError(t, err)
	assert.Equal(t, contract.ContractNumber, found.ContractNumber)
	assert.Equal(t, contract.Amount, found.Amount)
	assert.Equal(t, int64(40), found.Quantity)
	assert.Equal(t, domain.ContractStatusDraft, found.Status)
	assert.Equal(t, saga.StatusInProgress, found.SagaStatus)
	assert.Nil(t, found.SignedAt)
	assert.WithinDuration(t, contract.Timestamps.CreatedAt, found.Timestamps.CreatedAt, time.Millisecond)

	bySaga, err := repo.FindBySagaID(ctx, contract.SagaID)
	require.NoError(t, err)
	assert.Equal(t, contract.ID, bySaga.ID)

	_, err = repo.FindByID(ctx, models.GenerateUUID())
	assert.ErrorIs(t, err, domain.ErrContractNotFound)

	// contract numbers are unique
	duplicate := newContract("buyer-1", "supplier-1")
	duplicate.ContractNumber = contract.ContractNumber
	assert.Error(t, repo.Save(ctx, duplicate))
}

func TestSQLContractRepository_UpdateUsesOptimisticLocking(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLContractRepository(newTestDB(t))

	contract := newContract("buyer-1", "supplier-1")
	require.NoError(t, repo.Save(ctx, contract))

	stale, err := repo.FindByID(ctx, contract.ID)
	require.NoError(t, err)

	require.NoError(t, contract.Sign(time.Now()))
	require.NoError(t, repo.Update(ctx, contract))

	signed, err := repo.FindByID(ctx, contract.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ContractStatusSigned, signed.Status)
	require.NotNil(t, signed.SignedAt)
	assert.Equal(t, 2, signed.Version.Value)

	stale.Status = domain.ContractStatusPending
	require.NoError(t, stale.Sign(time.Now()))
	assert.ErrorIs(t, repo.Update(ctx, stale), domain.ErrConcurrentModification)

	missing := newContract("buyer-1", "supplier-1")
	require.NoError(t, missing.Sign(time.Now()))
	assert.ErrorIs(t, repo.Update(ctx, missing), domain.ErrContractNotFound)
}

func TestSQLContractRepository_SagaStatusAndDelete(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLContractRepository(newTestDB(t))

	contract := newContract("buyer-1", "supplier-1")
	require.NoError(t, repo.Save(ctx, contract))

	require.NoError(t, repo.UpdateSagaStatus(ctx, contract.ID, saga.StatusCompleted))
	found, err := repo.FindByID(ctx, contract.ID)
	require.NoError(t, err)
	assert.Equal(t, saga.StatusCompleted, found.SagaStatus)
	assert.Equal(t, 1, found.Version.Value)

	require.NoError(t, repo.Delete(ctx, contract.ID))
	require.NoError(t, repo.Delete(ctx, contract.ID))

	_, err = repo.FindByID(ctx, contract.ID)
	assert.ErrorIs(t, err, domain.ErrContractNotFound)
	assert.ErrorIs(t, repo.UpdateSagaStatus(ctx, contract.ID, saga.StatusCompleted), domain.ErrContractNotFound)
}

func TestSQLContractRepository_List(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLContractRepository(newTestDB(t))

	a := newContract("buyer-1", "supplier-1")
	b := newContract("buyer-1", "supplier-2")
	c := newContract("buyer-2", "supplier-2")
	require.NoError(t, b.Sign(time.Now()))
	for _, contract := range []*domain.Contract{a, b, c} {
		require.NoError(t, repo.Save(ctx, contract))
	}

	all, err := repo.List(ctx, domain.ContractFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	byBuyer, err := repo.List(ctx, domain.ContractFilter{BuyerID: "buyer-1"})
	require.NoError(t, err)
	assert.Len(t, byBuyer, 2)

	bySupplierAndStatus, err := repo.List(ctx, domain.ContractFilter{SupplierID: "supplier-2", Status: domain.ContractStatusSigned})
	require.NoError(t, err)
	require.Len(t, bySupplierAndStatus, 1)
	assert.Equal(t, b.ID, bySupplierAndStatus[0].ID)

	page, err := repo.List(ctx, domain.ContractFilter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, page, 1)
}

func TestSQLCapacityRepository_ReserveAndRelease(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLCapacityRepository(newTestDB(t))

	_, err := repo.Adjust(ctx, "supplier-1", 100, domain.SupplierStatusActive)
	require.NoError(t, err)

	sagaID := models.GenerateUUID()
	require.NoError(t, repo.Reserve(ctx, sagaID, "supplier-1", 60))
	// same saga reserves once
	require.NoError(t, repo.Reserve(ctx, sagaID, "supplier-1", 60))

	capacity, err := repo.FindBySupplier(ctx, "supplier-1")
	require.NoError(t, err)
	assert.Equal(t, int64(60), capacity.Reserved)
	assert.Equal(t, int64(40), capacity.Available())

	reservation, err := repo.FindReservation(ctx, sagaID)
	require.NoError(t, err)
	require.NotNil(t, reservation)
	assert.Equal(t, domain.ReservationStatusReserved, reservation.Status)

	err = repo.Reserve(ctx, models.GenerateUUID(), "supplier-1", 41)
	assert.ErrorIs(t, err, domain.ErrInsufficientCapacity)

	require.NoError(t, repo.Release(ctx, sagaID))
	require.NoError(t, repo.Release(ctx, sagaID))
	require.NoError(t, repo.Release(ctx, models.GenerateUUID()))

	capacity, err = repo.FindBySupplier(ctx, "supplier-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), capacity.Reserved)

	reservation, err = repo.FindReservation(ctx, sagaID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationStatusReleased, reservation.Status)
	assert.NotNil(t, reservation.ReleasedAt)

	assert.ErrorIs(t, repo.Reserve(ctx, sagaID, "supplier-1", 10), domain.ErrReservationReleased)

	missing, err := repo.FindReservation(ctx, models.GenerateUUID())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLCapacityRepository_ReserveRejections(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLCapacityRepository(newTestDB(t))

	assert.ErrorIs(t, repo.Reserve(ctx, models.GenerateUUID(), "ghost", 1), domain.ErrSupplierNotFound)
	assert.ErrorIs(t, repo.Reserve(ctx, models.GenerateUUID(), "ghost", 0), domain.ErrInvalidCapacity)

	_, err := repo.Adjust(ctx, "supplier-1", 100, domain.SupplierStatusSuspended)
	require.NoError(t, err)
	assert.ErrorIs(t, repo.Reserve(ctx, models.GenerateUUID(), "supplier-1", 1), domain.ErrSupplierNotActive)
}

func TestSQLCapacityRepository_Adjust(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLCapacityRepository(newTestDB(t))

	_, err := repo.FindBySupplier(ctx, "supplier-1")
	assert.ErrorIs(t, err, domain.ErrSupplierNotFound)

	created, err := repo.Adjust(ctx, "supplier-1", 50, domain.SupplierStatusActive)
	require.NoError(t, err)
	assert.Equal(t, int64(50), created.Total)

	require.NoError(t, repo.Reserve(ctx, models.GenerateUUID(), "supplier-1", 30))

	_, err = repo.Adjust(ctx, "supplier-1", 20, domain.SupplierStatusActive)
	assert.ErrorIs(t, err, domain.ErrInvalidCapacity)

	updated, err := repo.Adjust(ctx, "supplier-1", 80, domain.SupplierStatusPendingReview)
	require.NoError(t, err)
	assert.Equal(t, int64(30), updated.Reserved)

	stored, err := repo.FindBySupplier(ctx, "supplier-1")
	require.NoError(t, err)
	assert.Equal(t, int64(80), stored.Total)
	assert.Equal(t, domain.SupplierStatusPendingReview, stored.Status)
}
