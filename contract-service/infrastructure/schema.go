package infrastructure

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	sharedinfra "github.com/agrifood/contract-system/shared/infrastructure"
)

// schema is portable between PostgreSQL and SQLite
var schema = []string{
	`CREATE TABLE IF NOT EXISTS contracts (
		id              TEXT PRIMARY KEY,
		contract_number TEXT NOT NULL UNIQUE,
		procurement_id  TEXT NOT NULL,
		buyer_id        TEXT NOT NULL,
		supplier_id     TEXT NOT NULL,
		amount          BIGINT NOT NULL,
		currency        TEXT NOT NULL,
		quantity        BIGINT NOT NULL,
		status          TEXT NOT NULL,
		saga_id         TEXT NOT NULL UNIQUE,
		saga_status     TEXT NOT NULL,
		delivery_status TEXT NOT NULL DEFAULT '',
		signed_at       TIMESTAMP NULL,
		completed_at    TIMESTAMP NULL,
		created_at      TIMESTAMP NOT NULL,
		updated_at      TIMESTAMP NOT NULL,
		version         INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_contracts_buyer ON contracts (buyer_id)`,
	`CREATE INDEX IF NOT EXISTS idx_contracts_supplier ON contracts (supplier_id)`,
	`CREATE INDEX IF NOT EXISTS idx_contracts_status ON contracts (status)`,
	`CREATE TABLE IF NOT EXISTS supplier_capacity (
		supplier_id    TEXT PRIMARY KEY,
		status         TEXT NOT NULL,
		total_capacity BIGINT NOT NULL,
		reserved       BIGINT NOT NULL DEFAULT 0,
		updated_at     TIMESTAMP NOT NULL,
		CHECK (reserved >= 0 AND reserved <= total_capacity)
	)`,
	`CREATE TABLE IF NOT EXISTS capacity_reservations (
		id          TEXT PRIMARY KEY,
		supplier_id TEXT NOT NULL,
		quantity    BIGINT NOT NULL,
		status      TEXT NOT NULL,
		created_at  TIMESTAMP NOT NULL,
		released_at TIMESTAMP NULL
	)`,
	sharedinfra.EventStoreSchema,
}

// Migrate creates the contract service tables if they do not exist
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "failed to apply schema")
		}
	}
	return nil
}
