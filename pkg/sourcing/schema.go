package sourcing

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// CreateTable creates the table a PostgresActiveRecordStrategy expects,
// idempotently. It is a convenience for tests and small programs; production
// deployments are expected to manage the schema with their own migration
// tooling.
func CreateTable(ctx context.Context, pool *pgxpool.Pool, table string) error {
	sql := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			sequence_id UUID NOT NULL,
			position DOUBLE PRECISION NOT NULL,
			topic TEXT NOT NULL,
			data BYTEA NOT NULL,
			PRIMARY KEY (sequence_id, position)
		);
	`, table)
	if _, err := pool.Exec(ctx, sql); err != nil {
		return &StorageError{StoreError{Op: "CreateTable", Err: err}}
	}
	return nil
}

// DropTable drops table if it exists, for test teardown.
func DropTable(ctx context.Context, pool *pgxpool.Pool, table string) error {
	sql := fmt.Sprintf(`DROP TABLE IF EXISTS %s;`, table)
	if _, err := pool.Exec(ctx, sql); err != nil {
		return &StorageError{StoreError{Op: "DropTable", Err: err}}
	}
	return nil
}
