package persistence

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	sqlassets "github.com/zenGate-Global/palmyra-worlds/database"
	"github.com/zenGate-Global/palmyra-worlds/platform/go/sqlscript"
)

// BootstrapRegistry creates the worlds schema and the game server registry table in a
// single transaction. The DDL is embedded at build time and idempotent, so the helper is
// safe to run from the CLI on every deploy and from tests.
func BootstrapRegistry(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return fmt.Errorf("bootstrap registry: pool is required")
	}

	statements, err := sqlscript.Split(sqlassets.RegistrySQL)
	if err != nil {
		return fmt.Errorf("bootstrap registry: split ddl: %w", err)
	}

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	for _, stmt := range statements {
		if _, err := tx.Exec(ctx, stmt.SQL); err != nil {
			return fmt.Errorf("apply ddl (line %d): %w", stmt.Line, err)
		}
	}

	return tx.Commit(ctx)
}
