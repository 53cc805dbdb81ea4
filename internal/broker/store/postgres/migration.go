package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// BinarySchemaVersion is the schema version this binary expects. Bump it
// whenever schema.sql gains a backward-incompatible change.
const BinarySchemaVersion = 1

// CurrentVersion returns the schema version recorded in the database, or 0
// if no version has ever been recorded.
func CurrentVersion(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	var version int
	err := pool.QueryRow(ctx, `SELECT version FROM schema_version WHERE id = 1`).Scan(&version)
	if err == pgx.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema_version: %w", err)
	}
	return version, nil
}

// EnsureVersion records initialVersion if no version has been set yet. Safe
// to call on every boot.
func EnsureVersion(ctx context.Context, pool *pgxpool.Pool, initialVersion int) error {
	current, err := CurrentVersion(ctx, pool)
	if err != nil {
		return err
	}
	if current != 0 {
		return nil
	}
	_, err = pool.Exec(ctx, `INSERT INTO schema_version (id, version) VALUES (1, $1)
		ON CONFLICT (id) DO NOTHING`, initialVersion)
	if err != nil {
		return fmt.Errorf("set initial schema version: %w", err)
	}
	return nil
}

// CheckVersion refuses to proceed if the stored schema version is newer
// than this binary understands — a stale binary against a migrated schema
// is a Fatal error per spec §7, not a startup-time guess.
func CheckVersion(ctx context.Context, pool *pgxpool.Pool, binaryVersion int) error {
	current, err := CurrentVersion(ctx, pool)
	if err != nil {
		return err
	}
	if current > binaryVersion {
		return fmt.Errorf(
			"datastore schema version %d is newer than binary version %d — "+
				"refusing to start (deploy a newer binary)",
			current, binaryVersion,
		)
	}
	return nil
}
