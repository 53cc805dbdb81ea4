// Package postgres implements Brokkr's canonical, shared broker datastore.
//
// The teacher persists each control-plane package's state in its own
// modernc.org/sqlite file, which is a fine fit for a single process owning
// its data. Brokkr's broker is explicitly multi-replica behind one shared
// datastore with row-level claim races (spec §5), which SQLite's
// single-writer model cannot serve — so the store here is pgx/Postgres
// instead, grounded on the teacher's own (sparse) pgx usage in
// internal/tools/sql.go and reinforced by pgx appearing across the wider
// example pack.
package postgres

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

//go:embed schema.sql
var schemaSQL string

// Store wraps a pgxpool connection pool with Brokkr's domain queries.
type Store struct {
	Pool   *pgxpool.Pool
	logger *zap.Logger
}

// Config configures the datastore connection.
type Config struct {
	// DSN is the Postgres connection string.
	DSN string
	// Schema, when non-empty, is set as search_path on every checked-out
	// connection. Validated against a whitelist pattern to bar injection
	// (spec §5 shared-resource policy).
	Schema string
	// MaxConns bounds the pool (spec §5: "bounded; every query checks out
	// then releases").
	MaxConns int32
}

var schemaNamePattern = func(s string) bool {
	if s == "" {
		return true
	}
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_') {
			return false
		}
	}
	return true
}

// Open connects to Postgres, applies the schema, and checks the schema
// version is not ahead of this binary. A schema-name-validation or
// version-mismatch failure is Fatal: no partially-initialized broker
// accepts traffic.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if !schemaNamePattern(cfg.Schema) {
		return nil, fmt.Errorf("postgres: schema name %q fails validation", cfg.Schema)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse DSN: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.Schema != "" {
		// Every checked-out connection sets search_path before use (spec
		// §5); RuntimeParams applies it once at connection-establishment
		// time for the whole pool.
		poolCfg.ConnConfig.RuntimeParams["search_path"] = cfg.Schema
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: open pool: %w", err)
	}

	s := &Store{Pool: pool, logger: logger}

	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if err := EnsureVersion(ctx, pool, BinarySchemaVersion); err != nil {
		pool.Close()
		return nil, err
	}
	if err := CheckVersion(ctx, pool, BinarySchemaVersion); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

// ensureSchema applies schema.sql. Postgres's extended query protocol
// (which pgx uses by default) rejects multiple commands per call, so each
// statement runs separately inside one transaction.
func (s *Store) ensureSchema(ctx context.Context) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin schema tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, stmt := range splitStatements(schemaSQL) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: apply schema statement: %w\n%s", err, stmt)
		}
	}

	return tx.Commit(ctx)
}

func splitStatements(sql string) []string {
	return strings.Split(sql, ";\n")
}

// Close releases the pool.
func (s *Store) Close() {
	s.Pool.Close()
}

// newID returns an opaque, collision-resistant id (spec §3: "id (opaque
// unique)"). google/uuid is already a teacher indirect dependency; this
// gives it a direct home.
func newID(prefix string) string {
	return prefix + "_" + uuid.New().String()
}
