package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/brokkr-io/brokkr/internal/apierr"
	"github.com/brokkr-io/brokkr/internal/broker/identity"
	"github.com/brokkr-io/brokkr/internal/broker/store/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// LookupByPAKHash satisfies identity.PrincipalLookup.
func (s *Store) LookupByPAKHash(ctx context.Context, hash string) (*model.Principal, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT id, kind, name, cluster_name, pak_hash, pak_prefix, lifecycle,
		       labels, annotations, last_seen_at, created_at, updated_at, deleted_at
		FROM principals WHERE pak_hash = $1 AND deleted_at IS NULL`, hash)
	return scanPrincipal(row)
}

// CreatePrincipal inserts a new principal and issues its initial PAK. The
// plaintext is returned exactly once.
func (s *Store) CreatePrincipal(ctx context.Context, kind model.PrincipalKind, name, clusterName string, labels []string, annotations map[string]string) (*model.Principal, string, error) {
	plaintext, hash, err := identity.GeneratePAK(kind)
	if err != nil {
		return nil, "", apierr.Wrap(apierr.Fatal, "generate pak", err)
	}

	id := newID("prin")
	lifecycle := model.AgentActive
	if kind == model.PrincipalAgent {
		lifecycle = model.AgentInactive // operator must explicitly activate (invariant #6)
	}

	_, err = s.Pool.Exec(ctx, `
		INSERT INTO principals (id, kind, name, cluster_name, pak_hash, pak_prefix, lifecycle, labels, annotations)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9::jsonb)`,
		id, string(kind), name, clusterName, hash, identity.Prefix(plaintext), string(lifecycle),
		marshalStrings(labels), marshalStringMap(annotations),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, "", apierr.Wrap(apierr.Conflict, "name already in use", err)
		}
		return nil, "", apierr.Wrap(apierr.Transient, "insert principal", err)
	}

	p := &model.Principal{
		ID: id, Kind: kind, Name: name, ClusterName: clusterName,
		PAKHash: hash, PAKPrefix: identity.Prefix(plaintext), Lifecycle: lifecycle,
		Labels: labels, Annotations: annotations,
	}
	return p, plaintext, nil
}

// RotatePAK atomically replaces a principal's PAK hash and returns the new plaintext.
func (s *Store) RotatePAK(ctx context.Context, principalID string) (string, error) {
	var kindStr string
	if err := s.Pool.QueryRow(ctx, `SELECT kind FROM principals WHERE id = $1 AND deleted_at IS NULL`, principalID).Scan(&kindStr); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", apierr.New(apierr.NotFound, "principal not found")
		}
		return "", apierr.Wrap(apierr.Transient, "lookup principal", err)
	}

	plaintext, hash, err := identity.GeneratePAK(model.PrincipalKind(kindStr))
	if err != nil {
		return "", apierr.Wrap(apierr.Fatal, "generate pak", err)
	}

	_, err = s.Pool.Exec(ctx, `UPDATE principals SET pak_hash = $1, pak_prefix = $2, updated_at = now() WHERE id = $3`,
		hash, identity.Prefix(plaintext), principalID)
	if err != nil {
		return "", apierr.Wrap(apierr.Transient, "update pak hash", err)
	}
	return plaintext, nil
}

// SetAgentLifecycle activates or deactivates an agent.
func (s *Store) SetAgentLifecycle(ctx context.Context, agentID string, active bool) error {
	lifecycle := model.AgentInactive
	if active {
		lifecycle = model.AgentActive
	}
	tag, err := s.Pool.Exec(ctx, `UPDATE principals SET lifecycle = $1, updated_at = now()
		WHERE id = $2 AND kind = 'agent' AND deleted_at IS NULL`, string(lifecycle), agentID)
	if err != nil {
		return apierr.Wrap(apierr.Transient, "update agent lifecycle", err)
	}
	if tag.RowsAffected() == 0 {
		return apierr.New(apierr.NotFound, "agent not found")
	}
	return nil
}

// GetPrincipal fetches a principal by id.
func (s *Store) GetPrincipal(ctx context.Context, id string) (*model.Principal, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT id, kind, name, cluster_name, pak_hash, pak_prefix, lifecycle,
		       labels, annotations, last_seen_at, created_at, updated_at, deleted_at
		FROM principals WHERE id = $1 AND deleted_at IS NULL`, id)
	p, err := scanPrincipal(row)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, apierr.New(apierr.NotFound, "principal not found")
	}
	return p, nil
}

// ListAgents returns every live agent principal.
func (s *Store) ListAgents(ctx context.Context) ([]*model.Principal, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, kind, name, cluster_name, pak_hash, pak_prefix, lifecycle,
		       labels, annotations, last_seen_at, created_at, updated_at, deleted_at
		FROM principals WHERE kind = 'agent' AND deleted_at IS NULL ORDER BY created_at`)
	if err != nil {
		return nil, apierr.Wrap(apierr.Transient, "list agents", err)
	}
	defer rows.Close()

	var out []*model.Principal
	for rows.Next() {
		p, err := scanPrincipalRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Heartbeat updates an agent's last_seen_at.
func (s *Store) Heartbeat(ctx context.Context, agentID string) error {
	_, err := s.Pool.Exec(ctx, `UPDATE principals SET last_seen_at = $1 WHERE id = $2`, time.Now().UTC(), agentID)
	if err != nil {
		return apierr.Wrap(apierr.Transient, "heartbeat", err)
	}
	return nil
}

// PatchHealth records an agent's optional self-reported deployment health
// (spec §4.8 step 3); it is independent of Heartbeat so a heartbeat without
// opted-in health reporting never clobbers the last known status.
func (s *Store) PatchHealth(ctx context.Context, agentID, status, message string) error {
	_, err := s.Pool.Exec(ctx, `UPDATE principals SET health_status = $1, health_message = $2, health_updated_at = $3 WHERE id = $4`,
		status, message, time.Now().UTC(), agentID)
	if err != nil {
		return apierr.Wrap(apierr.Transient, "patch health", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPrincipal(row pgx.Row) (*model.Principal, error) {
	return scanPrincipalScanner(row)
}

func scanPrincipalRows(rows pgx.Rows) (*model.Principal, error) {
	return scanPrincipalScanner(rows)
}

func scanPrincipalScanner(sc rowScanner) (*model.Principal, error) {
	var p model.Principal
	var kind, lifecycle string
	var labels, annotations []byte
	err := sc.Scan(&p.ID, &kind, &p.Name, &p.ClusterName, &p.PAKHash, &p.PAKPrefix, &lifecycle,
		&labels, &annotations, &p.LastSeenAt, &p.CreatedAt, &p.UpdatedAt, &p.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.Transient, "scan principal", err)
	}
	p.Kind = model.PrincipalKind(kind)
	p.Lifecycle = model.AgentLifecycle(lifecycle)
	p.Labels = unmarshalStrings(labels)
	p.Annotations = unmarshalStringMap(annotations)
	return &p, nil
}

// isUniqueViolation reports whether err is a Postgres unique_violation
// (SQLSTATE 23505) — the race-loser outcome for a duplicate name under a
// partial unique index (spec invariant #3).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
