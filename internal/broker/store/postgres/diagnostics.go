package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/brokkr-io/brokkr/internal/apierr"
	"github.com/brokkr-io/brokkr/internal/broker/store/model"
	"github.com/jackc/pgx/v5"
)

const diagnosticRequestColumns = `id, deployment_object_id, agent_id, requested_by, status, expires_at, created_at, updated_at`

// CreateDiagnosticRequest asks a specific agent to gather telemetry for a
// specific DeploymentObject — mirrors a work order but scoped to one
// (deployment object, agent) pair (spec §4.7).
func (s *Store) CreateDiagnosticRequest(ctx context.Context, deploymentObjectID, agentID, requestedBy string, ttl time.Duration) (*model.DiagnosticRequest, error) {
	id := newID("diag")
	expiresAt := time.Now().UTC().Add(ttl)
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO diagnostic_requests (id, deployment_object_id, agent_id, requested_by, expires_at)
		VALUES ($1, $2, $3, $4, $5)`,
		id, deploymentObjectID, agentID, requestedBy, expiresAt)
	if err != nil {
		return nil, apierr.Wrap(apierr.Transient, "insert diagnostic request", err)
	}
	return &model.DiagnosticRequest{
		ID: id, DeploymentObjectID: deploymentObjectID, AgentID: agentID, RequestedBy: requestedBy,
		Status: model.DiagnosticPending, ExpiresAt: expiresAt,
	}, nil
}

// PendingDiagnosticsForAgent lists claimable, unexpired diagnostic
// requests addressed to one agent.
func (s *Store) PendingDiagnosticsForAgent(ctx context.Context, agentID string) ([]*model.DiagnosticRequest, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT `+diagnosticRequestColumns+` FROM diagnostic_requests
		WHERE agent_id = $1 AND status = 'pending' AND expires_at > now()
		ORDER BY created_at`, agentID)
	if err != nil {
		return nil, apierr.Wrap(apierr.Transient, "list pending diagnostics", err)
	}
	defer rows.Close()

	var out []*model.DiagnosticRequest
	for rows.Next() {
		d, err := scanDiagnosticRequestRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ClaimDiagnosticRequest is the CAS claim step shared with the work-order
// queue's pattern (spec §4.4's atomic claim-and-complete, reused here).
func (s *Store) ClaimDiagnosticRequest(ctx context.Context, id, agentID string) (*model.DiagnosticRequest, error) {
	row := s.Pool.QueryRow(ctx, `
		UPDATE diagnostic_requests SET status = 'claimed', updated_at = now()
		WHERE id = $1 AND agent_id = $2 AND status = 'pending' AND expires_at > now()
		RETURNING `+diagnosticRequestColumns, id, agentID)
	d, err := scanDiagnosticRequest(row)
	if errors.Is(err, errNoRowsMapped) {
		return nil, apierr.New(apierr.Conflict, "diagnostic request already claimed or expired")
	}
	return d, err
}

// CompleteDiagnosticRequest stores the collected telemetry and marks the
// request complete.
func (s *Store) CompleteDiagnosticRequest(ctx context.Context, requestID, podStatusesJSON, eventsJSON, logTailsJSON string) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return apierr.Wrap(apierr.Transient, "begin diagnostic completion tx", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `UPDATE diagnostic_requests SET status = 'complete', updated_at = now() WHERE id = $1 AND status = 'claimed'`, requestID)
	if err != nil {
		return apierr.Wrap(apierr.Transient, "complete diagnostic request", err)
	}
	if tag.RowsAffected() == 0 {
		return apierr.New(apierr.Conflict, "diagnostic request not claimed")
	}

	resultID := newID("diagr")
	if _, err := tx.Exec(ctx, `
		INSERT INTO diagnostic_results (id, request_id, pod_statuses, events, log_tails)
		VALUES ($1, $2, $3, $4, $5)`,
		resultID, requestID, podStatusesJSON, eventsJSON, logTailsJSON); err != nil {
		return apierr.Wrap(apierr.Transient, "insert diagnostic result", err)
	}

	return tx.Commit(ctx)
}

// GetDiagnosticResult fetches the telemetry collected for a request, if any.
func (s *Store) GetDiagnosticResult(ctx context.Context, requestID string) (*model.DiagnosticResult, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT id, request_id, pod_statuses, events, log_tails, created_at
		FROM diagnostic_results WHERE request_id = $1`, requestID)
	var r model.DiagnosticResult
	err := row.Scan(&r.ID, &r.RequestID, &r.PodStatuses, &r.Events, &r.LogTails, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apierr.New(apierr.NotFound, "diagnostic result not found")
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.Transient, "scan diagnostic result", err)
	}
	return &r, nil
}

// ExpireStaleDiagnostics marks past-TTL pending/claimed requests expired,
// so a request nobody ever answers does not sit forever.
func (s *Store) ExpireStaleDiagnostics(ctx context.Context) (int64, error) {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE diagnostic_requests SET status = 'expired', updated_at = now()
		WHERE status IN ('pending', 'claimed') AND expires_at <= now()`)
	if err != nil {
		return 0, apierr.Wrap(apierr.Transient, "expire stale diagnostics", err)
	}
	return tag.RowsAffected(), nil
}

func scanDiagnosticRequest(row pgx.Row) (*model.DiagnosticRequest, error) {
	return scanDiagnosticRequestScanner(row)
}

func scanDiagnosticRequestRows(rows pgx.Rows) (*model.DiagnosticRequest, error) {
	return scanDiagnosticRequestScanner(rows)
}

func scanDiagnosticRequestScanner(sc woScanner) (*model.DiagnosticRequest, error) {
	var d model.DiagnosticRequest
	var status string
	err := sc.Scan(&d.ID, &d.DeploymentObjectID, &d.AgentID, &d.RequestedBy, &status, &d.ExpiresAt, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errNoRowsMapped
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.Transient, "scan diagnostic request", err)
	}
	d.Status = model.DiagnosticStatus(status)
	return &d, nil
}
