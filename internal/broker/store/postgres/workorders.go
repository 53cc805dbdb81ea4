package postgres

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/brokkr-io/brokkr/internal/apierr"
	"github.com/brokkr-io/brokkr/internal/broker/store/model"
	"github.com/jackc/pgx/v5"
)

// ErrInvalidWorkOrderTransition mirrors the teacher's jobs package: claim
// and complete are conditional updates, and a lost race is a distinct,
// recognizable error rather than a generic one.
var ErrInvalidWorkOrderTransition = errors.New("invalid work order status transition")

// CreateWorkOrder inserts a new PENDING work order. Empty targeting is
// rejected here, not merely at the HTTP layer, so every caller of this
// store method gets the same guarantee (spec §9 Open Question #1).
func (s *Store) CreateWorkOrder(ctx context.Context, workType, yaml string, targeting model.WorkOrderTargeting, maxRetries, backoffSeconds, claimTimeoutSeconds int) (*model.WorkOrder, error) {
	if targeting.Empty() {
		return nil, apierr.New(apierr.Validation, "work order targeting must specify at least one agent id, label, or annotation")
	}

	id := newID("wo")
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO work_orders (id, work_type, yaml, targeting_agent_ids, targeting_labels, targeting_annotations,
		                          max_retries, backoff_seconds, claim_timeout_seconds)
		VALUES ($1, $2, $3, $4::jsonb, $5::jsonb, $6::jsonb, $7, $8, $9)`,
		id, workType, yaml,
		marshalStrings(targeting.AgentIDs), marshalStrings(targeting.Labels), marshalStringMap(targeting.Annotations),
		maxRetries, backoffSeconds, claimTimeoutSeconds,
	)
	if err != nil {
		return nil, apierr.Wrap(apierr.Transient, "insert work order", err)
	}

	return &model.WorkOrder{
		ID: id, WorkType: workType, YAML: yaml, Targeting: targeting,
		MaxRetries: maxRetries, BackoffSeconds: backoffSeconds, ClaimTimeoutSeconds: claimTimeoutSeconds,
		Status: model.WorkOrderPending,
	}, nil
}

// PendingForAgent returns every claimable (PENDING, or RETRY_PENDING whose
// backoff has elapsed) work order whose targeting admits this agent. The
// candidate set is loaded in one query and filtered with
// WorkOrderTargeting.Matches in Go, mirroring the teacher's preference for
// simple SQL plus app-side filtering over deeply nested JSONB predicates.
func (s *Store) PendingForAgent(ctx context.Context, agentID string, agentLabels []string, agentAnnotations map[string]string) ([]*model.WorkOrder, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT `+workOrderColumns+`
		FROM work_orders
		WHERE deleted_at IS NULL
		  AND (status = 'PENDING' OR (status = 'RETRY_PENDING' AND (next_retry_after IS NULL OR next_retry_after <= now())))
		ORDER BY created_at`)
	if err != nil {
		return nil, apierr.Wrap(apierr.Transient, "list claimable work orders", err)
	}
	defer rows.Close()

	var out []*model.WorkOrder
	for rows.Next() {
		wo, err := scanWorkOrderRows(rows)
		if err != nil {
			return nil, err
		}
		if wo.Targeting.Matches(agentID, agentLabels, agentAnnotations) {
			out = append(out, wo)
		}
	}
	return out, rows.Err()
}

// ClaimWorkOrder performs the atomic claim CAS: only a work order still in
// PENDING or RETRY_PENDING can be claimed, and only one caller wins the
// race (spec §4.4 "atomic claim-and-complete pattern").
func (s *Store) ClaimWorkOrder(ctx context.Context, id, agentID string) (*model.WorkOrder, error) {
	row := s.Pool.QueryRow(ctx, `
		UPDATE work_orders
		SET status = 'CLAIMED', claimed_by = $1, claimed_at = now(), updated_at = now()
		WHERE id = $2 AND deleted_at IS NULL AND status IN ('PENDING', 'RETRY_PENDING')
		  AND (status = 'PENDING' OR next_retry_after IS NULL OR next_retry_after <= now())
		RETURNING `+workOrderColumns, agentID, id)

	wo, err := scanWorkOrder(row)
	if errors.Is(err, errNoRowsMapped) {
		if _, getErr := s.GetWorkOrder(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, apierr.Wrap(apierr.Conflict, "work order already claimed", ErrInvalidWorkOrderTransition)
	}
	return wo, err
}

// CompleteWorkOrder finalizes a claim. On success, or on a failure that
// has exhausted max_retries, the row moves to work_order_logs (terminal,
// id preserved) and is removed from the live table. On a retryable
// failure it returns to RETRY_PENDING with exponential backoff
// (backoff_seconds * 2^retry_count, spec §4.4).
func (s *Store) CompleteWorkOrder(ctx context.Context, id, agentID string, success bool, resultMessage string) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return apierr.Wrap(apierr.Transient, "begin complete tx", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `SELECT `+workOrderColumns+` FROM work_orders
		WHERE id = $1 AND claimed_by = $2 AND status = 'CLAIMED' FOR UPDATE`, id, agentID)
	wo, err := scanWorkOrder(row)
	if errors.Is(err, errNoRowsMapped) {
		return apierr.Wrap(apierr.Conflict, "work order not claimed by this agent", ErrInvalidWorkOrderTransition)
	}
	if err != nil {
		return err
	}

	if success {
		logID := newID("wol")
		if _, err := tx.Exec(ctx, `
			INSERT INTO work_order_logs (id, original_work_order_id, work_type, success, result_message, attempts, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			logID, wo.ID, wo.WorkType, true, resultMessage, wo.RetryCount+1, wo.CreatedAt); err != nil {
			return apierr.Wrap(apierr.Transient, "insert work order log", err)
		}
		if _, err := tx.Exec(ctx, `UPDATE work_orders SET deleted_at = now() WHERE id = $1`, id); err != nil {
			return apierr.Wrap(apierr.Transient, "retire work order", err)
		}
		return tx.Commit(ctx)
	}

	if err := applyWorkOrderFailure(ctx, tx, wo, resultMessage); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// applyWorkOrderFailure moves wo to its terminal log row (success=false)
// once retries are exhausted, or schedules an exponential-backoff retry
// otherwise (backoff_seconds * 2^retry_count, spec §4.4). Shared by
// CompleteWorkOrder's success=false path and RecoverStaleClaims' stale-claim
// path, which the spec says "treats them as a failure (same path as
// success=false above)."
func applyWorkOrderFailure(ctx context.Context, tx pgx.Tx, wo *model.WorkOrder, resultMessage string) error {
	if wo.RetryCount+1 >= wo.MaxRetries {
		logID := newID("wol")
		if _, err := tx.Exec(ctx, `
			INSERT INTO work_order_logs (id, original_work_order_id, work_type, success, result_message, attempts, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			logID, wo.ID, wo.WorkType, false, resultMessage, wo.RetryCount+1, wo.CreatedAt); err != nil {
			return apierr.Wrap(apierr.Transient, "insert work order log", err)
		}
		if _, err := tx.Exec(ctx, `UPDATE work_orders SET deleted_at = now() WHERE id = $1`, wo.ID); err != nil {
			return apierr.Wrap(apierr.Transient, "retire work order", err)
		}
		return nil
	}

	retryCount := wo.RetryCount + 1
	delaySeconds := float64(wo.BackoffSeconds) * math.Pow(2, float64(retryCount))
	nextRetry := time.Now().UTC().Add(time.Duration(delaySeconds) * time.Second)
	_, err := tx.Exec(ctx, `
		UPDATE work_orders
		SET status = 'RETRY_PENDING', claimed_by = NULL, claimed_at = NULL,
		    retry_count = $1, last_error = $2, last_error_at = now(), next_retry_after = $3, updated_at = now()
		WHERE id = $4`,
		retryCount, resultMessage, nextRetry, wo.ID)
	if err != nil {
		return apierr.Wrap(apierr.Transient, "schedule work order retry", err)
	}
	return nil
}

// RecoverStaleClaims treats every CLAIMED work order whose per-order
// claim_timeout_seconds has elapsed as a crashed-agent failure: each row
// goes through applyWorkOrderFailure exactly like a reported success=false,
// incrementing retry_count and either scheduling a backoff retry or
// retiring the row to the log once max_retries is exhausted (spec §4.4
// stale-claim recovery tick, ~30s; S3).
func (s *Store) RecoverStaleClaims(ctx context.Context) (int64, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id FROM work_orders
		WHERE status = 'CLAIMED' AND deleted_at IS NULL
		  AND claimed_at + (claim_timeout_seconds * interval '1 second') < now()`)
	if err != nil {
		return 0, apierr.Wrap(apierr.Transient, "list stale claims", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, apierr.Wrap(apierr.Transient, "scan stale claim id", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, apierr.Wrap(apierr.Transient, "iterate stale claims", err)
	}

	var recovered int64
	for _, id := range ids {
		if err := s.failStaleClaim(ctx, id); err != nil {
			return recovered, err
		}
		recovered++
	}
	return recovered, nil
}

// failStaleClaim re-confirms (under FOR UPDATE) that id is still a stale
// CLAIMED row before failing it, so a concurrent completion or a second
// broker replica's tick can't double-count the same claim.
func (s *Store) failStaleClaim(ctx context.Context, id string) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return apierr.Wrap(apierr.Transient, "begin stale claim tx", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `SELECT `+workOrderColumns+` FROM work_orders
		WHERE id = $1 AND status = 'CLAIMED'
		  AND claimed_at + (claim_timeout_seconds * interval '1 second') < now() FOR UPDATE`, id)
	wo, err := scanWorkOrder(row)
	if errors.Is(err, errNoRowsMapped) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := applyWorkOrderFailure(ctx, tx, wo, "stale claim: claim_timeout_seconds exceeded"); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// GetWorkOrder fetches a single live work order.
func (s *Store) GetWorkOrder(ctx context.Context, id string) (*model.WorkOrder, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+workOrderColumns+` FROM work_orders WHERE id = $1 AND deleted_at IS NULL`, id)
	wo, err := scanWorkOrder(row)
	if errors.Is(err, errNoRowsMapped) {
		return nil, apierr.New(apierr.NotFound, "work order not found")
	}
	return wo, err
}

// ListWorkOrderLog returns terminal work order records, newest first.
func (s *Store) ListWorkOrderLog(ctx context.Context, limit int) ([]*model.WorkOrderLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.Pool.Query(ctx, `
		SELECT id, original_work_order_id, work_type, success, result_message, attempts, created_at, completed_at
		FROM work_order_logs ORDER BY completed_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, apierr.Wrap(apierr.Transient, "list work order log", err)
	}
	defer rows.Close()

	var out []*model.WorkOrderLog
	for rows.Next() {
		var l model.WorkOrderLog
		if err := rows.Scan(&l.ID, &l.OriginalWorkOrderID, &l.WorkType, &l.Success, &l.ResultMessage, &l.Attempts, &l.CreatedAt, &l.CompletedAt); err != nil {
			return nil, apierr.Wrap(apierr.Transient, "scan work order log", err)
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}

const workOrderColumns = `id, work_type, yaml, targeting_agent_ids, targeting_labels, targeting_annotations,
	max_retries, backoff_seconds, claim_timeout_seconds, status, claimed_by, claimed_at,
	retry_count, last_error, last_error_at, next_retry_after, created_at, updated_at, deleted_at`

// errNoRowsMapped is a sentinel returned in place of pgx.ErrNoRows so callers can test
// with errors.Is without importing pgx themselves.
var errNoRowsMapped = errors.New("no matching work order row")

type woScanner interface {
	Scan(dest ...any) error
}

func scanWorkOrder(row pgx.Row) (*model.WorkOrder, error) {
	return scanWorkOrderScanner(row)
}

func scanWorkOrderRows(rows pgx.Rows) (*model.WorkOrder, error) {
	return scanWorkOrderScanner(rows)
}

func scanWorkOrderScanner(sc woScanner) (*model.WorkOrder, error) {
	var wo model.WorkOrder
	var status string
	var agentIDs, labels, annotations []byte

	err := sc.Scan(&wo.ID, &wo.WorkType, &wo.YAML, &agentIDs, &labels, &annotations,
		&wo.MaxRetries, &wo.BackoffSeconds, &wo.ClaimTimeoutSeconds, &status, &wo.ClaimedBy, &wo.ClaimedAt,
		&wo.RetryCount, &wo.LastError, &wo.LastErrorAt, &wo.NextRetryAfter, &wo.CreatedAt, &wo.UpdatedAt, &wo.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errNoRowsMapped
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.Transient, "scan work order", err)
	}

	wo.Status = model.WorkOrderStatus(status)
	wo.Targeting = model.WorkOrderTargeting{
		AgentIDs:    unmarshalStrings(agentIDs),
		Labels:      unmarshalStrings(labels),
		Annotations: unmarshalStringMap(annotations),
	}
	return &wo, nil
}
