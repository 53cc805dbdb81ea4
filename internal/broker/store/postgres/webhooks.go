package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/brokkr-io/brokkr/internal/apierr"
	"github.com/brokkr-io/brokkr/internal/broker/store/model"
	"github.com/jackc/pgx/v5"
)

const webhookSubscriptionColumns = `id, name, encrypted_url, encrypted_auth_hdr, event_patterns,
	filter_agent_id, filter_stack_id, filter_labels, target_labels, enabled, max_retries, timeout_seconds,
	created_at, updated_at, deleted_at`

// CreateWebhookSubscription inserts a subscription whose URL/auth header
// arrive already encrypted — the store never sees plaintext (spec §4.6).
func (s *Store) CreateWebhookSubscription(ctx context.Context, sub model.WebhookSubscription) (*model.WebhookSubscription, error) {
	id := newID("whs")
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO webhook_subscriptions (id, name, encrypted_url, encrypted_auth_hdr, event_patterns,
			filter_agent_id, filter_stack_id, filter_labels, target_labels, enabled, max_retries, timeout_seconds)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8::jsonb, $9::jsonb, $10, $11, $12)`,
		id, sub.Name, sub.EncryptedURL, nullBytes(sub.EncryptedAuthHdr), marshalStrings(sub.EventPatterns),
		sub.FilterAgentID, sub.FilterStackID, marshalStrings(sub.FilterLabels), marshalStrings(sub.TargetLabels),
		sub.Enabled, sub.MaxRetries, sub.TimeoutSeconds)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apierr.New(apierr.Conflict, "a live webhook with this name already exists")
		}
		return nil, apierr.Wrap(apierr.Transient, "insert webhook subscription", err)
	}
	sub.ID = id
	return &sub, nil
}

// GetWebhookSubscription fetches a live subscription by id.
func (s *Store) GetWebhookSubscription(ctx context.Context, id string) (*model.WebhookSubscription, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+webhookSubscriptionColumns+` FROM webhook_subscriptions WHERE id = $1 AND deleted_at IS NULL`, id)
	sub, err := scanWebhookSubscription(row)
	if errors.Is(err, errNoRowsMapped) {
		return nil, apierr.New(apierr.NotFound, "webhook subscription not found")
	}
	return sub, err
}

// ListWebhookSubscriptions returns every live, enabled subscription — the
// candidate set the event matcher evaluates per published event.
func (s *Store) ListWebhookSubscriptions(ctx context.Context) ([]*model.WebhookSubscription, error) {
	rows, err := s.Pool.Query(ctx, `SELECT `+webhookSubscriptionColumns+` FROM webhook_subscriptions WHERE deleted_at IS NULL AND enabled ORDER BY created_at`)
	if err != nil {
		return nil, apierr.Wrap(apierr.Transient, "list webhook subscriptions", err)
	}
	defer rows.Close()

	var out []*model.WebhookSubscription
	for rows.Next() {
		sub, err := scanWebhookSubscriptionRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// DeleteWebhookSubscription soft-deletes a subscription.
func (s *Store) DeleteWebhookSubscription(ctx context.Context, id string) error {
	tag, err := s.Pool.Exec(ctx, `UPDATE webhook_subscriptions SET deleted_at = now() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return apierr.Wrap(apierr.Transient, "delete webhook subscription", err)
	}
	if tag.RowsAffected() == 0 {
		return apierr.New(apierr.NotFound, "webhook subscription not found")
	}
	return nil
}

// EnqueueWebhookDelivery inserts one (event, subscription) delivery row.
// The idempotency index on (subscription_id, event_id) makes this safe to
// call more than once for the same event without double-delivery.
func (s *Store) EnqueueWebhookDelivery(ctx context.Context, subscriptionID, eventType, eventID, payloadJSON string, targetLabels []string) error {
	id := newID("whd")
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO webhook_deliveries (id, subscription_id, event_type, event_id, payload_json, target_labels)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb)
		ON CONFLICT (subscription_id, event_id) DO NOTHING`,
		id, subscriptionID, eventType, eventID, payloadJSON, marshalStrings(targetLabels))
	if err != nil {
		return apierr.Wrap(apierr.Transient, "enqueue webhook delivery", err)
	}
	return nil
}

const webhookDeliveryColumns = `id, subscription_id, event_type, event_id, payload_json, target_labels,
	status, acquired_by, acquired_until, attempts, last_error, next_retry_at, created_at, updated_at`

// ClaimBrokerDeliveries atomically claims up to `limit` pending,
// broker-side deliveries (target_labels empty) whose next_retry_at has
// elapsed — the broker's own 5s delivery tick (spec §4.6).
func (s *Store) ClaimBrokerDeliveries(ctx context.Context, limit int, lease time.Duration) ([]*model.WebhookDelivery, error) {
	rows, err := s.Pool.Query(ctx, `
		UPDATE webhook_deliveries
		SET status = 'acquired', acquired_by = NULL, acquired_until = now() + make_interval(secs => $1), updated_at = now()
		WHERE id IN (
			SELECT id FROM webhook_deliveries
			WHERE status = 'pending' AND next_retry_at <= now() AND target_labels = '[]'::jsonb
			ORDER BY next_retry_at LIMIT $2 FOR UPDATE SKIP LOCKED
		)
		RETURNING `+webhookDeliveryColumns, lease.Seconds(), limit)
	if err != nil {
		return nil, apierr.Wrap(apierr.Transient, "claim broker deliveries", err)
	}
	defer rows.Close()
	return scanWebhookDeliveryRows(rows)
}

// ClaimAgentDeliveries atomically claims pending, agent-side deliveries
// (non-empty target_labels) on behalf of agentID, restricted to deliveries
// whose target_labels are wholly contained in agentLabels — spec §4.6 /
// S5: "only an agent whose labels contain all of target_labels may claim
// it." The jsonb `<@` containment operator does the subset check in SQL
// (target_labels is contained by agentLabels) rather than claiming first
// and filtering after, so an agent lacking the required labels never wins
// the claim race in the first place.
func (s *Store) ClaimAgentDeliveries(ctx context.Context, agentID string, agentLabels []string, limit int, lease time.Duration) ([]*model.WebhookDelivery, error) {
	rows, err := s.Pool.Query(ctx, `
		UPDATE webhook_deliveries
		SET status = 'acquired', acquired_by = $1, acquired_until = now() + make_interval(secs => $2), updated_at = now()
		WHERE id IN (
			SELECT id FROM webhook_deliveries
			WHERE status = 'pending' AND next_retry_at <= now() AND target_labels <> '[]'::jsonb
			  AND target_labels <@ $3::jsonb
			ORDER BY next_retry_at LIMIT $4 FOR UPDATE SKIP LOCKED
		)
		RETURNING `+webhookDeliveryColumns, agentID, lease.Seconds(), marshalStrings(agentLabels), limit)
	if err != nil {
		return nil, apierr.Wrap(apierr.Transient, "claim agent deliveries", err)
	}
	defer rows.Close()
	return scanWebhookDeliveryRows(rows)
}

// ReportDeliveryOutcome moves an acquired delivery to success, back to
// pending with backoff, or to dead once max_retries is exhausted.
func (s *Store) ReportDeliveryOutcome(ctx context.Context, id string, success bool, errMsg string, maxRetries int, backoff time.Duration) error {
	if success {
		_, err := s.Pool.Exec(ctx, `UPDATE webhook_deliveries SET status = 'success', updated_at = now() WHERE id = $1`, id)
		if err != nil {
			return apierr.Wrap(apierr.Transient, "mark delivery success", err)
		}
		return nil
	}

	var attempts int
	if err := s.Pool.QueryRow(ctx, `SELECT attempts FROM webhook_deliveries WHERE id = $1`, id).Scan(&attempts); err != nil {
		return apierr.Wrap(apierr.Transient, "read delivery attempts", err)
	}
	attempts++

	status := "pending"
	if attempts >= maxRetries {
		status = "dead"
	}

	_, err := s.Pool.Exec(ctx, `
		UPDATE webhook_deliveries
		SET status = $1, attempts = $2, last_error = $3, next_retry_at = now() + make_interval(secs => $4),
		    acquired_by = NULL, acquired_until = NULL, updated_at = now()
		WHERE id = $5`,
		status, attempts, errMsg, backoff.Seconds(), id)
	if err != nil {
		return apierr.Wrap(apierr.Transient, "report delivery failure", err)
	}
	return nil
}

// ReclaimExpiredDeliveries reverts any delivery whose acquisition lease has
// lapsed back to pending, so a dead broker replica or agent cannot strand
// a delivery forever.
func (s *Store) ReclaimExpiredDeliveries(ctx context.Context) (int64, error) {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE webhook_deliveries
		SET status = 'pending', acquired_by = NULL, acquired_until = NULL, updated_at = now()
		WHERE status = 'acquired' AND acquired_until < now()`)
	if err != nil {
		return 0, apierr.Wrap(apierr.Transient, "reclaim expired deliveries", err)
	}
	return tag.RowsAffected(), nil
}

// PurgeWebhookDeliveries deletes terminal (success or dead) deliveries
// older than the configured retention window (§6 "webhook delivery cleanup
// retention days"), the same daily-tick shape as PurgeAuditEvents.
func (s *Store) PurgeWebhookDeliveries(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)
	tag, err := s.Pool.Exec(ctx, `
		DELETE FROM webhook_deliveries
		WHERE status IN ('success', 'dead') AND updated_at < $1`, cutoff)
	if err != nil {
		return 0, apierr.Wrap(apierr.Transient, "purge webhook deliveries", err)
	}
	return tag.RowsAffected(), nil
}

// GetWebhookDelivery fetches a single delivery by id — used by the outcome
// handler to recover the owning subscription and current attempt count
// before reporting back through ReportDeliveryOutcome.
func (s *Store) GetWebhookDelivery(ctx context.Context, id string) (*model.WebhookDelivery, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+webhookDeliveryColumns+` FROM webhook_deliveries WHERE id = $1`, id)
	var d model.WebhookDelivery
	var status string
	var targetLabels []byte
	err := row.Scan(&d.ID, &d.SubscriptionID, &d.EventType, &d.EventID, &d.PayloadJSON, &targetLabels,
		&status, &d.AcquiredBy, &d.AcquiredUntil, &d.Attempts, &d.LastError, &d.NextRetryAt, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apierr.New(apierr.NotFound, "webhook delivery not found")
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.Transient, "scan webhook delivery", err)
	}
	d.Status = model.WebhookDeliveryStatus(status)
	d.TargetLabels = unmarshalStrings(targetLabels)
	return &d, nil
}

// ListDeliveriesForSubscription returns recent deliveries for a subscription.
func (s *Store) ListDeliveriesForSubscription(ctx context.Context, subscriptionID string, limit int) ([]*model.WebhookDelivery, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.Pool.Query(ctx, `SELECT `+webhookDeliveryColumns+` FROM webhook_deliveries
		WHERE subscription_id = $1 ORDER BY created_at DESC LIMIT $2`, subscriptionID, limit)
	if err != nil {
		return nil, apierr.Wrap(apierr.Transient, "list deliveries", err)
	}
	defer rows.Close()
	return scanWebhookDeliveryRows(rows)
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

func scanWebhookSubscription(row pgx.Row) (*model.WebhookSubscription, error) {
	return scanWebhookSubscriptionScanner(row)
}

func scanWebhookSubscriptionRows(rows pgx.Rows) (*model.WebhookSubscription, error) {
	return scanWebhookSubscriptionScanner(rows)
}

func scanWebhookSubscriptionScanner(sc woScanner) (*model.WebhookSubscription, error) {
	var w model.WebhookSubscription
	var eventPatterns, filterLabels, targetLabels []byte
	err := sc.Scan(&w.ID, &w.Name, &w.EncryptedURL, &w.EncryptedAuthHdr, &eventPatterns,
		&w.FilterAgentID, &w.FilterStackID, &filterLabels, &targetLabels, &w.Enabled, &w.MaxRetries, &w.TimeoutSeconds,
		&w.CreatedAt, &w.UpdatedAt, &w.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errNoRowsMapped
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.Transient, "scan webhook subscription", err)
	}
	w.EventPatterns = unmarshalStrings(eventPatterns)
	w.FilterLabels = unmarshalStrings(filterLabels)
	w.TargetLabels = unmarshalStrings(targetLabels)
	return &w, nil
}

func scanWebhookDeliveryRows(rows pgx.Rows) ([]*model.WebhookDelivery, error) {
	var out []*model.WebhookDelivery
	for rows.Next() {
		var d model.WebhookDelivery
		var status string
		var targetLabels []byte
		if err := rows.Scan(&d.ID, &d.SubscriptionID, &d.EventType, &d.EventID, &d.PayloadJSON, &targetLabels,
			&status, &d.AcquiredBy, &d.AcquiredUntil, &d.Attempts, &d.LastError, &d.NextRetryAt, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, apierr.Wrap(apierr.Transient, "scan webhook delivery", err)
		}
		d.Status = model.WebhookDeliveryStatus(status)
		d.TargetLabels = unmarshalStrings(targetLabels)
		out = append(out, &d)
	}
	return out, rows.Err()
}
