package postgres

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/brokkr-io/brokkr/internal/apierr"
	"github.com/brokkr-io/brokkr/internal/broker/store/model"
)

// AuditFilter narrows a durable audit-log query. All fields are optional;
// an empty filter returns the most recent events (spec §4.9).
type AuditFilter struct {
	Actor      string
	Action     string
	Resource   string
	ResourceID string
	Since      time.Time
	Until      time.Time
	Limit      int
}

const defaultAuditLimit = 100
const maxAuditLimit = 1000

// RecordAuditEvent appends one durable, immutable audit row. There is no
// update path: the log is append-only by construction.
func (s *Store) RecordAuditEvent(ctx context.Context, actor, action, resource, resourceID, detailJSON string) error {
	id := newID("aud")
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO audit_events (id, actor, action, resource, resource_id, detail)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb)`,
		id, actor, action, resource, resourceID, nullJSON(detailJSON))
	if err != nil {
		return apierr.Wrap(apierr.Transient, "insert audit event", err)
	}
	return nil
}

// QueryAuditEvents searches the durable log, matching the composite
// indexes defined in schema.sql (timestamp/actor/resource/action).
func (s *Store) QueryAuditEvents(ctx context.Context, f AuditFilter) ([]*model.AuditEvent, error) {
	query := `SELECT id, timestamp, actor, action, resource, resource_id, detail FROM audit_events WHERE 1=1`
	var args []any
	add := func(clause string, arg any) {
		args = append(args, arg)
		query += strings.Replace(clause, "?", "$"+strconv.Itoa(len(args)), 1)
	}

	if f.Actor != "" {
		add(" AND actor = ?", f.Actor)
	}
	if f.Action != "" {
		add(" AND action = ?", f.Action)
	}
	if f.Resource != "" {
		add(" AND resource = ?", f.Resource)
	}
	if f.ResourceID != "" {
		add(" AND resource_id = ?", f.ResourceID)
	}
	if !f.Since.IsZero() {
		add(" AND timestamp >= ?", f.Since)
	}
	if !f.Until.IsZero() {
		add(" AND timestamp <= ?", f.Until)
	}

	query += " ORDER BY timestamp DESC"
	limit := f.Limit
	if limit <= 0 {
		limit = defaultAuditLimit
	}
	if limit > maxAuditLimit {
		limit = maxAuditLimit
	}
	add(" LIMIT ?", limit)

	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, apierr.Wrap(apierr.Transient, "query audit events", err)
	}
	defer rows.Close()

	var out []*model.AuditEvent
	for rows.Next() {
		var e model.AuditEvent
		var detail []byte
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Actor, &e.Action, &e.Resource, &e.ResourceID, &detail); err != nil {
			return nil, apierr.Wrap(apierr.Transient, "scan audit event", err)
		}
		e.Detail = string(detail)
		out = append(out, &e)
	}
	return out, rows.Err()
}

// PurgeAuditEvents deletes events older than the retention window (spec
// §4.9: "90-day retention default with daily cleanup").
func (s *Store) PurgeAuditEvents(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)
	tag, err := s.Pool.Exec(ctx, `DELETE FROM audit_events WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, apierr.Wrap(apierr.Transient, "purge audit events", err)
	}
	return tag.RowsAffected(), nil
}

func nullJSON(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
