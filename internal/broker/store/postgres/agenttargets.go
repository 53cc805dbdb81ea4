package postgres

import (
	"context"

	"github.com/brokkr-io/brokkr/internal/apierr"
	"github.com/brokkr-io/brokkr/internal/broker/store/model"
)

// CreateAgentTarget records an explicit (agent, stack) binding.
func (s *Store) CreateAgentTarget(ctx context.Context, agentID, stackID string) (*model.AgentTarget, error) {
	id := newID("tgt")
	_, err := s.Pool.Exec(ctx, `INSERT INTO agent_targets (id, agent_id, stack_id) VALUES ($1, $2, $3)`, id, agentID, stackID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apierr.New(apierr.Conflict, "target already exists")
		}
		return nil, apierr.Wrap(apierr.Transient, "insert agent target", err)
	}
	return &model.AgentTarget{ID: id, AgentID: agentID, StackID: stackID}, nil
}

// DeleteAgentTarget removes an explicit binding.
func (s *Store) DeleteAgentTarget(ctx context.Context, agentID, stackID string) error {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM agent_targets WHERE agent_id = $1 AND stack_id = $2`, agentID, stackID)
	if err != nil {
		return apierr.Wrap(apierr.Transient, "delete agent target", err)
	}
	if tag.RowsAffected() == 0 {
		return apierr.New(apierr.NotFound, "target not found")
	}
	return nil
}

// ExplicitTargetsForAgent lists the stack ids an agent is explicitly bound to.
func (s *Store) ExplicitTargetsForAgent(ctx context.Context, agentID string) ([]string, error) {
	rows, err := s.Pool.Query(ctx, `SELECT stack_id FROM agent_targets WHERE agent_id = $1`, agentID)
	if err != nil {
		return nil, apierr.Wrap(apierr.Transient, "list agent targets", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apierr.Wrap(apierr.Transient, "scan agent target", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RecordAgentEvent appends an apply-attempt record (spec §3 AgentEvent),
// never mutated afterward.
func (s *Store) RecordAgentEvent(ctx context.Context, agentID, deploymentObjectID, eventType string, status model.AgentEventStatus, message string) (*model.AgentEvent, error) {
	id := newID("evt")
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO agent_events (id, agent_id, deployment_object_id, type, status, message)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		id, agentID, deploymentObjectID, eventType, string(status), message)
	if err != nil {
		return nil, apierr.Wrap(apierr.Transient, "insert agent event", err)
	}
	return &model.AgentEvent{
		ID: id, AgentID: agentID, DeploymentObjectID: deploymentObjectID,
		Type: eventType, Status: status, Message: message,
	}, nil
}

// ListAgentEvents returns the most recent events for an agent, newest first.
func (s *Store) ListAgentEvents(ctx context.Context, agentID string, limit int) ([]*model.AgentEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.Pool.Query(ctx, `
		SELECT id, agent_id, deployment_object_id, type, status, message, timestamp
		FROM agent_events WHERE agent_id = $1 ORDER BY timestamp DESC LIMIT $2`, agentID, limit)
	if err != nil {
		return nil, apierr.Wrap(apierr.Transient, "list agent events", err)
	}
	defer rows.Close()

	var out []*model.AgentEvent
	for rows.Next() {
		var e model.AgentEvent
		var status string
		if err := rows.Scan(&e.ID, &e.AgentID, &e.DeploymentObjectID, &e.Type, &status, &e.Message, &e.Timestamp); err != nil {
			return nil, apierr.Wrap(apierr.Transient, "scan agent event", err)
		}
		e.Status = model.AgentEventStatus(status)
		out = append(out, &e)
	}
	return out, rows.Err()
}

// LatestDeploymentObjects returns the newest live DeploymentObject for every
// stack an agent is targeted at — the core of §4.3's target-state view. The
// caller supplies the resolved set of stack ids (from the targeting
// resolver); this just fetches the head of each.
func (s *Store) LatestDeploymentObjects(ctx context.Context, stackIDs []string) ([]*model.DeploymentObject, error) {
	if len(stackIDs) == 0 {
		return nil, nil
	}
	rows, err := s.Pool.Query(ctx, `
		SELECT DISTINCT ON (stack_id) id, stack_id, sequence_id, yaml, checksum, is_deletion_marker,
		       template_id, template_version, created_at, deleted_at
		FROM deployment_objects
		WHERE stack_id = ANY($1) AND deleted_at IS NULL
		ORDER BY stack_id, sequence_id DESC`, stackIDs)
	if err != nil {
		return nil, apierr.Wrap(apierr.Transient, "list latest deployment objects", err)
	}
	defer rows.Close()

	var out []*model.DeploymentObject
	for rows.Next() {
		var d model.DeploymentObject
		if err := rows.Scan(&d.ID, &d.StackID, &d.SequenceID, &d.YAML, &d.Checksum, &d.IsDeletionMarker,
			&d.TemplateID, &d.TemplateVersion, &d.CreatedAt, &d.DeletedAt); err != nil {
			return nil, apierr.Wrap(apierr.Transient, "scan deployment object", err)
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

// ListAllStacksWithLabelsAnnotations returns every live stack's id, labels,
// and annotations — used by the targeting resolver to evaluate label- and
// annotation-overlap without loading full stack bodies.
func (s *Store) ListAllStacksWithLabelsAnnotations(ctx context.Context) ([]*model.Stack, error) {
	rows, err := s.Pool.Query(ctx, `SELECT id, labels, annotations FROM stacks WHERE deleted_at IS NULL`)
	if err != nil {
		return nil, apierr.Wrap(apierr.Transient, "list stacks for targeting", err)
	}
	defer rows.Close()

	var out []*model.Stack
	for rows.Next() {
		var st model.Stack
		var labels, annotations []byte
		if err := rows.Scan(&st.ID, &labels, &annotations); err != nil {
			return nil, apierr.Wrap(apierr.Transient, "scan stack for targeting", err)
		}
		st.Labels = unmarshalStrings(labels)
		st.Annotations = unmarshalStringMap(annotations)
		out = append(out, &st)
	}
	return out, rows.Err()
}
