package postgres

import (
	"context"

	"github.com/brokkr-io/brokkr/internal/apierr"
	"github.com/brokkr-io/brokkr/internal/broker/store/model"
)

// LastAckedSequences returns, for each stack id, the highest sequence_id
// this agent has ever reported a successful AgentEvent against. The
// broker is the authority on acknowledgement (derived from the durable
// AgentEvent log), rather than trusting agent-submitted state.
func (s *Store) LastAckedSequences(ctx context.Context, agentID string, stackIDs []string) (map[string]int64, error) {
	if len(stackIDs) == 0 {
		return map[string]int64{}, nil
	}

	rows, err := s.Pool.Query(ctx, `
		SELECT do_.stack_id, MAX(do_.sequence_id)
		FROM agent_events ae
		JOIN deployment_objects do_ ON do_.id = ae.deployment_object_id
		WHERE ae.agent_id = $1 AND ae.status = 'success' AND do_.stack_id = ANY($2)
		GROUP BY do_.stack_id`, agentID, stackIDs)
	if err != nil {
		return nil, apierr.Wrap(apierr.Transient, "query last acked sequences", err)
	}
	defer rows.Close()

	out := make(map[string]int64, len(stackIDs))
	for rows.Next() {
		var stackID string
		var seq int64
		if err := rows.Scan(&stackID, &seq); err != nil {
			return nil, apierr.Wrap(apierr.Transient, "scan last acked sequence", err)
		}
		out[stackID] = seq
	}
	return out, rows.Err()
}

// DeploymentObjectsAfter returns live DeploymentObjects for a stack whose
// sequence_id exceeds afterSeq, ascending (spec §4.3 step 2-3).
func (s *Store) DeploymentObjectsAfter(ctx context.Context, stackID string, afterSeq int64) ([]*model.DeploymentObject, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, stack_id, sequence_id, yaml, checksum, is_deletion_marker, template_id, template_version, created_at, deleted_at
		FROM deployment_objects
		WHERE stack_id = $1 AND sequence_id > $2 AND deleted_at IS NULL
		ORDER BY sequence_id ASC`, stackID, afterSeq)
	if err != nil {
		return nil, apierr.Wrap(apierr.Transient, "list deployment objects after sequence", err)
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
