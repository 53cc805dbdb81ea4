// Package targeting resolves which stacks an agent must reconcile and
// orders the DeploymentObjects within that set (spec §4.3).
package targeting

import (
	"context"

	"github.com/brokkr-io/brokkr/internal/broker/store/model"
)

// Store is the slice of the postgres store the resolver depends on.
type Store interface {
	ExplicitTargetsForAgent(ctx context.Context, agentID string) ([]string, error)
	ListAllStacksWithLabelsAnnotations(ctx context.Context) ([]*model.Stack, error)
	LastAckedSequences(ctx context.Context, agentID string, stackIDs []string) (map[string]int64, error)
	DeploymentObjectsAfter(ctx context.Context, stackID string, afterSeq int64) ([]*model.DeploymentObject, error)
}

// Resolver computes an agent's target stack set: the union of explicit
// AgentTarget bindings, stacks sharing at least one label, and stacks
// sharing at least one annotation key+value — OR across all three
// methods, no weighting (spec §4.3 step 1).
type Resolver struct {
	store Store
}

// New builds a Resolver over the given store.
func New(store Store) *Resolver {
	return &Resolver{store: store}
}

// TargetStackIDs returns the deduplicated set of stack ids an agent must
// reconcile.
func (r *Resolver) TargetStackIDs(ctx context.Context, agentID string, agentLabels []string, agentAnnotations map[string]string) ([]string, error) {
	explicit, err := r.store.ExplicitTargetsForAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(explicit))
	var out []string
	for _, id := range explicit {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}

	stacks, err := r.store.ListAllStacksWithLabelsAnnotations(ctx)
	if err != nil {
		return nil, err
	}

	agentLabelSet := make(map[string]bool, len(agentLabels))
	for _, l := range agentLabels {
		agentLabelSet[l] = true
	}

	for _, st := range stacks {
		if seen[st.ID] {
			continue
		}
		if sharesLabel(st.Labels, agentLabelSet) || sharesAnnotation(st.Annotations, agentAnnotations) {
			seen[st.ID] = true
			out = append(out, st.ID)
		}
	}

	return out, nil
}

// TargetState resolves the full ordered set of DeploymentObjects an agent
// must reconcile this cycle: target stacks, minus anything the agent has
// already successfully acknowledged, ordered ascending within each stack
// (spec §4.3).
func (r *Resolver) TargetState(ctx context.Context, agentID string, agentLabels []string, agentAnnotations map[string]string) ([]*model.DeploymentObject, error) {
	stackIDs, err := r.TargetStackIDs(ctx, agentID, agentLabels, agentAnnotations)
	if err != nil {
		return nil, err
	}
	if len(stackIDs) == 0 {
		return nil, nil
	}

	acked, err := r.store.LastAckedSequences(ctx, agentID, stackIDs)
	if err != nil {
		return nil, err
	}

	var out []*model.DeploymentObject
	for _, stackID := range stackIDs {
		objs, err := r.store.DeploymentObjectsAfter(ctx, stackID, acked[stackID])
		if err != nil {
			return nil, err
		}
		out = append(out, objs...)
	}
	return out, nil
}

// sharesLabel reports whether a stack has at least one label the agent
// also carries — overlap, not subset (spec §4.3, distinct from the
// work-order targeting's AND-within-category semantics).
func sharesLabel(stackLabels []string, agentLabelSet map[string]bool) bool {
	for _, l := range stackLabels {
		if agentLabelSet[l] {
			return true
		}
	}
	return false
}

// sharesAnnotation reports whether a stack and an agent share at least
// one annotation with the same key and value.
func sharesAnnotation(stackAnnotations, agentAnnotations map[string]string) bool {
	for k, v := range stackAnnotations {
		if av, ok := agentAnnotations[k]; ok && av == v {
			return true
		}
	}
	return false
}
