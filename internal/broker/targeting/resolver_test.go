package targeting

import (
	"context"
	"testing"

	"github.com/brokkr-io/brokkr/internal/broker/store/model"
)

type fakeStore struct {
	explicit map[string][]string
	stacks   []*model.Stack
	acked    map[string]map[string]int64
	objects  map[string][]*model.DeploymentObject
}

func (f *fakeStore) ExplicitTargetsForAgent(ctx context.Context, agentID string) ([]string, error) {
	return f.explicit[agentID], nil
}

func (f *fakeStore) ListAllStacksWithLabelsAnnotations(ctx context.Context) ([]*model.Stack, error) {
	return f.stacks, nil
}

func (f *fakeStore) LastAckedSequences(ctx context.Context, agentID string, stackIDs []string) (map[string]int64, error) {
	return f.acked[agentID], nil
}

func (f *fakeStore) DeploymentObjectsAfter(ctx context.Context, stackID string, afterSeq int64) ([]*model.DeploymentObject, error) {
	var out []*model.DeploymentObject
	for _, o := range f.objects[stackID] {
		if o.SequenceID > afterSeq {
			out = append(out, o)
		}
	}
	return out, nil
}

func TestTargetStackIDsUnionsAllThreeMethods(t *testing.T) {
	store := &fakeStore{
		explicit: map[string][]string{"agent-1": {"stack-explicit"}},
		stacks: []*model.Stack{
			{ID: "stack-explicit", Labels: nil, Annotations: nil},
			{ID: "stack-label", Labels: []string{"env=prod"}, Annotations: nil},
			{ID: "stack-annotation", Labels: nil, Annotations: map[string]string{"team": "infra"}},
			{ID: "stack-unrelated", Labels: []string{"env=dev"}, Annotations: map[string]string{"team": "other"}},
		},
	}
	r := New(store)

	ids, err := r.TargetStackIDs(context.Background(), "agent-1", []string{"env=prod"}, map[string]string{"team": "infra"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := map[string]bool{"stack-explicit": true, "stack-label": true, "stack-annotation": true}
	if len(ids) != len(want) {
		t.Fatalf("got %d stack ids, want %d: %v", len(ids), len(want), ids)
	}
	for _, id := range ids {
		if !want[id] {
			t.Fatalf("unexpected stack id %q in result %v", id, ids)
		}
	}
}

func TestTargetStackIDsDeduplicatesAcrossMethods(t *testing.T) {
	store := &fakeStore{
		explicit: map[string][]string{"agent-1": {"stack-a"}},
		stacks: []*model.Stack{
			{ID: "stack-a", Labels: []string{"env=prod"}, Annotations: nil},
		},
	}
	r := New(store)

	ids, err := r.TargetStackIDs(context.Background(), "agent-1", []string{"env=prod"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 1 || ids[0] != "stack-a" {
		t.Fatalf("expected single deduplicated stack-a, got %v", ids)
	}
}

func TestTargetStateOrdersAscendingWithinStackAndExcludesAcked(t *testing.T) {
	store := &fakeStore{
		explicit: map[string][]string{"agent-1": {"stack-a"}},
		stacks:   []*model.Stack{{ID: "stack-a"}},
		acked:    map[string]map[string]int64{"agent-1": {"stack-a": 1}},
		objects: map[string][]*model.DeploymentObject{
			"stack-a": {
				{ID: "d1", StackID: "stack-a", SequenceID: 1},
				{ID: "d2", StackID: "stack-a", SequenceID: 2},
				{ID: "d3", StackID: "stack-a", SequenceID: 3},
			},
		},
	}
	r := New(store)

	objs, err := r.TargetState(context.Background(), "agent-1", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(objs) != 2 {
		t.Fatalf("expected 2 unacked objects, got %d", len(objs))
	}
	if objs[0].SequenceID != 2 || objs[1].SequenceID != 3 {
		t.Fatalf("expected ascending sequence 2,3; got %d,%d", objs[0].SequenceID, objs[1].SequenceID)
	}
}

func TestTargetStateEmptyWhenNoTargetStacks(t *testing.T) {
	store := &fakeStore{}
	r := New(store)

	objs, err := r.TargetState(context.Background(), "agent-lonely", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(objs) != 0 {
		t.Fatalf("expected no target state, got %v", objs)
	}
}
