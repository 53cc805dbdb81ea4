package model

import "testing"

func TestWorkOrderTargetingEmpty(t *testing.T) {
	if !(WorkOrderTargeting{}).Empty() {
		t.Fatal("expected zero-value targeting to be empty")
	}
	if (WorkOrderTargeting{AgentIDs: []string{"a1"}}).Empty() {
		t.Fatal("expected targeting with agent ids to be non-empty")
	}
}

// TestWorkOrderTargetingMatches implements spec scenario S4: AND within a
// criterion category, OR across categories, with the INACTIVE-agent gate
// applied by the caller (targeting itself is lifecycle-blind).
func TestWorkOrderTargetingMatches(t *testing.T) {
	targeting := WorkOrderTargeting{
		AgentIDs: []string{"A7"},
		Labels:   []string{"env=prod", "region=us"},
	}

	// A3 has only one of the two required labels: not selectable.
	if targeting.Matches("A3", []string{"env=prod"}, nil) {
		t.Fatal("expected A3 with partial label match to be rejected")
	}

	// A5 satisfies the full label conjunction: selectable via labels.
	if !targeting.Matches("A5", []string{"env=prod", "region=us", "tier=1"}, nil) {
		t.Fatal("expected A5 with full label match to be selectable")
	}

	// A7 is named explicitly in agent_ids: selectable via that category
	// alone, even with no matching labels.
	if !targeting.Matches("A7", nil, nil) {
		t.Fatal("expected A7 to be selectable via explicit agent_ids even without labels")
	}

	// Some other agent with neither matching id nor labels: rejected.
	if targeting.Matches("A9", []string{"env=dev"}, nil) {
		t.Fatal("expected unrelated agent to be rejected")
	}
}

func TestWorkOrderTargetingAnnotationsRequireFullConjunction(t *testing.T) {
	targeting := WorkOrderTargeting{
		Annotations: map[string]string{"team": "infra", "tier": "1"},
	}

	if targeting.Matches("a1", nil, map[string]string{"team": "infra"}) {
		t.Fatal("expected partial annotation match to be rejected")
	}
	if !targeting.Matches("a1", nil, map[string]string{"team": "infra", "tier": "1"}) {
		t.Fatal("expected full annotation match to be selectable")
	}
	if targeting.Matches("a1", nil, map[string]string{"team": "infra", "tier": "2"}) {
		t.Fatal("expected mismatched annotation value to be rejected")
	}
}

func TestWorkOrderTargetingEmptyMatchesNoAgent(t *testing.T) {
	targeting := WorkOrderTargeting{}
	if targeting.Matches("any-agent", []string{"env=prod"}, map[string]string{"team": "infra"}) {
		t.Fatal("expected empty targeting to match no agent (spec §9 open question)")
	}
}
