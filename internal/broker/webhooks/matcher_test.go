package webhooks

import (
	"testing"

	"github.com/brokkr-io/brokkr/internal/broker/store/model"
)

func TestPatternMatches(t *testing.T) {
	cases := []struct {
		pattern, eventType string
		want               bool
	}{
		{"*", "deployment.created", true},
		{"deployment.*", "deployment.created", true},
		{"deployment.*", "workorder.created", false},
		{"deployment.created", "deployment.created", true},
		{"deployment.created", "deployment.applied", false},
	}
	for _, c := range cases {
		if got := PatternMatches(c.pattern, c.eventType); got != c.want {
			t.Errorf("PatternMatches(%q, %q) = %v, want %v", c.pattern, c.eventType, got, c.want)
		}
	}
}

func TestMatchesFiltersAndEnabled(t *testing.T) {
	agentID := "agent-1"
	sub := &model.WebhookSubscription{
		Enabled:       true,
		EventPatterns: []string{"deployment.*"},
		FilterAgentID: &agentID,
		FilterLabels:  []string{"env=prod"},
	}

	if Matches(sub, MatchInput{EventType: "deployment.created", AgentID: "agent-2", Labels: []string{"env=prod"}}) {
		t.Fatal("wrong agent id should not match")
	}
	if Matches(sub, MatchInput{EventType: "deployment.created", AgentID: "agent-1", Labels: []string{"env=staging"}}) {
		t.Fatal("missing required label should not match")
	}
	if !Matches(sub, MatchInput{EventType: "deployment.created", AgentID: "agent-1", Labels: []string{"env=prod", "region=us"}}) {
		t.Fatal("expected a match")
	}

	sub.Enabled = false
	if Matches(sub, MatchInput{EventType: "deployment.created", AgentID: "agent-1", Labels: []string{"env=prod"}}) {
		t.Fatal("disabled subscription must never match")
	}
}

func TestDeliveryModeSelection(t *testing.T) {
	broker := &model.WebhookSubscription{}
	if IsAgentDelivery(broker) {
		t.Fatal("empty target_labels should select broker delivery")
	}

	agentSide := &model.WebhookSubscription{TargetLabels: []string{"inside"}}
	if !IsAgentDelivery(agentSide) {
		t.Fatal("non-empty target_labels should select agent delivery")
	}
}

func TestAgentCanClaim(t *testing.T) {
	if !AgentCanClaim([]string{"inside", "env=prod"}, []string{"inside"}) {
		t.Fatal("agent with superset of labels should be able to claim")
	}
	if AgentCanClaim([]string{"env=prod"}, []string{"inside"}) {
		t.Fatal("agent missing a required label must not claim")
	}
}
