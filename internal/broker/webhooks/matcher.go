package webhooks

import (
	"strings"

	"github.com/brokkr-io/brokkr/internal/broker/store/model"
)

// PatternMatches reports whether a subscription's event-type pattern admits
// an emitted event type: a literal match, a "kind.*" prefix match, or the
// bare wildcard "*" (spec §4.6).
func PatternMatches(pattern, eventType string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, ".*") {
		prefix := strings.TrimSuffix(pattern, "*")
		return strings.HasPrefix(eventType, prefix)
	}
	return pattern == eventType
}

// AnyPatternMatches reports whether at least one of a subscription's
// patterns admits eventType.
func AnyPatternMatches(patterns []string, eventType string) bool {
	for _, p := range patterns {
		if PatternMatches(p, eventType) {
			return true
		}
	}
	return false
}

// MatchInput carries the scoping facts of one emitted event that a
// subscription's filters are evaluated against.
type MatchInput struct {
	EventType string
	AgentID   string
	StackID   string
	Labels    []string
}

// Matches reports whether sub matches evt: at least one event-type pattern
// admits the event AND every configured filter passes (spec §4.6).
func Matches(sub *model.WebhookSubscription, evt MatchInput) bool {
	if !sub.Enabled {
		return false
	}
	if !AnyPatternMatches(sub.EventPatterns, evt.EventType) {
		return false
	}
	if sub.FilterAgentID != nil && *sub.FilterAgentID != evt.AgentID {
		return false
	}
	if sub.FilterStackID != nil && *sub.FilterStackID != evt.StackID {
		return false
	}
	if len(sub.FilterLabels) > 0 && !containsAll(evt.Labels, sub.FilterLabels) {
		return false
	}
	return true
}

// IsAgentDelivery reports whether a subscription's delivery mode is
// agent-side — non-empty target_labels (spec §4.6 delivery-mode selection).
func IsAgentDelivery(sub *model.WebhookSubscription) bool {
	return len(sub.TargetLabels) > 0
}

// AgentCanClaim reports whether an agent's labels contain every label
// required by a delivery's target_labels (subset check, spec §4.6).
func AgentCanClaim(agentLabels, targetLabels []string) bool {
	return containsAll(agentLabels, targetLabels)
}

func containsAll(haystack, needles []string) bool {
	set := make(map[string]bool, len(haystack))
	for _, h := range haystack {
		set[h] = true
	}
	for _, n := range needles {
		if !set[n] {
			return false
		}
	}
	return true
}
