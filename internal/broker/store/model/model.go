// Package model defines the entities of Brokkr's desired-state, queue, and
// audit data model, shared by the postgres store and the HTTP layer.
package model

import "time"

// PrincipalKind tags the disjoint union of identity principals.
type PrincipalKind string

const (
	PrincipalAdmin     PrincipalKind = "admin"
	PrincipalGenerator PrincipalKind = "generator"
	PrincipalAgent     PrincipalKind = "agent"
)

// AgentLifecycle is an Agent's activation state.
type AgentLifecycle string

const (
	AgentInactive AgentLifecycle = "INACTIVE"
	AgentActive   AgentLifecycle = "ACTIVE"
)

// Principal is a single row behind the PAK hash index: admin, generator, or agent.
type Principal struct {
	ID          string
	Kind        PrincipalKind
	Name        string
	ClusterName string // agent-only: disambiguates (name, cluster_name)
	PAKHash     string
	PAKPrefix   string // first chars of the plaintext, stored for diagnostics only
	Lifecycle   AgentLifecycle
	Labels      []string
	Annotations map[string]string
	LastSeenAt  *time.Time
	// HealthStatus/HealthMessage/HealthUpdatedAt carry an agent's optional
	// self-reported deployment health, last set by a heartbeat that opted
	// in (spec §4.8 step 3 — per-agent configuration, not mandatory).
	HealthStatus    string
	HealthMessage   string
	HealthUpdatedAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
	DeletedAt       *time.Time
}

// Stack is a named container of manifests.
type Stack struct {
	ID          string
	Name        string
	Description string
	GeneratorID *string // nullable: admin-created stacks have no owner
	Labels      []string
	Annotations map[string]string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   *time.Time
}

// DeploymentObject is an immutable versioned YAML snapshot belonging to a stack.
type DeploymentObject struct {
	ID               string
	StackID          string
	SequenceID       int64
	YAML             string
	Checksum         string
	IsDeletionMarker bool
	TemplateID       *string
	TemplateVersion  *int
	Parameters       map[string]any
	CreatedAt        time.Time
	DeletedAt        *time.Time
}

// StackTemplate is parameterized YAML source, versioned by (generator, name, version).
type StackTemplate struct {
	ID            string
	GeneratorID   string
	Name          string
	Version       int
	Body          string
	ParameterJSON string // JSON Schema text
	Checksum      string
	OCIRef        string // optional oci:// reference if published via ORAS
	CreatedAt     time.Time
	DeletedAt     *time.Time
}

// AgentTarget is an explicit (agent, stack) binding.
type AgentTarget struct {
	ID        string
	AgentID   string
	StackID   string
	CreatedAt time.Time
}

// AgentEventStatus is the outcome of one apply attempt.
type AgentEventStatus string

const (
	AgentEventSuccess AgentEventStatus = "success"
	AgentEventFailure AgentEventStatus = "failure"
)

// AgentEvent is an append-only record of an agent's attempt to apply one
// DeploymentObject.
type AgentEvent struct {
	ID                 string
	AgentID            string
	DeploymentObjectID string
	Type               string
	Status             AgentEventStatus
	Message            string
	Timestamp          time.Time
}

// WorkOrderStatus is the state-machine position of a WorkOrder.
type WorkOrderStatus string

const (
	WorkOrderPending      WorkOrderStatus = "PENDING"
	WorkOrderClaimed      WorkOrderStatus = "CLAIMED"
	WorkOrderRetryPending WorkOrderStatus = "RETRY_PENDING"
)

// WorkOrderTargeting selects which agents may claim a WorkOrder. An agent
// admits iff it satisfies at least one non-empty criterion (OR across
// categories, AND within a category's own members).
type WorkOrderTargeting struct {
	AgentIDs    []string
	Labels      []string
	Annotations map[string]string
}

// Empty reports whether no criterion is populated — such targeting must be
// rejected at create time (spec §9 Open Question #1).
func (t WorkOrderTargeting) Empty() bool {
	return len(t.AgentIDs) == 0 && len(t.Labels) == 0 && len(t.Annotations) == 0
}

// Matches reports whether an agent is eligible to claim a WorkOrder bearing
// this targeting: an agent admits if it satisfies at least one populated
// category (agent id membership, full label overlap, or full annotation
// overlap) — OR across categories, AND within a category's own members.
func (t WorkOrderTargeting) Matches(agentID string, agentLabels []string, agentAnnotations map[string]string) bool {
	if len(t.AgentIDs) > 0 {
		for _, id := range t.AgentIDs {
			if id == agentID {
				return true
			}
		}
	}

	if len(t.Labels) > 0 {
		matched := true
		for _, want := range t.Labels {
			if !containsString(agentLabels, want) {
				matched = false
				break
			}
		}
		if matched {
			return true
		}
	}

	if len(t.Annotations) > 0 {
		matched := true
		for k, v := range t.Annotations {
			if agentAnnotations[k] != v {
				matched = false
				break
			}
		}
		if matched {
			return true
		}
	}

	return false
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// WorkOrder is a transient one-shot task dispatched to eligible agents.
type WorkOrder struct {
	ID                  string
	WorkType            string
	YAML                string
	Targeting           WorkOrderTargeting
	MaxRetries          int
	BackoffSeconds      int
	ClaimTimeoutSeconds int
	Status              WorkOrderStatus
	ClaimedBy           *string
	ClaimedAt           *time.Time
	RetryCount          int
	LastError           string
	LastErrorAt         *time.Time
	NextRetryAfter      *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
	DeletedAt           *time.Time
}

// WorkOrderLog is the terminal record a WorkOrder moves to, id preserved.
type WorkOrderLog struct {
	ID                 string
	OriginalWorkOrderID string
	WorkType            string
	Success             bool
	ResultMessage       string
	Attempts            int
	CreatedAt           time.Time
	CompletedAt         time.Time
}

// WebhookSubscription describes a subscriber's interest in Brokkr events.
type WebhookSubscription struct {
	ID                string
	Name              string
	EncryptedURL      []byte
	EncryptedAuthHdr  []byte // optional
	EventPatterns     []string
	FilterAgentID     *string
	FilterStackID     *string
	FilterLabels      []string
	TargetLabels      []string // non-empty => agent-side delivery
	Enabled           bool
	MaxRetries        int
	TimeoutSeconds    int
	CreatedAt         time.Time
	UpdatedAt         time.Time
	DeletedAt         *time.Time
}

// HasURL and HasAuthHeader are the only URL/auth-header facts ever
// surfaced to management UIs; decrypted values never leave the delivery path.
func (s WebhookSubscription) HasURL() bool        { return len(s.EncryptedURL) > 0 }
func (s WebhookSubscription) HasAuthHeader() bool { return len(s.EncryptedAuthHdr) > 0 }

// WebhookDeliveryStatus is the state-machine position of a WebhookDelivery.
type WebhookDeliveryStatus string

const (
	DeliveryPending  WebhookDeliveryStatus = "pending"
	DeliveryAcquired WebhookDeliveryStatus = "acquired"
	DeliverySuccess  WebhookDeliveryStatus = "success"
	DeliveryFailed   WebhookDeliveryStatus = "failed"
	DeliveryDead     WebhookDeliveryStatus = "dead"
)

// WebhookDelivery is one row per matched (event, subscription) pair.
type WebhookDelivery struct {
	ID             string
	SubscriptionID string
	EventType      string
	EventID        string // idempotency key
	PayloadJSON    string
	TargetLabels   []string
	Status         WebhookDeliveryStatus
	AcquiredBy     *string // null = broker, else agent id
	AcquiredUntil  *time.Time
	Attempts       int
	LastError      string
	NextRetryAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DiagnosticStatus is the state-machine position of a DiagnosticRequest.
type DiagnosticStatus string

const (
	DiagnosticPending DiagnosticStatus = "pending"
	DiagnosticClaimed DiagnosticStatus = "claimed"
	DiagnosticDone    DiagnosticStatus = "complete"
	DiagnosticExpired DiagnosticStatus = "expired"
)

// DiagnosticRequest asks a specific agent to gather telemetry for a
// specific DeploymentObject.
type DiagnosticRequest struct {
	ID                 string
	DeploymentObjectID string
	AgentID            string
	RequestedBy        string
	Status             DiagnosticStatus
	ExpiresAt          time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// DiagnosticResult stores telemetry collected at completion.
type DiagnosticResult struct {
	ID          string
	RequestID   string
	PodStatuses string // JSON
	Events      string // JSON
	LogTails    string // JSON
	CreatedAt   time.Time
}

// AuditEvent is one row of the durable append-only audit log.
type AuditEvent struct {
	ID         string
	Timestamp  time.Time
	Actor      string
	Action     string
	Resource   string
	ResourceID string
	Detail     string // JSON
}
