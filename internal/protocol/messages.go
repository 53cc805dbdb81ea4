// Package protocol defines the JSON wire types shared by the broker's HTTP
// API and the agent's HTTP client — the REST request/response shapes of
// spec §6, kept in one place so both sides of the connection agree on
// field names without importing each other's internals.
package protocol

import "time"

// AuthPAKRequest is the body of POST /api/v1/auth/pak.
type AuthPAKRequest struct {
	PAK string `json:"pak"`
}

// PrincipalRecord is the principal-facing view of an identity row — never
// includes the PAK hash or plaintext.
type PrincipalRecord struct {
	ID          string            `json:"id"`
	Kind        string            `json:"kind"`
	Name        string            `json:"name"`
	ClusterName string            `json:"cluster_name,omitempty"`
	Lifecycle   string            `json:"lifecycle,omitempty"`
	Labels      []string          `json:"labels,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty"`
}

// CreateAgentRequest is the body of POST /api/v1/agents.
type CreateAgentRequest struct {
	Name        string            `json:"name"`
	ClusterName string            `json:"cluster_name"`
	Labels      []string          `json:"labels,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty"`
}

// PAKIssuedResponse carries a plaintext PAK that will never be shown again.
type PAKIssuedResponse struct {
	Principal PrincipalRecord `json:"principal"`
	PAK       string          `json:"pak"`
}

// SetAgentLifecycleRequest is the body of PATCH /api/v1/agents/{id}.
type SetAgentLifecycleRequest struct {
	Active bool `json:"active"`
}

// DeploymentObjectView is the agent-facing view of one DeploymentObject.
type DeploymentObjectView struct {
	ID               string `json:"id"`
	StackID          string `json:"stack_id"`
	SequenceID       int64  `json:"sequence_id"`
	YAML             string `json:"yaml"`
	Checksum         string `json:"checksum"`
	IsDeletionMarker bool   `json:"is_deletion_marker"`
}

// TargetStateResponse is the body of GET /api/v1/agents/{id}/target-state.
type TargetStateResponse struct {
	Objects []DeploymentObjectView `json:"objects"`
}

// ReportEventRequest is the body of POST /api/v1/agents/{id}/events.
type ReportEventRequest struct {
	DeploymentObjectID string `json:"deployment_object_id"`
	Type               string `json:"type"`
	Status             string `json:"status"` // "success" | "failure"
	Message            string `json:"message,omitempty"`
}

// CreateStackRequest is the body of POST /api/v1/stacks.
type CreateStackRequest struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Labels      []string          `json:"labels,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty"`
}

// StackView is the wire representation of a Stack.
type StackView struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	GeneratorID *string           `json:"generator_id,omitempty"`
	Labels      []string          `json:"labels,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty"`
}

// CreateDeploymentObjectRequest is the body of
// POST /api/v1/stacks/{id}/deployment-objects.
type CreateDeploymentObjectRequest struct {
	YAML            string         `json:"yaml"`
	TemplateID      *string        `json:"template_id,omitempty"`
	TemplateVersion *int           `json:"template_version,omitempty"`
	Parameters      map[string]any `json:"parameters,omitempty"`
}

// CreateWorkOrderRequest is the body of POST /api/v1/work-orders.
type CreateWorkOrderRequest struct {
	WorkType            string            `json:"work_type"`
	YAML                string            `json:"yaml"`
	AgentIDs            []string          `json:"agent_ids,omitempty"`
	Labels              []string          `json:"labels,omitempty"`
	Annotations         map[string]string `json:"annotations,omitempty"`
	MaxRetries          int               `json:"max_retries"`
	BackoffSeconds      int               `json:"backoff_seconds"`
	ClaimTimeoutSeconds int               `json:"claim_timeout_seconds"`
}

// WorkOrderView is the wire representation of a claimable/claimed WorkOrder.
type WorkOrderView struct {
	ID         string    `json:"id"`
	WorkType   string    `json:"work_type"`
	YAML       string    `json:"yaml"`
	Status     string    `json:"status"`
	ClaimedBy  *string   `json:"claimed_by,omitempty"`
	RetryCount int       `json:"retry_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// CompleteWorkOrderRequest is the body of POST /api/v1/work-orders/{id}/complete.
type CompleteWorkOrderRequest struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// WorkOrderLogView is the wire representation of a terminal WorkOrderLog row.
type WorkOrderLogView struct {
	ID                  string    `json:"id"`
	OriginalWorkOrderID string    `json:"original_work_order_id"`
	WorkType            string    `json:"work_type"`
	Success             bool      `json:"success"`
	ResultMessage       string    `json:"result_message,omitempty"`
	Attempts            int       `json:"attempts"`
	CompletedAt         time.Time `json:"completed_at"`
}

// CreateWebhookSubscriptionRequest is the body of POST /api/v1/webhooks.
// URL/AuthHeader arrive in plaintext over TLS and are encrypted at rest by
// the handler before ever reaching the store.
type CreateWebhookSubscriptionRequest struct {
	Name           string            `json:"name"`
	URL            string            `json:"url"`
	AuthHeader     string            `json:"auth_header,omitempty"`
	EventPatterns  []string          `json:"event_patterns"`
	FilterAgentID  *string           `json:"filter_agent_id,omitempty"`
	FilterStackID  *string           `json:"filter_stack_id,omitempty"`
	FilterLabels   []string          `json:"filter_labels,omitempty"`
	TargetLabels   []string          `json:"target_labels,omitempty"`
	MaxRetries     int               `json:"max_retries"`
	TimeoutSeconds int               `json:"timeout_seconds"`
	Annotations    map[string]string `json:"annotations,omitempty"`
}

// WebhookSubscriptionView never surfaces decrypted secrets — only the
// has_url/has_auth_header flags the spec requires.
type WebhookSubscriptionView struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	HasURL         bool     `json:"has_url"`
	HasAuthHeader  bool     `json:"has_auth_header"`
	EventPatterns  []string `json:"event_patterns"`
	TargetLabels   []string `json:"target_labels,omitempty"`
	Enabled        bool     `json:"enabled"`
	MaxRetries     int      `json:"max_retries"`
	TimeoutSeconds int      `json:"timeout_seconds"`
}

// WebhookDeliveryView is the management-facing view of one delivery attempt.
type WebhookDeliveryView struct {
	ID          string    `json:"id"`
	EventType   string    `json:"event_type"`
	Status      string    `json:"status"`
	Attempts    int       `json:"attempts"`
	LastError   string    `json:"last_error,omitempty"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// PendingDeliveryView is what an agent-side courier fetches and claims.
type PendingDeliveryView struct {
	ID          string `json:"id"`
	EventType   string `json:"event_type"`
	PayloadJSON string `json:"payload"`
}

// WebhookDeliveryOutcomeRequest is the body an agent courier posts back
// after attempting a claimed delivery.
type WebhookDeliveryOutcomeRequest struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// CreateDiagnosticRequestRequest is the body of POST /api/v1/diagnostics.
type CreateDiagnosticRequestRequest struct {
	DeploymentObjectID string `json:"deployment_object_id"`
	AgentID            string `json:"agent_id"`
	RequestedBy        string `json:"requested_by"`
	TTLSeconds         int    `json:"ttl_seconds"`
}

// DiagnosticRequestView is the wire shape of a DiagnosticRequest.
type DiagnosticRequestView struct {
	ID                 string    `json:"id"`
	DeploymentObjectID string    `json:"deployment_object_id"`
	AgentID            string    `json:"agent_id"`
	Status             string    `json:"status"`
	ExpiresAt          time.Time `json:"expires_at"`
}

// CompleteDiagnosticRequest is the body an agent posts with collected telemetry.
type CompleteDiagnosticRequest struct {
	PodStatuses string `json:"pod_statuses"`
	Events      string `json:"events"`
	LogTails    string `json:"log_tails"`
}

// HeartbeatRequest is the (empty-bodied today) heartbeat ping; kept as a
// named type so the wire contract can grow (e.g. agent version) without an
// incompatible change.
type HeartbeatRequest struct {
	AgentVersion string `json:"agent_version,omitempty"`
}

// PatchHealthRequest is the body of PATCH /api/v1/agents/{id}/health, an
// optional per-cycle status report distinct from the heartbeat itself.
type PatchHealthRequest struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse is the uniform error envelope every endpoint returns on failure.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ConfigReloadResponse confirms a hot-reload took effect.
type ConfigReloadResponse struct {
	Reloaded  bool      `json:"reloaded"`
	Timestamp time.Time `json:"timestamp"`
}
