package httpapi

import (
	"context"
	"time"

	"github.com/brokkr-io/brokkr/internal/broker/events"
	"github.com/brokkr-io/brokkr/internal/broker/store/model"
	"github.com/brokkr-io/brokkr/internal/broker/webhooks"
	"github.com/prometheus/client_golang/prometheus"
)

// Store is the full slice of internal/broker/store/postgres.Store the HTTP
// layer depends on, collected in one interface so handlers are testable
// against an in-memory fake without a live Postgres instance.
type Store interface {
	LookupByPAKHash(ctx context.Context, hash string) (*model.Principal, error)
	CreatePrincipal(ctx context.Context, kind model.PrincipalKind, name, clusterName string, labels []string, annotations map[string]string) (*model.Principal, string, error)
	RotatePAK(ctx context.Context, principalID string) (string, error)
	SetAgentLifecycle(ctx context.Context, agentID string, active bool) error
	GetPrincipal(ctx context.Context, id string) (*model.Principal, error)
	Heartbeat(ctx context.Context, agentID string) error
	PatchHealth(ctx context.Context, agentID, status, message string) error

	CreateStack(ctx context.Context, name, description string, generatorID *string, labels []string, annotations map[string]string) (*model.Stack, error)
	GetStack(ctx context.Context, id string) (*model.Stack, error)
	DeleteStackCascade(ctx context.Context, stackID string) error
	CreateDeploymentObject(ctx context.Context, stackID, yaml string, templateID *string, templateVersion *int, parameters map[string]any) (*model.DeploymentObject, error)

	RecordAgentEvent(ctx context.Context, agentID, deploymentObjectID, eventType string, status model.AgentEventStatus, message string) (*model.AgentEvent, error)

	CreateWorkOrder(ctx context.Context, workType, yaml string, targeting model.WorkOrderTargeting, maxRetries, backoffSeconds, claimTimeoutSeconds int) (*model.WorkOrder, error)
	PendingForAgent(ctx context.Context, agentID string, agentLabels []string, agentAnnotations map[string]string) ([]*model.WorkOrder, error)
	ClaimWorkOrder(ctx context.Context, id, agentID string) (*model.WorkOrder, error)
	CompleteWorkOrder(ctx context.Context, id, agentID string, success bool, resultMessage string) error
	ListWorkOrderLog(ctx context.Context, limit int) ([]*model.WorkOrderLog, error)

	CreateWebhookSubscription(ctx context.Context, sub model.WebhookSubscription) (*model.WebhookSubscription, error)
	GetWebhookSubscription(ctx context.Context, id string) (*model.WebhookSubscription, error)
	GetWebhookDelivery(ctx context.Context, id string) (*model.WebhookDelivery, error)
	ListDeliveriesForSubscription(ctx context.Context, subscriptionID string, limit int) ([]*model.WebhookDelivery, error)
	ClaimAgentDeliveries(ctx context.Context, agentID string, agentLabels []string, limit int, lease time.Duration) ([]*model.WebhookDelivery, error)
	ReportDeliveryOutcome(ctx context.Context, id string, success bool, errMsg string, maxRetries int, backoff time.Duration) error

	CreateDiagnosticRequest(ctx context.Context, deploymentObjectID, agentID, requestedBy string, ttl time.Duration) (*model.DiagnosticRequest, error)
	PendingDiagnosticsForAgent(ctx context.Context, agentID string) ([]*model.DiagnosticRequest, error)
	ClaimDiagnosticRequest(ctx context.Context, id, agentID string) (*model.DiagnosticRequest, error)
	CompleteDiagnosticRequest(ctx context.Context, requestID, podStatusesJSON, eventsJSON, logTailsJSON string) error
}

// Targeting is the slice of internal/broker/targeting.Resolver the
// target-state handler depends on.
type Targeting interface {
	TargetState(ctx context.Context, agentID string, agentLabels []string, agentAnnotations map[string]string) ([]*model.DeploymentObject, error)
}

// WebhookEngine is the slice of internal/broker/webhooks.Engine the
// handlers depend on for synchronous, test-visible enqueueing.
type WebhookEngine interface {
	HandleEvent(ctx context.Context, evt events.Event, match webhooks.MatchInput) error
}

// Envelope encrypts/decrypts webhook subscription secrets.
type Envelope interface {
	Seal(plaintext string) ([]byte, error)
	Open(ciphertext []byte) (string, error)
}

// ConfigStore exposes the hot-reloadable config surface and CORS settings
// to the router and the reload handler.
type ConfigStore interface {
	CORSOrigins() []string
	CORSMethods() []string
	CORSHeaders() []string
	DiagnosticMaxAge() time.Duration
	Reload(ctx context.Context) error
}

// MetricsGatherer exposes the Prometheus registry for /metrics and the
// recording methods claim/delivery handlers call after each attempt.
type MetricsGatherer interface {
	Gatherer() prometheus.Gatherer
	ObserveClaim(queue, outcome string, d time.Duration)
	ObserveWebhookDelivery(mode, outcome string, d time.Duration)
}

// EventPublisher publishes onto the in-process event bus.
type EventPublisher interface {
	Publish(evt events.Event)
}
