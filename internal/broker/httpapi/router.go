package httpapi

import (
	"net/http"

	"github.com/brokkr-io/brokkr/internal/broker/identity"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Deps is every collaborator a handler needs, constructed once in main and
// threaded through the router the way the teacher's routes.go takes a
// single server struct rather than a grab-bag of globals.
type Deps struct {
	Store      Store
	Identity   *identity.Middleware
	Targeting  Targeting
	Webhooks   WebhookEngine
	Envelope   Envelope
	Config     ConfigStore
	Metrics    MetricsGatherer
	Bus        EventPublisher
	Logger     *zap.Logger
}

// NewRouter builds the broker's full HTTP surface: health endpoints
// (unauthenticated), metrics, and the identity-gated API tree — a single
// net/http.ServeMux using Go 1.22+ method+wildcard patterns, mirroring the
// teacher's routes.go layout.
func NewRouter(d *Deps) http.Handler {
	mux := http.NewServeMux()
	h := &handlers{d: d}

	mux.HandleFunc("GET /healthz", h.healthz)
	mux.HandleFunc("GET /readyz", h.readyz)
	mux.HandleFunc("GET /health", h.health)
	if d.Metrics != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(d.Metrics.Gatherer(), promhttp.HandlerOpts{}))
	}

	mux.HandleFunc("POST /api/v1/auth/pak", h.authPAK)

	mux.Handle("POST /api/v1/agents", d.Identity.Wrap(identity.RequireRole(identity.RoleAdmin, h.createAgent)))
	mux.Handle("POST /api/v1/agents/{id}/rotate-pak", d.Identity.Wrap(http.HandlerFunc(h.rotatePAK)))
	mux.Handle("PATCH /api/v1/agents/{id}", d.Identity.Wrap(identity.RequireRole(identity.RoleAdmin, h.setAgentLifecycle)))
	mux.Handle("GET /api/v1/agents/{id}/target-state", d.Identity.Wrap(http.HandlerFunc(h.targetState)))
	mux.Handle("POST /api/v1/agents/{id}/events", d.Identity.Wrap(http.HandlerFunc(h.reportEvent)))
	mux.Handle("POST /api/v1/agents/{id}/heartbeat", d.Identity.Wrap(http.HandlerFunc(h.heartbeat)))
	mux.Handle("PATCH /api/v1/agents/{id}/health", d.Identity.Wrap(http.HandlerFunc(h.patchHealth)))

	mux.Handle("POST /api/v1/stacks", d.Identity.Wrap(identity.RequireRole(identity.RoleGenerator, h.createStack)))
	mux.Handle("DELETE /api/v1/stacks/{id}", d.Identity.Wrap(identity.RequireRole(identity.RoleGenerator, h.deleteStack)))
	mux.Handle("POST /api/v1/stacks/{id}/deployment-objects", d.Identity.Wrap(identity.RequireRole(identity.RoleGenerator, h.createDeploymentObject)))

	mux.Handle("POST /api/v1/work-orders", d.Identity.Wrap(identity.RequireRole(identity.RoleAdmin, h.createWorkOrder)))
	mux.Handle("GET /api/v1/agents/{id}/work-orders/pending", d.Identity.Wrap(http.HandlerFunc(h.pendingWorkOrders)))
	mux.Handle("POST /api/v1/work-orders/{id}/claim", d.Identity.Wrap(identity.RequireRole(identity.RoleAgent, h.claimWorkOrder)))
	mux.Handle("POST /api/v1/work-orders/{id}/complete", d.Identity.Wrap(identity.RequireRole(identity.RoleAgent, h.completeWorkOrder)))
	mux.Handle("GET /api/v1/work-order-log", d.Identity.Wrap(identity.RequireRole(identity.RoleAdmin, h.workOrderLog)))

	mux.Handle("POST /api/v1/webhooks", d.Identity.Wrap(identity.RequireRole(identity.RoleAdmin, h.createWebhook)))
	mux.Handle("GET /api/v1/webhooks/{id}/deliveries", d.Identity.Wrap(identity.RequireRole(identity.RoleAdmin, h.webhookDeliveries)))
	mux.Handle("GET /api/v1/agents/{id}/webhook-deliveries/pending", d.Identity.Wrap(http.HandlerFunc(h.pendingWebhookDeliveries)))
	mux.Handle("POST /api/v1/webhook-deliveries/{id}/outcome", d.Identity.Wrap(identity.RequireRole(identity.RoleAgent, h.reportWebhookDeliveryOutcome)))

	mux.Handle("POST /api/v1/diagnostics", d.Identity.Wrap(identity.RequireRole(identity.RoleAdmin, h.createDiagnosticRequest)))
	mux.Handle("GET /api/v1/agents/{id}/diagnostics/pending", d.Identity.Wrap(http.HandlerFunc(h.pendingDiagnostics)))
	mux.Handle("POST /api/v1/diagnostics/{id}/claim", d.Identity.Wrap(identity.RequireRole(identity.RoleAgent, h.claimDiagnosticRequest)))
	mux.Handle("POST /api/v1/diagnostics/{id}/complete", d.Identity.Wrap(identity.RequireRole(identity.RoleAgent, h.completeDiagnosticRequest)))

	mux.Handle("POST /api/v1/admin/config/reload", d.Identity.Wrap(identity.RequireRole(identity.RoleAdmin, h.reloadConfig)))

	return withCORS(d.Config, mux)
}
