// Package metrics exposes Brokkr's Prometheus collectors: claim attempts
// across the three claim-and-complete queues and webhook delivery outcomes.
// Registered against a private registry and served at /metrics by
// internal/broker/httpapi.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds every Brokkr collector, built once at process start and
// injected into the components that record against it. There are no
// reconciler apply metrics here or anywhere else: the reconciler runs in
// the agent, a separate process with no route to the broker's registry.
type Registry struct {
	registry *prometheus.Registry

	ClaimAttemptsTotal   *prometheus.CounterVec
	ClaimDurationSeconds *prometheus.HistogramVec

	WebhookDeliveriesTotal        *prometheus.CounterVec
	WebhookDeliveryLatencySeconds *prometheus.HistogramVec
}

// New builds and registers every collector against a fresh registry.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,
		ClaimAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "brokkr",
			Name:      "claim_attempts_total",
			Help:      "Claim attempts against a queue (work_order, webhook_delivery, diagnostic_request), by queue and outcome.",
		}, []string{"queue", "outcome"}),
		ClaimDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "brokkr",
			Name:      "claim_duration_seconds",
			Help:      "Time spent executing a claim transaction, by queue.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"queue"}),
		WebhookDeliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "brokkr",
			Name:      "webhook_deliveries_total",
			Help:      "Webhook delivery attempts, by delivery mode (broker, agent) and outcome.",
		}, []string{"mode", "outcome"}),
		WebhookDeliveryLatencySeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "brokkr",
			Name:      "webhook_delivery_latency_seconds",
			Help:      "Time spent performing one webhook delivery HTTP POST.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"mode"}),
	}

	reg.MustRegister(
		r.ClaimAttemptsTotal, r.ClaimDurationSeconds,
		r.WebhookDeliveriesTotal, r.WebhookDeliveryLatencySeconds,
	)
	return r
}

// Gatherer exposes the registry for the /metrics HTTP handler.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// ObserveClaim records one claim attempt against a queue ("work_order",
// "diagnostic_request", "webhook_delivery") and how long the claim
// transaction took.
func (r *Registry) ObserveClaim(queue, outcome string, d time.Duration) {
	r.ClaimAttemptsTotal.WithLabelValues(queue, outcome).Inc()
	r.ClaimDurationSeconds.WithLabelValues(queue).Observe(d.Seconds())
}

// ObserveWebhookDelivery records one webhook delivery attempt by mode
// ("broker", "agent") and outcome ("success", "failure"), plus the latency
// of the delivery HTTP round trip.
func (r *Registry) ObserveWebhookDelivery(mode, outcome string, d time.Duration) {
	r.WebhookDeliveriesTotal.WithLabelValues(mode, outcome).Inc()
	r.WebhookDeliveryLatencySeconds.WithLabelValues(mode).Observe(d.Seconds())
}
