// Package poll drives the agent's single cooperative poll loop (spec
// §4.8): heartbeat, reconcile, optional health patch, work-order claim,
// diagnostic claim, webhook delivery claim — six independently fallible
// steps run every cycle with no short-circuiting on a per-step failure.
package poll

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/brokkr-io/brokkr/internal/agent/diagnostics"
	"github.com/brokkr-io/brokkr/internal/agent/reconciler"
	"github.com/brokkr-io/brokkr/internal/protocol"
)

// BrokerClient is the slice of internal/agent/client.Client the loop uses,
// narrowed to an interface so the loop is testable without an HTTP server.
type BrokerClient interface {
	Heartbeat(ctx context.Context, agentID string) error
	TargetState(ctx context.Context, agentID string) ([]protocol.DeploymentObjectView, error)
	ReportEvent(ctx context.Context, agentID string, req protocol.ReportEventRequest) error
	PendingWorkOrders(ctx context.Context, agentID string) ([]protocol.WorkOrderView, error)
	ClaimWorkOrder(ctx context.Context, id string) (*protocol.WorkOrderView, error)
	CompleteWorkOrder(ctx context.Context, id string, success bool, message string) error
	PendingDiagnostics(ctx context.Context, agentID string) ([]protocol.DiagnosticRequestView, error)
	ClaimDiagnosticRequest(ctx context.Context, id string) (*protocol.DiagnosticRequestView, error)
	CompleteDiagnosticRequest(ctx context.Context, id string, req protocol.CompleteDiagnosticRequest) error
	PendingWebhookDeliveries(ctx context.Context, agentID string) ([]protocol.PendingDeliveryView, error)
	ReportWebhookDeliveryOutcome(ctx context.Context, id string, success bool, errMsg string) error
	PatchHealth(ctx context.Context, agentID, status, message string) error
}

// Executor runs a claimed WorkOrder's opaque payload. WorkOrder work_type
// is free-form (e.g. "build"); the core dispatches to external modules for
// those rather than implementing them itself, so Executor is the seam a
// deployment plugs a real build/chart-render/whatever handler into. The
// loop only knows how to ask for an outcome, never how the work runs.
type Executor interface {
	Execute(ctx context.Context, id, workType, yamlBody string) (success bool, message string)
}

// Deliverer posts a claimed webhook delivery's payload to its destination.
// The agent-side courier doesn't know the subscription's URL (it never
// leaves the broker in plaintext), so delivery itself happens broker-side
// for broker-mode subscriptions; this loop only drives agent-mode
// deliveries, where target_labels scoped it to this agent and the payload
// already carries everything needed to execute it locally.
type Deliverer interface {
	Deliver(ctx context.Context, delivery protocol.PendingDeliveryView) error
}

// CycleReporter receives the outcome of each poll cycle — the status
// server's ReportCycle satisfies this without the loop importing the
// status package directly.
type CycleReporter interface {
	ReportCycle(status, message string)
}

// Loop owns one polling cycle's dependencies.
type Loop struct {
	broker      BrokerClient
	reconciler  *reconciler.Reconciler
	collector   *diagnostics.Collector
	deliverer   Deliverer
	executor    Executor
	reporter    CycleReporter
	agentID     string
	interval    time.Duration
	healthPatch bool
	logger      *zap.Logger
}

// New builds a Loop. reporter may be nil.
func New(broker BrokerClient, recon *reconciler.Reconciler, collector *diagnostics.Collector, deliverer Deliverer, executor Executor, reporter CycleReporter, agentID string, interval time.Duration, healthPatch bool, logger *zap.Logger) *Loop {
	return &Loop{
		broker:      broker,
		reconciler:  recon,
		collector:   collector,
		deliverer:   deliverer,
		executor:    executor,
		reporter:    reporter,
		agentID:     agentID,
		interval:    interval,
		healthPatch: healthPatch,
		logger:      logger,
	}
}

// Run ticks every l.interval until ctx is canceled. Each cycle runs to
// completion before the next begins — a slow cycle delays, never skips.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.cycle(ctx)
		}
	}
}

func (l *Loop) cycle(ctx context.Context) {
	if err := l.broker.Heartbeat(ctx, l.agentID); err != nil {
		l.logger.Warn("heartbeat failed", zap.Error(err))
	}

	status, message := l.reconcileTargetState(ctx)

	if l.reporter != nil {
		l.reporter.ReportCycle(status, message)
	}
	if l.healthPatch {
		if err := l.broker.PatchHealth(ctx, l.agentID, status, message); err != nil {
			l.logger.Warn("health patch failed", zap.Error(err))
		}
	}

	l.runWorkOrders(ctx)
	l.runDiagnostics(ctx)
	l.runWebhookDeliveries(ctx)
}

// reconcileTargetState applies every pending DeploymentObject and reports
// per-object outcomes, returning an aggregate health summary for the
// optional health-patch step: "healthy" unless any object failed.
func (l *Loop) reconcileTargetState(ctx context.Context) (status, message string) {
	objects, err := l.broker.TargetState(ctx, l.agentID)
	if err != nil {
		l.logger.Warn("target state fetch failed", zap.Error(err))
		return "unknown", err.Error()
	}

	status = "healthy"
	var failures []string

	for _, obj := range objects {
		err := l.reconciler.Reconcile(ctx, obj.StackID, obj.YAML, obj.Checksum, obj.IsDeletionMarker)
		objStatus := "success"
		objMessage := ""
		if err != nil {
			objStatus = "failure"
			objMessage = err.Error()
			status = "degraded"
			failures = append(failures, obj.ID+": "+objMessage)
			l.logger.Error("reconcile failed", zap.String("deployment_object_id", obj.ID), zap.Error(err))
		}
		reportErr := l.broker.ReportEvent(ctx, l.agentID, protocol.ReportEventRequest{
			DeploymentObjectID: obj.ID,
			Type:               "apply",
			Status:             objStatus,
			Message:            objMessage,
		})
		if reportErr != nil {
			l.logger.Warn("report event failed", zap.String("deployment_object_id", obj.ID), zap.Error(reportErr))
		}
	}

	if len(failures) > 0 {
		message = strings.Join(failures, "; ")
	}
	return status, message
}

func (l *Loop) runWorkOrders(ctx context.Context) {
	pending, err := l.broker.PendingWorkOrders(ctx, l.agentID)
	if err != nil {
		l.logger.Warn("pending work orders fetch failed", zap.Error(err))
		return
	}

	for _, wo := range pending {
		claimed, err := l.broker.ClaimWorkOrder(ctx, wo.ID)
		if err != nil {
			continue // lost the race or transient error; retried next cycle
		}
		success, message := l.executor.Execute(ctx, claimed.ID, claimed.WorkType, claimed.YAML)
		if err := l.broker.CompleteWorkOrder(ctx, claimed.ID, success, message); err != nil {
			l.logger.Warn("complete work order failed", zap.String("work_order_id", claimed.ID), zap.Error(err))
		}
	}
}

func (l *Loop) runDiagnostics(ctx context.Context) {
	pending, err := l.broker.PendingDiagnostics(ctx, l.agentID)
	if err != nil {
		l.logger.Warn("pending diagnostics fetch failed", zap.Error(err))
		return
	}

	for _, d := range pending {
		claimed, err := l.broker.ClaimDiagnosticRequest(ctx, d.ID)
		if err != nil {
			continue
		}
		report, err := l.collector.Collect(ctx, claimed.DeploymentObjectID)
		if err != nil {
			l.logger.Error("diagnostic collection failed", zap.String("diagnostic_request_id", claimed.ID), zap.Error(err))
			continue
		}
		req := protocol.CompleteDiagnosticRequest{
			PodStatuses: report.PodStatuses,
			Events:      report.Events,
			LogTails:    report.LogTails,
		}
		if err := l.broker.CompleteDiagnosticRequest(ctx, claimed.ID, req); err != nil {
			l.logger.Warn("complete diagnostic failed", zap.String("diagnostic_request_id", claimed.ID), zap.Error(err))
		}
	}
}

func (l *Loop) runWebhookDeliveries(ctx context.Context) {
	pending, err := l.broker.PendingWebhookDeliveries(ctx, l.agentID)
	if err != nil {
		l.logger.Warn("pending webhook deliveries fetch failed", zap.Error(err))
		return
	}

	for _, delivery := range pending {
		err := l.deliverer.Deliver(ctx, delivery)
		errMsg := ""
		if err != nil {
			errMsg = err.Error()
		}
		if reportErr := l.broker.ReportWebhookDeliveryOutcome(ctx, delivery.ID, err == nil, errMsg); reportErr != nil {
			l.logger.Warn("report webhook delivery outcome failed", zap.String("delivery_id", delivery.ID), zap.Error(reportErr))
		}
	}
}
