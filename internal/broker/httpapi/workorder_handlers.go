package httpapi

import (
	"net/http"
	"time"

	"github.com/brokkr-io/brokkr/internal/apierr"
	"github.com/brokkr-io/brokkr/internal/broker/events"
	"github.com/brokkr-io/brokkr/internal/broker/identity"
	"github.com/brokkr-io/brokkr/internal/broker/store/model"
	"github.com/brokkr-io/brokkr/internal/protocol"
)

func workOrderView(wo *model.WorkOrder) protocol.WorkOrderView {
	return protocol.WorkOrderView{
		ID: wo.ID, WorkType: wo.WorkType, YAML: wo.YAML, Status: string(wo.Status),
		ClaimedBy: wo.ClaimedBy, RetryCount: wo.RetryCount, CreatedAt: wo.CreatedAt,
	}
}

func (h *handlers) createWorkOrder(w http.ResponseWriter, r *http.Request) {
	var req protocol.CreateWorkOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.d.Logger, err)
		return
	}

	targeting := model.WorkOrderTargeting{AgentIDs: req.AgentIDs, Labels: req.Labels, Annotations: req.Annotations}
	wo, err := h.d.Store.CreateWorkOrder(r.Context(), req.WorkType, req.YAML, targeting, req.MaxRetries, req.BackoffSeconds, req.ClaimTimeoutSeconds)
	if err != nil {
		writeError(w, h.d.Logger, err)
		return
	}

	h.d.Bus.Publish(events.Event{Type: events.WorkOrderCreated, ResourceID: wo.ID, Labels: req.Labels})
	writeJSON(w, http.StatusCreated, workOrderView(wo))
}

func (h *handlers) pendingWorkOrders(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !selfOrAdmin(r, id) {
		writeError(w, h.d.Logger, apierr.New(apierr.Forbidden, "forbidden"))
		return
	}

	principal, err := h.d.Store.GetPrincipal(r.Context(), id)
	if err != nil {
		writeError(w, h.d.Logger, err)
		return
	}

	orders, err := h.d.Store.PendingForAgent(r.Context(), id, principal.Labels, principal.Annotations)
	if err != nil {
		writeError(w, h.d.Logger, err)
		return
	}

	views := make([]protocol.WorkOrderView, 0, len(orders))
	for _, wo := range orders {
		views = append(views, workOrderView(wo))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *handlers) claimWorkOrder(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ac := identity.FromContext(r.Context())

	start := time.Now()
	wo, err := h.d.Store.ClaimWorkOrder(r.Context(), id, ac.PrincipalID)
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	h.d.Metrics.ObserveClaim("work_order", outcome, time.Since(start))
	if err != nil {
		writeError(w, h.d.Logger, err)
		return
	}

	h.d.Bus.Publish(events.Event{Type: events.WorkOrderClaimed, ResourceID: wo.ID, AgentID: ac.PrincipalID})
	writeJSON(w, http.StatusOK, workOrderView(wo))
}

func (h *handlers) completeWorkOrder(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ac := identity.FromContext(r.Context())

	var req protocol.CompleteWorkOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.d.Logger, err)
		return
	}

	if err := h.d.Store.CompleteWorkOrder(r.Context(), id, ac.PrincipalID, req.Success, req.Message); err != nil {
		writeError(w, h.d.Logger, err)
		return
	}

	busEvt := events.WorkOrderCompleted
	if !req.Success {
		busEvt = events.WorkOrderFailed
	}
	h.d.Bus.Publish(events.Event{Type: busEvt, ResourceID: id, AgentID: ac.PrincipalID})
	writeJSON(w, http.StatusOK, nil)
}

func (h *handlers) workOrderLog(w http.ResponseWriter, r *http.Request) {
	logs, err := h.d.Store.ListWorkOrderLog(r.Context(), 0)
	if err != nil {
		writeError(w, h.d.Logger, err)
		return
	}

	views := make([]protocol.WorkOrderLogView, 0, len(logs))
	for _, l := range logs {
		views = append(views, protocol.WorkOrderLogView{
			ID: l.ID, OriginalWorkOrderID: l.OriginalWorkOrderID, WorkType: l.WorkType,
			Success: l.Success, ResultMessage: l.ResultMessage, Attempts: l.Attempts, CompletedAt: l.CompletedAt,
		})
	}
	writeJSON(w, http.StatusOK, views)
}
