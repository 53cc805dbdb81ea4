package httpapi

import (
	"net/http"
	"time"

	"github.com/brokkr-io/brokkr/internal/apierr"
	"github.com/brokkr-io/brokkr/internal/broker/identity"
	"github.com/brokkr-io/brokkr/internal/broker/store/model"
	"github.com/brokkr-io/brokkr/internal/protocol"
)

func diagnosticRequestView(d *model.DiagnosticRequest) protocol.DiagnosticRequestView {
	return protocol.DiagnosticRequestView{
		ID: d.ID, DeploymentObjectID: d.DeploymentObjectID, AgentID: d.AgentID,
		Status: string(d.Status), ExpiresAt: d.ExpiresAt,
	}
}

func (h *handlers) createDiagnosticRequest(w http.ResponseWriter, r *http.Request) {
	var req protocol.CreateDiagnosticRequestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.d.Logger, err)
		return
	}
	if req.AgentID == "" || req.DeploymentObjectID == "" {
		writeError(w, h.d.Logger, apierr.New(apierr.Validation, "agent_id and deployment_object_id are required"))
		return
	}

	ttl := time.Duration(req.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = h.d.Config.DiagnosticMaxAge()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	requestedBy := req.RequestedBy
	if requestedBy == "" {
		if ac := identity.FromContext(r.Context()); ac != nil {
			requestedBy = ac.PrincipalID
		}
	}

	d, err := h.d.Store.CreateDiagnosticRequest(r.Context(), req.DeploymentObjectID, req.AgentID, requestedBy, ttl)
	if err != nil {
		writeError(w, h.d.Logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, diagnosticRequestView(d))
}

func (h *handlers) pendingDiagnostics(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !selfOrAdmin(r, id) {
		writeError(w, h.d.Logger, apierr.New(apierr.Forbidden, "forbidden"))
		return
	}

	requests, err := h.d.Store.PendingDiagnosticsForAgent(r.Context(), id)
	if err != nil {
		writeError(w, h.d.Logger, err)
		return
	}

	views := make([]protocol.DiagnosticRequestView, 0, len(requests))
	for _, d := range requests {
		views = append(views, diagnosticRequestView(d))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *handlers) claimDiagnosticRequest(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ac := identity.FromContext(r.Context())

	start := time.Now()
	d, err := h.d.Store.ClaimDiagnosticRequest(r.Context(), id, ac.PrincipalID)
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	h.d.Metrics.ObserveClaim("diagnostic_request", outcome, time.Since(start))
	if err != nil {
		writeError(w, h.d.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, diagnosticRequestView(d))
}

func (h *handlers) completeDiagnosticRequest(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req protocol.CompleteDiagnosticRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.d.Logger, err)
		return
	}

	if err := h.d.Store.CompleteDiagnosticRequest(r.Context(), id, req.PodStatuses, req.Events, req.LogTails); err != nil {
		writeError(w, h.d.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}
