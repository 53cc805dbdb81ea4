package httpapi

import (
	"context"
	"net/http"
	"time"
)

type healthStatus struct {
	Status string `json:"status"`
}

func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthStatus{Status: "ok"})
}

// readyz probes the datastore with a bounded-timeout heartbeat-shaped call;
// a reachable store is all "ready" means here (spec §6 health endpoints).
func (h *handlers) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if _, err := h.d.Store.ListWorkOrderLog(ctx, 1); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, healthStatus{Status: "unready"})
		return
	}
	writeJSON(w, http.StatusOK, healthStatus{Status: "ready"})
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthStatus{Status: "ok"})
}
