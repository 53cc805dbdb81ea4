package httpapi

import (
	"net/http"

	"github.com/brokkr-io/brokkr/internal/apierr"
	"github.com/brokkr-io/brokkr/internal/broker/events"
	"github.com/brokkr-io/brokkr/internal/broker/identity"
	"github.com/brokkr-io/brokkr/internal/broker/store/model"
	"github.com/brokkr-io/brokkr/internal/protocol"
)

type handlers struct {
	d *Deps
}

func principalView(p *model.Principal) protocol.PrincipalRecord {
	return protocol.PrincipalRecord{
		ID:          p.ID,
		Kind:        string(p.Kind),
		Name:        p.Name,
		ClusterName: p.ClusterName,
		Lifecycle:   string(p.Lifecycle),
		Labels:      p.Labels,
		Annotations: p.Annotations,
	}
}

// authPAK verifies a bearer PAK out-of-band of the normal auth middleware
// (there is no prior credential to attach) and returns the owning
// principal's public record.
func (h *handlers) authPAK(w http.ResponseWriter, r *http.Request) {
	var req protocol.AuthPAKRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.d.Logger, err)
		return
	}
	if req.PAK == "" {
		writeError(w, h.d.Logger, apierr.New(apierr.Validation, "pak is required"))
		return
	}

	hash := identity.HashPAK(req.PAK)
	principal, err := h.d.Store.LookupByPAKHash(r.Context(), hash)
	if err != nil {
		writeError(w, h.d.Logger, err)
		return
	}
	if principal == nil {
		writeError(w, h.d.Logger, apierr.New(apierr.Unauthenticated, "invalid pak"))
		return
	}
	writeJSON(w, http.StatusOK, principalView(principal))
}

func (h *handlers) createAgent(w http.ResponseWriter, r *http.Request) {
	var req protocol.CreateAgentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.d.Logger, err)
		return
	}

	p, plaintext, err := h.d.Store.CreatePrincipal(r.Context(), model.PrincipalAgent, req.Name, req.ClusterName, req.Labels, req.Annotations)
	if err != nil {
		writeError(w, h.d.Logger, err)
		return
	}

	h.d.Bus.Publish(events.Event{Type: events.AgentRegistered, ResourceID: p.ID, Actor: identity.FromContext(r.Context()).PrincipalID})
	writeJSON(w, http.StatusCreated, protocol.PAKIssuedResponse{Principal: principalView(p), PAK: plaintext})
}

func (h *handlers) rotatePAK(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ac := identity.FromContext(r.Context())
	if ac == nil {
		writeError(w, h.d.Logger, apierr.New(apierr.Unauthenticated, "unauthenticated"))
		return
	}
	// admin|self: an agent may rotate its own key, an admin may rotate anyone's.
	if ac.Kind != model.PrincipalAdmin && ac.PrincipalID != id {
		writeError(w, h.d.Logger, apierr.New(apierr.Forbidden, "may only rotate your own pak"))
		return
	}

	plaintext, err := h.d.Store.RotatePAK(r.Context(), id)
	if err != nil {
		writeError(w, h.d.Logger, err)
		return
	}
	p, err := h.d.Store.GetPrincipal(r.Context(), id)
	if err != nil {
		writeError(w, h.d.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.PAKIssuedResponse{Principal: principalView(p), PAK: plaintext})
}

func (h *handlers) setAgentLifecycle(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req protocol.SetAgentLifecycleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.d.Logger, err)
		return
	}
	if err := h.d.Store.SetAgentLifecycle(r.Context(), id, req.Active); err != nil {
		writeError(w, h.d.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (h *handlers) heartbeat(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !selfOrAdmin(r, id) {
		writeError(w, h.d.Logger, apierr.New(apierr.Forbidden, "forbidden"))
		return
	}
	if err := h.d.Store.Heartbeat(r.Context(), id); err != nil {
		writeError(w, h.d.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (h *handlers) patchHealth(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !selfOrAdmin(r, id) {
		writeError(w, h.d.Logger, apierr.New(apierr.Forbidden, "forbidden"))
		return
	}
	var req protocol.PatchHealthRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.d.Logger, err)
		return
	}
	if err := h.d.Store.PatchHealth(r.Context(), id, req.Status, req.Message); err != nil {
		writeError(w, h.d.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// selfOrAdmin reports whether the authenticated principal is id itself or
// an admin — the "agent (self)" / "admin" role gate spec §6's endpoint
// table uses for several agent-scoped routes (narrower than RequireRole,
// which only checks principal kind, not row ownership).
func selfOrAdmin(r *http.Request, id string) bool {
	ac := identity.FromContext(r.Context())
	if ac == nil {
		return false
	}
	return ac.Kind == model.PrincipalAdmin || ac.PrincipalID == id
}
