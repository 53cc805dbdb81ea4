package httpapi

import (
	"net/http"

	"github.com/brokkr-io/brokkr/internal/apierr"
	"github.com/brokkr-io/brokkr/internal/broker/events"
	"github.com/brokkr-io/brokkr/internal/broker/identity"
	"github.com/brokkr-io/brokkr/internal/broker/store/model"
	"github.com/brokkr-io/brokkr/internal/protocol"
)

func stackView(s *model.Stack) protocol.StackView {
	return protocol.StackView{
		ID: s.ID, Name: s.Name, Description: s.Description,
		GeneratorID: s.GeneratorID, Labels: s.Labels, Annotations: s.Annotations,
	}
}

func (h *handlers) createStack(w http.ResponseWriter, r *http.Request) {
	var req protocol.CreateStackRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.d.Logger, err)
		return
	}

	ac := identity.FromContext(r.Context())
	var generatorID *string
	if ac.Kind == model.PrincipalGenerator {
		id := ac.PrincipalID
		generatorID = &id
	}

	st, err := h.d.Store.CreateStack(r.Context(), req.Name, req.Description, generatorID, req.Labels, req.Annotations)
	if err != nil {
		writeError(w, h.d.Logger, err)
		return
	}

	h.d.Bus.Publish(events.Event{Type: events.StackCreated, ResourceID: st.ID, Actor: ac.PrincipalID, Labels: st.Labels})
	writeJSON(w, http.StatusCreated, stackView(st))
}

// ownsStackOrAdmin enforces owner|admin row-gating (spec §6): an admin may
// act on any stack; a generator only on stacks it owns.
func (h *handlers) ownsStackOrAdmin(r *http.Request, stackID string) error {
	ac := identity.FromContext(r.Context())
	if ac == nil {
		return apierr.New(apierr.Unauthenticated, "unauthenticated")
	}
	if ac.Kind == model.PrincipalAdmin {
		return nil
	}
	st, err := h.d.Store.GetStack(r.Context(), stackID)
	if err != nil {
		return err
	}
	if st.GeneratorID == nil || *st.GeneratorID != ac.PrincipalID {
		return apierr.New(apierr.NotFound, "stack not found")
	}
	return nil
}

func (h *handlers) deleteStack(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.ownsStackOrAdmin(r, id); err != nil {
		writeError(w, h.d.Logger, err)
		return
	}
	if err := h.d.Store.DeleteStackCascade(r.Context(), id); err != nil {
		writeError(w, h.d.Logger, err)
		return
	}
	h.d.Bus.Publish(events.Event{Type: events.StackDeleted, ResourceID: id, Actor: identity.FromContext(r.Context()).PrincipalID})
	writeJSON(w, http.StatusOK, nil)
}

func (h *handlers) createDeploymentObject(w http.ResponseWriter, r *http.Request) {
	stackID := r.PathValue("id")
	if err := h.ownsStackOrAdmin(r, stackID); err != nil {
		writeError(w, h.d.Logger, err)
		return
	}

	var req protocol.CreateDeploymentObjectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.d.Logger, err)
		return
	}
	if req.YAML == "" {
		writeError(w, h.d.Logger, apierr.New(apierr.Validation, "yaml is required"))
		return
	}

	obj, err := h.d.Store.CreateDeploymentObject(r.Context(), stackID, req.YAML, req.TemplateID, req.TemplateVersion, req.Parameters)
	if err != nil {
		writeError(w, h.d.Logger, err)
		return
	}

	h.d.Bus.Publish(events.Event{
		Type: events.DeploymentCreated, ResourceID: obj.ID, StackID: stackID,
		Actor: identity.FromContext(r.Context()).PrincipalID,
	})
	writeJSON(w, http.StatusCreated, protocol.DeploymentObjectView{
		ID: obj.ID, StackID: obj.StackID, SequenceID: obj.SequenceID,
		YAML: obj.YAML, Checksum: obj.Checksum, IsDeletionMarker: obj.IsDeletionMarker,
	})
}

func (h *handlers) targetState(w http.ResponseWriter, r *http.Request) {
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

	objs, err := h.d.Targeting.TargetState(r.Context(), id, principal.Labels, principal.Annotations)
	if err != nil {
		writeError(w, h.d.Logger, err)
		return
	}

	views := make([]protocol.DeploymentObjectView, 0, len(objs))
	for _, o := range objs {
		views = append(views, protocol.DeploymentObjectView{
			ID: o.ID, StackID: o.StackID, SequenceID: o.SequenceID,
			YAML: o.YAML, Checksum: o.Checksum, IsDeletionMarker: o.IsDeletionMarker,
		})
	}
	writeJSON(w, http.StatusOK, protocol.TargetStateResponse{Objects: views})
}

func (h *handlers) reportEvent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !selfOrAdmin(r, id) {
		writeError(w, h.d.Logger, apierr.New(apierr.Forbidden, "forbidden"))
		return
	}

	var req protocol.ReportEventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.d.Logger, err)
		return
	}

	status := model.AgentEventStatus(req.Status)
	if status != model.AgentEventSuccess && status != model.AgentEventFailure {
		writeError(w, h.d.Logger, apierr.New(apierr.Validation, "status must be success or failure"))
		return
	}

	evt, err := h.d.Store.RecordAgentEvent(r.Context(), id, req.DeploymentObjectID, req.Type, status, req.Message)
	if err != nil {
		writeError(w, h.d.Logger, err)
		return
	}

	busEvt := events.DeploymentApplied
	if status == model.AgentEventFailure {
		busEvt = events.DeploymentFailed
	}
	h.d.Bus.Publish(events.Event{Type: busEvt, ResourceID: evt.DeploymentObjectID, AgentID: id})
	writeJSON(w, http.StatusCreated, nil)
}
