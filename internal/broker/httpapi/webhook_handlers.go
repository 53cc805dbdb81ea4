package httpapi

import (
	"net/http"
	"time"

	"github.com/brokkr-io/brokkr/internal/apierr"
	"github.com/brokkr-io/brokkr/internal/broker/store/model"
	"github.com/brokkr-io/brokkr/internal/protocol"
)

func webhookSubscriptionView(s *model.WebhookSubscription) protocol.WebhookSubscriptionView {
	return protocol.WebhookSubscriptionView{
		ID: s.ID, Name: s.Name, HasURL: s.HasURL(), HasAuthHeader: s.HasAuthHeader(),
		EventPatterns: s.EventPatterns, TargetLabels: s.TargetLabels, Enabled: s.Enabled,
		MaxRetries: s.MaxRetries, TimeoutSeconds: s.TimeoutSeconds,
	}
}

// createWebhook encrypts the subscriber URL and optional auth header before
// they ever reach the store (spec §4.6) — the plaintext lives only for the
// duration of this request.
func (h *handlers) createWebhook(w http.ResponseWriter, r *http.Request) {
	var req protocol.CreateWebhookSubscriptionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.d.Logger, err)
		return
	}
	if req.URL == "" || len(req.EventPatterns) == 0 {
		writeError(w, h.d.Logger, apierr.New(apierr.Validation, "url and event_patterns are required"))
		return
	}

	encryptedURL, err := h.d.Envelope.Seal(req.URL)
	if err != nil {
		writeError(w, h.d.Logger, apierr.Wrap(apierr.Fatal, "seal webhook url", err))
		return
	}
	var encryptedAuth []byte
	if req.AuthHeader != "" {
		encryptedAuth, err = h.d.Envelope.Seal(req.AuthHeader)
		if err != nil {
			writeError(w, h.d.Logger, apierr.Wrap(apierr.Fatal, "seal webhook auth header", err))
			return
		}
	}

	sub := model.WebhookSubscription{
		Name: req.Name, EncryptedURL: encryptedURL, EncryptedAuthHdr: encryptedAuth,
		EventPatterns: req.EventPatterns, FilterAgentID: req.FilterAgentID, FilterStackID: req.FilterStackID,
		FilterLabels: req.FilterLabels, TargetLabels: req.TargetLabels, Enabled: true,
		MaxRetries: req.MaxRetries, TimeoutSeconds: req.TimeoutSeconds,
	}
	created, err := h.d.Store.CreateWebhookSubscription(r.Context(), sub)
	if err != nil {
		writeError(w, h.d.Logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, webhookSubscriptionView(created))
}

func (h *handlers) webhookDeliveries(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	deliveries, err := h.d.Store.ListDeliveriesForSubscription(r.Context(), id, 0)
	if err != nil {
		writeError(w, h.d.Logger, err)
		return
	}

	views := make([]protocol.WebhookDeliveryView, 0, len(deliveries))
	for _, d := range deliveries {
		views = append(views, protocol.WebhookDeliveryView{
			ID: d.ID, EventType: d.EventType, Status: string(d.Status),
			Attempts: d.Attempts, LastError: d.LastError, NextRetryAt: d.NextRetryAt, CreatedAt: d.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

// pendingWebhookDeliveries is the agent-side courier's claim endpoint,
// supplementing spec §6's core table with agent-scoped delivery (spec §4.6
// "agent-side delivery mode" for subscriptions with non-empty target_labels).
func (h *handlers) pendingWebhookDeliveries(w http.ResponseWriter, r *http.Request) {
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

	start := time.Now()
	deliveries, err := h.d.Store.ClaimAgentDeliveries(r.Context(), id, principal.Labels, 10, 30*time.Second)
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	h.d.Metrics.ObserveClaim("webhook_delivery", outcome, time.Since(start))
	if err != nil {
		writeError(w, h.d.Logger, err)
		return
	}

	views := make([]protocol.PendingDeliveryView, 0, len(deliveries))
	for _, d := range deliveries {
		views = append(views, protocol.PendingDeliveryView{ID: d.ID, EventType: d.EventType, PayloadJSON: d.PayloadJSON})
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *handlers) reportWebhookDeliveryOutcome(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req protocol.WebhookDeliveryOutcomeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.d.Logger, err)
		return
	}

	delivery, err := h.d.Store.GetWebhookDelivery(r.Context(), id)
	if err != nil {
		writeError(w, h.d.Logger, err)
		return
	}
	sub, err := h.d.Store.GetWebhookSubscription(r.Context(), delivery.SubscriptionID)
	if err != nil {
		writeError(w, h.d.Logger, err)
		return
	}

	backoff := backoffForAttempts(delivery.Attempts + 1)
	if err := h.d.Store.ReportDeliveryOutcome(r.Context(), id, req.Success, req.Error, sub.MaxRetries, backoff); err != nil {
		writeError(w, h.d.Logger, err)
		return
	}

	outcome := "success"
	if !req.Success {
		outcome = "failure"
	}
	// Duration is unknown here: the POST itself happened agent-side, and
	// this endpoint only receives its outcome after the fact.
	h.d.Metrics.ObserveWebhookDelivery("agent", outcome, 0)
	writeJSON(w, http.StatusOK, nil)
}

// backoffForAttempts mirrors webhooks.backoffFor (2^attempts seconds,
// capped) — duplicated here rather than exported across package boundaries
// since the httpapi layer reports outcomes for agent-side deliveries the
// webhooks.Deliverer never touches.
func backoffForAttempts(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 20 {
		attempts = 20
	}
	return (1 << uint(attempts)) * time.Second
}
