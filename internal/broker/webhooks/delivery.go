package webhooks

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/brokkr-io/brokkr/internal/broker/store/model"
)

// DeliveryStore is the slice of the store the broker-side delivery loop
// depends on.
type DeliveryStore interface {
	GetWebhookSubscription(ctx context.Context, id string) (*model.WebhookSubscription, error)
	ClaimBrokerDeliveries(ctx context.Context, limit int, lease time.Duration) ([]*model.WebhookDelivery, error)
	ReportDeliveryOutcome(ctx context.Context, id string, success bool, errMsg string, maxRetries int, backoff time.Duration) error
}

// DeliveryMetrics records delivery outcome/latency observations. Satisfied
// by internal/broker/metrics.Registry; a nil DeliveryMetrics on Deliverer
// skips recording rather than requiring every caller to pass one.
type DeliveryMetrics interface {
	ObserveWebhookDelivery(mode, outcome string, d time.Duration)
}

// Deliverer performs the broker-side webhook delivery loop (spec §4.6):
// claim a batch of pending broker-scoped deliveries, POST each, and report
// the outcome back through the same claim row.
type Deliverer struct {
	store    DeliveryStore
	envelope *Envelope
	client   *http.Client
	metrics  DeliveryMetrics
}

// NewDeliverer builds a Deliverer. client defaults to http.DefaultClient's
// shape with no timeout of its own — each request's timeout instead comes
// from the subscription's own TimeoutSeconds, applied per-call via context.
// metrics may be nil, in which case delivery attempts go unrecorded.
func NewDeliverer(store DeliveryStore, envelope *Envelope, client *http.Client, metrics DeliveryMetrics) *Deliverer {
	if client == nil {
		client = &http.Client{}
	}
	return &Deliverer{store: store, envelope: envelope, client: client, metrics: metrics}
}

// DeliverBatch claims up to batchSize pending broker-side deliveries and
// attempts each. It returns the number attempted.
func (d *Deliverer) DeliverBatch(ctx context.Context, batchSize int) (int, error) {
	const leaseSlack = 5 * time.Second

	deliveries, err := d.store.ClaimBrokerDeliveries(ctx, batchSize, leaseSlack)
	if err != nil {
		return 0, err
	}

	for _, delivery := range deliveries {
		d.attempt(ctx, delivery)
	}
	return len(deliveries), nil
}

func (d *Deliverer) attempt(ctx context.Context, delivery *model.WebhookDelivery) {
	start := time.Now()
	outcome := "failure"
	defer func() {
		if d.metrics != nil {
			d.metrics.ObserveWebhookDelivery("broker", outcome, time.Since(start))
		}
	}()

	sub, err := d.store.GetWebhookSubscription(ctx, delivery.SubscriptionID)
	if err != nil {
		_ = d.store.ReportDeliveryOutcome(ctx, delivery.ID, false, err.Error(), 1, time.Second)
		return
	}

	url, err := d.envelope.Open(sub.EncryptedURL)
	if err != nil {
		_ = d.store.ReportDeliveryOutcome(ctx, delivery.ID, false, "decrypt subscriber url: "+err.Error(), sub.MaxRetries, time.Second)
		return
	}
	var authHeader string
	if len(sub.EncryptedAuthHdr) > 0 {
		authHeader, err = d.envelope.Open(sub.EncryptedAuthHdr)
		if err != nil {
			_ = d.store.ReportDeliveryOutcome(ctx, delivery.ID, false, "decrypt auth header: "+err.Error(), sub.MaxRetries, time.Second)
			return
		}
	}

	timeout := time.Duration(sub.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader([]byte(delivery.PayloadJSON)))
	if err != nil {
		_ = d.store.ReportDeliveryOutcome(ctx, delivery.ID, false, err.Error(), sub.MaxRetries, backoffFor(delivery.Attempts+1))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Brokkr-Event-Type", delivery.EventType)
	req.Header.Set("X-Brokkr-Delivery-Id", delivery.ID)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		_ = d.store.ReportDeliveryOutcome(ctx, delivery.ID, false, err.Error(), sub.MaxRetries, backoffFor(delivery.Attempts+1))
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		outcome = "success"
		_ = d.store.ReportDeliveryOutcome(ctx, delivery.ID, true, "", sub.MaxRetries, 0)
		return
	}

	errMsg := fmt.Sprintf("subscriber returned HTTP %d", resp.StatusCode)
	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode < 500 {
		// 4xx (except 429) is not retryable: mark dead immediately by
		// reporting failure with maxRetries already exhausted.
		_ = d.store.ReportDeliveryOutcome(ctx, delivery.ID, false, errMsg, delivery.Attempts, backoffFor(delivery.Attempts+1))
		return
	}
	_ = d.store.ReportDeliveryOutcome(ctx, delivery.ID, false, errMsg, sub.MaxRetries, backoffFor(delivery.Attempts+1))
}

// backoffFor computes 2^attempts seconds, the schedule spec §4.6 specifies
// for both broker- and agent-side retries.
func backoffFor(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 20 {
		attempts = 20 // guard against absurd durations from a runaway counter
	}
	return (1 << uint(attempts)) * time.Second
}
