package webhooks

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/brokkr-io/brokkr/internal/broker/store/model"
)

type fakeDeliveryStore struct {
	subs     map[string]*model.WebhookSubscription
	pending  []*model.WebhookDelivery
	outcomes []reportedOutcome
}

type reportedOutcome struct {
	id      string
	success bool
	errMsg  string
}

func (f *fakeDeliveryStore) GetWebhookSubscription(_ context.Context, id string) (*model.WebhookSubscription, error) {
	return f.subs[id], nil
}

func (f *fakeDeliveryStore) ClaimBrokerDeliveries(_ context.Context, limit int, _ time.Duration) ([]*model.WebhookDelivery, error) {
	if limit > len(f.pending) {
		limit = len(f.pending)
	}
	claimed := f.pending[:limit]
	f.pending = f.pending[limit:]
	return claimed, nil
}

func (f *fakeDeliveryStore) ReportDeliveryOutcome(_ context.Context, id string, success bool, errMsg string, _ int, _ time.Duration) error {
	f.outcomes = append(f.outcomes, reportedOutcome{id: id, success: success, errMsg: errMsg})
	return nil
}

func newTestEnvelope(t *testing.T) *Envelope {
	t.Helper()
	env, err := NewEnvelope([]byte("test-master-secret-value-padded"))
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	return env
}

func TestDeliverBatchSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Brokkr-Event-Type") != "deployment.applied" {
			t.Errorf("missing event type header")
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	env := newTestEnvelope(t)
	encURL, err := env.Seal(server.URL)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	store := &fakeDeliveryStore{
		subs: map[string]*model.WebhookSubscription{
			"sub-1": {ID: "sub-1", EncryptedURL: encURL, MaxRetries: 5, TimeoutSeconds: 5},
		},
		pending: []*model.WebhookDelivery{
			{ID: "del-1", SubscriptionID: "sub-1", EventType: "deployment.applied", PayloadJSON: `{"id":"del-1"}`},
		},
	}

	d := NewDeliverer(store, env, nil, nil)
	n, err := d.DeliverBatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("DeliverBatch: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 attempt, got %d", n)
	}
	if len(store.outcomes) != 1 || !store.outcomes[0].success {
		t.Fatalf("expected one successful outcome, got %+v", store.outcomes)
	}
}

func TestDeliverBatchNon2xxReportsFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	env := newTestEnvelope(t)
	encURL, _ := env.Seal(server.URL)

	store := &fakeDeliveryStore{
		subs: map[string]*model.WebhookSubscription{
			"sub-1": {ID: "sub-1", EncryptedURL: encURL, MaxRetries: 5, TimeoutSeconds: 5},
		},
		pending: []*model.WebhookDelivery{
			{ID: "del-1", SubscriptionID: "sub-1", EventType: "deployment.applied", PayloadJSON: `{}`},
		},
	}

	d := NewDeliverer(store, env, nil, nil)
	if _, err := d.DeliverBatch(context.Background(), 10); err != nil {
		t.Fatalf("DeliverBatch: %v", err)
	}
	if len(store.outcomes) != 1 || store.outcomes[0].success {
		t.Fatalf("expected one failed outcome, got %+v", store.outcomes)
	}
}

func TestBackoffFor(t *testing.T) {
	if backoffFor(0) != time.Second {
		t.Fatalf("expected 1s backoff for attempt 0")
	}
	if backoffFor(3) != 8*time.Second {
		t.Fatalf("expected 8s backoff for attempt 3")
	}
}
