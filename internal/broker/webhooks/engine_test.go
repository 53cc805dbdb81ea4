package webhooks

import (
	"context"
	"testing"
	"time"

	"github.com/brokkr-io/brokkr/internal/broker/events"
	"github.com/brokkr-io/brokkr/internal/broker/store/model"
	"go.uber.org/zap"
)

type enqueuedDelivery struct {
	subscriptionID string
	eventType      string
	targetLabels   []string
}

type fakeEngineStore struct {
	subs     []*model.WebhookSubscription
	enqueued []enqueuedDelivery
}

func (f *fakeEngineStore) ListWebhookSubscriptions(_ context.Context) ([]*model.WebhookSubscription, error) {
	return f.subs, nil
}

func (f *fakeEngineStore) EnqueueWebhookDelivery(_ context.Context, subscriptionID, eventType, _, _ string, targetLabels []string) error {
	f.enqueued = append(f.enqueued, enqueuedDelivery{subscriptionID: subscriptionID, eventType: eventType, targetLabels: targetLabels})
	return nil
}

func TestHandleEventEnqueuesMatchingSubscriptionsOnly(t *testing.T) {
	store := &fakeEngineStore{
		subs: []*model.WebhookSubscription{
			{ID: "broker-sub", Enabled: true, EventPatterns: []string{"deployment.*"}},
			{ID: "agent-sub", Enabled: true, EventPatterns: []string{"deployment.*"}, TargetLabels: []string{"env=prod"}},
			{ID: "other-sub", Enabled: true, EventPatterns: []string{"workorder.*"}},
			{ID: "disabled-sub", Enabled: false, EventPatterns: []string{"*"}},
		},
	}

	e := New(store, events.NewBus(10), zap.NewNop())
	evt := events.Event{
		Type:       events.DeploymentApplied,
		ResourceID: "do-1",
		Timestamp:  time.Now().UTC(),
	}
	match := MatchInput{EventType: string(evt.Type)}

	if err := e.HandleEvent(context.Background(), evt, match); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	if len(store.enqueued) != 2 {
		t.Fatalf("expected 2 enqueued deliveries, got %d: %+v", len(store.enqueued), store.enqueued)
	}

	byID := map[string]enqueuedDelivery{}
	for _, d := range store.enqueued {
		byID[d.subscriptionID] = d
	}
	if _, ok := byID["broker-sub"]; !ok {
		t.Fatal("expected broker-sub to be enqueued")
	}
	if d, ok := byID["agent-sub"]; !ok || len(d.targetLabels) != 1 || d.targetLabels[0] != "env=prod" {
		t.Fatalf("expected agent-sub enqueued with target labels, got %+v", d)
	}
	if _, ok := byID["other-sub"]; ok {
		t.Fatal("other-sub event pattern should not have matched")
	}
	if _, ok := byID["disabled-sub"]; ok {
		t.Fatal("disabled-sub must never be enqueued")
	}
}

func TestRunConsumesBusUntilCancelled(t *testing.T) {
	store := &fakeEngineStore{
		subs: []*model.WebhookSubscription{
			{ID: "sub-1", Enabled: true, EventPatterns: []string{"*"}},
		},
	}
	bus := events.NewBus(10)
	e := New(store, bus, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx, "test-subscriber")
		close(done)
	}()

	// Give Run a moment to subscribe before publishing.
	for i := 0; i < 100 && bus.SubscriberCount() == 0; i++ {
		time.Sleep(time.Millisecond)
	}
	bus.Publish(events.Event{Type: events.StackCreated, ResourceID: "stack-1"})

	deadline := time.After(2 * time.Second)
	for len(store.enqueued) == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for delivery to be enqueued")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit after context cancellation")
	}
}
