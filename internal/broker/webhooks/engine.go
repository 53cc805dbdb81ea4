package webhooks

import (
	"context"
	"encoding/json"

	"github.com/brokkr-io/brokkr/internal/broker/events"
	"github.com/brokkr-io/brokkr/internal/broker/store/model"
	"go.uber.org/zap"
)

// Store is the slice of the postgres store the matching engine depends on.
type Store interface {
	ListWebhookSubscriptions(ctx context.Context) ([]*model.WebhookSubscription, error)
	EnqueueWebhookDelivery(ctx context.Context, subscriptionID, eventType, eventID, payloadJSON string, targetLabels []string) error
}

// Engine subscribes to the event bus and, for every emitted event, enqueues
// one WebhookDelivery row per matching subscription (spec §4.6 "Matching").
type Engine struct {
	store  Store
	bus    *events.Bus
	logger *zap.Logger
}

// New builds a matching engine over store.
func New(store Store, bus *events.Bus, logger *zap.Logger) *Engine {
	return &Engine{store: store, bus: bus, logger: logger}
}

// Payload is the wire body every webhook delivery POSTs (spec §6 "Webhook
// delivery wire format").
type Payload struct {
	ID        string      `json:"id"`
	EventType string      `json:"event_type"`
	Timestamp string      `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Run drains the bus subscription until ctx is cancelled, matching each
// event against every enabled subscription and enqueueing a delivery row
// for each hit. One emitter's events stay FIFO to this consumer (spec §5).
func (e *Engine) Run(ctx context.Context, subscriberID string) {
	ch := e.bus.Subscribe(subscriberID)
	defer e.bus.Unsubscribe(subscriberID)

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := e.HandleEvent(ctx, evt, MatchInput{
				EventType: string(evt.Type),
				AgentID:   evt.AgentID,
				StackID:   evt.StackID,
				Labels:    evt.Labels,
			}); err != nil {
				e.logger.Warn("webhook match/enqueue failed", zap.Error(err), zap.String("event_type", string(evt.Type)))
			}
		}
	}
}

// HandleEvent evaluates one event against every enabled subscription and
// enqueues a delivery row for each match. Exported directly (not just via
// Run) so HTTP handlers that need synchronous enqueueing in tests can call
// it without spinning up the bus consumer loop.
func (e *Engine) HandleEvent(ctx context.Context, evt events.Event, match MatchInput) error {
	subs, err := e.store.ListWebhookSubscriptions(ctx)
	if err != nil {
		return err
	}

	payload := Payload{
		ID:        evt.ResourceID,
		EventType: string(evt.Type),
		Timestamp: evt.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"),
		Data:      evt.Detail,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	for _, sub := range subs {
		if !Matches(sub, match) {
			continue
		}
		var targetLabels []string
		if IsAgentDelivery(sub) {
			targetLabels = sub.TargetLabels
		}
		if err := e.store.EnqueueWebhookDelivery(ctx, sub.ID, string(evt.Type), evt.ResourceID, string(body), targetLabels); err != nil {
			e.logger.Warn("enqueue webhook delivery failed",
				zap.Error(err), zap.String("subscription_id", sub.ID), zap.String("event_type", string(evt.Type)))
		}
	}
	return nil
}
