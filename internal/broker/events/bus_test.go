package events

import (
	"testing"
	"time"
)

func TestPublishAndSubscribe(t *testing.T) {
	bus := NewBus(16)
	ch := bus.Subscribe("test-1")

	bus.Publish(Event{
		Type:       AgentRegistered,
		ResourceID: "agent-1",
		Summary:    "agent registered",
	})

	select {
	case evt := <-ch:
		if evt.Type != AgentRegistered {
			t.Fatalf("expected AgentRegistered, got %s", evt.Type)
		}
		if evt.ResourceID != "agent-1" {
			t.Fatalf("expected agent-1, got %s", evt.ResourceID)
		}
		if evt.Timestamp.IsZero() {
			t.Fatal("timestamp should be set")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	bus.Unsubscribe("test-1")
}

func TestMultipleSubscribers(t *testing.T) {
	bus := NewBus(16)
	ch1 := bus.Subscribe("s1")
	ch2 := bus.Subscribe("s2")

	bus.Publish(Event{Type: DeploymentApplied, Summary: "test"})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case evt := <-ch:
			if evt.Type != DeploymentApplied {
				t.Fatalf("wrong type: %s", evt.Type)
			}
		case <-time.After(time.Second):
			t.Fatal("timeout")
		}
	}

	if bus.SubscriberCount() != 2 {
		t.Fatalf("expected 2 subscribers, got %d", bus.SubscriberCount())
	}

	bus.Unsubscribe("s1")
	bus.Unsubscribe("s2")

	if bus.SubscriberCount() != 0 {
		t.Fatalf("expected 0 subscribers, got %d", bus.SubscriberCount())
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	bus := NewBus(1) // tiny buffer
	_ = bus.Subscribe("slow")

	for i := 0; i < 100; i++ {
		bus.Publish(Event{Type: WorkOrderCreated, Summary: "test"})
	}
}

func TestEventJSON(t *testing.T) {
	evt := Event{
		Type:       StackCreated,
		ResourceID: "stack-test",
		Summary:    "new stack",
		Timestamp:  time.Now(),
	}
	data := evt.JSON()
	if len(data) == 0 {
		t.Fatal("empty JSON")
	}
}

func TestDefaultBufferSize(t *testing.T) {
	bus := NewBus(0)
	if bus.bufferSize != defaultBufferSize {
		t.Fatalf("expected default buffer size %d, got %d", defaultBufferSize, bus.bufferSize)
	}
}
