package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/brokkr-io/brokkr/internal/broker/events"
	"go.uber.org/zap"
)

type fakeAuditStore struct {
	mu      sync.Mutex
	records []string
}

func (f *fakeAuditStore) RecordAuditEvent(_ context.Context, actor, action, resource, resourceID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, action+":"+resource+":"+resourceID+":"+actor)
	return nil
}

func (f *fakeAuditStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

func TestWriterFlushesOnTimer(t *testing.T) {
	store := &fakeAuditStore{}
	bus := events.NewBus(10)
	w := New(store, bus, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx, "test-writer")
		close(done)
	}()

	for i := 0; i < 100 && bus.SubscriberCount() == 0; i++ {
		time.Sleep(time.Millisecond)
	}
	bus.Publish(events.Event{Type: events.WorkOrderCompleted, ResourceID: "wo-1", Actor: "agent-1"})

	deadline := time.After(3 * time.Second)
	for store.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for timer flush")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit after cancellation")
	}
}

func TestWriterFlushesOnBatchSize(t *testing.T) {
	store := &fakeAuditStore{}
	bus := events.NewBus(200)
	w := New(store, bus, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx, "batch-writer")

	for i := 0; i < 100 && bus.SubscriberCount() == 0; i++ {
		time.Sleep(time.Millisecond)
	}
	for i := 0; i < batchSize; i++ {
		bus.Publish(events.Event{Type: events.StackCreated, ResourceID: "stack-x"})
	}

	deadline := time.After(3 * time.Second)
	for store.count() < batchSize {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for batch flush, got %d records", store.count())
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}
