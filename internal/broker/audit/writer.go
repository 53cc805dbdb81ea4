// Package audit subscribes to the in-process event bus and batches every
// control-plane event into the durable append-only audit log (spec §4.9):
// flush on 100 buffered entries or a 1s timer, whichever comes first.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/brokkr-io/brokkr/internal/broker/events"
	"go.uber.org/zap"
)

// Store is the slice of the postgres store the writer depends on.
type Store interface {
	RecordAuditEvent(ctx context.Context, actor, action, resource, resourceID, detailJSON string) error
}

const (
	batchSize     = 100
	flushInterval = time.Second
)

// Writer drains the event bus into batched RecordAuditEvent calls.
type Writer struct {
	store  Store
	bus    *events.Bus
	logger *zap.Logger
}

// New builds a Writer over store.
func New(store Store, bus *events.Bus, logger *zap.Logger) *Writer {
	return &Writer{store: store, bus: bus, logger: logger}
}

// Run drains the bus subscription until ctx is cancelled, flushing whenever
// the batch reaches batchSize entries and on every tick of a fixed
// flushInterval ticker; a size-triggered flush does not reset the ticker.
func (w *Writer) Run(ctx context.Context, subscriberID string) {
	ch := w.bus.Subscribe(subscriberID)
	defer w.bus.Unsubscribe(subscriberID)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	var pending []events.Event

	flush := func() {
		if len(pending) == 0 {
			return
		}
		for _, evt := range pending {
			w.writeOne(ctx, evt)
		}
		pending = pending[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case evt, ok := <-ch:
			if !ok {
				flush()
				return
			}
			pending = append(pending, evt)
			if len(pending) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (w *Writer) writeOne(ctx context.Context, evt events.Event) {
	detail, err := json.Marshal(evt.Detail)
	if err != nil {
		detail = []byte("null")
	}
	if err := w.store.RecordAuditEvent(ctx, evt.Actor, string(evt.Type), resourceKindFor(evt), evt.ResourceID, string(detail)); err != nil {
		w.logger.Warn("record audit event failed", zap.Error(err), zap.String("event_type", string(evt.Type)))
	}
}

// resourceKindFor derives a coarse resource label from the event type
// (e.g. "workorder.completed" -> "workorder"), matching audit_events'
// own resource column convention.
func resourceKindFor(evt events.Event) string {
	s := string(evt.Type)
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			return s[:i]
		}
	}
	return s
}
