package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	cfotel "github.com/GGUFloader/agentcore/internal/adapter/otel"
	"github.com/GGUFloader/agentcore/internal/domain/event"
	"github.com/GGUFloader/agentcore/internal/port/broadcast"
	"github.com/GGUFloader/agentcore/internal/port/messagequeue"
)

// EventArchive persists relayed events.
type EventArchive interface {
	Append(ctx context.Context, ev event.Event) error
}

// EventRelay forwards bus events to WebSocket clients, the message queue
// and an optional archive.
type EventRelay struct {
	bus     *EventBus
	hub     broadcast.Broadcaster
	queue   messagequeue.Queue
	archive EventArchive
	metrics *cfotel.Metrics

	mu  sync.Mutex
	ids []string
}

// NewEventRelay creates a relay. hub, queue and metrics may be nil.
func NewEventRelay(bus *EventBus, hub broadcast.Broadcaster, queue messagequeue.Queue, metrics *cfotel.Metrics) *EventRelay {
	return &EventRelay{bus: bus, hub: hub, queue: queue, metrics: metrics}
}

// SetArchive stores every relayed event in a. Call before Attach.
func (r *EventRelay) SetArchive(a EventArchive) {
	r.mu.Lock()
	r.archive = a
	r.mu.Unlock()
}

// Attach registers the relay for every known event type and all custom
// events. Calling Attach twice is a no-op.
func (r *EventRelay) Attach() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.ids) > 0 {
		return
	}
	types := append(event.Known(), event.AnyCustom)
	for _, t := range types {
		id := r.bus.Register(t, r.forward, RegisterOptions{
			ID:       "relay_" + t.String(),
			Priority: event.PriorityLow,
			Async:    true,
		})
		r.ids = append(r.ids, id)
	}
	slog.Info("event relay attached", "types", len(types), "queue", r.queue != nil, "hub", r.hub != nil)
}

// Detach unregisters the relay.
func (r *EventRelay) Detach() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.ids {
		r.bus.Unregister(id)
	}
	r.ids = nil
}

func (r *EventRelay) forward(ctx context.Context, e event.Event) error {
	typ := e.Type.String()
	if r.hub != nil {
		r.hub.BroadcastEvent(ctx, typ, e)
	}
	if r.metrics != nil {
		r.metrics.EventsRelayed.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", string(e.Type.Kind))))
	}
	if r.archive != nil {
		if err := r.archive.Append(ctx, e); err != nil {
			return fmt.Errorf("archive event %s: %w", e.ID, err)
		}
	}
	if r.queue == nil {
		return nil
	}

	data, err := json.Marshal(messagequeue.EventPayload{
		EventID:   e.ID,
		EventType: typ,
		Source:    e.Source,
		Priority:  e.Priority,
		Timestamp: e.Timestamp,
		Data:      e.Data,
		Metadata:  e.Metadata,
	})
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", e.ID, err)
	}
	if err := r.queue.Publish(ctx, messagequeue.EventSubject(typ), data); err != nil {
		return fmt.Errorf("publish event %s: %w", e.ID, err)
	}
	return nil
}
