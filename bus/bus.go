// Package bus is the in-process publish/subscribe dispatcher.
// Delivery is synchronous, in subscription order, and at-most-once:
// late subscribers miss prior events, nothing is buffered or replayed.
package bus

import (
	"chat-core/contract"
	"chat-core/domain/event"
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Subscription is the opaque handle returned by Subscribe.
type Subscription struct {
	topic string
	id    uint64
}

type entry struct {
	id   uint64
	sink contract.EventSink
}

type Bus struct {
	mu        sync.Mutex
	log       *slog.Logger
	nextID    uint64
	topics    map[string][]entry
	permanent []entry
}

func New(log *slog.Logger) *Bus {
	return &Bus{log: log, topics: make(map[string][]entry)}
}

// Subscribe attaches a sink to a single topic and returns its handle.
func (b *Bus) Subscribe(topic string, sink contract.EventSink) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.topics[topic] = append(b.topics[topic], entry{id: b.nextID, sink: sink})
	return &Subscription{topic: topic, id: b.nextID}
}

// SubscribeAll attaches a permanent sink receiving every publish regardless
// of topic. Used for cross-cutting consumers such as persistence.
func (b *Bus) SubscribeAll(sink contract.EventSink) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.permanent = append(b.permanent, entry{id: b.nextID, sink: sink})
	return &Subscription{id: b.nextID}
}

// Unsubscribe detaches the handle. Unknown or already-removed handles are
// a no-op so callers can defer it unconditionally.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub.topic == "" {
		b.permanent = remove(b.permanent, sub.id)
		return
	}
	entries := remove(b.topics[sub.topic], sub.id)
	if len(entries) == 0 {
		// No empty lists left behind, the topic map would leak otherwise.
		delete(b.topics, sub.topic)
		return
	}
	b.topics[sub.topic] = entries
}

func remove(entries []entry, id uint64) []entry {
	for i, e := range entries {
		if e.id == id {
			return append(entries[:i:i], entries[i+1:]...)
		}
	}
	return entries
}

// Publish dispatches the event to every sink subscribed to its topic at
// publish time, in subscription order. The subscriber list is snapshotted
// under lock and invoked outside it, so a sink may publish re-entrantly
// without deadlocking. Sink errors are logged and never stop the fan-out.
func (b *Bus) Publish(ctx context.Context, e event.Event) {
	topic := e.Topic()

	b.mu.Lock()
	snapshot := make([]entry, 0, len(b.topics[topic])+len(b.permanent))
	snapshot = append(snapshot, b.topics[topic]...)
	snapshot = append(snapshot, b.permanent...)
	b.mu.Unlock()

	for _, sub := range snapshot {
		if err := sub.sink.Consume(ctx, e); err != nil {
			b.log.Warn(fmt.Sprintf("Sink failed on topic %s", topic), "error", err)
		}
	}
}

// SubscriberCount reports how many sinks are attached to a topic,
// permanent sinks excluded.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics[topic])
}
