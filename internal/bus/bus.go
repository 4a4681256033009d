// Package bus provides a process-wide synchronous publish/subscribe channel.
//
// Delivery is in-process and best-effort: a subscriber that joins after a
// publish simply re-fetches current state on its next refresh; there is no
// replay of missed events.
package bus

import "sync"

// TopicRecordsChanged is published whenever the local or remote record set
// changed and observers should re-derive their view.
const TopicRecordsChanged = "recordsChanged"

// Handler is invoked synchronously on publish.
type Handler func()

type subscription struct {
	id      uint64
	handler Handler
}

// Bus is a topic-keyed observer registry. The zero value is not usable;
// call New.
type Bus struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[string][]subscription
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[string][]subscription)}
}

// Subscribe registers a handler for the topic and returns an unsubscribe
// function. Handlers for one publish run in registration order.
func (b *Bus) Subscribe(topic string, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs[topic] = append(b.subs[topic], subscription{id: id, handler: h})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[topic]
		for i, sub := range subs {
			if sub.id == id {
				b.subs[topic] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Publish invokes all handlers registered for the topic, synchronously, in
// registration order. The subscriber list is copied before iteration so
// handlers may subscribe or unsubscribe during dispatch.
func (b *Bus) Publish(topic string) {
	b.mu.Lock()
	subs := make([]subscription, len(b.subs[topic]))
	copy(subs, b.subs[topic])
	b.mu.Unlock()

	for _, sub := range subs {
		sub.handler()
	}
}
