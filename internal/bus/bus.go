package bus

import (
	"strings"
	"sync"
)

// Handler receives published events. Handlers run synchronously on the
// publishing goroutine.
type Handler func(evt Event)

// Bus is an in-process publish/subscribe event bus with namespace filtering.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]*subscription
	next int
}

type subscription struct {
	namespace string
	fn        Handler
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		subs: make(map[int]*subscription),
	}
}

// Publish delivers evt to every subscriber whose namespace is a prefix of
// evt.Kind. Delivery is synchronous; a panicking handler does not stop
// delivery to the remaining handlers.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	matched := make([]Handler, 0, len(b.subs))
	for _, sub := range b.subs {
		if strings.HasPrefix(evt.Kind, sub.namespace) {
			matched = append(matched, sub.fn)
		}
	}
	b.mu.RUnlock()

	for _, fn := range matched {
		invoke(fn, evt)
	}
}

func invoke(fn Handler, evt Event) {
	defer func() { _ = recover() }()
	fn(evt)
}

// Subscribe registers a handler for events whose kind starts with the given
// namespace prefix. Returns an unsubscribe function.
func (b *Bus) Subscribe(namespace string, fn Handler) func() {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscription{namespace: namespace, fn: fn}
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}
