// Package bus fans node events out to WebSocket observers. Publishing
// never blocks the session runtime: handlers run on the caller's
// goroutine and are expected to hand off quickly.
package bus

import "sync"

// Event is one server-side event pushed to observing UIs.
type Event struct {
	Name    string      `json:"name"`
	Payload interface{} `json:"payload,omitempty"`
}

// EventHandler receives broadcast events.
type EventHandler func(Event)

// EventPublisher abstracts event broadcast and subscription, decoupling
// the HTTP facade from the concrete bus.
type EventPublisher interface {
	Subscribe(id string, handler EventHandler)
	Unsubscribe(id string)
	Broadcast(event Event)
}

// Bus is the in-process EventPublisher. One instance per node.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string]EventHandler
}

func New() *Bus {
	return &Bus{handlers: make(map[string]EventHandler)}
}

// Subscribe registers a handler under an id, replacing any previous
// handler with the same id.
func (b *Bus) Subscribe(id string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[id] = handler
}

// Unsubscribe removes a handler. Unknown ids are a no-op.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, id)
}

// Broadcast delivers the event to every current subscriber.
func (b *Bus) Broadcast(event Event) {
	b.mu.RLock()
	handlers := make([]EventHandler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}
