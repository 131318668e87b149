// Package cancel provides per-session cancellation mailboxes. A mailbox
// is a single-slot signal: posting while a signal is pending is a no-op,
// and the guard that consumes it drains the slot.
package cancel

import "sync"

// Mailbox is a bounded single-slot cancellation signal.
type Mailbox struct {
	ch chan struct{}
}

func NewMailbox() *Mailbox {
	return &Mailbox{ch: make(chan struct{}, 1)}
}

// TrySignal posts a cancellation signal. Returns false when a signal is
// already pending (which is equivalent: the next guard check trips either way).
func (m *Mailbox) TrySignal() bool {
	select {
	case m.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

// TryConsume drains a pending signal, reporting whether one was present.
func (m *Mailbox) TryConsume() bool {
	select {
	case <-m.ch:
		return true
	default:
		return false
	}
}

// Hub hands out mailboxes keyed by session.
type Hub struct {
	mu    sync.Mutex
	boxes map[string]*Mailbox
}

func NewHub() *Hub {
	return &Hub{boxes: make(map[string]*Mailbox)}
}

// Mailbox returns the session's mailbox, creating it on first use.
func (h *Hub) Mailbox(key string) *Mailbox {
	h.mu.Lock()
	defer h.mu.Unlock()
	box, ok := h.boxes[key]
	if !ok {
		box = NewMailbox()
		h.boxes[key] = box
	}
	return box
}

// Drop removes a session's mailbox (after session deletion).
func (h *Hub) Drop(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.boxes, key)
}
