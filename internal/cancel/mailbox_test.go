package cancel

import "testing"

func TestMailboxSingleSlot(t *testing.T) {
	m := NewMailbox()

	if m.TryConsume() {
		t.Fatal("fresh mailbox should be empty")
	}
	if !m.TrySignal() {
		t.Fatal("first signal should succeed")
	}
	// Second signal finds the slot full; the pending signal still trips the guard.
	if m.TrySignal() {
		t.Error("second signal should report slot full")
	}
	if !m.TryConsume() {
		t.Fatal("consume should drain the pending signal")
	}
	if m.TryConsume() {
		t.Error("mailbox should be empty after drain")
	}
}

func TestHubReturnsSameMailboxPerKey(t *testing.T) {
	h := NewHub()
	a := h.Mailbox("swarm_app/u1/s1")
	b := h.Mailbox("swarm_app/u1/s1")
	if a != b {
		t.Error("expected same mailbox for same key")
	}
	if h.Mailbox("swarm_app/u1/s2") == a {
		t.Error("expected distinct mailbox for distinct key")
	}

	a.TrySignal()
	if !h.Mailbox("swarm_app/u1/s1").TryConsume() {
		t.Error("signal should be visible through the hub")
	}
}

func TestHubDrop(t *testing.T) {
	h := NewHub()
	a := h.Mailbox("k")
	a.TrySignal()
	h.Drop("k")
	if h.Mailbox("k").TryConsume() {
		t.Error("dropped mailbox state should not survive")
	}
}
