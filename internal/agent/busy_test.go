package agent

import (
	"context"
	"testing"
	"time"

	"github.com/nextlevelbuilder/goswarm/internal/store"
)

func TestBusyLockSingleHolder(t *testing.T) {
	l := NewBusyLock()
	key := store.SessionKey{AppName: "swarm_app", UserID: "u", SessionID: "s1"}

	if !l.TryAcquire(key, "index the repo") {
		t.Fatal("first acquire should succeed")
	}
	if l.TryAcquire(store.SessionKey{SessionID: "s2"}, "other") {
		t.Fatal("second acquire must fail while held")
	}

	snap := l.Snapshot()
	if !snap.Locked || snap.TaskPreview != "index the repo" || snap.SessionKey != key {
		t.Errorf("snapshot: %+v", snap)
	}
	if snap.RunningSeconds() < 0 {
		t.Errorf("running seconds: %v", snap.RunningSeconds())
	}

	l.Release()
	if snap := l.Snapshot(); snap.Locked {
		t.Errorf("state must clear on release: %+v", snap)
	}
	if !l.TryAcquire(key, "again") {
		t.Error("acquire after release should succeed")
	}
	l.Release()
}

func TestAcquireWithinWaitsForRelease(t *testing.T) {
	l := NewBusyLock()
	held := store.SessionKey{SessionID: "running"}
	if !l.TryAcquire(held, "long task") {
		t.Fatal("setup acquire failed")
	}

	go func() {
		time.Sleep(250 * time.Millisecond)
		l.Release()
	}()

	next := store.SessionKey{SessionID: "urgent"}
	if !l.AcquireWithin(context.Background(), next, "urgent task", 2*time.Second) {
		t.Fatal("AcquireWithin should succeed once the holder releases")
	}
	if snap := l.Snapshot(); snap.SessionKey != next {
		t.Errorf("lock should now belong to the urgent session: %+v", snap)
	}
	l.Release()
}

func TestAcquireWithinTimesOut(t *testing.T) {
	l := NewBusyLock()
	l.TryAcquire(store.SessionKey{SessionID: "stuck"}, "never releases")

	start := time.Now()
	ok := l.AcquireWithin(context.Background(), store.SessionKey{SessionID: "x"}, "x", 300*time.Millisecond)
	if ok {
		t.Fatal("AcquireWithin must fail when the lock is never released")
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("timeout took too long: %v", time.Since(start))
	}
}

func TestAcquireWithinHonorsContext(t *testing.T) {
	l := NewBusyLock()
	l.TryAcquire(store.SessionKey{SessionID: "stuck"}, "never releases")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if l.AcquireWithin(ctx, store.SessionKey{SessionID: "x"}, "x", 10*time.Second) {
		t.Fatal("cancelled context must abort the wait")
	}
}
