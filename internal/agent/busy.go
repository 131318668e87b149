package agent

import (
	"context"
	"sync"
	"time"

	"github.com/nextlevelbuilder/goswarm/internal/store"
)

// BusyState is the observable side of the busy lock.
type BusyState struct {
	Locked      bool             `json:"locked"`
	TaskPreview string           `json:"task_preview,omitempty"`
	SessionKey  store.SessionKey `json:"session_key,omitempty"`
	StartedAt   time.Time        `json:"started_at,omitempty"`
}

// RunningSeconds reports how long the current task has been running.
func (s BusyState) RunningSeconds() float64 {
	if !s.Locked {
		return 0
	}
	return time.Since(s.StartedAt).Seconds()
}

// BusyLock is the per-node mutex gating the chat endpoint: at most one
// session runtime is active per node. Concurrency across nodes is the
// swarm's source of parallelism.
type BusyLock struct {
	mu sync.Mutex // the lock itself, try-acquired

	stateMu sync.Mutex
	state   BusyState
}

func NewBusyLock() *BusyLock {
	return &BusyLock{}
}

// TryAcquire attempts a non-blocking acquire, binding the observable
// state on success.
func (l *BusyLock) TryAcquire(key store.SessionKey, taskPreview string) bool {
	if !l.mu.TryLock() {
		return false
	}
	l.stateMu.Lock()
	l.state = BusyState{
		Locked:      true,
		TaskPreview: taskPreview,
		SessionKey:  key,
		StartedAt:   time.Now(),
	}
	l.stateMu.Unlock()
	return true
}

// Release frees the lock. Must be called on every exit path of a run.
func (l *BusyLock) Release() {
	l.stateMu.Lock()
	l.state = BusyState{}
	l.stateMu.Unlock()
	l.mu.Unlock()
}

// Snapshot returns the current observable state.
func (l *BusyLock) Snapshot() BusyState {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	return l.state
}

// AcquireWithin polls TryAcquire until it succeeds or the timeout
// elapses. The urgent preemption path posts a cancel signal first and
// then waits here for the preempted run to release.
func (l *BusyLock) AcquireWithin(ctx context.Context, key store.SessionKey, taskPreview string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if l.TryAcquire(key, taskPreview) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(100 * time.Millisecond):
		}
	}
}
