package store

import "context"

// SessionStore persists per-session event logs and state.
//
// Events returned by Get and Events are defensive copies; callers mutate
// history only through AppendEvent and ReplaceEvents so the authoritative
// log is always the one on disk.
type SessionStore interface {
	// Create makes a new empty session. Creating an existing key is an error.
	Create(ctx context.Context, key SessionKey) (*Session, error)

	// GetOrCreate returns the session, creating it if absent.
	GetOrCreate(ctx context.Context, key SessionKey) (*Session, error)

	// Get returns the session with its full event log, or ErrNotFound.
	Get(ctx context.Context, key SessionKey) (*Session, error)

	// List returns session metadata for one (app, user) scope, newest first.
	List(ctx context.Context, appName, userID string) ([]SessionInfo, error)

	// Delete removes the session and its events. Missing key → ErrNotFound.
	Delete(ctx context.Context, key SessionKey) error

	// AppendEvent appends one event to the session's log.
	AppendEvent(ctx context.Context, key SessionKey, ev Event) error

	// Events returns the session's event log, or ErrNotFound.
	Events(ctx context.Context, key SessionKey) ([]Event, error)

	// ReplaceEvents atomically swaps the session's entire event log.
	// This is the compaction engine's mutation primitive: the replacement
	// happens against authoritative state, not against a caller's copy.
	ReplaceEvents(ctx context.Context, key SessionKey, events []Event) error

	// SetTitle updates the session title.
	SetTitle(ctx context.Context, key SessionKey, title string) error

	// SetMetadata replaces the session's free-form metadata.
	SetMetadata(ctx context.Context, key SessionKey, meta map[string]interface{}) error

	Close() error
}
