package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// sessionState is the JSON blob stored in sessions.state.
type sessionState struct {
	Title    string                 `json:"title,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// SQLiteStore is the per-node session store. Each node opens its own
// database file so sessions never cross node boundaries.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and migrates) the session database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}
	// modernc/sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY between the runtime and the HTTP handlers.
	db.SetMaxOpenConns(1)

	if err := migrateSessionDB(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func migrateSessionDB(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Create(ctx context.Context, key SessionKey) (*Session, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (key, app_name, user_id, session_id, state, created_at, updated_at)
		 VALUES (?, ?, ?, ?, '{}', ?, ?)`,
		key.String(), key.AppName, key.UserID, key.SessionID, now, now)
	if err != nil {
		return nil, fmt.Errorf("create session %s: %w", key, err)
	}
	return &Session{Key: key, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *SQLiteStore) GetOrCreate(ctx context.Context, key SessionKey) (*Session, error) {
	sess, err := s.Get(ctx, key)
	if err == nil {
		return sess, nil
	}
	if err != ErrNotFound {
		return nil, err
	}
	return s.Create(ctx, key)
}

func (s *SQLiteStore) Get(ctx context.Context, key SessionKey) (*Session, error) {
	var (
		stateJSON        string
		created, updated time.Time
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT state, created_at, updated_at FROM sessions WHERE key = ?`, key.String()).
		Scan(&stateJSON, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", key, err)
	}

	var state sessionState
	if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
		return nil, fmt.Errorf("decode session state %s: %w", key, err)
	}

	events, err := s.Events(ctx, key)
	if err != nil {
		return nil, err
	}

	return &Session{
		Key:       key,
		Title:     state.Title,
		Metadata:  state.Metadata,
		CreatedAt: created,
		UpdatedAt: updated,
		Events:    events,
	}, nil
}

func (s *SQLiteStore) List(ctx context.Context, appName, userID string) ([]SessionInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.session_id, s.state, s.created_at, s.updated_at,
		        (SELECT COUNT(*) FROM events e WHERE e.session_key = s.key)
		 FROM sessions s
		 WHERE s.app_name = ? AND s.user_id = ?
		 ORDER BY s.updated_at DESC`, appName, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionInfo
	for rows.Next() {
		var (
			info      SessionInfo
			stateJSON string
		)
		if err := rows.Scan(&info.SessionID, &stateJSON, &info.CreatedAt, &info.UpdatedAt, &info.MessageCount); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		var state sessionState
		if json.Unmarshal([]byte(stateJSON), &state) == nil {
			info.Title = state.Title
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Delete(ctx context.Context, key SessionKey) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE key = ?`, key.String())
	if err != nil {
		return fmt.Errorf("delete session %s: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	// Foreign key cascade covers events, but older DB files may have been
	// created without foreign_keys enabled.
	_, _ = s.db.ExecContext(ctx, `DELETE FROM events WHERE session_key = ?`, key.String())
	return nil
}

func (s *SQLiteStore) AppendEvent(ctx context.Context, key SessionKey, ev Event) error {
	content, err := json.Marshal(ev.Content)
	if err != nil {
		return fmt.Errorf("encode event content: %w", err)
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (session_key, seq, author, content, created_at)
		 VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM events WHERE session_key = ?), ?, ?, ?)`,
		key.String(), key.String(), ev.Author, string(content), ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("append event %s: %w", key, err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE key = ?`, time.Now().UTC(), key.String()); err != nil {
		return fmt.Errorf("touch session %s: %w", key, err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) Events(ctx context.Context, key SessionKey) ([]Event, error) {
	var exists int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE key = ?`, key.String()).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check session %s: %w", key, err)
	}
	if exists == 0 {
		return nil, ErrNotFound
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT author, content, created_at FROM events WHERE session_key = ? ORDER BY seq`, key.String())
	if err != nil {
		return nil, fmt.Errorf("load events %s: %w", key, err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			ev          Event
			contentJSON string
		)
		if err := rows.Scan(&ev.Author, &contentJSON, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if err := json.Unmarshal([]byte(contentJSON), &ev.Content); err != nil {
			return nil, fmt.Errorf("decode event content: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// ReplaceEvents swaps the full event log in one transaction. Used by the
// compaction engine; partial failure leaves the original log untouched.
func (s *SQLiteStore) ReplaceEvents(ctx context.Context, key SessionKey, events []Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE session_key = ?`, key.String()); err != nil {
		return fmt.Errorf("clear events %s: %w", key, err)
	}
	for i, ev := range events {
		content, err := json.Marshal(ev.Content)
		if err != nil {
			return fmt.Errorf("encode event content: %w", err)
		}
		if ev.CreatedAt.IsZero() {
			ev.CreatedAt = time.Now().UTC()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO events (session_key, seq, author, content, created_at) VALUES (?, ?, ?, ?, ?)`,
			key.String(), i+1, ev.Author, string(content), ev.CreatedAt); err != nil {
			return fmt.Errorf("insert event %d for %s: %w", i, key, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE key = ?`, time.Now().UTC(), key.String()); err != nil {
		return fmt.Errorf("touch session %s: %w", key, err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) SetTitle(ctx context.Context, key SessionKey, title string) error {
	return s.updateState(ctx, key, func(st *sessionState) { st.Title = title })
}

func (s *SQLiteStore) SetMetadata(ctx context.Context, key SessionKey, meta map[string]interface{}) error {
	return s.updateState(ctx, key, func(st *sessionState) { st.Metadata = meta })
}

func (s *SQLiteStore) updateState(ctx context.Context, key SessionKey, mutate func(*sessionState)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin state update: %w", err)
	}
	defer tx.Rollback()

	var stateJSON string
	err = tx.QueryRowContext(ctx, `SELECT state FROM sessions WHERE key = ?`, key.String()).Scan(&stateJSON)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read state %s: %w", key, err)
	}

	var state sessionState
	if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
		return fmt.Errorf("decode state %s: %w", key, err)
	}
	mutate(&state)
	updated, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state %s: %w", key, err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET state = ?, updated_at = ? WHERE key = ?`,
		string(updated), time.Now().UTC(), key.String()); err != nil {
		return fmt.Errorf("write state %s: %w", key, err)
	}
	return tx.Commit()
}
