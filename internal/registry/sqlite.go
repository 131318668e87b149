package registry

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteRegistry backs the registry with a SQLite file shared by every
// node on the host. Statements run under a 5s busy timeout; lock
// contention surfaces as an error the caller treats as non-fatal.
type SQLiteRegistry struct {
	db *sql.DB
}

func OpenSQLiteRegistry(path string) (*SQLiteRegistry, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open registry db: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS nodes (
		port      INTEGER PRIMARY KEY,
		url       TEXT NOT NULL,
		status    TEXT NOT NULL,
		last_seen REAL NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create nodes table: %w", err)
	}
	return &SQLiteRegistry{db: db}, nil
}

func (r *SQLiteRegistry) Close() error { return r.db.Close() }

func (r *SQLiteRegistry) Register(ctx context.Context, node Node) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO nodes (port, url, status, last_seen) VALUES (?, ?, ?, ?)`,
		node.Port, node.URL, node.Status, node.LastSeen)
	if err != nil {
		return fmt.Errorf("register node %d: %w", node.Port, err)
	}
	return nil
}

func (r *SQLiteRegistry) Deregister(ctx context.Context, port int) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM nodes WHERE port = ?`, port); err != nil {
		return fmt.Errorf("deregister node %d: %w", port, err)
	}
	return nil
}

func (r *SQLiteRegistry) Active(ctx context.Context) ([]Node, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT port, url, status, last_seen FROM nodes WHERE status = ?`, StatusActive)
	if err != nil {
		return nil, fmt.Errorf("list active nodes: %w", err)
	}
	defer rows.Close()

	var nodes []Node
	for rows.Next() {
		var n Node
		if err := rows.Scan(&n.Port, &n.URL, &n.Status, &n.LastSeen); err != nil {
			return nil, fmt.Errorf("scan node row: %w", err)
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}
