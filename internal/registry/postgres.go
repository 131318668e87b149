package registry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresRegistry backs the registry with a shared Postgres database so
// swarms can span hosts. Selected by a postgres:// DSN in SWARM_REGISTRY_DSN.
type PostgresRegistry struct {
	db *sql.DB
}

func OpenPostgres(dsn string) (*PostgresRegistry, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open registry db: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS nodes (
		port      INTEGER PRIMARY KEY,
		url       TEXT NOT NULL,
		status    TEXT NOT NULL,
		last_seen DOUBLE PRECISION NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create nodes table: %w", err)
	}
	return &PostgresRegistry{db: db}, nil
}

func (r *PostgresRegistry) Close() error { return r.db.Close() }

func (r *PostgresRegistry) Register(ctx context.Context, node Node) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO nodes (port, url, status, last_seen) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (port) DO UPDATE SET url = $2, status = $3, last_seen = $4`,
		node.Port, node.URL, node.Status, node.LastSeen)
	if err != nil {
		return fmt.Errorf("register node %d: %w", node.Port, err)
	}
	return nil
}

func (r *PostgresRegistry) Deregister(ctx context.Context, port int) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM nodes WHERE port = $1`, port); err != nil {
		return fmt.Errorf("deregister node %d: %w", port, err)
	}
	return nil
}

func (r *PostgresRegistry) Active(ctx context.Context) ([]Node, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT port, url, status, last_seen FROM nodes WHERE status = $1`, StatusActive)
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
