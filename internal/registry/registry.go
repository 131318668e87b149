// Package registry implements swarm service discovery: a shared table of
// live nodes keyed by port. Writes are last-write-wins; peers prune rows
// lazily when they observe a connection failure, so the view is eventually
// consistent.
package registry

import (
	"context"
	"strings"
)

// StatusActive is the only status a registered node advertises.
const StatusActive = "active"

// Node is one row in the registry.
type Node struct {
	Port     int     `json:"port"`
	URL      string  `json:"url"`
	Status   string  `json:"status"`
	LastSeen float64 `json:"last_seen"` // unix seconds
}

// Registry is the discovery surface shared by all nodes.
type Registry interface {
	// Register upserts this node's row (idempotent; last write wins).
	Register(ctx context.Context, node Node) error

	// Deregister removes a row. Also used by dispatchers to prune peers
	// observed to be dead; deleting a missing row is not an error.
	Deregister(ctx context.Context, port int) error

	// Active returns all rows with status "active".
	Active(ctx context.Context) ([]Node, error)

	Close() error
}

// Open picks a backend: a Postgres DSN selects the shared-database backend
// for multi-host swarms, anything else is treated as a SQLite file path.
func Open(dsn string) (Registry, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return OpenPostgres(dsn)
	}
	return OpenSQLiteRegistry(dsn)
}
