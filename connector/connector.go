// Package connector carries SQL statements and notifications between the
// engine and the database. It is the leaf dependency of the job coordination
// engine: the Store never touches a database driver directly, only this
// interface.
package connector

import (
	"context"
)

// Row is a single result row, scanned positionally like *sql.Row/pgx.Row.
type Row interface {
	Scan(dest ...any) error
}

// Connector is the database abstraction every Store operation is compiled
// down to. Implementations must serialize concurrent calls appropriately —
// one connection per operation, or a pool sized for the expected
// concurrency.
type Connector interface {
	// ExecuteQuery runs a statement with no expected rows.
	ExecuteQuery(ctx context.Context, query string, args ...any) error

	// ExecuteQueryOne runs a statement and returns exactly one row. It
	// fails if the statement returned zero rows.
	ExecuteQueryOne(ctx context.Context, query string, args ...any) (Row, error)

	// ExecuteQueryAll runs a statement and returns zero or more rows.
	ExecuteQueryAll(ctx context.Context, query string, args ...any) ([]Row, error)

	// ListenNotify subscribes to every channel and signals wake on each
	// notification received, until ctx is cancelled.
	ListenNotify(ctx context.Context, wake *WakeEvent, channels []string) error

	// Close releases all resources held by the connector.
	Close(ctx context.Context) error
}

// PoolSizer is implemented by connectors backed by a real connection pool,
// letting callers validate that the pool is large enough for the
// concurrency they intend to run (spec requires pool size >= concurrency).
type PoolSizer interface {
	PoolSize() int
}
