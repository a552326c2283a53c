package connector

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Pgx is the Connector implementation backed by pgx's native connection
// pool. It gives native LISTEN/NOTIFY support through a dedicated pooled
// connection per listen loop, and automatic connection recovery.
type Pgx struct {
	pool *pgxpool.Pool
}

// NewPgx wraps an already-initialized pool. The caller owns bringing the
// pool up (pgxpool.NewWithConfig or similar) and is expected to size it to
// at least the concurrency the workers will run with.
func NewPgx(pool *pgxpool.Pool) *Pgx {
	return &Pgx{pool: pool}
}

// PoolSize reports the configured maximum number of pooled connections.
func (p *Pgx) PoolSize() int {
	return int(p.pool.Config().MaxConns)
}

func (p *Pgx) ExecuteQuery(ctx context.Context, query string, args ...any) error {
	_, err := p.pool.Exec(ctx, query, args...)
	return wrapPgxError(err)
}

func (p *Pgx) ExecuteQueryOne(ctx context.Context, query string, args ...any) (Row, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapPgxError(err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, wrapPgxError(err)
		}
		return nil, ErrNoRows
	}
	values, err := rows.Values()
	if err != nil {
		return nil, wrapPgxError(err)
	}
	return staticRow(values), nil
}

func (p *Pgx) ExecuteQueryAll(ctx context.Context, query string, args ...any) ([]Row, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapPgxError(err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, wrapPgxError(err)
		}
		out = append(out, staticRow(values))
	}
	if err := rows.Err(); err != nil {
		return nil, wrapPgxError(err)
	}
	return out, nil
}

// ListenNotify subscribes to every channel on one dedicated connection
// borrowed for the lifetime of the call, signalling wake on each
// notification until ctx is cancelled.
func (p *Pgx) ListenNotify(ctx context.Context, wake *WakeEvent, channels []string) error {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return wrapPgxError(err)
	}
	defer conn.Release()

	for _, channel := range channels {
		if _, err := conn.Exec(ctx, `LISTEN "`+channel+`"`); err != nil {
			return wrapPgxError(err)
		}
	}

	for {
		if _, err := conn.Conn().WaitForNotification(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return wrapPgxError(err)
		}
		wake.Signal()
	}
}

func (p *Pgx) Close(ctx context.Context) error {
	p.pool.Close()
	return nil
}

// staticRow adapts a pre-fetched slice of column values to the Row
// interface, letting ExecuteQueryOne/ExecuteQueryAll hand back a row after
// the underlying pgx.Rows has already been closed.
type staticRow []any

func (r staticRow) Scan(dest ...any) error {
	if len(dest) != len(r) {
		return fmt.Errorf("doze: scan column count mismatch: have %d, want %d", len(r), len(dest))
	}
	for i, d := range dest {
		if err := assignScan(d, r[i]); err != nil {
			return err
		}
	}
	return nil
}

func wrapPgxError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNoRows
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return &UniqueViolation{ConstraintName: pgErr.ConstraintName, Err: err}
	}
	return &ConnectorError{Err: err}
}
