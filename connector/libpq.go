package connector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// LibPQ is the Connector implementation backed by database/sql plus
// lib/pq. It exists for operators who already run a database/sql-based
// stack and don't want pgx in their binary; LISTEN/NOTIFY rides on
// pq.NewListener, since database/sql itself has no notification channel.
type LibPQ struct {
	db  *sql.DB
	dsn string
}

// NewLibPQ wraps an initialized *sql.DB. dsn must be the same connection
// string used to open db: pq.NewListener needs it to establish its own
// dedicated connection for LISTEN/NOTIFY.
func NewLibPQ(db *sql.DB, dsn string) *LibPQ {
	return &LibPQ{db: db, dsn: dsn}
}

// PoolSize reports database/sql's configured maximum open connections.
func (l *LibPQ) PoolSize() int {
	return l.db.Stats().MaxOpenConnections
}

func (l *LibPQ) ExecuteQuery(ctx context.Context, query string, args ...any) error {
	_, err := l.db.ExecContext(ctx, query, args...)
	return wrapLibPQError(err)
}

func (l *LibPQ) ExecuteQueryOne(ctx context.Context, query string, args ...any) (Row, error) {
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapLibPQError(err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, wrapLibPQError(err)
		}
		return nil, ErrNoRows
	}
	values, err := scanColumns(rows)
	if err != nil {
		return nil, wrapLibPQError(err)
	}
	return staticRow(values), nil
}

func (l *LibPQ) ExecuteQueryAll(ctx context.Context, query string, args ...any) ([]Row, error) {
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapLibPQError(err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		values, err := scanColumns(rows)
		if err != nil {
			return nil, wrapLibPQError(err)
		}
		out = append(out, staticRow(values))
	}
	if err := rows.Err(); err != nil {
		return nil, wrapLibPQError(err)
	}
	return out, nil
}

// ListenNotify subscribes to every channel using a pq.Listener and signals
// wake on each notification until ctx is cancelled.
func (l *LibPQ) ListenNotify(ctx context.Context, wake *WakeEvent, channels []string) error {
	listener := pq.NewListener(l.dsn, 10*time.Second, time.Minute, func(pq.ListenerEventType, error) {})
	defer listener.Close()

	for _, channel := range channels {
		if err := listener.Listen(channel); err != nil {
			return wrapLibPQError(err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case notification := <-listener.Notify:
			if notification != nil {
				wake.Signal()
			}
		case <-time.After(90 * time.Second):
			// lib/pq recommends a periodic Ping to detect a dead
			// connection the listener itself can't surface otherwise.
			_ = listener.Ping()
		}
	}
}

func (l *LibPQ) Close(ctx context.Context) error {
	return l.db.Close()
}

func scanColumns(rows *sql.Rows) ([]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	return values, nil
}

func wrapLibPQError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNoRows
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
		return &UniqueViolation{ConstraintName: pqErr.Constraint, Err: err}
	}
	return &ConnectorError{Err: fmt.Errorf("%w", err)}
}
