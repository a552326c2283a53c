package connector

import (
	"errors"
	"fmt"
)

// ErrNoRows is returned by ExecuteQueryOne when a statement matched zero
// rows, uniformly across every Connector implementation (pgx's and
// database/sql's own no-rows sentinels are translated to this one at the
// connector boundary so the Store never imports a driver package).
var ErrNoRows = errors.New("doze: no rows in result set")

// QueueingLockConstraint is the name of the unique partial index the schema
// places on queueing_lock WHERE status = 'todo'. Every Connector
// implementation must report exactly this name in UniqueViolation's
// ConstraintName field when that index is the one that fired, so the Store
// can recognize an already-enqueued collision regardless of which driver is
// in use.
const QueueingLockConstraint = "doze_jobs_queueing_lock_idx"

// ConnectorError wraps a transport or database-level failure that is not a
// unique-constraint violation.
type ConnectorError struct {
	Err error
}

func (e *ConnectorError) Error() string { return fmt.Sprintf("doze: connector error: %v", e.Err) }
func (e *ConnectorError) Unwrap() error { return e.Err }

// UniqueViolation is raised by a Connector when a unique constraint fires.
type UniqueViolation struct {
	ConstraintName string
	Err            error
}

func (e *UniqueViolation) Error() string {
	return fmt.Sprintf("doze: unique violation on %q: %v", e.ConstraintName, e.Err)
}
func (e *UniqueViolation) Unwrap() error { return e.Err }
