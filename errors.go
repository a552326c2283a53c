package doze

import (
	"errors"
	"fmt"
	"time"
)

// ErrAlreadyEnqueued is returned by Store.DeferJob when a job carrying the
// same queueing_lock is still todo. It is never fatal to a worker: workers
// never call DeferJob.
var ErrAlreadyEnqueued = errors.New("doze: job already enqueued with this queueing lock")

// ErrTaskNotFound is returned by App.Defer when the task name is absent
// from the registry. At dispatch time an unregistered task is not reported
// through this error: the worker logs it and finishes the job as failed.
var ErrTaskNotFound = errors.New("doze: task not found in registry")

// ErrInvalidTransition is returned by Store.FinishJob when the requested
// status is neither succeeded nor failed. A succeeded job is never reset
// back to todo, but that case yields no error: the finish statement only
// matches rows still doing, so the call is a no-op.
var ErrInvalidTransition = errors.New("doze: invalid job status transition")

// JobAborted is returned by a task to request status failed with no retry
// and no error-chain logging beyond the abort reason.
type JobAborted struct {
	Reason string
}

func (e *JobAborted) Error() string { return fmt.Sprintf("doze: job aborted: %s", e.Reason) }

// JobRetry is returned by a task (or synthesized by the worker from a
// registered RetryPolicy) to request the job be rescheduled rather than
// marked permanently failed.
type JobRetry struct {
	ScheduledAt time.Time
}

func (e *JobRetry) Error() string {
	return fmt.Sprintf("doze: job retry requested for %s", e.ScheduledAt.Format(time.RFC3339))
}
