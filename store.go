package doze

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/doze-run/doze/connector"
)

// Store translates the job lifecycle into Connector calls. It never touches
// a database driver directly and carries no retry or scheduling policy of
// its own — that belongs to the registry and worker packages.
type Store struct {
	conn connector.Connector
}

// NewStore wraps a Connector. The caller owns the Connector's lifetime.
func NewStore(conn connector.Connector) *Store {
	return &Store{conn: conn}
}

// DeferJob inserts a new todo job and returns its assigned ID. A non-nil
// QueueingLock that collides with another still-todo job surfaces as
// ErrAlreadyEnqueued rather than a raw connector error.
func (s *Store) DeferJob(ctx context.Context, j Job) (int64, error) {
	row, err := s.conn.ExecuteQueryOne(ctx, connector.QueryDeferJob,
		j.Queue, j.TaskName, []byte(j.Args), j.Lock, j.QueueingLock, j.ScheduledAt)
	if err != nil {
		var uv *connector.UniqueViolation
		if errors.As(err, &uv) && uv.ConstraintName == connector.QueueingLockConstraint {
			return 0, ErrAlreadyEnqueued
		}
		return 0, fmt.Errorf("doze: defer job: %w", err)
	}

	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("doze: defer job: %w", err)
	}
	return id, nil
}

// FetchJob atomically claims the next eligible todo job across queues
// (nil/empty queues means any queue) and marks it doing. It returns
// (nil, nil) when nothing is eligible right now.
func (s *Store) FetchJob(ctx context.Context, queues []string) (*Job, error) {
	var queueArg any
	if len(queues) > 0 {
		queueArg = queues
	}

	row, err := s.conn.ExecuteQueryOne(ctx, connector.QueryFetchJob, queueArg)
	if err != nil {
		if errors.Is(err, connector.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("doze: fetch job: %w", err)
	}

	j, err := scanJob(row)
	if err != nil {
		return nil, fmt.Errorf("doze: fetch job: %w", err)
	}
	return j, nil
}

// FinishJob records the outcome of a job that was doing. Passing a non-nil
// scheduledAt requests a retry: the job returns to todo at that time,
// regardless of the status argument, with Attempts left as-is so a
// RetryPolicy's MaxAttempts and backoff can key off the running count. A
// job that is no longer doing (already finished, or never claimed by this
// caller) is left untouched — this makes FinishJob idempotent.
func (s *Store) FinishJob(ctx context.Context, id int64, status Status, scheduledAt *time.Time) error {
	if status != StatusSucceeded && status != StatusFailed {
		return fmt.Errorf("%w: finish job requires succeeded or failed, got %q", ErrInvalidTransition, status)
	}
	if err := s.conn.ExecuteQuery(ctx, connector.QueryFinishJob, id, string(status), scheduledAt); err != nil {
		return fmt.Errorf("doze: finish job: %w", err)
	}
	return nil
}

// GetStalledJobs returns jobs that have been doing for longer than
// staleAfter — candidates for a worker crash that never finished them.
func (s *Store) GetStalledJobs(ctx context.Context, staleAfter time.Duration) ([]*Job, error) {
	rows, err := s.conn.ExecuteQueryAll(ctx, connector.QuerySelectStalledJobs, int(staleAfter.Seconds()))
	if err != nil {
		return nil, fmt.Errorf("doze: get stalled jobs: %w", err)
	}
	return scanJobs(rows)
}

// DeleteOldJobs removes finished jobs older than nbHours. Only succeeded
// jobs are deleted unless includeFailed is set; todo and doing jobs are
// never touched regardless of age.
func (s *Store) DeleteOldJobs(ctx context.Context, nbHours int, queue *string, includeFailed bool) error {
	if err := s.conn.ExecuteQuery(ctx, connector.QueryDeleteOldJobs, nbHours, queue, includeFailed); err != nil {
		return fmt.Errorf("doze: delete old jobs: %w", err)
	}
	return nil
}

// Listen blocks, signalling wake whenever a job is deferred onto one of the
// given queues (or any queue, if queues is empty), until ctx is cancelled.
func (s *Store) Listen(ctx context.Context, wake *connector.WakeEvent, queues []string) error {
	if len(queues) == 0 {
		return s.conn.ListenNotify(ctx, wake, []string{"doze_any_queue"})
	}
	channels := make([]string, 0, len(queues))
	for _, q := range queues {
		channels = append(channels, "doze_queue#"+q)
	}
	return s.conn.ListenNotify(ctx, wake, channels)
}

// SetJobStatus forcibly overwrites a job's status, bypassing the normal
// lifecycle transitions. It exists for administrative correction, not for
// worker use.
func (s *Store) SetJobStatus(ctx context.Context, id int64, status Status) error {
	if err := s.conn.ExecuteQuery(ctx, connector.QuerySetJobStatus, id, string(status)); err != nil {
		return fmt.Errorf("doze: set job status: %w", err)
	}
	return nil
}

// ListJobs returns jobs matching every non-nil filter.
func (s *Store) ListJobs(ctx context.Context, id *int64, queue, taskName, status, lock *string) ([]*Job, error) {
	rows, err := s.conn.ExecuteQueryAll(ctx, connector.QueryListJobs, id, queue, taskName, status, lock)
	if err != nil {
		return nil, fmt.Errorf("doze: list jobs: %w", err)
	}
	return scanJobs(rows)
}

// QueueCount is one (queue, status) group from ListQueues/ListTasks.
type QueueCount struct {
	Name   string
	Status Status
	Count  int64
}

// ListQueues summarizes job counts grouped by queue and status.
func (s *Store) ListQueues(ctx context.Context) ([]QueueCount, error) {
	rows, err := s.conn.ExecuteQueryAll(ctx, connector.QueryListQueues)
	if err != nil {
		return nil, fmt.Errorf("doze: list queues: %w", err)
	}
	return scanQueueCounts(rows)
}

// ListTasks summarizes job counts grouped by task name and status.
func (s *Store) ListTasks(ctx context.Context) ([]QueueCount, error) {
	rows, err := s.conn.ExecuteQueryAll(ctx, connector.QueryListTasks)
	if err != nil {
		return nil, fmt.Errorf("doze: list tasks: %w", err)
	}
	return scanQueueCounts(rows)
}

// ListJobEvents returns jobID's audit trail in chronological order: one row
// per deferred/started/succeeded/failed/retried transition, recorded by the
// schema's doze_jobs_event_trigger as each operation above runs.
func (s *Store) ListJobEvents(ctx context.Context, jobID int64) ([]Event, error) {
	rows, err := s.conn.ExecuteQueryAll(ctx, connector.QueryListJobEvents, jobID)
	if err != nil {
		return nil, fmt.Errorf("doze: list job events: %w", err)
	}
	return scanEvents(rows)
}

func scanJob(row connector.Row) (*Job, error) {
	var j Job
	var args []byte
	if err := row.Scan(&j.ID, &j.Queue, &j.TaskName, &args, &j.Lock, &j.QueueingLock,
		&j.Status, &j.ScheduledAt, &j.Attempts, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	j.Args = json.RawMessage(args)
	return &j, nil
}

func scanJobs(rows []connector.Row) ([]*Job, error) {
	out := make([]*Job, 0, len(rows))
	for _, row := range rows {
		j, err := scanJob(row)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, nil
}

func scanEvents(rows []connector.Row) ([]Event, error) {
	out := make([]Event, 0, len(rows))
	for _, row := range rows {
		var e Event
		if err := row.Scan(&e.JobID, &e.Type, &e.At); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func scanQueueCounts(rows []connector.Row) ([]QueueCount, error) {
	out := make([]QueueCount, 0, len(rows))
	for _, row := range rows {
		var qc QueueCount
		if err := row.Scan(&qc.Name, &qc.Status, &qc.Count); err != nil {
			return nil, err
		}
		out = append(out, qc)
	}
	return out, nil
}
