package worker

import (
	"context"
	"errors"
	"time"

	"github.com/doze-run/doze"
	"github.com/doze-run/doze/registry"
)

// dispatch resolves job's task in the registry and runs it, recording the
// outcome through FinishJob. It never returns an error to the caller: any
// failure (task not found, task error, store error) is logged and the job
// is finished according to the spec's dispatch table, so the fetch loop
// always continues to its next iteration.
func (p *Pool) dispatch(ctx context.Context, job *doze.Job) {
	entry, ok := p.registry.Lookup(job.TaskName)
	if !ok {
		p.logger.Warn().
			Int64("job_id", job.ID).
			Str("task_name", job.TaskName).
			Msg("task not found in registry")
		p.finish(ctx, job.ID, doze.StatusFailed, nil)
		return
	}

	err := entry.Func(ctx, job.Args)
	if err == nil {
		p.finish(ctx, job.ID, doze.StatusSucceeded, nil)
		return
	}

	if aborted := asJobAborted(err); aborted != nil {
		p.logger.Info().
			Int64("job_id", job.ID).
			Str("task_name", job.TaskName).
			Str("reason", aborted.Reason).
			Msg("job aborted")
		p.finish(ctx, job.ID, doze.StatusFailed, nil)
		return
	}

	if retry := asJobRetry(err); retry != nil {
		p.logger.Error().
			Err(err).
			Int64("job_id", job.ID).
			Str("task_name", job.TaskName).
			Msg("task failed, to retry")
		at := retry.ScheduledAt
		p.finish(ctx, job.ID, doze.StatusFailed, &at)
		return
	}

	p.logger.Error().
		Err(err).
		Int64("job_id", job.ID).
		Str("task_name", job.TaskName).
		Msg("task failed")

	if at, ok := p.shouldAutoRetry(entry, job); ok {
		p.logger.Error().
			Int64("job_id", job.ID).
			Str("task_name", job.TaskName).
			Msg("to retry")
		p.finish(ctx, job.ID, doze.StatusFailed, &at)
		return
	}
	p.finish(ctx, job.ID, doze.StatusFailed, nil)
}

// shouldAutoRetry synthesizes a JobRetry from a task's registered
// RetryPolicy when the task returned a plain error instead of an explicit
// *doze.JobRetry: spec.md §4.4 "produced automatically when the task
// declares a retry policy and has remaining attempts".
func (p *Pool) shouldAutoRetry(entry registry.Entry, job *doze.Job) (time.Time, bool) {
	policy := entry.RetryPolicy
	if policy == nil || job.Attempts >= policy.MaxAttempts {
		return time.Time{}, false
	}
	backoff := time.Duration(0)
	if policy.Backoff != nil {
		backoff = policy.Backoff(job.Attempts)
	}
	return time.Now().Add(backoff), true
}

func (p *Pool) finish(ctx context.Context, id int64, status doze.Status, scheduledAt *time.Time) {
	if err := p.store.FinishJob(ctx, id, status, scheduledAt); err != nil {
		p.logger.Error().Err(err).Int64("job_id", id).Msg("finish job failed")
	}
}

func asJobAborted(err error) *doze.JobAborted {
	var aborted *doze.JobAborted
	if errors.As(err, &aborted) {
		return aborted
	}
	return nil
}

func asJobRetry(err error) *doze.JobRetry {
	var retry *doze.JobRetry
	if errors.As(err, &retry) {
		return retry
	}
	return nil
}
