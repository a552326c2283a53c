package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/doze-run/doze"
	"github.com/doze-run/doze/connector"
	"github.com/doze-run/doze/registry"
)

func newTestApp(reg *registry.Registry) (*doze.App, *connector.Memory) {
	mem := connector.NewMemory()
	app := doze.NewApp(mem, reg, zerolog.Nop())
	return app, mem
}

func newTestPool(t *testing.T, app *doze.App, concurrency int, queues ...string) *Pool {
	t.Helper()
	p, err := NewPool(app, concurrency, queues...)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	return p
}

func mustDeferAndFetch(t *testing.T, app *doze.App, task string) *doze.Job {
	t.Helper()
	ctx := context.Background()
	if _, err := app.Defer(ctx, task, map[string]int{"a": 1}); err != nil {
		t.Fatalf("defer: %v", err)
	}
	job, err := app.Store().FetchJob(ctx, nil)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if job == nil {
		t.Fatal("expected a job, got nil")
	}
	return job
}

func TestDispatchSucceeds(t *testing.T) {
	reg := registry.New()
	reg.Register("ok_task", "default", func(ctx context.Context, args json.RawMessage) error {
		return nil
	}, nil)
	app, _ := newTestApp(reg)
	job := mustDeferAndFetch(t, app, "ok_task")

	p := newTestPool(t, app, 1)
	p.dispatch(context.Background(), job)

	jobs, err := app.Store().ListJobs(context.Background(), &job.ID, nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Status != doze.StatusSucceeded {
		t.Fatalf("expected succeeded, got %+v", jobs)
	}
}

func TestDispatchTaskNotFound(t *testing.T) {
	reg := registry.New()
	app, mem := newTestApp(reg)

	// Insert a job directly through the store (bypassing Defer/registry
	// lookup) carrying a task name nothing registered.
	id, err := app.Store().DeferJob(context.Background(), doze.Job{Queue: "default", TaskName: "ghost", Args: []byte(`{}`)})
	if err != nil {
		t.Fatalf("defer job: %v", err)
	}
	job, err := app.Store().FetchJob(context.Background(), nil)
	if err != nil || job == nil {
		t.Fatalf("fetch job: %v (job=%v)", err, job)
	}

	p := newTestPool(t, app, 1)
	p.dispatch(context.Background(), job)

	jobs, err := app.Store().ListJobs(context.Background(), &id, nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Status != doze.StatusFailed {
		t.Fatalf("expected failed, got %+v", jobs)
	}
	_ = mem
}

func TestDispatchJobAbortedNoRetry(t *testing.T) {
	reg := registry.New()
	reg.Register("abort_task", "default", func(ctx context.Context, args json.RawMessage) error {
		return &doze.JobAborted{Reason: "not worth retrying"}
	}, &registry.RetryPolicy{MaxAttempts: 5, Backoff: func(int) time.Duration { return 0 }})
	app, _ := newTestApp(reg)
	job := mustDeferAndFetch(t, app, "abort_task")

	p := newTestPool(t, app, 1)
	p.dispatch(context.Background(), job)

	jobs, err := app.Store().ListJobs(context.Background(), &job.ID, nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Status != doze.StatusFailed {
		t.Fatalf("expected failed (aborted), got %+v", jobs)
	}
}

func TestDispatchExplicitRetry(t *testing.T) {
	reg := registry.New()
	at := time.Now().Add(time.Hour)
	reg.Register("retry_task", "default", func(ctx context.Context, args json.RawMessage) error {
		return &doze.JobRetry{ScheduledAt: at}
	}, nil)
	app, _ := newTestApp(reg)
	job := mustDeferAndFetch(t, app, "retry_task")

	p := newTestPool(t, app, 1)
	p.dispatch(context.Background(), job)

	jobs, err := app.Store().ListJobs(context.Background(), &job.ID, nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Status != doze.StatusTodo {
		t.Fatalf("expected todo (rescheduled), got %+v", jobs)
	}
}

func TestDispatchAutoRetryHonorsMaxAttempts(t *testing.T) {
	reg := registry.New()
	var calls int
	reg.Register("flaky_task", "default", func(ctx context.Context, args json.RawMessage) error {
		calls++
		return errors.New("boom")
	}, &registry.RetryPolicy{MaxAttempts: 2, Backoff: func(int) time.Duration { return 0 }})
	app, _ := newTestApp(reg)
	ctx := context.Background()

	job := mustDeferAndFetch(t, app, "flaky_task")
	p := newTestPool(t, app, 1)

	// Attempt 1 of 2: should be rescheduled to todo.
	p.dispatch(ctx, job)
	jobs, err := app.Store().ListJobs(ctx, &job.ID, nil, nil, nil, nil)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("list jobs after first attempt: %v, %+v", err, jobs)
	}
	if jobs[0].Status != doze.StatusTodo {
		t.Fatalf("expected todo after attempt 1/2, got %q", jobs[0].Status)
	}

	// Re-fetch (attempts now 2) and dispatch again: out of retries.
	job2, err := app.Store().FetchJob(ctx, nil)
	if err != nil || job2 == nil {
		t.Fatalf("re-fetch: %v (job=%v)", err, job2)
	}
	p.dispatch(ctx, job2)

	jobs, err = app.Store().ListJobs(ctx, &job.ID, nil, nil, nil, nil)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("list jobs after second attempt: %v, %+v", err, jobs)
	}
	if jobs[0].Status != doze.StatusFailed {
		t.Fatalf("expected terminal failed after exhausting retries, got %q", jobs[0].Status)
	}
	if calls != 2 {
		t.Errorf("expected the task body to run twice, ran %d times", calls)
	}
}

func TestPoolRunDispatchesAndStops(t *testing.T) {
	reg := registry.New()
	done := make(chan struct{}, 1)
	reg.Register("ping", "default", func(ctx context.Context, args json.RawMessage) error {
		select {
		case done <- struct{}{}:
		default:
		}
		return nil
	}, nil)
	app, _ := newTestApp(reg)
	if _, err := app.Defer(context.Background(), "ping", map[string]int{}); err != nil {
		t.Fatalf("defer: %v", err)
	}

	p := newTestPool(t, app, 1, "default").WithPollInterval(10 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(ctx) }()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task never ran")
	}

	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("pool run returned error: %v", err)
	}
}
