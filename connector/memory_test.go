package connector

import (
	"context"
	"errors"
	"testing"
	"time"
)

func deferTestJob(t *testing.T, m *Memory, queue, task string, lock, queueingLock *string) int64 {
	t.Helper()
	row, err := m.ExecuteQueryOne(context.Background(), QueryDeferJob,
		queue, task, []byte(`{}`), lock, queueingLock, (*time.Time)(nil))
	if err != nil {
		t.Fatalf("deferTestJob: %v", err)
	}
	var id int64
	if err := row.Scan(&id); err != nil {
		t.Fatalf("deferTestJob scan: %v", err)
	}
	return id
}

func TestMemoryFetchJobRoundTrip(t *testing.T) {
	m := NewMemory()
	id := deferTestJob(t, m, "default", "sum_task", nil, nil)

	row, err := m.ExecuteQueryOne(context.Background(), QueryFetchJob, []string{"default"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	var gotID, attempts int64
	var queue, task, status string
	var args []byte
	var lockKey, queueingLock *string
	var scheduledAt *time.Time
	var createdAt, updatedAt time.Time
	if err := row.Scan(&gotID, &queue, &task, &args, &lockKey, &queueingLock, &status, &scheduledAt, &attempts, &createdAt, &updatedAt); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if gotID != id {
		t.Errorf("got id %d, want %d", gotID, id)
	}
	if status != "doing" {
		t.Errorf("got status %q, want doing", status)
	}
	if attempts != 1 {
		t.Errorf("got attempts %d, want 1", attempts)
	}
}

func TestMemoryFetchJobReturnsNothingWhenEmpty(t *testing.T) {
	m := NewMemory()
	row, err := m.ExecuteQueryOne(context.Background(), QueryFetchJob, []string(nil))
	if !errors.Is(err, ErrNoRows) {
		t.Fatalf("fetch: got %v, want ErrNoRows", err)
	}
	if row != nil {
		t.Errorf("expected nil row, got %v", row)
	}
}

func TestMemoryLockMutualExclusion(t *testing.T) {
	m := NewMemory()
	lockKey := "a"
	deferTestJob(t, m, "default", "one", &lockKey, nil)
	deferTestJob(t, m, "default", "two", &lockKey, nil)

	ctx := context.Background()
	row, err := m.ExecuteQueryOne(ctx, QueryFetchJob, []string(nil))
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if row == nil {
		t.Fatal("expected a job on first fetch")
	}

	// The second job shares lock "a" with a job now doing: it must stay
	// ineligible until the first finishes.
	row, err = m.ExecuteQueryOne(ctx, QueryFetchJob, []string(nil))
	if !errors.Is(err, ErrNoRows) {
		t.Fatalf("second fetch: got %v, want ErrNoRows", err)
	}
	if row != nil {
		t.Errorf("expected no eligible job while lock %q is held, got one", lockKey)
	}
}

func TestMemoryQueueingLockCollision(t *testing.T) {
	m := NewMemory()
	lockKey := "shared"
	deferTestJob(t, m, "default", "one", nil, &lockKey)

	_, err := m.ExecuteQueryOne(context.Background(), QueryDeferJob,
		"default", "two", []byte(`{}`), (*string)(nil), &lockKey, (*time.Time)(nil))
	var uv *UniqueViolation
	if err == nil {
		t.Fatal("expected UniqueViolation, got nil")
	}
	if !errors.As(err, &uv) {
		t.Fatalf("expected UniqueViolation, got %v (%T)", err, err)
	}
	if uv.ConstraintName != QueueingLockConstraint {
		t.Errorf("got constraint %q, want %q", uv.ConstraintName, QueueingLockConstraint)
	}
}

func TestMemoryFinishJobIdempotent(t *testing.T) {
	m := NewMemory()
	id := deferTestJob(t, m, "default", "one", nil, nil)
	ctx := context.Background()
	if _, err := m.ExecuteQueryOne(ctx, QueryFetchJob, []string(nil)); err != nil {
		t.Fatalf("fetch: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := m.ExecuteQuery(ctx, QueryFinishJob, id, "succeeded", (*time.Time)(nil)); err != nil {
			t.Fatalf("finish #%d: %v", i, err)
		}
	}

	rows, err := m.ExecuteQueryAll(ctx, QueryListJobs, &id, (*string)(nil), (*string)(nil), (*string)(nil), (*string)(nil))
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 job, got %d", len(rows))
	}
}

func TestMemoryDeleteOldJobsNeverTouchesTodoOrDoing(t *testing.T) {
	m := NewMemory()
	// Fetch claims the lowest id, so the first job deferred becomes doing.
	doingID := deferTestJob(t, m, "default", "one", nil, nil)
	todoID := deferTestJob(t, m, "default", "two", nil, nil)

	ctx := context.Background()
	if _, err := m.ExecuteQueryOne(ctx, QueryFetchJob, []string{"default"}); err != nil {
		t.Fatalf("fetch: %v", err)
	}

	// Force updated_at far in the past so delete_old_jobs would remove it
	// if it incorrectly applied to non-terminal rows.
	m.jobs[doingID].updatedAt = time.Now().Add(-48 * time.Hour)
	m.jobs[todoID].updatedAt = time.Now().Add(-48 * time.Hour)

	if err := m.ExecuteQuery(ctx, QueryDeleteOldJobs, 1, (*string)(nil), true); err != nil {
		t.Fatalf("delete old jobs: %v", err)
	}

	if _, ok := m.jobs[todoID]; !ok {
		t.Error("todo job was deleted, should never happen")
	}
	if _, ok := m.jobs[doingID]; !ok {
		t.Error("doing job was deleted, should never happen")
	}
}

func TestMemorySelectStalledJobs(t *testing.T) {
	m := NewMemory()
	id := deferTestJob(t, m, "default", "one", nil, nil)
	ctx := context.Background()
	if _, err := m.ExecuteQueryOne(ctx, QueryFetchJob, []string(nil)); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	m.jobs[id].updatedAt = time.Now().Add(-time.Hour)

	rows, err := m.ExecuteQueryAll(ctx, QuerySelectStalledJobs, 60)
	if err != nil {
		t.Fatalf("select stalled: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 stalled job, got %d", len(rows))
	}

	rows, err = m.ExecuteQueryAll(ctx, QuerySelectStalledJobs, int((2*time.Hour).Seconds()))
	if err != nil {
		t.Fatalf("select stalled with high threshold: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("expected 0 stalled jobs with a high threshold, got %d", len(rows))
	}
}
