package connector

// Query* are the logical SQL statements every operation compiles down to.
// They are exported as named constants (rather than inlined at each call
// site) so that Memory — the in-memory test connector — can recognize
// exactly which operation is being invoked without parsing SQL, the same
// way a real driver recognizes a prepared-statement name. Store never
// constructs SQL itself; it only ever passes one of these constants plus
// positional arguments to a Connector.
const QueryDeferJob = `
INSERT INTO doze_jobs (queue, task_name, args, lock_key, queueing_lock, status, scheduled_at)
VALUES ($1, $2, $3, $4, $5, 'todo', COALESCE($6, now()))
RETURNING id`

// fetch_job's eligibility predicate and the lock self-join are the
// mutual-exclusion algorithm: a job whose lock_key matches a job already
// doing is excluded, so two concurrent fetchers can never both acquire
// jobs sharing a lock. FOR UPDATE SKIP LOCKED plus the RETURNING clause
// make acquisition and the todo->doing transition one atomic statement.
const QueryFetchJob = `
UPDATE doze_jobs
SET status = 'doing', attempts = attempts + 1, updated_at = now()
WHERE id = (
	SELECT j.id
	FROM doze_jobs j
	WHERE j.status = 'todo'
		AND (j.scheduled_at IS NULL OR j.scheduled_at <= now())
		AND ($1::text[] IS NULL OR j.queue = ANY($1::text[]))
		AND (j.lock_key IS NULL OR NOT EXISTS (
			SELECT 1 FROM doze_jobs locked
			WHERE locked.lock_key = j.lock_key AND locked.status = 'doing'
		))
	ORDER BY j.id
	FOR UPDATE SKIP LOCKED
	LIMIT 1
)
RETURNING id, queue, task_name, args, lock_key, queueing_lock, status, scheduled_at, attempts, created_at, updated_at`

// finish_job only ever touches a row still in doing, which is what makes
// a repeat call with the same terminal status a no-op and also what makes
// a succeeded->todo transition impossible through this statement: a
// succeeded row is never doing, so it is never matched. attempts is left
// untouched on a retry — fetch_job already incremented it on the claim that
// just failed, and a RetryPolicy's MaxAttempts/backoff need that running
// count to keep climbing across retries, not reset to 0.
const QueryFinishJob = `
UPDATE doze_jobs
SET status = CASE WHEN $3::timestamptz IS NOT NULL THEN 'todo' ELSE $2::text END,
	scheduled_at = CASE WHEN $3::timestamptz IS NOT NULL THEN $3::timestamptz ELSE scheduled_at END,
	updated_at = now()
WHERE id = $1 AND status = 'doing'`

const QuerySelectStalledJobs = `
SELECT id, queue, task_name, args, lock_key, queueing_lock, status, scheduled_at, attempts, created_at, updated_at
FROM doze_jobs
WHERE status = 'doing' AND updated_at < now() - ($1::int * interval '1 second')`

const QueryDeleteOldJobs = `
DELETE FROM doze_jobs
WHERE (status = 'succeeded' OR ($3::bool AND status = 'failed'))
	AND ($2::text IS NULL OR queue = $2::text)
	AND updated_at < now() - ($1::int * interval '1 hour')`

const QueryListJobs = `
SELECT id, queue, task_name, args, lock_key, queueing_lock, status, scheduled_at, attempts, created_at, updated_at
FROM doze_jobs
WHERE ($1::bigint IS NULL OR id = $1::bigint)
	AND ($2::text IS NULL OR queue = $2::text)
	AND ($3::text IS NULL OR task_name = $3::text)
	AND ($4::text IS NULL OR status = $4::text)
	AND ($5::text IS NULL OR lock_key = $5::text)
ORDER BY id`

const QueryListQueues = `
SELECT queue, status, count(*) FROM doze_jobs GROUP BY queue, status ORDER BY queue`

const QueryListTasks = `
SELECT task_name, status, count(*) FROM doze_jobs GROUP BY task_name, status ORDER BY task_name`

const QuerySetJobStatus = `
UPDATE doze_jobs SET status = $2::text, updated_at = now() WHERE id = $1::bigint`

// QueryListJobEvents reads back the audit trail the doze_jobs_event_trigger
// (schema.go) populates on every lifecycle transition.
const QueryListJobEvents = `
SELECT job_id, event_type, at
FROM doze_job_events
WHERE job_id = $1::bigint
ORDER BY at`
