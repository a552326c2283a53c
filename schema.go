package doze

// SchemaSQL creates the jobs table, its audit trail, and two triggers,
// grounded on the teacher's inline Start() schema (CREATE TABLE IF NOT
// EXISTS swig_jobs ... plus a notify_job_created trigger) but generalized
// to doze's data model: a queueing_lock partial unique index (spec.md §3's
// queueing-lock invariant), the (status, queue, scheduled_at, id) index
// the fetch predicate needs, per-queue notification channels instead of
// the teacher's single "swig_jobs" channel (spec.md §3/§6: "doze_any_queue"
// / "doze_queue#<queue_name>"), and a second trigger that records every
// lifecycle transition into doze_job_events — the audit trail SPEC_FULL.md
// commits to, read back through Store.ListJobEvents.
const SchemaSQL = `
CREATE TABLE IF NOT EXISTS doze_jobs (
	id BIGSERIAL PRIMARY KEY,
	queue TEXT NOT NULL,
	task_name TEXT NOT NULL,
	args JSONB NOT NULL DEFAULT '{}'::jsonb,
	lock_key TEXT,
	queueing_lock TEXT,
	status TEXT NOT NULL DEFAULT 'todo'
		CHECK (status IN ('todo', 'doing', 'succeeded', 'failed')),
	scheduled_at TIMESTAMPTZ,
	attempts INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS doze_jobs_queueing_lock_idx
	ON doze_jobs (queueing_lock)
	WHERE status = 'todo';

CREATE INDEX IF NOT EXISTS doze_jobs_fetch_idx
	ON doze_jobs (status, queue, scheduled_at, id);

CREATE TABLE IF NOT EXISTS doze_job_events (
	id BIGSERIAL PRIMARY KEY,
	job_id BIGINT NOT NULL REFERENCES doze_jobs (id) ON DELETE CASCADE,
	event_type TEXT NOT NULL,
	at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS doze_job_events_job_id_idx ON doze_job_events (job_id);

CREATE OR REPLACE FUNCTION doze_notify_new_job() RETURNS trigger AS $$
BEGIN
	PERFORM pg_notify('doze_queue#' || NEW.queue, '');
	PERFORM pg_notify('doze_any_queue', '');
	RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS doze_jobs_notify_trigger ON doze_jobs;
CREATE TRIGGER doze_jobs_notify_trigger
	AFTER INSERT ON doze_jobs
	FOR EACH ROW
	EXECUTE FUNCTION doze_notify_new_job();

-- doze_record_job_event appends one doze_job_events row per lifecycle
-- transition, so Store.ListJobEvents reads back an audit trail without
-- any Go code having to issue a second statement per operation.
CREATE OR REPLACE FUNCTION doze_record_job_event() RETURNS trigger AS $$
BEGIN
	IF TG_OP = 'INSERT' THEN
		INSERT INTO doze_job_events (job_id, event_type) VALUES (NEW.id, 'deferred');
	ELSIF TG_OP = 'UPDATE' THEN
		IF OLD.status = 'todo' AND NEW.status = 'doing' THEN
			INSERT INTO doze_job_events (job_id, event_type) VALUES (NEW.id, 'started');
		ELSIF OLD.status = 'doing' AND NEW.status = 'todo' THEN
			INSERT INTO doze_job_events (job_id, event_type) VALUES (NEW.id, 'retried');
		ELSIF OLD.status = 'doing' AND NEW.status IN ('succeeded', 'failed') THEN
			INSERT INTO doze_job_events (job_id, event_type) VALUES (NEW.id, NEW.status);
		END IF;
	END IF;
	RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS doze_jobs_event_trigger ON doze_jobs;
CREATE TRIGGER doze_jobs_event_trigger
	AFTER INSERT OR UPDATE ON doze_jobs
	FOR EACH ROW
	EXECUTE FUNCTION doze_record_job_event();
`
