package connector

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// memJob is Memory's internal row representation.
type memJob struct {
	id           int64
	queue        string
	taskName     string
	args         []byte
	lockKey      *string
	queueingLock *string
	status       string
	scheduledAt  *time.Time
	attempts     int
	createdAt    time.Time
	updatedAt    time.Time
}

// Memory is the in-memory connector used to validate the core's contract
// without a database. It exists only for tests: it implements the exact
// transition semantics the real SQL does (queueing-lock uniqueness, lock
// mutual exclusion, atomic fetch, idempotent finish) entirely in Go, guarded
// by a single mutex in place of row-level locking.
type Memory struct {
	mu      sync.Mutex
	jobs    map[int64]*memJob
	nextID  int64
	events  []eventRow
	wake    map[string][]*WakeEvent
	closed  bool
}

type eventRow struct {
	jobID int64
	kind  string
	at    time.Time
}

// NewMemory returns a ready-to-use in-memory connector.
func NewMemory() *Memory {
	return &Memory{
		jobs:   make(map[int64]*memJob),
		nextID: 1,
		wake:   make(map[string][]*WakeEvent),
	}
}

func (m *Memory) ExecuteQuery(ctx context.Context, query string, args ...any) error {
	_, err := m.dispatch(query, args)
	return err
}

func (m *Memory) ExecuteQueryOne(ctx context.Context, query string, args ...any) (Row, error) {
	row, err := m.dispatch(query, args)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, ErrNoRows
	}
	return row, nil
}

func (m *Memory) ExecuteQueryAll(ctx context.Context, query string, args ...any) ([]Row, error) {
	return m.dispatchAll(query, args)
}

// ListenNotify registers wake for every channel and blocks until ctx is
// cancelled; Signal is driven directly by deferJob (through notify), not by
// this loop, since there is no real notification transport to poll.
func (m *Memory) ListenNotify(ctx context.Context, wake *WakeEvent, channels []string) error {
	m.mu.Lock()
	for _, ch := range channels {
		m.wake[ch] = append(m.wake[ch], wake)
	}
	m.mu.Unlock()

	<-ctx.Done()
	return nil
}

func (m *Memory) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// notify wakes every WakeEvent subscribed to channel — the in-memory
// equivalent of a trigger firing NOTIFY after INSERT. Callers hold m.mu.
func (m *Memory) notify(channel string) {
	for _, w := range m.wake[channel] {
		w.Signal()
	}
}

func (m *Memory) dispatch(query string, args []any) (Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch query {
	case QueryDeferJob:
		return m.deferJob(args)
	case QueryFetchJob:
		return m.fetchJob(args)
	case QueryFinishJob:
		return nil, m.finishJob(args)
	case QuerySetJobStatus:
		return nil, m.setJobStatus(args)
	case QueryDeleteOldJobs:
		return nil, m.deleteOldJobs(args)
	default:
		return nil, nil
	}
}

func (m *Memory) dispatchAll(query string, args []any) ([]Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch query {
	case QuerySelectStalledJobs:
		return m.selectStalledJobs(args)
	case QueryListJobs:
		return m.listJobs(args)
	case QueryListQueues:
		return m.listQueues()
	case QueryListTasks:
		return m.listTasks()
	case QueryListJobEvents:
		return m.listJobEvents(args)
	default:
		return nil, nil
	}
}

func (m *Memory) deferJob(args []any) (Row, error) {
	queue := args[0].(string)
	taskName := args[1].(string)
	var argsJSON []byte
	if args[2] != nil {
		argsJSON = args[2].([]byte)
	}
	lockKey := asStringPtr(args[3])
	queueingLock := asStringPtr(args[4])
	scheduledAt := asTimePtr(args[5])

	if queueingLock != nil {
		for _, j := range m.jobs {
			if j.queueingLock != nil && *j.queueingLock == *queueingLock && j.status == "todo" {
				return nil, &UniqueViolation{ConstraintName: QueueingLockConstraint, Err: errQueueingLock}
			}
		}
	}

	now := time.Now()
	effectiveScheduledAt := scheduledAt
	id := m.nextID
	m.nextID++
	m.jobs[id] = &memJob{
		id:           id,
		queue:        queue,
		taskName:     taskName,
		args:         argsJSON,
		lockKey:      lockKey,
		queueingLock: queueingLock,
		status:       "todo",
		scheduledAt:  effectiveScheduledAt,
		createdAt:    now,
		updatedAt:    now,
	}
	m.events = append(m.events, eventRow{jobID: id, kind: "deferred", at: now})
	m.notify("doze_queue#" + queue)
	m.notify("doze_any_queue")

	return staticRow{id}, nil
}

var errQueueingLock = errors.New("doze: queueing lock already held by a pending job")

func (m *Memory) fetchJob(args []any) (Row, error) {
	var queues []string
	if args[0] != nil {
		queues = args[0].([]string)
	}
	queueSet := make(map[string]bool, len(queues))
	for _, q := range queues {
		queueSet[q] = true
	}

	doing := make(map[string]bool)
	for _, j := range m.jobs {
		if j.status == "doing" && j.lockKey != nil {
			doing[*j.lockKey] = true
		}
	}

	var eligible []*memJob
	now := time.Now()
	for _, j := range m.jobs {
		if j.status != "todo" {
			continue
		}
		if j.scheduledAt != nil && j.scheduledAt.After(now) {
			continue
		}
		if len(queues) > 0 && !queueSet[j.queue] {
			continue
		}
		if j.lockKey != nil && doing[*j.lockKey] {
			continue
		}
		eligible = append(eligible, j)
	}
	if len(eligible) == 0 {
		return nil, nil
	}
	sort.Slice(eligible, func(i, k int) bool { return eligible[i].id < eligible[k].id })

	j := eligible[0]
	j.status = "doing"
	j.attempts++
	j.updatedAt = now
	m.events = append(m.events, eventRow{jobID: j.id, kind: "started", at: now})

	return jobRow(j), nil
}

func (m *Memory) finishJob(args []any) error {
	id := args[0].(int64)
	status := args[1].(string)
	scheduledAt := asTimePtr(args[2])

	j, ok := m.jobs[id]
	if !ok || j.status != "doing" {
		return nil
	}

	now := time.Now()
	if scheduledAt != nil {
		j.status = "todo"
		j.scheduledAt = scheduledAt
		m.events = append(m.events, eventRow{jobID: id, kind: "retried", at: now})
	} else {
		j.status = status
		m.events = append(m.events, eventRow{jobID: id, kind: status, at: now})
	}
	j.updatedAt = now
	return nil
}

func (m *Memory) setJobStatus(args []any) error {
	id := args[0].(int64)
	status := args[1].(string)
	if j, ok := m.jobs[id]; ok {
		j.status = status
		j.updatedAt = time.Now()
	}
	return nil
}

func (m *Memory) deleteOldJobs(args []any) error {
	nbHours := args[0].(int)
	queue := asStringPtr(args[1])
	includeFailed, _ := args[2].(bool)
	threshold := time.Now().Add(-time.Duration(nbHours) * time.Hour)

	for id, j := range m.jobs {
		if j.status != "succeeded" && !(includeFailed && j.status == "failed") {
			continue
		}
		if queue != nil && j.queue != *queue {
			continue
		}
		if j.updatedAt.Before(threshold) {
			delete(m.jobs, id)
		}
	}
	return nil
}

func (m *Memory) selectStalledJobs(args []any) ([]Row, error) {
	nbSeconds := args[0].(int)
	threshold := time.Now().Add(-time.Duration(nbSeconds) * time.Second)

	var out []Row
	for _, j := range m.jobs {
		if j.status == "doing" && j.updatedAt.Before(threshold) {
			out = append(out, jobRow(j))
		}
	}
	return out, nil
}

func (m *Memory) listJobs(args []any) ([]Row, error) {
	var id *int64
	if v, ok := args[0].(*int64); ok {
		id = v
	}
	queue := asStringPtr(args[1])
	taskName := asStringPtr(args[2])
	status := asStringPtr(args[3])
	lockKey := asStringPtr(args[4])

	var ids []int64
	for k := range m.jobs {
		ids = append(ids, k)
	}
	sort.Slice(ids, func(i, k int) bool { return ids[i] < ids[k] })

	var out []Row
	for _, k := range ids {
		j := m.jobs[k]
		if id != nil && j.id != *id {
			continue
		}
		if queue != nil && j.queue != *queue {
			continue
		}
		if taskName != nil && j.taskName != *taskName {
			continue
		}
		if status != nil && j.status != *status {
			continue
		}
		if lockKey != nil && (j.lockKey == nil || *j.lockKey != *lockKey) {
			continue
		}
		out = append(out, jobRow(j))
	}
	return out, nil
}

func (m *Memory) listJobEvents(args []any) ([]Row, error) {
	jobID := args[0].(int64)
	var out []Row
	for _, e := range m.events {
		if e.jobID == jobID {
			out = append(out, staticRow{e.jobID, e.kind, e.at})
		}
	}
	return out, nil
}

func (m *Memory) listQueues() ([]Row, error) {
	return m.groupCounts(func(j *memJob) string { return j.queue }), nil
}

func (m *Memory) listTasks() ([]Row, error) {
	return m.groupCounts(func(j *memJob) string { return j.taskName }), nil
}

func (m *Memory) groupCounts(key func(*memJob) string) []Row {
	type group struct {
		name   string
		status string
	}
	counts := make(map[group]int64)
	for _, j := range m.jobs {
		counts[group{name: key(j), status: j.status}]++
	}

	var out []Row
	for g, n := range counts {
		out = append(out, staticRow{g.name, g.status, n})
	}
	return out
}

func jobRow(j *memJob) staticRow {
	var lockKey, queueingLock any
	if j.lockKey != nil {
		lockKey = *j.lockKey
	}
	if j.queueingLock != nil {
		queueingLock = *j.queueingLock
	}
	var scheduledAt any
	if j.scheduledAt != nil {
		scheduledAt = *j.scheduledAt
	}
	return staticRow{
		j.id, j.queue, j.taskName, []byte(j.args), lockKey, queueingLock,
		j.status, scheduledAt, j.attempts, j.createdAt, j.updatedAt,
	}
}

// asStringPtr normalizes a dispatch argument that may arrive as a real Go
// *string (the common case: Job's optional fields are all pointers), a bare
// string, or nil, into a *string. A typed-nil *string is passed through
// as nil rather than dereferenced.
func asStringPtr(v any) *string {
	switch p := v.(type) {
	case *string:
		return p
	case string:
		return &p
	default:
		return nil
	}
}

// asTimePtr is asStringPtr's counterpart for *time.Time-valued arguments.
func asTimePtr(v any) *time.Time {
	switch p := v.(type) {
	case *time.Time:
		return p
	case time.Time:
		return &p
	default:
		return nil
	}
}
