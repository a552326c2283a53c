// Package registry is the in-process mapping from a task name to the
// callable that runs it, generalized from the teacher's struct-instance
// WorkerRegistry (JobName()/Process() methods on a worker value) to a
// name-keyed function registry: doze jobs carry a task name plus a JSON
// payload, not a serialized struct, so lookup returns a plain function.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// TaskFunc is the callable a registered task runs. Its error return is the
// retry/abort control-flow channel: a plain error means "failed, let the
// registered RetryPolicy decide"; *JobAborted and *JobRetry (defined at the
// doze package level) are recognized by the worker via errors.As.
type TaskFunc func(ctx context.Context, args json.RawMessage) error

// RetryPolicy controls what happens when a task returns a plain error
// instead of an explicit retry/abort sentinel. A nil policy means no
// automatic retries: the job is finished failed on the first error.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
}

// Entry is one registered task: its default queue, its callable, and the
// retry policy (if any) attached at Register time.
type Entry struct {
	Name        string
	Queue       string
	Func        TaskFunc
	RetryPolicy *RetryPolicy
}

// Registry is the in-process name -> Entry table. It is populated at
// startup and must not be mutated once a worker.Pool has started reading
// from it; there is no internal lock-out for that rule, only the
// documented contract (spec: "mutation of the Registry is forbidden after
// workers start").
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// New returns an empty Registry ready for Register calls.
func New() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Register adds or replaces the entry for name. Registering an
// already-known name replaces the prior entry — last-writer-wins at
// startup, matching the teacher's map-based RegisterWorker.
func (r *Registry) Register(name, queue string, fn TaskFunc, policy *RetryPolicy) {
	if fn == nil {
		panic(fmt.Sprintf("registry: nil TaskFunc for task %q", name))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = Entry{Name: name, Queue: queue, Func: fn, RetryPolicy: policy}
}

// Lookup returns the entry registered for name, if any.
func (r *Registry) Lookup(name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// Queues returns the sorted union of every queue reachable through a
// registered task — the set a worker subscribes to when started with no
// explicit queue list.
func (r *Registry) Queues() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool, len(r.entries))
	var out []string
	for _, e := range r.entries {
		if !seen[e.Queue] {
			seen[e.Queue] = true
			out = append(out, e.Queue)
		}
	}
	sort.Strings(out)
	return out
}
