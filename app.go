package doze

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/doze-run/doze/connector"
	"github.com/doze-run/doze/registry"
)

// App is the composition root (spec.md §2 item 5): it owns one Connector,
// one Store, one Registry, and is the entry point both producers (Defer)
// and the CLI front-end use. It is generalized from the teacher's Swig
// struct, which bundled a driver, a WorkerRegistry and its own worker
// pools into one type; App keeps the driver/store/registry ownership but
// leaves pool construction to the worker package (see worker.NewPool) to
// avoid an import cycle between doze and worker.
type App struct {
	conn     connector.Connector
	store    *Store
	registry *registry.Registry
	logger   zerolog.Logger
}

// NewApp wires a Connector and Registry into a ready-to-use App. logger is
// carried by value from this point on, per spec.md §9's design note.
func NewApp(conn connector.Connector, reg *registry.Registry, logger zerolog.Logger) *App {
	return &App{
		conn:     conn,
		store:    NewStore(conn),
		registry: reg,
		logger:   logger,
	}
}

// Store returns the App's Store, for callers (the worker package, admin
// tooling) that need direct access beyond Defer.
func (a *App) Store() *Store { return a.store }

// Registry returns the App's Task Registry.
func (a *App) Registry() *registry.Registry { return a.registry }

// Connector returns the App's underlying Connector, letting worker.NewPool
// check PoolSizer without App needing to expose pool-sizing logic itself.
func (a *App) Connector() connector.Connector { return a.conn }

// Logger returns the structured logger carried by this App.
func (a *App) Logger() zerolog.Logger { return a.logger }

// Close releases the App's Connector.
func (a *App) Close(ctx context.Context) error {
	return a.conn.Close(ctx)
}

// JobOption configures one Defer call. The functional-options idiom is
// used here (rather than the teacher's JobOptions struct +
// DefaultJobOptions()) because a doze Job has more independently-optional
// fields — lock, queueing_lock, scheduled_at, queue override — than the
// teacher's Queue/Priority/RunAt triplet, and most callers only ever need
// to set one of them.
type JobOption func(*Job)

// WithQueue overrides the queue a job is deferred to. Without it, the
// queue is the one the task was registered with.
func WithQueue(queue string) JobOption {
	return func(j *Job) { j.Queue = queue }
}

// WithLock sets the job's mutual-exclusion lock key.
func WithLock(lock string) JobOption {
	return func(j *Job) { j.Lock = &lock }
}

// WithQueueingLock sets the job's queueing lock key.
func WithQueueingLock(lock string) JobOption {
	return func(j *Job) { j.QueueingLock = &lock }
}

// WithScheduledAt delays eligibility until at.
func WithScheduledAt(at time.Time) JobOption {
	return func(j *Job) { j.ScheduledAt = &at }
}

// Defer marshals args to JSON and enqueues a job for task. task must
// already be registered, since the queue it lands on (absent WithQueue)
// comes from the registry entry. ErrAlreadyEnqueued is returned directly,
// unwrapped — spec.md §7: "Never fatal to a worker - workers don't call
// defer".
func (a *App) Defer(ctx context.Context, task string, args any, opts ...JobOption) (int64, error) {
	entry, ok := a.registry.Lookup(task)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrTaskNotFound, task)
	}

	payload, err := json.Marshal(args)
	if err != nil {
		return 0, fmt.Errorf("doze: marshal job args: %w", err)
	}

	job := Job{
		Queue:    entry.Queue,
		TaskName: task,
		Args:     payload,
	}
	for _, opt := range opts {
		opt(&job)
	}

	return a.store.DeferJob(ctx, job)
}

// Migrate applies the schema (see SchemaSQL in schema.go) idempotently.
func (a *App) Migrate(ctx context.Context) error {
	return a.conn.ExecuteQuery(ctx, SchemaSQL)
}

// EnvPrefix is the reserved namespace the CLI reads configuration from,
// generalizing spec.md §6's PROCRASTINATE_ prefix.
const EnvPrefix = "DOZE_"

// Config is populated from environment variables under EnvPrefix by the
// CLI. No config-file library is used: none of the retrieved example
// repos load job-queue configuration from a file, so plain os.Getenv
// reads are the stdlib-justified exception recorded in DESIGN.md.
type Config struct {
	DatabaseURL string
	Concurrency int
}

// ConfigFromEnv reads DOZE_DATABASE_URL and DOZE_CONCURRENCY, falling back
// to sensible defaults when unset.
func ConfigFromEnv() Config {
	cfg := Config{
		DatabaseURL: os.Getenv(EnvPrefix + "DATABASE_URL"),
		Concurrency: 1,
	}
	if v := os.Getenv(EnvPrefix + "CONCURRENCY"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			cfg.Concurrency = n
		}
	}
	return cfg
}
