// Package worker implements the fetch-dispatch-finish loop: the execution
// side of the job coordination engine. A Pool multiplexes N independent
// fetch loops plus one listen loop over a shared Connector, grounded on the
// teacher's startWorker/processNextJob pair (glamboyosa-swig's swig.go) but
// generalized to registry-based dispatch and the two-stage soft/hard
// shutdown the spec requires.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/doze-run/doze"
	"github.com/doze-run/doze/connector"
	"github.com/doze-run/doze/pkg"
	"github.com/doze-run/doze/registry"
)

// defaultPollInterval bounds how stale a missed NOTIFY can make a worker:
// the idle wait never blocks longer than this even if the wake event never
// fires.
const defaultPollInterval = 2 * time.Second

// Pool owns Concurrency independent fetch/dispatch loops and one listen
// loop, all woken by a single shared WakeEvent, as spec.md §4.4/§5
// describes. Every loop shares the same Store (and therefore the same
// Connector) — the Connector is responsible for serializing concurrent
// calls, the Pool never does so itself.
type Pool struct {
	ID           string
	store        *doze.Store
	registry     *registry.Registry
	logger       zerolog.Logger
	queues       []string
	concurrency  int
	pollInterval time.Duration
	wake         *connector.WakeEvent

	cancelFetch context.CancelFunc
}

// ErrPoolTooSmall is returned by NewPool when the underlying Connector
// reports (via PoolSizer) a connection pool smaller than the requested
// concurrency: every fetch loop needs its own connection to make
// progress independently, so a smaller pool would starve some loops.
var ErrPoolTooSmall = errors.New("doze: connector pool size is smaller than requested concurrency")

// NewPool builds a Pool reading from app's Store and Registry. It is a
// free function rather than a method on doze.App so that the worker
// package can depend on doze without doze depending back on worker — App
// composes Pools, but Pool's own package never needs to know about App's
// other responsibilities (Defer, Migrate, admin queries).
//
// If app's Connector implements connector.PoolSizer, its reported pool
// size must be at least concurrency, or ErrPoolTooSmall is returned.
// Connectors without a real pool (the in-memory connector) are exempt.
func NewPool(app *doze.App, concurrency int, queues ...string) (*Pool, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	if sizer, ok := app.Connector().(connector.PoolSizer); ok && sizer.PoolSize() < concurrency {
		return nil, fmt.Errorf("%w: pool size %d, concurrency %d", ErrPoolTooSmall, sizer.PoolSize(), concurrency)
	}
	return &Pool{
		ID:           pkg.GenerateWorkerID(),
		store:        app.Store(),
		registry:     app.Registry(),
		logger:       app.Logger(),
		queues:       queues,
		concurrency:  concurrency,
		pollInterval: defaultPollInterval,
		wake:         connector.NewWakeEvent(),
	}, nil
}

// WithPollInterval overrides the idle-wait timeout (default 2s). Tests that
// want to observe the poll fallback without a real notification often set
// this low.
func (p *Pool) WithPollInterval(d time.Duration) *Pool {
	p.pollInterval = d
	return p
}

// Run starts every fetch loop plus the listen loop and blocks until ctx is
// cancelled and every loop has exited. Cancelling ctx is the *hard* signal:
// it tears down the listen loop immediately and cancels any in-flight task
// invocation. Call Stop beforehand to request a *soft* shutdown first,
// giving in-flight tasks a chance to finish on their own.
func (p *Pool) Run(ctx context.Context) error {
	if len(p.queues) == 0 {
		p.queues = p.registry.Queues()
	}

	fetchCtx, cancelFetch := context.WithCancel(ctx)
	p.cancelFetch = cancelFetch
	defer cancelFetch()

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return p.listen(fetchCtx)
	})
	for i := 0; i < p.concurrency; i++ {
		group.Go(func() error {
			return p.loop(gctx, fetchCtx)
		})
	}

	err := group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Stop requests a soft shutdown: every loop stops initiating new fetches,
// but a task already dispatched is left to finish. The listen loop exits
// immediately, matching the spec's "listen task is cancelled in either
// case". Run still blocks until the in-flight tasks complete (or ctx is
// cancelled for a hard shutdown).
func (p *Pool) Stop() {
	if p.cancelFetch != nil {
		p.cancelFetch()
	}
}

// listen runs the Store's LISTEN/NOTIFY subscription until fetchCtx is
// cancelled, signalling the shared wake event on every notification.
func (p *Pool) listen(fetchCtx context.Context) error {
	if err := p.store.Listen(fetchCtx, p.wake, p.queues); err != nil {
		p.logger.Error().Err(err).Msg("listen loop exited with error")
		return err
	}
	return nil
}

// loop is one fetch/dispatch slot: it fetches at most one job at a time,
// dispatches it, and idles on the wake event when nothing is eligible.
// taskCtx gates task execution (cancelled only on hard shutdown); fetchCtx
// gates whether a new fetch is even attempted (cancelled on soft or hard).
func (p *Pool) loop(taskCtx, fetchCtx context.Context) error {
	for {
		select {
		case <-fetchCtx.Done():
			return nil
		default:
		}

		job, err := p.store.FetchJob(taskCtx, p.queues)
		if err != nil {
			p.logger.Error().Err(err).Msg("fetch job failed, backing off")
			if !p.idleWait(fetchCtx) {
				return nil
			}
			continue
		}
		if job == nil {
			if !p.idleWait(fetchCtx) {
				return nil
			}
			continue
		}

		p.dispatch(taskCtx, job)
	}
}

// idleWait blocks for at most pollInterval waiting for the wake event, and
// reports whether the caller should keep looping (false means fetchCtx was
// cancelled and the loop should exit).
func (p *Pool) idleWait(fetchCtx context.Context) bool {
	timer := time.NewTimer(p.pollInterval)
	defer timer.Stop()
	p.wake.Wait(fetchCtx, timer.C)
	return fetchCtx.Err() == nil
}
