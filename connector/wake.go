package connector

import (
	"context"
	"time"
)

// WakeEvent is the edge-triggered, level-clearable wake-up signal idle
// fetch loops block on. It is single-producer (the listen loop, or a test)
// and many-consumer (every fetch loop sharing the same Pool). After
// firing, it is cleared by the first consumer to observe it; a missed
// wake-up is bounded by the poller's own timeout, never by this type.
type WakeEvent struct {
	ch chan struct{}
}

// NewWakeEvent returns a ready-to-use WakeEvent.
func NewWakeEvent() *WakeEvent {
	return &WakeEvent{ch: make(chan struct{}, 1)}
}

// Signal wakes one waiter (or leaves the event set for the next Wait if no
// one is currently waiting). It never blocks.
func (w *WakeEvent) Signal() {
	select {
	case w.ch <- struct{}{}:
	default:
	}
}

// Wait blocks until Signal has fired, the timeout elapses, or ctx is
// cancelled. It returns true only when woken by Signal. timeout is a
// time.Timer/time.After channel, matching the idle-wait callers actually
// hold.
func (w *WakeEvent) Wait(ctx context.Context, timeout <-chan time.Time) bool {
	select {
	case <-w.ch:
		return true
	case <-timeout:
		return false
	case <-ctx.Done():
		return false
	}
}
