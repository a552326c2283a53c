package worker

import (
	"context"
	"time"

	"github.com/doze-run/doze"
)

// ReapStalled reports jobs that have been doing for longer than threshold.
// It is read-only monitoring (spec.md's get_stalled_jobs), exposed on Pool
// so an operator or a scheduled ticker can call it independently of the
// fetch loops; nothing in Run calls it automatically.
func (p *Pool) ReapStalled(ctx context.Context, threshold time.Duration) ([]*doze.Job, error) {
	return p.store.GetStalledJobs(ctx, threshold)
}
