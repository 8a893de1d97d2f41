package engine

import (
	"golang.org/x/sync/errgroup"
)

// pool is the bounded action-worker pool Admission and Cancel-Dispatch
// submit tasks to (spec §4.4: "no task is allowed to block on another task
// of the same pool"). Grounded on call/runner.go's errgroup.WithContext
// pattern, simplified to a flat errgroup.Group with SetLimit since the
// pool's tasks are independent and never need to observe a shared
// cancellation signal -- each task steers its own petition to BROKEN on
// failure rather than aborting its siblings.
type pool struct {
	eg *errgroup.Group
}

func newPool(maxWorkers int) *pool {
	eg := &errgroup.Group{}
	if maxWorkers > 0 {
		eg.SetLimit(maxWorkers)
	}
	return &pool{eg: eg}
}

// Submit runs fn on the pool, blocking the caller only long enough to
// acquire a free slot -- never for the duration of fn itself. fn should
// handle its own errors internally (steering its petition to BROKEN) and
// always return nil, since pool.Wait makes no use of a non-nil return
// beyond surfacing it at shutdown.
func (p *pool) Submit(fn func() error) {
	p.eg.Go(fn)
}

// Wait blocks until every submitted task has returned.
func (p *pool) Wait() error {
	return p.eg.Wait()
}
