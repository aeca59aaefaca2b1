package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Pool runs at most a fixed number of tasks at once. Submit blocks while
// every worker is busy, which is the back-pressure of the dispatcher.
type Pool struct {
	g   *errgroup.Group
	ctx context.Context
}

// NewPool returns a pool and the context its tasks run under. The context
// is cancelled when a task fails or the parent is cancelled.
func NewPool(ctx context.Context, workers int) (*Pool, context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	return &Pool{g: g, ctx: gctx}, gctx
}

// Submit queues task, waiting for a free worker. It refuses the task and
// returns false once the pool context is cancelled.
func (p *Pool) Submit(task func(ctx context.Context) error) bool {
	if p.ctx.Err() != nil {
		return false
	}
	p.g.Go(func() error {
		if p.ctx.Err() != nil {
			return nil
		}
		return task(p.ctx)
	})
	return true
}

// Wait blocks until every submitted task returned and reports the first
// task error.
func (p *Pool) Wait() error {
	return p.g.Wait()
}
