package workspace

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Pool bounds how many tool executions run at once. The pipeline calls
// tools one at a time, but the MCP server may serve several clients in
// parallel against the same workspace.
type Pool struct {
	sem *semaphore.Weighted
}

// NewPool creates a Pool that admits at most limit concurrent executions.
func NewPool(limit int) *Pool {
	if limit < 1 {
		limit = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(limit))}
}

// Run acquires a slot, runs fn and releases the slot. It returns ctx.Err()
// if the context ends while waiting. A nil Pool runs fn directly.
func (p *Pool) Run(ctx context.Context, fn func() error) error {
	if p == nil || p.sem == nil {
		return fn()
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return fn()
}
