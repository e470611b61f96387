// Package concurrency holds the bounded worker pool shared by the pipeline.
package concurrency

import (
	"context"

	"github.com/sourcegraph/conc/pool"
)

// NewPool returns a new pool where each task respects context cancellation.
// Wait() will only return the first error seen and the remaining tasks observe
// a cancelled context as soon as one of them fails.
func NewPool(ctx context.Context, maxGoroutines int) *pool.ContextPool {
	if maxGoroutines < 1 {
		maxGoroutines = 1
	}
	return pool.New().
		WithContext(ctx).
		WithCancelOnError().
		WithFirstError().
		WithMaxGoroutines(maxGoroutines)
}

// ForEachIndex runs fn for every index in [0, n) on a bounded pool and waits.
// Results are expected to be written by fn into a slot addressed by the index,
// which keeps the caller's ordering independent of completion order.
func ForEachIndex(ctx context.Context, n, maxGoroutines int, fn func(ctx context.Context, i int) error) error {
	p := NewPool(ctx, maxGoroutines)
	for i := 0; i < n; i++ {
		p.Go(func(ctx context.Context) error {
			return fn(ctx, i)
		})
	}
	return p.Wait()
}
