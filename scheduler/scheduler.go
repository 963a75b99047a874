// Package scheduler provides the work-distribution primitive the update
// algorithm is parameterized over: a parallel map across independent work
// items. Items must not depend on each other; the table framework guarantees
// the keys recomputed within one pass are disjoint, so Mappers need no
// ordering beyond "run every index once".
package scheduler

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Mapper runs fn for every index in [0, n), possibly concurrently.
// fn must confine per-item failures to its own bookkeeping and return non-nil
// only for faults that should stop the whole pass (there is no per-item retry
// or cancellation at this level).
type Mapper interface {
	Map(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error
}

// Parallel fans work out across goroutines with a concurrency cap.
type Parallel struct {
	// Limit caps in-flight items; <= 0 means no cap.
	Limit int
}

func (p Parallel) Map(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	g, ctx := errgroup.WithContext(ctx)
	if p.Limit > 0 {
		g.SetLimit(p.Limit)
	}
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return fn(ctx, i)
		})
	}
	return g.Wait()
}

// Serial runs items one by one in index order. Deterministic; used in tests
// and as the fallback when parallelism is disabled.
type Serial struct{}

func (Serial) Map(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(ctx, i); err != nil {
			return fmt.Errorf("item %d: %w", i, err)
		}
	}
	return nil
}
