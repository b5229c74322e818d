// Package parallel provides the bounded parallel map used wherever siblings
// are explored or nodes are run concurrently.
package parallel

import (
	"context"

	"github.com/sourcegraph/conc/pool"
)

// Workers returns min(fanout, limit), and at least 1.
func Workers(fanout, limit int) int {
	n := fanout
	if limit > 0 && limit < n {
		n = limit
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Map applies fn to every item with at most limit calls in flight and returns
// the results in input order. limit <= 0 means one goroutine per item.
// A panic in fn is re-raised in the caller once all calls have returned.
func Map[T, R any](items []T, limit int, fn func(i int, item T) R) []R {
	out := make([]R, len(items))
	if len(items) == 0 {
		return out
	}

	p := pool.New().WithMaxGoroutines(Workers(len(items), limit))
	for i, item := range items {
		p.Go(func() {
			out[i] = fn(i, item)
		})
	}
	p.Wait()
	return out
}

// Each runs fn over items with the same bounds as Map. Items not yet started
// when ctx is done are skipped; fn itself is expected to honour ctx.
func Each[T any](ctx context.Context, items []T, limit int, fn func(ctx context.Context, item T)) {
	if len(items) == 0 {
		return
	}
	p := pool.New().WithMaxGoroutines(Workers(len(items), limit))
	for _, item := range items {
		p.Go(func() {
			if ctx.Err() != nil {
				return
			}
			fn(ctx, item)
		})
	}
	p.Wait()
}
