// Package pool provides the bounded-concurrency primitives used by the
// retrieval and research stages: a cancellable counting semaphore and an
// index-ordered worker pool.
package pool

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Semaphore is a counting semaphore with cancellable acquisition. Waiters are
// served in FIFO order.
type Semaphore struct {
	w *semaphore.Weighted
}

// NewSemaphore creates a semaphore with the given capacity (minimum 1).
func NewSemaphore(capacity int) *Semaphore {
	if capacity < 1 {
		capacity = 1
	}
	return &Semaphore{w: semaphore.NewWeighted(int64(capacity))}
}

// Acquire blocks until a permit is available or ctx is done. On success it
// returns a single-use release function; releasing twice is a no-op. On
// cancellation the waiter is removed and the semaphore state is unchanged.
func (s *Semaphore) Acquire(ctx context.Context) (func(), error) {
	if err := s.w.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	var once sync.Once
	return func() {
		once.Do(func() { s.w.Release(1) })
	}, nil
}

// TryAcquire acquires a permit without blocking. It reports whether the
// permit was obtained; the release function is nil when it was not.
func (s *Semaphore) TryAcquire() (func(), bool) {
	if !s.w.TryAcquire(1) {
		return nil, false
	}
	var once sync.Once
	return func() {
		once.Do(func() { s.w.Release(1) })
	}, true
}

// Run executes task for indices 0..n-1 with at most limit running at once,
// collecting results in index order. The first failure cancels the siblings
// and is returned.
func Run[T any](ctx context.Context, n, limit int, task func(ctx context.Context, i int) (T, error)) ([]T, error) {
	if limit < 1 {
		limit = 1
	}
	results := make([]T, n)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out, err := task(ctx, i)
			if err != nil {
				return err
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
