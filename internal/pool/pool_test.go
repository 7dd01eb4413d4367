package pool

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

func TestSemaphoreAcquireRelease(t *testing.T) {
	s := NewSemaphore(2)
	ctx := context.Background()

	var releases []func()
	for i := 0; i < 2; i++ {
		rel, err := s.Acquire(ctx)
		if err != nil {
			t.Fatalf("acquire %d failed: %v", i, err)
		}
		releases = append(releases, rel)
	}
	if _, ok := s.TryAcquire(); ok {
		t.Fatal("third acquire should not succeed while full")
	}
	for _, rel := range releases {
		rel()
		rel() // second call must be a no-op
	}
	// Full capacity restored: two more acquires succeed immediately.
	for i := 0; i < 2; i++ {
		rel, ok := s.TryAcquire()
		if !ok {
			t.Fatalf("acquire after release %d failed", i)
		}
		defer rel()
	}
}

func TestSemaphoreCancelledWaiterLeavesStateUnchanged(t *testing.T) {
	s := NewSemaphore(1)
	rel, err := s.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := s.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	rel()
	if _, ok := s.TryAcquire(); !ok {
		t.Fatal("semaphore should have one permit after cancelled waiter")
	}
}

func TestRunOrdersResultsByIndex(t *testing.T) {
	results, err := Run(context.Background(), 8, 3, func(ctx context.Context, i int) (string, error) {
		// Reverse the completion order.
		time.Sleep(time.Duration(8-i) * time.Millisecond)
		return fmt.Sprintf("task-%d", i), nil
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	for i, r := range results {
		if want := fmt.Sprintf("task-%d", i); r != want {
			t.Errorf("results[%d] = %q, want %q", i, r, want)
		}
	}
}

func TestRunRespectsLimit(t *testing.T) {
	var inFlight, peak int64
	_, err := Run(context.Background(), 12, 3, func(ctx context.Context, i int) (int, error) {
		n := atomic.AddInt64(&inFlight, 1)
		for {
			p := atomic.LoadInt64(&peak)
			if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt64(&inFlight, -1)
		return i, nil
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if p := atomic.LoadInt64(&peak); p > 3 {
		t.Errorf("parallelism exceeded limit: peak %d", p)
	}
}

func TestRunPropagatesFailureAndCancelsSiblings(t *testing.T) {
	boom := errors.New("boom")
	var cancelled atomic.Bool
	_, err := Run(context.Background(), 6, 2, func(ctx context.Context, i int) (int, error) {
		if i == 1 {
			return 0, boom
		}
		select {
		case <-ctx.Done():
			cancelled.Store(true)
			return 0, ctx.Err()
		case <-time.After(200 * time.Millisecond):
			return i, nil
		}
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}
