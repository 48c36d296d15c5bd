// Package worker provides the bounded fan-out pool the extract stage
// uses to run adapter batches concurrently. Each adapter can have at
// most Workers requests in flight; the HTTP client's rate limiter stays
// the global bottleneck per external API.
package worker

import (
	"context"
	"sync"
)

// Pool runs jobs with bounded concurrency. Cancellation is cooperative:
// workers finish their in-flight job, then drain.
type Pool struct {
	workers int
}

// New creates a Pool with the given concurrency bound. workers < 1 is
// treated as 1.
func New(workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{workers: workers}
}

// Workers reports the pool's concurrency bound.
func (p *Pool) Workers() int { return p.workers }

// Run invokes process for every index in [0, n), at most Workers at a
// time. Indices are handed out in order; completion order across workers
// is unspecified, so process must write results into caller-owned
// per-index slots. The first error cancels distribution of further
// indices (in-flight jobs complete) and is returned; a cancelled ctx is
// returned as ctx.Err().
func (p *Pool) Run(ctx context.Context, n int, process func(ctx context.Context, idx int) error) error {
	if n <= 0 {
		return nil
	}

	indices := make(chan int)
	var wg sync.WaitGroup

	var mu sync.Mutex
	var firstErr error
	setErr := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}
	failed := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return firstErr != nil
	}

	workers := p.workers
	if workers > n {
		workers = n
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range indices {
				if err := process(ctx, idx); err != nil {
					setErr(err)
				}
			}
		}()
	}

	for i := 0; i < n; i++ {
		if failed() {
			break
		}
		select {
		case indices <- i:
		case <-ctx.Done():
			setErr(ctx.Err())
		}
		if failed() {
			break
		}
	}
	close(indices)
	wg.Wait()

	return firstErr
}
