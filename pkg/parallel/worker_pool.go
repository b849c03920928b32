// Package parallel runs independent work items under a concurrency cap.
// The sampler uses it to bound concurrent queries against a scanned database;
// the detection engine uses it to fan out per-column pipelines.
package parallel

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

const defaultMaxConcurrent = 8

// WorkerPoolConfig configures the worker pool.
type WorkerPoolConfig struct {
	MaxConcurrent int // concurrency cap, floored at 1
}

// DefaultWorkerPoolConfig returns the stock configuration.
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{MaxConcurrent: defaultMaxConcurrent}
}

// WorkerPool bounds how many work items run at once. Results are consumed as
// they complete, so a free slot picks up the next item immediately.
type WorkerPool struct {
	limit  int
	logger *zap.Logger
}

// NewWorkerPool builds a pool with the given cap. A cap below 1 falls back to
// the default.
func NewWorkerPool(config WorkerPoolConfig, logger *zap.Logger) *WorkerPool {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := config.MaxConcurrent
	if limit < 1 {
		limit = defaultMaxConcurrent
	}
	return &WorkerPool{limit: limit, logger: logger.Named("worker-pool")}
}

// MaxConcurrent returns the pool's concurrency cap.
func (p *WorkerPool) MaxConcurrent() int {
	return p.limit
}

// WorkItem is one independent unit of work. ID identifies the item in results
// and logs.
type WorkItem[T any] struct {
	ID      string
	Execute func(ctx context.Context) (T, error)
}

// WorkResult carries the outcome of one work item.
type WorkResult[T any] struct {
	ID     string
	Result T
	Err    error
}

// Process runs every item and returns a result per item in completion order.
// Failures do not stop the batch. Once ctx is cancelled, items that have not
// started yet come back with ctx.Err() instead of running; onProgress, when
// non-nil, observes the running completion count.
func Process[T any](
	ctx context.Context,
	pool *WorkerPool,
	items []WorkItem[T],
	onProgress func(completed, total int),
) []WorkResult[T] {
	if len(items) == 0 {
		return nil
	}

	workers := pool.limit
	if workers > len(items) {
		workers = len(items)
	}

	jobs := make(chan WorkItem[T])
	out := make(chan WorkResult[T])

	var wg sync.WaitGroup
	wg.Add(workers)
	for range workers {
		go func() {
			defer wg.Done()
			for item := range jobs {
				if err := ctx.Err(); err != nil {
					var zero T
					out <- WorkResult[T]{ID: item.ID, Result: zero, Err: err}
					continue
				}
				val, err := item.Execute(ctx)
				out <- WorkResult[T]{ID: item.ID, Result: val, Err: err}
			}
		}()
	}

	// Feed the workers; every item is delivered even after cancellation so
	// each one yields exactly one result.
	go func() {
		for _, item := range items {
			jobs <- item
		}
		close(jobs)
	}()

	go func() {
		wg.Wait()
		close(out)
	}()

	results := make([]WorkResult[T], 0, len(items))
	for res := range out {
		results = append(results, res)
		if onProgress != nil {
			onProgress(len(results), len(items))
		}
	}
	return results
}
