// Package workerpool is the off-thread executor blocking plugin
// operations are submitted to: the processor never performs plugin I/O
// on the calling goroutine directly. A semaphore.Weighted bounds
// concurrent plugin jobs while each job still runs on its own goroutine,
// so a slow plugin call cannot stall unrelated collections.
package workerpool

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Pool bounds the number of concurrently executing plugin jobs.
type Pool struct {
	sem *semaphore.Weighted
}

// New creates a pool that runs at most maxConcurrent jobs at once.
func New(maxConcurrent int64) *Pool {
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}
	return &Pool{sem: semaphore.NewWeighted(maxConcurrent)}
}

// Job is a blocking plugin operation. It returns the result value (as
// `any`, since different operations return different out-params) or an
// error.
type Job func(ctx context.Context) (any, error)

// Outcome is delivered on the channel Submit returns.
type Outcome struct {
	Value any
	Err error
}

// Submit runs job on the pool, blocking until a slot is free or ctx is
// canceled, and returns a channel that receives exactly one Outcome.
// This is the suspension point names: "dispatch of a plugin job
// to the worker pool" — the caller treats the returned channel as the
// continuation to resume on.
func (p *Pool) Submit(ctx context.Context, job Job) <-chan Outcome {
	out := make(chan Outcome, 1)

	if err := p.sem.Acquire(ctx, 1); err != nil {
		out <- Outcome{Err: err}
		close(out)
		return out
	}

	go func() {
		defer p.sem.Release(1)
		defer close(out)
		v, err := job(ctx)
		out <- Outcome{Value: v, Err: err}
	}()

	return out
}
