// Package permit provides the bounded counter that limits how many messages
// are processed at once and lets a drain wait for all of them to finish.
package permit

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/benchlane/benchcore/internal/component"
)

// Pool is a counting concurrency limiter. Each unit of in-flight work holds
// exactly one permit for its duration. It is shared between the delivery path,
// which acquires one permit per message, and the drain, which acquires all of
// them.
type Pool struct {
	sem      *semaphore.Weighted
	capacity int64
	inFlight atomic.Int64
}

// New creates a pool with the given capacity, which must be at least 1.
func New(capacity int) (*Pool, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("%w: permit pool capacity must be >= 1, got %v", component.ErrIllegalArgument, capacity)
	}
	return &Pool{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: int64(capacity),
	}, nil
}

// Cap returns the capacity of the pool.
func (p *Pool) Cap() int {
	return int(p.capacity)
}

// InFlight returns the number of permits currently held.
func (p *Pool) InFlight() int {
	return int(p.inFlight.Load())
}

// Available returns the number of permits that could be acquired right now.
func (p *Pool) Available() int {
	return int(p.capacity - p.inFlight.Load())
}

// Acquire blocks until a permit is available. An error wrapping
// component.ErrTermination is returned when ctx ends first.
func (p *Pool) Acquire(ctx context.Context) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return component.TerminationError("processing permit", err)
	}
	p.inFlight.Add(1)
	return nil
}

// TryAcquire obtains a permit without blocking, returning false when none is
// available.
func (p *Pool) TryAcquire() bool {
	if !p.sem.TryAcquire(1) {
		return false
	}
	p.inFlight.Add(1)
	return true
}

// Release returns a permit obtained with Acquire.
func (p *Pool) Release() {
	p.inFlight.Add(-1)
	p.sem.Release(1)
}

// Do runs fn while holding a permit. The permit is released even when fn
// panics.
func (p *Pool) Do(ctx context.Context, fn func()) error {
	if err := p.Acquire(ctx); err != nil {
		return err
	}
	defer p.Release()
	fn()
	return nil
}

// AcquireAll blocks until every permit has been obtained, which proves that no
// work holding a permit is still running.
func (p *Pool) AcquireAll(ctx context.Context) error {
	if err := p.sem.Acquire(ctx, p.capacity); err != nil {
		return component.TerminationError("all processing permits", err)
	}
	p.inFlight.Add(p.capacity)
	return nil
}

// ReleaseAll returns the permits obtained with AcquireAll.
func (p *Pool) ReleaseAll() {
	p.inFlight.Add(-p.capacity)
	p.sem.Release(p.capacity)
}
