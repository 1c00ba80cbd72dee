// Package drain decides when a component may release its resources: only once
// its inbound queue is empty and every processing permit has been returned.
package drain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benchlane/benchcore/internal/component"
	"github.com/benchlane/benchcore/internal/log"
	"github.com/benchlane/benchcore/internal/metrics"
	"github.com/benchlane/benchcore/internal/permit"
	"github.com/benchlane/benchcore/internal/queue"
)

// DefaultInterval is the period between two queue depth checks.
const DefaultInterval = time.Second

// Depther is the part of a queue consulted by a drain.
type Depther interface {
	Name() string
	MessageCount(ctx context.Context) (int, error)
}

// WaitForEmpty polls the depth of q every interval until it reports zero
// messages. A queue that has already been closed is assumed to be drained,
// since that only happens once shutdown has begun elsewhere. Any other depth
// error is logged and polling continues.
func WaitForEmpty(ctx context.Context, q Depther, interval time.Duration, logger log.Modular) error {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = log.Noop()
	}
	for {
		n, err := q.MessageCount(ctx)
		switch {
		case err == nil && n == 0:
			return nil
		case err == nil:
			logger.Tracef("Waiting for %v remaining messages of queue %v", n, q.Name())
		case errors.Is(err, component.ErrResource):
			logger.Debugf("Queue %v was closed while checking its depth, assuming it has been consumed: %v", q.Name(), err)
			return nil
		case ctx.Err() == nil:
			logger.Warnf("Failed to check depth of queue %v: %v", q.Name(), err)
		}

		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return component.TerminationError(fmt.Sprintf("queue %v to empty", q.Name()), ctx.Err())
		}
	}
}

// Coordinator runs the two phase drain of a consumer. Phase one waits for the
// queue to report zero depth. StopDispatch, when set, is then called to stop
// the broker handing out further deliveries and must return only once every
// delivery already received has claimed a permit. Phase two acquires every
// permit of the pool, which blocks until all running callbacks have returned.
type Coordinator struct {
	Queue        Depther
	Permits      *permit.Pool
	Interval     time.Duration
	StopDispatch func(ctx context.Context) error

	Log   log.Modular
	Stats *metrics.QueueStats
}

// Drain blocks until it is safe to release the resources of the consumer. The
// permits are kept after a successful drain so that no further work can start.
func (c *Coordinator) Drain(ctx context.Context) error {
	start := time.Now()
	logger := c.Log
	if logger == nil {
		logger = log.Noop()
	}

	if err := WaitForEmpty(ctx, c.Queue, c.Interval, logger); err != nil {
		return err
	}
	logger.Debugf("Queue %v is empty", c.Queue.Name())

	if c.StopDispatch != nil {
		if err := c.StopDispatch(ctx); err != nil {
			return err
		}
	}

	if c.Permits != nil {
		if n := c.Permits.InFlight(); n > 0 {
			logger.Debugf("Waiting for %v in flight messages of queue %v", n, c.Queue.Name())
		}
		if err := c.Permits.AcquireAll(ctx); err != nil {
			return err
		}
	}

	if c.Stats != nil {
		c.Stats.ObserveDrain(start)
	}
	logger.Debugf("Drained queue %v in %v", c.Queue.Name(), time.Since(start))
	return nil
}

var _ Depther = queue.Queue(nil)
