// Package consumer processes the messages of an inbound queue with a bounded
// number of concurrent callbacks and drains gracefully once input has ended.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Jeffail/shutdown"

	"github.com/benchlane/benchcore/internal/component"
	"github.com/benchlane/benchcore/internal/drain"
	"github.com/benchlane/benchcore/internal/log"
	"github.com/benchlane/benchcore/internal/metrics"
	"github.com/benchlane/benchcore/internal/permit"
	"github.com/benchlane/benchcore/internal/queue"
)

// DefaultPollTimeout is how long the strict mode loop waits for a delivery
// before checking whether it should stop.
const DefaultPollTimeout = time.Second * 3

// ProcessFunc handles the body of a single message. A returned error (or a
// panic) is logged and counted, it does not stop the consumer.
type ProcessFunc func(ctx context.Context, body []byte) error

// Option configures a Consumer.
type Option func(c *Consumer)

// OptPollTimeout sets the bounded wait of the strict mode loop.
func OptPollTimeout(d time.Duration) Option {
	return func(c *Consumer) {
		if d > 0 {
			c.pollTimeout = d
		}
	}
}

// OptDrainInterval sets the period between queue depth checks while draining.
func OptDrainInterval(d time.Duration) Option {
	return func(c *Consumer) {
		if d > 0 {
			c.drainInterval = d
		}
	}
}

// OptLogger sets the logger of the consumer.
func OptLogger(l log.Modular) Option {
	return func(c *Consumer) {
		c.log = l
	}
}

// OptMetrics sets the collectors the consumer reports to.
func OptMetrics(m *metrics.Prometheus) Option {
	return func(c *Consumer) {
		c.metrics = m
	}
}

// Consumer processes the deliveries of a queue. With a max parallelism of one
// messages are processed synchronously in arrival order, otherwise up to that
// many callbacks run at once, each holding a permit of a shared pool.
type Consumer struct {
	q           queue.Queue
	maxParallel int
	fn          ProcessFunc

	pollTimeout   time.Duration
	drainInterval time.Duration
	log           log.Modular
	metrics       *metrics.Prometheus
	stats         *metrics.QueueStats

	permits *permit.Pool
	shutSig *shutdown.Signaller

	processed atomic.Int64
	failed    atomic.Int64
	running   atomic.Int64

	startMut     sync.Mutex
	started      bool
	stopDispatch context.CancelFunc
	dispatchDone chan struct{}

	closeOnce sync.Once
	drainErr  error
}

// New creates a consumer of q. The consumer takes ownership of q and closes it
// when it is closed. An error wrapping component.ErrIllegalArgument is
// returned when maxParallel is less than one or fn is nil.
func New(q queue.Queue, maxParallel int, fn ProcessFunc, opts ...Option) (*Consumer, error) {
	if maxParallel < 1 {
		return nil, fmt.Errorf("%w: max parallel must be >= 1, got %v", component.ErrIllegalArgument, maxParallel)
	}
	if q == nil {
		return nil, fmt.Errorf("%w: a queue is required", component.ErrIllegalArgument)
	}
	if fn == nil {
		return nil, fmt.Errorf("%w: a processing func is required", component.ErrIllegalArgument)
	}

	permits, err := permit.New(maxParallel)
	if err != nil {
		return nil, err
	}

	c := &Consumer{
		q:             q,
		maxParallel:   maxParallel,
		fn:            fn,
		pollTimeout:   DefaultPollTimeout,
		drainInterval: drain.DefaultInterval,
		log:           log.Noop(),
		permits:       permits,
		shutSig:       shutdown.NewSignaller(),
		dispatchDone:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.stats = c.metrics.Queue(q.Name())
	c.log = c.log.With("queue", q.Name())
	return c, nil
}

// Processed returns the number of messages handled successfully.
func (c *Consumer) Processed() int64 {
	return c.processed.Load()
}

// Failed returns the number of messages whose callback failed.
func (c *Consumer) Failed() int64 {
	return c.failed.Load()
}

// InFlight returns the number of callbacks currently running.
func (c *Consumer) InFlight() int {
	return int(c.running.Load())
}

// Start registers with the broker and begins processing deliveries. The broker
// is allowed as many unacknowledged deliveries as the max parallelism. Calling
// Start more than once has no effect.
func (c *Consumer) Start(ctx context.Context) error {
	c.startMut.Lock()
	defer c.startMut.Unlock()
	if c.started {
		return nil
	}
	if c.shutSig.IsHardStopSignalled() {
		return component.ErrTypeClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	dispatchCtx, stopDispatch := c.shutSig.HardStopCtx(context.Background())
	deliveries, err := c.q.Consume(dispatchCtx, c.maxParallel)
	if err != nil {
		stopDispatch()
		return fmt.Errorf("failed to consume queue %v: %w", c.q.Name(), err)
	}
	c.stopDispatch = stopDispatch
	c.started = true

	if c.maxParallel == 1 {
		go c.loopStrict(deliveries)
	} else {
		go c.loopConcurrent(deliveries)
		go c.awaitDrain()
	}
	c.log.Debugf("Consuming with max parallelism %v", c.maxParallel)
	return nil
}

// Stop flags that no further input is expected, after which the consumer
// drains the queue and finishes. Calling Stop more than once is safe.
func (c *Consumer) Stop() {
	c.shutSig.TriggerSoftStop()
}

// Wait blocks until the consumer has drained: the queue reported zero depth
// and no callback is running anymore. An error wrapping
// component.ErrTermination is returned if ctx ends first.
func (c *Consumer) Wait(ctx context.Context) error {
	select {
	case <-c.shutSig.HasStoppedChan():
		return c.drainErr
	case <-ctx.Done():
		return component.TerminationError(fmt.Sprintf("queue %v to drain", c.q.Name()), ctx.Err())
	}
}

// Close stops consumption immediately, abandoning any drain in progress, and
// closes the queue. Unacknowledged deliveries are returned to the broker, so
// callbacks still running may lead to messages being processed twice. Calling
// Close more than once is safe.
func (c *Consumer) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.startMut.Lock()
		c.shutSig.TriggerSoftStop()
		c.shutSig.TriggerHardStop()
		if !c.started {
			c.shutSig.TriggerHasStopped()
		}
		c.startMut.Unlock()

		if err = c.q.Close(); errors.Is(err, queue.ErrClosed) {
			err = nil
		}
	})
	return err
}

func (c *Consumer) finish(err error) {
	if err != nil && !c.shutSig.IsHardStopSignalled() {
		c.log.Errorf("Failed to drain: %v", err)
	}
	c.drainErr = err
	c.shutSig.TriggerHasStopped()
}

//------------------------------------------------------------------------------

// loopStrict waits for deliveries with a bounded timeout and processes each one
// before waiting for the next. It ends once a wait that began after Stop was
// called produced nothing and the queue reports zero depth.
func (c *Consumer) loopStrict(deliveries <-chan queue.Delivery) {
	ctx, done := c.shutSig.HardStopCtx(context.Background())
	defer done()

	start := time.Time{}
	for {
		stopped := c.shutSig.IsSoftStopSignalled()
		if stopped && start.IsZero() {
			start = time.Now()
		}

		var softStopChan <-chan struct{}
		if !stopped {
			softStopChan = c.shutSig.SoftStopChan()
		}

		select {
		case d, open := <-deliveries:
			if !open {
				c.finishStrict(ctx, nil, stopped, start)
				return
			}
			c.handleWithPermit(ctx, d)
			continue
		case <-softStopChan:
			// Restart the wait so that it counts as one begun after the stop.
			continue
		case <-time.After(c.pollTimeout):
		case <-ctx.Done():
			c.finish(component.TerminationError(fmt.Sprintf("queue %v to drain", c.q.Name()), ctx.Err()))
			return
		}

		if !stopped {
			continue
		}

		n, err := c.q.MessageCount(ctx)
		if err != nil {
			if errors.Is(err, component.ErrResource) {
				c.log.Debugf("Queue was closed while checking its depth, assuming it has been consumed: %v", err)
				c.finishStrict(ctx, deliveries, stopped, start)
				return
			}
			c.log.Warnf("Failed to check queue depth: %v", err)
			continue
		}
		if n == 0 {
			c.finishStrict(ctx, deliveries, stopped, start)
			return
		}
	}
}

// finishStrict cancels the broker consumer and processes anything that was
// already buffered on the client before the channel closed.
func (c *Consumer) finishStrict(ctx context.Context, deliveries <-chan queue.Delivery, stopped bool, start time.Time) {
	c.stopDispatch()
	if deliveries != nil {
		for d := range deliveries {
			c.handleWithPermit(ctx, d)
		}
	}
	if !stopped {
		c.finish(fmt.Errorf("delivery channel of queue %v closed unexpectedly: %w", c.q.Name(), queue.ErrClosed))
		return
	}
	c.stats.ObserveDrain(start)
	c.finish(nil)
}

// loopConcurrent claims a permit for every delivery before handing it to a
// goroutine, blocking the dispatch of further deliveries while the pool is
// exhausted.
func (c *Consumer) loopConcurrent(deliveries <-chan queue.Delivery) {
	defer close(c.dispatchDone)

	ctx, done := c.shutSig.HardStopCtx(context.Background())
	defer done()

	for d := range deliveries {
		if err := c.permits.Acquire(ctx); err != nil {
			c.log.Debugf("Abandoning delivery %v: %v", d.Tag, err)
			return
		}
		c.stats.InFlight.Inc()
		go func(d queue.Delivery) {
			defer func() {
				c.stats.InFlight.Dec()
				c.permits.Release()
			}()
			c.handle(ctx, d)
		}(d)
	}
}

// awaitDrain waits for the end of input and then runs the drain.
func (c *Consumer) awaitDrain() {
	select {
	case <-c.shutSig.SoftStopChan():
	case <-c.shutSig.HardStopChan():
	}

	ctx, done := c.shutSig.HardStopCtx(context.Background())
	defer done()

	coord := &drain.Coordinator{
		Queue:    c.q,
		Permits:  c.permits,
		Interval: c.drainInterval,
		StopDispatch: func(ctx context.Context) error {
			c.stopDispatch()
			select {
			case <-c.dispatchDone:
				return nil
			case <-ctx.Done():
				return component.TerminationError(fmt.Sprintf("dispatch of queue %v to stop", c.q.Name()), ctx.Err())
			}
		},
		Log:   c.log,
		Stats: c.stats,
	}
	c.finish(coord.Drain(ctx))
}

//------------------------------------------------------------------------------

func (c *Consumer) handleWithPermit(ctx context.Context, d queue.Delivery) {
	_ = c.permits.Do(context.Background(), func() {
		c.stats.InFlight.Inc()
		defer c.stats.InFlight.Dec()
		c.handle(ctx, d)
	})
}

func (c *Consumer) handle(ctx context.Context, d queue.Delivery) {
	c.running.Add(1)
	defer c.running.Add(-1)

	if err := c.invoke(ctx, d.Body); err != nil {
		c.failed.Add(1)
		c.stats.Failed.Inc()
		c.log.Errorf("Failed to process message: %v", err)
	} else {
		c.processed.Add(1)
		c.stats.Processed.Inc()
	}
	if err := d.Ack(); err != nil {
		c.log.Warnf("Failed to acknowledge message: %v", err)
	}
}

func (c *Consumer) invoke(ctx context.Context, body []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = component.PanicError(r)
		}
	}()
	if err = c.fn(ctx, body); err != nil {
		err = component.ProcessingError(err)
	}
	return
}
