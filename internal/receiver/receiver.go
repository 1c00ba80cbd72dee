// Package receiver wires a data handler to an inbound queue with a bounded
// worker pool, for components that ingest data forwarded by the generators.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Jeffail/shutdown"
	"github.com/sourcegraph/conc/pool"

	"github.com/benchlane/benchcore/internal/component"
	"github.com/benchlane/benchcore/internal/drain"
	"github.com/benchlane/benchcore/internal/log"
	"github.com/benchlane/benchcore/internal/metrics"
	"github.com/benchlane/benchcore/internal/permit"
	"github.com/benchlane/benchcore/internal/queue"
)

// DefaultMaxParallel is the number of handlers that may run at once when the
// config does not say otherwise.
const DefaultMaxParallel = 50

// Handler processes the body of one received message.
type Handler func(ctx context.Context, data []byte) error

// Config describes a receiver. Either Queue, or both Factory and QueueName,
// must be set.
type Config struct {
	// Queue is an existing queue to consume. The receiver takes ownership of
	// it.
	Queue queue.Queue

	// Factory and QueueName are used to create the queue when Queue is nil.
	Factory   queue.Factory
	QueueName string

	Handler Handler

	// MaxParallel limits the number of concurrent handler calls, zero means
	// DefaultMaxParallel.
	MaxParallel int

	// DrainInterval is the period between queue depth checks while closing,
	// zero means drain.DefaultInterval.
	DrainInterval time.Duration

	Metrics *metrics.Prometheus
}

func (c Config) validate() error {
	if c.Handler == nil {
		return fmt.Errorf("%w: a data handler is required", component.ErrIllegalArgument)
	}
	if c.Queue == nil && (c.Factory == nil || c.QueueName == "") {
		return fmt.Errorf("%w: either a queue or a queue factory and name are required", component.ErrIllegalArgument)
	}
	if c.MaxParallel < 0 {
		return fmt.Errorf("%w: max parallel must be >= 1, got %v", component.ErrIllegalArgument, c.MaxParallel)
	}
	return nil
}

// Receiver consumes a queue and calls its handler for every message, running
// at most MaxParallel handlers at once.
type Receiver struct {
	q       queue.Queue
	handler Handler
	log     log.Modular
	stats   *metrics.QueueStats

	maxParallel   int
	drainInterval time.Duration
	workers       *pool.Pool
	permits       *permit.Pool
	shutSig       *shutdown.Signaller

	stopDispatch context.CancelFunc
	dispatchDone chan struct{}

	errorCount atomic.Int64

	closeMut sync.Mutex
	closed   bool
}

// New validates conf, creates the queue when needed and starts consuming. A
// queue created by New is closed again when consumption cannot be started.
func New(ctx context.Context, conf Config, logger log.Modular) (*Receiver, error) {
	if err := conf.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Noop()
	}

	maxParallel := conf.MaxParallel
	if maxParallel == 0 {
		maxParallel = DefaultMaxParallel
	}

	q := conf.Queue
	if q == nil {
		var err error
		if q, err = conf.Factory.CreateQueue(ctx, conf.QueueName); err != nil {
			return nil, fmt.Errorf("failed to create queue %v: %w", conf.QueueName, err)
		}
	}

	permits, err := permit.New(maxParallel)
	if err != nil {
		_ = q.Close()
		return nil, err
	}

	r := &Receiver{
		q:             q,
		handler:       conf.Handler,
		log:           logger.With("queue", q.Name()),
		stats:         conf.Metrics.Queue(q.Name()),
		maxParallel:   maxParallel,
		drainInterval: conf.DrainInterval,
		workers:       pool.New().WithMaxGoroutines(maxParallel + 1),
		permits:       permits,
		shutSig:       shutdown.NewSignaller(),
		dispatchDone:  make(chan struct{}),
	}

	dispatchCtx, stopDispatch := r.shutSig.HardStopCtx(context.Background())
	deliveries, err := q.Consume(dispatchCtx, maxParallel)
	if err != nil {
		stopDispatch()
		_ = q.Close()
		return nil, fmt.Errorf("failed to consume queue %v: %w", q.Name(), err)
	}
	r.stopDispatch = stopDispatch

	r.workers.Go(func() {
		r.dispatch(deliveries)
	})
	return r, nil
}

// ErrorCount returns the number of handler failures observed so far.
func (r *Receiver) ErrorCount() int64 {
	return r.errorCount.Load()
}

// Name returns the name of the consumed queue.
func (r *Receiver) Name() string {
	return r.q.Name()
}

func (r *Receiver) dispatch(deliveries <-chan queue.Delivery) {
	defer close(r.dispatchDone)

	ctx, done := r.shutSig.HardStopCtx(context.Background())
	defer done()

	for d := range deliveries {
		if err := r.permits.Acquire(ctx); err != nil {
			return
		}
		r.stats.InFlight.Inc()
		r.workers.Go(func() {
			defer func() {
				r.stats.InFlight.Dec()
				r.permits.Release()
			}()
			r.handle(ctx, d)
		})
	}
}

func (r *Receiver) handle(ctx context.Context, d queue.Delivery) {
	if err := r.invoke(ctx, d.Body); err != nil {
		r.errorCount.Add(1)
		r.stats.Failed.Inc()
		r.log.Errorf("Failed to handle received data: %v", err)
	} else {
		r.stats.Processed.Inc()
	}
	if err := d.Ack(); err != nil {
		r.log.Warnf("Failed to acknowledge message: %v", err)
	}
}

func (r *Receiver) invoke(ctx context.Context, data []byte) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = component.PanicError(p)
		}
	}()
	if err = r.handler(ctx, data); err != nil {
		err = component.ProcessingError(err)
	}
	return
}

// CloseWhenFinished signals that no further data is expected, waits for the
// queue to be emptied and every handler to return, and then closes the queue.
// When ctx ends first an error wrapping component.ErrTermination is returned
// and the receiver stays open, Close can then be used to abandon it.
func (r *Receiver) CloseWhenFinished(ctx context.Context) error {
	r.closeMut.Lock()
	if r.closed {
		r.closeMut.Unlock()
		return nil
	}
	r.closeMut.Unlock()

	r.shutSig.TriggerSoftStop()
	coord := &drain.Coordinator{
		Queue:    r.q,
		Permits:  r.permits,
		Interval: r.drainInterval,
		StopDispatch: func(ctx context.Context) error {
			r.stopDispatch()
			select {
			case <-r.dispatchDone:
				return nil
			case <-ctx.Done():
				return component.TerminationError(fmt.Sprintf("dispatch of queue %v to stop", r.q.Name()), ctx.Err())
			}
		},
		Log:   r.log,
		Stats: r.stats,
	}
	if err := coord.Drain(ctx); err != nil {
		return err
	}
	r.workers.Wait()
	return r.Close()
}

// Close stops the receiver immediately and closes the queue without waiting
// for running handlers. Messages whose handlers are abandoned are returned to
// the broker unacknowledged, or lost when the handler had side effects. Use
// CloseWhenFinished unless shutting down after a fatal error. Calling Close
// more than once is safe.
func (r *Receiver) Close() error {
	r.closeMut.Lock()
	defer r.closeMut.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	r.shutSig.TriggerSoftStop()
	r.shutSig.TriggerHardStop()
	if err := r.q.Close(); err != nil && !errors.Is(err, queue.ErrClosed) {
		return err
	}
	r.shutSig.TriggerHasStopped()
	return nil
}
