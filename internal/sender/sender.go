// Package sender implements the outbound channel from a component to a
// downstream stage.
package sender

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/benchlane/benchcore/internal/component"
	"github.com/benchlane/benchcore/internal/log"
	"github.com/benchlane/benchcore/internal/metrics"
	"github.com/benchlane/benchcore/internal/queue"
)

// Option configures a Sender.
type Option func(s *Sender)

// OptMetrics sets the collectors the sender reports to.
func OptMetrics(m *metrics.Prometheus) Option {
	return func(s *Sender) {
		s.metrics = m
	}
}

// Sender publishes messages to a queue it owns. Messages are published in the
// order Send was called and each Send returns once the broker has accepted the
// message.
type Sender struct {
	q       queue.Queue
	log     log.Modular
	metrics *metrics.Prometheus
	stats   *metrics.QueueStats

	publishMut sync.Mutex

	stateMut sync.RWMutex
	closing  bool
	pending  sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

// New creates a sender that takes ownership of q.
func New(q queue.Queue, logger log.Modular, opts ...Option) *Sender {
	if logger == nil {
		logger = log.Noop()
	}
	s := &Sender{
		q:   q,
		log: logger.With("queue", q.Name()),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.stats = s.metrics.Queue(q.Name())
	return s
}

// Name returns the name of the target queue.
func (s *Sender) Name() string {
	return s.q.Name()
}

// Send publishes data and blocks until the broker has accepted it. Once
// CloseWhenFinished or Close has been called an error wrapping
// component.ErrTypeClosed is returned.
func (s *Sender) Send(ctx context.Context, data []byte) error {
	s.stateMut.RLock()
	if s.closing {
		s.stateMut.RUnlock()
		return fmt.Errorf("sender of queue %v: %w", s.q.Name(), component.ErrTypeClosed)
	}
	s.pending.Add(1)
	s.stateMut.RUnlock()
	defer s.pending.Done()

	s.publishMut.Lock()
	defer s.publishMut.Unlock()

	if err := s.q.Publish(ctx, data); err != nil {
		return fmt.Errorf("failed to send message to %v: %w", s.q.Name(), err)
	}
	s.stats.Sent.Inc()
	return nil
}

// CloseWhenFinished rejects further sends, waits until every send already in
// progress has been confirmed and then closes the queue. When ctx ends first
// an error wrapping component.ErrTermination is returned and the queue is left
// open, Close can then be used to release it.
func (s *Sender) CloseWhenFinished(ctx context.Context) error {
	s.stateMut.Lock()
	s.closing = true
	s.stateMut.Unlock()

	flushed := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(flushed)
	}()

	select {
	case <-flushed:
	case <-ctx.Done():
		return component.TerminationError(fmt.Sprintf("sends to %v to be confirmed", s.q.Name()), ctx.Err())
	}

	s.log.Debugln("All messages confirmed, closing")
	return s.Close()
}

// Close closes the queue immediately, sends still in progress fail. Calling
// Close more than once is safe.
func (s *Sender) Close() error {
	s.closeOnce.Do(func() {
		s.stateMut.Lock()
		s.closing = true
		s.stateMut.Unlock()

		if err := s.q.Close(); err != nil && !errors.Is(err, queue.ErrClosed) {
			s.closeErr = err
		}
	})
	return s.closeErr
}
