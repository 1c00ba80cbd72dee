// Package queue defines the broker queue abstraction consumed by components,
// along with an in-memory implementation.
package queue

import (
	"context"
	"fmt"

	"github.com/benchlane/benchcore/internal/component"
)

// ErrClosed is returned by queue operations once the queue handle or the
// underlying broker connection has been closed.
var ErrClosed = fmt.Errorf("%w: queue or connection already closed", component.ErrResource)

// Delivery is a single message handed out by a queue consumer.
type Delivery struct {
	Body []byte
	Tag  uint64

	ack func() error
}

// NewDelivery creates a delivery with an acknowledgement function. A nil ack
// func results in a delivery that needs no acknowledgement.
func NewDelivery(body []byte, tag uint64, ack func() error) Delivery {
	return Delivery{Body: body, Tag: tag, ack: ack}
}

// Ack tells the broker that the delivery has been handled.
func (d Delivery) Ack() error {
	if d.ack == nil {
		return nil
	}
	return d.ack()
}

// Queue is a handle to a named broker queue. A handle is exclusively owned by
// the consumer or sender that created it.
type Queue interface {
	// Name returns the name of the queue.
	Name() string

	// MessageCount returns the number of messages ready for delivery. Messages
	// already handed to a consumer are not counted. Returns an error wrapping
	// ErrClosed once the handle or connection is closed.
	MessageCount(ctx context.Context) (int, error)

	// Publish sends a message and blocks until the broker has accepted it.
	Publish(ctx context.Context, body []byte) error

	// Consume starts a consumer that is allowed at most prefetch
	// unacknowledged deliveries (zero means unlimited). Cancelling ctx cancels
	// the consumer, after which the returned channel is closed once any
	// buffered deliveries have been read.
	Consume(ctx context.Context, prefetch int) (<-chan Delivery, error)

	// Close releases the handle. Unacknowledged deliveries are returned to the
	// queue. Calling Close more than once is safe.
	Close() error
}

// Factory creates queue handles by name.
type Factory interface {
	CreateQueue(ctx context.Context, name string) (Queue, error)
}

// FactoryFunc adapts a function into a Factory.
type FactoryFunc func(ctx context.Context, name string) (Queue, error)

// CreateQueue calls f(ctx, name).
func (f FactoryFunc) CreateQueue(ctx context.Context, name string) (Queue, error) {
	return f(ctx, name)
}
