package amqp09

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gofrs/uuid/v5"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/benchlane/benchcore/internal/log"
	"github.com/benchlane/benchcore/internal/queue"
)

// Queue is a handle to a queue of the default exchange with its own channel.
type Queue struct {
	name         string
	durable      bool
	deliveryMode uint8
	log          log.Modular

	// Publishes on a channel in confirm mode are confirmed in order, holding
	// the lock until the confirmation keeps sends ordered.
	publishMut sync.Mutex

	closeMut sync.Mutex
	ch       *amqp.Channel
	closed   chan struct{}
}

func (q *Queue) channel() (*amqp.Channel, error) {
	q.closeMut.Lock()
	defer q.closeMut.Unlock()
	if q.ch == nil || q.ch.IsClosed() {
		return nil, queue.ErrClosed
	}
	return q.ch, nil
}

// Name returns the queue name.
func (q *Queue) Name() string {
	return q.name
}

// MessageCount returns the number of messages ready for delivery, as reported
// by a passive declare of the queue.
func (q *Queue) MessageCount(context.Context) (int, error) {
	ch, err := q.channel()
	if err != nil {
		return 0, err
	}
	state, err := ch.QueueDeclarePassive(
		q.name,    // name of the queue
		q.durable, // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // noWait
		nil,       // arguments
	)
	if err != nil {
		var aErr *amqp.Error
		if errors.As(err, &aErr) && aErr.Code == amqp.NotFound {
			return 0, fmt.Errorf("%w: %w", queue.ErrClosed, err)
		}
		return 0, mapErr(err)
	}
	return state.Messages, nil
}

// Publish sends body to the queue and waits for the broker to confirm it.
func (q *Queue) Publish(ctx context.Context, body []byte) error {
	ch, err := q.channel()
	if err != nil {
		return err
	}

	q.publishMut.Lock()
	defer q.publishMut.Unlock()

	conf, err := ch.PublishWithDeferredConfirmWithContext(
		ctx,
		"",     // default exchange
		q.name, // routing key
		false,  // mandatory
		false,  // immediate
		amqp.Publishing{
			Body:         body,
			DeliveryMode: q.deliveryMode, // 1=non-persistent, 2=persistent
		},
	)
	if err != nil {
		return mapErr(err)
	}

	acked, err := conf.WaitContext(ctx)
	if err != nil {
		return mapErr(err)
	}
	if !acked {
		return fmt.Errorf("message to %v was rejected by the broker", q.name)
	}
	return nil
}

// Consume registers a consumer with manual acknowledgements. The broker is
// allowed prefetch unacknowledged deliveries. Cancelling ctx cancels the
// consumer, deliveries already buffered by the client are still emitted
// before the channel closes.
func (q *Queue) Consume(ctx context.Context, prefetch int) (<-chan queue.Delivery, error) {
	ch, err := q.channel()
	if err != nil {
		return nil, err
	}

	if err := ch.Qos(prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("qos: %w", mapErr(err))
	}

	consumerTag := "benchcore-" + uuid.Must(uuid.NewV4()).String()
	consumerChan, err := ch.Consume(
		q.name,      // name
		consumerTag, // consumerTag,
		false,       // autoAck
		false,       // exclusive
		false,       // noLocal
		false,       // noWait
		nil,         // arguments
	)
	if err != nil {
		return nil, fmt.Errorf("queue consume: %w", mapErr(err))
	}

	out := make(chan queue.Delivery)
	go func() {
		defer close(out)

		cancelled := false
		cancel := func() {
			if cancelled {
				return
			}
			cancelled = true
			if err := ch.Cancel(consumerTag, false); err != nil && !errors.Is(mapErr(err), queue.ErrClosed) {
				q.log.Errorf("Failed to cancel consumer: %v", err)
			}
		}

		done := ctx.Done()
		for {
			var d amqp.Delivery
			var open bool
			select {
			case d, open = <-consumerChan:
			case <-done:
				cancel()
				done = nil
				continue
			}
			if !open {
				return
			}

			select {
			case out <- queue.NewDelivery(d.Body, d.DeliveryTag, func() error {
				return mapErr(d.Ack(false))
			}):
			case <-q.closed:
				return
			}
		}
	}()
	return out, nil
}

// Close closes the channel of the handle, unacknowledged deliveries are
// returned to the queue by the broker. Calling Close more than once is safe.
func (q *Queue) Close() error {
	q.closeMut.Lock()
	defer q.closeMut.Unlock()

	if q.ch == nil {
		return nil
	}
	close(q.closed)
	err := q.ch.Close()
	q.ch = nil
	if err != nil && !errors.Is(err, amqp.ErrClosed) {
		return err
	}
	return nil
}
