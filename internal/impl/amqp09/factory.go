// Package amqp09 implements queues and the command channel on top of an AMQP
// 0.9.1 broker such as RabbitMQ.
package amqp09

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/benchlane/benchcore/internal/config"
	"github.com/benchlane/benchcore/internal/log"
	"github.com/benchlane/benchcore/internal/queue"
)

var errAMQP09Connect = errors.New("failed to connect to server")

// Factory holds a broker connection and creates queue handles on it, each
// handle with a channel of its own.
type Factory struct {
	conf config.BrokerConfig
	log  log.Modular

	mut  sync.Mutex
	conn *amqp.Connection
}

// NewFactory connects to the first reachable broker URL. Connecting is retried
// with an exponential backoff until the configured connect timeout elapses or
// ctx ends.
func NewFactory(ctx context.Context, conf config.BrokerConfig, logger log.Modular) (*Factory, error) {
	if len(conf.URLs) == 0 {
		return nil, errors.New("at least one broker url is required")
	}
	if logger == nil {
		logger = log.Noop()
	}
	f := &Factory{conf: conf, log: logger}

	boff := backoff.NewExponentialBackOff()
	boff.InitialInterval = time.Millisecond * 500
	boff.MaxInterval = time.Second * 10
	boff.MaxElapsedTime = conf.ConnectTimeout

	var conn *amqp.Connection
	var connectedURL string
	err := backoff.RetryNotify(func() error {
		var err error
		if conn, connectedURL, err = f.reDial(conf.URLs); err != nil {
			if errors.Is(err, errAMQP09Connect) {
				return err
			}
			return backoff.Permanent(err)
		}
		return nil
	}, backoff.WithContext(boff, ctx), func(err error, next time.Duration) {
		logger.Warnf("Failed to connect to broker, retrying in %v: %v", next, err)
	})
	if err != nil {
		return nil, err
	}

	f.conn = conn
	logger.Infof("Connected to broker at %v", redactURL(connectedURL))
	return f, nil
}

// reDial connection to amqp with one or more fallback URLs.
func (f *Factory) reDial(urls []string) (conn *amqp.Connection, connectedURL string, err error) {
	for _, u := range urls {
		conn, err = f.dial(u)
		if err != nil {
			if errors.Is(err, errAMQP09Connect) {
				continue
			}
			break
		}
		return conn, u, nil
	}
	return nil, "", err
}

// dial attempts to connect to amqp URL.
func (f *Factory) dial(amqpURL string) (*amqp.Connection, error) {
	if _, err := url.Parse(amqpURL); err != nil {
		return nil, fmt.Errorf("invalid AMQP URL: %w", err)
	}
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errAMQP09Connect, err)
	}
	return conn, nil
}

func redactURL(s string) string {
	u, err := url.Parse(s)
	if err != nil || u.User == nil {
		return s
	}
	return u.Redacted()
}

func (f *Factory) channel() (*amqp.Channel, error) {
	f.mut.Lock()
	conn := f.conn
	f.mut.Unlock()
	if conn == nil {
		return nil, queue.ErrClosed
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, mapErr(err)
	}
	return ch, nil
}

// CreateQueue declares a queue on the default exchange and returns a handle to
// it. The channel of the handle is put into confirm mode so that publishes
// can be awaited.
func (f *Factory) CreateQueue(ctx context.Context, name string) (queue.Queue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ch, err := f.channel()
	if err != nil {
		return nil, err
	}

	if _, err := ch.QueueDeclare(
		name,              // name of the queue
		f.conf.Persistent, // durable
		false,             // delete when unused
		false,             // exclusive
		false,             // noWait
		nil,               // arguments
	); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("queue declare: %w", mapErr(err))
	}

	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("amqp channel could not be put into confirm mode: %w", mapErr(err))
	}

	deliveryMode := amqp.Transient
	if f.conf.Persistent {
		deliveryMode = amqp.Persistent
	}
	return &Queue{
		name:         name,
		ch:           ch,
		closed:       make(chan struct{}),
		durable:      f.conf.Persistent,
		deliveryMode: deliveryMode,
		log:          f.log.With("queue", name),
	}, nil
}

// Close closes the broker connection, every handle created by the factory
// fails with queue.ErrClosed afterwards. Calling Close more than once is safe.
func (f *Factory) Close() error {
	f.mut.Lock()
	defer f.mut.Unlock()

	if f.conn == nil {
		return nil
	}
	err := f.conn.Close()
	f.conn = nil
	if err != nil && !errors.Is(err, amqp.ErrClosed) {
		return err
	}
	return nil
}

// mapErr translates errors caused by closed channels or connections into
// queue.ErrClosed.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var aErr *amqp.Error
	if errors.Is(err, amqp.ErrClosed) || (errors.As(err, &aErr) && aErr.Code == amqp.ChannelError) {
		return fmt.Errorf("%w: %w", queue.ErrClosed, err)
	}
	return err
}
