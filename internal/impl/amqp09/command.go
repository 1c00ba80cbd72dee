package amqp09

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"

	"github.com/benchlane/benchcore/internal/command"
	"github.com/benchlane/benchcore/internal/log"
)

// CommandBus is the control channel of a session: a fanout exchange that every
// component binds an exclusive queue to. Commands of other sessions sharing the
// exchange are dropped.
type CommandBus struct {
	exchange  string
	sessionID string
	log       log.Modular

	pubCh *amqp.Channel
	subCh *amqp.Channel

	pubMut sync.Mutex

	rcvMut    sync.RWMutex
	receivers []command.Receiver

	eg        errgroup.Group
	closeOnce sync.Once
}

// CommandBus declares the command exchange and binds an exclusive queue to it
// for receiving the commands of the given session.
func (f *Factory) CommandBus(ctx context.Context, sessionID string) (*CommandBus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	exchange := f.conf.CommandExchange
	b := &CommandBus{
		exchange:  exchange,
		sessionID: sessionID,
		log:       f.log.With("exchange", exchange),
	}

	var err error
	if b.pubCh, err = f.channel(); err != nil {
		return nil, err
	}
	if b.subCh, err = f.channel(); err != nil {
		_ = b.pubCh.Close()
		return nil, err
	}

	consumerChan, err := b.declare()
	if err != nil {
		_ = b.pubCh.Close()
		_ = b.subCh.Close()
		return nil, err
	}

	b.eg.Go(func() error {
		b.loop(consumerChan)
		return nil
	})
	return b, nil
}

func (b *CommandBus) declare() (<-chan amqp.Delivery, error) {
	if err := b.pubCh.ExchangeDeclare(
		b.exchange, // name of the exchange
		"fanout",   // type
		false,      // durable
		true,       // delete when complete
		false,      // internal
		false,      // noWait
		nil,        // arguments
	); err != nil {
		return nil, fmt.Errorf("amqp failed to declare exchange: %w", mapErr(err))
	}

	q, err := b.subCh.QueueDeclare(
		"",    // server named
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // noWait
		nil,   // arguments
	)
	if err != nil {
		return nil, fmt.Errorf("queue declare: %w", mapErr(err))
	}

	if err := b.subCh.QueueBind(
		q.Name,     // name of the queue
		"",         // bindingKey
		b.exchange, // sourceExchange
		false,      // noWait
		nil,        // arguments
	); err != nil {
		return nil, fmt.Errorf("queue bind: %w", mapErr(err))
	}

	consumerChan, err := b.subCh.Consume(
		q.Name, // name
		"",     // consumerTag,
		true,   // autoAck
		true,   // exclusive
		false,  // noLocal
		false,  // noWait
		nil,    // arguments
	)
	if err != nil {
		return nil, fmt.Errorf("queue consume: %w", mapErr(err))
	}
	return consumerChan, nil
}

func (b *CommandBus) loop(consumerChan <-chan amqp.Delivery) {
	for d := range consumerChan {
		sessionID, cmd, err := command.Decode(d.Body)
		if err != nil {
			b.log.Warnf("Ignoring command: %v", err)
			continue
		}
		if sessionID != b.sessionID {
			continue
		}
		if !cmd.Tag.Known() {
			b.log.Tracef("Received command with unknown tag %v", cmd.Tag)
		}

		b.rcvMut.RLock()
		receivers := b.receivers
		b.rcvMut.RUnlock()
		for _, r := range receivers {
			r.ReceiveCommand(cmd)
		}
	}
}

// Subscribe registers a receiver for the commands of the session.
func (b *CommandBus) Subscribe(r command.Receiver) {
	b.rcvMut.Lock()
	b.receivers = append(b.receivers[:len(b.receivers):len(b.receivers)], r)
	b.rcvMut.Unlock()
}

// SendCommand publishes cmd to every component of the session.
func (b *CommandBus) SendCommand(ctx context.Context, cmd command.Command) error {
	b.pubMut.Lock()
	defer b.pubMut.Unlock()

	if err := b.pubCh.PublishWithContext(
		ctx,
		b.exchange, // publish to an exchange
		"",         // routing to 0 or more queues
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			Body: command.Encode(b.sessionID, cmd),
		},
	); err != nil {
		return fmt.Errorf("failed to send command %v: %w", cmd.Tag, mapErr(err))
	}
	return nil
}

// Close closes both channels of the bus and waits for the receiving loop to
// end. Calling Close more than once is safe.
func (b *CommandBus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		for _, ch := range []*amqp.Channel{b.subCh, b.pubCh} {
			if cErr := ch.Close(); cErr != nil && !errors.Is(cErr, amqp.ErrClosed) {
				err = errors.Join(err, cErr)
			}
		}
		_ = b.eg.Wait()
	})
	return err
}

var _ command.Transport = (*CommandBus)(nil)
