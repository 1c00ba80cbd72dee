package component

import (
	"context"

	"github.com/benchlane/benchcore/internal/command"
	"github.com/benchlane/benchcore/internal/log"
	"github.com/benchlane/benchcore/internal/queue"
	"github.com/benchlane/benchcore/internal/receiver"
)

// Command is a tagged signal of the control channel.
type Command = command.Command

// CommandTag identifies a Command.
type CommandTag = command.Tag

// CommandTransport is a control channel commands are sent over and received
// from.
type CommandTransport = command.Transport

// Queue is a handle to a broker queue.
type Queue = queue.Queue

// QueueFactory creates queue handles by name.
type QueueFactory = queue.Factory

// Receiver consumes a queue with a bounded pool of handlers, for components
// such as system adapters and evaluation storages that ingest data forwarded
// by the generators.
type Receiver = receiver.Receiver

// ReceiverConfig describes a Receiver.
type ReceiverConfig = receiver.Config

// NewReceiver validates conf and starts a Receiver.
func NewReceiver(ctx context.Context, conf ReceiverConfig, logger log.Modular) (*Receiver, error) {
	return receiver.New(ctx, conf, logger)
}
