package component

import (
	"context"
	"errors"
	"fmt"

	"github.com/benchlane/benchcore/internal/command"
	"github.com/benchlane/benchcore/internal/config"
	"github.com/benchlane/benchcore/internal/drain"
	"github.com/benchlane/benchcore/internal/log"
	"github.com/benchlane/benchcore/internal/queue"
	"github.com/benchlane/benchcore/internal/sender"
)

// DataGeneration is the work of a data generator.
type DataGeneration interface {
	// GenerateData produces the data of the benchmark, sending it with the
	// methods of g. The generator drains once it returns.
	GenerateData(ctx context.Context, g *DataGenerator) error
}

// DataGenerationFunc adapts a function into a DataGeneration.
type DataGenerationFunc func(ctx context.Context, g *DataGenerator) error

// GenerateData calls f(ctx, g).
func (f DataGenerationFunc) GenerateData(ctx context.Context, g *DataGenerator) error {
	return f(ctx, g)
}

// DataGenerator is the producer role of a benchmark. It sends data to the
// task generators and to the system adapter, and finishes once both queues
// have been consumed.
type DataGenerator struct {
	base
	gen DataGeneration

	toTaskGen     queue.Queue
	toSystem      queue.Queue
	taskGenSender *sender.Sender
	systemSender  *sender.Sender
}

// NewDataGenerator creates a data generator running gen.
func NewDataGenerator(gen DataGeneration, opts ...Option) *DataGenerator {
	g := &DataGenerator{gen: gen}
	g.setup(command.DataGeneratorReady, opts)
	return g
}

// State returns the lifecycle state.
func (g *DataGenerator) State() State {
	return g.lifecycle.State()
}

// Identity returns the identity of the instance, available after Init.
func (g *DataGenerator) Identity() config.Identity {
	return g.identity
}

// Logger returns the logger of the generator.
func (g *DataGenerator) Logger() log.Modular {
	return g.log
}

// Init reads the identity of the instance and opens its outbound queues.
func (g *DataGenerator) Init(ctx context.Context) error {
	if g.gen == nil {
		return errors.New("a data generation is required")
	}
	if err := g.init(); err != nil {
		return err
	}

	var err error
	if g.toTaskGen, err = g.createQueue(ctx, config.QueueDataGenToTaskGen); err != nil {
		return err
	}
	g.taskGenSender = sender.New(g.toTaskGen, g.log, sender.OptMetrics(g.res.metrics))
	g.onClose(g.taskGenSender.Close)

	if g.toSystem, err = g.createQueue(ctx, config.QueueDataGenToSystem); err != nil {
		return err
	}
	g.systemSender = sender.New(g.toSystem, g.log, sender.OptMetrics(g.res.metrics))
	g.onClose(g.systemSender.Close)

	g.res.commands.Subscribe(g)
	return nil
}

// ReceiveCommand unblocks Run on the start signal, every other command is
// ignored.
func (g *DataGenerator) ReceiveCommand(cmd Command) {
	switch cmd.Tag {
	case command.DataGeneratorStart:
		g.signalStart()
	default:
	}
}

// SendDataToTaskGenerator sends data to the task generators and returns once
// the broker has accepted it.
func (g *DataGenerator) SendDataToTaskGenerator(ctx context.Context, data []byte) error {
	return g.taskGenSender.Send(ctx, data)
}

// SendDataToSystemAdapter sends data to the system adapter and returns once
// the broker has accepted it.
func (g *DataGenerator) SendDataToSystemAdapter(ctx context.Context, data []byte) error {
	return g.systemSender.Send(ctx, data)
}

// Run announces readiness, waits for the start signal, generates the data and
// then waits for both outbound queues to be consumed.
func (g *DataGenerator) Run(ctx context.Context) error {
	if err := g.awaitStart(ctx); err != nil {
		return err
	}

	g.log.Infoln("Generating data")
	if err := g.gen.GenerateData(ctx, g); err != nil {
		return fmt.Errorf("data generation failed: %w", err)
	}

	if err := g.lifecycle.advance(StateDraining); err != nil {
		return err
	}
	for _, q := range []queue.Queue{g.toTaskGen, g.toSystem} {
		if err := drain.WaitForEmpty(ctx, q, g.res.consumer.DrainInterval, g.log); err != nil {
			return err
		}
	}
	for _, s := range []*sender.Sender{g.taskGenSender, g.systemSender} {
		if err := s.CloseWhenFinished(ctx); err != nil {
			return err
		}
	}
	g.log.Infoln("Data generation finished")
	return nil
}

// Close releases the queues of the generator. It is safe to call more than
// once.
func (g *DataGenerator) Close() error {
	return g.close()
}

var _ Component = (*DataGenerator)(nil)
