package component

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benchlane/benchcore/internal/codec"
	"github.com/benchlane/benchcore/internal/command"
	"github.com/benchlane/benchcore/internal/component"
	"github.com/benchlane/benchcore/internal/config"
	"github.com/benchlane/benchcore/internal/consumer"
	"github.com/benchlane/benchcore/internal/log"
	"github.com/benchlane/benchcore/internal/sender"
	"github.com/benchlane/benchcore/internal/taskid"
)

// TaskGeneration is the work of a task generator.
type TaskGeneration interface {
	// GenerateTask turns one datum received from the data generators into a
	// task, usually sending it to the system adapter and its expected answer
	// to the evaluation storage. A returned error is logged and does not stop
	// the generator.
	GenerateTask(ctx context.Context, g *TaskGenerator, data []byte) error
}

// TaskGenerationFunc adapts a function into a TaskGeneration.
type TaskGenerationFunc func(ctx context.Context, g *TaskGenerator, data []byte) error

// GenerateTask calls f(ctx, g, data).
func (f TaskGenerationFunc) GenerateTask(ctx context.Context, g *TaskGenerator, data []byte) error {
	return f(ctx, g, data)
}

// TaskGenerator is the consumer role of a benchmark. It turns the data sent
// by the data generators into tasks until it is told that data generation
// has finished, then drains.
type TaskGenerator struct {
	base
	gen         TaskGeneration
	maxParallel int

	ids          *taskid.Allocator
	consumer     *consumer.Consumer
	systemSender *sender.Sender
	evalSender   *sender.Sender

	finishOnce sync.Once
	finishSig  chan struct{}
}

// NewTaskGenerator creates a task generator running gen for every datum, with
// at most maxParallel calls at once. A maxParallel of one processes data one
// at a time in the order it arrived.
func NewTaskGenerator(gen TaskGeneration, maxParallel int, opts ...Option) *TaskGenerator {
	g := &TaskGenerator{
		gen:         gen,
		maxParallel: maxParallel,
		finishSig:   make(chan struct{}),
	}
	g.setup(command.TaskGeneratorReady, opts)
	return g
}

// State returns the lifecycle state.
func (g *TaskGenerator) State() State {
	return g.lifecycle.State()
}

// Identity returns the identity of the instance, available after Init.
func (g *TaskGenerator) Identity() config.Identity {
	return g.identity
}

// Logger returns the logger of the generator.
func (g *TaskGenerator) Logger() log.Modular {
	return g.log
}

// Processed returns the number of data turned into tasks successfully.
func (g *TaskGenerator) Processed() int64 {
	if g.consumer == nil {
		return 0
	}
	return g.consumer.Processed()
}

// Failed returns the number of data whose task generation failed.
func (g *TaskGenerator) Failed() int64 {
	if g.consumer == nil {
		return 0
	}
	return g.consumer.Failed()
}

// Init reads the identity of the instance, opens the inbound queue and the
// outbound queues.
func (g *TaskGenerator) Init(ctx context.Context) error {
	if g.gen == nil {
		return errors.New("a task generation is required")
	}
	if err := g.init(); err != nil {
		return err
	}
	g.ids = taskid.New(g.identity)

	in, err := g.createQueue(ctx, config.QueueDataGenToTaskGen)
	if err != nil {
		return err
	}
	if g.consumer, err = consumer.New(in, g.maxParallel, g.generateTask,
		consumer.OptLogger(g.log),
		consumer.OptMetrics(g.res.metrics),
		consumer.OptPollTimeout(g.res.consumer.PollTimeout),
		consumer.OptDrainInterval(g.res.consumer.DrainInterval),
	); err != nil {
		_ = in.Close()
		return err
	}
	g.onClose(g.consumer.Close)

	toSystem, err := g.createQueue(ctx, config.QueueTaskGenToSystem)
	if err != nil {
		return err
	}
	g.systemSender = sender.New(toSystem, g.log, sender.OptMetrics(g.res.metrics))
	g.onClose(g.systemSender.Close)

	toEval, err := g.createQueue(ctx, config.QueueTaskGenToEvalStorage)
	if err != nil {
		return err
	}
	g.evalSender = sender.New(toEval, g.log, sender.OptMetrics(g.res.metrics))
	g.onClose(g.evalSender.Close)

	g.res.commands.Subscribe(g)
	return nil
}

func (g *TaskGenerator) generateTask(ctx context.Context, data []byte) error {
	return g.gen.GenerateTask(ctx, g, data)
}

// ReceiveCommand unblocks Run on the start signal and begins the drain once
// data generation has finished. Every other command is ignored.
func (g *TaskGenerator) ReceiveCommand(cmd Command) {
	switch cmd.Tag {
	case command.TaskGeneratorStart:
		g.signalStart()
	case command.DataGenerationFinished:
		g.finishOnce.Do(func() {
			close(g.finishSig)
		})
	default:
	}
}

// NextTaskID returns a task id that is unique across every sibling task
// generator. It is safe to call concurrently.
func (g *TaskGenerator) NextTaskID() string {
	return g.ids.Next()
}

// SendTaskToSystemAdapter sends a task to the system adapter.
func (g *TaskGenerator) SendTaskToSystemAdapter(ctx context.Context, taskID string, data []byte) error {
	return g.systemSender.Send(ctx, codec.EncodeTask(taskID, data))
}

// SendTaskToEvalStorage sends the expected answer of a task, along with the
// time the task was sent, to the evaluation storage.
func (g *TaskGenerator) SendTaskToEvalStorage(ctx context.Context, taskID string, timestamp time.Time, expected []byte) error {
	return g.evalSender.Send(ctx, codec.EncodeExpectedResponse(taskID, timestamp, expected))
}

// Run announces readiness, waits for the start signal and generates tasks
// until data generation has finished and every datum has been processed.
// Both outbound queues are flushed and closed before returning.
func (g *TaskGenerator) Run(ctx context.Context) error {
	if err := g.awaitStart(ctx); err != nil {
		return err
	}
	if err := g.consumer.Start(ctx); err != nil {
		return err
	}
	g.log.Infof("Generating tasks with max parallelism %v", g.maxParallel)

	if err := g.lifecycle.advance(StateAwaitingTermination); err != nil {
		return err
	}
	select {
	case <-g.finishSig:
	case <-ctx.Done():
		return component.TerminationError("data generation to finish", ctx.Err())
	}

	if err := g.lifecycle.advance(StateDraining); err != nil {
		return err
	}
	g.consumer.Stop()
	if err := g.consumer.Wait(ctx); err != nil {
		return err
	}
	g.log.Infof("Processed %v data, %v failed", g.consumer.Processed(), g.consumer.Failed())

	for _, s := range []*sender.Sender{g.systemSender, g.evalSender} {
		if err := s.CloseWhenFinished(ctx); err != nil {
			return err
		}
	}
	g.log.Infoln("Task generation finished")
	return nil
}

// Close releases the queues of the generator. It is safe to call more than
// once.
func (g *TaskGenerator) Close() error {
	return g.close()
}

var _ Component = (*TaskGenerator)(nil)
