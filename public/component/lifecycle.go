// Package component provides the runtime of benchmark pipeline stages: the
// lifecycle driven by commands of the platform, and the data and task
// generator roles built on top of it.
package component

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/benchlane/benchcore/internal/command"
	"github.com/benchlane/benchcore/internal/component"
	"github.com/benchlane/benchcore/internal/config"
	"github.com/benchlane/benchcore/internal/log"
	"github.com/benchlane/benchcore/internal/metrics"
	"github.com/benchlane/benchcore/internal/queue"
)

// State is a step of the component lifecycle. States only ever advance.
type State int

// Lifecycle states in the order they are passed through.
const (
	StateCreated State = iota
	StateInitialized
	StateAwaitingStart
	StateRunning
	StateAwaitingTermination
	StateDraining
	StateClosed
)

var stateNames = [...]string{
	StateCreated:             "created",
	StateInitialized:         "initialized",
	StateAwaitingStart:       "awaiting start",
	StateRunning:             "running",
	StateAwaitingTermination: "awaiting termination",
	StateDraining:            "draining",
	StateClosed:              "closed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Lifecycle records the state of a component.
type Lifecycle struct {
	mut   sync.Mutex
	state State
	log   log.Modular
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mut.Lock()
	defer l.mut.Unlock()
	return l.state
}

// advance moves to the given state, which must come after the current one.
func (l *Lifecycle) advance(to State) error {
	l.mut.Lock()
	defer l.mut.Unlock()
	if to <= l.state {
		return fmt.Errorf("illegal transition from %v to %v", l.state, to)
	}
	if l.log != nil {
		l.log.Debugf("Transitioning from %v to %v", l.state, to)
	}
	l.state = to
	return nil
}

//------------------------------------------------------------------------------

// Component is a pipeline stage driven by the host runner.
type Component interface {
	// Init reads the identity of the instance and opens the queues it owns.
	Init(ctx context.Context) error

	// Run announces readiness, waits for the start signal, performs the work
	// of the component and drains.
	Run(ctx context.Context) error

	// ReceiveCommand reacts to a command of the control channel. It is safe to
	// call concurrently with Run.
	ReceiveCommand(cmd Command)

	// Close releases every resource of the component. It is safe to call
	// more than once.
	Close() error
}

// Run drives a component through its lifecycle: Init, then Run, then Close,
// which is called on every exit path. The first error encountered is
// returned.
func Run(ctx context.Context, c Component) (err error) {
	defer func() {
		if cErr := c.Close(); cErr != nil && err == nil {
			err = cErr
		}
	}()
	if err = c.Init(ctx); err != nil {
		return err
	}
	return c.Run(ctx)
}

//------------------------------------------------------------------------------

// Option configures a component.
type Option func(r *resources)

type resources struct {
	factory   queue.Factory
	commands  command.Transport
	logger    log.Modular
	metrics   *metrics.Prometheus
	identity  *config.Identity
	sessionID string
	consumer  config.ConsumerConfig
}

// OptQueueFactory sets the factory the queues of the component are created
// with. Required.
func OptQueueFactory(f QueueFactory) Option {
	return func(r *resources) {
		r.factory = f
	}
}

// OptCommands sets the control channel of the component. Required.
func OptCommands(t CommandTransport) Option {
	return func(r *resources) {
		r.commands = t
	}
}

// OptLogger sets the logger of the component.
func OptLogger(l log.Modular) Option {
	return func(r *resources) {
		r.logger = l
	}
}

// OptMetrics sets the collectors the component reports to.
func OptMetrics(m *metrics.Prometheus) Option {
	return func(r *resources) {
		r.metrics = m
	}
}

// OptIdentity sets the identity of the instance instead of reading it from
// the environment during Init.
func OptIdentity(ordinal, count int) Option {
	return func(r *resources) {
		r.identity = &config.Identity{Ordinal: ordinal, Count: count}
	}
}

// OptSessionID sets the session the queue names are scoped to instead of
// reading it from the environment during Init.
func OptSessionID(id string) Option {
	return func(r *resources) {
		r.sessionID = id
	}
}

// OptConsumerConfig tunes the consumption of inbound queues.
func OptConsumerConfig(conf config.ConsumerConfig) Option {
	return func(r *resources) {
		r.consumer = conf
	}
}

//------------------------------------------------------------------------------

// base holds what is shared by every role: the lifecycle, the identity and
// the start signal.
type base struct {
	res       resources
	readyTag  command.Tag
	lifecycle Lifecycle
	log       log.Modular
	identity  config.Identity

	startOnce sync.Once
	startSig  chan struct{}

	closeOnce sync.Once
	closeErr  error
	closers   []func() error
}

func (b *base) setup(readyTag command.Tag, opts []Option) {
	b.res = resources{
		logger:   log.Noop(),
		consumer: config.Default().Consumer,
	}
	for _, opt := range opts {
		opt(&b.res)
	}
	b.readyTag = readyTag
	b.log = b.res.logger
	b.lifecycle.log = b.res.logger
	b.startSig = make(chan struct{})
}

// init reads the identity and session of the instance.
func (b *base) init() error {
	if err := b.lifecycle.advance(StateInitialized); err != nil {
		return err
	}
	if b.res.factory == nil {
		return component.ConfigurationError("a queue factory is required")
	}
	if b.res.commands == nil {
		return component.ConfigurationError("a command transport is required")
	}

	var err error
	if b.res.identity != nil {
		b.identity, err = config.NewIdentity(b.res.identity.Ordinal, b.res.identity.Count)
	} else {
		b.identity, err = config.LoadIdentity()
	}
	if err != nil {
		return err
	}

	if b.res.sessionID == "" {
		env, err := config.LoadEnvironment()
		if err != nil {
			return err
		}
		b.res.sessionID = env.SessionID
	}

	b.log = b.log.With("ordinal", b.identity.Ordinal, "count", b.identity.Count)
	b.lifecycle.log = b.log
	return nil
}

func (b *base) createQueue(ctx context.Context, name string) (queue.Queue, error) {
	q, err := b.res.factory.CreateQueue(ctx, config.SessionQueueName(name, b.res.sessionID))
	if err != nil {
		return nil, fmt.Errorf("failed to open queue %v: %w", name, err)
	}
	return q, nil
}

// onClose registers a resource to release when the component is closed, in
// reverse order of registration.
func (b *base) onClose(fn func() error) {
	b.closers = append(b.closers, fn)
}

// awaitStart announces readiness and blocks until the start signal arrives.
func (b *base) awaitStart(ctx context.Context) error {
	if err := b.lifecycle.advance(StateAwaitingStart); err != nil {
		return err
	}
	if err := b.res.commands.SendCommand(ctx, Command{Tag: b.readyTag}); err != nil {
		return fmt.Errorf("failed to announce readiness: %w", err)
	}
	b.log.Debugf("Sent %v, waiting for the start signal", b.readyTag)

	select {
	case <-b.startSig:
	case <-ctx.Done():
		return component.TerminationError("start signal", ctx.Err())
	}
	return b.lifecycle.advance(StateRunning)
}

func (b *base) signalStart() {
	b.startOnce.Do(func() {
		close(b.startSig)
	})
}

func (b *base) close() error {
	b.closeOnce.Do(func() {
		var errs []error
		for i := len(b.closers) - 1; i >= 0; i-- {
			if err := b.closers[i](); err != nil && !errors.Is(err, queue.ErrClosed) {
				errs = append(errs, err)
			}
		}
		b.closeErr = errors.Join(errs...)
		_ = b.lifecycle.advance(StateClosed)
	})
	return b.closeErr
}
