package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/benchlane/benchcore/internal/cli/common"
	"github.com/benchlane/benchcore/internal/config"
	"github.com/benchlane/benchcore/internal/impl/amqp09"
	"github.com/benchlane/benchcore/internal/log"
	"github.com/benchlane/benchcore/internal/metrics"
	"github.com/benchlane/benchcore/public/component"
)

// settings are what every command reads before connecting to the broker.
type settings struct {
	conf     config.Type
	env      config.Environment
	identity config.Identity
}

// readSettings loads the config file and the environment, failing before
// anything is started when either is invalid.
func readSettings(c *cli.Context) (s settings, err error) {
	if s.conf, err = config.ReadFile(c.String("config")); err != nil {
		return
	}
	if addr := c.String("metrics.address"); addr != "" {
		s.conf.Metrics.Address = addr
	}
	if s.env, err = config.LoadEnvironment(); err != nil {
		return
	}
	s.conf.ApplyEnvironment(s.env)
	if s.identity, err = config.LoadIdentity(); err != nil {
		return
	}
	return
}

type componentCtor func(opts ...component.Option) component.Component

// runComponent connects to the broker and runs the component built by ctor
// until it has finished or the process is signalled to stop.
func runComponent(c *cli.Context, s settings, ctor componentCtor) error {
	logger, err := common.CreateLogger(c, s.conf)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	logger = logger.With("@session", s.env.SessionID)

	ctx, done := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer done()

	prom, err := metrics.NewPrometheus()
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}
	go func() {
		if err := metrics.Serve(ctx, s.conf.Metrics.Address, s.conf.Metrics.Path, prom, logger); err != nil {
			logger.Errorf("Metrics server error: %v", err)
		}
	}()

	factory, err := amqp09.NewFactory(ctx, s.conf.Broker, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}
	defer closeLogged(logger, "broker connection", factory.Close)

	bus, err := factory.CommandBus(ctx, s.env.SessionID)
	if err != nil {
		return fmt.Errorf("failed to open command channel: %w", err)
	}
	defer closeLogged(logger, "command channel", bus.Close)

	comp := ctor(
		component.OptQueueFactory(factory),
		component.OptCommands(bus),
		component.OptLogger(logger),
		component.OptMetrics(prom),
		component.OptIdentity(s.identity.Ordinal, s.identity.Count),
		component.OptSessionID(s.env.SessionID),
		component.OptConsumerConfig(s.conf.Consumer),
	)
	if err := component.Run(ctx, comp); err != nil {
		if ctx.Err() != nil {
			logger.Warnln("Received stop signal, shutting down before the benchmark finished")
		}
		return err
	}
	logger.Infoln("Finished cleanly")
	return nil
}

func closeLogged(logger log.Modular, what string, fn func() error) {
	if err := fn(); err != nil {
		logger.Warnf("Failed to close %v: %v", what, err)
	}
}
