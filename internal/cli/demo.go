package cli

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/urfave/cli/v2"

	"github.com/benchlane/benchcore/internal/component"
	pcomponent "github.com/benchlane/benchcore/public/component"
)

func dataGenCommand() *cli.Command {
	return &cli.Command{
		Name:  "datagen",
		Usage: "Run a data generator that emits random uuid payloads",
		Description: `
Emits --count payloads, each sent to both the task generators and the system
under test. The payloads are split between sibling instances so that the
total emitted across all of them is --count.`[1:],
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "count",
				Value: 100,
				Usage: "the total number of payloads to generate across all instances",
			},
		},
		Action: func(c *cli.Context) error {
			count := c.Int("count")
			if count < 0 {
				return component.ConfigurationError("--count must be non-negative, got %v", count)
			}
			s, err := readSettings(c)
			if err != nil {
				return err
			}
			gen := pcomponent.DataGenerationFunc(func(ctx context.Context, g *pcomponent.DataGenerator) error {
				return generateUUIDs(ctx, g, count)
			})
			return runComponent(c, s, func(opts ...pcomponent.Option) pcomponent.Component {
				return pcomponent.NewDataGenerator(gen, opts...)
			})
		},
	}
}

// shareOf returns how many of total items belong to the instance at ordinal
// when split as evenly as possible between count instances.
func shareOf(total, ordinal, count int) int {
	n := total / count
	if ordinal < total%count {
		n++
	}
	return n
}

func generateUUIDs(ctx context.Context, g *pcomponent.DataGenerator, total int) error {
	id := g.Identity()
	n := shareOf(total, id.Ordinal, id.Count)
	g.Logger().Infof("Generating %v of %v payloads", n, total)
	for i := 0; i < n; i++ {
		u, err := uuid.NewV4()
		if err != nil {
			return err
		}
		data := []byte(u.String())
		if err := g.SendDataToTaskGenerator(ctx, data); err != nil {
			return fmt.Errorf("payload %v: %w", i, err)
		}
		if err := g.SendDataToSystemAdapter(ctx, data); err != nil {
			return fmt.Errorf("payload %v: %w", i, err)
		}
	}
	return nil
}

func taskGenCommand() *cli.Command {
	return &cli.Command{
		Name:  "taskgen",
		Usage: "Run a task generator that asks for payloads to be upper cased",
		Description: `
Every payload received from the data generators becomes a task sent to the
system under test, with the upper cased payload stored as the expected
answer.`[1:],
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "max-parallel",
				Value: 0,
				Usage: "the number of payloads handled in parallel, zero uses consumer.max_parallel from the config",
			},
		},
		Action: func(c *cli.Context) error {
			s, err := readSettings(c)
			if err != nil {
				return err
			}
			maxParallel := c.Int("max-parallel")
			if maxParallel == 0 {
				maxParallel = s.conf.Consumer.MaxParallel
			}
			if maxParallel < 1 {
				return component.ConfigurationError("--max-parallel must be positive, got %v", maxParallel)
			}
			gen := pcomponent.TaskGenerationFunc(upperCaseTask)
			return runComponent(c, s, func(opts ...pcomponent.Option) pcomponent.Component {
				return pcomponent.NewTaskGenerator(gen, maxParallel, opts...)
			})
		},
	}
}

func upperCaseTask(ctx context.Context, g *pcomponent.TaskGenerator, data []byte) error {
	taskID := g.NextTaskID()
	if err := g.SendTaskToSystemAdapter(ctx, taskID, data); err != nil {
		return err
	}
	return g.SendTaskToEvalStorage(ctx, taskID, time.Now(), bytes.ToUpper(data))
}
