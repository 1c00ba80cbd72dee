// Package cli implements the command line interface of the benchcore binary,
// which hosts demo pipeline stages.
package cli

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/benchlane/benchcore/internal/cli/common"
)

// App returns the command line application.
func App(opts *common.CLIOpts) *cli.App {
	return &cli.App{
		Name:  opts.BinaryName,
		Usage: "Runs demo stages of a benchmark pipeline over an AMQP broker.",
		Description: `
Each command runs one pipeline stage until the benchmark it takes part in
has finished. The identity of the instance is read from the environment
variables HOBBIT_GENERATOR_ID and HOBBIT_GENERATOR_COUNT, and queue names are
scoped to HOBBIT_SESSION_ID.`[1:],
		Version: fmt.Sprintf("%v (built %v)", opts.Version, opts.DateBuilt),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "",
				Usage:   "a path to a YAML config file",
			},
			&cli.StringFlag{
				Name:  "log.level",
				Value: "",
				Usage: "override the configured log level, options are: off, error, warn, info, debug, trace",
			},
			&cli.StringFlag{
				Name:  "metrics.address",
				Value: "",
				Usage: "override the address prometheus metrics are served at, e.g. 0.0.0.0:9090",
			},
		},
		Commands: []*cli.Command{
			dataGenCommand(),
			taskGenCommand(),
		},
	}
}
