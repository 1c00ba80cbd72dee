package common

import (
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/benchlane/benchcore/internal/config"
	"github.com/benchlane/benchcore/internal/log"
)

// CreateLogger from a CLI context and a config. The log level flag takes
// precedence over the config, and logs are written to stdout unless a log file
// is configured.
func CreateLogger(c *cli.Context, conf config.Type) (log.Modular, error) {
	if overrideLogLevel := c.String("log.level"); len(overrideLogLevel) > 0 {
		conf.Logger.LogLevel = strings.ToUpper(overrideLogLevel)
	}
	return log.NewFromConfig(conf.Logger, os.Stdout)
}
