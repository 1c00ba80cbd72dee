package main

import (
	"fmt"
	"os"

	"github.com/benchlane/benchcore/internal/cli"
	"github.com/benchlane/benchcore/internal/cli/common"
)

// Build stamps set with -ldflags.
var (
	Version   = "unknown"
	DateBuilt = "unknown"
)

func main() {
	if err := cli.App(common.NewCLIOpts(Version, DateBuilt)).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
