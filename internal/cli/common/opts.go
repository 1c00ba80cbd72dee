package common

import (
	"os"
	"path/filepath"
)

// CLIOpts describes the binary the CLI is running as.
type CLIOpts struct {
	Version   string
	DateBuilt string

	BinaryName  string
	ProductName string
}

// NewCLIOpts returns options for the running binary.
func NewCLIOpts(version, dateBuilt string) *CLIOpts {
	binaryName := "benchcore"
	if len(os.Args) > 0 {
		binaryName = filepath.Base(os.Args[0])
	}
	return &CLIOpts{
		Version:     version,
		DateBuilt:   dateBuilt,
		BinaryName:  binaryName,
		ProductName: "benchcore",
	}
}
