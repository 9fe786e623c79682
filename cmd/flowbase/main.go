// Package main is the entry point of the flowbase binary.
package main

import (
	"fmt"
	"os"

	"github.com/pitabwire/flowbase/internal/cli"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	cli.SetVersion(version, commit)
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
