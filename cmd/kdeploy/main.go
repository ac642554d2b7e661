package main

import (
	"os"

	"github.com/kdeploy-dev/kdeploy/internal/cli"
	"github.com/kdeploy-dev/kdeploy/internal/logging"
)

// main is the entry point for the kdeploy CLI binary.
func main() {
	logger := logging.NewLogger(os.Stderr, logging.LevelInfo)
	if err := cli.Execute(os.Args[1:], logger); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}
