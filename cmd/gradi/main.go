package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gradi/internal/daemon"
)

// exitWorkerUnavailable distinguishes "worker not running" from command
// failures so scripts can poll for readiness.
const exitWorkerUnavailable = 3

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if errors.Is(err, context.Canceled) {
			os.Exit(1)
		}
		fmt.Fprintln(os.Stderr, "gradi:", err)
		if errors.Is(err, daemon.ErrAPIUnavailable) {
			os.Exit(exitWorkerUnavailable)
		}
		os.Exit(1)
	}
}
