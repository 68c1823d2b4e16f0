// Command gradid runs the gradi recognition worker. It reads the default
// configuration search path; use `gradi run --config` for an explicit file.
package main

import (
	"context"
	"errors"
	"log"

	"gradi/internal/config"
	"gradi/internal/daemonrun"
)

func main() {
	cfg, _, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := daemonrun.Run(context.Background(), cfg, daemonrun.Options{}); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("gradid: %v", err)
	}
}
