package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner := NewRunner(RunnerOpts{})

	if err := newApp(runner).Run(ctx, os.Args); err != nil {
		stop()
		log.Fatalf("relayctl: %v", err)
	}
}
