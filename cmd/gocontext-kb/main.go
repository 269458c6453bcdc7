package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dshills/gocontext-kb/internal/cli"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	v := version
	if buildTime != "unknown" {
		v += " (built " + buildTime + ")"
	}
	if err := cli.NewRootCommand(v).ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
