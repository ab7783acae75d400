package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/ericfisherdev/reelqueue/internal/adapter/driving/cli"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	root := cli.NewRootCmd()
	root.SetOut(os.Stdout)
	return root.ExecuteContext(ctx)
}
