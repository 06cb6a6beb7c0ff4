// Command notebook serves the plan stack tools over stdio MCP so that any
// MCP client can plan with them. One process holds one plan.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/m4xw311/stepwise/config"
	"github.com/m4xw311/stepwise/plan"
	"github.com/m4xw311/stepwise/plan/server"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %+v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var logLevel string
	flagSet := pflag.NewFlagSet("notebook", pflag.ContinueOnError)
	flagSet.StringVar(&logLevel, "log-level", "warn", "trace, debug, info, warn or error")
	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	// stdout is the MCP transport; logs go to stderr.
	logger, err := config.NewLogger(os.Stderr, logLevel)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("notebook server starting")
	err = server.Serve(ctx, plan.New(), logger)
	if err != nil && ctx.Err() == nil {
		return err
	}
	logger.Debug("notebook server stopped")
	return nil
}
