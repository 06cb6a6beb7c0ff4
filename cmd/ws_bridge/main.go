// Command ws_bridge runs Stepwise tasks for WebSocket clients. A client sends
// {"query": "..."} and receives the task's events as JSON frames, ending
// with a "done" or "abort" frame. Closing the socket cancels the task.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/m4xw311/stepwise/agent"
	"github.com/m4xw311/stepwise/config"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %+v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var addr, configPath, logLevel, llmClient, model string
	flagSet := pflag.NewFlagSet("ws_bridge", pflag.ContinueOnError)
	flagSet.StringVar(&addr, "addr", ":8080", "listen address")
	flagSet.StringVar(&configPath, "config", "", "extra config file layered over ~/.stepwise and ./.stepwise")
	flagSet.StringVar(&logLevel, "log-level", "", "trace, debug, info, warn or error")
	flagSet.StringVar(&llmClient, "llm", "", "model backend (overrides config)")
	flagSet.StringVar(&model, "model", "", "model name (overrides config)")
	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if llmClient != "" {
		cfg.LLMClient = llmClient
	}
	if model != "" {
		cfg.Model = model
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := config.NewLogger(os.Stderr, cfg.LogLevel)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := agent.NewFromConfig(ctx, cfg, agent.ModeAuto, agent.ToolVerbosityAll, logger)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", newBridge(ctx, a, logger))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("WebSocket server running", "addr", addr, "path", "/ws")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
