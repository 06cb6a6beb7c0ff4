package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/m4xw311/stepwise/agent"
	"github.com/m4xw311/stepwise/agent/acp"
	"github.com/m4xw311/stepwise/agent/terminal"
	"github.com/m4xw311/stepwise/config"
	"github.com/m4xw311/stepwise/report"
)

// options are the command line settings layered over the config files.
type options struct {
	configPath    string
	model         string
	llmClient     string
	logLevel      string
	htmlOut       string
	providers     []string
	noNotebook    bool
	mode          string
	toolVerbosity string
	acp           bool
	help          bool
}

func newFlagSet(opts *options) *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("stepwise", pflag.ContinueOnError)
	flagSet.StringVar(&opts.configPath, "config", "", "extra config file layered over ~/.stepwise and ./.stepwise")
	flagSet.StringVar(&opts.model, "model", "", "model name (overrides config)")
	flagSet.StringVar(&opts.llmClient, "llm", "", "model backend: openai, anthropic, bedrock, gemini or mock")
	flagSet.StringVar(&opts.logLevel, "log-level", "", "trace, debug, info, warn or error")
	flagSet.StringVar(&opts.htmlOut, "html-out", "", "write the final result as an HTML page to this file")
	flagSet.StringSliceVar(&opts.providers, "providers", nil, "MCP servers to connect (default: let the model choose)")
	flagSet.BoolVar(&opts.noNotebook, "no-notebook", false, "do not offer the plan stack tools")
	flagSet.StringVarP(&opts.mode, "mode", "m", "auto", "execution mode: 'auto' or 'prompt'")
	flagSet.StringVar(&opts.toolVerbosity, "tool-verbosity", "info", "tool verbosity level: 'none', 'info', or 'all'")
	flagSet.BoolVar(&opts.acp, "acp", false, "serve the Agent Client Protocol over stdio")
	flagSet.BoolVarP(&opts.help, "help", "h", false, "show help")
	return flagSet
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %+v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var opts options
	flagSet := newFlagSet(&opts)
	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if opts.help {
		printHelp(flagSet)
		return nil
	}

	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return err
	}
	applyFlags(cfg, &opts)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := config.NewLogger(os.Stderr, cfg.LogLevel)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	mode, verbosity, err := parseModes(opts.mode, opts.toolVerbosity)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := agent.NewFromConfig(ctx, cfg, mode, verbosity, logger)
	if err != nil {
		return err
	}

	if opts.acp {
		// stdout carries JSON-RPC only.
		return acp.Run(ctx, a, bufio.NewReader(os.Stdin), bufio.NewWriter(os.Stdout), logger)
	}

	term := terminal.New(a)
	if opts.htmlOut != "" {
		term.OnOutcome = func(out *agent.Outcome) {
			if out.FinalResult == "" {
				return
			}
			if err := report.WriteFile(opts.htmlOut, "Stepwise result", out.FinalResult); err != nil {
				logger.Error("failed to write HTML report", "error", err)
				return
			}
			logger.Info("HTML report written", "path", opts.htmlOut)
		}
	}

	query := strings.Join(flagSet.Args(), " ")
	if query != "" {
		_, err := term.Once(ctx, query)
		return err
	}
	fmt.Println("Stepwise is ready. Type your task.")
	return term.Run(ctx, "")
}

// applyFlags layers explicitly set flags over the loaded configuration.
func applyFlags(cfg *config.Config, opts *options) {
	if opts.model != "" {
		cfg.Model = opts.model
	}
	if opts.llmClient != "" {
		cfg.LLMClient = opts.llmClient
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if len(opts.providers) > 0 {
		cfg.Providers = opts.providers
	}
	if opts.noNotebook {
		off := false
		cfg.Notebook = &off
	}
}

func parseModes(mode, toolVerbosity string) (agent.Mode, agent.ToolVerbosity, error) {
	var opMode agent.Mode
	switch mode {
	case "auto":
		opMode = agent.ModeAuto
	case "prompt":
		opMode = agent.ModePrompt
	default:
		return "", "", fmt.Errorf("invalid mode '%s'. Must be 'auto' or 'prompt'", mode)
	}

	var verbosity agent.ToolVerbosity
	switch toolVerbosity {
	case "none":
		verbosity = agent.ToolVerbosityNone
	case "info":
		verbosity = agent.ToolVerbosityInfo
	case "all":
		verbosity = agent.ToolVerbosityAll
	default:
		return "", "", fmt.Errorf("invalid tool verbosity '%s'. Must be 'none', 'info', or 'all'", toolVerbosity)
	}
	return opMode, verbosity, nil
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `Stepwise plans and runs tool-using research tasks.

Usage:
  stepwise [flags] [task...]

With a task on the command line, runs it once and exits. Without one, reads
tasks from stdin, one per line. With --acp, serves the Agent Client Protocol.

Flags:
%s`, flagSet.FlagUsages())
}
