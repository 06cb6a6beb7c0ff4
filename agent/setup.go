package agent

import (
	"context"
	"log/slog"

	"github.com/m4xw311/stepwise/config"
	"github.com/m4xw311/stepwise/llm"
	"github.com/m4xw311/stepwise/plan"
	"github.com/m4xw311/stepwise/summarize"
	"github.com/m4xw311/stepwise/tools"
	"github.com/m4xw311/stepwise/tools/mcp"
)

// NewFromConfig builds an Agent whose tasks each connect their own MCP
// providers. It is what the front ends use.
func NewFromConfig(ctx context.Context, cfg *config.Config, mode Mode, verbosity ToolVerbosity, logger *slog.Logger) (*Agent, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := llm.NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	opts, err := OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	summarizer := summarize.NewLLMSummarizer(client, opts.Sampling, logger)
	a := New(client, nil, summarizer, opts, mode, verbosity, logger)
	a.Connect = ProviderConnector(cfg, client, opts.Sampling, logger)
	return a, nil
}

// ProviderConnector returns a ConnectFunc over the configured MCP servers.
// Without a configured provider list the model picks the servers for each
// query. The post-task provider is always connected when configured, since
// it is called outside the model's control.
func ProviderConnector(cfg *config.Config, client llm.LLMClient, params llm.Sampling, logger *slog.Logger) ConnectFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, query string) (*tools.Registry, error) {
		skip := map[string]bool{}
		if cfg.NotebookEnabled() {
			skip[plan.ProviderName] = true
		}

		names := cfg.Providers
		if len(names) == 0 {
			var available []string
			for _, name := range cfg.ServerNames() {
				if !skip[name] && name != cfg.PostTaskProvider {
					available = append(available, name)
				}
			}
			selected, err := SelectProviders(ctx, client, query, available, params, logger)
			if err != nil {
				return nil, err
			}
			names = selected
		}
		names = withPostTask(cfg, names)

		reg := tools.NewRegistry(logger)
		if err := mcp.ConnectAll(ctx, reg, cfg.MCPServers, names, skip, logger); err != nil {
			return nil, err
		}
		return reg, nil
	}
}

func withPostTask(cfg *config.Config, names []string) []string {
	post := cfg.PostTaskProvider
	if post == "" {
		return names
	}
	if _, ok := cfg.Server(post); !ok {
		return names
	}
	for _, n := range names {
		if n == post {
			return names
		}
	}
	return append(append([]string(nil), names...), post)
}
