// Package server exposes a plan.Notebook as a stdio MCP server so that other
// MCP clients can use the same plan tools.
package server

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/m4xw311/stepwise/errors"
	"github.com/m4xw311/stepwise/plan"
)

// New builds an MCP server whose tools are backed by nb.
func New(nb *plan.Notebook, logger *slog.Logger) (*mcp.Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	server := mcp.NewServer(&mcp.Implementation{Name: plan.ProviderName, Version: "v0.1.0"}, nil)
	ts, err := nb.ListTools(context.Background())
	if err != nil {
		return nil, err
	}
	for _, t := range ts {
		schema := new(jsonschema.Schema)
		if err := json.Unmarshal(t.InputSchema, schema); err != nil {
			return nil, errors.Wrapf(err, "invalid input schema for '%s'", t.Name)
		}
		mcp.AddTool(server, &mcp.Tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		}, handler(nb, t.Name, logger))
	}
	return server, nil
}

func handler(nb *plan.Notebook, name string, logger *slog.Logger) mcp.ToolHandlerFor[map[string]any, any] {
	return func(ctx context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[map[string]any]) (*mcp.CallToolResultFor[any], error) {
		logger.Debug("notebook tool called", "tool", name)
		text, err := nb.CallTool(ctx, name, params.Arguments)
		if err != nil {
			return &mcp.CallToolResultFor[any]{
				IsError: true,
				Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
			}, nil
		}
		return &mcp.CallToolResultFor[any]{
			Content: []mcp.Content{&mcp.TextContent{Text: text}},
		}, nil
	}
}

// Serve runs the notebook server over stdin/stdout until ctx is done or the
// client disconnects.
func Serve(ctx context.Context, nb *plan.Notebook, logger *slog.Logger) error {
	server, err := New(nb, logger)
	if err != nil {
		return err
	}
	return server.Run(ctx, mcp.NewStdioTransport())
}
