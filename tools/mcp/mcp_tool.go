package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/m4xw311/stepwise/config"
	"github.com/m4xw311/stepwise/errors"
	"github.com/m4xw311/stepwise/tools"
)

var clientImpl = &mcpsdk.Implementation{Name: "stepwise", Version: "v0.1.0"}

// Session is a live connection to one MCP server. It satisfies
// tools.Provider and io.Closer.
type Session struct {
	Name   string
	cmd    *exec.Cmd
	conn   *mcpsdk.ClientSession
	logger *slog.Logger
}

// Start launches the server subprocess described by srv and initializes the
// client session.
func Start(ctx context.Context, srv config.MCPServer, logger *slog.Logger) (*Session, error) {
	cmd := exec.Command(srv.Command, srv.Args...)
	cmd.Stderr = os.Stderr
	if len(srv.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range srv.Env {
			if v == "" {
				v = os.Getenv(k)
			}
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}
	s, err := Connect(ctx, srv.Name, mcpsdk.NewCommandTransport(cmd), logger)
	if err != nil {
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
		return nil, err
	}
	s.cmd = cmd
	return s, nil
}

// Connect initializes a client session over an already prepared transport.
func Connect(ctx context.Context, name string, transport mcpsdk.Transport, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client := mcpsdk.NewClient(clientImpl, nil)
	conn, err := client.Connect(ctx, transport)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to MCP server '%s'", name)
	}
	return &Session{Name: name, conn: conn, logger: logger}, nil
}

// ListTools pages through the server's tool list.
func (s *Session) ListTools(ctx context.Context) ([]tools.Tool, error) {
	var out []tools.Tool
	params := &mcpsdk.ListToolsParams{}
	for {
		res, err := s.conn.ListTools(ctx, params)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to list tools from MCP server '%s'", s.Name)
		}
		for _, t := range res.Tools {
			schema := json.RawMessage(`{"type":"object","properties":{}}`)
			if t.InputSchema != nil {
				b, err := json.Marshal(t.InputSchema)
				if err != nil {
					return nil, errors.Wrapf(err, "failed to encode input schema of '%s'", t.Name)
				}
				schema = b
			}
			out = append(out, tools.Tool{Name: t.Name, Description: t.Description, InputSchema: schema})
		}
		if res.NextCursor == "" {
			break
		}
		params.Cursor = res.NextCursor
	}
	return out, nil
}

// CallTool runs one tool and concatenates its text content. A result the
// server flags as an error is still returned as text so the model can react
// to it.
func (s *Session) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	res, err := s.conn.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return "", errors.Wrapf(err, "failed to call tool '%s' on '%s'", name, s.Name)
	}
	var sb strings.Builder
	for _, c := range res.Content {
		switch v := c.(type) {
		case *mcpsdk.TextContent:
			sb.WriteString(v.Text)
		default:
			fmt.Fprintf(&sb, "[%T content omitted]", v)
		}
	}
	text := strings.TrimSpace(sb.String())
	if res.IsError {
		s.logger.Debug("tool reported an error", "server", s.Name, "tool", name)
	}
	return text, nil
}

// Close ends the session and terminates the server subprocess.
func (s *Session) Close() error {
	if s.conn != nil {
		s.conn.Close()
	}
	if s.cmd != nil && s.cmd.Process != nil {
		s.logger.Info("terminating MCP server", "server", s.Name)
		if err := s.cmd.Process.Kill(); err != nil && !strings.Contains(err.Error(), "process already finished") {
			return err
		}
	}
	return nil
}

// ConnectAll starts every named server and registers it. Servers named in
// skip are not started. Either all sessions are registered or, on failure,
// the ones already started are closed and none are registered.
func ConnectAll(ctx context.Context, registry *tools.Registry, servers []config.MCPServer, names []string, skip map[string]bool, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	byName := make(map[string]config.MCPServer, len(servers))
	for _, srv := range servers {
		byName[srv.Name] = srv
	}
	var started []*Session
	for _, name := range names {
		if skip[name] {
			logger.Warn("MCP server name is reserved, not starting it", "server", name)
			continue
		}
		srv, ok := byName[name]
		if !ok {
			closeAll(started)
			return errors.New("MCP server '%s' is not configured", name)
		}
		s, err := Start(ctx, srv, logger)
		if err != nil {
			closeAll(started)
			return err
		}
		started = append(started, s)
		logger.Info("connected MCP server", "server", name)
	}
	for _, s := range started {
		registry.Register(s.Name, s)
	}
	return nil
}

func closeAll(sessions []*Session) {
	for _, s := range sessions {
		s.Close()
	}
}
