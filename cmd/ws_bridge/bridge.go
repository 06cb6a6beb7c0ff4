package main

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/m4xw311/stepwise/agent"
	"github.com/m4xw311/stepwise/session"
)

const writeTimeout = 10 * time.Second

// request is what a client sends to start a task.
type request struct {
	Query string `json:"query"`
}

// event is one frame sent to the client.
type event struct {
	Type      string `json:"type"`
	TaskID    string `json:"task_id,omitempty"`
	Text      string `json:"text,omitempty"`
	ToolID    string `json:"tool_id,omitempty"`
	Tool      string `json:"tool,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	Before    int    `json:"before,omitempty"`
	After     int    `json:"after,omitempty"`
	Result    string `json:"result,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Rounds    int    `json:"rounds,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Event types.
const (
	eventAssistant  = "assistant"
	eventToolCall   = "tool_call"
	eventToolResult = "tool_result"
	eventCompaction = "compaction"
	eventWarning    = "warning"
	eventDone       = "done"
	eventAbort      = "abort"
	eventError      = "error"
)

type bridge struct {
	ctx      context.Context
	agent    *agent.Agent
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func newBridge(ctx context.Context, a *agent.Agent, logger *slog.Logger) *bridge {
	return &bridge{
		ctx:   ctx,
		agent: a,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// conn serializes writes to one socket; gorilla allows one concurrent writer.
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) send(ev event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(ev)
}

// ServeHTTP runs tasks for one client, one at a time, in the order their
// queries arrive.
func (b *bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("upgrade failed", "error", err)
		return
	}
	defer ws.Close()
	c := &conn{ws: ws}
	logger := b.logger.With("remote", r.RemoteAddr)

	// The reader goroutine owns reads; a read error means the client is gone
	// and cancels whatever task is running.
	ctx, cancel := context.WithCancel(b.ctx)
	defer cancel()
	queries := make(chan string)
	go func() {
		defer cancel()
		defer close(queries)
		for {
			var req request
			if err := ws.ReadJSON(&req); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Debug("read ended", "error", err)
				}
				return
			}
			if strings.TrimSpace(req.Query) == "" {
				c.send(event{Type: eventError, Error: "query must not be empty"})
				continue
			}
			select {
			case queries <- req.Query:
			case <-ctx.Done():
				return
			}
		}
	}()

	for query := range queries {
		b.runTask(ctx, c, query, logger)
		if ctx.Err() != nil {
			return
		}
	}
}

func (b *bridge) runTask(ctx context.Context, c *conn, query string, logger *slog.Logger) {
	callbacks := agent.ProcessCallbacks{
		OnAssistantMessage: func(message string) {
			c.send(event{Type: eventAssistant, Text: message})
		},
		OnToolCall: func(tc session.ToolCall) {
			c.send(event{Type: eventToolCall, ToolID: tc.ID, Tool: tc.Name, Arguments: tc.Arguments})
		},
		OnToolResult: func(tc session.ToolCall, result string) {
			c.send(event{Type: eventToolResult, ToolID: tc.ID, Tool: tc.Name, Result: result})
		},
		OnCompaction: func(before, after int) {
			c.send(event{Type: eventCompaction, Before: before, After: after})
		},
		OnWarning: func(warning string) {
			c.send(event{Type: eventWarning, Text: warning})
		},
	}

	out, err := b.agent.Run(ctx, query, callbacks)
	final := event{Type: eventDone}
	if out != nil {
		final.TaskID = out.TaskID
		final.Result = out.FinalResult
		final.Reason = string(out.Reason)
		final.Rounds = out.Rounds
	}
	if err != nil {
		final.Type = eventAbort
		final.Error = err.Error()
	}
	if ctx.Err() != nil {
		logger.Info("client gone, task canceled", "task", final.TaskID)
		return
	}
	if err := c.send(final); err != nil {
		logger.Warn("failed to send final frame", "error", err)
	}
}

