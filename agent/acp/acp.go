package acp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/m4xw311/stepwise/agent"
	"github.com/m4xw311/stepwise/errors"
	"github.com/m4xw311/stepwise/session"
)

// Run starts the Agent Client Protocol server over stdio using JSON-RPC
// It implements a minimal subset of ACP:
// - initialize
// - session/new
// - session/prompt (runs one task, emitting session/update notifications with
//   agent_message_chunk, tool_call and tool_result)
// - session/cancel (aborts the running task of a session)
// Notes:
//   - Nothing but JSON-RPC messages is written to out; logs go to logger.
//   - Messages are newline-delimited JSON objects rather than using Content-Length framing.
//   - Prompts run concurrently with the read loop so a cancel can reach them.
func Run(ctx context.Context, stepwiseAgent *agent.Agent, in *bufio.Reader, out *bufio.Writer, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancelAll := context.WithCancel(ctx)
	defer cancelAll()

	server := &acpServer{
		ctx:          ctx,
		agent:        stepwiseAgent,
		sessions:     make(map[string]*acpSession),
		StdinReader:  in,
		StdoutWriter: out,
		logger:       logger,
	}
	defer server.prompts.Wait()

	logger.Debug("starting ACP server")
	for {
		payload, err := server.readFramedMessage()
		if err != nil {
			if err == io.EOF {
				// Running prompts finish before Run returns.
				logger.Debug("EOF received, exiting")
				return nil
			}
			// If framing is broken, there isn't a safe way to continue.
			cancelAll()
			return errors.Wrapf(err, "ACP: read error")
		}
		if len(payload) == 0 {
			continue
		}

		var req jsonrpcRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			logger.Debug("JSON parse error", "error", err)
			_ = server.writeResponseError(nil, -32700, "Parse error", nil)
			continue
		}

		logger.Debug("dispatching", "method", req.Method, "id", req.ID)
		switch req.Method {
		case "initialize":
			server.handleInitialize(&req)
		case "session/new":
			server.handleSessionNew(&req)
		case "session/prompt":
			server.handleSessionPrompt(&req)
		case "session/cancel":
			server.handleSessionCancel(&req)
		default:
			if req.ID != nil {
				_ = server.writeResponseError(req.ID, -32601, "Method not found", nil)
			}
		}
	}
}

// ---- Minimal ACP handling types ----

// jsonrpcRequest represents a JSON-RPC 2.0 request message
type jsonrpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// jsonrpcResponse represents a JSON-RPC 2.0 response message
type jsonrpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonrpcError   `json:"error,omitempty"`
}

// jsonrpcError represents a JSON-RPC 2.0 error object
type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// ---- acpServer ----

// acpSession tracks the task running in one ACP session, if any.
type acpSession struct {
	cancel context.CancelFunc
}

// acpServer represents the state of an ACP server instance
type acpServer struct {
	ctx          context.Context
	agent        *agent.Agent
	sessions     map[string]*acpSession
	sessionsLock sync.Mutex
	prompts      sync.WaitGroup

	StdinReader  *bufio.Reader
	StdoutWriter *bufio.Writer
	writeLock    sync.Mutex
	logger       *slog.Logger
}

// readFramedMessage reads a single JSON-RPC payload
func (s *acpServer) readFramedMessage() ([]byte, error) {
	line, err := s.StdinReader.ReadBytes('\n')
	if err != nil && !(err == io.EOF && len(strings.TrimSpace(string(line))) > 0) {
		return nil, err
	}
	return []byte(strings.TrimSpace(string(line))), nil
}

// writeFramedJSON serializes and writes one newline-delimited JSON-RPC message
func (s *acpServer) writeFramedJSON(obj any) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return errors.Wrapf(err, "failed to serialize JSON-RPC message")
	}

	s.writeLock.Lock()
	defer s.writeLock.Unlock()
	if _, err := s.StdoutWriter.Write(data); err != nil {
		return err
	}
	if err := s.StdoutWriter.WriteByte('\n'); err != nil {
		return err
	}
	return s.StdoutWriter.Flush()
}

// writeResponseOK sends a successful JSON-RPC response with the given result
func (s *acpServer) writeResponseOK(id any, result any) error {
	data, err := json.Marshal(result)
	if err != nil {
		return s.writeResponseError(id, -32603, "Internal error", err.Error())
	}
	return s.writeFramedJSON(jsonrpcResponse{JSONRPC: "2.0", ID: id, Result: data})
}

// writeResponseError sends a JSON-RPC error response with the specified error code and message
func (s *acpServer) writeResponseError(id any, code int, msg string, data any) error {
	s.logger.Debug("error response", "code", code, "message", msg, "data", data)
	return s.writeFramedJSON(jsonrpcResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &jsonrpcError{Code: code, Message: msg, Data: data},
	})
}

// writeNotification sends a JSON-RPC notification (request without an ID)
func (s *acpServer) writeNotification(method string, params any) error {
	return s.writeFramedJSON(map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
	})
}

func decodeParams(req *jsonrpcRequest, v any) error {
	if len(req.Params) == 0 {
		return nil
	}
	return json.Unmarshal(req.Params, v)
}

// ---- Handlers ----

// handleInitialize returns the protocol version and agent capabilities
func (s *acpServer) handleInitialize(req *jsonrpcRequest) {
	var p struct {
		ProtocolVersion int             `json:"protocolVersion"`
		ClientCaps      json.RawMessage `json:"clientCapabilities,omitempty"`
	}
	if err := decodeParams(req, &p); err != nil {
		s.logger.Debug("initialize params", "error", err)
	}

	_ = s.writeResponseOK(req.ID, map[string]any{
		"protocolVersion": 1,
		"agentCapabilities": map[string]any{
			"loadSession": false,
			"promptCapabilities": map[string]bool{
				"audio":           false,
				"embeddedContext": false,
				"image":           false,
			},
		},
		"authMethods": []any{},
	})
}

// handleSessionNew creates a new session with a unique ID
func (s *acpServer) handleSessionNew(req *jsonrpcRequest) {
	var p struct {
		Cwd        string          `json:"cwd"`
		McpServers json.RawMessage `json:"mcpServers"`
	}
	if err := decodeParams(req, &p); err != nil {
		_ = s.writeResponseError(req.ID, -32602, "Invalid params", err.Error())
		return
	}

	sid := "sess_" + uuid.NewString()
	s.sessionsLock.Lock()
	s.sessions[sid] = &acpSession{}
	s.sessionsLock.Unlock()
	s.logger.Info("session created", "session", sid)

	_ = s.writeResponseOK(req.ID, map[string]any{"sessionId": sid})
}

// contentBlock represents a content block in ACP prompt requests.
type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	// ResourceLink fields
	URI         string `json:"uri,omitempty"`
	Name        string `json:"name,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Size        *int64 `json:"size,omitempty"`
}

// handleSessionPrompt runs one task for the prompt text. The task runs on
// its own goroutine; the response carries the stop reason once it ends.
func (s *acpServer) handleSessionPrompt(req *jsonrpcRequest) {
	var p struct {
		SessionID string         `json:"sessionId"`
		Prompt    []contentBlock `json:"prompt"`
	}
	if err := decodeParams(req, &p); err != nil {
		_ = s.writeResponseError(req.ID, -32602, "Invalid params", err.Error())
		return
	}

	s.sessionsLock.Lock()
	sess, ok := s.sessions[p.SessionID]
	busy := ok && sess.cancel != nil
	var taskCtx context.Context
	if ok && !busy {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithCancel(s.ctx)
		sess.cancel = cancel
	}
	s.sessionsLock.Unlock()
	if !ok {
		_ = s.writeResponseError(req.ID, -32602, "Invalid params", "unknown sessionId")
		return
	}
	if busy {
		_ = s.writeResponseError(req.ID, -32600, "Invalid request", "a prompt is already running in this session")
		return
	}

	userText := extractUserText(p.Prompt)
	s.prompts.Add(1)
	go func() {
		defer s.prompts.Done()
		defer func() {
			s.sessionsLock.Lock()
			if sess.cancel != nil {
				sess.cancel()
				sess.cancel = nil
			}
			s.sessionsLock.Unlock()
		}()
		s.runPrompt(taskCtx, req.ID, p.SessionID, userText)
	}()
}

func (s *acpServer) runPrompt(ctx context.Context, id any, sessionID, userText string) {
	callbacks := agent.ProcessCallbacks{
		OnAssistantMessage: func(message string) {
			_ = s.sendAgentMessageChunk(sessionID, message)
		},
		OnToolCall: func(toolCall session.ToolCall) {
			if s.agent.Verbosity != agent.ToolVerbosityNone {
				_ = s.sendToolCallNotification(sessionID, toolCall)
			}
		},
		OnToolResult: func(toolCall session.ToolCall, result string) {
			if s.agent.Verbosity == agent.ToolVerbosityAll {
				_ = s.sendToolResultNotification(sessionID, toolCall.ID, result)
			}
		},
		OnWarning: func(warning string) {
			s.logger.Warn("task warning", "session", sessionID, "warning", warning)
		},
	}

	out, err := s.agent.Run(ctx, userText, callbacks)
	if out != nil && out.FinalResult != "" {
		_ = s.sendAgentMessageChunk(sessionID, out.FinalResult)
	}
	switch {
	case ctx.Err() != nil:
		_ = s.writeResponseOK(id, map[string]any{"stopReason": "cancelled"})
	case err != nil:
		_ = s.writeResponseError(id, -32603, "Internal error", fmt.Sprintf("task aborted: %v", err))
	default:
		_ = s.writeResponseOK(id, map[string]any{"stopReason": "end_turn"})
	}
}

// handleSessionCancel aborts the running task of a session. It is a
// notification, so no response is written unless it carries an id.
func (s *acpServer) handleSessionCancel(req *jsonrpcRequest) {
	var p struct {
		SessionID string `json:"sessionId"`
	}
	_ = decodeParams(req, &p)

	s.sessionsLock.Lock()
	sess, ok := s.sessions[p.SessionID]
	if ok && sess.cancel != nil {
		sess.cancel()
	}
	s.sessionsLock.Unlock()
	s.logger.Info("session cancel", "session", p.SessionID, "known", ok)

	if req.ID != nil {
		_ = s.writeResponseOK(req.ID, nil)
	}
}

// sendToolCallNotification emits a session/update notification for a tool call
func (s *acpServer) sendToolCallNotification(sessionID string, toolCall session.ToolCall) error {
	var args any = map[string]any{}
	if toolCall.Arguments != "" {
		args = json.RawMessage(toolCall.Arguments)
		if !json.Valid([]byte(toolCall.Arguments)) {
			args = toolCall.Arguments
		}
	}
	return s.writeNotification("session/update", map[string]any{
		"sessionId": sessionID,
		"update": map[string]any{
			"sessionUpdate": "tool_call",
			"toolCall": map[string]any{
				"id":   toolCall.ID,
				"name": toolCall.Name,
				"args": args,
			},
		},
	})
}

// sendToolResultNotification emits a session/update notification for a tool result
func (s *acpServer) sendToolResultNotification(sessionID, toolCallID, result string) error {
	return s.writeNotification("session/update", map[string]any{
		"sessionId": sessionID,
		"update": map[string]any{
			"sessionUpdate": "tool_result",
			"toolResult": map[string]any{
				"toolCallId": toolCallID,
				"result":     result,
			},
		},
	})
}

// sendAgentMessageChunk emits a session/update notification with an agent message chunk.
func (s *acpServer) sendAgentMessageChunk(sessionID, text string) error {
	return s.writeNotification("session/update", map[string]any{
		"sessionId": sessionID,
		"update": map[string]any{
			"sessionUpdate": "agent_message_chunk",
			"content": map[string]any{
				"type": "text",
				"text": text,
			},
		},
	})
}

// readFileFromURI reads file contents from a file:// URI
func readFileFromURI(uri string) (string, error) {
	parsedURL, err := url.Parse(uri)
	if err != nil {
		return "", errors.Wrapf(err, "invalid URI")
	}
	if parsedURL.Scheme != "file" {
		return "", errors.New("unsupported URI scheme: %s", parsedURL.Scheme)
	}
	content, err := os.ReadFile(parsedURL.Path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read file")
	}
	return string(content), nil
}

// extractUserText creates a single query from all content blocks. Linked
// files are inlined so the task sees them as part of the query.
func extractUserText(blocks []contentBlock) string {
	var parts []string
	for _, b := range blocks {
		switch b.Type {
		case "text":
			if strings.TrimSpace(b.Text) != "" {
				parts = append(parts, b.Text)
			}
		case "resource_link":
			var sb strings.Builder
			fmt.Fprintf(&sb, "=== Resource: %s ===\n", b.Name)
			if b.Title != "" {
				fmt.Fprintf(&sb, "Title: %s\n", b.Title)
			}
			if b.Description != "" {
				fmt.Fprintf(&sb, "Description: %s\n", b.Description)
			}
			fmt.Fprintf(&sb, "URI: %s\n", b.URI)
			if b.MimeType != "" {
				fmt.Fprintf(&sb, "Type: %s\n", b.MimeType)
			}
			if b.Size != nil {
				fmt.Fprintf(&sb, "Size: %d bytes\n", *b.Size)
			}

			if strings.HasPrefix(b.URI, "file://") {
				content, err := readFileFromURI(b.URI)
				if err != nil {
					fmt.Fprintf(&sb, "\n[Error reading file: %v]\n", err)
				} else {
					const maxContentSize = 50000
					if len(content) > maxContentSize {
						content = content[:maxContentSize] + "\n\n[... truncated to 50KB ...]"
					}
					fmt.Fprintf(&sb, "\n--- File Contents ---\n%s\n--- End of File ---\n", content)
				}
			} else {
				sb.WriteString("\n[External resource - content not available]\n")
			}

			sb.WriteString("=== End Resource ===\n")
			parts = append(parts, sb.String())
		}
	}
	return strings.Join(parts, "\n")
}
