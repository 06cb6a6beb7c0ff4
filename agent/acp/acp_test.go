package acp

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/m4xw311/stepwise/agent"
	"github.com/m4xw311/stepwise/llm"
	"github.com/m4xw311/stepwise/session"
	"github.com/m4xw311/stepwise/tools"
)

// blockingClient blocks every call until its context is canceled.
type blockingClient struct {
	started chan struct{}
}

func (c *blockingClient) Chat(ctx context.Context, messages []session.Message, catalog []tools.Descriptor, params llm.Sampling) (*session.Message, error) {
	close(c.started)
	<-ctx.Done()
	return nil, ctx.Err()
}

type harness struct {
	t      *testing.T
	stdin  *io.PipeWriter
	stdout *bufio.Reader
	done   chan error
}

func startServer(t *testing.T, client llm.LLMClient) *harness {
	t.Helper()
	a := agent.New(client, tools.NewRegistry(nil), nil,
		agent.Options{Instruction: "instruction", Notebook: true}, agent.ModeAuto, agent.ToolVerbosityAll, nil)

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	h := &harness{t: t, stdin: inW, stdout: bufio.NewReader(outR), done: make(chan error, 1)}
	go func() {
		h.done <- Run(context.Background(), a, bufio.NewReader(inR), bufio.NewWriter(outW), nil)
		outW.Close()
	}()
	return h
}

func (h *harness) send(msg string) {
	h.t.Helper()
	if _, err := io.WriteString(h.stdin, msg+"\n"); err != nil {
		h.t.Fatalf("write: %v", err)
	}
}

// next reads the next message from the server.
func (h *harness) next() map[string]any {
	h.t.Helper()
	line, err := h.stdout.ReadBytes('\n')
	if err != nil {
		h.t.Fatalf("read: %v", err)
	}
	var msg map[string]any
	if err := json.Unmarshal(line, &msg); err != nil {
		h.t.Fatalf("bad JSON from server %q: %v", line, err)
	}
	return msg
}

// response reads messages until the response with the given id, returning
// it along with the notifications seen before it.
func (h *harness) response(id float64) (map[string]any, []map[string]any) {
	h.t.Helper()
	var notes []map[string]any
	for {
		msg := h.next()
		if got, ok := msg["id"].(float64); ok && got == id {
			return msg, notes
		}
		notes = append(notes, msg)
	}
}

func (h *harness) newSession() string {
	h.t.Helper()
	h.send(`{"jsonrpc":"2.0","id":1,"method":"session/new","params":{"cwd":"/tmp","mcpServers":[]}}`)
	resp, _ := h.response(1)
	result, _ := resp["result"].(map[string]any)
	sid, _ := result["sessionId"].(string)
	if !strings.HasPrefix(sid, "sess_") {
		h.t.Fatalf("session/new response = %v", resp)
	}
	return sid
}

func (h *harness) close() {
	h.t.Helper()
	h.stdin.Close()
	select {
	case err := <-h.done:
		if err != nil {
			h.t.Errorf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		h.t.Fatal("server did not exit")
	}
}

func TestACPInit(t *testing.T) {
	h := startServer(t, &llm.MockLLMClient{})

	h.send(`{"jsonrpc":"2.0","id":0,"method":"initialize","params":{"protocolVersion":1,"clientCapabilities":{"fs":{"readTextFile":true}}}}`)
	resp, _ := h.response(0)
	result, ok := resp["result"].(map[string]any)
	if !ok {
		t.Fatalf("initialize response = %v", resp)
	}
	if result["protocolVersion"] != float64(1) {
		t.Errorf("protocolVersion = %v", result["protocolVersion"])
	}
	caps, _ := result["agentCapabilities"].(map[string]any)
	if caps["loadSession"] != false {
		t.Errorf("loadSession should be advertised as unsupported: %v", caps)
	}

	h.send(`{"jsonrpc":"2.0","id":7,"method":"session/load","params":{}}`)
	resp, _ = h.response(7)
	if errObj, _ := resp["error"].(map[string]any); errObj["code"] != float64(-32601) {
		t.Errorf("session/load response = %v", resp)
	}
	h.close()
}

func TestACPPrompt(t *testing.T) {
	client := &llm.MockLLMClient{Responses: []session.Message{
		{Role: session.RoleAssistant, ToolCalls: []session.ToolCall{{ID: "c1", Name: "notebook---verify_task_completion", Arguments: "{}"}}},
		{Role: session.RoleAssistant, Content: "<result>done it</result><task_done>"},
	}}
	h := startServer(t, client)
	sid := h.newSession()

	h.send(`{"jsonrpc":"2.0","id":2,"method":"session/prompt","params":{"sessionId":"` + sid + `","prompt":[{"type":"text","text":"do it"}]}}`)
	resp, notes := h.response(2)
	result, _ := resp["result"].(map[string]any)
	if result["stopReason"] != "end_turn" {
		t.Fatalf("prompt response = %v", resp)
	}

	kinds := map[string]int{}
	var lastText string
	for _, n := range notes {
		params, _ := n["params"].(map[string]any)
		update, _ := params["update"].(map[string]any)
		kind, _ := update["sessionUpdate"].(string)
		kinds[kind]++
		if kind == "agent_message_chunk" {
			content, _ := update["content"].(map[string]any)
			lastText, _ = content["text"].(string)
		}
	}
	if kinds["tool_call"] != 1 || kinds["tool_result"] != 1 {
		t.Errorf("updates = %v", kinds)
	}
	if lastText != "done it" {
		t.Errorf("last message chunk = %q, want the final result", lastText)
	}
	h.close()
}

func TestACPUnknownSession(t *testing.T) {
	h := startServer(t, &llm.MockLLMClient{})
	h.send(`{"jsonrpc":"2.0","id":3,"method":"session/prompt","params":{"sessionId":"nope","prompt":[]}}`)
	resp, _ := h.response(3)
	if errObj, _ := resp["error"].(map[string]any); errObj["code"] != float64(-32602) {
		t.Errorf("response = %v", resp)
	}
	h.close()
}

func TestACPCancel(t *testing.T) {
	client := &blockingClient{started: make(chan struct{})}
	h := startServer(t, client)
	sid := h.newSession()

	h.send(`{"jsonrpc":"2.0","id":4,"method":"session/prompt","params":{"sessionId":"` + sid + `","prompt":[{"type":"text","text":"slow"}]}}`)
	select {
	case <-client.started:
	case <-time.After(5 * time.Second):
		t.Fatal("task did not start")
	}
	h.send(`{"jsonrpc":"2.0","method":"session/cancel","params":{"sessionId":"` + sid + `"}}`)

	resp, _ := h.response(4)
	result, _ := resp["result"].(map[string]any)
	if result["stopReason"] != "cancelled" {
		t.Fatalf("prompt response = %v", resp)
	}
	h.close()
}

// TestExtractUserTextWithResourceLink tests the extractUserText function with ResourceLink content blocks
func TestExtractUserTextWithResourceLink(t *testing.T) {
	testDir := t.TempDir()
	testFile := filepath.Join(testDir, "test.txt")
	testContent := "This is test file content"
	if err := os.WriteFile(testFile, []byte(testContent), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}
	fileURI := "file://" + testFile

	tests := []struct {
		name     string
		blocks   []contentBlock
		expected string
		contains []string
	}{
		{
			name: "text only",
			blocks: []contentBlock{
				{Type: "text", Text: "Hello"},
				{Type: "text", Text: "World"},
			},
			expected: "Hello\nWorld",
		},
		{
			name: "resource_link with file",
			blocks: []contentBlock{
				{Type: "text", Text: "Check this file:"},
				{
					Type:        "resource_link",
					URI:         fileURI,
					Name:        "test.txt",
					MimeType:    "text/plain",
					Title:       "Test File",
					Description: "A test file",
				},
			},
			contains: []string{
				"Check this file:",
				"=== Resource: test.txt ===",
				"Title: Test File",
				"Description: A test file",
				"URI: file://",
				"Type: text/plain",
				"--- File Contents ---",
				testContent,
				"--- End of File ---",
			},
		},
		{
			name: "resource_link with non-file URI",
			blocks: []contentBlock{
				{Type: "resource_link", URI: "https://example.com/file.txt", Name: "remote.txt"},
			},
			contains: []string{
				"=== Resource: remote.txt ===",
				"URI: https://example.com/file.txt",
				"[External resource - content not available]",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := extractUserText(tt.blocks)
			if tt.expected != "" && result != tt.expected {
				t.Errorf("extractUserText() = %q, want %q", result, tt.expected)
			}
			for _, substr := range tt.contains {
				if !strings.Contains(result, substr) {
					t.Errorf("extractUserText() result does not contain %q\nGot: %q", substr, result)
				}
			}
		})
	}
}
