package llm

import (
	"encoding/json"
	"testing"

	"github.com/google/generative-ai-go/genai"

	"github.com/m4xw311/stepwise/session"
	"github.com/m4xw311/stepwise/tools"
)

func TestConvertMessagesToAnthropicMessages(t *testing.T) {
	msgs, system := convertMessagesToAnthropicMessages([]session.Message{
		{Role: session.RoleSystem, Content: "rules"},
		{Role: session.RoleUser, Content: "hi"},
		{Role: session.RoleAssistant, Content: "", ToolCalls: []session.ToolCall{{ID: "t1", Name: "a---b", Arguments: `{"x":1}`}}},
		{Role: session.RoleTool, ToolCallID: "t1", Content: "done"},
		{Role: session.RoleAssistant},
	})
	if system != "rules" {
		t.Errorf("system = %q", system)
	}
	// The empty assistant turn is dropped.
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	use := msgs[1].Content[0].OfToolUse
	if use == nil || use.ID != "t1" {
		t.Fatalf("tool use block = %+v", msgs[1].Content[0])
	}
	if raw, _ := json.Marshal(use.Input); string(raw) != `{"x":1}` {
		t.Errorf("tool input = %s", raw)
	}
	if msgs[2].Content[0].OfToolResult == nil {
		t.Error("tool message should become a tool_result block")
	}
}

func TestConvertToolsToAnthropicTools(t *testing.T) {
	ts := convertToolsToAnthropicTools([]tools.Descriptor{{
		QualifiedName: "notebook---create_execution_plan",
		InputSchema:   json.RawMessage(`{"type":"object","properties":{"plans":{"type":"array"}},"required":["plans"]}`),
	}})
	if len(ts) != 1 {
		t.Fatalf("got %d tools", len(ts))
	}
	if len(ts[0].InputSchema.Required) != 1 || ts[0].InputSchema.Required[0] != "plans" {
		t.Errorf("required = %v", ts[0].InputSchema.Required)
	}
}

func TestToGeminiSchema(t *testing.T) {
	s := toGeminiSchema(schemaMap(json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "what to find"},
			"limit": {"type": "integer"},
			"domains": {"type": "array", "items": {"type": "string"}},
			"mode": {"type": "string", "enum": ["fast", "deep"]}
		},
		"required": ["query"]
	}`)))
	if s.Type != genai.TypeObject || len(s.Properties) != 4 {
		t.Fatalf("schema = %+v", s)
	}
	if s.Properties["limit"].Type != genai.TypeInteger {
		t.Errorf("limit type = %v", s.Properties["limit"].Type)
	}
	if s.Properties["domains"].Items == nil || s.Properties["domains"].Items.Type != genai.TypeString {
		t.Errorf("domains items = %+v", s.Properties["domains"].Items)
	}
	if len(s.Properties["mode"].Enum) != 2 {
		t.Errorf("enum = %v", s.Properties["mode"].Enum)
	}
	if len(s.Required) != 1 || s.Required[0] != "query" {
		t.Errorf("required = %v", s.Required)
	}
}

func TestConvertMessagesToGeminiContent(t *testing.T) {
	contents, system := convertMessagesToGeminiContent([]session.Message{
		{Role: session.RoleSystem, Content: "rules"},
		{Role: session.RoleUser, Content: "hi"},
		{Role: session.RoleAssistant, ToolCalls: []session.ToolCall{{ID: "c", Name: "a---b", Arguments: `{"q":"x"}`}}},
		{Role: session.RoleTool, ToolCallID: "c", Name: "a---b", Content: "out"},
		{Role: session.RoleUser, Content: "continue"},
	})
	if system != "rules" {
		t.Errorf("system = %q", system)
	}
	// Tool result and following user text merge into one user turn.
	if len(contents) != 3 {
		t.Fatalf("got %d contents, want 3", len(contents))
	}
	if contents[1].Role != "model" {
		t.Errorf("role = %s", contents[1].Role)
	}
	call, ok := contents[1].Parts[0].(genai.FunctionCall)
	if !ok || call.Args["q"] != "x" {
		t.Errorf("function call = %+v", contents[1].Parts[0])
	}
	if len(contents[2].Parts) != 2 {
		t.Errorf("merged user parts = %d", len(contents[2].Parts))
	}
	if resp, ok := contents[2].Parts[0].(genai.FunctionResponse); !ok || resp.Name != "a---b" {
		t.Errorf("function response = %+v", contents[2].Parts[0])
	}
}
