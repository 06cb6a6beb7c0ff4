package session

import (
	"strings"
)

// Roles used in a conversation.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolCall is a single tool invocation proposed by the model. Name is the
// qualified "<provider>---<tool>" name and Arguments the raw JSON text the
// model produced, which may be malformed.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant", "tool"
	Content string `json:"content"`
	// Reasoning carries provider-specific thinking text; it is never sent back.
	Reasoning  string     `json:"reasoning,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	// Name is the qualified tool name on tool result messages.
	Name string `json:"name,omitempty"`
}

// HasToolCall reports whether the message proposes a tool call.
func (m Message) HasToolCall() bool {
	return len(m.ToolCalls) > 0
}

// CallsTool reports whether the first proposed tool call's name contains tool.
func (m Message) CallsTool(tool string) bool {
	return len(m.ToolCalls) > 0 && strings.Contains(m.ToolCalls[0].Name, tool)
}

// History is the ordered conversation of one task execution. It is owned by
// a single orchestrator run and never shared.
type History struct {
	Messages []Message `json:"messages"`
}

// New seeds a history. With a system role the instruction and query become a
// system+user pair; otherwise they are joined into a single user message.
func New(instruction, query string, useSystemRole bool) *History {
	if useSystemRole {
		return &History{Messages: []Message{
			{Role: RoleSystem, Content: instruction},
			{Role: RoleUser, Content: query},
		}}
	}
	return &History{Messages: []Message{
		{Role: RoleUser, Content: instruction + Connector + query},
	}}
}

// Connector separates the instruction from the user query when both share a
// single user message.
const Connector = "\n\nHere gives the user query:\n\n"

// AddMessage appends a message to the history.
func (h *History) AddMessage(msg Message) {
	h.Messages = append(h.Messages, msg)
}

// Len returns the number of messages.
func (h *History) Len() int { return len(h.Messages) }

// PreambleLen returns the number of leading messages that are never
// compacted: the system+user pair, or the single combined user message.
func (h *History) PreambleLen() int {
	if len(h.Messages) == 0 {
		return 0
	}
	if h.Messages[0].Role == RoleSystem {
		if len(h.Messages) < 2 {
			return 1
		}
		return 2
	}
	return 1
}

// Preamble returns a copy of the leading preamble messages.
func (h *History) Preamble() []Message {
	n := h.PreambleLen()
	out := make([]Message, n)
	copy(out, h.Messages[:n])
	return out
}

// ResetToPreamble drops everything after the preamble.
func (h *History) ResetToPreamble() {
	h.Messages = h.Preamble()
}

// Size approximates the history's footprint in characters.
func (h *History) Size() int {
	n := 0
	for _, m := range h.Messages {
		n += len(m.Content)
		for _, tc := range m.ToolCalls {
			n += len(tc.Name) + len(tc.Arguments)
		}
	}
	return n
}
