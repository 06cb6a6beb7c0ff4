package llm

import (
	"context"
	"os"

	"github.com/google/uuid"
	"github.com/m4xw311/stepwise/config"
	"github.com/m4xw311/stepwise/errors"
	"github.com/m4xw311/stepwise/session"
	"github.com/m4xw311/stepwise/tools"
)

// Sampling holds per-request generation parameters. Nil pointers and a zero
// MaxTokens leave the backend default in place.
type Sampling struct {
	Temperature *float64
	TopP        *float64
	MaxTokens   int64
}

// SamplingFrom converts the configured sampling block.
func SamplingFrom(s config.Sampling) Sampling {
	return Sampling{Temperature: s.Temperature, TopP: s.TopP, MaxTokens: s.MaxTokens}
}

// LLMClient is the interface for interacting with a Large Language Model.
// One call issues exactly one outbound request; the caller decides what to
// append to the conversation.
type LLMClient interface {
	Chat(ctx context.Context, messages []session.Message, catalog []tools.Descriptor, params Sampling) (*session.Message, error)
}

// NewClient builds the backend named by cfg.LLMClient wrapped in an Adapter
// carrying the configured retry policy.
func NewClient(ctx context.Context, cfg *config.Config) (*Adapter, error) {
	var backend LLMClient
	var err error
	switch cfg.LLMClient {
	case "openai":
		backend, err = NewOpenAILLMClient(ctx, cfg.Model, cfg.BaseURL, apiKey(cfg, "OPENAI_API_KEY"))
	case "anthropic":
		backend, err = NewAnthropicLLMClient(ctx, cfg.Model, apiKey(cfg, "ANTHROPIC_API_KEY"))
	case "bedrock":
		backend, err = NewBedrockLLMClient(ctx, cfg.Model)
	case "gemini":
		backend, err = NewGeminiLLMClient(ctx, cfg.Model, apiKey(cfg, "GEMINI_API_KEY"))
	case "mock":
		backend = &MockLLMClient{}
	default:
		return nil, errors.New("unknown llm client '%s'", cfg.LLMClient)
	}
	if err != nil {
		return nil, err
	}
	return NewAdapter(backend, cfg.Retry, nil), nil
}

func apiKey(cfg *config.Config, fallbackEnv string) string {
	name := cfg.APIKeyEnv
	if name == "" {
		name = fallbackEnv
	}
	return os.Getenv(name)
}

// newCallID synthesizes a tool call id for backends that do not return one.
func newCallID() string {
	return "call_" + uuid.NewString()
}

// MockLLMClient replays a fixed script of responses, one per call. When the
// script runs out it answers with a completion marker so loops terminate.
type MockLLMClient struct {
	Responses []session.Message
	// Errs, when set, is consulted before Responses; a non-nil entry is
	// returned as that call's error.
	Errs []error

	calls    int
	Received [][]session.Message
}

func (m *MockLLMClient) Chat(ctx context.Context, messages []session.Message, catalog []tools.Descriptor, params Sampling) (*session.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snapshot := make([]session.Message, len(messages))
	copy(snapshot, messages)
	m.Received = append(m.Received, snapshot)

	i := m.calls
	m.calls++
	if i < len(m.Errs) && m.Errs[i] != nil {
		return nil, m.Errs[i]
	}
	if i < len(m.Errs) {
		i -= countErrs(m.Errs[:i+1])
	} else {
		i -= countErrs(m.Errs)
	}
	if i >= 0 && i < len(m.Responses) {
		msg := m.Responses[i]
		msg.ToolCalls = append([]session.ToolCall(nil), msg.ToolCalls...)
		return &msg, nil
	}
	return &session.Message{Role: session.RoleAssistant, Content: "Nothing left to do. <task_done>"}, nil
}

// Calls returns how many requests the mock has received.
func (m *MockLLMClient) Calls() int { return m.calls }

func countErrs(errs []error) int {
	n := 0
	for _, err := range errs {
		if err != nil {
			n++
		}
	}
	return n
}
