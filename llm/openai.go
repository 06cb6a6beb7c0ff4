package llm

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/m4xw311/stepwise/errors"
	"github.com/m4xw311/stepwise/session"
	"github.com/m4xw311/stepwise/tools"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// OpenAILLMClient is a client for OpenAI-compatible Chat Completion APIs.
type OpenAILLMClient struct {
	client *openai.Client
	model  string
}

// NewOpenAILLMClient creates a new OpenAILLMClient. baseURL may point at any
// OpenAI-compatible endpoint; empty means the official API.
func NewOpenAILLMClient(ctx context.Context, modelName, baseURL, apiKey string) (*OpenAILLMClient, error) {
	if apiKey == "" {
		return nil, errors.New("no API key set for the OpenAI client")
	}

	// Retries are owned by the Adapter.
	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}

	// The v2 SDK uses functional options for configuration.
	c := openai.NewClient(options...)
	// The &c is required, dn not replace and just use c
	return &OpenAILLMClient{client: &c, model: modelName}, nil
}

// Chat sends a chat request and converts the response into our internal session.Message format.
func (o *OpenAILLMClient) Chat(ctx context.Context, messages []session.Message, catalog []tools.Descriptor, sp Sampling) (*session.Message, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(o.model),
		Messages: convertMessagesToOpenaiContent(messages),
		Tools:    convertToolsToOpenAITools(catalog),
	}
	if len(params.Tools) > 0 {
		params.ParallelToolCalls = openai.Bool(false)
	}
	if sp.Temperature != nil {
		params.Temperature = openai.Float(*sp.Temperature)
	}
	if sp.TopP != nil {
		params.TopP = openai.Float(*sp.TopP)
	}
	if sp.MaxTokens > 0 {
		// max_tokens rather than max_completion_tokens: most compatible
		// endpoints only understand the former.
		params.MaxTokens = openai.Int(sp.MaxTokens)
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to send message to OpenAI")
	}

	return processOpenaiResponse(resp), nil
}

// processOpenaiResponse converts an OpenAI API response into our internal session.Message format.
// Arguments are kept as raw text so malformed JSON surfaces at dispatch, not here.
func processOpenaiResponse(resp *openai.ChatCompletion) *session.Message {
	if len(resp.Choices) == 0 {
		return &session.Message{Role: session.RoleAssistant}
	}

	choice := resp.Choices[0].Message
	msg := &session.Message{
		Role:      session.RoleAssistant,
		Content:   choice.Content,
		Reasoning: reasoningContent(choice),
	}
	for _, tc := range choice.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, session.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return msg
}

// reasoningContent reads the non-standard reasoning_content field that
// reasoning models behind compatible endpoints return.
func reasoningContent(msg openai.ChatCompletionMessage) string {
	field, ok := msg.JSON.ExtraFields["reasoning_content"]
	if !ok {
		return ""
	}
	raw := strings.TrimSpace(field.Raw())
	if raw == "" || raw == "null" {
		return ""
	}
	var text string
	if err := json.Unmarshal([]byte(raw), &text); err != nil {
		return raw
	}
	return text
}

// convertMessagesToOpenaiContent converts our internal message format to OpenAI's.
func convertMessagesToOpenaiContent(messages []session.Message) []openai.ChatCompletionMessageParamUnion {
	var chatMessages []openai.ChatCompletionMessageParamUnion
	for _, msg := range messages {
		switch msg.Role {
		case session.RoleSystem:
			chatMessages = append(chatMessages, openai.SystemMessage(msg.Content))
		case session.RoleAssistant:
			assistantMessage := openai.ChatCompletionMessage{
				Role:    "assistant",
				Content: msg.Content,
			}
			if len(msg.ToolCalls) > 0 {
				var toolCalls []openai.ChatCompletionMessageToolCallUnion
				for _, tc := range msg.ToolCalls {
					toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallUnion{
						ID:   tc.ID,
						Type: "function",
						Function: openai.ChatCompletionMessageFunctionToolCallFunction{
							Name:      tc.Name,
							Arguments: argumentsOrEmpty(tc.Arguments),
						},
					})
				}
				assistantMessage.ToolCalls = toolCalls
			}
			chatMessages = append(chatMessages, assistantMessage.ToParam())
		case session.RoleTool:
			chatMessages = append(chatMessages, openai.ToolMessage(msg.Content, msg.ToolCallID))
		case session.RoleUser:
			fallthrough
		default:
			chatMessages = append(chatMessages, openai.UserMessage(msg.Content))
		}
	}
	return chatMessages
}

// convertToolsToOpenAITools converts catalog entries to the OpenAI tool format,
// passing each tool's advertised input schema through.
func convertToolsToOpenAITools(catalog []tools.Descriptor) []openai.ChatCompletionToolUnionParam {
	if len(catalog) == 0 {
		return nil
	}
	var openAITools []openai.ChatCompletionToolUnionParam
	for _, d := range catalog {
		toolParam := openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        d.QualifiedName,
			Description: openai.String(d.Description),
			Parameters:  openai.FunctionParameters(schemaMap(d.InputSchema)),
		})
		openAITools = append(openAITools, toolParam)
	}
	return openAITools
}

// schemaMap decodes a JSON schema object, falling back to an empty object
// schema when it is missing or not an object.
func schemaMap(raw json.RawMessage) map[string]any {
	m := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &m); err != nil || m == nil {
			m = map[string]any{}
		}
	}
	if _, ok := m["type"]; !ok {
		m["type"] = "object"
	}
	if _, ok := m["properties"]; !ok {
		m["properties"] = map[string]any{}
	}
	return m
}

// argumentsOrEmpty replaces blank or invalid argument text with "{}" so a
// replayed history is always accepted by strict backends.
func argumentsOrEmpty(args string) string {
	if strings.TrimSpace(args) == "" || !json.Valid([]byte(args)) {
		return "{}"
	}
	return args
}

// argumentsMap decodes tool call arguments into a map, empty on failure.
func argumentsMap(args string) map[string]any {
	m := map[string]any{}
	_ = json.Unmarshal([]byte(argumentsOrEmpty(args)), &m)
	if m == nil {
		m = map[string]any{}
	}
	return m
}
