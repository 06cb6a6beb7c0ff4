package llm

import (
	"context"
	"encoding/json"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/m4xw311/stepwise/errors"
	"github.com/m4xw311/stepwise/session"
	"github.com/m4xw311/stepwise/tools"
)

const defaultMaxTokens = 4096

// AnthropicLLMClient is a client for the Anthropic API.
type AnthropicLLMClient struct {
	client *anthropic.Client
	model  string
}

// NewAnthropicLLMClient creates a new AnthropicLLMClient.
func NewAnthropicLLMClient(ctx context.Context, modelName, apiKey string) (*AnthropicLLMClient, error) {
	if apiKey == "" {
		return nil, errors.New("no API key set for the Anthropic client")
	}

	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	)

	return &AnthropicLLMClient{
		client: &client,
		model:  modelName,
	}, nil
}

// Chat sends a chat request to the Anthropic API.
func (a *AnthropicLLMClient) Chat(ctx context.Context, messages []session.Message, catalog []tools.Descriptor, sp Sampling) (*session.Message, error) {
	anthropicMessages, systemPrompt := convertMessagesToAnthropicMessages(messages)

	maxTokens := sp.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: maxTokens,
		Messages:  anthropicMessages,
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: systemPrompt},
		}
	}
	if sp.Temperature != nil {
		params.Temperature = anthropic.Float(*sp.Temperature)
	}
	if sp.TopP != nil {
		params.TopP = anthropic.Float(*sp.TopP)
	}
	if anthropicTools := convertToolsToAnthropicTools(catalog); len(anthropicTools) > 0 {
		params.Tools = make([]anthropic.ToolUnionParam, len(anthropicTools))
		for i := range anthropicTools {
			params.Tools[i] = anthropic.ToolUnionParam{OfTool: &anthropicTools[i]}
		}
		params.ToolChoice = anthropic.ToolChoiceUnionParam{
			OfAuto: &anthropic.ToolChoiceAutoParam{DisableParallelToolUse: anthropic.Bool(true)},
		}
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to send message to Anthropic")
	}

	return processAnthropicResponse(resp), nil
}

// convertMessagesToAnthropicMessages converts our internal message format to Anthropic's format.
// System messages are joined into the returned system prompt.
func convertMessagesToAnthropicMessages(messages []session.Message) ([]anthropic.MessageParam, string) {
	var anthropicMessages []anthropic.MessageParam
	var systemPrompt string

	for _, msg := range messages {
		switch msg.Role {
		case session.RoleUser:
			anthropicMessages = append(anthropicMessages, anthropic.NewUserMessage(
				anthropic.NewTextBlock(msg.Content),
			))
		case session.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						ID:    tc.ID,
						Name:  tc.Name,
						Input: json.RawMessage(argumentsOrEmpty(tc.Arguments)),
					}})
			}
			if len(blocks) > 0 {
				anthropicMessages = append(anthropicMessages, anthropic.NewAssistantMessage(blocks...))
			}
		case session.RoleTool:
			anthropicMessages = append(anthropicMessages, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false),
			))
		case session.RoleSystem:
			if systemPrompt != "" {
				systemPrompt += "\n\n"
			}
			systemPrompt += msg.Content
		}
	}

	return anthropicMessages, systemPrompt
}

// convertToolsToAnthropicTools converts catalog entries to Anthropic's tool format.
func convertToolsToAnthropicTools(catalog []tools.Descriptor) []anthropic.ToolParam {
	if len(catalog) == 0 {
		return nil
	}

	var anthropicTools []anthropic.ToolParam
	for _, d := range catalog {
		schema := schemaMap(d.InputSchema)
		anthropicTools = append(anthropicTools, anthropic.ToolParam{
			Name:        d.QualifiedName,
			Description: anthropic.String(d.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: schema["properties"],
				Required:   requiredFields(schema),
			},
		})
	}
	return anthropicTools
}

func requiredFields(schema map[string]any) []string {
	raw, _ := schema["required"].([]any)
	var out []string
	for _, r := range raw {
		if s, ok := r.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// processAnthropicResponse converts an Anthropic API response into our internal session.Message format.
func processAnthropicResponse(resp *anthropic.Message) *session.Message {
	msg := &session.Message{Role: session.RoleAssistant}
	for _, content := range resp.Content {
		switch c := content.AsAny().(type) {
		case anthropic.TextBlock:
			msg.Content += c.Text
		case anthropic.ThinkingBlock:
			msg.Reasoning += c.Thinking
		case anthropic.ToolUseBlock:
			msg.ToolCalls = append(msg.ToolCalls, session.ToolCall{
				ID:        c.ID,
				Name:      c.Name,
				Arguments: string(c.Input),
			})
		}
	}
	return msg
}
