package llm

import (
	"context"
	"encoding/json"

	"github.com/google/generative-ai-go/genai"
	"github.com/m4xw311/stepwise/errors"
	"github.com/m4xw311/stepwise/session"
	"github.com/m4xw311/stepwise/tools"
	"google.golang.org/api/option"
)

// GeminiLLMClient is a client for the Google Gemini API.
type GeminiLLMClient struct {
	client    *genai.Client
	modelName string
}

// NewGeminiLLMClient creates a new GeminiLLMClient.
func NewGeminiLLMClient(ctx context.Context, modelName, apiKey string) (*GeminiLLMClient, error) {
	if apiKey == "" {
		return nil, errors.New("no API key set for the Gemini client")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create genai client")
	}

	return &GeminiLLMClient{client: client, modelName: modelName}, nil
}

// Chat sends a chat request to the Gemini API. A fresh model handle is used
// per call because tools and generation settings live on it.
func (g *GeminiLLMClient) Chat(ctx context.Context, messages []session.Message, catalog []tools.Descriptor, sp Sampling) (*session.Message, error) {
	history, systemPrompt := convertMessagesToGeminiContent(messages)
	if len(history) == 0 {
		return nil, errors.New("no messages to send to Gemini")
	}

	model := g.client.GenerativeModel(g.modelName)
	model.Tools = convertToolsToGeminiTools(catalog)
	if systemPrompt != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemPrompt)}}
	}
	if sp.Temperature != nil {
		model.SetTemperature(float32(*sp.Temperature))
	}
	if sp.TopP != nil {
		model.SetTopP(float32(*sp.TopP))
	}
	if sp.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(sp.MaxTokens))
	}

	// The last message is the new prompt.
	lastMessage := history[len(history)-1]

	chatSession := model.StartChat()
	chatSession.History = history[:len(history)-1]
	resp, err := chatSession.SendMessage(ctx, lastMessage.Parts...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to send message to Gemini")
	}

	return processGeminiResponse(resp)
}

// convertMessagesToGeminiContent converts our internal message format to
// Gemini's, merging consecutive same-role turns since Gemini requires the
// roles to alternate.
func convertMessagesToGeminiContent(messages []session.Message) ([]*genai.Content, string) {
	var contents []*genai.Content
	var systemPrompt string
	add := func(role string, parts ...genai.Part) {
		if n := len(contents); n > 0 && contents[n-1].Role == role {
			contents[n-1].Parts = append(contents[n-1].Parts, parts...)
			return
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}

	for _, msg := range messages {
		switch msg.Role {
		case session.RoleSystem:
			if systemPrompt != "" {
				systemPrompt += "\n\n"
			}
			systemPrompt += msg.Content
		case session.RoleAssistant:
			var parts []genai.Part
			if msg.Content != "" {
				parts = append(parts, genai.Text(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				parts = append(parts, genai.FunctionCall{Name: tc.Name, Args: argumentsMap(tc.Arguments)})
			}
			if len(parts) > 0 {
				add("model", parts...)
			}
		case session.RoleTool:
			add("user", genai.FunctionResponse{
				Name:     msg.Name,
				Response: map[string]any{"result": msg.Content},
			})
		default:
			add("user", genai.Text(msg.Content))
		}
	}
	return contents, systemPrompt
}

// convertToolsToGeminiTools converts catalog entries to Gemini's FunctionDeclaration format.
func convertToolsToGeminiTools(catalog []tools.Descriptor) []*genai.Tool {
	if len(catalog) == 0 {
		return nil
	}
	var funcDecls []*genai.FunctionDeclaration
	for _, d := range catalog {
		funcDecls = append(funcDecls, &genai.FunctionDeclaration{
			Name:        d.QualifiedName,
			Description: d.Description,
			Parameters:  toGeminiSchema(schemaMap(d.InputSchema)),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: funcDecls}}
}

// toGeminiSchema maps the subset of JSON schema Gemini understands.
func toGeminiSchema(m map[string]any) *genai.Schema {
	s := &genai.Schema{}
	switch m["type"] {
	case "string":
		s.Type = genai.TypeString
	case "number":
		s.Type = genai.TypeNumber
	case "integer":
		s.Type = genai.TypeInteger
	case "boolean":
		s.Type = genai.TypeBoolean
	case "array":
		s.Type = genai.TypeArray
	default:
		s.Type = genai.TypeObject
	}
	if desc, ok := m["description"].(string); ok {
		s.Description = desc
	}
	if enum, ok := m["enum"].([]any); ok {
		for _, e := range enum {
			if str, ok := e.(string); ok {
				s.Enum = append(s.Enum, str)
			}
		}
	}
	if items, ok := m["items"].(map[string]any); ok {
		s.Items = toGeminiSchema(items)
	} else if s.Type == genai.TypeArray {
		s.Items = &genai.Schema{Type: genai.TypeString}
	}
	if props, ok := m["properties"].(map[string]any); ok && len(props) > 0 {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, p := range props {
			pm, ok := p.(map[string]any)
			if !ok {
				pm = map[string]any{}
			}
			s.Properties[name] = toGeminiSchema(pm)
		}
	}
	s.Required = requiredFields(m)
	return s
}

// processGeminiResponse converts a Gemini API response into our internal session.Message format.
func processGeminiResponse(resp *genai.GenerateContentResponse) (*session.Message, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, errors.New("received an empty response from Gemini")
	}

	msg := &session.Message{Role: session.RoleAssistant}
	for _, part := range resp.Candidates[0].Content.Parts {
		switch v := part.(type) {
		case genai.Text:
			msg.Content += string(v)
		case genai.FunctionCall:
			args, err := json.Marshal(v.Args)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to encode arguments for '%s'", v.Name)
			}
			// Gemini does not assign call ids; the Adapter fills them in.
			msg.ToolCalls = append(msg.ToolCalls, session.ToolCall{Name: v.Name, Arguments: string(args)})
		default:
			return nil, errors.New("unsupported part type in Gemini response: %T", v)
		}
	}
	return msg, nil
}
