package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/m4xw311/stepwise/llm"
	"github.com/m4xw311/stepwise/session"
)

const selectInstruction = "You are an assistant which helps me to finish a complex job. Tools may be given to you " +
	"and you must choose which tools are required, list them in a json array and wrap it in a " +
	BoxOpen + BoxClose + ". At least you should use a search tool and a crawler if they are available."

// SelectProviders asks the model which of the available providers the job
// needs. The answer must be a JSON array of names inside box tags. Unknown
// names are ignored; an unusable answer selects every available provider.
// Model call failures are returned.
func SelectProviders(ctx context.Context, client llm.LLMClient, query string, available []string, params llm.Sampling, logger *slog.Logger) ([]string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(available) == 0 {
		return nil, nil
	}
	availableJSON, _ := json.Marshal(available)
	messages := []session.Message{
		{Role: session.RoleSystem, Content: selectInstruction},
		{Role: session.RoleUser, Content: fmt.Sprintf("The user job: %s, all available tools: %s", query, availableJSON)},
	}
	resp, err := client.Chat(ctx, messages, nil, params)
	if err != nil {
		return nil, err
	}

	chosen, ok := parseSelection(resp.Content, available)
	if !ok {
		logger.Warn("could not parse provider selection, using all providers", "answer", resp.Content)
		return available, nil
	}
	logger.Info("providers selected", "providers", chosen)
	return chosen, nil
}

func parseSelection(content string, available []string) ([]string, bool) {
	block, ok := ExtractBlock(content, BoxOpen, BoxClose)
	if !ok {
		return nil, false
	}
	var names []string
	if err := json.Unmarshal([]byte(block), &names); err != nil {
		return nil, false
	}
	known := make(map[string]bool, len(available))
	for _, name := range available {
		known[name] = true
	}
	seen := map[string]bool{}
	var out []string
	for _, name := range names {
		if known[name] && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}
