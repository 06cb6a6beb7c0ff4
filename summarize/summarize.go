// Package summarize shrinks oversized tool results into a short JSON object
// focused on the query being worked on.
package summarize

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/m4xw311/stepwise/errors"
	"github.com/m4xw311/stepwise/llm"
	"github.com/m4xw311/stepwise/session"
)

// MaxPromptChars bounds the rendered prompt; longer inputs are not sent.
const MaxPromptChars = 80000

// TooLongNotice replaces results whose prompt would exceed MaxPromptChars.
const TooLongNotice = "Content too long, you need to try another website or search another keyword"

// Status values reported by the summarizer.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

type Summary struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
	Status  string `json:"status"`
}

// String renders the summary as the JSON text appended to the conversation.
func (s Summary) String() string {
	data, err := json.Marshal(s)
	if err != nil {
		return s.Summary
	}
	return string(data)
}

type Summarizer interface {
	Summarize(ctx context.Context, query, content string) (Summary, error)
}

// LLMSummarizer asks a model to filter content down to what matters for the
// query. It makes no tool calls.
type LLMSummarizer struct {
	client llm.LLMClient
	params llm.Sampling
	logger *slog.Logger
}

func NewLLMSummarizer(client llm.LLMClient, params llm.Sampling, logger *slog.Logger) *LLMSummarizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMSummarizer{client: client, params: params, logger: logger}
}

// Summarize returns TooLongNotice as the summary, without calling the model,
// when the rendered prompt reaches MaxPromptChars.
func (s *LLMSummarizer) Summarize(ctx context.Context, query, content string) (Summary, error) {
	prompt := RenderPrompt(query, content)
	if len(prompt) >= MaxPromptChars {
		s.logger.Info("result too long to summarize", "chars", len(prompt))
		return Summary{Summary: TooLongNotice, Status: StatusError}, nil
	}

	resp, err := s.client.Chat(ctx, []session.Message{{Role: session.RoleUser, Content: prompt}}, nil, s.params)
	if err != nil {
		return Summary{}, errors.Wrapf(err, "summarize")
	}
	return Parse(resp.Content), nil
}

// Parse decodes the model's answer. Code fences and surrounding prose are
// tolerated; an answer with no JSON object is kept verbatim as the summary.
func Parse(text string) Summary {
	text = strings.TrimSpace(text)
	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		var sum Summary
		if err := json.Unmarshal([]byte(text[start:end+1]), &sum); err == nil && (sum.Summary != "" || sum.Title != "") {
			if sum.Status != StatusError {
				sum.Status = StatusSuccess
			}
			return sum
		}
	}
	return Summary{Summary: text, Status: StatusSuccess}
}

// RenderPrompt fills the filtering prompt with query and content.
func RenderPrompt(query, content string) string {
	r := strings.NewReplacer("{query}", query, "{content}", content)
	return r.Replace(promptTemplate)
}

const promptTemplate = `Based on the query: "{query}", filter this content to keep only the most relevant information.

Your task is to:
1. Mandatory: Retain ALL information directly relevant to the query
2. Mandatory: Keep URLs and links that provide useful resources related to the query
3. Mandatory: Filter out URLs and content that are not helpful for addressing the query
4. Mandatory: Preserve technical details, specifications, and instructions related to the query
5. Mandatory: Maintain the connection between relevant information and its corresponding URLs

Format your response as a JSON object without code block markers, containing:
- "title": A descriptive title reflecting the query focus (5-12 words)
- "summary": Filtered content with only query-relevant information and URLs
- "status": "success" if the content is relevant to the query, "error" if the content is irrelevant or contains incorrect information

Content to process:
{content}

Filtering guidelines:
- Keep URLs that provide resources, tools, downloads, or information directly related to the query
- Remove URLs to general pages, social media, promotional content, or unrelated material
- Keep all technical specifications, code samples, or detailed instructions that address the query
- Preserve product names, model numbers, and version information relevant to the query
- Remove generic content, filler text, or background information that doesn't help answer the query

Error detection guidelines:
- Set "status" to "error" if the content is about a completely different topic than the query
- Set "status" to "error" if the content contains obvious factual errors or contradictions
- Set "status" to "error" if the content appears to be machine-translated or unintelligible
- When setting "status" to "error", include a brief explanation in the summary field

Output only the JSON object.`
