package agent

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/m4xw311/stepwise/llm"
	"github.com/m4xw311/stepwise/session"
)

func TestSelectProviders(t *testing.T) {
	available := []string{"web-search", "crawler", "pages"}
	tests := []struct {
		name   string
		answer string
		want   []string
	}{
		{"boxed list", `I need <box>["crawler","web-search"]</box>`, []string{"crawler", "web-search"}},
		{"unknown names dropped", `<box>["web-search","ghost","web-search"]</box>`, []string{"web-search"}},
		{"no box falls back to all", `["crawler"]`, available},
		{"bad json falls back to all", `<box>crawler, pages</box>`, available},
		{"only unknown falls back to all", `<box>["ghost"]</box>`, available},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &llm.MockLLMClient{Responses: []session.Message{{Role: session.RoleAssistant, Content: tt.answer}}}
			got, err := SelectProviders(context.Background(), client, "make a site", available, llm.Sampling{}, nil)
			if err != nil {
				t.Fatalf("SelectProviders() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("SelectProviders() = %v, want %v", got, tt.want)
			}
			sent := client.Received[0]
			if len(sent) != 2 || !strings.Contains(sent[1].Content, `"pages"`) {
				t.Errorf("request = %+v", sent)
			}
		})
	}
}

func TestSelectProvidersModelError(t *testing.T) {
	client := &llm.MockLLMClient{Errs: []error{fmt.Errorf("boom")}}
	if _, err := SelectProviders(context.Background(), client, "q", []string{"a"}, llm.Sampling{}, nil); err == nil {
		t.Errorf("SelectProviders() should return the model error")
	}
}

func TestSelectProvidersNothingAvailable(t *testing.T) {
	client := &llm.MockLLMClient{}
	got, err := SelectProviders(context.Background(), client, "q", nil, llm.Sampling{}, nil)
	if err != nil || got != nil || client.Calls() != 0 {
		t.Errorf("SelectProviders() = %v, %v after %d calls", got, err, client.Calls())
	}
}
