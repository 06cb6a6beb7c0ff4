package tools

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/m4xw311/stepwise/errors"
	"github.com/m4xw311/stepwise/session"
)

// Separator joins a provider name and a tool name into a qualified name.
const Separator = "---"

// Tool is a tool as advertised by its own provider, before qualification.
type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// Descriptor is a tool as presented to the model. QualifiedName is unique
// across every provider in one registry.
type Descriptor struct {
	QualifiedName string          `json:"name"`
	Description   string          `json:"description"`
	InputSchema   json.RawMessage `json:"input_schema"`
}

// Provider is one named source of tools: an MCP session, or the in-process
// plan stack.
type Provider interface {
	ListTools(ctx context.Context) ([]Tool, error)
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
}

// Qualify builds "<provider>---<tool>".
func Qualify(provider, tool string) string {
	return provider + Separator + tool
}

// SplitQualified splits a qualified name on the first separator.
func SplitQualified(name string) (provider, tool string, err error) {
	provider, tool, ok := strings.Cut(name, Separator)
	if !ok || provider == "" || tool == "" {
		return "", "", errors.New("tool name %q is not of the form <provider>%s<tool>", name, Separator)
	}
	return provider, tool, nil
}

// Call is a tool call after its name and arguments have been parsed.
type Call struct {
	ID       string
	Provider string
	Tool     string
	Args     map[string]any
}

// QualifiedName returns the dispatch key of the call.
func (c Call) QualifiedName() string {
	return Qualify(c.Provider, c.Tool)
}

// ParseCall turns a model-proposed tool call into a typed Call. Empty
// arguments are treated as an empty object.
func ParseCall(tc session.ToolCall) (Call, error) {
	provider, tool, err := SplitQualified(tc.Name)
	if err != nil {
		return Call{}, &errors.ArgumentParseError{Tool: tc.Name, Err: err}
	}
	args := map[string]any{}
	if raw := strings.TrimSpace(tc.Arguments); raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return Call{}, &errors.ArgumentParseError{Tool: tc.Name, Err: err}
		}
		if args == nil {
			args = map[string]any{}
		}
	}
	return Call{ID: tc.ID, Provider: provider, Tool: tool, Args: args}, nil
}

// Result is the outcome of one tool invocation: either Text, or a typed Err.
type Result struct {
	Text string
	Err  error
}

// Failed reports whether the invocation failed.
func (r Result) Failed() bool { return r.Err != nil }

// Registry maps provider names to live providers. Listing is safe to share
// across tasks; calls are one-shot requests.
type Registry struct {
	providers map[string]Provider
	logger    *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{providers: make(map[string]Provider), logger: logger}
}

// Register adds or replaces the provider for name.
func (r *Registry) Register(name string, p Provider) {
	r.providers[name] = p
}

// With returns a registry holding r's providers plus p under name. The two
// registries share provider handles, so only the owner of r should Close.
func (r *Registry) With(name string, p Provider) *Registry {
	out := &Registry{providers: make(map[string]Provider, len(r.providers)+1), logger: r.logger}
	for n, existing := range r.providers {
		out.providers[n] = existing
	}
	out.providers[name] = p
	return out
}

// Has reports whether a provider is connected under name.
func (r *Registry) Has(name string) bool {
	_, ok := r.providers[name]
	return ok
}

// Names returns the connected provider names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListTools lists the tools of one provider, qualified with its name.
func (r *Registry) ListTools(ctx context.Context, provider string) ([]Descriptor, error) {
	p, ok := r.providers[provider]
	if !ok {
		return nil, &errors.ProviderUnavailableError{Provider: provider}
	}
	ts, err := p.ListTools(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list tools of '%s'", provider)
	}
	out := make([]Descriptor, 0, len(ts))
	for _, t := range ts {
		out = append(out, Descriptor{
			QualifiedName: Qualify(provider, t.Name),
			Description:   t.Description,
			InputSchema:   t.InputSchema,
		})
	}
	return out, nil
}

// CallTool invokes one tool. Provider failures come back as a
// ToolInvocationError; tool-level errors reported by the provider as text
// are successful results.
func (r *Registry) CallTool(ctx context.Context, provider, tool string, args map[string]any) Result {
	p, ok := r.providers[provider]
	if !ok {
		return Result{Err: &errors.ProviderUnavailableError{Provider: provider}}
	}
	text, err := p.CallTool(ctx, tool, args)
	if err != nil {
		return Result{Err: &errors.ToolInvocationError{Provider: provider, Tool: tool, Err: err}}
	}
	return Result{Text: text}
}

// Catalog builds the flattened tool catalog over every provider, dropping
// tools matched by the exclusion policy. A provider that fails to list is
// skipped with a warning.
func (r *Registry) Catalog(ctx context.Context, policy *ExcludePolicy) []Descriptor {
	var catalog []Descriptor
	for _, name := range r.Names() {
		descs, err := r.ListTools(ctx, name)
		if err != nil {
			r.logger.Warn("skipping provider in tool catalog", "provider", name, "error", err)
			continue
		}
		kept := 0
		for _, d := range descs {
			if policy.Excluded(d.QualifiedName) {
				r.logger.Debug("tool excluded", "tool", d.QualifiedName)
				continue
			}
			catalog = append(catalog, d)
			kept++
		}
		r.logger.Debug("provider tools", "provider", name, "listed", len(descs), "kept", kept)
	}
	return catalog
}

// Close tears down every provider that holds resources. All providers are
// closed even if some fail; the first error is returned.
func (r *Registry) Close() error {
	var first error
	for _, name := range r.Names() {
		c, ok := r.providers[name].(io.Closer)
		if !ok {
			continue
		}
		if err := c.Close(); err != nil {
			r.logger.Warn("failed to close provider", "provider", name, "error", err)
			if first == nil {
				first = errors.Wrapf(err, "failed to close provider '%s'", name)
			}
		}
	}
	return first
}
