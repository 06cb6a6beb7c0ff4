package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/m4xw311/stepwise/config"
	"github.com/m4xw311/stepwise/errors"
	"github.com/m4xw311/stepwise/llm"
	"github.com/m4xw311/stepwise/plan"
	"github.com/m4xw311/stepwise/session"
	"github.com/m4xw311/stepwise/summarize"
	"github.com/m4xw311/stepwise/tools"
)

type Mode string

const (
	ModeAuto   Mode = "auto"
	ModePrompt Mode = "prompt"
)

type ToolVerbosity string

const (
	ToolVerbosityNone ToolVerbosity = "none"
	ToolVerbosityInfo ToolVerbosity = "info"
	ToolVerbosityAll  ToolVerbosity = "all"
)

// Reason tells why a task stopped.
type Reason string

const (
	ReasonDone      Reason = "done"       // completion marker seen
	ReasonVerified  Reason = "verified"   // verification bound reached
	ReasonEmpty     Reason = "empty"      // no content and no tool call, notebook disabled
	ReasonModelFail Reason = "model_fail" // model call retries exhausted
	ReasonCanceled  Reason = "canceled"
	ReasonNoTools   Reason = "no_tools" // providers could not be connected
)

// ProcessCallbacks lets a front end observe a task. Every field is optional.
// Callbacks run on the task's goroutine.
type ProcessCallbacks struct {
	OnAssistantMessage func(message string)
	OnToolCall         func(toolCall session.ToolCall)
	OnToolResult       func(toolCall session.ToolCall, result string)
	// ShouldExecuteTool gates each call in prompt mode; nil allows all.
	ShouldExecuteTool func(toolCall session.ToolCall) bool
	OnCompaction      func(before, after int)
	OnWarning         func(warning string)
}

func (cb ProcessCallbacks) withDefaults() ProcessCallbacks {
	if cb.OnAssistantMessage == nil {
		cb.OnAssistantMessage = func(string) {}
	}
	if cb.OnToolCall == nil {
		cb.OnToolCall = func(session.ToolCall) {}
	}
	if cb.OnToolResult == nil {
		cb.OnToolResult = func(session.ToolCall, string) {}
	}
	if cb.ShouldExecuteTool == nil {
		cb.ShouldExecuteTool = func(session.ToolCall) bool { return true }
	}
	if cb.OnCompaction == nil {
		cb.OnCompaction = func(int, int) {}
	}
	if cb.OnWarning == nil {
		cb.OnWarning = func(string) {}
	}
	return cb
}

// Outcome is what a task produced. It is returned even when the task was
// aborted, so partial results are never lost.
type Outcome struct {
	TaskID      string
	FinalResult string
	Reason      Reason
	Rounds      int
	History     *session.History
}

// Options tune the orchestrator.
type Options struct {
	Instruction        string
	UseSystemRole      bool
	Sampling           llm.Sampling
	Exclude            *tools.ExcludePolicy
	SummarizeProviders []string
	PostTaskProvider   string
	ArgumentOverrides  map[string]map[string]any
	MaxVerifications   int
	// Notebook offers a task-scoped plan stack under plan.ProviderName.
	Notebook bool
}

// OptionsFromConfig maps configuration onto Options.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	exclude, err := tools.NewExcludePolicy(cfg.Exclude)
	if err != nil {
		return Options{}, err
	}
	instruction := cfg.SystemPrompt
	if instruction == "" {
		instruction = DefaultInstruction(time.Now())
	}
	return Options{
		Instruction:        instruction,
		UseSystemRole:      cfg.UseSystemRole(),
		Sampling:           llm.SamplingFrom(cfg.Sampling),
		Exclude:            exclude,
		SummarizeProviders: cfg.SummarizeProviders,
		PostTaskProvider:   cfg.PostTaskProvider,
		ArgumentOverrides:  cfg.ArgumentOverrides,
		MaxVerifications:   cfg.MaxVerifications,
		Notebook:           cfg.NotebookEnabled(),
	}, nil
}

// ConnectFunc opens the tool providers of one task given its query. The
// registry it returns is closed when the task ends.
type ConnectFunc func(ctx context.Context, query string) (*tools.Registry, error)

// Agent runs tasks against a set of tool providers. An Agent may run several
// tasks concurrently; each task owns its history and plan stack.
type Agent struct {
	LLMClient llm.LLMClient
	// Registry is shared by every task. When Connect is set it is ignored and
	// each task gets its own providers instead.
	Registry   *tools.Registry
	Connect    ConnectFunc
	Summarizer summarize.Summarizer
	Options    Options
	Mode       Mode
	Verbosity  ToolVerbosity

	summarize map[string]bool
	logger    *slog.Logger
}

func New(client llm.LLMClient, registry *tools.Registry, summarizer summarize.Summarizer, opts Options, mode Mode, verbosity ToolVerbosity, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxVerifications <= 0 {
		opts.MaxVerifications = 4
	}
	sum := make(map[string]bool, len(opts.SummarizeProviders))
	for _, p := range opts.SummarizeProviders {
		sum[p] = true
	}
	return &Agent{
		LLMClient:  client,
		Registry:   registry,
		Summarizer: summarizer,
		Options:    opts,
		Mode:       mode,
		Verbosity:  verbosity,
		summarize:  sum,
		logger:     logger,
	}
}

// task is the state of one Run.
type task struct {
	id            string
	query         string
	history       *session.History
	registry      *tools.Registry
	results       ResultCollector
	verifications int
	logger        *slog.Logger
}

func (t *task) outcome(reason Reason, rounds int) *Outcome {
	return &Outcome{
		TaskID:      t.id,
		FinalResult: t.results.String(),
		Reason:      reason,
		Rounds:      rounds,
		History:     t.history,
	}
}

// Run executes one task to completion. A model call failure or context
// cancellation aborts the task; the returned Outcome then carries whatever
// result was collected so far.
func (a *Agent) Run(ctx context.Context, query string, cb ProcessCallbacks) (*Outcome, error) {
	cb = cb.withDefaults()
	t := &task{
		id:       uuid.NewString(),
		query:    query,
		history:  session.New(a.Options.Instruction, query, a.Options.UseSystemRole),
		registry: a.Registry,
	}
	t.logger = a.logger.With("task", t.id)
	if a.Connect != nil {
		reg, err := a.Connect(ctx, query)
		if err != nil {
			t.logger.Error("failed to connect tool providers", "error", err)
			return t.outcome(ReasonNoTools, 0), err
		}
		// Providers opened for this task are torn down on every exit path.
		defer func() {
			if err := reg.Close(); err != nil {
				t.logger.Warn("failed to close tool providers", "error", err)
			}
		}()
		t.registry = reg
	}
	if t.registry == nil {
		t.registry = tools.NewRegistry(a.logger)
	}
	if a.Options.Notebook {
		t.registry = t.registry.With(plan.ProviderName, plan.New())
	}

	catalog := t.registry.Catalog(ctx, a.Options.Exclude)
	t.logger.Info("task started", "tools", len(catalog), "providers", t.registry.Names())

	var reason Reason
	rounds := 0
	for {
		if err := ctx.Err(); err != nil {
			t.logger.Info("task canceled", "rounds", rounds)
			return t.outcome(ReasonCanceled, rounds), err
		}
		rounds++
		t.logger.Debug("round", "round", rounds, "messages", t.history.Len(), "chars", t.history.Size())

		resp, err := a.LLMClient.Chat(ctx, t.history.Messages, catalog, a.Options.Sampling)
		if err != nil {
			r := ReasonModelFail
			if ctx.Err() != nil {
				r = ReasonCanceled
			}
			t.logger.Error("task aborted", "rounds", rounds, "error", err)
			return t.outcome(r, rounds), err
		}

		content := resp.Reasoning + resp.Content
		t.results.Feed(content)

		if r, done := a.terminated(t, content, resp); done {
			reason = r
			break
		}

		var call *session.ToolCall
		if resp.HasToolCall() {
			call = &resp.ToolCalls[0]
		}
		if trimmed := strings.TrimSpace(content); trimmed != "" || call != nil {
			msg := session.Message{Role: session.RoleAssistant, Content: trimmed}
			if call != nil {
				msg.ToolCalls = []session.ToolCall{*call}
			}
			t.history.AddMessage(msg)
		}

		if call == nil {
			if strings.TrimSpace(content) != "" {
				cb.OnAssistantMessage(content)
			}
			continue
		}
		if strings.TrimSpace(resp.Content) != "" {
			cb.OnAssistantMessage(resp.Content)
		}
		a.handleToolCall(ctx, t, *call, cb)
	}

	t.logger.Info("task finished", "reason", reason, "rounds", rounds)
	out := t.outcome(reason, rounds)
	a.publish(ctx, t, out.FinalResult, cb)
	return out, nil
}

// terminated decides whether the round ends the task.
func (a *Agent) terminated(t *task, content string, resp *session.Message) (Reason, bool) {
	switch {
	case strings.Contains(content, plan.DoneMarker):
		return ReasonDone, true
	case t.verifications >= a.Options.MaxVerifications:
		return ReasonVerified, true
	case !a.Options.Notebook && strings.TrimSpace(content) == "" && !resp.HasToolCall():
		return ReasonEmpty, true
	}
	return "", false
}

// handleToolCall dispatches one tool call and appends its outcome. Failures
// become tool messages so the model can correct itself.
func (a *Agent) handleToolCall(ctx context.Context, t *task, tc session.ToolCall, cb ProcessCallbacks) {
	cb.OnToolCall(tc)
	if !cb.ShouldExecuteTool(tc) {
		a.appendResult(t, tc, "Tool call was declined by the user.", cb)
		return
	}

	name := tc.Name
	// Models sometimes drop the provider prefix of the advance call.
	if name == plan.ToolAdvance {
		name = tools.Qualify(plan.ProviderName, plan.ToolAdvance)
	}
	call, err := tools.ParseCall(session.ToolCall{ID: tc.ID, Name: name, Arguments: tc.Arguments})
	if err != nil {
		a.appendError(t, tc, err, cb)
		return
	}
	a.rewriteArguments(t, &call)

	advance := call.Tool == plan.ToolAdvance
	if call.Tool == plan.ToolVerify {
		t.verifications++
	}
	if advance {
		before := t.history.Len()
		t.history.Messages = Compact(t.history.Messages, t.history.PreambleLen())
		t.logger.Debug("history compacted", "before", before, "after", t.history.Len())
		cb.OnCompaction(before, t.history.Len())
	}

	t.logger.Debug("tool call", "tool", call.QualifiedName())
	res := t.registry.CallTool(ctx, call.Provider, call.Tool, call.Args)
	if res.Failed() {
		a.appendError(t, tc, res.Err, cb)
		return
	}
	text := strings.TrimSpace(res.Text)

	if a.summarize[call.Provider] && a.Summarizer != nil {
		sum, err := a.Summarizer.Summarize(ctx, t.query, text)
		if err != nil {
			a.appendError(t, tc, err, cb)
			return
		}
		text = sum.String()
	}

	if advance && strings.Contains(text, plan.PhaseCompleteMarker) {
		t.history.ResetToPreamble()
		t.history.AddMessage(session.Message{Role: session.RoleUser, Content: text})
		t.logger.Debug("phase complete, history reset", "messages", t.history.Len())
		cb.OnToolResult(tc, text)
		return
	}
	a.appendResult(t, tc, text, cb)
}

// rewriteArguments applies the fixed per-tool argument rewrites.
func (a *Agent) rewriteArguments(t *task, call *tools.Call) {
	if call.Tool == plan.ToolInitialize {
		// The combined first message may have been echoed back whole.
		if q, ok := call.Args["user_query"].(string); ok {
			if _, after, found := strings.Cut(q, session.Connector); found {
				call.Args["user_query"] = after
			}
		}
	}
	for k, v := range a.Options.ArgumentOverrides[call.QualifiedName()] {
		call.Args[k] = v
	}
}

func (a *Agent) appendResult(t *task, tc session.ToolCall, text string, cb ProcessCallbacks) {
	t.history.AddMessage(session.Message{
		Role:       session.RoleTool,
		Content:    text,
		ToolCallID: tc.ID,
		Name:       tc.Name,
	})
	cb.OnToolResult(tc, text)
}

func (a *Agent) appendError(t *task, tc session.ToolCall, err error, cb ProcessCallbacks) {
	t.logger.Warn("tool call failed", "tool", tc.Name, "error", err)
	cb.OnWarning(fmt.Sprintf("tool %s failed: %v", tc.Name, err))
	a.appendResult(t, tc, fmt.Sprintf("Tool %s called with error: %v", tc.Name, err), cb)
}

// publish hands the final result to the post-task provider, if connected.
// It calls the provider's first tool once; failures are only logged.
func (a *Agent) publish(ctx context.Context, t *task, final string, cb ProcessCallbacks) {
	name := a.Options.PostTaskProvider
	if name == "" || !t.registry.Has(name) {
		return
	}
	descs, err := t.registry.ListTools(ctx, name)
	if err != nil || len(descs) == 0 {
		t.logger.Warn("post-task provider has no tools", "provider", name, "error", err)
		return
	}
	_, tool, err := tools.SplitQualified(descs[0].QualifiedName)
	if err != nil {
		t.logger.Warn("post-task tool name invalid", "error", err)
		return
	}
	res := t.registry.CallTool(ctx, name, tool, map[string]any{"value": final})
	if res.Failed() {
		t.logger.Warn("post-task call failed", "provider", name, "error", res.Err)
		cb.OnWarning(fmt.Sprintf("publishing to %s failed: %v", name, res.Err))
		return
	}
	t.logger.Info("result published", "provider", name)
	cb.OnToolResult(session.ToolCall{ID: "post-task", Name: descs[0].QualifiedName}, res.Text)
}

// IsFatal reports whether err aborted a task rather than being recovered.
func IsFatal(err error) bool { return errors.IsFatal(err) }
