// Package plan implements the notebook: a stack-based hierarchical todo
// tracker the model drives through ordinary tool calls.
//
// Steps are pushed so that the first authored step is popped first, and
// sub-steps are flattened right after their parent. Advancing to the next
// step is the step boundary the orchestrator uses to compact history.
package plan

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/m4xw311/stepwise/errors"
)

// Level tags a flattened plan item.
type Level int

const (
	Flat Level = iota
	Main
	Sub
)

func (l Level) String() string {
	switch l {
	case Main:
		return "MAIN"
	case Sub:
		return "SUB"
	default:
		return ""
	}
}

// Item is one step on the stack.
type Item struct {
	Step  string
	Level Level
	// Summary is what the model reported when the step was completed.
	Summary string
}

func (i Item) String() string {
	if i.Level == Flat {
		return i.Step
	}
	return fmt.Sprintf("[%s] %s", i.Level, i.Step)
}

// ScratchEntry is one stored intermediate result.
type ScratchEntry struct {
	Data    string
	Summary string
}

// State is the plan of one task execution. The top of Stack is its last
// element.
type State struct {
	OriginalQuery   string
	SuccessCriteria string
	Stack           []Item
	Current         *Item
	Executed        []Item
	Scratch         map[string]ScratchEntry
}

// Remaining returns the stacked items in execution order.
func (s *State) Remaining() []Item {
	out := make([]Item, 0, len(s.Stack))
	for i := len(s.Stack) - 1; i >= 0; i-- {
		out = append(out, s.Stack[i])
	}
	return out
}

// Notebook owns one State and implements the plan operations. Methods are
// safe for concurrent use so a single notebook can back an MCP server.
type Notebook struct {
	mu    sync.Mutex
	state State
}

// New returns a notebook over an empty plan.
func New() *Notebook {
	return &Notebook{state: State{Scratch: map[string]ScratchEntry{}}}
}

// Snapshot returns a deep copy of the current state.
func (n *Notebook) Snapshot() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	s := State{
		OriginalQuery:   n.state.OriginalQuery,
		SuccessCriteria: n.state.SuccessCriteria,
		Stack:           append([]Item(nil), n.state.Stack...),
		Executed:        append([]Item(nil), n.state.Executed...),
		Scratch:         make(map[string]ScratchEntry, len(n.state.Scratch)),
	}
	if n.state.Current != nil {
		cur := *n.state.Current
		s.Current = &cur
	}
	for k, v := range n.state.Scratch {
		s.Scratch[k] = v
	}
	return s
}

// InitializeTask records the query and success criteria and clears the plan.
// The first non-empty query is kept across re-initializations unless a new
// one is supplied.
func (n *Notebook) InitializeTask(query, criteria string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if strings.TrimSpace(query) != "" {
		n.state.OriginalQuery = query
	}
	n.state.SuccessCriteria = criteria
	n.state.Stack = nil
	n.state.Current = nil
	n.state.Executed = nil
	return fmt.Sprintf("Task initialized. Now split the task into concrete steps and save them with `%s`.", ToolCreatePlan)
}

// CreateExecutionPlan flattens raw plan items and pushes them. Each raw item
// is a string or an object {"step": string, "substeps": [string]}. A raw
// value that is itself a string holding a JSON array is decoded first.
func (n *Notebook) CreateExecutionPlan(raw any, override bool) (string, error) {
	items, err := Flatten(raw)
	if err != nil {
		return "", err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if override {
		n.state.Stack = nil
		n.state.Current = nil
	}
	for i := len(items) - 1; i >= 0; i-- {
		n.state.Stack = append(n.state.Stack, items[i])
	}
	return fmt.Sprintf("Plan saved with %d step(s). Call `%s` whenever the previous step is done.", len(items), ToolAdvance), nil
}

// Flatten converts authored plan items into tagged items in authoring order:
// a parent with substeps becomes MAIN followed by its SUB items.
func Flatten(raw any) ([]Item, error) {
	list, err := normalize(raw)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, &errors.PlanFormatError{Reason: "plans must contain at least one step"}
	}
	var out []Item
	for idx, entry := range list {
		switch v := entry.(type) {
		case string:
			if strings.TrimSpace(v) == "" {
				return nil, &errors.PlanFormatError{Reason: fmt.Sprintf("step %d is empty", idx+1)}
			}
			out = append(out, Item{Step: v, Level: Flat})
		case map[string]any:
			step, _ := v["step"].(string)
			if strings.TrimSpace(step) == "" {
				return nil, &errors.PlanFormatError{Reason: fmt.Sprintf("step %d: object items need a non-empty \"step\" string", idx+1)}
			}
			subs, err := substeps(v["substeps"], idx)
			if err != nil {
				return nil, err
			}
			if len(subs) == 0 {
				out = append(out, Item{Step: step, Level: Flat})
				continue
			}
			out = append(out, Item{Step: step, Level: Main})
			for _, s := range subs {
				out = append(out, Item{Step: s, Level: Sub})
			}
		default:
			return nil, &errors.PlanFormatError{Reason: fmt.Sprintf("step %d must be a string or an object with \"step\" and \"substeps\", got %T", idx+1, entry)}
		}
	}
	return out, nil
}

func normalize(raw any) ([]any, error) {
	switch v := raw.(type) {
	case nil:
		return nil, &errors.PlanFormatError{Reason: "missing \"plans\""}
	case []any:
		return v, nil
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, nil
	case string:
		trimmed := strings.TrimSpace(v)
		if strings.HasPrefix(trimmed, "[") {
			var decoded []any
			if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
				return nil, &errors.PlanFormatError{Reason: "plans looks like a JSON array but does not parse: " + err.Error()}
			}
			return decoded, nil
		}
		return []any{v}, nil
	case map[string]any:
		return []any{v}, nil
	default:
		return nil, &errors.PlanFormatError{Reason: fmt.Sprintf("plans must be a list, got %T", raw)}
	}
}

func substeps(raw any, idx int) ([]string, error) {
	if raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, &errors.PlanFormatError{Reason: fmt.Sprintf("step %d: \"substeps\" must be a list of strings", idx+1)}
	}
	out := make([]string, 0, len(list))
	for _, s := range list {
		str, ok := s.(string)
		if !ok || strings.TrimSpace(str) == "" {
			return nil, &errors.PlanFormatError{Reason: fmt.Sprintf("step %d: every substep must be a non-empty string", idx+1)}
		}
		out = append(out, str)
	}
	return out, nil
}

// AdvanceToNextStep completes the current step, recording summary with it,
// and pops the next one. It returns the status report.
func (n *Notebook) AdvanceToNextStep(summary string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state.Current != nil {
		done := *n.state.Current
		done.Summary = strings.TrimSpace(summary)
		n.state.Executed = append(n.state.Executed, done)
		n.state.Current = nil
	}
	if len(n.state.Stack) > 0 {
		top := n.state.Stack[len(n.state.Stack)-1]
		n.state.Stack = n.state.Stack[:len(n.state.Stack)-1]
		n.state.Current = &top
	}
	phaseDone := n.state.Current != nil && n.state.Current.Level == Main && len(n.state.Executed) > 0
	return advanceReport(&n.state, phaseDone)
}

// VerifyTaskCompletion reports the task against its criteria without
// changing any state.
func (n *Notebook) VerifyTaskCompletion() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return verifyReport(&n.state)
}

// StoreResult keeps a large intermediate result under title.
func (n *Notebook) StoreResult(title, data, summary string) (string, error) {
	if strings.TrimSpace(title) == "" {
		return "", &errors.PlanFormatError{Reason: "a non-empty \"title\" is required"}
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state.Scratch == nil {
		n.state.Scratch = map[string]ScratchEntry{}
	}
	n.state.Scratch[title] = ScratchEntry{Data: data, Summary: summary}
	return fmt.Sprintf("Stored intermediate result %q (%d chars).", title, len(data)), nil
}

// GetResult returns one stored result by title, or the list of all titles
// with their summaries when title is empty.
func (n *Notebook) GetResult(title string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if title != "" {
		entry, ok := n.state.Scratch[title]
		if !ok {
			return fmt.Sprintf("No intermediate result titled %q.", title)
		}
		return fmt.Sprintf("Title: %s\nSummary: %s\nData:\n%s", title, entry.Summary, entry.Data)
	}
	if len(n.state.Scratch) == 0 {
		return "No intermediate results stored."
	}
	titles := make([]string, 0, len(n.state.Scratch))
	for t := range n.state.Scratch {
		titles = append(titles, t)
	}
	sort.Strings(titles)
	var sb strings.Builder
	sb.WriteString("Stored intermediate results:\n")
	for _, t := range titles {
		fmt.Fprintf(&sb, "- %s: %s\n", t, n.state.Scratch[t].Summary)
	}
	return strings.TrimRight(sb.String(), "\n")
}
