package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/m4xw311/stepwise/errors"
)

func currentStep(t *testing.T, n *Notebook) *Item {
	t.Helper()
	return n.Snapshot().Current
}

func TestEndToEndScenario(t *testing.T) {
	n := New()
	n.InitializeTask("find X", "must include URL")
	if _, err := n.CreateExecutionPlan([]any{"search for X", "summarize"}, true); err != nil {
		t.Fatalf("CreateExecutionPlan: %v", err)
	}

	report := n.AdvanceToNextStep("")
	if cur := currentStep(t, n); cur == nil || cur.Step != "search for X" {
		t.Fatalf("current = %+v, want search for X", cur)
	}
	if !strings.Contains(report, "search for X") {
		t.Errorf("report should name current step:\n%s", report)
	}

	n.AdvanceToNextStep("found it at https://x.example")
	snap := n.Snapshot()
	if snap.Current == nil || snap.Current.Step != "summarize" {
		t.Fatalf("current = %+v, want summarize", snap.Current)
	}
	if len(snap.Executed) != 1 || snap.Executed[0].Step != "search for X" {
		t.Fatalf("executed = %+v", snap.Executed)
	}
	if snap.Executed[0].Summary != "found it at https://x.example" {
		t.Errorf("summary not recorded: %q", snap.Executed[0].Summary)
	}

	report = n.AdvanceToNextStep("")
	if !strings.Contains(report, NoCurrentStep) {
		t.Errorf("expected no-current-step notice:\n%s", report)
	}
	snap = n.Snapshot()
	if snap.Current != nil || len(snap.Stack) != 0 {
		t.Errorf("stack should be exhausted: current=%+v stack=%+v", snap.Current, snap.Stack)
	}
	if len(snap.Executed) != 2 {
		t.Errorf("executed = %d, want 2", len(snap.Executed))
	}
}

func TestHierarchicalFlattening(t *testing.T) {
	n := New()
	_, err := n.CreateExecutionPlan([]any{
		map[string]any{"step": "A", "substeps": []any{"A1", "A2"}},
	}, false)
	if err != nil {
		t.Fatalf("CreateExecutionPlan: %v", err)
	}
	var got []Item
	for i := 0; i < 3; i++ {
		n.AdvanceToNextStep("")
		cur := currentStep(t, n)
		if cur == nil {
			t.Fatalf("advance %d: no current step", i+1)
		}
		got = append(got, Item{Step: cur.Step, Level: cur.Level})
	}
	want := []Item{{Step: "A", Level: Main}, {Step: "A1", Level: Sub}, {Step: "A2", Level: Sub}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("sequence = %+v, want %+v", got, want)
	}
}

// drain advances until the stack is empty and returns the popped steps.
func drain(n *Notebook) []string {
	var out []string
	for {
		n.AdvanceToNextStep("")
		cur := n.Snapshot().Current
		if cur == nil {
			return out
		}
		out = append(out, cur.Step)
	}
}

func TestStackOrderAcrossBatches(t *testing.T) {
	tests := []struct {
		name    string
		batches [][]any
		want    []string
	}{
		{
			name:    "single batch pops in authoring order",
			batches: [][]any{{"a", "b", "c"}},
			want:    []string{"a", "b", "c"},
		},
		{
			name:    "later batch runs first, each in authoring order",
			batches: [][]any{{"a", "b"}, {"c", "d"}},
			want:    []string{"c", "d", "a", "b"},
		},
		{
			name:    "three batches",
			batches: [][]any{{"a"}, {"b", "c"}, {"d"}},
			want:    []string{"d", "b", "c", "a"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			n := New()
			for _, b := range tc.batches {
				if _, err := n.CreateExecutionPlan(b, false); err != nil {
					t.Fatalf("CreateExecutionPlan: %v", err)
				}
			}
			if got := drain(n); !reflect.DeepEqual(got, tc.want) {
				t.Errorf("pop order = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestBatchesPushedAfterConsumptionConcatenate(t *testing.T) {
	n := New()
	var popped []string
	batches := [][]any{{"a", "b"}, {"c"}, {"d", "e"}}
	for _, b := range batches {
		if _, err := n.CreateExecutionPlan(b, false); err != nil {
			t.Fatalf("CreateExecutionPlan: %v", err)
		}
		for i := 0; i < len(b); i++ {
			n.AdvanceToNextStep("")
			popped = append(popped, n.Snapshot().Current.Step)
		}
	}
	want := []string{"a", "b", "c", "d", "e"}
	if !reflect.DeepEqual(popped, want) {
		t.Errorf("pop order = %v, want %v", popped, want)
	}
}

func TestSubPlanRunsBeforeRemaining(t *testing.T) {
	n := New()
	n.CreateExecutionPlan([]any{"research", "write"}, false)
	n.AdvanceToNextStep("") // current: research
	n.CreateExecutionPlan([]any{"search", "crawl"}, false)
	got := drain(n)
	want := []string{"search", "crawl", "write"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("pop order = %v, want %v", got, want)
	}
}

func TestOverridePlanClearsCurrentAndStack(t *testing.T) {
	n := New()
	n.CreateExecutionPlan([]any{"a", "b", "c"}, false)
	n.AdvanceToNextStep("")
	n.AdvanceToNextStep("") // executed: a, current: b
	n.CreateExecutionPlan([]any{"x"}, true)
	snap := n.Snapshot()
	if snap.Current != nil {
		t.Errorf("override should clear current step, got %+v", snap.Current)
	}
	if len(snap.Executed) != 1 || snap.Executed[0].Step != "a" {
		t.Errorf("executed steps must survive override: %+v", snap.Executed)
	}
	if got := drain(n); !reflect.DeepEqual(got, []string{"x"}) {
		t.Errorf("pop order = %v", got)
	}
}

func TestExecutedNeverReentersStack(t *testing.T) {
	n := New()
	n.CreateExecutionPlan([]any{"a", "b"}, false)
	n.AdvanceToNextStep("")
	n.AdvanceToNextStep("")
	n.AdvanceToNextStep("")
	n.AdvanceToNextStep("")
	snap := n.Snapshot()
	if len(snap.Executed) != 2 || len(snap.Stack) != 0 || snap.Current != nil {
		t.Errorf("unexpected state: %+v", snap)
	}
}

func TestVerifyIsReadOnly(t *testing.T) {
	n := New()
	n.InitializeTask("q", "c")
	n.CreateExecutionPlan([]any{"a", map[string]any{"step": "b", "substeps": []any{"b1"}}}, false)
	n.AdvanceToNextStep("")
	before := n.Snapshot()
	var report string
	for i := 0; i < 5; i++ {
		report = n.VerifyTaskCompletion()
	}
	after := n.Snapshot()
	if !reflect.DeepEqual(before, after) {
		t.Errorf("verify mutated state:\nbefore %+v\nafter  %+v", before, after)
	}
	if !strings.Contains(report, "unfinished") || !strings.Contains(report, "[SUB] b1") {
		t.Errorf("report should warn about unfinished steps:\n%s", report)
	}
	if !strings.Contains(report, DoneMarker) {
		t.Errorf("report should tell the model how to finish:\n%s", report)
	}
}

func TestAdvanceWithoutInitialize(t *testing.T) {
	n := New()
	report := n.AdvanceToNextStep("nothing")
	if !strings.Contains(report, NoCurrentStep) {
		t.Errorf("report = %q", report)
	}
	if snap := n.Snapshot(); len(snap.Executed) != 0 {
		t.Errorf("nothing should be executed: %+v", snap.Executed)
	}
}

func TestPhaseCompleteMarker(t *testing.T) {
	n := New()
	n.CreateExecutionPlan([]any{
		map[string]any{"step": "Research", "substeps": []any{"search"}},
		map[string]any{"step": "Write", "substeps": []any{"draft"}},
	}, false)
	if r := n.AdvanceToNextStep(""); strings.Contains(r, PhaseCompleteMarker) {
		t.Errorf("first MAIN step has no previous phase:\n%s", r)
	}
	if r := n.AdvanceToNextStep("main started"); strings.Contains(r, PhaseCompleteMarker) {
		t.Errorf("SUB step must not signal phase completion:\n%s", r)
	}
	r := n.AdvanceToNextStep("searched")
	if !strings.HasPrefix(r, PhaseCompleteMarker) {
		t.Errorf("expected phase marker when next MAIN starts:\n%s", r)
	}
	if !strings.Contains(r, "searched") {
		t.Errorf("executed summaries should be carried in the report:\n%s", r)
	}
}

func TestInitializeResets(t *testing.T) {
	n := New()
	n.InitializeTask("first", "c1")
	n.CreateExecutionPlan([]any{"a"}, false)
	n.AdvanceToNextStep("")
	n.InitializeTask("", "c2")
	snap := n.Snapshot()
	if snap.OriginalQuery != "first" {
		t.Errorf("query = %q, want first", snap.OriginalQuery)
	}
	if snap.SuccessCriteria != "c2" || snap.Current != nil || len(snap.Stack) != 0 || len(snap.Executed) != 0 {
		t.Errorf("state not reset: %+v", snap)
	}
}

func TestFlattenErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  any
	}{
		{"nil", nil},
		{"empty list", []any{}},
		{"number item", []any{42}},
		{"empty string", []any{"  "}},
		{"object without step", []any{map[string]any{"substeps": []any{"x"}}}},
		{"substeps not list", []any{map[string]any{"step": "a", "substeps": "x"}}},
		{"substep not string", []any{map[string]any{"step": "a", "substeps": []any{1}}}},
		{"bad json string", "[\"a\","},
		{"number", 3.5},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Flatten(tc.raw)
			var pfe *errors.PlanFormatError
			if !errors.As(err, &pfe) {
				t.Errorf("expected PlanFormatError, got %v", err)
			}
		})
	}
}

func TestFlattenAcceptedShapes(t *testing.T) {
	tests := []struct {
		name string
		raw  any
		want []string
	}{
		{"single string", "only step", []string{"only step"}},
		{"json string", `["a", {"step": "b", "substeps": ["b1"]}]`, []string{"a", "[MAIN] b", "[SUB] b1"}},
		{"string slice", []string{"a", "b"}, []string{"a", "b"}},
		{"object without substeps", []any{map[string]any{"step": "a"}}, []string{"a"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			items, err := Flatten(tc.raw)
			if err != nil {
				t.Fatalf("Flatten: %v", err)
			}
			var got []string
			for _, it := range items {
				got = append(got, it.String())
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestScratchStore(t *testing.T) {
	n := New()
	if got := n.GetResult(""); got != "No intermediate results stored." {
		t.Errorf("empty list = %q", got)
	}
	if _, err := n.StoreResult("", "d", "s"); err == nil {
		t.Error("empty title should fail")
	}
	n.StoreResult("b-page", "body b", "about b")
	n.StoreResult("a-page", "body a", "about a")
	list := n.GetResult("")
	if !strings.Contains(list, "- a-page: about a\n- b-page: about b") {
		t.Errorf("list = %q", list)
	}
	if got := n.GetResult("a-page"); !strings.Contains(got, "body a") {
		t.Errorf("fetch = %q", got)
	}
	if got := n.GetResult("missing"); !strings.Contains(got, "No intermediate result") {
		t.Errorf("missing = %q", got)
	}
}

func callJSON(t *testing.T, n *Notebook, tool, args string) string {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(args), &m); err != nil {
		t.Fatalf("bad test args: %v", err)
	}
	out, err := n.CallTool(context.Background(), tool, m)
	if err != nil {
		t.Fatalf("CallTool(%s): %v", tool, err)
	}
	return out
}

func TestToolSurface(t *testing.T) {
	n := New()
	ts, _ := n.ListTools(context.Background())
	var names []string
	for _, tool := range ts {
		names = append(names, tool.Name)
		var schema map[string]any
		if err := json.Unmarshal(tool.InputSchema, &schema); err != nil {
			t.Errorf("schema of %s is not valid JSON: %v", tool.Name, err)
		}
	}
	want := []string{ToolInitialize, ToolCreatePlan, ToolAdvance, ToolVerify, ToolStoreResult, ToolGetResult}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("tools = %v", names)
	}

	callJSON(t, n, ToolInitialize, `{"user_query": "find X", "conditions_and_todo_list": "URL"}`)
	msg := callJSON(t, n, ToolCreatePlan, `{"plans": [{"step": "A", "substeps": ["A1"]}], "override_plan": true}`)
	if !strings.Contains(msg, "2 step(s)") {
		t.Errorf("create message = %q", msg)
	}
	out := callJSON(t, n, ToolAdvance, `{}`)
	if !strings.Contains(out, "[MAIN] A") {
		t.Errorf("advance = %q", out)
	}
	out = callJSON(t, n, ToolAdvance, `{"summary_and_result": {"findings": ["x"]}}`)
	if snap := n.Snapshot(); snap.Executed[0].Summary != `{"findings":["x"]}` {
		t.Errorf("structured summary = %q", snap.Executed[0].Summary)
	}
	_ = out

	guidance := callJSON(t, n, ToolCreatePlan, `{"plans": [7], "override_plan": false}`)
	if !strings.HasPrefix(guidance, "invalid plan format") {
		t.Errorf("malformed plan should return guidance, got %q", guidance)
	}

	if _, err := n.CallTool(context.Background(), "nope", nil); err == nil {
		t.Error("unknown tool should fail")
	}
}

func ExampleNotebook_AdvanceToNextStep() {
	n := New()
	n.CreateExecutionPlan([]any{"search", "summarize"}, false)
	n.AdvanceToNextStep("")
	fmt.Println(n.Snapshot().Current.Step)
	// Output: search
}
