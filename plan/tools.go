package plan

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/m4xw311/stepwise/errors"
	"github.com/m4xw311/stepwise/tools"
)

// ProviderName is the reserved provider name of the notebook.
const ProviderName = "notebook"

// Tool names exposed to the model.
const (
	ToolInitialize  = "initialize_task"
	ToolCreatePlan  = "create_execution_plan"
	ToolAdvance     = "advance_to_next_step"
	ToolVerify      = "verify_task_completion"
	ToolStoreResult = "store_intermediate_results"
	ToolGetResult   = "get_intermediate_results"
)

var toolList = []tools.Tool{
	{
		Name: ToolInitialize,
		Description: "Save the original user query together with the conditions that must hold for the job to be " +
			"finished and a detailed todo list. Call this first; it resets any previous plan.",
		InputSchema: json.RawMessage(`{
  "type": "object",
  "properties": {
    "user_query": {"type": "string", "description": "The original user query, verbatim."},
    "conditions_and_todo_list": {"type": "string", "description": "Success criteria and a detailed todo list."}
  },
  "required": ["user_query", "conditions_and_todo_list"]
}`),
	},
	{
		Name: ToolCreatePlan,
		Description: "Save execution steps. Each step is either a string or {\"step\": string, \"substeps\": [string]}. " +
			"Steps are pushed onto a stack so the first listed step runs next; use override_plan=false to split the " +
			"current step into sub-steps, or true to replace the current and all remaining steps. " +
			"Returns a confirmation or an error message explaining how to fix the plan.",
		InputSchema: json.RawMessage(`{
  "type": "object",
  "properties": {
    "plans": {
      "type": "array",
      "description": "Ordered steps.",
      "items": {
        "anyOf": [
          {"type": "string"},
          {
            "type": "object",
            "properties": {
              "step": {"type": "string"},
              "substeps": {"type": "array", "items": {"type": "string"}}
            },
            "required": ["step"]
          }
        ]
      }
    },
    "override_plan": {"type": "boolean", "description": "Clear the current and remaining steps first."}
  },
  "required": ["plans", "override_plan"]
}`),
	},
	{
		Name: ToolAdvance,
		Description: "Finish the current step and get the next one. Call this when the previous step is done. " +
			"History of finished steps is not kept, so pass a concise but complete summary_and_result.",
		InputSchema: json.RawMessage(`{
  "type": "object",
  "properties": {
    "summary_and_result": {"type": "string", "description": "Findings, resources and decisions of the finished step."}
  }
}`),
	},
	{
		Name:        ToolVerify,
		Description: "Call this after all jobs are finished to check the result against the original query and criteria.",
		InputSchema: json.RawMessage(`{"type": "object", "properties": {}}`),
	},
	{
		Name:        ToolStoreResult,
		Description: "Store a large intermediate result under a title so it can be fetched later instead of kept in context.",
		InputSchema: json.RawMessage(`{
  "type": "object",
  "properties": {
    "title": {"type": "string"},
    "data": {"type": "string"},
    "summary": {"type": "string", "description": "One or two sentences describing the data."}
  },
  "required": ["title", "data", "summary"]
}`),
	},
	{
		Name:        ToolGetResult,
		Description: "Fetch one stored intermediate result by title, or list all stored titles when title is omitted.",
		InputSchema: json.RawMessage(`{
  "type": "object",
  "properties": {
    "title": {"type": "string"}
  }
}`),
	},
}

// ListTools returns the notebook tool surface.
func (n *Notebook) ListTools(ctx context.Context) ([]tools.Tool, error) {
	out := make([]tools.Tool, len(toolList))
	copy(out, toolList)
	return out, nil
}

// CallTool dispatches one notebook tool. Malformed plans come back as
// guidance text rather than an error.
func (n *Notebook) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	switch name {
	case ToolInitialize:
		return n.InitializeTask(stringArg(args, "user_query"), stringArg(args, "conditions_and_todo_list")), nil
	case ToolCreatePlan:
		override, _ := args["override_plan"].(bool)
		msg, err := n.CreateExecutionPlan(args["plans"], override)
		if err != nil {
			var pfe *errors.PlanFormatError
			if errors.As(err, &pfe) {
				return pfe.Error() + ". Pass \"plans\" as a JSON list of strings or {\"step\", \"substeps\"} objects.", nil
			}
			return "", err
		}
		return msg, nil
	case ToolAdvance:
		return n.AdvanceToNextStep(stringArg(args, "summary_and_result")), nil
	case ToolVerify:
		return n.VerifyTaskCompletion(), nil
	case ToolStoreResult:
		msg, err := n.StoreResult(stringArg(args, "title"), stringArg(args, "data"), stringArg(args, "summary"))
		if err != nil {
			return err.Error(), nil
		}
		return msg, nil
	case ToolGetResult:
		return n.GetResult(stringArg(args, "title")), nil
	default:
		return "", errors.New("notebook has no tool '%s'", name)
	}
}

// stringArg reads a string argument, rendering non-string values as JSON
// since models sometimes send structured summaries.
func stringArg(args map[string]any, key string) string {
	v, ok := args[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
