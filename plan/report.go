package plan

import (
	"fmt"
	"strings"
)

// PhaseCompleteMarker opens an advance report when a MAIN step begins after
// earlier work, signalling that the per-step conversation can be dropped.
const PhaseCompleteMarker = "Previous main task done"

// DoneMarker is what the model outputs to finish the task.
const DoneMarker = "<task_done>"

// NoCurrentStep is reported once the stack is exhausted.
const NoCurrentStep = "No current step"

func writeItems(sb *strings.Builder, items []Item, withSummary bool) {
	n := 0
	for _, it := range items {
		switch it.Level {
		case Sub:
			fmt.Fprintf(sb, "   - %s\n", it)
		default:
			n++
			fmt.Fprintf(sb, "%d. %s\n", n, it)
		}
		if withSummary && it.Summary != "" {
			for _, line := range strings.Split(it.Summary, "\n") {
				fmt.Fprintf(sb, "     | %s\n", line)
			}
		}
	}
}

func advanceReport(s *State, phaseDone bool) string {
	var sb strings.Builder
	if phaseDone {
		sb.WriteString(PhaseCompleteMarker + ". The conversation of the finished steps has been cleared; " +
			"rely on the step summaries below.\n\n")
	}
	if len(s.OriginalQuery) > 0 {
		fmt.Fprintf(&sb, "Task: %s\n\n", s.OriginalQuery)
	}

	sb.WriteString("Executed steps:\n")
	if len(s.Executed) == 0 {
		sb.WriteString("No executed steps\n")
	} else {
		writeItems(&sb, s.Executed, true)
	}

	sb.WriteString("\nRemaining steps:\n")
	if len(s.Stack) == 0 {
		sb.WriteString("No remaining steps\n")
	} else {
		writeItems(&sb, s.Remaining(), false)
	}

	sb.WriteString("\nCurrent step:\n")
	if s.Current == nil {
		sb.WriteString(NoCurrentStep + ". ")
		fmt.Fprintf(&sb, "If the whole task is finished, call `%s` to check it before giving the final result.", ToolVerify)
		return sb.String()
	}
	fmt.Fprintf(&sb, "%s\n\n", *s.Current)
	fmt.Fprintf(&sb, "You may:\n"+
		"1. Execute the current step.\n"+
		"2. If the plan went wrong, replace the current and all remaining steps (executed steps are kept) "+
		"with `%s` and {\"plans\": new-plans, \"override_plan\": true}.\n"+
		"3. Split the current step into sub-steps with `%s` and {\"plans\": sub-steps, \"override_plan\": false}.\n"+
		"When it is done, call `%s` with a concise summary_and_result.",
		ToolCreatePlan, ToolCreatePlan, ToolAdvance)
	return sb.String()
}

func verifyReport(s *State) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "The original user query: %s\n\n", s.OriginalQuery)
	fmt.Fprintf(&sb, "The success criteria and todo list: %s\n\n", s.SuccessCriteria)

	sb.WriteString("Executed steps:\n")
	if len(s.Executed) == 0 {
		sb.WriteString("No executed steps\n")
	} else {
		writeItems(&sb, s.Executed, true)
	}
	sb.WriteString("\n")

	var unfinished []Item
	if s.Current != nil {
		unfinished = append(unfinished, *s.Current)
	}
	unfinished = append(unfinished, s.Remaining()...)
	if len(unfinished) > 0 {
		sb.WriteString("WARNING: you have unfinished steps:\n")
		writeItems(&sb, unfinished, false)
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "Double-check your answer against the query and the criteria. "+
		"Are all conditions satisfied? Are there no factual contradictions? Have all necessary steps been completed? "+
		"If the job is finished, output %s in your next round. "+
		"If not, make a new plan with `%s` and {\"plans\": new-plans, \"override_plan\": true} and continue.",
		DoneMarker, ToolCreatePlan)
	return sb.String()
}
