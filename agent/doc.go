// Package agent runs tool-using research tasks for the Stepwise system.
//
// This package holds the orchestrator shared by the interaction modes
// (terminal CLI, ACP server and the websocket bridge). One Run drives one
// task: it seeds a history from the instruction and the query, asks the model
// for the next move, dispatches at most one tool call per round and feeds the
// result back, until the model reports completion or the verification bound
// is reached.
//
// # Architecture
//
//   - Core agent (this package): the Run loop, history compaction, result tag
//     collection and provider selection
//   - Terminal subpackage (agent/terminal): the CLI interaction mode
//   - ACP subpackage (agent/acp): the Agent Client Protocol server
//
// # Plan stack
//
// When the notebook is enabled, every task gets its own plan.Notebook,
// offered to the model as the "notebook" provider next to the connected MCP
// providers. Calls to advance_to_next_step first compact the history. When
// the notebook reports a finished main step, the history is reset to the
// preamble plus the step report.
//
// # Usage
//
//	opts, err := agent.OptionsFromConfig(cfg)
//	if err != nil {
//	    // handle error
//	}
//	a := agent.New(client, registry, summarizer, opts, agent.ModeAuto, agent.ToolVerbosityInfo, logger)
//	out, err := a.Run(ctx, "write a report on X", agent.ProcessCallbacks{
//	    OnAssistantMessage: func(message string) { fmt.Println(message) },
//	})
//	// out.FinalResult holds the collected result even when err != nil.
//
// # Modes
//
//   - ModeAuto: Tools are executed without confirmation
//   - ModePrompt: Each call is confirmed through ShouldExecuteTool
//
// # Errors
//
// Tool failures never stop a task; they are returned to the model as tool
// messages. Exhausted model retries and cancellation abort the task and are
// returned from Run together with the partial Outcome.
package agent
