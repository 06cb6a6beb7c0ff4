// Package terminal implements the command-line interface (CLI) mode for the Stepwise agent.
//
// Every query typed at the prompt (or passed on the command line) runs as one
// independent task: the agent plans, calls tools and finally prints the text
// it collected between result tags. Histories are not carried between tasks.
//
// # Usage
//
//	a := agent.New(client, registry, summarizer, opts, agent.ModeAuto, agent.ToolVerbosityInfo, logger)
//	term := terminal.New(a)
//	err = term.Run(ctx, initialPrompt)
//
// # Modes
//
//   - Auto mode: Tools are executed automatically without user confirmation
//   - Prompt mode: User is prompted for confirmation before each tool execution
//
// # Verbosity Levels
//
//   - None: No tool execution information is displayed
//   - Info: Tool names are displayed when called
//   - All: Tool names, arguments, and results are displayed
package terminal
