package terminal

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/m4xw311/stepwise/agent"
	"github.com/m4xw311/stepwise/session"
)

// Terminal handles the terminal/CLI interaction mode for the agent
type Terminal struct {
	agent *agent.Agent
	in    *bufio.Reader
	out   io.Writer

	// OnOutcome, when set, receives every finished task, including aborted ones.
	OnOutcome func(*agent.Outcome)
}

// New creates a new Terminal instance reading stdin and writing stdout
func New(a *agent.Agent) *Terminal {
	return NewWithIO(a, os.Stdin, os.Stdout)
}

// NewWithIO creates a Terminal over the given streams
func NewWithIO(a *agent.Agent, in io.Reader, out io.Writer) *Terminal {
	return &Terminal{
		agent: a,
		in:    bufio.NewReader(in),
		out:   out,
	}
}

// Run starts the interactive terminal session. Each line is a new task.
func (t *Terminal) Run(ctx context.Context, initialPrompt string) error {
	// If there's an initial prompt from the command line, use it first
	if initialPrompt != "" {
		if _, err := t.processTurn(ctx, initialPrompt); err != nil {
			return err
		}
	}

	for {
		fmt.Fprint(t.out, "You: ")
		line, err := t.in.ReadString('\n')
		userInput := strings.TrimSpace(line)

		switch {
		case userInput == "/quit" || userInput == "/exit":
			return nil
		case userInput != "":
			if _, perr := t.processTurn(ctx, userInput); perr != nil {
				fmt.Fprintf(t.out, "Error: %v\n", perr)
				if ctx.Err() != nil {
					return ctx.Err()
				}
			}
		}

		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// Once runs a single task and prints its result.
func (t *Terminal) Once(ctx context.Context, query string) (*agent.Outcome, error) {
	return t.processTurn(ctx, query)
}

// processTurn runs one task for a user query
func (t *Terminal) processTurn(ctx context.Context, userInput string) (*agent.Outcome, error) {
	callbacks := agent.ProcessCallbacks{
		OnAssistantMessage: func(message string) {
			fmt.Fprintf(t.out, "Stepwise: %s\n", strings.TrimSpace(message))
		},
		OnToolCall: func(toolCall session.ToolCall) {
			// Display tool call information based on verbosity
			switch t.agent.Verbosity {
			case agent.ToolVerbosityAll:
				fmt.Fprintf(t.out, "Stepwise wants to call tool `%s` with args: %s\n", toolCall.Name, toolCall.Arguments)
			case agent.ToolVerbosityInfo:
				fmt.Fprintf(t.out, "Stepwise wants to call tool `%s`\n", toolCall.Name)
			}
		},
		OnToolResult: func(toolCall session.ToolCall, result string) {
			if t.agent.Verbosity == agent.ToolVerbosityAll {
				fmt.Fprintf(t.out, "Tool `%s` output: %s\n", toolCall.Name, result)
			}
		},
		ShouldExecuteTool: func(toolCall session.ToolCall) bool {
			// In prompt mode, ask for user confirmation
			if t.agent.Mode == agent.ModePrompt {
				fmt.Fprint(t.out, "Do you want to allow this? (y/n): ")
				answer, _ := t.in.ReadString('\n')
				return strings.TrimSpace(strings.ToLower(answer)) == "y"
			}
			return true
		},
		OnCompaction: func(before, after int) {
			if t.agent.Verbosity != agent.ToolVerbosityNone && after < before {
				fmt.Fprintf(t.out, "History compacted: %d -> %d messages\n", before, after)
			}
		},
		OnWarning: func(warning string) {
			fmt.Fprintf(t.out, "Warning: %s\n", warning)
		},
	}

	out, err := t.agent.Run(ctx, userInput, callbacks)
	if out != nil {
		if out.FinalResult != "" {
			fmt.Fprintf(t.out, "\n=== Result ===\n%s\n", out.FinalResult)
		}
		fmt.Fprintf(t.out, "Task finished (%s) after %d rounds\n", out.Reason, out.Rounds)
		if t.OnOutcome != nil {
			t.OnOutcome(out)
		}
	}
	return out, err
}
