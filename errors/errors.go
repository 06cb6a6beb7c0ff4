package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"path/filepath"
	"runtime"
)

// New creates a new error with file and line number information.
func New(format string, a ...interface{}) error {
	_, file, line, ok := runtime.Caller(1)
	if !ok {
		file = "???"
		line = 0
	} else {
		file = filepath.Base(file)
	}
	return fmt.Errorf("[%s:%d] %s", file, line, fmt.Sprintf(format, a...))
}

// Wrapf adds context (including file and line number) to an existing error.
// If the provided error is nil, Wrapf returns nil.
func Wrapf(err error, format string, a ...interface{}) error {
	if err == nil {
		return nil
	}
	_, file, line, ok := runtime.Caller(1)
	if !ok {
		file = "???"
		line = 0
	} else {
		file = filepath.Base(file)
	}
	return fmt.Errorf("[%s:%d] %s: %w", file, line, fmt.Sprintf(format, a...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool { return stderrors.As(err, target) }

// ProviderUnavailableError is returned when a tool provider has no live session.
type ProviderUnavailableError struct {
	Provider string
}

func (e *ProviderUnavailableError) Error() string {
	return fmt.Sprintf("provider %q is not connected", e.Provider)
}

// ToolInvocationError wraps a failure reported by a remote tool provider.
type ToolInvocationError struct {
	Provider string
	Tool     string
	Err      error
}

func (e *ToolInvocationError) Error() string {
	return fmt.Sprintf("tool %s---%s failed: %v", e.Provider, e.Tool, e.Err)
}

func (e *ToolInvocationError) Unwrap() error { return e.Err }

// PlanFormatError describes a malformed plan passed to create_execution_plan.
// Its message is meant to be shown to the model as guidance.
type PlanFormatError struct {
	Reason string
}

func (e *PlanFormatError) Error() string {
	return "invalid plan format: " + e.Reason
}

// ModelCallError is returned once the model adapter has exhausted its retries.
type ModelCallError struct {
	Attempts int
	Err      error
}

func (e *ModelCallError) Error() string {
	return fmt.Sprintf("model call failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *ModelCallError) Unwrap() error { return e.Err }

// ArgumentParseError reports tool call arguments that are not a JSON object.
type ArgumentParseError struct {
	Tool string
	Err  error
}

func (e *ArgumentParseError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %v", e.Tool, e.Err)
}

func (e *ArgumentParseError) Unwrap() error { return e.Err }

// IsFatal reports whether err must abort the running task. Only exhausted
// model calls and cancellation are fatal; everything else is fed back to the
// model as conversation content.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var mce *ModelCallError
	if stderrors.As(err, &mce) {
		return true
	}
	return stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded)
}
