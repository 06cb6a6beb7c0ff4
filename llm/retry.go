package llm

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go/v2"
	"google.golang.org/api/googleapi"

	"github.com/m4xw311/stepwise/config"
	"github.com/m4xw311/stepwise/errors"
	"github.com/m4xw311/stepwise/session"
	"github.com/m4xw311/stepwise/tools"
)

// Adapter wraps a backend with the retry policy and the single-tool-call
// rule. It is the only LLMClient the orchestrator talks to.
type Adapter struct {
	backend LLMClient
	policy  config.Retry
	logger  *slog.Logger
	// sleep waits for d or until ctx is done; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewAdapter wraps backend. A policy with fewer than one attempt is treated
// as a single attempt.
func NewAdapter(backend LLMClient, policy config.Retry, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &Adapter{backend: backend, policy: policy, logger: logger, sleep: sleepCtx}
}

// Chat issues the request, retrying transient failures. On exhaustion the
// last error is returned as a *errors.ModelCallError.
func (a *Adapter) Chat(ctx context.Context, messages []session.Message, catalog []tools.Descriptor, params Sampling) (*session.Message, error) {
	var lastErr error
	for attempt := 1; attempt <= a.policy.MaxAttempts; attempt++ {
		msg, err := a.backend.Chat(ctx, messages, catalog, params)
		if err == nil {
			return a.normalize(msg), nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !retryable(err) {
			a.logger.Warn("model call failed, not retrying", "error", err)
			return nil, &errors.ModelCallError{Attempts: attempt, Err: err}
		}
		if attempt == a.policy.MaxAttempts {
			break
		}
		delay := a.delay(attempt)
		a.logger.Warn("model call failed, retrying",
			"attempt", attempt, "max_attempts", a.policy.MaxAttempts, "delay", delay, "error", err)
		if err := a.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, &errors.ModelCallError{Attempts: a.policy.MaxAttempts, Err: lastErr}
}

// delay returns the wait before the next attempt: fixed, or growing by Delay
// per attempt up to MaxDelay in linear mode.
func (a *Adapter) delay(attempt int) time.Duration {
	d := a.policy.Delay
	if a.policy.Linear {
		d = time.Duration(attempt) * a.policy.Delay
	}
	if a.policy.MaxDelay > 0 && d > a.policy.MaxDelay {
		d = a.policy.MaxDelay
	}
	return d
}

// normalize keeps at most one tool call and fills in missing call ids.
func (a *Adapter) normalize(msg *session.Message) *session.Message {
	if msg == nil {
		return &session.Message{Role: session.RoleAssistant}
	}
	msg.Role = session.RoleAssistant
	if len(msg.ToolCalls) > 1 {
		a.logger.Debug("dropping extra tool calls", "proposed", len(msg.ToolCalls), "kept", msg.ToolCalls[0].Name)
		msg.ToolCalls = msg.ToolCalls[:1]
	}
	if len(msg.ToolCalls) == 1 && msg.ToolCalls[0].ID == "" {
		msg.ToolCalls[0].ID = newCallID()
	}
	return msg
}

// retryable reports whether err looks transient: rate limiting, server side
// failures and transport errors are; other client errors are not.
func retryable(err error) bool {
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if code, ok := statusCode(err); ok {
		return code == http.StatusTooManyRequests ||
			code == http.StatusRequestTimeout ||
			code == http.StatusConflict ||
			code >= 500
	}
	return true
}

func statusCode(err error) (int, bool) {
	var oaErr *openai.Error
	if stderrors.As(err, &oaErr) {
		return oaErr.StatusCode, true
	}
	var anErr *anthropic.Error
	if stderrors.As(err, &anErr) {
		return anErr.StatusCode, true
	}
	var gErr *googleapi.Error
	if stderrors.As(err, &gErr) {
		return gErr.Code, true
	}
	// smithy-go response errors, as returned by the AWS SDK.
	var httpErr interface{ HTTPStatusCode() int }
	if stderrors.As(err, &httpErr) {
		return httpErr.HTTPStatusCode(), true
	}
	return 0, false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
