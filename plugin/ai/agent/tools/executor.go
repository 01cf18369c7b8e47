package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hrygo/bankdesk/plugin/ai/timeout"
)

// ErrToolTimeout is returned when a tool does not finish within the executor timeout.
var ErrToolTimeout = errors.New("tool execution timed out")

// Executor runs a single tool attempt with a bounded wait.
// Tool failures are returned to the caller; nothing is retried here.
type Executor struct {
	timeout time.Duration
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithTimeout sets the timeout for each execution.
func WithTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// NewExecutor creates a new Executor with the given options.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{
		timeout: timeout.ToolExecutionTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Timeout returns the per-execution timeout.
func (e *Executor) Timeout() time.Duration {
	return e.timeout
}

type outcome struct {
	result *Result
	err    error
}

// Execute invokes tool with credentials scoped to its declared requirements.
// A panic inside the tool is converted to an error. If the wait is exceeded the
// returned error wraps ErrToolTimeout; if ctx ends first, ctx.Err() is returned.
func (e *Executor) Execute(ctx context.Context, tool Tool, args json.RawMessage, creds Credentials) (*Result, error) {
	desc := tool.Descriptor()
	scoped := creds.Scope(desc.Requires)

	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		result, err := tool.Invoke(execCtx, args, scoped)
		done <- outcome{result: result, err: err}
	}()

	select {
	case o := <-done:
		if o.err == nil {
			if o.result == nil {
				o.result = &Result{}
			}
			slog.Debug("tool execution succeeded",
				slog.String("tool", desc.Name),
				slog.Duration("duration", time.Since(start)))
			return o.result, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s after %s", ErrToolTimeout, desc.Name, e.timeout)
		}
		slog.Warn("tool execution failed",
			slog.String("tool", desc.Name),
			slog.String("error", o.err.Error()))
		return nil, o.err
	case <-execCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Warn("tool execution timed out",
			slog.String("tool", desc.Name),
			slog.Duration("timeout", e.timeout))
		return nil, fmt.Errorf("%w: %s after %s", ErrToolTimeout, desc.Name, e.timeout)
	}
}
