package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"time"
)

// ExecutorConfig configures concurrent tool execution: concurrency limits,
// timeouts, and retry strategy.
type ExecutorConfig struct {
	// MaxConcurrency limits parallel tool executions.
	// Default: 5
	MaxConcurrency int

	// DefaultTimeout bounds one tool attempt.
	// Default: 30s
	DefaultTimeout time.Duration

	// DefaultRetries is the retry count for retryable failures.
	// Default: 2
	DefaultRetries int

	// RetryBackoff is the initial backoff between retries.
	// Default: 100ms
	RetryBackoff time.Duration

	// MaxRetryBackoff caps the exponential backoff.
	// Default: 5s
	MaxRetryBackoff time.Duration
}

// DefaultExecutorConfig returns the default executor configuration.
func DefaultExecutorConfig() *ExecutorConfig {
	return &ExecutorConfig{
		MaxConcurrency:  5,
		DefaultTimeout:  30 * time.Second,
		DefaultRetries:  2,
		RetryBackoff:    100 * time.Millisecond,
		MaxRetryBackoff: 5 * time.Second,
	}
}

// ToolOverride holds per-tool configuration overrides.
type ToolOverride struct {
	Timeout      time.Duration
	Retries      int
	RetryBackoff time.Duration
}

// executor runs prepared tool invocations with backpressure, per-attempt
// timeouts, retry with exponential backoff, and panic containment. Each
// invocation runs in its own goroutine so a hung tool cannot stall the
// progress of its siblings.
type executor struct {
	config    *ExecutorConfig
	overrides map[string]*ToolOverride
	mu        sync.RWMutex

	sem chan struct{}

	metrics *ExecutorMetrics
}

// ExecutorMetrics tracks execution counts, retries, failures, timeouts, and
// contained panics.
type ExecutorMetrics struct {
	mu              sync.Mutex
	TotalExecutions int64
	TotalRetries    int64
	TotalFailures   int64
	TotalTimeouts   int64
	TotalPanics     int64
}

func newExecutor(config *ExecutorConfig) *executor {
	if config == nil {
		config = DefaultExecutorConfig()
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = DefaultExecutorConfig().MaxConcurrency
	}
	return &executor{
		config:    config,
		overrides: make(map[string]*ToolOverride),
		sem:       make(chan struct{}, config.MaxConcurrency),
		metrics:   &ExecutorMetrics{},
	}
}

func (e *executor) configureTool(name string, override *ToolOverride) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.overrides[name] = override
}

func (e *executor) toolOverride(name string) *ToolOverride {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.overrides[name]
}

// run executes one prepared invocation to completion. All failure modes,
// including panics and timeouts, come back as an error; nothing escapes.
func (e *executor) run(ctx context.Context, toolName, toolCallID string, call ToolFunc, params json.RawMessage) (json.RawMessage, int, error) {
	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		return nil, 0, NewToolError(toolName, ctx.Err()).
			WithType(ToolErrorTimeout).
			WithToolCallID(toolCallID)
	}

	timeout := e.config.DefaultTimeout
	maxRetries := e.config.DefaultRetries
	backoff := e.config.RetryBackoff
	if o := e.toolOverride(toolName); o != nil {
		if o.Timeout > 0 {
			timeout = o.Timeout
		}
		if o.Retries >= 0 {
			maxRetries = o.Retries
		}
		if o.RetryBackoff > 0 {
			backoff = o.RetryBackoff
		}
	}

	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= maxRetries; attempt++ {
		attempts = attempt + 1

		data, err := e.runOnce(ctx, toolName, toolCallID, call, params, timeout)
		if err == nil {
			e.metrics.mu.Lock()
			e.metrics.TotalExecutions++
			if attempt > 0 {
				e.metrics.TotalRetries += int64(attempt)
			}
			e.metrics.mu.Unlock()
			return data, attempts, nil
		}

		lastErr = err
		if !IsRetryable(err) || ctx.Err() != nil || attempt >= maxRetries {
			break
		}

		sleep := backoff * time.Duration(1<<uint(attempt))
		if sleep > e.config.MaxRetryBackoff {
			sleep = e.config.MaxRetryBackoff
		}
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			lastErr = NewToolError(toolName, ctx.Err()).
				WithType(ToolErrorTimeout).
				WithToolCallID(toolCallID)
		}
		if ctx.Err() != nil {
			break
		}
	}

	e.metrics.mu.Lock()
	e.metrics.TotalExecutions++
	e.metrics.TotalFailures++
	if toolErr, ok := GetToolError(lastErr); ok {
		switch toolErr.Type {
		case ToolErrorTimeout:
			e.metrics.TotalTimeouts++
		case ToolErrorPanic:
			e.metrics.TotalPanics++
		}
	}
	e.metrics.mu.Unlock()

	if toolErr, ok := GetToolError(lastErr); ok {
		toolErr.WithAttempts(attempts)
	}
	return nil, attempts, lastErr
}

func (e *executor) runOnce(ctx context.Context, toolName, toolCallID string, call ToolFunc, params json.RawMessage, timeout time.Duration) (json.RawMessage, error) {
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		data json.RawMessage
		err  error
	}
	resultCh := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				resultCh <- outcome{err: NewToolError(toolName, fmt.Errorf("panic: %v\n%s", r, stack)).
					WithType(ToolErrorPanic).
					WithToolCallID(toolCallID)}
			}
		}()

		data, err := call(execCtx, params)
		if err != nil {
			resultCh <- outcome{err: NewToolError(toolName, err).WithToolCallID(toolCallID)}
			return
		}
		resultCh <- outcome{data: data}
	}()

	select {
	case res := <-resultCh:
		return res.data, res.err
	case <-execCtx.Done():
		if ctx.Err() != nil {
			return nil, NewToolError(toolName, ctx.Err()).
				WithType(ToolErrorTimeout).
				WithToolCallID(toolCallID).
				WithMessage("context cancelled")
		}
		return nil, NewToolError(toolName, ErrToolTimeout).
			WithType(ToolErrorTimeout).
			WithToolCallID(toolCallID).
			WithMessage(fmt.Sprintf("execution timed out after %s", timeout))
	}
}

// Metrics returns a copy-safe snapshot of the executor metrics.
func (e *executor) Metrics() ExecutorMetricsSnapshot {
	e.metrics.mu.Lock()
	defer e.metrics.mu.Unlock()
	return ExecutorMetricsSnapshot{
		TotalExecutions: e.metrics.TotalExecutions,
		TotalRetries:    e.metrics.TotalRetries,
		TotalFailures:   e.metrics.TotalFailures,
		TotalTimeouts:   e.metrics.TotalTimeouts,
		TotalPanics:     e.metrics.TotalPanics,
	}
}

// ExecutorMetricsSnapshot is a point-in-time copy of executor metrics.
type ExecutorMetricsSnapshot struct {
	TotalExecutions int64
	TotalRetries    int64
	TotalFailures   int64
	TotalTimeouts   int64
	TotalPanics     int64
}
