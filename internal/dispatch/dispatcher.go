// Package dispatch executes decoded tool calls. It normalizes inconsistent
// argument shapes through a data-driven compatibility bridge, injects caller
// context under a reserved namespace, resolves implementations from the
// registry by call convention, and coerces every outcome — success, error,
// panic, timeout — into a ToolExecutionResult. A single tool failure never
// aborts the agent loop.
package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/kitaworks/agentcore/internal/progress"
	"github.com/kitaworks/agentcore/pkg/models"
)

// ContextKey is the reserved argument key carrying injected caller context.
// Tool schemas never declare it; dispatch owns the namespace.
const ContextKey = "__context"

// DispatchContext is the read-only context attached to every invocation.
// It is constructed fresh per call and never shared across calls.
type DispatchContext struct {
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id"`
	AuthToken      string `json:"auth_token,omitempty"`

	// Emitter receives step events from tools that report sub-progress.
	// It travels out of band, not in the argument payload.
	Emitter progress.StepEmitter `json:"-"`
}

type emitterCtxKey struct{}

// WithEmitter attaches a step emitter to the execution context for tools
// that report sub-progress.
func WithEmitter(ctx context.Context, emitter progress.StepEmitter) context.Context {
	return context.WithValue(ctx, emitterCtxKey{}, emitter)
}

// EmitterFrom returns the step emitter from the context, or a NopEmitter.
func EmitterFrom(ctx context.Context) progress.StepEmitter {
	if e, ok := ctx.Value(emitterCtxKey{}).(progress.StepEmitter); ok && e != nil {
		return e
	}
	return progress.NopEmitter{}
}

// BuiltinTool is a tool dispatched without registry lookup. Builtins are
// conversational conveniences: when one fails, dispatch still reports
// success with a degraded payload, since a missing search result is not a
// fatal condition for the conversation.
type BuiltinTool interface {
	Name() string
	Run(ctx context.Context, params json.RawMessage) (json.RawMessage, error)

	// Degraded returns the fallback payload reported when Run fails.
	Degraded(err error) json.RawMessage
}

// Dispatcher turns frozen tool calls into standardized execution results.
type Dispatcher struct {
	registry *Registry
	bridge   map[string]Rule
	exec     *executor
	builtins map[string]BuiltinTool
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher around a registry. A nil bridge table
// uses the default; a nil executor config uses defaults.
func NewDispatcher(registry *Registry, bridge map[string]Rule, execConfig *ExecutorConfig, logger *slog.Logger) *Dispatcher {
	if registry == nil {
		registry = NewRegistry()
	}
	if bridge == nil {
		bridge = DefaultBridgeTable()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry: registry,
		bridge:   bridge,
		exec:     newExecutor(execConfig),
		builtins: make(map[string]BuiltinTool),
		logger:   logger,
	}
}

// Registry exposes the tool registry for registration.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// RegisterBuiltin installs a builtin tool dispatched without registry
// lookup.
func (d *Dispatcher) RegisterBuiltin(tool BuiltinTool) {
	d.builtins[tool.Name()] = tool
}

// ConfigureTool sets per-tool timeout and retry overrides.
func (d *Dispatcher) ConfigureTool(name string, override *ToolOverride) {
	d.exec.configureTool(name, override)
}

// Metrics returns a snapshot of executor metrics.
func (d *Dispatcher) Metrics() ExecutorMetricsSnapshot {
	return d.exec.Metrics()
}

// DispatchAll executes the calls of one turn concurrently and returns
// results in input order. Calls within a turn share no ordering dependency.
func (d *Dispatcher) DispatchAll(ctx context.Context, calls []models.ToolCall, dctx DispatchContext) []models.ToolExecutionResult {
	if len(calls) == 0 {
		return nil
	}
	results := make([]models.ToolExecutionResult, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, tc models.ToolCall) {
			defer wg.Done()
			results[idx] = d.Dispatch(ctx, tc, dctx)
		}(i, call)
	}
	wg.Wait()
	return results
}

// Dispatch executes one frozen tool call. It is a total function: every
// outcome, including argument parse failures, missing tools, panics, and
// timeouts, is reported as a ToolExecutionResult, never a propagated error.
func (d *Dispatcher) Dispatch(ctx context.Context, call models.ToolCall, dctx DispatchContext) models.ToolExecutionResult {
	start := time.Now()
	// An explicit emitter wins; otherwise any emitter already installed on
	// the context stays visible to the tool.
	if dctx.Emitter != nil {
		ctx = WithEmitter(ctx, dctx.Emitter)
	}

	args := parseArgs(call.Input)
	args = ApplyBridge(d.bridge, call.Name, args)

	// Builtins short-circuit the registry. Their failures degrade, not
	// fail: the turn continues on fallback data.
	if builtin, ok := d.builtins[call.Name]; ok {
		return d.runBuiltin(ctx, builtin, call, args, dctx, start)
	}

	binding, ok := d.registry.Resolve(call.Name)
	if !ok {
		d.logger.Warn("tool not registered", "tool", call.Name)
		return failure(call, ErrToolNotFound.Error()+": "+call.Name, start)
	}

	if err := binding.validate(args); err != nil {
		return failure(call, err.Error(), start)
	}

	params, err := marshalParams(args, dctx)
	if err != nil {
		return failure(call, "failed to encode arguments: "+err.Error(), start)
	}
	if len(params) > MaxToolParamsSize {
		return failure(call, "tool parameters exceed maximum size", start)
	}

	data, attempts, err := d.exec.run(ctx, call.Name, call.ID, binding.call, params)
	elapsed := time.Since(start)
	if err != nil {
		d.logger.Warn("tool execution failed",
			"tool", call.Name,
			"tool_call_id", call.ID,
			"attempts", attempts,
			"error", err,
		)
		return failure(call, err.Error(), start)
	}

	return models.ToolExecutionResult{
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Success:    true,
		Data:       data,
		Duration:   elapsed,
	}
}

func (d *Dispatcher) runBuiltin(ctx context.Context, tool BuiltinTool, call models.ToolCall, args map[string]any, dctx DispatchContext, start time.Time) models.ToolExecutionResult {
	params, err := marshalParams(args, dctx)
	if err != nil {
		return failure(call, "failed to encode arguments: "+err.Error(), start)
	}

	data, err := tool.Run(ctx, params)
	if err != nil {
		d.logger.Warn("builtin tool degraded",
			"tool", call.Name,
			"error", err,
		)
		return models.ToolExecutionResult{
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Success:    true,
			Data:       tool.Degraded(err),
			Status:     "degraded",
			Duration:   time.Since(start),
		}
	}
	return models.ToolExecutionResult{
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Success:    true,
		Data:       data,
		Duration:   time.Since(start),
	}
}

// parseArgs decodes the raw argument buffer. An unparseable payload is kept
// as a verbatim single field rather than discarding the call.
func parseArgs(input json.RawMessage) map[string]any {
	if len(input) == 0 {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal(input, &args); err != nil || args == nil {
		return map[string]any{"raw_input": string(input)}
	}
	return args
}

// marshalParams encodes bridged arguments with caller context injected
// under the reserved namespace.
func marshalParams(args map[string]any, dctx DispatchContext) (json.RawMessage, error) {
	payload := make(map[string]any, len(args)+1)
	for k, v := range args {
		payload[k] = v
	}
	payload[ContextKey] = map[string]any{
		"user_id":         dctx.UserID,
		"conversation_id": dctx.ConversationID,
		"auth_token":      dctx.AuthToken,
	}
	return json.Marshal(payload)
}

func failure(call models.ToolCall, msg string, start time.Time) models.ToolExecutionResult {
	return models.ToolExecutionResult{
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Success:    false,
		Error:      msg,
		Duration:   time.Since(start),
	}
}
