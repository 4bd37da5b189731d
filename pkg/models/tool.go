package models

import (
	"encoding/json"
	"time"
)

// ToolCall is a fully assembled tool invocation decoded from a model turn.
// Its Input may have been concatenated from several stream fragments; the
// dispatcher only sees frozen calls.
type ToolCall struct {
	// ID is the provider-assigned call id, if any.
	ID string `json:"id"`

	// Index is the call's position within its turn. It is the identity
	// key while argument fragments are still being assembled.
	Index int `json:"index"`

	// Name is the tool to invoke.
	Name string `json:"name"`

	// Input is the raw argument payload. It is usually JSON but may be
	// an arbitrary string that failed to parse upstream.
	Input json.RawMessage `json:"input"`
}

// ToolExecutionResult is the standardized output of one dispatched tool.
// Every tool, regardless of its native return shape, is coerced into this
// form before being folded back into conversation state.
type ToolExecutionResult struct {
	ToolCallID string `json:"tool_call_id"`
	ToolName   string `json:"tool_name"`

	Success bool `json:"success"`

	// Data is the tool's payload on success.
	Data json.RawMessage `json:"data,omitempty"`

	// Error is the failure message when Success is false.
	Error string `json:"error,omitempty"`

	// Status is an optional tool-specific status tag
	// (for example "degraded" for fallback search results).
	Status string `json:"status,omitempty"`

	// Duration is the wall-clock execution time.
	Duration time.Duration `json:"duration,omitempty"`
}

// Content renders the result as text for inclusion in model history.
func (r ToolExecutionResult) Content() string {
	if !r.Success && r.Error != "" {
		return r.Error
	}
	if len(r.Data) > 0 {
		return string(r.Data)
	}
	return ""
}

// StepEventStage marks the lifecycle stage of a tool step event.
type StepEventStage string

const (
	StepStarted   StepEventStage = "started"
	StepProgress  StepEventStage = "progress"
	StepCompleted StepEventStage = "completed"
	StepFailed    StepEventStage = "failed"
)

// StepEvent is a structured sub-progress report emitted by a running tool
// and forwarded to the caller's live progress channel.
type StepEvent struct {
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolName   string          `json:"tool_name"`
	Stage      StepEventStage  `json:"stage"`
	Message    string          `json:"message,omitempty"`
	Preview    json.RawMessage `json:"preview,omitempty"`
	Time       time.Time       `json:"time"`
}
