package models

import (
	"encoding/json"
	"time"
)

// Intent classifications produced by the upstream request analyzer.
const (
	IntentQuery      = "query"
	IntentPageAction = "page_action"
	IntentCreation   = "creation"
	IntentGeneral    = "general"
)

// Complexity classifications produced by the upstream request analyzer.
const (
	ComplexitySimple      = "simple"
	ComplexityModerate    = "moderate"
	ComplexityComplex     = "complex"
	ComplexityVeryComplex = "very_complex"
)

// RequestAnalysis is the upstream classifier's view of a request. The
// integrator treats it as read-only input; producing it is a collaborator
// concern.
type RequestAnalysis struct {
	Intent     string `json:"intent"`
	Complexity string `json:"complexity"`
	Approach   string `json:"approach,omitempty"`

	// BaseConfidence in [0,1] scales the integrator's confidence score.
	BaseConfidence float64 `json:"base_confidence"`

	SuggestedActions []string `json:"suggested_actions,omitempty"`
}

// UIDirective instructs the client to render a typed view from tool output.
type UIDirective struct {
	// Type tags the view (todo_list, chart, table, notification).
	Type string `json:"type"`

	// Data is the raw renderable payload from the tool.
	Data json.RawMessage `json:"data"`

	// DisplayHints carries presentation hints for the client.
	DisplayHints map[string]string `json:"display_hints,omitempty"`

	// Animation is chosen from a fixed type→animation table.
	Animation string `json:"animation,omitempty"`
}

// Recommendation is a suggested follow-up action for the user.
type Recommendation struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Action      string `json:"action"`
	Priority    string `json:"priority"`
}

// ResponseMetadata carries bookkeeping about how a response was produced.
type ResponseMetadata struct {
	Elapsed    time.Duration `json:"elapsed"`
	ToolsUsed  []string      `json:"tools_used,omitempty"`
	Intent     string        `json:"intent,omitempty"`
	Complexity string        `json:"complexity,omitempty"`
	NextSteps  []string      `json:"next_steps,omitempty"`
}

// IntelligentResponse is the final structured output of one turn loop.
// It is built once at loop exit and immutable thereafter.
type IntelligentResponse struct {
	Success bool `json:"success"`

	// Message is the user-facing response text.
	Message string `json:"message"`

	// ToolExecutions lists every dispatched tool result in order.
	ToolExecutions []ToolExecutionResult `json:"tool_executions,omitempty"`

	Directives      []UIDirective    `json:"directives,omitempty"`
	Recommendations []Recommendation `json:"recommendations,omitempty"`

	// Confidence is successfulTools/totalTools * base confidence, in [0,1].
	Confidence float64 `json:"confidence"`

	Metadata ResponseMetadata `json:"metadata"`
}
