// Package integrate assembles the final structured response of a turn loop:
// message text, UI directives derived from renderable tool output,
// follow-up recommendations, and a confidence score. The formula is
// deliberately simple and auditable: successful tools over total tools,
// scaled by the upstream classifier's base confidence.
package integrate

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kitaworks/agentcore/pkg/models"
)

// animationByType maps directive types to their client animation hint.
// Unknown types get no animation.
var animationByType = map[string]string{
	"todo_list":    "slide_in",
	"chart":        "fade_in",
	"table":        "fade_in",
	"notification": "bounce",
	"card":         "slide_in",
}

// renderablePayload is the shape a tool payload must declare for the
// integrator to emit a UI directive from it.
type renderablePayload struct {
	Render struct {
		Type         string            `json:"type"`
		Data         json.RawMessage   `json:"data"`
		DisplayHints map[string]string `json:"display_hints"`
	} `json:"render"`
}

// ErrorConfidence is the floor confidence reported on the hard failure path.
const ErrorConfidence = 0.1

// Integrator builds IntelligentResponse values from tool results and the
// upstream request analysis. It holds no per-request state.
type Integrator struct{}

// New creates an Integrator.
func New() *Integrator {
	return &Integrator{}
}

// Integrate produces the final turn output. The message combines the model's
// own text with a summary of completed operations; directives come only from
// successful results declaring a renderable shape.
func (in *Integrator) Integrate(modelMessage string, results []models.ToolExecutionResult, analysis models.RequestAnalysis, elapsed time.Duration) models.IntelligentResponse {
	successful := 0
	toolsUsed := make([]string, 0, len(results))
	for _, r := range results {
		toolsUsed = append(toolsUsed, r.ToolName)
		if r.Success {
			successful++
		}
	}

	return models.IntelligentResponse{
		Success:         successful == len(results),
		Message:         buildMessage(modelMessage, results, analysis),
		ToolExecutions:  results,
		Directives:      buildDirectives(results),
		Recommendations: buildRecommendations(analysis),
		Confidence:      confidence(successful, len(results), analysis.BaseConfidence),
		Metadata: models.ResponseMetadata{
			Elapsed:    elapsed,
			ToolsUsed:  toolsUsed,
			Intent:     analysis.Intent,
			Complexity: analysis.Complexity,
			NextSteps:  analysis.SuggestedActions,
		},
	}
}

// ErrorResponse builds the hard-failure output: a user-safe message carrying
// the technical error, a single retry recommendation, and floor confidence.
func (in *Integrator) ErrorResponse(err error, analysis models.RequestAnalysis, elapsed time.Duration) models.IntelligentResponse {
	return models.IntelligentResponse{
		Success: false,
		Message: fmt.Sprintf("I ran into a problem while processing your request (%v). Nothing was changed; please try again.", err),
		Recommendations: []models.Recommendation{{
			Title:       "Retry the request",
			Description: "The failure was likely transient. Sending the same request again usually succeeds.",
			Action:      "retry",
			Priority:    "high",
		}},
		Confidence: ErrorConfidence,
		Metadata: models.ResponseMetadata{
			Elapsed:    elapsed,
			Intent:     analysis.Intent,
			Complexity: analysis.Complexity,
		},
	}
}

// confidence is successful/total * base. With no tools at all the model's
// text stands on its own and base confidence carries through unscaled.
func confidence(successful, total int, base float64) float64 {
	if base < 0 {
		base = 0
	}
	if base > 1 {
		base = 1
	}
	if total == 0 {
		return base
	}
	return float64(successful) / float64(total) * base
}

func buildMessage(modelMessage string, results []models.ToolExecutionResult, analysis models.RequestAnalysis) string {
	var b strings.Builder
	if modelMessage != "" {
		b.WriteString(modelMessage)
	}

	completed := make([]string, 0, len(results))
	for _, r := range results {
		if r.Success {
			completed = append(completed, r.ToolName)
		}
	}
	if len(completed) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("Completed: ")
		b.WriteString(strings.Join(completed, ", "))
		b.WriteString(".")
	}

	if b.Len() == 0 {
		if analysis.Approach != "" {
			return fmt.Sprintf("I handled this as a %s %s request using the %s approach.",
				orUnknown(analysis.Complexity), orUnknown(analysis.Intent), analysis.Approach)
		}
		return fmt.Sprintf("I handled this as a %s %s request.",
			orUnknown(analysis.Complexity), orUnknown(analysis.Intent))
	}
	return b.String()
}

func orUnknown(s string) string {
	if s == "" {
		return "general"
	}
	return s
}

// buildDirectives extracts UI directives from successful results whose
// payload declares a renderable shape. Failed results never render.
func buildDirectives(results []models.ToolExecutionResult) []models.UIDirective {
	var directives []models.UIDirective
	for _, r := range results {
		if !r.Success || len(r.Data) == 0 {
			continue
		}
		var payload renderablePayload
		if err := json.Unmarshal(r.Data, &payload); err != nil {
			continue
		}
		if payload.Render.Type == "" || len(payload.Render.Data) == 0 {
			continue
		}
		directives = append(directives, models.UIDirective{
			Type:         payload.Render.Type,
			Data:         payload.Render.Data,
			DisplayHints: payload.Render.DisplayHints,
			Animation:    animationByType[payload.Render.Type],
		})
	}
	return directives
}

// buildRecommendations applies the complexity/intent heuristics. Very
// complex tasks always recommend decomposition; page-mutating intents
// always recommend verifying the resulting state.
func buildRecommendations(analysis models.RequestAnalysis) []models.Recommendation {
	var recs []models.Recommendation
	if analysis.Complexity == models.ComplexityVeryComplex {
		recs = append(recs, models.Recommendation{
			Title:       "Break this into smaller steps",
			Description: "This task spans several operations. Splitting it into focused subtasks gives more reliable results.",
			Action:      "decompose_task",
			Priority:    "high",
		})
	}
	switch analysis.Intent {
	case models.IntentPageAction:
		recs = append(recs, models.Recommendation{
			Title:       "Verify the page state",
			Description: "The page was modified. Check that the result matches what you expected.",
			Action:      "verify_state",
			Priority:    "medium",
		})
	case models.IntentCreation:
		recs = append(recs, models.Recommendation{
			Title:       "Review what was created",
			Description: "Open the new item and confirm its details before sharing it.",
			Action:      "review_created",
			Priority:    "medium",
		})
	}
	return recs
}
