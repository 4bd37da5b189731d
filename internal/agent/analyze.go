package agent

import (
	"strings"

	"github.com/kitaworks/agentcore/pkg/models"
)

// Intent phrase tables for the request classifier. First match wins within
// a table; tables are checked in declaration order.
var (
	pageActionPhrases = []string{
		"open the", "go to", "navigate", "click", "switch to",
		"update the page", "refresh",
	}
	creationPhrases = []string{
		"create", "add a", "add new", "register", "schedule",
		"set up", "write a",
	}
	queryPhrases = []string{
		"show", "list", "how many", "what is", "what are",
		"find", "look up", "statistics", "report",
	}
)

// Analyze classifies a request's intent and complexity and assigns the base
// confidence the integrator scales by tool success rate. The heuristics are
// deliberately coarse; the classification only steers response framing and
// recommendations, never permissions.
func Analyze(message string) models.RequestAnalysis {
	lower := strings.ToLower(message)

	intent := models.IntentGeneral
	switch {
	case matchPhrase(lower, pageActionPhrases):
		intent = models.IntentPageAction
	case matchPhrase(lower, creationPhrases):
		intent = models.IntentCreation
	case matchPhrase(lower, queryPhrases):
		intent = models.IntentQuery
	}

	complexity := classifyComplexity(lower)

	analysis := models.RequestAnalysis{
		Intent:         intent,
		Complexity:     complexity,
		BaseConfidence: baseConfidence(intent, complexity),
	}
	switch intent {
	case models.IntentQuery:
		analysis.Approach = "lookup"
	case models.IntentPageAction:
		analysis.Approach = "page_interaction"
	case models.IntentCreation:
		analysis.Approach = "guided_creation"
	default:
		analysis.Approach = "conversational"
	}
	return analysis
}

func classifyComplexity(lower string) string {
	steps := 1 + strings.Count(lower, " and ") + strings.Count(lower, " then ") + strings.Count(lower, ", ")
	words := len(strings.Fields(lower))

	switch {
	case steps >= 4 || words > 80:
		return models.ComplexityVeryComplex
	case steps == 3 || words > 40:
		return models.ComplexityComplex
	case steps == 2 || words > 15:
		return models.ComplexityModerate
	default:
		return models.ComplexitySimple
	}
}

// baseConfidence reflects how well the system handles each intent class;
// more steps means more places to go wrong.
func baseConfidence(intent, complexity string) float64 {
	base := 0.9
	switch intent {
	case models.IntentQuery:
		base = 0.95
	case models.IntentPageAction:
		base = 0.85
	case models.IntentCreation:
		base = 0.85
	}
	switch complexity {
	case models.ComplexityComplex:
		base -= 0.05
	case models.ComplexityVeryComplex:
		base -= 0.15
	}
	return base
}

func matchPhrase(text string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}
