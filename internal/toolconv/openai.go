// Package toolconv converts registry tool definitions into the function
// schema shape expected by OpenAI-compatible backends.
package toolconv

import (
	"encoding/json"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kitaworks/agentcore/internal/dispatch"
)

// ToOpenAITools converts registry definitions to OpenAI function schema.
// A definition with an unparseable schema gets an empty object schema
// rather than being dropped.
func ToOpenAITools(defs []dispatch.Definition) []openai.Tool {
	result := make([]openai.Tool, len(defs))
	for i, def := range defs {
		var schemaMap map[string]any
		if err := json.Unmarshal(def.Schema, &schemaMap); err != nil || schemaMap == nil {
			schemaMap = map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			}
		}

		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  schemaMap,
			},
		}
	}
	return result
}
