package dispatch

// The compatibility bridge reconciles inconsistent tool argument schemas.
// Tool call shapes drift across the tool population: one tool expects a
// grouped object, another a flattened synonym of the same field. The bridge
// is a pure, data-driven transform applied to decoded arguments before
// lookup-and-call, so adding a bridged tool means adding a table entry, not
// touching dispatch control flow.

// Derivation sets a target field from a source field through a value map.
// It only fires when the source is present, the value is mapped, and the
// target is absent.
type Derivation struct {
	From string
	To   string
	Map  map[string]any
}

// Rule is the bridge entry for one tool name.
type Rule struct {
	// Aliases rename wire-level keys to the canonical schema keys.
	Aliases map[string]string

	// Defaults fill canonical keys the caller omitted.
	Defaults map[string]any

	// Derivations expand shorthand fields into their canonical forms.
	Derivations []Derivation
}

// DefaultBridgeTable covers the tools known to need argument reconciliation.
func DefaultBridgeTable() map[string]Rule {
	return map[string]Rule{
		"get_activity_statistics": {
			Defaults: map[string]any{
				"metrics": []any{
					"total_activities",
					"average_participants",
					"activity_frequency",
				},
			},
			Derivations: []Derivation{
				{
					From: "period",
					To:   "timeRange",
					Map: map[string]any{
						"week":    "last_week",
						"month":   "last_month",
						"quarter": "last_quarter",
						"year":    "last_year",
					},
				},
			},
		},
		"capture_page": {
			Aliases: map[string]string{
				"type": "capture_type",
			},
			Defaults: map[string]any{
				"capture_type": "screenshot",
			},
		},
		"create_notification": {
			Aliases: map[string]string{
				"text":  "message",
				"level": "priority",
			},
			Defaults: map[string]any{
				"priority": "normal",
			},
		},
	}
}

// ApplyBridge applies the rule for toolName to args and returns a new map.
// The input map is never mutated; unknown tools pass through as a copy.
func ApplyBridge(table map[string]Rule, toolName string, args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}

	rule, ok := table[toolName]
	if !ok {
		return out
	}

	for from, to := range rule.Aliases {
		if v, present := out[from]; present {
			if _, taken := out[to]; !taken {
				out[to] = v
			}
			delete(out, from)
		}
	}

	for _, d := range rule.Derivations {
		src, present := out[d.From]
		if !present {
			continue
		}
		if _, taken := out[d.To]; taken {
			continue
		}
		key, isString := src.(string)
		if !isString {
			continue
		}
		if mapped, found := d.Map[key]; found {
			out[d.To] = mapped
		}
	}

	for key, val := range rule.Defaults {
		if _, present := out[key]; !present {
			out[key] = val
		}
	}

	return out
}
