package dispatch

import (
	"reflect"
	"testing"
)

func TestApplyBridgeActivityStatistics(t *testing.T) {
	table := DefaultBridgeTable()
	args := map[string]any{"period": "month"}

	out := ApplyBridge(table, "get_activity_statistics", args)

	wantMetrics := []any{"total_activities", "average_participants", "activity_frequency"}
	if !reflect.DeepEqual(out["metrics"], wantMetrics) {
		t.Errorf("metrics = %v, want default expansion %v", out["metrics"], wantMetrics)
	}
	if out["timeRange"] != "last_month" {
		t.Errorf("timeRange = %v, want %q derived from period", out["timeRange"], "last_month")
	}
	if out["period"] != "month" {
		t.Errorf("period = %v, derivation must not remove the source field", out["period"])
	}
	if _, mutated := args["metrics"]; mutated {
		t.Error("ApplyBridge mutated its input map")
	}
}

func TestApplyBridgeCallerValuesWin(t *testing.T) {
	table := DefaultBridgeTable()
	args := map[string]any{
		"period":    "week",
		"timeRange": "custom_range",
		"metrics":   []any{"total_activities"},
	}

	out := ApplyBridge(table, "get_activity_statistics", args)

	if out["timeRange"] != "custom_range" {
		t.Errorf("timeRange = %v, derivation must not overwrite a caller value", out["timeRange"])
	}
	if !reflect.DeepEqual(out["metrics"], []any{"total_activities"}) {
		t.Errorf("metrics = %v, default must not overwrite a caller value", out["metrics"])
	}
}

func TestApplyBridgeAliases(t *testing.T) {
	table := DefaultBridgeTable()

	out := ApplyBridge(table, "capture_page", map[string]any{"type": "pdf"})
	if out["capture_type"] != "pdf" {
		t.Errorf("capture_type = %v, want aliased value", out["capture_type"])
	}
	if _, present := out["type"]; present {
		t.Error("aliased source key must be removed")
	}

	// Alias must not clobber an explicit canonical value.
	out = ApplyBridge(table, "capture_page", map[string]any{
		"type":         "pdf",
		"capture_type": "screenshot",
	})
	if out["capture_type"] != "screenshot" {
		t.Errorf("capture_type = %v, explicit value must win over alias", out["capture_type"])
	}
}

func TestApplyBridgeUnknownToolPassesThrough(t *testing.T) {
	table := DefaultBridgeTable()
	args := map[string]any{"q": "hello", "n": float64(3)}

	out := ApplyBridge(table, "some_unbridged_tool", args)
	if !reflect.DeepEqual(out, args) {
		t.Errorf("out = %v, want untouched copy of %v", out, args)
	}

	out["q"] = "mutated"
	if args["q"] != "hello" {
		t.Error("returned map must be a copy, not the input")
	}
}

func TestApplyBridgeDerivationSkipsUnmappedValues(t *testing.T) {
	table := DefaultBridgeTable()
	out := ApplyBridge(table, "get_activity_statistics", map[string]any{"period": "fortnight"})
	if _, present := out["timeRange"]; present {
		t.Errorf("timeRange = %v, unmapped period value must not derive", out["timeRange"])
	}
}
