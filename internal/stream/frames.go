package stream

import (
	"encoding/json"
	"strings"
)

// framePrefix marks a consumable event line on the wire.
const framePrefix = "data: "

// terminalMarker is the explicit end-of-turn frame.
const terminalMarker = "[DONE]"

// frame is one decoded wire event. Any combination of fields may be set;
// text fields are incremental fragments, not totals.
type frame struct {
	// Reasoning is an incremental reasoning-text fragment.
	Reasoning string `json:"reasoning,omitempty"`

	// Content is an incremental content-text fragment.
	Content string `json:"content,omitempty"`

	// ToolCalls carries incremental tool-call fragments keyed by index.
	ToolCalls []toolCallDelta `json:"tool_calls,omitempty"`

	// Done marks an explicit end of turn.
	Done bool `json:"done,omitempty"`

	// Error carries a backend-reported stream error.
	Error string `json:"error,omitempty"`
}

// toolCallDelta is one tool-call fragment. The first fragment for an index
// establishes the call's id and name; subsequent fragments append to the
// argument buffer.
type toolCallDelta struct {
	Index    *int          `json:"index,omitempty"`
	ID       string        `json:"id,omitempty"`
	Function functionDelta `json:"function"`
}

type functionDelta struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// parseFrame extracts the payload from one complete wire line. It returns
// ok=false for non-frame lines (comments, keep-alives, blank lines) and
// terminal=true for the explicit end-of-turn marker.
func parseFrame(line string) (f frame, terminal, ok bool, err error) {
	line = strings.TrimRight(line, "\r")
	if line == "" || !strings.HasPrefix(line, framePrefix) {
		return frame{}, false, false, nil
	}
	payload := strings.TrimPrefix(line, framePrefix)
	if payload == terminalMarker {
		return frame{}, true, true, nil
	}
	if err := json.Unmarshal([]byte(payload), &f); err != nil {
		return frame{}, false, false, err
	}
	return f, false, true, nil
}
