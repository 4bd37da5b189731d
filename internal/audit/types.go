package audit

import "time"

// EventType categorizes audit events.
type EventType string

const (
	// EventSecurityDenial records a permission gate denial.
	EventSecurityDenial EventType = "security_denial"

	// EventToolInvocation records a dispatched tool call.
	EventToolInvocation EventType = "tool_invocation"

	// EventTurnCompleted records a completed turn loop.
	EventTurnCompleted EventType = "turn_completed"
)

// Level is the severity of an audit event.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Format selects the output encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Config controls audit logging behavior.
type Config struct {
	// Enabled turns audit logging on or off entirely.
	Enabled bool

	// Output is "stdout", "stderr", or "file:<path>".
	Output string

	// Format is the output encoding.
	Format Format

	// SampleRate controls informational event sampling in (0,1].
	// Denial events are never sampled.
	SampleRate float64

	// BufferSize is the async write queue capacity.
	BufferSize int

	// FlushInterval bounds how long a buffered event may wait.
	FlushInterval time.Duration

	// HashUserContent replaces user message text with its sha256 digest,
	// keeping denial records correlatable without storing the raw text.
	HashUserContent bool

	// MaxFieldLength truncates free-text fields. Zero means the default.
	MaxFieldLength int
}

// Event is one audit record.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Level     Level     `json:"level"`
	Timestamp time.Time `json:"timestamp"`

	UserID      string `json:"user_id,omitempty"`
	Role        string `json:"role,omitempty"`
	Message     string `json:"message,omitempty"`
	RequestType string `json:"request_type,omitempty"`

	// TraceID and SpanID correlate the event with the active trace.
	TraceID string `json:"trace_id,omitempty"`
	SpanID  string `json:"span_id,omitempty"`

	// Violation is the policy violation tag on denial events.
	Violation string `json:"violation,omitempty"`

	ToolName   string        `json:"tool_name,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`

	Details map[string]any `json:"details,omitempty"`
}
