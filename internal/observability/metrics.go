// Package observability provides Prometheus metrics and OpenTelemetry
// tracing for the agent core.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks the agent core's operational signals:
//   - turn loop outcomes and durations
//   - stream decode passes, including timeout-partial completions
//   - tool execution patterns and latencies
//   - permission denials by role and violation
type Metrics struct {
	// TurnCounter counts completed turn loops.
	// Labels: status (success|error|denied)
	TurnCounter *prometheus.CounterVec

	// TurnDuration measures full turn loop latency in seconds.
	// Buckets: 0.1s, 0.5s, 1s, 2s, 5s, 10s, 30s, 60s, 120s
	TurnDuration prometheus.Histogram

	// DecodeCounter counts stream decode passes.
	// Labels: termination (explicit|eof|timeout)
	DecodeCounter *prometheus.CounterVec

	// DecodeDuration measures one decode pass in seconds.
	// Buckets: 0.1s, 0.5s, 1s, 5s, 10s, 30s, 60s, 120s
	DecodeDuration prometheus.Histogram

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error|degraded)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// DenialCounter counts permission gate denials.
	// Labels: role, violation
	DenialCounter *prometheus.CounterVec

	// ErrorCounter tracks errors by component and type.
	// Labels: component (decoder|dispatcher|gate|backend|sessions), error_type
	ErrorCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics. Call once at
// process start; metrics register with the default registry and serve from
// the standard /metrics handler.
func NewMetrics() *Metrics {
	return &Metrics{
		TurnCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_turns_total",
				Help: "Total number of turn loops by outcome",
			},
			[]string{"status"},
		),

		TurnDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "agentcore_turn_duration_seconds",
				Help:    "Duration of full turn loops in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
		),

		DecodeCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_decodes_total",
				Help: "Total number of stream decode passes by termination",
			},
			[]string{"termination"},
		),

		DecodeDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "agentcore_decode_duration_seconds",
				Help:    "Duration of stream decode passes in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
			},
		),

		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentcore_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		DenialCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_denials_total",
				Help: "Total number of permission gate denials by role and violation",
			},
			[]string{"role", "violation"},
		),

		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_errors_total",
				Help: "Total number of errors by component and error type",
			},
			[]string{"component", "error_type"},
		),
	}
}

// RecordTurn records a completed turn loop.
func (m *Metrics) RecordTurn(status string, durationSeconds float64) {
	m.TurnCounter.WithLabelValues(status).Inc()
	m.TurnDuration.Observe(durationSeconds)
}

// RecordDecode records one stream decode pass.
func (m *Metrics) RecordDecode(termination string, durationSeconds float64) {
	m.DecodeCounter.WithLabelValues(termination).Inc()
	m.DecodeDuration.Observe(durationSeconds)
}

// RecordToolExecution records one tool execution.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordDenial records a permission gate denial.
func (m *Metrics) RecordDenial(role, violation string) {
	m.DenialCounter.WithLabelValues(role, violation).Inc()
}

// RecordError increments the error counter for a component and error type.
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}
