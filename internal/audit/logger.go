// Package audit records security-relevant events: permission denials, tool
// invocations, and completed turns. Informational events are buffered and
// written asynchronously; denial events are written synchronously before
// the denial is returned to the caller and are never sampled.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// defaultMaxFieldLength bounds free-text audit fields when no limit is
// configured.
const defaultMaxFieldLength = 1024

// Logger is the audit sink.
type Logger struct {
	config  Config
	output  io.WriteCloser
	slogger *slog.Logger
	buffer  chan *Event
	wg      sync.WaitGroup
	done    chan struct{}
}

// NewLogger creates an audit logger. A disabled config yields a logger
// whose methods are no-ops.
func NewLogger(config Config) (*Logger, error) {
	if !config.Enabled {
		return &Logger{config: config}, nil
	}

	if config.SampleRate == 0 {
		config.SampleRate = 1.0
	}
	if config.BufferSize == 0 {
		config.BufferSize = 1000
	}
	if config.FlushInterval == 0 {
		config.FlushInterval = 5 * time.Second
	}
	if config.MaxFieldLength <= 0 {
		config.MaxFieldLength = defaultMaxFieldLength
	}

	var output io.WriteCloser
	switch {
	case config.Output == "stdout" || config.Output == "":
		output = os.Stdout
	case config.Output == "stderr":
		output = os.Stderr
	case strings.HasPrefix(config.Output, "file:"):
		path := strings.TrimPrefix(config.Output, "file:")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit log file: %w", err)
		}
		output = f
	default:
		return nil, fmt.Errorf("unsupported audit output: %s", config.Output)
	}

	l := &Logger{
		config: config,
		output: output,
		buffer: make(chan *Event, config.BufferSize),
		done:   make(chan struct{}),
	}

	var handler slog.Handler
	switch config.Format {
	case FormatText:
		handler = slog.NewTextHandler(output, nil)
	default:
		handler = slog.NewJSONHandler(output, nil)
	}
	l.slogger = slog.New(handler).With("component", "audit")

	l.wg.Add(1)
	go l.writeLoop()

	return l, nil
}

// Close flushes remaining events and closes the logger.
func (l *Logger) Close() error {
	if !l.config.Enabled {
		return nil
	}

	close(l.done)
	l.wg.Wait()

	if l.output != os.Stdout && l.output != os.Stderr {
		return l.output.Close()
	}
	return nil
}

// LogDenial records a permission denial. The write is synchronous: the
// record is on the sink before this returns, and sampling never applies.
func (l *Logger) LogDenial(ctx context.Context, userID, role, message, requestType, violation string) {
	if !l.config.Enabled {
		return
	}
	event := &Event{
		ID:          uuid.NewString(),
		Type:        EventSecurityDenial,
		Level:       LevelWarn,
		Timestamp:   time.Now(),
		UserID:      userID,
		Role:        role,
		Message:     l.sanitize(message),
		RequestType: requestType,
		Violation:   violation,
	}
	l.correlate(ctx, event)
	l.writeEvent(event)
}

// LogToolInvocation records a dispatched tool call.
func (l *Logger) LogToolInvocation(ctx context.Context, userID, toolName, toolCallID string, success bool, duration time.Duration) {
	level := LevelInfo
	if !success {
		level = LevelWarn
	}
	event := &Event{
		Type:       EventToolInvocation,
		Level:      level,
		UserID:     userID,
		ToolName:   toolName,
		ToolCallID: toolCallID,
		Duration:   duration,
		Details:    map[string]any{"success": success},
	}
	l.correlate(ctx, event)
	l.log(event)
}

// LogTurn records a completed turn loop.
func (l *Logger) LogTurn(ctx context.Context, userID, conversationID string, iterations, toolCalls int, duration time.Duration) {
	event := &Event{
		Type:     EventTurnCompleted,
		Level:    LevelInfo,
		UserID:   userID,
		Duration: duration,
		Details: map[string]any{
			"conversation_id": conversationID,
			"iterations":      iterations,
			"tool_calls":      toolCalls,
		},
	}
	l.correlate(ctx, event)
	l.log(event)
}

// sanitize applies the configured privacy controls to user-authored text.
func (l *Logger) sanitize(message string) string {
	if l.config.HashUserContent {
		sum := sha256.Sum256([]byte(message))
		return "sha256:" + hex.EncodeToString(sum[:])
	}
	if l.config.MaxFieldLength > 0 && len(message) > l.config.MaxFieldLength {
		return message[:l.config.MaxFieldLength]
	}
	return message
}

// correlate stamps the event with the active trace, if any.
func (l *Logger) correlate(ctx context.Context, event *Event) {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return
	}
	event.TraceID = sc.TraceID().String()
	event.SpanID = sc.SpanID().String()
}

// log queues an informational event, subject to sampling. If the buffer is
// full the event is written inline rather than dropped.
func (l *Logger) log(event *Event) {
	if !l.config.Enabled {
		return
	}
	if l.config.SampleRate < 1.0 && rand.Float64() > l.config.SampleRate {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case l.buffer <- event:
	default:
		l.writeEvent(event)
	}
}

func (l *Logger) writeLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case event := <-l.buffer:
			l.writeEvent(event)
		case <-ticker.C:
			l.flushBuffer()
		case <-l.done:
			l.flushBuffer()
			return
		}
	}
}

func (l *Logger) flushBuffer() {
	for {
		select {
		case event := <-l.buffer:
			l.writeEvent(event)
		default:
			return
		}
	}
}

func (l *Logger) writeEvent(event *Event) {
	attrs := []any{
		"audit_id", event.ID,
		"audit_type", event.Type,
		"timestamp", event.Timestamp.Format(time.RFC3339Nano),
	}
	if event.UserID != "" {
		attrs = append(attrs, "user_id", event.UserID)
	}
	if event.Role != "" {
		attrs = append(attrs, "role", event.Role)
	}
	if event.Message != "" {
		attrs = append(attrs, "message", event.Message)
	}
	if event.RequestType != "" {
		attrs = append(attrs, "request_type", event.RequestType)
	}
	if event.Violation != "" {
		attrs = append(attrs, "violation", event.Violation)
	}
	if event.TraceID != "" {
		attrs = append(attrs, "trace_id", event.TraceID, "span_id", event.SpanID)
	}
	if event.ToolName != "" {
		attrs = append(attrs, "tool_name", event.ToolName)
	}
	if event.ToolCallID != "" {
		attrs = append(attrs, "tool_call_id", event.ToolCallID)
	}
	if event.Duration > 0 {
		attrs = append(attrs, "duration_ms", event.Duration.Milliseconds())
	}
	for k, v := range event.Details {
		attrs = append(attrs, k, v)
	}

	switch event.Level {
	case LevelWarn:
		l.slogger.Warn("audit", attrs...)
	case LevelError:
		l.slogger.Error("audit", attrs...)
	default:
		l.slogger.Info("audit", attrs...)
	}
}
