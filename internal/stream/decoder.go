// Package stream decodes the model backend's framed event protocol. It is
// the only component that parses the wire format. A decode pass reassembles
// reasoning text, content text, and index-keyed tool-call fragments from a
// live byte stream, and resolves with a partial result on timeout instead
// of failing the turn.
package stream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/kitaworks/agentcore/internal/ratelimit"
	"github.com/kitaworks/agentcore/pkg/models"
)

// Termination records how a decode pass ended.
type Termination string

const (
	// TerminatedExplicit means the backend sent the end-of-turn marker.
	TerminatedExplicit Termination = "explicit"

	// TerminatedEOF means the stream ended naturally without a marker.
	// Tolerated as a non-error completion.
	TerminatedEOF Termination = "eof"

	// TerminatedTimeout means the wall-clock bound fired; the result
	// carries whatever state had accumulated. Partial success, not an
	// error.
	TerminatedTimeout Termination = "timeout"
)

// TurnResult is the output of one decode pass over one model turn.
type TurnResult struct {
	// Content is the accumulated content text. When the backend only
	// produced reasoning text, Content carries the reasoning buffer so a
	// turn never resolves empty-handed.
	Content string

	// Reasoning is the accumulated reasoning text, if any.
	Reasoning string

	// ToolCalls are the frozen, fully assembled calls, ordered by index.
	ToolCalls []models.ToolCall

	Termination Termination
}

// ErrTransport wraps stream read failures. Unlike a timeout, a transport
// error fails the turn.
var ErrTransport = errors.New("stream transport error")

// StatusFunc receives rate-limited human-readable decode status strings.
type StatusFunc func(status string)

// Options configure one decode pass.
type Options struct {
	// Iteration is the loop iteration this pass belongs to, used only in
	// status strings.
	Iteration int

	// ToolsEnabled controls whether tool-call fragments are accumulated.
	// When false they are dropped with a warning.
	ToolsEnabled bool

	// Progress receives rate-limited status strings. May be nil.
	Progress StatusFunc

	// ProgressInterval floors the gap between Progress calls.
	// Defaults to 500ms.
	ProgressInterval time.Duration

	// Timeout is the wall-clock bound for the whole pass, measured from
	// decode start. Defaults to 2 minutes.
	Timeout time.Duration
}

const (
	defaultTimeout          = 2 * time.Minute
	defaultProgressInterval = 500 * time.Millisecond

	// maxLineBytes bounds a single wire frame.
	maxLineBytes = 1 << 20

	// previewBytes bounds the buffer preview in status strings.
	previewBytes = 80
)

// Decoder decodes model turns. A Decoder is stateless across passes; all
// accumulation state is owned by a single Decode call and never shared.
type Decoder struct {
	logger *slog.Logger
}

// NewDecoder creates a stream decoder.
func NewDecoder(logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Decoder{logger: logger}
}

// callFragment accumulates one tool call across fragments. The first
// fragment for an index establishes id and name; later fragments append to
// the argument buffer.
type callFragment struct {
	id   string
	name string
	args strings.Builder
}

// Decode consumes the stream until the turn terminates, the stream ends, or
// the timeout fires. The reader is always closed before Decode returns.
//
// Only transport failures return an error; all Terminated(*) outcomes yield
// a TurnResult.
func (d *Decoder) Decode(ctx context.Context, body io.ReadCloser, opts Options) (*TurnResult, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = defaultProgressInterval
	}

	decodeCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	// Cancel the underlying read when the deadline fires. Closing the
	// body is the only way to unblock a Read in flight; merely returning
	// would leak the connection.
	readDone := make(chan struct{})
	go func() {
		select {
		case <-decodeCtx.Done():
			body.Close()
		case <-readDone:
		}
	}()
	defer func() {
		close(readDone)
		body.Close()
	}()

	var (
		content   strings.Builder
		reasoning strings.Builder
		fragments = map[int]*callFragment{}
		order     []int
		gate      = ratelimit.NewGate(opts.ProgressInterval)
	)

	emitProgress := func() {
		if opts.Progress == nil || !gate.Allow() {
			return
		}
		opts.Progress(fmt.Sprintf("iteration %d: %s", opts.Iteration, preview(&content, &reasoning)))
	}

	finalize := func(term Termination) *TurnResult {
		res := &TurnResult{
			Content:     content.String(),
			Reasoning:   reasoning.String(),
			Termination: term,
		}
		// Reasoning-only backends never emit separate content; fold the
		// reasoning buffer in so the turn still carries output.
		if res.Content == "" && res.Reasoning != "" {
			res.Content = res.Reasoning
		}
		res.ToolCalls = freezeCalls(fragments, order)
		return res
	}

	// A frame is only consumable once its full line is available; the
	// scanner defers partial lines to the next chunk by construction.
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		f, terminal, ok, err := parseFrame(scanner.Text())
		if err != nil {
			d.logger.Warn("skipping malformed frame", "error", err)
			continue
		}
		if !ok {
			continue
		}
		if terminal || f.Done {
			return finalize(TerminatedExplicit), nil
		}
		if f.Error != "" {
			return nil, fmt.Errorf("%w: backend: %s", ErrTransport, f.Error)
		}

		// Fragments apply in wire arrival order; there is no reordering.
		if f.Reasoning != "" {
			reasoning.WriteString(f.Reasoning)
		}
		if f.Content != "" {
			content.WriteString(f.Content)
		}
		for _, delta := range f.ToolCalls {
			if !opts.ToolsEnabled {
				d.logger.Warn("dropping tool-call fragment, tools disabled",
					"name", delta.Function.Name,
				)
				continue
			}
			idx := 0
			if delta.Index != nil {
				idx = *delta.Index
			}
			frag, exists := fragments[idx]
			if !exists {
				frag = &callFragment{}
				fragments[idx] = frag
				order = append(order, idx)
			}
			if delta.ID != "" {
				frag.id = delta.ID
			}
			if delta.Function.Name != "" {
				frag.name = delta.Function.Name
			}
			frag.args.WriteString(delta.Function.Arguments)
		}

		emitProgress()
	}

	if err := scanner.Err(); err != nil {
		// The deadline closing the body surfaces as a read error; that
		// is the partial-success path, not a failure.
		if decodeCtx.Err() == context.DeadlineExceeded {
			d.logger.Info("decode timeout, resolving with partial state",
				"iteration", opts.Iteration,
				"timeout", opts.Timeout,
			)
			return finalize(TerminatedTimeout), nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	if decodeCtx.Err() == context.DeadlineExceeded {
		return finalize(TerminatedTimeout), nil
	}

	// Natural end of stream without an explicit marker.
	return finalize(TerminatedEOF), nil
}

// freezeCalls converts accumulated fragments into frozen tool calls in
// first-seen index order. Nameless fragments are dropped: a call whose
// opening fragment never arrived cannot be dispatched.
func freezeCalls(fragments map[int]*callFragment, order []int) []models.ToolCall {
	if len(fragments) == 0 {
		return nil
	}
	sorted := append([]int(nil), order...)
	sort.Ints(sorted)

	calls := make([]models.ToolCall, 0, len(sorted))
	for _, idx := range sorted {
		frag := fragments[idx]
		if frag.name == "" {
			continue
		}
		args := frag.args.String()
		if args == "" {
			args = "{}"
		}
		calls = append(calls, models.ToolCall{
			ID:    frag.id,
			Index: idx,
			Name:  frag.name,
			Input: []byte(args),
		})
	}
	return calls
}

func preview(content, reasoning *strings.Builder) string {
	s := content.String()
	if s == "" {
		s = reasoning.String()
	}
	if s == "" {
		return "waiting for model output"
	}
	if len(s) > previewBytes {
		s = "..." + s[len(s)-previewBytes:]
	}
	return s
}
