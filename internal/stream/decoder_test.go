package stream

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

// stringStream is a ReadCloser over fixed frame lines.
func stringStream(lines ...string) io.ReadCloser {
	return io.NopCloser(strings.NewReader(strings.Join(lines, "\n") + "\n"))
}

// blockingStream serves its lines, then blocks until closed. It models a
// backend that stalls mid-turn.
type blockingStream struct {
	reader io.Reader

	mu     sync.Mutex
	closed chan struct{}
}

func newBlockingStream(lines ...string) *blockingStream {
	var head string
	if len(lines) > 0 {
		head = strings.Join(lines, "\n") + "\n"
	}
	return &blockingStream{
		reader: strings.NewReader(head),
		closed: make(chan struct{}),
	}
}

func (s *blockingStream) Read(p []byte) (int, error) {
	n, err := s.reader.Read(p)
	if err == io.EOF {
		// Data exhausted: block until Close, as a stalled socket would.
		<-s.closed
		return 0, errors.New("use of closed connection")
	}
	return n, err
}

func (s *blockingStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.closed:
	default:
		close(s.closed)
	}
	return nil
}

func TestDecodeContentOrderPreserved(t *testing.T) {
	body := stringStream(
		`data: {"content":"The "}`,
		`data: {"content":"quick "}`,
		`data: {"content":"brown "}`,
		`data: {"content":"fox"}`,
		`data: [DONE]`,
	)

	d := NewDecoder(nil)
	res, err := d.Decode(context.Background(), body, Options{ToolsEnabled: true})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if res.Content != "The quick brown fox" {
		t.Errorf("Content = %q, want fragments concatenated in arrival order", res.Content)
	}
	if res.Termination != TerminatedExplicit {
		t.Errorf("Termination = %q, want %q", res.Termination, TerminatedExplicit)
	}
}

func TestDecodeReasoningFallback(t *testing.T) {
	body := stringStream(
		`data: {"reasoning":"analyzing "}`,
		`data: {"reasoning":"request..."}`,
		`data: [DONE]`,
	)

	d := NewDecoder(nil)
	res, err := d.Decode(context.Background(), body, Options{})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if res.Content != "analyzing request..." {
		t.Errorf("Content = %q, want reasoning folded in when content is empty", res.Content)
	}
	if res.Reasoning != "analyzing request..." {
		t.Errorf("Reasoning = %q", res.Reasoning)
	}
}

func TestDecodeTimeoutResolvesPartial(t *testing.T) {
	body := newBlockingStream(
		`data: {"reasoning":"analyzing request..."}`,
	)

	d := NewDecoder(nil)
	start := time.Now()
	res, err := d.Decode(context.Background(), body, Options{
		Timeout: 150 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("timeout must resolve as partial success, got error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("decode did not cancel the blocked read, took %s", elapsed)
	}
	if res.Termination != TerminatedTimeout {
		t.Errorf("Termination = %q, want %q", res.Termination, TerminatedTimeout)
	}
	if res.Content != "analyzing request..." {
		t.Errorf("Content = %q, want accumulated reasoning", res.Content)
	}
}

func TestDecodeToolCallAssembly(t *testing.T) {
	body := stringStream(
		`data: {"tool_calls":[{"index":0,"id":"call_1","function":{"name":"get_activity_statistics","arguments":"{\"per"}}]}`,
		`data: {"tool_calls":[{"index":0,"function":{"arguments":"iod\":\"month\"}"}}]}`,
		`data: {"tool_calls":[{"index":1,"id":"call_2","function":{"name":"capture_page","arguments":"{}"}}]}`,
		`data: {"done":true}`,
	)

	d := NewDecoder(nil)
	res, err := d.Decode(context.Background(), body, Options{ToolsEnabled: true})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(res.ToolCalls) != 2 {
		t.Fatalf("got %d tool calls, want 2", len(res.ToolCalls))
	}
	first := res.ToolCalls[0]
	if first.Name != "get_activity_statistics" || first.ID != "call_1" {
		t.Errorf("first call = %+v", first)
	}
	if string(first.Input) != `{"period":"month"}` {
		t.Errorf("first call arguments = %q, want fragments concatenated", first.Input)
	}
	if res.ToolCalls[1].Name != "capture_page" {
		t.Errorf("second call = %+v", res.ToolCalls[1])
	}
}

func TestDecodeSkipsMalformedFrames(t *testing.T) {
	body := stringStream(
		`data: {"content":"keep "}`,
		`data: {not json`,
		`: comment line`,
		``,
		`data: {"content":"going"}`,
		`data: [DONE]`,
	)

	d := NewDecoder(nil)
	res, err := d.Decode(context.Background(), body, Options{})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if res.Content != "keep going" {
		t.Errorf("Content = %q, malformed frames must be skipped not fatal", res.Content)
	}
}

func TestDecodeEOFWithoutMarker(t *testing.T) {
	body := stringStream(`data: {"content":"done early"}`)

	d := NewDecoder(nil)
	res, err := d.Decode(context.Background(), body, Options{})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if res.Termination != TerminatedEOF {
		t.Errorf("Termination = %q, want %q", res.Termination, TerminatedEOF)
	}
	if res.Content != "done early" {
		t.Errorf("Content = %q", res.Content)
	}
}

func TestDecodeBackendError(t *testing.T) {
	body := stringStream(
		`data: {"content":"partial"}`,
		`data: {"error":"model overloaded"}`,
	)

	d := NewDecoder(nil)
	_, err := d.Decode(context.Background(), body, Options{})
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("err = %v, want ErrTransport", err)
	}
}

func TestDecodeParentCancelIsError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	body := newBlockingStream()

	done := make(chan error, 1)
	d := NewDecoder(nil)
	go func() {
		_, err := d.Decode(ctx, body, Options{Timeout: time.Minute})
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("decode did not observe parent cancellation")
	}
}

func TestDecodeProgressRateLimited(t *testing.T) {
	lines := make([]string, 0, 52)
	for i := 0; i < 50; i++ {
		lines = append(lines, `data: {"content":"x"}`)
	}
	lines = append(lines, `data: [DONE]`)
	body := stringStream(lines...)

	var calls int
	d := NewDecoder(nil)
	_, err := d.Decode(context.Background(), body, Options{
		Progress:         func(string) { calls++ },
		ProgressInterval: 100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	// 50 frames arrive near-instantly; the interval floor admits only the
	// first.
	if calls > 2 {
		t.Errorf("progress called %d times, interval floor not applied", calls)
	}
}

func TestDecodeToolsDisabledDropsFragments(t *testing.T) {
	body := stringStream(
		`data: {"tool_calls":[{"index":0,"id":"call_1","function":{"name":"web_search","arguments":"{}"}}]}`,
		`data: [DONE]`,
	)

	d := NewDecoder(nil)
	res, err := d.Decode(context.Background(), body, Options{ToolsEnabled: false})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(res.ToolCalls) != 0 {
		t.Errorf("got %d tool calls with tools disabled, want 0", len(res.ToolCalls))
	}
}
