package agent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kitaworks/agentcore/internal/backend"
	"github.com/kitaworks/agentcore/internal/config"
	"github.com/kitaworks/agentcore/internal/dispatch"
	"github.com/kitaworks/agentcore/internal/gate"
	"github.com/kitaworks/agentcore/internal/integrate"
	"github.com/kitaworks/agentcore/internal/sessions"
	"github.com/kitaworks/agentcore/internal/stream"
	"github.com/kitaworks/agentcore/pkg/models"
)

// scriptedBackend serves one canned frame body per model call, in order.
// Calls past the script end repeat the last body.
type scriptedBackend struct {
	hits   atomic.Int64
	bodies []string
}

func (s *scriptedBackend) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n := int(s.hits.Add(1)) - 1
		if n >= len(s.bodies) {
			n = len(s.bodies) - 1
		}
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, s.bodies[n])
	}
}

func frames(lines ...string) string {
	return strings.Join(lines, "\n") + "\n"
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCoordinator(t *testing.T, baseURL string, loopCfg config.LoopConfig, regs ...dispatch.Registration) (*Coordinator, sessions.Store) {
	t.Helper()

	registry := dispatch.NewRegistry()
	for _, reg := range regs {
		if err := registry.Register(reg); err != nil {
			t.Fatalf("register %s: %v", reg.Name, err)
		}
	}
	dispatcher := dispatch.NewDispatcher(registry, dispatch.DefaultBridgeTable(), &dispatch.ExecutorConfig{
		MaxConcurrency: 5,
		DefaultTimeout: 2 * time.Second,
	}, testLogger())

	store := sessions.NewMemoryStore()
	if loopCfg.MaxIterations <= 0 {
		loopCfg.MaxIterations = 5
	}
	coord, err := NewCoordinator(Deps{
		Gate:       gate.New(gate.WithLogger(testLogger())),
		Decoder:    stream.NewDecoder(testLogger()),
		Dispatcher: dispatcher,
		Integrator: integrate.New(),
		Backend:    backend.NewClient(backend.Config{BaseURL: baseURL, Model: "test-model"}),
		Store:      store,
		Logger:     testLogger(),
	}, loopCfg, config.DecoderConfig{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	return coord, store
}

func TestProcessDenialNeverReachesBackend(t *testing.T) {
	sb := &scriptedBackend{bodies: []string{frames(`data: [DONE]`)}}
	srv := httptest.NewServer(sb.handler())
	defer srv.Close()

	coord, _ := newTestCoordinator(t, srv.URL, config.LoopConfig{})

	resp, err := coord.Process(context.Background(), &models.UserRequest{
		Message: "Show me all classes' attendance records",
		UserID:  "u-1",
		Role:    "teacher",
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Success {
		t.Error("denied request reported success")
	}
	if resp.Message == "" {
		t.Error("denial carries no user-facing reason")
	}
	if resp.Confidence != 0 {
		t.Errorf("Confidence = %v, want 0 on denial", resp.Confidence)
	}
	if got := sb.hits.Load(); got != 0 {
		t.Errorf("backend called %d times before denial, want 0", got)
	}
}

func TestProcessFullToolRound(t *testing.T) {
	sb := &scriptedBackend{bodies: []string{
		frames(
			`data: {"tool_calls":[{"index":0,"id":"call_1","function":{"name":"get_attendance","arguments":"{\"group\":\"sunflower\"}"}}]}`,
			`data: {"done":true}`,
			`data: [DONE]`,
		),
		frames(
			`data: {"content":"Everyone is present today."}`,
			`data: [DONE]`,
		),
	}}
	srv := httptest.NewServer(sb.handler())
	defer srv.Close()

	var sawGroup atomic.Bool
	coord, store := newTestCoordinator(t, srv.URL, config.LoopConfig{}, dispatch.Registration{
		Name: "get_attendance",
		Implementation: func(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
			var p map[string]any
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, err
			}
			if p["group"] == "sunflower" {
				sawGroup.Store(true)
			}
			return json.RawMessage(`{"present":12,"absent":0}`), nil
		},
	})

	resp, err := coord.Process(context.Background(), &models.UserRequest{
		Message:        "Show attendance for the sunflower group",
		UserID:         "u-1",
		ConversationID: "conv-1",
		Role:           "teacher",
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	if !resp.Success {
		t.Errorf("Success = false: %s", resp.Message)
	}
	if got := sb.hits.Load(); got != 2 {
		t.Errorf("backend called %d times, want 2", got)
	}
	if !sawGroup.Load() {
		t.Error("tool never received the model's arguments")
	}
	if len(resp.ToolExecutions) != 1 || resp.ToolExecutions[0].ToolName != "get_attendance" {
		t.Fatalf("ToolExecutions = %+v", resp.ToolExecutions)
	}
	if !strings.Contains(resp.Message, "Everyone is present today.") {
		t.Errorf("Message = %q, want model text", resp.Message)
	}
	if !strings.Contains(resp.Message, "Completed: get_attendance.") {
		t.Errorf("Message = %q, want completed-tools summary", resp.Message)
	}
	// Simple query with one successful tool: 1/1 * 0.95.
	if resp.Confidence != 0.95 {
		t.Errorf("Confidence = %v, want 0.95", resp.Confidence)
	}

	// The transcript holds user, assistant(tool calls), tool results, and
	// the final assistant message, in order.
	history, err := store.History(context.Background(), "conv-1", 0)
	if err != nil {
		t.Fatal(err)
	}
	wantRoles := []models.MessageRole{models.RoleUser, models.RoleAssistant, models.RoleTool, models.RoleAssistant}
	if len(history) != len(wantRoles) {
		t.Fatalf("history = %d messages, want %d", len(history), len(wantRoles))
	}
	for i, want := range wantRoles {
		if history[i].Role != want {
			t.Errorf("history[%d].Role = %q, want %q", i, history[i].Role, want)
		}
	}
	if len(history[1].ToolCalls) != 1 || len(history[2].ToolResults) != 1 {
		t.Errorf("tool round not persisted: %+v / %+v", history[1].ToolCalls, history[2].ToolResults)
	}
}

func TestProcessTransportFailureResolvesErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close() // connection refused from here on

	coord, _ := newTestCoordinator(t, srv.URL, config.LoopConfig{})

	resp, err := coord.Process(context.Background(), &models.UserRequest{
		Message: "show the menu",
		UserID:  "u-1",
		Role:    "admin",
	}, nil)
	if err != nil {
		t.Fatalf("transport failures must resolve as responses, got error: %v", err)
	}
	if resp.Success {
		t.Error("Success = true after transport failure")
	}
	if resp.Confidence != integrate.ErrorConfidence {
		t.Errorf("Confidence = %v, want error floor", resp.Confidence)
	}
	if len(resp.Recommendations) != 1 || resp.Recommendations[0].Action != "retry" {
		t.Errorf("Recommendations = %+v, want a single retry", resp.Recommendations)
	}
}

func TestProcessIterationBudget(t *testing.T) {
	// The model asks for a tool on every turn; the loop must stop at the
	// iteration budget and still integrate accumulated state.
	sb := &scriptedBackend{bodies: []string{
		frames(
			`data: {"tool_calls":[{"index":0,"id":"call_1","function":{"name":"ping","arguments":"{}"}}]}`,
			`data: {"done":true}`,
			`data: [DONE]`,
		),
	}}
	srv := httptest.NewServer(sb.handler())
	defer srv.Close()

	coord, _ := newTestCoordinator(t, srv.URL, config.LoopConfig{MaxIterations: 3}, dispatch.Registration{
		Name: "ping",
		Implementation: func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
			return json.RawMessage(`{"pong":true}`), nil
		},
	})

	resp, err := coord.Process(context.Background(), &models.UserRequest{
		Message: "keep going",
		UserID:  "u-1",
		Role:    "admin",
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp == nil {
		t.Fatal("no response after budget exhaustion")
	}
	if got := sb.hits.Load(); got != 3 {
		t.Errorf("backend called %d times, want exactly the iteration budget", got)
	}
	if len(resp.ToolExecutions) != 3 {
		t.Errorf("ToolExecutions = %d, want one per iteration", len(resp.ToolExecutions))
	}
}

func TestProcessToolCallBudget(t *testing.T) {
	sb := &scriptedBackend{bodies: []string{
		frames(
			`data: {"tool_calls":[{"index":0,"id":"call_1","function":{"name":"ping","arguments":"{}"}},{"index":1,"id":"call_2","function":{"name":"ping","arguments":"{}"}}]}`,
			`data: {"done":true}`,
			`data: [DONE]`,
		),
	}}
	srv := httptest.NewServer(sb.handler())
	defer srv.Close()

	var executions atomic.Int64
	coord, store := newTestCoordinator(t, srv.URL, config.LoopConfig{MaxIterations: 5, MaxToolCalls: 1}, dispatch.Registration{
		Name: "ping",
		Implementation: func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
			executions.Add(1)
			return json.RawMessage(`{}`), nil
		},
	})

	resp, err := coord.Process(context.Background(), &models.UserRequest{
		Message:        "keep going",
		UserID:         "u-1",
		ConversationID: "conv-budget",
		Role:           "admin",
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if executions.Load() != 0 {
		t.Errorf("%d tools executed past the budget, want 0", executions.Load())
	}
	if resp == nil {
		t.Fatal("no response after budget stop")
	}

	// Undispatched calls must not be persisted: an assistant message with
	// tool calls and no tool replies poisons the next turn's request.
	history, err := store.History(context.Background(), "conv-budget", 0)
	if err != nil {
		t.Fatal(err)
	}
	last := history[len(history)-1]
	if last.Role != models.RoleAssistant {
		t.Fatalf("last history message role = %q, want assistant", last.Role)
	}
	if len(last.ToolCalls) != 0 {
		t.Errorf("persisted assistant message carries %d undispatched tool calls", len(last.ToolCalls))
	}
}

func TestProcessDecodeTimeoutDropsUndispatchedCalls(t *testing.T) {
	// The model asks for a tool, then the stream stalls past the decode
	// bound. The turn resolves with partial state and the persisted
	// assistant message must not reference the never-dispatched calls.
	release := make(chan struct{})
	defer close(release)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, `data: {"tool_calls":[{"index":0,"id":"call_1","function":{"name":"ping","arguments":"{}"}}]}`+"\n")
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	var executions atomic.Int64
	coord, store := newTestCoordinator(t, srv.URL, config.LoopConfig{}, dispatch.Registration{
		Name: "ping",
		Implementation: func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
			executions.Add(1)
			return json.RawMessage(`{}`), nil
		},
	})
	coord.decoderCfg.Timeout = 150 * time.Millisecond

	resp, err := coord.Process(context.Background(), &models.UserRequest{
		Message:        "slow question",
		UserID:         "u-1",
		ConversationID: "conv-stall",
		Role:           "admin",
	}, nil)
	if err != nil {
		t.Fatalf("decode timeout must resolve as a response, got error: %v", err)
	}
	if resp == nil {
		t.Fatal("no response after decode timeout")
	}
	if executions.Load() != 0 {
		t.Errorf("%d tools executed after timeout, want 0", executions.Load())
	}

	history, err := store.History(context.Background(), "conv-stall", 0)
	if err != nil {
		t.Fatal(err)
	}
	last := history[len(history)-1]
	if last.Role != models.RoleAssistant {
		t.Fatalf("last history message role = %q, want assistant", last.Role)
	}
	if len(last.ToolCalls) != 0 {
		t.Errorf("persisted assistant message carries %d undispatched tool calls", len(last.ToolCalls))
	}
}

func TestProcessGeneratesConversationID(t *testing.T) {
	sb := &scriptedBackend{bodies: []string{frames(
		`data: {"content":"hello"}`,
		`data: [DONE]`,
	)}}
	srv := httptest.NewServer(sb.handler())
	defer srv.Close()

	coord, _ := newTestCoordinator(t, srv.URL, config.LoopConfig{})
	req := &models.UserRequest{Message: "hi", UserID: "u-1", Role: "admin"}
	if _, err := coord.Process(context.Background(), req, nil); err != nil {
		t.Fatal(err)
	}
	if req.ConversationID == "" || req.ID == "" {
		t.Errorf("identifiers not assigned: id=%q conversation=%q", req.ID, req.ConversationID)
	}
}

func TestProcessSerializedPerConversation(t *testing.T) {
	// A held lock on the conversation forces Process to fail with a lock
	// error instead of interleaving turns.
	sb := &scriptedBackend{bodies: []string{frames(`data: {"content":"ok"}`, `data: [DONE]`)}}
	srv := httptest.NewServer(sb.handler())
	defer srv.Close()

	coord, _ := newTestCoordinator(t, srv.URL, config.LoopConfig{})
	locker := sessions.NewLocalLocker(50 * time.Millisecond)
	coord.locker = locker

	if err := locker.Lock(context.Background(), "conv-busy"); err != nil {
		t.Fatal(err)
	}
	defer locker.Unlock("conv-busy")

	_, err := coord.Process(context.Background(), &models.UserRequest{
		Message:        "hi",
		UserID:         "u-1",
		ConversationID: "conv-busy",
		Role:           "admin",
	}, nil)
	if err == nil {
		t.Fatal("Process acquired a held conversation lock")
	}
	var loopErr *LoopError
	if !errors.As(err, &loopErr) || loopErr.Phase != PhaseInit {
		t.Errorf("err = %v, want init-phase loop error", err)
	}
}
