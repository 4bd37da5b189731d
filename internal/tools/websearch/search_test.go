package websearch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/kitaworks/agentcore/internal/dispatch"
	"github.com/kitaworks/agentcore/pkg/models"
)

type collectingEmitter struct {
	events []models.StepEvent
}

func (c *collectingEmitter) Step(event models.StepEvent) {
	c.events = append(c.events, event)
}

func searxngFixture(hits *atomic.Int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		if r.URL.Path != "/search" || r.URL.Query().Get("format") != "json" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]string{
				{"title": "First", "url": "https://a.example", "content": "first snippet"},
				{"title": "Second", "url": "https://b.example", "content": "second snippet"},
				{"title": "Third", "url": "https://c.example", "content": "third snippet"},
			},
		})
	}
}

func TestRunSearXNG(t *testing.T) {
	srv := httptest.NewServer(searxngFixture(nil))
	defer srv.Close()

	tool := New(Config{SearXNGURL: srv.URL})
	emitter := &collectingEmitter{}
	ctx := dispatch.WithEmitter(context.Background(), emitter)

	out, err := tool.Run(ctx, json.RawMessage(`{"query":"kindergarten menus","result_count":2}`))
	if err != nil {
		t.Fatal(err)
	}

	var resp Response
	if err := json.Unmarshal(out, &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Query != "kindergarten menus" {
		t.Errorf("Query = %q", resp.Query)
	}
	if resp.ResultCount != 2 || len(resp.Results) != 2 {
		t.Fatalf("ResultCount = %d, results = %d, want capped at 2", resp.ResultCount, len(resp.Results))
	}
	if resp.Results[0].Title != "First" || resp.Results[0].Snippet != "first snippet" {
		t.Errorf("Results[0] = %+v", resp.Results[0])
	}

	if len(emitter.events) != 2 {
		t.Fatalf("got %d step events, want started + completed", len(emitter.events))
	}
	if emitter.events[0].Stage != models.StepStarted {
		t.Errorf("events[0].Stage = %q", emitter.events[0].Stage)
	}
	if emitter.events[1].Stage != models.StepCompleted {
		t.Errorf("events[1].Stage = %q", emitter.events[1].Stage)
	}
	if len(emitter.events[1].Preview) == 0 {
		t.Error("completion event carries no preview")
	}
}

func TestRunCachesResponses(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(searxngFixture(&hits))
	defer srv.Close()

	tool := New(Config{SearXNGURL: srv.URL, CacheTTL: 60})
	ctx := context.Background()

	if _, err := tool.Run(ctx, json.RawMessage(`{"query":"same"}`)); err != nil {
		t.Fatal(err)
	}
	if _, err := tool.Run(ctx, json.RawMessage(`{"query":"same"}`)); err != nil {
		t.Fatal(err)
	}
	if hits.Load() != 1 {
		t.Errorf("backend hit %d times, want 1 (second call cached)", hits.Load())
	}

	// A different result count is a different cache key.
	if _, err := tool.Run(ctx, json.RawMessage(`{"query":"same","result_count":1}`)); err != nil {
		t.Fatal(err)
	}
	if hits.Load() != 2 {
		t.Errorf("backend hit %d times, want 2 after distinct key", hits.Load())
	}
}

func TestRunRejectsBadParams(t *testing.T) {
	tool := New(Config{})
	tests := []struct {
		name  string
		input string
	}{
		{"not json", `not json`},
		{"missing query", `{}`},
		{"empty query", `{"query":""}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tool.Run(context.Background(), json.RawMessage(tt.input)); err == nil {
				t.Fatal("bad params accepted")
			}
		})
	}
}

func TestRunEmitsFailureStep(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	tool := New(Config{SearXNGURL: srv.URL})
	emitter := &collectingEmitter{}
	ctx := dispatch.WithEmitter(context.Background(), emitter)

	_, err := tool.Run(ctx, json.RawMessage(`{"query":"x"}`))
	if err == nil {
		t.Skip("fallback backend answered; cannot observe the failure path")
	}
	last := emitter.events[len(emitter.events)-1]
	if last.Stage != models.StepFailed {
		t.Errorf("last stage = %q, want failure event", last.Stage)
	}
}

func TestDegradedPayload(t *testing.T) {
	tool := New(Config{})
	payload := tool.Degraded(context.DeadlineExceeded)

	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Degraded {
		t.Error("Degraded flag not set")
	}
	if !strings.Contains(resp.Note, "temporarily unavailable") {
		t.Errorf("Note = %q", resp.Note)
	}
}
