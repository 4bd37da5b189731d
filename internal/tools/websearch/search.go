// Package websearch is the built-in network search tool. It is dispatched
// without registry lookup, reports sub-progress through the step emitter,
// and degrades rather than fails: a missing search result is not a fatal
// condition for the conversation.
package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/kitaworks/agentcore/internal/dispatch"
	"github.com/kitaworks/agentcore/internal/progress"
	"github.com/kitaworks/agentcore/pkg/models"
)

// maxCacheSize limits cached responses to prevent unbounded memory growth.
const maxCacheSize = 1000

// Config holds web search configuration.
type Config struct {
	// SearXNGURL enables the SearXNG backend when set.
	SearXNGURL string `json:"searxng_url,omitempty"`

	// DefaultResultCount is the result count when the caller omits one.
	DefaultResultCount int `json:"default_result_count"`

	// CacheTTL is the cache lifetime in seconds.
	CacheTTL int `json:"cache_ttl"`
}

// Params are the tool's call parameters.
type Params struct {
	Query       string `json:"query"`
	ResultCount int    `json:"result_count,omitempty"`
}

// Result is a single search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Response is the complete tool payload.
type Response struct {
	Query       string   `json:"query"`
	Results     []Result `json:"results"`
	ResultCount int      `json:"result_count"`
	Degraded    bool     `json:"degraded,omitempty"`
	Note        string   `json:"note,omitempty"`
}

type cacheEntry struct {
	response  *Response
	expiresAt time.Time
}

// Tool implements dispatch.BuiltinTool for web search.
type Tool struct {
	config     Config
	httpClient *http.Client
	cache      map[string]*cacheEntry
	cacheMu    sync.RWMutex
}

var _ dispatch.BuiltinTool = (*Tool)(nil)

// New creates the web search tool with defaults applied.
func New(config Config) *Tool {
	if config.DefaultResultCount <= 0 {
		config.DefaultResultCount = 5
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = 300
	}
	return &Tool{
		config:     config,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		cache:      make(map[string]*cacheEntry),
	}
}

// Name returns the tool name.
func (t *Tool) Name() string {
	return "web_search"
}

// Run performs a search, preferring SearXNG and falling back to the
// DuckDuckGo instant-answer API. Step events report search start and
// completion with a preview of the first hits.
func (t *Tool) Run(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	var p Params
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}
	if p.Query == "" {
		return nil, fmt.Errorf("query parameter is required")
	}
	if p.ResultCount <= 0 {
		p.ResultCount = t.config.DefaultResultCount
	}
	if p.ResultCount > 20 {
		p.ResultCount = 20
	}

	emitter := dispatch.EmitterFrom(ctx)
	emitter.Step(models.StepEvent{
		ToolName: t.Name(),
		Stage:    models.StepStarted,
		Message:  "search started: " + p.Query,
	})

	cacheKey := fmt.Sprintf("%d:%s", p.ResultCount, p.Query)
	if cached := t.getFromCache(cacheKey); cached != nil {
		return t.finish(emitter, cached)
	}

	var (
		resp *Response
		err  error
	)
	if t.config.SearXNGURL != "" {
		resp, err = t.searchSearXNG(ctx, p)
	} else {
		resp, err = t.searchDuckDuckGo(ctx, p)
	}
	if err != nil && t.config.SearXNGURL != "" {
		// Primary backend down: one fallback attempt before degrading.
		resp, err = t.searchDuckDuckGo(ctx, p)
	}
	if err != nil {
		emitter.Step(models.StepEvent{
			ToolName: t.Name(),
			Stage:    models.StepFailed,
			Message:  "search failed: " + err.Error(),
		})
		return nil, err
	}

	t.putInCache(cacheKey, resp)
	return t.finish(emitter, resp)
}

// Degraded returns the fallback payload reported when Run fails. The
// dispatcher still marks the execution successful with this payload.
func (t *Tool) Degraded(err error) json.RawMessage {
	payload, marshalErr := json.Marshal(Response{
		Degraded: true,
		Note:     "web search is temporarily unavailable: " + err.Error(),
	})
	if marshalErr != nil {
		return json.RawMessage(`{"degraded":true}`)
	}
	return payload
}

func (t *Tool) finish(emitter progress.StepEmitter, resp *Response) (json.RawMessage, error) {
	preview, _ := json.Marshal(previewOf(resp))
	emitter.Step(models.StepEvent{
		ToolName: t.Name(),
		Stage:    models.StepCompleted,
		Message:  fmt.Sprintf("search complete: %d results", resp.ResultCount),
		Preview:  preview,
	})
	return json.Marshal(resp)
}

func previewOf(resp *Response) []Result {
	if len(resp.Results) > 3 {
		return resp.Results[:3]
	}
	return resp.Results
}

func (t *Tool) getFromCache(key string) *Response {
	t.cacheMu.RLock()
	defer t.cacheMu.RUnlock()
	entry, exists := t.cache[key]
	if !exists || time.Now().After(entry.expiresAt) {
		return nil
	}
	return entry.response
}

func (t *Tool) putInCache(key string, resp *Response) {
	t.cacheMu.Lock()
	defer t.cacheMu.Unlock()
	if len(t.cache) >= maxCacheSize {
		for k, entry := range t.cache {
			if time.Now().After(entry.expiresAt) {
				delete(t.cache, k)
			}
		}
		if len(t.cache) >= maxCacheSize {
			return
		}
	}
	t.cache[key] = &cacheEntry{
		response:  resp,
		expiresAt: time.Now().Add(time.Duration(t.config.CacheTTL) * time.Second),
	}
}

func (t *Tool) searchSearXNG(ctx context.Context, p Params) (*Response, error) {
	endpoint := fmt.Sprintf("%s/search?q=%s&format=json", t.config.SearXNGURL, url.QueryEscape(p.Query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("searxng request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("searxng status %d", resp.StatusCode)
	}

	var payload struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&payload); err != nil {
		return nil, fmt.Errorf("searxng decode: %w", err)
	}

	results := make([]Result, 0, p.ResultCount)
	for _, r := range payload.Results {
		if len(results) >= p.ResultCount {
			break
		}
		results = append(results, Result{Title: r.Title, URL: r.URL, Snippet: r.Content})
	}
	return &Response{Query: p.Query, Results: results, ResultCount: len(results)}, nil
}

func (t *Tool) searchDuckDuckGo(ctx context.Context, p Params) (*Response, error) {
	endpoint := fmt.Sprintf("https://api.duckduckgo.com/?q=%s&format=json&no_html=1", url.QueryEscape(p.Query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("duckduckgo status %d", resp.StatusCode)
	}

	var payload struct {
		AbstractText  string `json:"AbstractText"`
		AbstractURL   string `json:"AbstractURL"`
		Heading       string `json:"Heading"`
		RelatedTopics []struct {
			Text     string `json:"Text"`
			FirstURL string `json:"FirstURL"`
		} `json:"RelatedTopics"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&payload); err != nil {
		return nil, fmt.Errorf("duckduckgo decode: %w", err)
	}

	results := make([]Result, 0, p.ResultCount)
	if payload.AbstractText != "" {
		results = append(results, Result{
			Title:   payload.Heading,
			URL:     payload.AbstractURL,
			Snippet: payload.AbstractText,
		})
	}
	for _, topic := range payload.RelatedTopics {
		if len(results) >= p.ResultCount {
			break
		}
		if topic.Text == "" {
			continue
		}
		results = append(results, Result{Title: topic.Text, URL: topic.FirstURL, Snippet: topic.Text})
	}
	return &Response{Query: p.Query, Results: results, ResultCount: len(results)}, nil
}
