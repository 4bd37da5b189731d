// Package backend is the transport to the model service. It opens a
// streaming chat completion and hands the live response body to the stream
// decoder; this package never parses the wire frames itself.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kitaworks/agentcore/pkg/models"
)

// Config configures the backend client.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	System  string
	Timeout time.Duration
}

// Client opens streaming chat completions against an OpenAI-compatible
// endpoint.
type Client struct {
	config Config
	client *http.Client
}

// NewClient creates a backend client with defaults applied.
func NewClient(cfg Config) *Client {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return &Client{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
}

type wireToolCall struct {
	ID       string `json:"id,omitempty"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Tools    []openai.Tool `json:"tools,omitempty"`
	Stream   bool          `json:"stream"`
}

// OpenStream sends a streaming chat request and returns the live response
// body. The caller owns the body and must close it; the decoder's timeout
// handling relies on being able to close it mid-read.
func (c *Client) OpenStream(ctx context.Context, history []*models.Message, tools []openai.Tool) (io.ReadCloser, error) {
	payload := chatRequest{
		Model:    c.config.Model,
		Messages: c.buildMessages(history),
		Tools:    tools,
		Stream:   true,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	url := c.config.BaseURL + "/v1/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open model stream: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		errBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		if readErr != nil {
			return nil, fmt.Errorf("model backend status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("model backend status %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody)))
	}
	return resp.Body, nil
}

// buildMessages converts transcript messages to the wire shape, prepending
// the configured system prompt.
func (c *Client) buildMessages(history []*models.Message) []wireMessage {
	out := make([]wireMessage, 0, len(history)+1)
	if c.config.System != "" {
		out = append(out, wireMessage{Role: "system", Content: c.config.System})
	}
	for _, msg := range history {
		wire := wireMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
		for _, call := range msg.ToolCalls {
			var tc wireToolCall
			tc.ID = call.ID
			tc.Type = "function"
			tc.Function.Name = call.Name
			tc.Function.Arguments = string(call.Input)
			wire.ToolCalls = append(wire.ToolCalls, tc)
		}
		if msg.Role == models.RoleTool && len(msg.ToolResults) > 0 {
			// Tool results go out as one message per result so each keeps
			// its call id association.
			for _, res := range msg.ToolResults {
				out = append(out, wireMessage{
					Role:       "tool",
					Content:    res.Content(),
					ToolCallID: res.ToolCallID,
				})
			}
			continue
		}
		out = append(out, wire)
	}
	return out
}
