// Package llmprovider supplies concrete llm.Client implementations that
// call a real model API, so cmd/masrt can run agents against Anthropic
// without the surrounding harness having to write its own HTTP glue.
// spec §1 excludes prompt templates and provider selection from the
// core's responsibility, but never forbids the CLI entrypoint from
// shipping one default provider.
//
// Grounded on the teacher's pkg/llms/anthropic.go (AnthropicProvider):
// the same request/response envelope and the same
// internal/httpclient-backed retry behavior, trimmed to a single
// non-streaming call and without the teacher's A2A message/tool-call
// types, since internal/llm.Client's boundary is a flat prompt string,
// not a multi-turn protocol message.
package llmprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/agentruntime/masrt/internal/httpclient"
	"github.com/agentruntime/masrt/internal/llm"
)

const defaultAnthropicHost = "https://api.anthropic.com"

// AnthropicConfig configures an Anthropic-backed llm.Client.
type AnthropicConfig struct {
	APIKey  string
	Model   string
	Host    string // defaults to defaultAnthropicHost
	Timeout time.Duration
}

// Anthropic is an llm.Client backed by the Anthropic Messages API.
type Anthropic struct {
	cfg    AnthropicConfig
	client *httpclient.Client
}

// NewAnthropic creates an Anthropic-backed client. The returned client
// satisfies internal/llm.Client, so it can be passed directly to
// masrt.Supervisor.RegisterAgent.
func NewAnthropic(cfg AnthropicConfig) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llmprovider: anthropic API key is required")
	}
	if cfg.Host == "" {
		cfg.Host = defaultAnthropicHost
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}

	client := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		httpclient.WithMaxRetries(3),
		httpclient.WithBaseDelay(time.Second),
		httpclient.WithHeaderParser(httpclient.ParseAnthropicRateLimitHeaders),
	)
	return &Anthropic{cfg: cfg, client: client}, nil
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []anthropicContent `json:"content"`
	Error   *anthropicError    `json:"error,omitempty"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Call sends ctxWindow's bounded history to the model and returns the
// concatenated text content of the reply. Callers (internal/skill.call)
// already append prompt to ctxWindow before invoking Call, so ctxWindow's
// history is the full conversation; a caller passing an empty ctxWindow
// gets prompt sent as the sole user turn.
func (a *Anthropic) Call(ctx context.Context, prompt string, ctxWindow *llm.Context) (string, error) {
	var messages []anthropicMessage
	if ctxWindow != nil {
		for _, m := range ctxWindow.Messages() {
			messages = append(messages, anthropicMessage{Role: m.Role, Content: m.Content})
		}
	}
	if len(messages) == 0 {
		messages = append(messages, anthropicMessage{Role: "user", Content: prompt})
	}

	reqBody := anthropicRequest{
		Model:     a.cfg.Model,
		Messages:  messages,
		MaxTokens: 4096,
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("llmprovider: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.Host+"/v1/messages", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("llmprovider: build request: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(jsonData)), nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.cfg.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("llmprovider: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("llmprovider: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("llmprovider: anthropic request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var out anthropicResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("llmprovider: decode response: %w", err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("llmprovider: anthropic API error: %s", out.Error.Message)
	}

	var text string
	for _, c := range out.Content {
		if c.Type == "text" {
			text += c.Text
		}
	}
	return text, nil
}

var _ llm.Client = (*Anthropic)(nil)
