// Package openai implements gateway.Completer for OpenAI-compatible chat APIs
// (DeepSeek, OpenAI and anything else serving POST /chat/completions).
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	gateway "github.com/Evronai/Project-AI-Assistant/internal"
	"github.com/Evronai/Project-AI-Assistant/internal/provider"
)

const (
	// maxResponseBody caps how much of a completion body is read.
	maxResponseBody = 8 << 20

	verifyPrompt    = "Reply with OK only."
	verifyMaxTokens = 5
	verifyTimeout   = 10 * time.Second
)

var _ gateway.Completer = (*Client)(nil)

// Client is a stateless chat-completions client. The endpoint and key are
// supplied per call so a credential change takes effect without rebuilding it.
type Client struct {
	name string
	http *http.Client
}

// New creates a Client. name labels errors and metrics.
func New(name string, client *http.Client) *Client {
	if client == nil {
		client = &http.Client{}
	}
	return &Client{name: name, http: client}
}

// Complete sends a non-streaming chat completion request.
func (c *Client) Complete(ctx context.Context, ep gateway.Endpoint, req *gateway.ChatRequest) (*gateway.ChatResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", c.name, err)
	}

	url := strings.TrimRight(ep.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", c.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+ep.APIKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: do request: %w", c.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, provider.ParseAPIError(c.name, resp)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", c.name, err)
	}
	return parseCompletion(raw)
}

// parseCompletion extracts choices[0].message.content and the usage counters.
func parseCompletion(raw []byte) (*gateway.ChatResult, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: invalid JSON", provider.ErrMalformedResponse)
	}
	content := gjson.GetBytes(raw, "choices.0.message.content")
	if !content.Exists() || content.Type != gjson.String {
		return nil, fmt.Errorf("%w: missing choices[0].message.content", provider.ErrMalformedResponse)
	}
	usage := gjson.GetBytes(raw, "usage")
	return &gateway.ChatResult{
		Content: content.String(),
		Usage: gateway.Usage{
			PromptTokens:     max(0, int(usage.Get("prompt_tokens").Int())),
			CompletionTokens: max(0, int(usage.Get("completion_tokens").Int())),
		},
	}, nil
}

// Verify checks that the key and endpoint accept a minimal completion.
func (c *Client) Verify(ctx context.Context, ep gateway.Endpoint, model string) error {
	ctx, cancel := context.WithTimeout(ctx, verifyTimeout)
	defer cancel()

	_, err := c.Complete(ctx, ep, &gateway.ChatRequest{
		Model:     model,
		Messages:  []gateway.Message{{Role: "user", Content: verifyPrompt}},
		MaxTokens: verifyMaxTokens,
	})
	return err
}
