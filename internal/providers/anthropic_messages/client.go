// Package anthropic_messages streams completions from the Anthropic
// Messages API and re-emits them as canonical chat-completion frames.
package anthropic_messages

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/NahidDesigner/ai-prd-creator/internal/providers"
)

const (
	APIVersion       = "2023-06-01"
	DefaultMaxTokens = 8192
)

type Client struct {
	http providers.HTTPOptions
}

func New(opts providers.HTTPOptions) *Client {
	return &Client{http: opts}
}

var _ providers.Adapter = (*Client)(nil)

func (c *Client) Stream(ctx context.Context, cred providers.Credential, req providers.ChatRequest) (io.ReadCloser, error) {
	body, err := buildPayload(cred, req)
	if err != nil {
		return nil, err
	}
	endpoint := strings.TrimSpace(cred.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("endpoint is empty")
	}

	header := http.Header{}
	header.Set("x-api-key", cred.APIKey)
	header.Set("anthropic-version", APIVersion)

	upstream, err := providers.PostStream(ctx, c.http, cred.Kind, endpoint, header, body)
	if err != nil {
		return nil, err
	}
	return transcode(upstream, cred.Kind), nil
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type payload struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
	Stream    bool      `json:"stream"`
}

func buildPayload(cred providers.Credential, req providers.ChatRequest) ([]byte, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	b, err := json.Marshal(payload{
		Model:     cred.Model,
		MaxTokens: maxTokens,
		System:    req.SystemPrompt,
		Messages:  []message{{Role: "user", Content: req.UserMessage}},
		Stream:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal messages payload: %w", err)
	}
	return b, nil
}
