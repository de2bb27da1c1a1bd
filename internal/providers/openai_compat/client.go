// Package openai_compat streams chat completions from OpenAI-compatible
// endpoints (OpenAI, Gemini's OpenAI surface and the AI gateway).
package openai_compat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/NahidDesigner/ai-prd-creator/internal/providers"
)

type Client struct {
	http providers.HTTPOptions
}

func New(opts providers.HTTPOptions) *Client {
	return &Client{http: opts}
}

var _ providers.Adapter = (*Client)(nil)

// Stream returns the upstream body untouched since it is already a
// canonical chat-completion stream.
func (c *Client) Stream(ctx context.Context, cred providers.Credential, req providers.ChatRequest) (io.ReadCloser, error) {
	body, endpointURL, err := buildPayload(cred, req)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+cred.APIKey)
	return providers.PostStream(ctx, c.http, cred.Kind, endpointURL, header, body)
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type payload struct {
	Model    string    `json:"model"`
	Messages []message `json:"messages"`
	Stream   bool      `json:"stream"`
}

func buildPayload(cred providers.Credential, req providers.ChatRequest) ([]byte, string, error) {
	endpointURL, err := buildEndpointURL(cred.Endpoint)
	if err != nil {
		return nil, "", err
	}

	messages := make([]message, 0, 2)
	if strings.TrimSpace(req.SystemPrompt) != "" {
		messages = append(messages, message{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, message{Role: "user", Content: req.UserMessage})

	b, err := json.Marshal(payload{Model: cred.Model, Messages: messages, Stream: true})
	if err != nil {
		return nil, "", fmt.Errorf("marshal chat completion payload: %w", err)
	}
	return b, endpointURL, nil
}

// buildEndpointURL accepts either the full completions URL or an API base.
func buildEndpointURL(base string) (string, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		return "", fmt.Errorf("endpoint is empty")
	}
	if strings.HasSuffix(base, "/chat/completions") {
		return base, nil
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/chat/completions"
	return u.String(), nil
}
