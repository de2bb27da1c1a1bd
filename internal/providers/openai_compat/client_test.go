package openai_compat

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/NahidDesigner/ai-prd-creator/internal/providers"
)

func TestBuildPayloadChatCompletions(t *testing.T) {
	body, endpoint, err := buildPayload(providers.Credential{
		Kind:     providers.KindGoogle,
		Model:    "gemini-2.0-flash",
		Endpoint: "https://generativelanguage.googleapis.com/v1beta/openai",
	}, providers.ChatRequest{
		SystemPrompt: "You write PRDs",
		UserMessage:  "todo app",
	})
	if err != nil {
		t.Fatalf("build payload: %v", err)
	}
	if endpoint != "https://generativelanguage.googleapis.com/v1beta/openai/chat/completions" {
		t.Fatalf("unexpected endpoint %q", endpoint)
	}

	var p struct {
		Model    string `json:"model"`
		Stream   bool   `json:"stream"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(body, &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if p.Model != "gemini-2.0-flash" || !p.Stream {
		t.Fatalf("unexpected payload %+v", p)
	}
	if len(p.Messages) != 2 || p.Messages[0].Role != "system" || p.Messages[1].Content != "todo app" {
		t.Fatalf("unexpected messages %+v", p.Messages)
	}
}

func TestBuildEndpointKeepsFullURL(t *testing.T) {
	got, err := buildEndpointURL("https://api.openai.com/v1/chat/completions")
	if err != nil {
		t.Fatalf("build endpoint: %v", err)
	}
	if got != "https://api.openai.com/v1/chat/completions" {
		t.Fatalf("unexpected endpoint %q", got)
	}
	if _, err := buildEndpointURL(" "); err == nil {
		t.Fatalf("expected error for empty endpoint")
	}
}

func TestStreamSendsBearerAndReturnsBody(t *testing.T) {
	const frames = "data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\ndata: [DONE]\n\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("unexpected auth header %q", r.Header.Get("Authorization"))
		}
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, frames)
	}))
	defer srv.Close()

	c := New(providers.HTTPOptions{})
	body, err := c.Stream(context.Background(), providers.Credential{
		Kind:     providers.KindOpenAI,
		APIKey:   "sk-test",
		Model:    "gpt-4o",
		Endpoint: srv.URL + "/v1/chat/completions",
	}, providers.ChatRequest{UserMessage: "x"})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(raw) != frames {
		t.Fatalf("unexpected body %q", raw)
	}
}
