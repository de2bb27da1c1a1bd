package providers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Kind identifies an LLM vendor.
type Kind string

const (
	KindOpenAI    Kind = "openai"
	KindGoogle    Kind = "google"
	KindAnthropic Kind = "anthropic"
	KindGateway   Kind = "gateway"
)

// Kinds lists every supported vendor in the default resolution order.
var Kinds = []Kind{KindOpenAI, KindGoogle, KindAnthropic, KindGateway}

// ParseKind accepts vendor names and their common aliases.
func ParseKind(v string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "openai":
		return KindOpenAI, nil
	case "google", "gemini":
		return KindGoogle, nil
	case "anthropic", "claude":
		return KindAnthropic, nil
	case "gateway", "lovable":
		return KindGateway, nil
	default:
		return "", fmt.Errorf("unsupported provider %q", v)
	}
}

// Scope records where a credential was found.
type Scope string

const (
	ScopeUser   Scope = "user"
	ScopeGlobal Scope = "global"
	ScopeEnv    Scope = "env"
)

type Credential struct {
	Kind     Kind
	APIKey   string
	Model    string
	Endpoint string
	Scope    Scope
}

// KeyHint is the masked form of the key used in logs.
func (c Credential) KeyHint() string {
	return MaskKey(c.APIKey)
}

// MaskKey keeps the first and last four characters of a secret.
func MaskKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + "..." + key[len(key)-4:]
}

type ChatRequest struct {
	SystemPrompt string
	UserMessage  string
	MaxTokens    int
}

// Adapter opens a streaming completion. The returned body is always a
// canonical chat-completion SSE stream and must be closed by the caller.
type Adapter interface {
	Stream(ctx context.Context, cred Credential, req ChatRequest) (io.ReadCloser, error)
}

type HTTPOptions struct {
	Client      *http.Client
	MaxRetries  int
	BackoffBase time.Duration
}

func (o HTTPOptions) withDefaults() HTTPOptions {
	if o.Client == nil {
		o.Client = NewHTTPClient(60 * time.Second)
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 500 * time.Millisecond
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	return o
}

// NewHTTPClient builds a client for long-lived streams. Only the wait for
// response headers is bounded.
func NewHTTPClient(headerTimeout time.Duration) *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.ResponseHeaderTimeout = headerTimeout
	return &http.Client{Transport: tr}
}
