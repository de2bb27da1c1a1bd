package generator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/NahidDesigner/ai-prd-creator/internal/apperr"
	"github.com/NahidDesigner/ai-prd-creator/internal/providers"
	"github.com/NahidDesigner/ai-prd-creator/internal/providers/registry"
	"github.com/NahidDesigner/ai-prd-creator/internal/storage"
)

type recordingSink struct {
	events    []string
	fragments []string
	restored  string
}

func (s *recordingSink) Reset() error {
	s.events = append(s.events, "reset")
	return nil
}

func (s *recordingSink) Append(fragment string) error {
	s.events = append(s.events, "append")
	s.fragments = append(s.fragments, fragment)
	return nil
}

func (s *recordingSink) Restore(content string) error {
	s.events = append(s.events, "restore")
	s.restored = content
	return nil
}

type staticResolver struct {
	cred providers.Credential
	err  error
}

func (r staticResolver) Resolve(context.Context, string) (providers.Credential, error) {
	return r.cred, r.err
}

type failingStore struct{}

func (failingStore) InsertPRD(context.Context, storage.PRD) error { return errors.New("disk full") }

type upstream struct {
	srv      *httptest.Server
	calls    atomic.Int32
	lastUser atomic.Value
}

func newUpstream(t *testing.T, handler func(w http.ResponseWriter)) *upstream {
	t.Helper()
	u := &upstream{}
	u.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.calls.Add(1)
		var body struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		for _, m := range body.Messages {
			if m.Role == "user" {
				u.lastUser.Store(m.Content)
			}
		}
		handler(w)
	}))
	t.Cleanup(u.srv.Close)
	return u
}

func streamOf(fragments ...string) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, f := range fragments {
			b, _ := json.Marshal(map[string]any{"choices": []any{map[string]any{"delta": map[string]string{"content": f}}}})
			_, _ = io.WriteString(w, "data: "+string(b)+"\n\n")
		}
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}
}

func openStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "prd.db"), true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newService(t *testing.T, u *upstream, store PRDStore, timeout time.Duration) *Service {
	t.Helper()
	return newServiceWithRetries(t, u, store, timeout, 0)
}

func newServiceWithRetries(t *testing.T, u *upstream, store PRDStore, timeout time.Duration, retries int) *Service {
	t.Helper()
	return New(Config{
		Resolver: staticResolver{cred: providers.Credential{
			Kind:     providers.KindGateway,
			APIKey:   "test-key",
			Model:    "google/gemini-2.5-flash",
			Endpoint: u.srv.URL + "/v1/chat/completions",
			Scope:    providers.ScopeEnv,
		}},
		Adapters:        registry.New(providers.HTTPOptions{MaxRetries: retries, BackoffBase: time.Millisecond}),
		Store:           store,
		Logger:          zerolog.Nop(),
		Timeout:         timeout,
		MaxContextBytes: 1 << 10,
	})
}

func TestGenerateTodoAppScenario(t *testing.T) {
	u := newUpstream(t, streamOf("# PRD", "\n\nOverview..."))
	store := openStore(t)
	svc := newService(t, u, store, time.Minute)
	sink := &recordingSink{}

	res, err := svc.Generate(context.Background(), GenerateRequest{
		OwnerID:      "user-1",
		Requirements: "Build a todo app with auth",
		Platform:     "cursor",
	}, sink)
	require.NoError(t, err)

	require.EqualValues(t, 1, u.calls.Load())
	userMsg := u.lastUser.Load().(string)
	require.Contains(t, userMsg, "Build a todo app with auth")
	require.Contains(t, userMsg, "cursor")

	require.Equal(t, []string{"# PRD", "\n\nOverview..."}, sink.fragments)
	require.Equal(t, []string{"reset", "append", "append"}, sink.events)
	require.Equal(t, "# PRD\n\nOverview...", res.Content)
	require.Equal(t, providers.KindGateway, res.Provider)

	require.NotNil(t, res.PRD)
	require.Equal(t, "Build a todo app with auth", res.PRD.Title)

	saved, err := store.ListPRDsByOwner(context.Background(), "user-1", 10)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	require.Equal(t, res.Content, saved[0].Content)
	require.Equal(t, "cursor", saved[0].Platform)
}

func TestGenerateEmptyRequirementsNeverCallsUpstream(t *testing.T) {
	u := newUpstream(t, streamOf("x"))
	svc := newService(t, u, openStore(t), time.Minute)

	for _, req := range []string{"", "   \n\t "} {
		_, err := svc.Generate(context.Background(), GenerateRequest{OwnerID: "user-1", Requirements: req}, &recordingSink{})
		require.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	}
	require.Zero(t, u.calls.Load())
}

func TestGenerateRejectsOversizedContext(t *testing.T) {
	u := newUpstream(t, streamOf("x"))
	svc := newService(t, u, openStore(t), time.Minute)

	_, err := svc.Generate(context.Background(), GenerateRequest{
		Requirements:   "app",
		ProjectContext: strings.Repeat("a", 2<<10),
	}, &recordingSink{})
	require.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	require.Zero(t, u.calls.Load())
}

func TestGenerateRateLimitedPersistsNothing(t *testing.T) {
	u := newUpstream(t, func(w http.ResponseWriter) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"message":"slow down"}}`)
	})
	store := openStore(t)
	svc := newService(t, u, store, time.Minute)
	sink := &recordingSink{}

	_, err := svc.Generate(context.Background(), GenerateRequest{OwnerID: "user-1", Requirements: "todo app"}, sink)
	require.Equal(t, apperr.KindRateLimited, apperr.KindOf(err))
	require.Empty(t, sink.events, "display is untouched when the stream never opened")

	saved, err := store.ListPRDsByOwner(context.Background(), "user-1", 10)
	require.NoError(t, err)
	require.Empty(t, saved)
}

func TestGenerateServerErrorIsOneUpstreamCall(t *testing.T) {
	u := newUpstream(t, func(w http.ResponseWriter) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"error":{"message":"overloaded"}}`)
	})
	store := openStore(t)
	svc := newServiceWithRetries(t, u, store, time.Minute, 2)
	sink := &recordingSink{}

	_, err := svc.Generate(context.Background(), GenerateRequest{OwnerID: "user-1", Requirements: "todo app"}, sink)
	require.Equal(t, apperr.KindUpstream, apperr.KindOf(err))
	require.True(t, apperr.IsRetryable(err))
	require.EqualValues(t, 1, u.calls.Load())
	require.Empty(t, sink.events)

	saved, err := store.ListPRDsByOwner(context.Background(), "user-1", 10)
	require.NoError(t, err)
	require.Empty(t, saved)
}

// brokenSink fails every Append from the failAt-th call on.
type brokenSink struct {
	recordingSink
	failAt int
	calls  int
}

func (s *brokenSink) Append(fragment string) error {
	s.calls++
	if s.calls >= s.failAt {
		return errors.New("message is not modified")
	}
	return s.recordingSink.Append(fragment)
}

func TestGenerateDisplayFailureStillSaves(t *testing.T) {
	u := newUpstream(t, streamOf("# PRD", "\n\nOverview", "\n\nGoals"))
	store := openStore(t)
	svc := newService(t, u, store, time.Minute)
	sink := &brokenSink{failAt: 2}

	res, err := svc.Generate(context.Background(), GenerateRequest{OwnerID: "user-1", Requirements: "todo app"}, sink)
	require.NoError(t, err)
	require.Equal(t, "# PRD\n\nOverview\n\nGoals", res.Content)
	require.NotNil(t, res.PRD)
	require.Equal(t, 2, sink.calls, "a failed display is not fed again")
	require.Equal(t, []string{"# PRD"}, sink.fragments)

	saved, err := store.ListPRDsByOwner(context.Background(), "user-1", 10)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	require.Equal(t, res.Content, saved[0].Content)
}

func TestGenerateAnonymousIsNotPersisted(t *testing.T) {
	u := newUpstream(t, streamOf("# PRD"))
	svc := newService(t, u, failingStore{}, time.Minute)

	res, err := svc.Generate(context.Background(), GenerateRequest{Requirements: "todo app"}, &recordingSink{})
	require.NoError(t, err)
	require.Nil(t, res.PRD)
	require.Equal(t, "# PRD", res.Content)
}

func TestGeneratePersistFailureStillReturnsContent(t *testing.T) {
	u := newUpstream(t, streamOf("# PRD", " body"))
	svc := newService(t, u, failingStore{}, time.Minute)

	res, err := svc.Generate(context.Background(), GenerateRequest{OwnerID: "user-1", Requirements: "todo app"}, &recordingSink{})
	require.NoError(t, err)
	require.Nil(t, res.PRD)
	require.Equal(t, "# PRD body", res.Content)
}

func TestGenerateWhitespaceContentNotPersisted(t *testing.T) {
	u := newUpstream(t, streamOf("  ", "\n"))
	store := openStore(t)
	svc := newService(t, u, store, time.Minute)

	res, err := svc.Generate(context.Background(), GenerateRequest{OwnerID: "user-1", Requirements: "todo app"}, &recordingSink{})
	require.NoError(t, err)
	require.Nil(t, res.PRD)
}

func TestGenerateConfigurationErrorBeforeNetwork(t *testing.T) {
	u := newUpstream(t, streamOf("x"))
	svc := newService(t, u, openStore(t), time.Minute)
	svc.resolver = staticResolver{err: apperr.Configuration("no key", "OPENAI_API_KEY")}

	_, err := svc.Generate(context.Background(), GenerateRequest{Requirements: "todo app"}, &recordingSink{})
	require.Equal(t, apperr.KindConfiguration, apperr.KindOf(err))
	require.Zero(t, u.calls.Load())
}

func TestRefineValidation(t *testing.T) {
	u := newUpstream(t, streamOf("x"))
	svc := newService(t, u, openStore(t), time.Minute)

	_, err := svc.Refine(context.Background(), RefineRequest{AdditionalRequirements: "more"}, &recordingSink{})
	require.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	_, err = svc.Refine(context.Background(), RefineRequest{ExistingPRD: "# PRD", AdditionalRequirements: " "}, &recordingSink{})
	require.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	require.Zero(t, u.calls.Load())
}

func TestRefineSavesEnhancedRecord(t *testing.T) {
	u := newUpstream(t, streamOf("# PRD v2"))
	store := openStore(t)
	svc := newService(t, u, store, time.Minute)

	res, err := svc.Refine(context.Background(), RefineRequest{
		OwnerID:                "user-1",
		ExistingPRD:            "# PRD v1",
		AdditionalRequirements: "add dark mode",
	}, &recordingSink{})
	require.NoError(t, err)
	require.NotNil(t, res.PRD)
	require.Equal(t, "add dark mode (Enhanced)", res.PRD.Title)
	require.Equal(t, "# PRD v1\n\n--- Additional Requirements ---\nadd dark mode", res.PRD.Requirements)
	require.Contains(t, u.lastUser.Load().(string), "# PRD v1")
}

func TestRefineRestoresOnStreamFailure(t *testing.T) {
	u := newUpstream(t, func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n\n")
		w.(http.Flusher).Flush()
		time.Sleep(300 * time.Millisecond)
	})
	store := openStore(t)
	svc := newService(t, u, store, 100*time.Millisecond)
	sink := &recordingSink{}

	_, err := svc.Refine(context.Background(), RefineRequest{
		OwnerID:                "user-1",
		ExistingPRD:            "# PRD v1",
		AdditionalRequirements: "add dark mode",
	}, sink)
	require.Equal(t, apperr.KindTimeout, apperr.KindOf(err))
	require.True(t, apperr.IsRetryable(err))
	require.Equal(t, "# PRD v1", sink.restored)
	require.Equal(t, "restore", sink.events[len(sink.events)-1])

	saved, err := store.ListPRDsByOwner(context.Background(), "user-1", 10)
	require.NoError(t, err)
	require.Empty(t, saved)
}

func TestDeriveTitle(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{in: "", want: "Untitled PRD"},
		{in: "  \n ", want: "Untitled PRD"},
		{in: "Build a todo app with auth", want: "Build a todo app with auth"},
		{in: "one two three four five six seven eight", want: "one two three four five six"},
		{
			in:   "Supercalifragilisticexpialidocious-platform-for-everyone with extras",
			want: "Supercalifragilisticexpialidocious-platform-for-ev...",
		},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, DeriveTitle(tc.in), "input %q", tc.in)
	}
}

func TestBuildGenerateMessageDefaultsPlatform(t *testing.T) {
	msg := buildGenerateMessage("todo", "", "")
	require.Contains(t, msg, "used with AI coding assistants.")
	require.NotContains(t, msg, "Existing Project Context")

	msg = buildGenerateMessage("todo", "lovable", "package.json")
	require.Contains(t, msg, "used with lovable.")
	require.Contains(t, msg, "**Existing Project Context:**\npackage.json")
}
