package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/NahidDesigner/ai-prd-creator/internal/storage"
)

func newAuthenticator(t *testing.T) *Authenticator {
	t.Helper()
	s, err := storage.Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "auth.db"), true)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return NewAuthenticator(s)
}

func TestMiddlewareBearerAndAPIKeyHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a := newAuthenticator(t)
	token, err := a.Issue(context.Background(), "user-1", "cli", false)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !strings.HasPrefix(token, "prd_") {
		t.Fatalf("unexpected token format %q", token)
	}

	r := gin.New()
	r.Use(a.Middleware())
	r.GET("/me", func(c *gin.Context) {
		caller, _ := CallerFrom(c)
		c.String(http.StatusOK, caller.UserID)
	})

	for _, set := range []func(*http.Request){
		func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) },
		func(r *http.Request) { r.Header.Set("apikey", token) },
	} {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		set(req)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK || w.Body.String() != "user-1" {
			t.Fatalf("code=%d body=%s", w.Code, w.Body.String())
		}
	}
}

func TestMiddlewareRejectsMissingAndUnknownTokens(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a := newAuthenticator(t)

	r := gin.New()
	r.Use(a.Middleware())
	r.GET("/me", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, header := range []string{"", "Bearer prd_unknown", "Basic abc"} {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("header %q: code=%d", header, w.Code)
		}
		if !strings.Contains(w.Body.String(), "Authentication required") {
			t.Fatalf("unexpected body %s", w.Body.String())
		}
	}
}

func TestRequireAdmin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a := newAuthenticator(t)
	userTok, _ := a.Issue(context.Background(), "user-1", "", false)
	adminTok, _ := a.Issue(context.Background(), "root", "", true)

	r := gin.New()
	r.Use(a.Middleware(), RequireAdmin())
	r.GET("/admin", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	cases := map[string]int{userTok: http.StatusForbidden, adminTok: http.StatusNoContent}
	for tok, want := range cases {
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != want {
			t.Fatalf("want %d got %d", want, w.Code)
		}
	}
}

func TestHashTokenIsStable(t *testing.T) {
	if HashToken("abc") != HashToken("abc") || HashToken("abc") == HashToken("abd") {
		t.Fatalf("hash not deterministic or collides")
	}
	if len(HashToken("abc")) != 64 {
		t.Fatalf("unexpected hash length")
	}
}
