// Package auth maps bearer access tokens onto callers.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/NahidDesigner/ai-prd-creator/internal/storage"
)

const (
	tokenPrefix = "prd_"
	callerKey   = "prdgen.caller"
)

var ErrUnauthenticated = errors.New("authentication required")

type Caller struct {
	UserID  string
	IsAdmin bool
}

type TokenStore interface {
	CreateAccessToken(ctx context.Context, t storage.AccessToken) error
	LookupAccessToken(ctx context.Context, tokenHash string) (storage.AccessToken, error)
}

// HashToken is the form tokens are stored and looked up by.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func NewToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return tokenPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

type Authenticator struct {
	store TokenStore
}

func NewAuthenticator(store TokenStore) *Authenticator {
	return &Authenticator{store: store}
}

// Issue creates a token for userID and returns the only plaintext copy.
func (a *Authenticator) Issue(ctx context.Context, userID, label string, admin bool) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", fmt.Errorf("user id is required")
	}
	token, err := NewToken()
	if err != nil {
		return "", err
	}
	if err := a.store.CreateAccessToken(ctx, storage.AccessToken{
		TokenHash: HashToken(token),
		UserID:    userID,
		IsAdmin:   admin,
		Label:     label,
	}); err != nil {
		return "", err
	}
	return token, nil
}

func (a *Authenticator) Authenticate(ctx context.Context, token string) (Caller, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Caller{}, ErrUnauthenticated
	}
	t, err := a.store.LookupAccessToken(ctx, HashToken(token))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Caller{}, ErrUnauthenticated
		}
		return Caller{}, err
	}
	return Caller{UserID: t.UserID, IsAdmin: t.IsAdmin}, nil
}

// Middleware accepts the token as a bearer Authorization header or in the
// apikey header.
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		got := ""
		if v := strings.TrimSpace(c.GetHeader("Authorization")); strings.HasPrefix(v, "Bearer ") {
			got = strings.TrimSpace(strings.TrimPrefix(v, "Bearer "))
		}
		if got == "" {
			got = strings.TrimSpace(c.GetHeader("apikey"))
		}

		caller, err := a.Authenticate(c.Request.Context(), got)
		if err != nil {
			if !errors.Is(err, ErrUnauthenticated) {
				_ = c.Error(err)
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}
		c.Set(callerKey, caller)
		c.Next()
	}
}

func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if caller, ok := CallerFrom(c); !ok || !caller.IsAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Admin access required"})
			return
		}
		c.Next()
	}
}

func CallerFrom(c *gin.Context) (Caller, bool) {
	v, ok := c.Get(callerKey)
	if !ok {
		return Caller{}, false
	}
	caller, ok := v.(Caller)
	return caller, ok
}
