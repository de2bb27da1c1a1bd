// Package httpapi exposes PRD generation, history and key management over
// HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/NahidDesigner/ai-prd-creator/internal/auth"
	"github.com/NahidDesigner/ai-prd-creator/internal/credentials"
	"github.com/NahidDesigner/ai-prd-creator/internal/generator"
	"github.com/NahidDesigner/ai-prd-creator/internal/metrics"
	"github.com/NahidDesigner/ai-prd-creator/internal/queue"
	"github.com/NahidDesigner/ai-prd-creator/internal/storage"
)

type Generator interface {
	Generate(ctx context.Context, req generator.GenerateRequest, sink generator.Sink) (generator.Result, error)
	Refine(ctx context.Context, req generator.RefineRequest, sink generator.Sink) (generator.Result, error)
}

type PRDStore interface {
	ListPRDsByOwner(ctx context.Context, ownerID string, limit int) ([]storage.PRD, error)
	GetPRD(ctx context.Context, id string) (storage.PRD, error)
	DeletePRD(ctx context.Context, id, ownerID string) error
}

type KeyManager interface {
	SaveUserKey(ctx context.Context, ownerID, provider, apiKey string) (credentials.KeyInfo, error)
	SaveGlobalKey(ctx context.Context, actorID, provider, apiKey string) (credentials.KeyInfo, error)
	ListUserKeys(ctx context.Context, ownerID string) ([]credentials.KeyInfo, error)
	ListGlobalKeys(ctx context.Context) ([]credentials.KeyInfo, error)
	DeleteUserKey(ctx context.Context, ownerID, provider string) error
	DeleteGlobalKey(ctx context.Context, actorID, provider string) error
}

type Limiter interface {
	Allow(ctx context.Context, scope, callerID string, now time.Time) (queue.Decision, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	Generator Generator
	PRDs      PRDStore
	Keys      KeyManager
	Auth      *auth.Authenticator
	// Limiter is optional; without it generation is not rate limited.
	Limiter Limiter
	// Health checks run on the health route when set.
	Health      []Pinger
	HealthPath  string
	MetricsPath string
	// Webhook mounts the Telegram update handler when non-nil.
	Webhook      http.Handler
	WebhookRoute string
	// ProbesOnly serves health and metrics without the API, for worker
	// processes.
	ProbesOnly bool
	Logger     zerolog.Logger
	Metrics    *metrics.Metrics
}

type api struct {
	gen     Generator
	prds    PRDStore
	keys    KeyManager
	limiter Limiter
	health  []Pinger
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

func NewRouter(cfg Config) *gin.Engine {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Global()
	}
	if cfg.HealthPath == "" {
		cfg.HealthPath = "/healthz"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	a := &api{
		gen:     cfg.Generator,
		prds:    cfg.PRDs,
		keys:    cfg.Keys,
		limiter: cfg.Limiter,
		health:  cfg.Health,
		logger:  cfg.Logger.With().Str("component", "http").Logger(),
		metrics: cfg.Metrics,
	}

	r := gin.New()
	r.Use(requestIDMiddleware())
	r.Use(requestLogger(a.logger))
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())

	r.GET(cfg.HealthPath, a.healthz)
	r.GET(cfg.MetricsPath, gin.WrapH(promhttp.Handler()))
	if cfg.Webhook != nil && cfg.WebhookRoute != "" {
		r.POST(cfg.WebhookRoute, gin.WrapH(cfg.Webhook))
	}
	if cfg.ProbesOnly {
		return r
	}

	v1 := r.Group("/v1")
	v1.GET("/platforms", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"platforms": generator.Platforms})
	})

	secured := v1.Group("/")
	secured.Use(cfg.Auth.Middleware())

	prds := secured.Group("/prds")
	prds.POST("/generate", a.rateLimit("http"), a.generate)
	prds.POST("/refine", a.rateLimit("http"), a.refine)
	prds.GET("", a.listPRDs)
	prds.GET("/:id", a.getPRD)
	prds.DELETE("/:id", a.deletePRD)

	keys := secured.Group("/keys")
	keys.GET("", a.listUserKeys)
	keys.PUT("/:provider", a.putUserKey)
	keys.DELETE("/:provider", a.deleteUserKey)

	admin := secured.Group("/admin", auth.RequireAdmin())
	admin.GET("/keys", a.listGlobalKeys)
	admin.PUT("/keys/:provider", a.putGlobalKey)
	admin.DELETE("/keys/:provider", a.deleteGlobalKey)

	return r
}

func (a *api) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	for _, p := range a.health {
		if err := p.Ping(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("health check failed")
			c.String(http.StatusServiceUnavailable, "unavailable")
			return
		}
	}
	c.String(http.StatusOK, "ok")
}

// Serve runs the server until ctx is done and then shuts it down.
func Serve(ctx context.Context, addr string, handler http.Handler, readHeaderTimeout time.Duration, logger zerolog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("http server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}
