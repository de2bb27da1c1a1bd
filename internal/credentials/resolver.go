// Package credentials picks the provider API key for a request and manages
// the keys users and admins store.
package credentials

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/NahidDesigner/ai-prd-creator/internal/apperr"
	"github.com/NahidDesigner/ai-prd-creator/internal/config"
	"github.com/NahidDesigner/ai-prd-creator/internal/metrics"
	"github.com/NahidDesigner/ai-prd-creator/internal/providers"
	"github.com/NahidDesigner/ai-prd-creator/internal/storage"
)

type KeyLister interface {
	ListUserAPIKeys(ctx context.Context, ownerID string) ([]storage.APIKey, error)
	ListGlobalAPIKeys(ctx context.Context) ([]storage.APIKey, error)
}

type Opener interface {
	OpenString(raw string) (string, error)
}

type Resolver struct {
	store    KeyLister
	keys     Opener
	catalog  Catalog
	priority []providers.Kind
	fallback map[providers.Kind]string
	logger   zerolog.Logger
	metrics  *metrics.Metrics
}

type ResolverConfig struct {
	Store   KeyLister
	Keys    Opener
	Catalog Catalog
	// Priority is the provider order tried at each scope.
	Priority []providers.Kind
	// Fallback holds the environment keys per provider.
	Fallback map[providers.Kind]string
	Logger   zerolog.Logger
	Metrics  *metrics.Metrics
}

func NewResolver(cfg ResolverConfig) *Resolver {
	if cfg.Catalog == nil {
		cfg.Catalog = DefaultCatalog()
	}
	if len(cfg.Priority) == 0 {
		cfg.Priority = providers.Kinds
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Global()
	}
	return &Resolver{
		store:    cfg.Store,
		keys:     cfg.Keys,
		catalog:  cfg.Catalog,
		priority: cfg.Priority,
		fallback: cfg.Fallback,
		logger:   cfg.Logger.With().Str("component", "credentials").Logger(),
		metrics:  cfg.Metrics,
	}
}

// ParsePriority converts configured provider names, rejecting unknown ones.
func ParsePriority(names []string) ([]providers.Kind, error) {
	out := make([]providers.Kind, 0, len(names))
	seen := map[providers.Kind]bool{}
	for _, n := range names {
		k, err := providers.ParseKind(n)
		if err != nil {
			return nil, err
		}
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out, nil
}

// FallbackKeys converts the configured environment keys.
func FallbackKeys(raw map[string]string) map[providers.Kind]string {
	out := make(map[providers.Kind]string, len(raw))
	for name, key := range raw {
		if k, err := providers.ParseKind(name); err == nil && key != "" {
			out[k] = key
		}
	}
	return out
}

// Resolve returns the first usable credential: the caller's own keys, then
// admin-global keys, then environment keys. Each scope is searched in
// provider priority order. A failing scope is logged and skipped.
func (r *Resolver) Resolve(ctx context.Context, callerID string) (providers.Credential, error) {
	if callerID != "" {
		keys, err := r.store.ListUserAPIKeys(ctx, callerID)
		if err != nil {
			r.logger.Warn().Err(err).Str("caller_id", callerID).Msg("user key lookup failed")
		} else if cred, ok := r.pickStored(keys, providers.ScopeUser); ok {
			return r.found(cred), nil
		}
	}

	keys, err := r.store.ListGlobalAPIKeys(ctx)
	if err != nil {
		r.logger.Warn().Err(err).Msg("global key lookup failed")
	} else if cred, ok := r.pickStored(keys, providers.ScopeGlobal); ok {
		return r.found(cred), nil
	}

	for _, kind := range r.priority {
		if key := r.fallback[kind]; key != "" {
			return r.found(r.credential(kind, key, providers.ScopeEnv)), nil
		}
	}

	return providers.Credential{}, r.notConfigured()
}

func (r *Resolver) pickStored(keys []storage.APIKey, scope providers.Scope) (providers.Credential, bool) {
	byKind := map[providers.Kind]storage.APIKey{}
	var unknown []storage.APIKey
	for _, k := range keys {
		kind, err := providers.ParseKind(k.KeyType)
		if err != nil {
			unknown = append(unknown, k)
			continue
		}
		byKind[kind] = k
	}
	// Rows with an unrecognized key_type are served through the gateway
	// unless a gateway row exists.
	if _, ok := byKind[providers.KindGateway]; !ok && len(unknown) > 0 {
		r.logger.Debug().Str("key_type", unknown[0].KeyType).Msg("routing key with unknown provider to the gateway")
		byKind[providers.KindGateway] = unknown[0]
	}
	for _, kind := range r.priority {
		k, ok := byKind[kind]
		if !ok {
			continue
		}
		plain, err := r.keys.OpenString(k.EncAPIKey)
		if err != nil {
			r.logger.Warn().Err(err).Int64("key_id", k.ID).Str("scope", string(scope)).Msg("failed to decrypt stored key")
			continue
		}
		if strings.TrimSpace(plain) == "" {
			continue
		}
		return r.credential(kind, plain, scope), true
	}
	return providers.Credential{}, false
}

func (r *Resolver) credential(kind providers.Kind, key string, scope providers.Scope) providers.Credential {
	e := r.catalog[kind]
	return providers.Credential{
		Kind:     kind,
		APIKey:   strings.TrimSpace(key),
		Model:    e.Model,
		Endpoint: e.Endpoint,
		Scope:    scope,
	}
}

func (r *Resolver) found(c providers.Credential) providers.Credential {
	r.metrics.CredentialResolutions.WithLabelValues(string(c.Scope), string(c.Kind)).Inc()
	r.logger.Debug().
		Str("provider", string(c.Kind)).
		Str("scope", string(c.Scope)).
		Str("key", c.KeyHint()).
		Msg("credential resolved")
	return c
}

func (r *Resolver) notConfigured() error {
	var env []string
	for _, kind := range r.priority {
		env = append(env, config.FallbackEnv[string(kind)]...)
	}
	return apperr.Configuration(
		fmt.Sprintf("No AI provider API key is configured. Add a key in settings or set one of %s.", strings.Join(env, ", ")),
		env...,
	)
}
