package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/NahidDesigner/ai-prd-creator/internal/apperr"
	"github.com/NahidDesigner/ai-prd-creator/internal/providers"
	"github.com/NahidDesigner/ai-prd-creator/internal/storage"
)

const maxKeyLength = 512

type KeyStore interface {
	KeyLister
	UpsertAPIKey(ctx context.Context, k storage.APIKey) error
	DeleteAPIKey(ctx context.Context, ownerID, keyType string, global bool) error
	ListAllAPIKeys(ctx context.Context) ([]storage.APIKey, error)
	UpdateAPIKeyCiphertext(ctx context.Context, id int64, enc string) error
	LogAction(ctx context.Context, e storage.AuditEntry) error
}

type Sealer interface {
	Opener
	SealString(value string) (string, error)
	NeedsRotation(raw string) (bool, error)
	Rotate(raw string) (string, error)
}

// KeyInfo describes a stored key without revealing it.
type KeyInfo struct {
	Provider  providers.Kind `json:"provider"`
	Hint      string         `json:"hint"`
	Global    bool           `json:"global"`
	UpdatedAt time.Time      `json:"updated_at"`
}

type KeyService struct {
	store  KeyStore
	keys   Sealer
	logger zerolog.Logger
}

func NewKeyService(store KeyStore, keys Sealer, logger zerolog.Logger) *KeyService {
	return &KeyService{store: store, keys: keys, logger: logger.With().Str("component", "keys").Logger()}
}

func (s *KeyService) SaveUserKey(ctx context.Context, ownerID, provider, apiKey string) (KeyInfo, error) {
	if ownerID == "" {
		return KeyInfo{}, apperr.Validation("An owner is required to store a personal key")
	}
	return s.save(ctx, ownerID, ownerID, provider, apiKey, false)
}

func (s *KeyService) SaveGlobalKey(ctx context.Context, actorID, provider, apiKey string) (KeyInfo, error) {
	return s.save(ctx, actorID, "", provider, apiKey, true)
}

func (s *KeyService) save(ctx context.Context, actorID, ownerID, provider, apiKey string, global bool) (KeyInfo, error) {
	kind, err := providers.ParseKind(provider)
	if err != nil {
		return KeyInfo{}, apperr.Validation(fmt.Sprintf("Unknown provider %q", provider))
	}
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return KeyInfo{}, apperr.Validation("API key is required")
	}
	if len(apiKey) > maxKeyLength || strings.ContainsAny(apiKey, " \t\r\n") {
		return KeyInfo{}, apperr.Validation("API key looks malformed")
	}

	enc, err := s.keys.SealString(apiKey)
	if err != nil {
		return KeyInfo{}, fmt.Errorf("seal api key: %w", err)
	}
	hint := providers.MaskKey(apiKey)
	if err := s.store.UpsertAPIKey(ctx, storage.APIKey{
		OwnerID:   ownerID,
		KeyType:   string(kind),
		EncAPIKey: enc,
		KeyHint:   hint,
		IsGlobal:  global,
	}); err != nil {
		return KeyInfo{}, err
	}
	s.audit(ctx, actorID, "key_set", kind, global)
	return KeyInfo{Provider: kind, Hint: hint, Global: global, UpdatedAt: time.Now().UTC()}, nil
}

func (s *KeyService) ListUserKeys(ctx context.Context, ownerID string) ([]KeyInfo, error) {
	keys, err := s.store.ListUserAPIKeys(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return toInfo(keys), nil
}

func (s *KeyService) ListGlobalKeys(ctx context.Context) ([]KeyInfo, error) {
	keys, err := s.store.ListGlobalAPIKeys(ctx)
	if err != nil {
		return nil, err
	}
	return toInfo(keys), nil
}

func (s *KeyService) DeleteUserKey(ctx context.Context, ownerID, provider string) error {
	return s.delete(ctx, ownerID, ownerID, provider, false)
}

func (s *KeyService) DeleteGlobalKey(ctx context.Context, actorID, provider string) error {
	return s.delete(ctx, actorID, "", provider, true)
}

func (s *KeyService) delete(ctx context.Context, actorID, ownerID, provider string, global bool) error {
	kind, err := providers.ParseKind(provider)
	if err != nil {
		return apperr.Validation(fmt.Sprintf("Unknown provider %q", provider))
	}
	if err := s.store.DeleteAPIKey(ctx, ownerID, string(kind), global); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.NotFound("No key stored for " + string(kind))
		}
		return err
	}
	s.audit(ctx, actorID, "key_delete", kind, global)
	return nil
}

// RotateAll re-seals every key that was sealed under a previous master key
// and returns how many were rewritten.
func (s *KeyService) RotateAll(ctx context.Context) (int, error) {
	keys, err := s.store.ListAllAPIKeys(ctx)
	if err != nil {
		return 0, err
	}
	rotated := 0
	for _, k := range keys {
		stale, err := s.keys.NeedsRotation(k.EncAPIKey)
		if err != nil {
			s.logger.Warn().Err(err).Int64("key_id", k.ID).Msg("unreadable key envelope")
			continue
		}
		if !stale {
			continue
		}
		enc, err := s.keys.Rotate(k.EncAPIKey)
		if err != nil {
			return rotated, fmt.Errorf("rotate key %d: %w", k.ID, err)
		}
		if err := s.store.UpdateAPIKeyCiphertext(ctx, k.ID, enc); err != nil {
			return rotated, err
		}
		rotated++
	}
	return rotated, nil
}

func (s *KeyService) audit(ctx context.Context, actorID, action string, kind providers.Kind, global bool) {
	meta, _ := json.Marshal(map[string]any{"provider": kind, "global": global})
	if err := s.store.LogAction(ctx, storage.AuditEntry{ActorID: actorID, Action: action, MetaJSON: string(meta)}); err != nil {
		s.logger.Warn().Err(err).Str("action", action).Msg("failed to write audit entry")
	}
}

func toInfo(keys []storage.APIKey) []KeyInfo {
	out := make([]KeyInfo, 0, len(keys))
	for _, k := range keys {
		kind, err := providers.ParseKind(k.KeyType)
		if err != nil {
			continue
		}
		out = append(out, KeyInfo{Provider: kind, Hint: k.KeyHint, Global: k.IsGlobal, UpdatedAt: k.UpdatedAt})
	}
	return out
}
