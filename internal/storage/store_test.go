package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "prdgen.db"), true)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPRDLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		if err := s.InsertPRD(ctx, PRD{
			ID:           id,
			OwnerID:      "user-1",
			Title:        "PRD " + id,
			Requirements: "req " + id,
			Platform:     "cursor",
			Content:      "# " + id,
			CreatedAt:    base.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}
	if err := s.InsertPRD(ctx, PRD{ID: "x", OwnerID: "user-2", Title: "other", Requirements: "r", Content: "c", CreatedAt: base}); err != nil {
		t.Fatalf("insert other owner: %v", err)
	}

	list, err := s.ListPRDsByOwner(ctx, "user-1", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 || list[0].ID != "c" || list[2].ID != "a" {
		t.Fatalf("expected newest first [c b a], got %+v", list)
	}
	if !list[0].CreatedAt.Equal(base.Add(2 * time.Minute)) {
		t.Fatalf("unexpected created_at %v", list[0].CreatedAt)
	}

	got, err := s.GetPRD(ctx, "b")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Content != "# b" || got.Platform != "cursor" {
		t.Fatalf("unexpected prd %+v", got)
	}

	if err := s.DeletePRD(ctx, "b", "user-2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found deleting foreign prd, got %v", err)
	}
	if err := s.DeletePRD(ctx, "b", "user-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetPRD(ctx, "b"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if err := s.DeletePRD(ctx, "x", ""); err != nil {
		t.Fatalf("unscoped delete: %v", err)
	}
}

func TestAPIKeyScopes(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	mustUpsert := func(k APIKey) {
		t.Helper()
		if err := s.UpsertAPIKey(ctx, k); err != nil {
			t.Fatalf("upsert %+v: %v", k, err)
		}
	}
	mustUpsert(APIKey{OwnerID: "user-1", KeyType: "openai", EncAPIKey: "enc-1", KeyHint: "sk-1...aaaa"})
	mustUpsert(APIKey{OwnerID: "user-1", KeyType: "openai", EncAPIKey: "enc-2", KeyHint: "sk-2...bbbb"})
	mustUpsert(APIKey{OwnerID: "user-1", KeyType: "google", EncAPIKey: "enc-3"})
	mustUpsert(APIKey{OwnerID: "ignored", KeyType: "anthropic", EncAPIKey: "enc-g", IsGlobal: true})

	user, err := s.ListUserAPIKeys(ctx, "user-1")
	if err != nil {
		t.Fatalf("list user keys: %v", err)
	}
	if len(user) != 2 || user[0].KeyType != "google" || user[1].EncAPIKey != "enc-2" {
		t.Fatalf("unexpected user keys %+v", user)
	}

	global, err := s.ListGlobalAPIKeys(ctx)
	if err != nil {
		t.Fatalf("list global keys: %v", err)
	}
	if len(global) != 1 || global[0].OwnerID != "" || !global[0].IsGlobal {
		t.Fatalf("unexpected global keys %+v", global)
	}

	if err := s.UpdateAPIKeyCiphertext(ctx, global[0].ID, "enc-rotated"); err != nil {
		t.Fatalf("update ciphertext: %v", err)
	}
	all, err := s.ListAllAPIKeys(ctx)
	if err != nil || len(all) != 3 {
		t.Fatalf("list all keys: %d %v", len(all), err)
	}

	if err := s.DeleteAPIKey(ctx, "", "anthropic", true); err != nil {
		t.Fatalf("delete global: %v", err)
	}
	if err := s.DeleteAPIKey(ctx, "user-1", "anthropic", false); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAccessTokensAndAudit(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if err := s.CreateAccessToken(ctx, AccessToken{TokenHash: "h1", UserID: "user-1", IsAdmin: true, Label: "laptop"}); err != nil {
		t.Fatalf("create token: %v", err)
	}
	tok, err := s.LookupAccessToken(ctx, "h1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if tok.UserID != "user-1" || !tok.IsAdmin || tok.Label != "laptop" {
		t.Fatalf("unexpected token %+v", tok)
	}
	if _, err := s.LookupAccessToken(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	if err := s.LogAction(ctx, AuditEntry{ActorID: "user-1", Action: "key_set", MetaJSON: "not-json"}); err != nil {
		t.Fatalf("log action: %v", err)
	}
}
