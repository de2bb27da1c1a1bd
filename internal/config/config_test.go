package config

import (
	"errors"
	"testing"
	"time"
)

const testMasterKey = "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DB_DSN", "file:test.db")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("MASTER_KEY_CURRENT", testMasterKey)
	t.Setenv("GEMINI_API_KEY", "g-key")
	t.Setenv("PROVIDER_PRIORITY", " Google , openai,")
	t.Setenv("GENERATION_TIMEOUT", "90s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AppMode != ModeAll || cfg.HTTP.ListenAddr != ":8080" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if len(cfg.Providers.Priority) != 2 || cfg.Providers.Priority[0] != "google" {
		t.Fatalf("unexpected priority %v", cfg.Providers.Priority)
	}
	if cfg.Providers.FallbackKeys["google"] != "g-key" {
		t.Fatalf("expected gemini alias to fill google fallback, got %v", cfg.Providers.FallbackKeys)
	}
	if cfg.Generation.Timeout != 90*time.Second {
		t.Fatalf("unexpected timeout %v", cfg.Generation.Timeout)
	}
	if cfg.Crypto.CurrentKeyID != "v1" || len(cfg.Crypto.Keys["v1"]) != 32 {
		t.Fatalf("unexpected crypto config %+v", cfg.Crypto)
	}
	if cfg.Telegram.Enabled() {
		t.Fatalf("telegram should be disabled without a token")
	}
}

func TestLoadRequiresMasterKey(t *testing.T) {
	t.Setenv("DB_DSN", "file:test.db")
	t.Setenv("MASTER_KEY_CURRENT", "")

	if _, err := Load(); !errors.Is(err, ErrMissingMasterKey) {
		t.Fatalf("expected ErrMissingMasterKey, got %v", err)
	}
}

func TestLoadWebhookNeedsURL(t *testing.T) {
	t.Setenv("DB_DSN", "file:test.db")
	t.Setenv("MASTER_KEY_CURRENT", testMasterKey)
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("TELEGRAM_MODE", "webhook")
	t.Setenv("WEBHOOK_URL", "")

	if _, err := Load(); !errors.Is(err, ErrMissingWebhookURL) {
		t.Fatalf("expected ErrMissingWebhookURL, got %v", err)
	}
}

func TestLoadOldKeyNeedsDistinctID(t *testing.T) {
	t.Setenv("DB_DSN", "file:test.db")
	t.Setenv("MASTER_KEY_CURRENT", testMasterKey)
	t.Setenv("MASTER_KEY_OLD", testMasterKey)
	t.Setenv("MASTER_KEY_OLD_ID", "v1")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for duplicate key id")
	}
}
