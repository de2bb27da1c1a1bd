package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	ModeAll    = "ALL"
	ModeAPI    = "API"
	ModeWorker = "WORKER"

	TelegramPolling = "polling"
	TelegramWebhook = "webhook"
)

var (
	ErrMissingDatabaseDSN = errors.New("DB_DSN is required")
	ErrMissingMasterKey   = errors.New("MASTER_KEY_CURRENT is required")
	ErrMissingWebhookURL  = errors.New("WEBHOOK_URL is required when TELEGRAM_MODE=webhook")
)

type Config struct {
	AppMode string

	HTTP       HTTPConfig
	Redis      RedisConfig
	DB         DBConfig
	Worker     WorkerConfig
	Upstream   UpstreamConfig
	Generation GenerationConfig
	Providers  ProvidersConfig
	Rate       RateConfig
	Crypto     CryptoConfig
	Telegram   TelegramConfig
	Log        LogConfig
}

type HTTPConfig struct {
	ListenAddr        string
	HealthPath        string
	MetricsPath       string
	ReadHeaderTimeout time.Duration
}

type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	QueueStream string
	QueueGroup  string
	QueueBlock  time.Duration
	UpdateTTL   time.Duration
	WizardTTL   time.Duration
}

type DBConfig struct {
	Driver      string
	DSN         string
	AutoMigrate bool
}

type WorkerConfig struct {
	Concurrency  int
	ConsumerName string
	MaxRetries   int
}

// UpstreamConfig tunes the HTTP client used against LLM providers.
type UpstreamConfig struct {
	HeaderTimeout time.Duration
	MaxRetries    int
	BackoffBase   time.Duration
}

type GenerationConfig struct {
	Timeout         time.Duration
	MaxOutputTokens int
	MaxContextBytes int
}

type ProvidersConfig struct {
	Priority    []string
	CatalogFile string
	// FallbackKeys maps provider kind to the key read from the environment.
	FallbackKeys map[string]string
}

type RateConfig struct {
	PerHour int64
}

type CryptoConfig struct {
	CurrentKeyID string
	Keys         map[string][]byte
}

type TelegramConfig struct {
	BotToken    string
	Mode        string
	PublicURL   string
	SecretPath  string
	SecretToken string
}

func (t TelegramConfig) Enabled() bool { return t.BotToken != "" }

type LogConfig struct {
	Level string
}

// FallbackEnv lists, per provider kind, the environment variables read for
// fallback keys. The first non-empty one wins.
var FallbackEnv = map[string][]string{
	"openai":    {"OPENAI_API_KEY"},
	"google":    {"GOOGLE_API_KEY", "GEMINI_API_KEY"},
	"anthropic": {"ANTHROPIC_API_KEY"},
	"gateway":   {"GATEWAY_API_KEY", "LOVABLE_API_KEY"},
}

func Load() (*Config, error) {
	cfg := &Config{
		AppMode: strings.ToUpper(mustEnv("APP_MODE", ModeAll)),
		HTTP: HTTPConfig{
			ListenAddr:        mustEnv("LISTEN_ADDR", ":8080"),
			HealthPath:        mustEnv("HEALTH_PATH", "/healthz"),
			MetricsPath:       mustEnv("METRICS_PATH", "/metrics"),
			ReadHeaderTimeout: mustDuration("HTTP_READ_HEADER_TIMEOUT", 10*time.Second),
		},
		Redis: RedisConfig{
			Addr:        mustEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password:    mustEnv("REDIS_PASSWORD", ""),
			DB:          mustInt("REDIS_DB", 0),
			QueueStream: mustEnv("QUEUE_STREAM", "prdgen:jobs"),
			QueueGroup:  mustEnv("QUEUE_GROUP", "prdgen-workers"),
			QueueBlock:  mustDuration("QUEUE_BLOCK", 5*time.Second),
			UpdateTTL:   mustDuration("UPDATE_DEDUPE_TTL", 24*time.Hour),
			WizardTTL:   mustDuration("WIZARD_TTL", 15*time.Minute),
		},
		DB: DBConfig{
			Driver:      strings.ToLower(mustEnv("DB_DRIVER", "postgres")),
			DSN:         mustEnv("DB_DSN", ""),
			AutoMigrate: mustBool("AUTO_MIGRATE", true),
		},
		Worker: WorkerConfig{
			Concurrency:  mustInt("WORKER_CONCURRENCY", 4),
			ConsumerName: mustEnv("WORKER_CONSUMER_NAME", hostnameOr("worker")),
			MaxRetries:   mustInt("WORKER_MAX_RETRIES", 2),
		},
		Upstream: UpstreamConfig{
			HeaderTimeout: mustDuration("UPSTREAM_HEADER_TIMEOUT", 60*time.Second),
			MaxRetries:    mustInt("UPSTREAM_MAX_RETRIES", 2),
			BackoffBase:   mustDuration("UPSTREAM_BACKOFF_BASE", 500*time.Millisecond),
		},
		Generation: GenerationConfig{
			Timeout:         mustDuration("GENERATION_TIMEOUT", 5*time.Minute),
			MaxOutputTokens: mustInt("MAX_OUTPUT_TOKENS", 8192),
			MaxContextBytes: mustInt("MAX_CONTEXT_BYTES", 256<<10),
		},
		Providers: ProvidersConfig{
			Priority:     splitList(mustEnv("PROVIDER_PRIORITY", "openai,google,anthropic,gateway")),
			CatalogFile:  mustEnv("PROVIDERS_FILE", ""),
			FallbackKeys: loadFallbackKeys(),
		},
		Rate: RateConfig{
			PerHour: int64(mustInt("RATE_LIMIT_PER_HOUR", 30)),
		},
		Telegram: TelegramConfig{
			BotToken:    mustEnv("TELEGRAM_BOT_TOKEN", ""),
			Mode:        strings.ToLower(mustEnv("TELEGRAM_MODE", TelegramPolling)),
			PublicURL:   mustEnv("WEBHOOK_URL", ""),
			SecretPath:  strings.Trim(mustEnv("WEBHOOK_SECRET_PATH", "telegram"), "/"),
			SecretToken: mustEnv("WEBHOOK_SECRET_TOKEN", ""),
		},
		Log: LogConfig{
			Level: strings.ToLower(mustEnv("LOG_LEVEL", "info")),
		},
	}

	if cfg.DB.DSN == "" {
		return nil, ErrMissingDatabaseDSN
	}
	if cfg.AppMode != ModeAll && cfg.AppMode != ModeAPI && cfg.AppMode != ModeWorker {
		return nil, fmt.Errorf("unsupported APP_MODE %q", cfg.AppMode)
	}
	if cfg.Telegram.Mode != TelegramPolling && cfg.Telegram.Mode != TelegramWebhook {
		return nil, fmt.Errorf("unsupported TELEGRAM_MODE %q", cfg.Telegram.Mode)
	}
	if cfg.Telegram.Enabled() && cfg.Telegram.Mode == TelegramWebhook && cfg.Telegram.PublicURL == "" {
		return nil, ErrMissingWebhookURL
	}
	if len(cfg.Providers.Priority) == 0 {
		return nil, fmt.Errorf("PROVIDER_PRIORITY is empty")
	}

	cc, err := loadCryptoConfig()
	if err != nil {
		return nil, err
	}
	cfg.Crypto = cc

	return cfg, nil
}

// loadCryptoConfig reads the current master key and an optional previous
// one kept for decrypting keys sealed before a rotation.
func loadCryptoConfig() (CryptoConfig, error) {
	currentID := mustEnv("MASTER_KEY_CURRENT_ID", "v1")
	current := mustEnv("MASTER_KEY_CURRENT", "")
	if current == "" {
		return CryptoConfig{}, ErrMissingMasterKey
	}

	keys := map[string][]byte{}
	if err := addKey(keys, currentID, current); err != nil {
		return CryptoConfig{}, err
	}
	if old := mustEnv("MASTER_KEY_OLD", ""); old != "" {
		oldID := mustEnv("MASTER_KEY_OLD_ID", "")
		if oldID == "" || oldID == currentID {
			return CryptoConfig{}, fmt.Errorf("MASTER_KEY_OLD_ID must be set and differ from MASTER_KEY_CURRENT_ID")
		}
		if err := addKey(keys, oldID, old); err != nil {
			return CryptoConfig{}, err
		}
	}
	return CryptoConfig{CurrentKeyID: currentID, Keys: keys}, nil
}

func addKey(keys map[string][]byte, id, b64 string) error {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return fmt.Errorf("decode master key %q: %w", id, err)
	}
	if len(raw) != 32 {
		return fmt.Errorf("master key %q must be 32 bytes after base64 decode", id)
	}
	keys[id] = raw
	return nil
}

func loadFallbackKeys() map[string]string {
	out := map[string]string{}
	for kind, vars := range FallbackEnv {
		for _, v := range vars {
			if key := mustEnv(v, ""); key != "" {
				out[kind] = key
				break
			}
		}
	}
	return out
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func mustEnv(key string, def string) string {
	if v := os.Getenv(key); v != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func mustInt(key string, def int) int {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func mustBool(key string, def bool) bool {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func mustDuration(key string, def time.Duration) time.Duration {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func hostnameOr(def string) string {
	h, err := os.Hostname()
	if err != nil || strings.TrimSpace(h) == "" {
		return def
	}
	return h
}
