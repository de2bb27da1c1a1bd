// Package telegram accepts PRD requests and key management commands from
// Telegram chats.
package telegram

import (
	"context"
	"strconv"
	"time"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers/filters/callbackquery"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers/filters/message"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/NahidDesigner/ai-prd-creator/internal/credentials"
	"github.com/NahidDesigner/ai-prd-creator/internal/metrics"
	"github.com/NahidDesigner/ai-prd-creator/internal/queue"
	"github.com/NahidDesigner/ai-prd-creator/internal/storage"
)

const rateScope = "telegram"

type PRDStore interface {
	ListPRDsByOwner(ctx context.Context, ownerID string, limit int) ([]storage.PRD, error)
	GetPRD(ctx context.Context, id string) (storage.PRD, error)
	DeletePRD(ctx context.Context, id, ownerID string) error
}

type KeyManager interface {
	SaveUserKey(ctx context.Context, ownerID, provider, apiKey string) (credentials.KeyInfo, error)
	ListUserKeys(ctx context.Context, ownerID string) ([]credentials.KeyInfo, error)
	DeleteUserKey(ctx context.Context, ownerID, provider string) error
}

type Enqueuer interface {
	Enqueue(ctx context.Context, job queue.GenerateJob) (string, error)
}

type Limiter interface {
	Allow(ctx context.Context, scope, callerID string, now time.Time) (queue.Decision, error)
}

type Service struct {
	prds    PRDStore
	keys    KeyManager
	queue   Enqueuer
	limiter Limiter
	wizard  *wizardStore
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

type Config struct {
	PRDs      PRDStore
	Keys      KeyManager
	Queue     Enqueuer
	Limiter   Limiter
	Redis     *redis.Client
	WizardTTL time.Duration
	Logger    zerolog.Logger
	Metrics   *metrics.Metrics
}

func NewService(cfg Config) *Service {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	if cfg.WizardTTL <= 0 {
		cfg.WizardTTL = 15 * time.Minute
	}
	return &Service{
		prds:    cfg.PRDs,
		keys:    cfg.Keys,
		queue:   cfg.Queue,
		limiter: cfg.Limiter,
		wizard:  newWizardStore(cfg.Redis, cfg.WizardTTL),
		logger:  cfg.Logger.With().Str("component", "telegram").Logger(),
		metrics: m,
	}
}

func (s *Service) Register(d *ext.Dispatcher) {
	d.AddHandler(handlers.NewCommand("start", s.help))
	d.AddHandler(handlers.NewCommand("help", s.help))
	d.AddHandler(handlers.NewCommand("prd", s.prd))
	d.AddHandler(handlers.NewCommand("refine", s.refine))
	d.AddHandler(handlers.NewCommand("history", s.history))
	d.AddHandler(handlers.NewCommand("show", s.show))
	d.AddHandler(handlers.NewCommand("delete", s.deleteCmd))
	d.AddHandler(handlers.NewCommand("key_add", s.keyAdd))
	d.AddHandler(handlers.NewCommand("key_list", s.keyList))
	d.AddHandler(handlers.NewCommand("key_del", s.keyDel))
	d.AddHandler(handlers.NewCommand("cancel", s.cancelWizard))
	d.AddHandler(handlers.NewCallback(callbackquery.Prefix(cbPrefix), s.onCallback))
	d.AddHandler(handlers.NewMessage(func(msg *gotgbot.Message) bool {
		return message.Private(msg) && message.Text(msg)
	}, s.privateText))
}

// OwnerID is the PRD and key owner for a Telegram user.
func OwnerID(userID int64) string {
	return "tg:" + strconv.FormatInt(userID, 10)
}

func (s *Service) now() time.Time {
	return time.Now().UTC()
}
