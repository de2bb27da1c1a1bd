package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/NahidDesigner/ai-prd-creator/internal/auth"
	"github.com/NahidDesigner/ai-prd-creator/internal/config"
	"github.com/NahidDesigner/ai-prd-creator/internal/credentials"
	"github.com/NahidDesigner/ai-prd-creator/internal/generator"
	"github.com/NahidDesigner/ai-prd-creator/internal/httpapi"
	"github.com/NahidDesigner/ai-prd-creator/internal/logx"
	"github.com/NahidDesigner/ai-prd-creator/internal/metrics"
	"github.com/NahidDesigner/ai-prd-creator/internal/providers"
	"github.com/NahidDesigner/ai-prd-creator/internal/providers/registry"
	"github.com/NahidDesigner/ai-prd-creator/internal/queue"
	"github.com/NahidDesigner/ai-prd-creator/internal/telegram"
	"github.com/NahidDesigner/ai-prd-creator/internal/version"
	"github.com/NahidDesigner/ai-prd-creator/internal/worker"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the Telegram bot and the job workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
}

type redisPinger struct{ rdb *redis.Client }

func (p redisPinger) Ping(ctx context.Context) error { return p.rdb.Ping(ctx).Err() }

func serve(ctx context.Context) error {
	d, err := openDeps(ctx, true)
	if err != nil {
		return err
	}
	defer d.Close()
	cfg, logger := d.cfg, d.logger

	logger.Info().
		Str("mode", cfg.AppMode).
		Str("version", version.Get().GitVersion).
		Bool("telegram", cfg.Telegram.Enabled()).
		Str("telegram_mode", cfg.Telegram.Mode).
		Msg("starting prdgen")

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}

	m := metrics.Global()
	gen, err := newGenerator(cfg, d, logger, m)
	if err != nil {
		return err
	}
	jobs := queue.NewStreamQueue(rdb, cfg.Redis.QueueStream, cfg.Redis.QueueGroup, cfg.Worker.ConsumerName, cfg.Redis.QueueBlock)
	limiter := queue.NewRateLimiter(rdb, cfg.Rate.PerHour)

	var bot *gotgbot.Bot
	if cfg.Telegram.Enabled() {
		bot, err = gotgbot.NewBot(cfg.Telegram.BotToken, nil)
		if err != nil {
			return fmt.Errorf("create telegram bot: %s", logx.RedactToken(err, cfg.Telegram.BotToken))
		}
		logger.Info().Str("bot_username", bot.User.Username).Int64("bot_id", bot.User.Id).Msg("telegram bot initialized")
	}

	runAPI := cfg.AppMode != config.ModeWorker
	runWorker := cfg.AppMode != config.ModeAPI

	g, gctx := errgroup.WithContext(ctx)

	routerCfg := httpapi.Config{
		Generator:   gen,
		PRDs:        d.store,
		Keys:        d.keys,
		Auth:        auth.NewAuthenticator(d.store),
		Limiter:     limiter,
		Health:      []httpapi.Pinger{d.store, redisPinger{rdb}},
		HealthPath:  cfg.HTTP.HealthPath,
		MetricsPath: cfg.HTTP.MetricsPath,
		ProbesOnly:  !runAPI,
		Logger:      logger,
		Metrics:     m,
	}

	if runAPI && bot != nil {
		tg := telegram.NewService(telegram.Config{
			PRDs:      d.store,
			Keys:      d.keys,
			Queue:     jobs,
			Limiter:   limiter,
			Redis:     rdb,
			WizardTTL: cfg.Redis.WizardTTL,
			Logger:    logger,
			Metrics:   m,
		})
		updater, err := startTelegram(cfg, bot, tg, rdb, logger, m, &routerCfg)
		if err != nil {
			return err
		}
		g.Go(func() error {
			<-gctx.Done()
			if err := updater.Stop(); err != nil {
				logger.Error().Err(err).Msg("failed to stop updater")
			}
			return nil
		})
	}

	if runWorker {
		if bot == nil {
			logger.Warn().Msg("TELEGRAM_BOT_TOKEN is empty; queued jobs will not be processed")
		} else {
			w := worker.New(worker.Config{
				Queue:         jobs,
				Generator:     gen,
				PRDs:          d.store,
				Messenger:     worker.BotMessenger{Bot: bot},
				MaxJobRetries: cfg.Worker.MaxRetries,
				ReclaimIdle:   cfg.Generation.Timeout + time.Minute,
				Logger:        logger,
				Metrics:       m,
			})
			g.Go(func() error {
				logger.Info().Int("concurrency", cfg.Worker.Concurrency).Msg("worker started")
				if err := w.Start(gctx, cfg.Worker.Concurrency); err != nil && gctx.Err() == nil {
					return fmt.Errorf("worker: %w", err)
				}
				return nil
			})
		}
	}

	router := httpapi.NewRouter(routerCfg)
	g.Go(func() error {
		return httpapi.Serve(gctx, cfg.HTTP.ListenAddr, router, cfg.HTTP.ReadHeaderTimeout, logger)
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("runtime error")
		return err
	}
	logger.Info().Msg("stopped")
	return nil
}

func newGenerator(cfg *config.Config, d *deps, logger zerolog.Logger, m *metrics.Metrics) (*generator.Service, error) {
	catalog, err := credentials.LoadCatalog(cfg.Providers.CatalogFile)
	if err != nil {
		return nil, err
	}
	priority, err := credentials.ParsePriority(cfg.Providers.Priority)
	if err != nil {
		return nil, fmt.Errorf("PROVIDER_PRIORITY: %w", err)
	}
	resolver := credentials.NewResolver(credentials.ResolverConfig{
		Store:    d.store,
		Keys:     d.keyring,
		Catalog:  catalog,
		Priority: priority,
		Fallback: credentials.FallbackKeys(cfg.Providers.FallbackKeys),
		Logger:   logger,
		Metrics:  m,
	})
	adapters := registry.New(providers.HTTPOptions{
		Client:      providers.NewHTTPClient(cfg.Upstream.HeaderTimeout),
		MaxRetries:  cfg.Upstream.MaxRetries,
		BackoffBase: cfg.Upstream.BackoffBase,
	})
	return generator.New(generator.Config{
		Resolver:        resolver,
		Adapters:        adapters,
		Store:           d.store,
		Logger:          logger,
		Metrics:         m,
		Timeout:         cfg.Generation.Timeout,
		MaxOutputTokens: cfg.Generation.MaxOutputTokens,
		MaxContextBytes: cfg.Generation.MaxContextBytes,
	}), nil
}

// startTelegram registers the bot handlers and starts receiving updates.
// In webhook mode the update handler is mounted on the HTTP router.
func startTelegram(cfg *config.Config, bot *gotgbot.Bot, svc *telegram.Service, rdb *redis.Client, logger zerolog.Logger, m *metrics.Metrics, routerCfg *httpapi.Config) (*ext.Updater, error) {
	logTelegramErr := func(err error) {
		logger.Error().Str("component", "telegram").Msg(logx.RedactToken(err, cfg.Telegram.BotToken))
	}
	dispatcher := ext.NewDispatcher(&ext.DispatcherOpts{
		MaxRoutines:      100,
		UnhandledErrFunc: logTelegramErr,
		Processor: telegram.Processor{
			Dedupe:  queue.NewUpdateDeduplicator(rdb, cfg.Redis.UpdateTTL),
			Metrics: m,
			Logger:  logger,
		},
	})
	svc.Register(dispatcher)
	updater := ext.NewUpdater(dispatcher, &ext.UpdaterOpts{
		UnhandledErrFunc: logTelegramErr,
	})

	if cfg.Telegram.Mode == config.TelegramPolling {
		if err := updater.StartPolling(bot, &ext.PollingOpts{
			EnableWebhookDeletion: true,
			DropPendingUpdates:    true,
			GetUpdatesOpts: &gotgbot.GetUpdatesOpts{
				Timeout: 50,
				RequestOpts: &gotgbot.RequestOpts{
					Timeout: 60 * time.Second,
				},
			},
		}); err != nil {
			return nil, fmt.Errorf("start polling: %s", logx.RedactToken(err, cfg.Telegram.BotToken))
		}
		logger.Info().Msg("telegram polling started")
		return updater, nil
	}

	path := cfg.Telegram.SecretPath
	if path == "" {
		path = "telegram"
	}
	if err := updater.AddWebhook(bot, path, &ext.AddWebhookOpts{SecretToken: cfg.Telegram.SecretToken}); err != nil {
		return nil, fmt.Errorf("configure webhook handler: %w", err)
	}
	webhookURL := strings.TrimSuffix(cfg.Telegram.PublicURL, "/") + "/" + path
	if _, err := bot.SetWebhook(webhookURL, &gotgbot.SetWebhookOpts{
		SecretToken: cfg.Telegram.SecretToken,
	}); err != nil {
		return nil, fmt.Errorf("set telegram webhook: %s", logx.RedactToken(err, cfg.Telegram.BotToken))
	}
	logger.Info().Str("webhook_url", webhookURL).Msg("telegram webhook registered")

	routerCfg.Webhook = http.HandlerFunc(updater.GetHandlerFunc("/"))
	routerCfg.WebhookRoute = "/" + path
	return updater, nil
}
