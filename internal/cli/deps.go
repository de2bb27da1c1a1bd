package cli

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/NahidDesigner/ai-prd-creator/internal/config"
	"github.com/NahidDesigner/ai-prd-creator/internal/credentials"
	"github.com/NahidDesigner/ai-prd-creator/internal/crypto"
	"github.com/NahidDesigner/ai-prd-creator/internal/logx"
	"github.com/NahidDesigner/ai-prd-creator/internal/storage"
)

// deps are the pieces every database-backed command needs.
type deps struct {
	cfg     *config.Config
	logger  zerolog.Logger
	store   *storage.Store
	keyring *crypto.Keyring
	keys    *credentials.KeyService
}

func openDeps(ctx context.Context, autoMigrate bool) (*deps, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := logx.Setup(cfg.Log.Level)

	keyring, err := crypto.NewKeyring(cfg.Crypto.CurrentKeyID, cfg.Crypto.Keys)
	if err != nil {
		return nil, fmt.Errorf("init keyring: %w", err)
	}
	store, err := storage.Open(ctx, cfg.DB.Driver, cfg.DB.DSN, autoMigrate)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	return &deps{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		keyring: keyring,
		keys:    credentials.NewKeyService(store, keyring, logger),
	}, nil
}

func (d *deps) Close() {
	if err := d.store.Close(); err != nil {
		d.logger.Error().Err(err).Msg("failed to close storage")
	}
}
