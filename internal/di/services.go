package di

import (
	"context"
	"fmt"

	"github.com/aristath/fundtrack/internal/clients/nav"
	"github.com/aristath/fundtrack/internal/config"
	"github.com/aristath/fundtrack/internal/database"
	"github.com/aristath/fundtrack/internal/events"
	"github.com/aristath/fundtrack/internal/modules/dca"
	"github.com/aristath/fundtrack/internal/modules/dividends"
	"github.com/aristath/fundtrack/internal/modules/operations"
	"github.com/aristath/fundtrack/internal/modules/portfolio"
	"github.com/aristath/fundtrack/internal/reliability"
	"github.com/rs/zerolog"
)

// InitializeServices creates the event bus, the NAV client and all services
func InitializeServices(container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container == nil {
		return fmt.Errorf("container cannot be nil")
	}

	// Events
	container.EventBus = events.NewBus(log)
	container.EventManager = events.NewManager(container.EventBus, log)

	// NAV provider, cache-first through cache.db
	container.NAVClient = nav.NewClient(cfg.NAVProviderURL, container.ClientDataRepo, cfg.NAVCacheTTL, log)

	// Ledger
	container.OperationService = operations.NewService(
		container.OperationRepo,
		container.NAVClient,
		container.EventManager,
		log,
	)

	// Positions; cached entries are dropped on every ledger event naming the asset
	container.PositionService = portfolio.NewPositionService(
		container.OperationRepo,
		container.NAVClient,
		container.ClientDataRepo,
		log,
	)
	container.PositionService.RegisterInvalidation(container.EventBus)

	// DCA
	container.DCAExecutor = dca.NewExecutor(
		container.PlanRepo,
		container.OperationRepo,
		container.NAVClient,
		container.CalendarRepo,
		container.EventManager,
		dca.ExecutorConfig{
			NAVLookbackDays: cfg.NAVLookbackDays,
			MaxParallel:     cfg.DCAMaxParallelPlans,
		},
		log,
	)
	container.DCAService = dca.NewService(
		container.PlanRepo,
		container.OperationRepo,
		container.DCAExecutor,
		container.NAVClient,
		container.CalendarRepo,
		container.EventManager,
		log,
	)

	// Dividends
	container.DividendResolver = dividends.NewResolver(
		container.OperationRepo,
		container.NAVClient,
		container.EventManager,
		log,
	)

	// Backups
	if cfg.Backup != nil && cfg.Backup.Enabled {
		store, err := reliability.NewS3Client(context.Background(), reliability.S3Config{
			Bucket:          cfg.Backup.Bucket,
			Region:          cfg.Backup.Region,
			Endpoint:        cfg.Backup.Endpoint,
			AccessKeyID:     cfg.Backup.AccessKeyID,
			SecretAccessKey: cfg.Backup.SecretAccessKey,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to create backup store: %w", err)
		}
		// cache.db is rebuildable and stays out of the archive
		container.BackupService = reliability.NewBackupService(
			store,
			map[string]*database.DB{"ledger": container.LedgerDB, "config": container.ConfigDB},
			cfg.Backup.Prefix,
			cfg.DataDir,
			log,
		)
	}

	log.Info().Msg("All services initialized")
	return nil
}
