package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bobmcallan/provsync/internal/clients/eodhd"
	"github.com/bobmcallan/provsync/internal/clients/provider"
	"github.com/bobmcallan/provsync/internal/common"
	"github.com/bobmcallan/provsync/internal/interfaces"
	"github.com/bobmcallan/provsync/internal/models"
	"github.com/bobmcallan/provsync/internal/services/jobmanager"
	"github.com/bobmcallan/provsync/internal/services/linker"
	"github.com/bobmcallan/provsync/internal/services/syncer"
	"github.com/bobmcallan/provsync/internal/storage"
	"github.com/bobmcallan/provsync/internal/telemetry"
)

// App holds all initialized services, clients and storage. It is the
// shared core used by cmd/provsync-server and the HTTP handlers.
type App struct {
	Config      *common.Config
	Logger      *common.Logger
	Storage     interfaces.StorageManager
	Resolver    interfaces.InstrumentResolver // nil without an EODHD key
	Clients     interfaces.ProviderClientFactory
	Runner      *syncer.Runner
	Linker      *linker.Service
	JobManager  *jobmanager.JobManager
	StartupTime time.Time

	telemetryShutdown telemetry.ShutdownFunc
	schedulerCancel   context.CancelFunc
}

// getBinaryDir returns the directory containing the executable.
func getBinaryDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// NewApp loads configuration and initializes the app. configPath may be
// empty, in which case PROVSYNC_CONFIG, then the binary directory, then
// config/provsync.toml are tried.
func NewApp(configPath string) (*App, error) {
	binDir := getBinaryDir()

	if configPath == "" {
		configPath = os.Getenv("PROVSYNC_CONFIG")
	}
	if configPath == "" {
		configPath = filepath.Join(binDir, "provsync.toml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			configPath = "config/provsync.toml" // fallback for development
		}
	}

	config, err := common.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Resolve relative log file path to binary directory
	if config.Logging.FilePath != "" && !filepath.IsAbs(config.Logging.FilePath) {
		config.Logging.FilePath = filepath.Join(binDir, config.Logging.FilePath)
	}

	logger := common.NewLoggerFromConfig(config.Logging)
	return NewAppWithConfig(context.Background(), config, logger)
}

// NewAppWithConfig wires storage, clients and services from an already
// loaded configuration.
func NewAppWithConfig(ctx context.Context, config *common.Config, logger *common.Logger) (*App, error) {
	startupStart := time.Now()

	shutdown, err := telemetry.Init(ctx, config.Telemetry, config.Environment, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	storageManager, err := storage.NewStorageManager(ctx, logger, config)
	if err != nil {
		_ = shutdown(ctx)
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	var resolver interfaces.InstrumentResolver
	if config.Resolver.APIKey != "" {
		opts := []eodhd.ClientOption{
			eodhd.WithLogger(logger),
			eodhd.WithRateLimit(config.Resolver.RateLimit),
			eodhd.WithTimeout(config.Resolver.GetTimeout()),
			eodhd.WithDefaultExchange(config.Resolver.DefaultExchange),
		}
		if config.Resolver.BaseURL != "" {
			opts = append(opts, eodhd.WithBaseURL(config.Resolver.BaseURL))
		}
		resolver = eodhd.NewClient(config.Resolver.APIKey, opts...)
	} else {
		logger.Warn().Msg("EODHD API key not configured - securities will be created offline")
	}

	if len(config.Providers) == 0 {
		logger.Warn().Msg("No providers configured - connection syncs will fail")
	}
	clients := provider.NewFactory(config.Providers, provider.EnvCredentials{}, logger)

	runner := syncer.NewRunner(storageManager, clients, resolver, config, logger)
	jm := jobmanager.NewJobManager(runner, nil, storageManager, logger, config.JobManager, config.Sync.GetInterval())
	runner.SetSubmitter(jm)

	a := &App{
		Config:            config,
		Logger:            logger,
		Storage:           storageManager,
		Resolver:          resolver,
		Clients:           clients,
		Runner:            runner,
		Linker:            linker.NewService(storageManager, logger),
		JobManager:        jm,
		StartupTime:       startupStart,
		telemetryShutdown: shutdown,
	}

	logger.Info().
		Str("storage", config.Storage.Backend).
		Int("providers", len(config.Providers)).
		Bool("resolver", resolver != nil).
		Dur("startup", time.Since(startupStart)).
		Msg("App initialized")

	return a, nil
}

// Start launches background work: the job manager when enabled, otherwise
// the in-process sync scheduler.
func (a *App) Start() {
	if a.Config.JobManager.Enabled {
		a.JobManager.Start()
		return
	}
	schedulerCtx, schedulerCancel := context.WithCancel(context.Background())
	a.schedulerCancel = schedulerCancel
	go startSyncScheduler(schedulerCtx, a.Runner, a.Storage, a.Config.Sync.GetInterval(), a.Logger)
}

// Close releases all resources held by the App.
// Shutdown order: stop background work, close storage, flush telemetry.
func (a *App) Close() {
	if a.JobManager != nil {
		a.JobManager.Stop()
	}
	if a.schedulerCancel != nil {
		a.schedulerCancel()
		a.schedulerCancel = nil
	}
	if a.Storage != nil {
		a.Storage.Close()
		a.Storage = nil
	}
	if a.telemetryShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.telemetryShutdown(ctx); err != nil {
			a.Logger.Warn().Err(err).Msg("Telemetry shutdown failed")
		}
		a.telemetryShutdown = nil
	}
}

// RequestSync queues a sync of the connection ahead of scheduled work.
// It reports false when a sync for the connection is already pending.
func (a *App) RequestSync(ctx context.Context, connectionID string) (bool, error) {
	conn, err := a.Storage.ConnectionStore().Get(ctx, connectionID)
	if err != nil {
		return false, err
	}
	if conn.IsDisconnected() {
		return false, fmt.Errorf("connection %s is disconnected: %w", conn.ID, models.ErrNotFound)
	}
	if !conn.IsActive() {
		return false, fmt.Errorf("connection %s needs re-authentication: %w", conn.ID, models.ErrUnauthorized)
	}

	if !a.Config.JobManager.Enabled {
		go a.syncNow(conn.ID)
		return true, nil
	}
	return a.JobManager.RequestSync(ctx, conn.ID)
}

func (a *App) syncNow(connectionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()
	if _, err := a.Runner.SyncConnection(ctx, connectionID); err != nil {
		a.Logger.Warn().Str("connection", connectionID).Err(err).Msg("Requested sync failed")
	}
}

// Disconnect unlinks every linked provider account of the connection, then
// removes the connection with its provider accounts and raw documents.
// Canonical entries and holdings are detached, never deleted. With dryRun
// nothing is written. A sync in flight on the connection returns
// models.ErrSyncInProgress.
func (a *App) Disconnect(ctx context.Context, connectionID string, dryRun bool) (*models.DisconnectResult, error) {
	conn, err := a.Storage.ConnectionStore().Get(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	result := &models.DisconnectResult{ConnectionID: conn.ID, DryRun: dryRun}

	if dryRun {
		result.Results, err = a.Linker.UnlinkAll(ctx, conn, true)
		if err != nil {
			return nil, err
		}
		return result, nil
	}

	release, ok := a.Runner.Claim(conn.ID)
	if !ok {
		return nil, fmt.Errorf("connection %s: %w", conn.ID, models.ErrSyncInProgress)
	}
	defer release()

	// Scheduled and requested syncs skip a disconnected connection.
	if !conn.IsDisconnected() {
		conn.Status = models.ConnectionStatusDisconnected
		if err := a.Storage.ConnectionStore().Save(ctx, conn); err != nil {
			return nil, fmt.Errorf("failed to mark connection %s disconnected: %w", conn.ID, err)
		}
	}

	cancelled, err := a.JobManager.CancelSubject(ctx, conn.ID)
	if err != nil {
		a.Logger.Warn().Str("connection", conn.ID).Err(err).Msg("Failed to cancel pending syncs")
	} else if cancelled > 0 {
		a.Logger.Info().Str("connection", conn.ID).Int("cancelled", cancelled).Msg("Pending syncs cancelled")
	}

	result.Results, err = a.Linker.UnlinkAll(ctx, conn, false)
	if err != nil {
		return nil, err
	}
	for _, r := range result.Results {
		if r.Err != nil {
			a.Logger.Warn().
				Str("connection", conn.ID).
				Str("provider_account", r.ProviderAccountID).
				Msg("Connection kept until every account is unlinked")
			return result, nil
		}
	}

	removed, err := a.removeConnection(ctx, conn)
	result.ProviderAccountsRemoved = removed
	if err != nil {
		return nil, err
	}
	result.Removed = true
	return result, nil
}

// removeConnection deletes the unlinked provider accounts of conn, their raw
// documents and the connection itself.
func (a *App) removeConnection(ctx context.Context, conn *models.Connection) (int, error) {
	accounts, err := a.Storage.ProviderAccountStore().ListByConnection(ctx, conn.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to list provider accounts: %w", err)
	}

	removed := 0
	for _, pa := range accounts {
		if err := a.Storage.RawPayloadStore().DeleteByOwner(ctx, pa.ID); err != nil {
			return removed, fmt.Errorf("failed to delete raw documents of %s: %w", pa.ID, err)
		}
		if err := a.Storage.ProviderAccountStore().Delete(ctx, pa.ID); err != nil && !errors.Is(err, models.ErrNotFound) {
			return removed, fmt.Errorf("failed to delete provider account %s: %w", pa.ID, err)
		}
		removed++
	}
	if err := a.Storage.RawPayloadStore().DeleteByOwner(ctx, conn.ID); err != nil {
		return removed, fmt.Errorf("failed to delete raw documents of %s: %w", conn.ID, err)
	}
	if err := a.Storage.ConnectionStore().Delete(ctx, conn.ID); err != nil {
		return removed, fmt.Errorf("failed to delete connection %s: %w", conn.ID, err)
	}

	a.Logger.Info().
		Str("connection", conn.ID).
		Int("provider_accounts", removed).
		Msg("Connection removed")
	return removed, nil
}

// LinkAccount links a provider account to a canonical account, completing
// a pending-setup connection.
func (a *App) LinkAccount(ctx context.Context, providerAccountID, accountID string) (*models.Link, error) {
	if accountID == "" {
		return nil, errors.New("account_id is required")
	}
	pa, err := a.Storage.ProviderAccountStore().Get(ctx, providerAccountID)
	if err != nil {
		return nil, err
	}
	return a.Linker.Link(ctx, pa, accountID)
}

// GetSyncRun returns one sync run by id.
func (a *App) GetSyncRun(ctx context.Context, id string) (*models.SyncRun, error) {
	return a.Storage.SyncRunStore().Get(ctx, id)
}

// ListSyncRuns returns the connection's sync runs, newest first.
func (a *App) ListSyncRuns(ctx context.Context, connectionID string, limit int) ([]*models.SyncRun, error) {
	if _, err := a.Storage.ConnectionStore().Get(ctx, connectionID); err != nil {
		return nil, err
	}
	return a.Storage.SyncRunStore().ListByConnection(ctx, connectionID, limit)
}
