package syncer

import (
	"context"
	"fmt"
	"sync"

	"github.com/bobmcallan/provsync/internal/common"
	"github.com/bobmcallan/provsync/internal/interfaces"
	"github.com/bobmcallan/provsync/internal/models"
	"github.com/bobmcallan/provsync/internal/payload"
	"github.com/bobmcallan/provsync/internal/services/importer"
	"github.com/bobmcallan/provsync/internal/services/linker"
	"github.com/bobmcallan/provsync/internal/services/pagination"
	"github.com/bobmcallan/provsync/internal/services/processor"
	"github.com/bobmcallan/provsync/internal/services/reconciler"
	"github.com/bobmcallan/provsync/internal/services/security"
)

// Compile-time interface check
var _ interfaces.ConnectionSyncer = (*Runner)(nil)

// Runner builds the pipeline for a connection from its provider settings
// and runs it. Nothing is shared between connections except storage.
type Runner struct {
	storage  interfaces.StorageManager
	clients  interfaces.ProviderClientFactory
	resolver interfaces.InstrumentResolver
	config   *common.Config
	logger   *common.Logger

	mu        sync.RWMutex
	submitter interfaces.WorkSubmitter

	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

// NewRunner creates a connection runner. resolver may be nil.
func NewRunner(storage interfaces.StorageManager, clients interfaces.ProviderClientFactory, resolver interfaces.InstrumentResolver, config *common.Config, logger *common.Logger) *Runner {
	return &Runner{
		storage:  storage,
		clients:  clients,
		resolver: resolver,
		config:   config,
		logger:   logger,
		inflight: make(map[string]struct{}),
	}
}

// SetSubmitter sets the background-work submitter used by the scheduling
// phase. The job manager is built after the runner, so it is injected late.
func (r *Runner) SetSubmitter(submitter interfaces.WorkSubmitter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.submitter = submitter
}

func (r *Runner) getSubmitter() interfaces.WorkSubmitter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.submitter
}

// SyncConnection loads the connection and runs one sync over it. A
// connection already syncing returns models.ErrSyncInProgress.
func (r *Runner) SyncConnection(ctx context.Context, connectionID string) (*models.SyncRun, error) {
	release, ok := r.Claim(connectionID)
	if !ok {
		return nil, fmt.Errorf("connection %s: %w", connectionID, models.ErrSyncInProgress)
	}
	defer release()

	conn, err := r.storage.ConnectionStore().Get(ctx, connectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection %s: %w", connectionID, err)
	}
	if conn.IsDisconnected() {
		return nil, fmt.Errorf("connection %s is disconnected: %w", connectionID, models.ErrNotFound)
	}
	if !conn.IsActive() {
		return nil, fmt.Errorf("connection %s needs re-authentication: %w", connectionID, models.ErrUnauthorized)
	}

	client, err := r.clients.ClientFor(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("failed to build provider client for %s: %w", conn.Provider, err)
	}

	syncer := r.build(conn, client)
	return syncer.Sync(ctx, conn)
}

// Claim marks the connection busy so no sync starts on it until release is
// called. Reports false when the connection is already claimed.
func (r *Runner) Claim(connectionID string) (release func(), ok bool) {
	r.inflightMu.Lock()
	defer r.inflightMu.Unlock()
	if _, busy := r.inflight[connectionID]; busy {
		return nil, false
	}
	r.inflight[connectionID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			r.inflightMu.Lock()
			delete(r.inflight, connectionID)
			r.inflightMu.Unlock()
		})
	}, true
}

func (r *Runner) build(conn *models.Connection, client interfaces.ProviderClient) *Syncer {
	cfg := r.config.Sync
	providerCfg := r.config.Providers[conn.Provider]
	profile := payload.ProfileFor(providerCfg.Kind)

	accounts := linker.NewService(r.storage, r.logger)
	walker := pagination.NewWalker(cfg.GetPageCeiling(), r.logger)
	securities := security.NewService(r.storage, r.resolver, cfg.GetCallTimeout(), r.logger)
	proc := processor.New(r.storage, accounts, securities, profile, r.logger)

	pipeline := Pipeline{
		Importer:   importer.New(client, r.storage, accounts, walker, profile, cfg, r.logger),
		Activities: proc,
		Holdings:   proc,
		Reconciler: reconciler.New(r.storage, accounts, r.logger),
	}
	if hook, ok := client.(interfaces.PostSyncHook); ok {
		pipeline.Hook = hook
	}

	return New(r.storage, accounts, pipeline, r.getSubmitter(), cfg.Inactivity, r.logger)
}
