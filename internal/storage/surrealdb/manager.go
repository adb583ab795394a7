// Package surrealdb implements interfaces.StorageManager on SurrealDB.
package surrealdb

import (
	"context"
	"fmt"

	"github.com/surrealdb/surrealdb.go"

	"github.com/bobmcallan/provsync/internal/common"
	"github.com/bobmcallan/provsync/internal/interfaces"
)

// tables defined at startup (SurrealDB v3 errors on querying non-existent tables)
var tables = []string{
	"connection", "provider_account", "link", "raw_payload", "account",
	"holding", "entry", "valuation", "security", "sync_run", "job_queue",
}

// indexes back the natural-key lookups and uniqueness rules.
var indexes = []string{
	"DEFINE INDEX IF NOT EXISTS provider_account_external ON provider_account FIELDS connection_id, external_id UNIQUE",
	"DEFINE INDEX IF NOT EXISTS holding_account_date ON holding FIELDS account_id, date",
	"DEFINE INDEX IF NOT EXISTS holding_link ON holding FIELDS link_id",
	"DEFINE INDEX IF NOT EXISTS entry_external ON entry FIELDS account_id, external_id",
	"DEFINE INDEX IF NOT EXISTS raw_payload_owner ON raw_payload FIELDS owner_id",
	"DEFINE INDEX IF NOT EXISTS sync_run_connection ON sync_run FIELDS connection_id, started_at",
	"DEFINE INDEX IF NOT EXISTS job_queue_status ON job_queue FIELDS status, priority",
}

// Manager implements interfaces.StorageManager using SurrealDB.
type Manager struct {
	db     *surrealdb.DB
	logger *common.Logger

	connectionStore      *ConnectionStore
	providerAccountStore *ProviderAccountStore
	linkStore            *LinkStore
	rawPayloadStore      *RawPayloadStore
	accountStore         *AccountStore
	holdingStore         *HoldingStore
	entryStore           *EntryStore
	valuationStore       *ValuationStore
	securityStore        *SecurityStore
	syncRunStore         *SyncRunStore
	jobQueueStore        *JobQueueStore
}

// NewManager creates a new StorageManager connected to SurrealDB.
func NewManager(ctx context.Context, logger *common.Logger, config *common.Config) (*Manager, error) {
	// Connect to SurrealDB
	db, err := surrealdb.New(config.Storage.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SurrealDB: %w", err)
	}

	// Sign in
	if _, err := db.SignIn(ctx, map[string]interface{}{
		"user": config.Storage.Username,
		"pass": config.Storage.Password,
	}); err != nil {
		db.Close(ctx)
		return nil, fmt.Errorf("failed to sign in to SurrealDB: %w", err)
	}

	// Select namespace and database
	if err := db.Use(ctx, config.Storage.Namespace, config.Storage.Database); err != nil {
		db.Close(ctx)
		return nil, fmt.Errorf("failed to select namespace/database: %w", err)
	}

	if err := defineSchema(ctx, db); err != nil {
		db.Close(ctx)
		return nil, err
	}

	m := newManager(db, logger)

	logger.Info().
		Str("address", config.Storage.Address).
		Str("namespace", config.Storage.Namespace).
		Str("database", config.Storage.Database).
		Msg("SurrealDB storage manager initialized")

	return m, nil
}

func defineSchema(ctx context.Context, db *surrealdb.DB) error {
	for _, table := range tables {
		sql := fmt.Sprintf("DEFINE TABLE IF NOT EXISTS %s SCHEMALESS", table)
		if _, err := surrealdb.Query[any](ctx, db, sql, nil); err != nil {
			return fmt.Errorf("failed to define table %s: %w", table, err)
		}
	}
	for _, sql := range indexes {
		if _, err := surrealdb.Query[any](ctx, db, sql, nil); err != nil {
			return fmt.Errorf("failed to define index: %w", err)
		}
	}
	return nil
}

func newManager(db *surrealdb.DB, logger *common.Logger) *Manager {
	return &Manager{
		db:                   db,
		logger:               logger,
		connectionStore:      NewConnectionStore(db, logger),
		providerAccountStore: NewProviderAccountStore(db, logger),
		linkStore:            NewLinkStore(db, logger),
		rawPayloadStore:      NewRawPayloadStore(db, logger),
		accountStore:         NewAccountStore(db, logger),
		holdingStore:         NewHoldingStore(db, logger),
		entryStore:           NewEntryStore(db, logger),
		valuationStore:       NewValuationStore(db, logger),
		securityStore:        NewSecurityStore(db, logger),
		syncRunStore:         NewSyncRunStore(db, logger),
		jobQueueStore:        NewJobQueueStore(db, logger),
	}
}

func (m *Manager) ConnectionStore() interfaces.ConnectionStore {
	return m.connectionStore
}

func (m *Manager) ProviderAccountStore() interfaces.ProviderAccountStore {
	return m.providerAccountStore
}

func (m *Manager) LinkStore() interfaces.LinkStore {
	return m.linkStore
}

func (m *Manager) RawPayloadStore() interfaces.RawPayloadStore {
	return m.rawPayloadStore
}

func (m *Manager) AccountStore() interfaces.AccountStore {
	return m.accountStore
}

func (m *Manager) HoldingStore() interfaces.HoldingStore {
	return m.holdingStore
}

func (m *Manager) EntryStore() interfaces.EntryStore {
	return m.entryStore
}

func (m *Manager) ValuationStore() interfaces.ValuationStore {
	return m.valuationStore
}

func (m *Manager) SecurityStore() interfaces.SecurityStore {
	return m.securityStore
}

func (m *Manager) SyncRunStore() interfaces.SyncRunStore {
	return m.syncRunStore
}

func (m *Manager) JobQueueStore() interfaces.JobQueueStore {
	return m.jobQueueStore
}

func (m *Manager) Close() error {
	m.db.Close(context.Background())
	return nil
}

// Compile-time check
var _ interfaces.StorageManager = (*Manager)(nil)
