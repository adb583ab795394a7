// Package memory provides an in-process StorageManager. All stores share one
// lock so multi-store operations such as Unlink are atomic.
package memory

import (
	"sync"

	"github.com/bobmcallan/provsync/internal/common"
	"github.com/bobmcallan/provsync/internal/interfaces"
	"github.com/bobmcallan/provsync/internal/models"
)

// state is the shared data behind every memory store.
type state struct {
	mu sync.RWMutex

	connections      map[string]*models.Connection
	providerAccounts map[string]*models.ProviderAccount
	links            map[string]*models.Link // keyed by provider account id
	rawDocs          map[string]*models.RawDocument
	accounts         map[string]*models.Account
	holdings         map[string]*models.Holding
	entries          map[string]*models.Entry
	valuations       map[string]*models.Valuation
	securities       map[string]*models.Security
	syncRuns         map[string]*models.SyncRun
	jobs             map[string]*models.Job
}

// Manager implements interfaces.StorageManager in memory.
type Manager struct {
	st     *state
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

// NewManager creates an empty in-memory storage manager.
func NewManager(logger *common.Logger) *Manager {
	st := &state{
		connections:      make(map[string]*models.Connection),
		providerAccounts: make(map[string]*models.ProviderAccount),
		links:            make(map[string]*models.Link),
		rawDocs:          make(map[string]*models.RawDocument),
		accounts:         make(map[string]*models.Account),
		holdings:         make(map[string]*models.Holding),
		entries:          make(map[string]*models.Entry),
		valuations:       make(map[string]*models.Valuation),
		securities:       make(map[string]*models.Security),
		syncRuns:         make(map[string]*models.SyncRun),
		jobs:             make(map[string]*models.Job),
	}

	m := &Manager{st: st, logger: logger}
	m.connectionStore = &ConnectionStore{st: st}
	m.providerAccountStore = &ProviderAccountStore{st: st}
	m.linkStore = &LinkStore{st: st}
	m.rawPayloadStore = &RawPayloadStore{st: st}
	m.accountStore = &AccountStore{st: st}
	m.holdingStore = &HoldingStore{st: st}
	m.entryStore = &EntryStore{st: st}
	m.valuationStore = &ValuationStore{st: st}
	m.securityStore = &SecurityStore{st: st}
	m.syncRunStore = &SyncRunStore{st: st}
	m.jobQueueStore = &JobQueueStore{st: st}

	logger.Info().Msg("In-memory storage manager initialized")
	return m
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
	return nil
}

// Compile-time check
var _ interfaces.StorageManager = (*Manager)(nil)
