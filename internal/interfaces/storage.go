// Package interfaces defines service contracts for provsync
package interfaces

import (
	"context"
	"time"

	"github.com/bobmcallan/provsync/internal/models"
)

// StorageManager coordinates all storage backends
type StorageManager interface {
	ConnectionStore() ConnectionStore
	ProviderAccountStore() ProviderAccountStore
	LinkStore() LinkStore
	RawPayloadStore() RawPayloadStore
	AccountStore() AccountStore
	HoldingStore() HoldingStore
	EntryStore() EntryStore
	ValuationStore() ValuationStore
	SecurityStore() SecurityStore
	SyncRunStore() SyncRunStore
	JobQueueStore() JobQueueStore

	// Lifecycle
	Close() error
}

// ConnectionStore persists provider connections.
type ConnectionStore interface {
	Get(ctx context.Context, id string) (*models.Connection, error)
	Save(ctx context.Context, conn *models.Connection) error
	List(ctx context.Context) ([]*models.Connection, error)
	Delete(ctx context.Context, id string) error
}

// ProviderAccountStore persists upstream accounts. Delete refuses linked
// accounts with models.ErrLinkedAccount.
type ProviderAccountStore interface {
	Get(ctx context.Context, id string) (*models.ProviderAccount, error)
	GetByExternalID(ctx context.Context, connectionID, externalID string) (*models.ProviderAccount, error)
	ListByConnection(ctx context.Context, connectionID string) ([]*models.ProviderAccount, error)
	Create(ctx context.Context, pa *models.ProviderAccount) error // ErrDuplicateRecord on (connection, external id)
	Save(ctx context.Context, pa *models.ProviderAccount) error
	Delete(ctx context.Context, id string) error
}

// LinkStore persists provider-to-canonical account links.
type LinkStore interface {
	GetByProviderAccount(ctx context.Context, providerAccountID string) (*models.Link, error)
	Create(ctx context.Context, link *models.Link) error // ErrDuplicateRecord if the provider account is already linked

	// Unlink detaches every holding imported through the provider account's
	// link, clears its direct account reference and removes the link, as one
	// atomic unit. Returns the number of holdings detached.
	Unlink(ctx context.Context, providerAccountID string) (int, error)
}

// RawPayloadStore persists the last-known provider snapshot documents.
type RawPayloadStore interface {
	Get(ctx context.Context, ownerID, kind string) (*models.RawDocument, error)

	// Put writes doc only if the stored version equals expectedVersion
	// (0 means the document must not exist yet), else ErrVersionConflict.
	// On success doc.Version holds the new version.
	Put(ctx context.Context, doc *models.RawDocument, expectedVersion int) error

	DeleteByOwner(ctx context.Context, ownerID string) error
}

// AccountStore persists canonical accounts.
type AccountStore interface {
	Get(ctx context.Context, id string) (*models.Account, error)
	Save(ctx context.Context, account *models.Account) error
}

// HoldingStore persists dated holdings.
type HoldingStore interface {
	Get(ctx context.Context, id string) (*models.Holding, error)
	Upsert(ctx context.Context, holding *models.Holding) error
	ListByAccountDate(ctx context.Context, accountID string, date time.Time) ([]*models.Holding, error)
	CountByLink(ctx context.Context, linkID string) (int, error)
}

// EntryStore persists ledger entries. Create writes the entry and its
// trade/transaction sub-record as one record.
type EntryStore interface {
	GetByExternalID(ctx context.Context, accountID, externalID string) (*models.Entry, error)
	Create(ctx context.Context, entry *models.Entry) error // ErrDuplicateRecord on (account, external id)
	UpdateLabel(ctx context.Context, id string, label models.ActivityLabel) error
	ListByAccount(ctx context.Context, accountID string) ([]*models.Entry, error)
}

// ValuationStore persists dated balance facts.
type ValuationStore interface {
	Upsert(ctx context.Context, v *models.Valuation) error
	ListByAccount(ctx context.Context, accountID string) ([]*models.Valuation, error)
}

// SecurityStore persists financial instruments.
type SecurityStore interface {
	Get(ctx context.Context, id string) (*models.Security, error)
	Create(ctx context.Context, sec *models.Security) error // ErrDuplicateRecord if the ticker exists
}

// SyncRunStore persists sync execution records.
type SyncRunStore interface {
	Get(ctx context.Context, id string) (*models.SyncRun, error)
	Save(ctx context.Context, run *models.SyncRun) error
	ListByConnection(ctx context.Context, connectionID string, limit int) ([]*models.SyncRun, error) // newest first
}

// JobQueueStore manages the persistent job queue.
type JobQueueStore interface {
	Enqueue(ctx context.Context, job *models.Job) error
	Dequeue(ctx context.Context) (*models.Job, error) // Atomic: get highest priority pending, set to running
	Complete(ctx context.Context, id string, jobErr error, durationMS int64) error
	Cancel(ctx context.Context, id string) error
	ListPending(ctx context.Context, limit int) ([]*models.Job, error)
	ListBySubject(ctx context.Context, subject string) ([]*models.Job, error)
	CountPending(ctx context.Context) (int, error)
	HasActiveJob(ctx context.Context, jobType, subject string) (bool, error) // pending or running
	PurgeCompleted(ctx context.Context, olderThan time.Time) (int, error)
	CancelBySubject(ctx context.Context, subject string) (int, error)
	ResetRunningJobs(ctx context.Context) (int, error)
}
