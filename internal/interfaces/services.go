package interfaces

import (
	"context"

	"github.com/bobmcallan/provsync/internal/models"
)

// WorkSubmitter accepts fire-and-forget background work.
type WorkSubmitter interface {
	Enqueue(ctx context.Context, kind string, payload map[string]string) error
}

// BalanceHistoryCalculator recomputes an account's balance history from its
// entries and valuation anchors. Implemented outside this core.
type BalanceHistoryCalculator interface {
	RecalculateBalances(ctx context.Context, accountID string) error
}

// Importer refreshes raw payload documents for one connection.
type Importer interface {
	Import(ctx context.Context, conn *models.Connection) (*models.ImportResult, error)
}

// HoldingsProcessor turns raw holdings into canonical holdings.
type HoldingsProcessor interface {
	ProcessHoldings(ctx context.Context, pa *models.ProviderAccount) (*models.HoldingsResult, error)
}

// ActivityProcessor turns raw activities into canonical entries.
type ActivityProcessor interface {
	ProcessActivities(ctx context.Context, pa *models.ProviderAccount) (*models.ActivityResult, error)
}

// Reconciler recomputes a linked account's balance and records today's anchor.
type Reconciler interface {
	Reconcile(ctx context.Context, pa *models.ProviderAccount) error
}

// AccountLinker answers and changes which provider accounts are linked.
type AccountLinker interface {
	IsLinked(ctx context.Context, pa *models.ProviderAccount) (bool, error)
	ResolveAccountID(ctx context.Context, pa *models.ProviderAccount) (string, error)
	// LinkRef is the reference holdings carry for the account's current link.
	LinkRef(ctx context.Context, pa *models.ProviderAccount) (string, error)
	Link(ctx context.Context, pa *models.ProviderAccount, accountID string) (*models.Link, error)
	UnlinkAll(ctx context.Context, conn *models.Connection, dryRun bool) ([]models.UnlinkResult, error)
	Prune(ctx context.Context, conn *models.Connection, upstreamIDs []string) (*models.PruneResult, error)
	CountLinks(ctx context.Context, conn *models.Connection) (linked, unlinked int, err error)
}

// SecurityService resolves or lazily creates instruments.
type SecurityService interface {
	FindOrCreate(ctx context.Context, identifier, kind string) (*models.Security, error)
}

// ConnectionSyncer runs the full sync pipeline for one connection.
type ConnectionSyncer interface {
	SyncConnection(ctx context.Context, connectionID string) (*models.SyncRun, error)
}
