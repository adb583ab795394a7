package interfaces

import (
	"context"
	"time"

	"github.com/bobmcallan/provsync/internal/models"
)

// ProviderClient is the per-vendor data source for one connection. Every
// method returns a *models.ProviderError so unauthorized can be told apart
// from other failures.
type ProviderClient interface {
	ListAccounts(ctx context.Context) ([]models.RawRecord, error)
	GetBalances(ctx context.Context, accountRef string) (models.RawRecord, error)
	// GetTransactions returns one page; an empty next cursor ends the walk.
	GetTransactions(ctx context.Context, accountRef string, since time.Time, cursor string) ([]models.RawRecord, string, error)
	GetHoldings(ctx context.Context, accountRef string) ([]models.RawRecord, error)
}

// PostSyncHook is optionally implemented by a ProviderClient for
// provider-specific cleanup after every sync, successful or not.
type PostSyncHook interface {
	PostSync(ctx context.Context, conn *models.Connection) error
}

// ProviderClientFactory builds the client for a connection.
type ProviderClientFactory interface {
	ClientFor(ctx context.Context, conn *models.Connection) (ProviderClient, error)
}

// InstrumentResolver looks up instrument metadata by ticker. Returns
// models.ErrNotFound when the ticker is unknown.
type InstrumentResolver interface {
	ResolveSecurity(ctx context.Context, ticker string) (*models.Security, error)
}
