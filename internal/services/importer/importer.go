// Package importer refreshes the raw payload documents of one connection
// from its provider.
package importer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bobmcallan/provsync/internal/common"
	"github.com/bobmcallan/provsync/internal/interfaces"
	"github.com/bobmcallan/provsync/internal/models"
	"github.com/bobmcallan/provsync/internal/payload"
	"github.com/bobmcallan/provsync/internal/services/pagination"
)

// Compile-time interface check
var _ interfaces.Importer = (*Importer)(nil)

// Importer pulls accounts, transactions, balances and holdings for the
// accounts of one connection. Accounts are imported sequentially.
type Importer struct {
	client  interfaces.ProviderClient
	storage interfaces.StorageManager
	linker  interfaces.AccountLinker
	walker  *pagination.Walker
	profile payload.Profile
	config  common.SyncConfig
	logger  *common.Logger
	now     func() time.Time
}

// Option configures an Importer
type Option func(*Importer)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(i *Importer) {
		i.now = now
	}
}

// New creates an importer for one provider client.
func New(
	client interfaces.ProviderClient,
	storage interfaces.StorageManager,
	linker interfaces.AccountLinker,
	walker *pagination.Walker,
	profile payload.Profile,
	config common.SyncConfig,
	logger *common.Logger,
	opts ...Option,
) *Importer {
	i := &Importer{
		client:  client,
		storage: storage,
		linker:  linker,
		walker:  walker,
		profile: profile,
		config:  config,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Import refreshes every upstream account of conn. An authentication failure
// moves the connection to requires_update and aborts; failure to list
// accounts aborts; any other per-account failure is counted and the
// remaining accounts continue.
func (i *Importer) Import(ctx context.Context, conn *models.Connection) (*models.ImportResult, error) {
	result := &models.ImportResult{}

	var accounts []models.RawRecord
	err := i.call(ctx, func(ctx context.Context) error {
		var err error
		accounts, err = i.client.ListAccounts(ctx)
		return err
	})
	if err != nil {
		return i.abort(ctx, conn, result, fmt.Errorf("failed to list accounts: %w", err))
	}

	if err := replaceSnapshot(ctx, i.storage.RawPayloadStore(), conn.ID, models.RawKindConnectionAccounts, accounts, nil); err != nil {
		i.logger.Warn().Str("connection", conn.ID).Err(err).Msg("Failed to store connection account snapshot")
		result.Warnings = append(result.Warnings, "connection account snapshot not stored")
	}

	upstream := make([]payload.RawPayload, 0, len(accounts))
	upstreamIDs := make([]string, 0, len(accounts))
	for _, p := range payload.Wrap(accounts, i.profile) {
		ext := externalAccountID(p)
		if ext == "" {
			result.Warnings = append(result.Warnings, "account without identifier skipped")
			continue
		}
		upstream = append(upstream, p)
		upstreamIDs = append(upstreamIDs, ext)
	}

	pruned, err := i.linker.Prune(ctx, conn, upstreamIDs)
	if err != nil {
		i.logger.Warn().Str("connection", conn.ID).Err(err).Msg("Failed to prune provider accounts")
		result.Warnings = append(result.Warnings, "pruning of vanished accounts failed")
	}
	if pruned != nil {
		result.AccountsPruned = len(pruned.Deleted)
		result.AccountsProtected = len(pruned.Protected)
		for range pruned.Protected {
			result.Warnings = append(result.Warnings, "linked account no longer reported by provider")
		}
	}

	for _, acct := range upstream {
		if err := ctx.Err(); err != nil {
			return i.abort(ctx, conn, result, err)
		}
		if err := i.importAccount(ctx, conn, acct, result); err != nil {
			if models.IsUnauthorized(err) {
				return i.abort(ctx, conn, result, err)
			}
			result.AccountsFailed++
			result.Errors = append(result.Errors, fmt.Sprintf("account %s: import failed", externalAccountID(acct)))
			i.logger.Warn().
				Str("connection", conn.ID).
				Str("external_account", externalAccountID(acct)).
				Err(err).
				Msg("Account import failed")
		}
	}

	i.logger.Info().
		Str("connection", conn.ID).
		Int("accounts", len(upstream)).
		Int("created", result.AccountsCreated).
		Int("updated", result.AccountsUpdated).
		Int("failed", result.AccountsFailed).
		Int("pruned", result.AccountsPruned).
		Int("transactions", result.TransactionsImported).
		Msg("Import complete")
	return result, nil
}

// abort records err on the result. Unauthorized errors also flip the
// connection to requires_update.
func (i *Importer) abort(ctx context.Context, conn *models.Connection, result *models.ImportResult, err error) (*models.ImportResult, error) {
	if models.IsUnauthorized(err) {
		conn.Status = models.ConnectionStatusRequiresUpdate
		if saveErr := i.storage.ConnectionStore().Save(ctx, conn); saveErr != nil {
			i.logger.Error().Str("connection", conn.ID).Err(saveErr).Msg("Failed to mark connection requires_update")
		}
		i.logger.Warn().Str("connection", conn.ID).Err(err).Msg("Provider rejected credentials, connection requires update")
	}
	result.Err = err
	return result, err
}

// importAccount creates, refreshes or fully imports one upstream account
// depending on whether it is new and whether it is linked.
func (i *Importer) importAccount(ctx context.Context, conn *models.Connection, acct payload.RawPayload, result *models.ImportResult) error {
	ext := externalAccountID(acct)
	now := i.now()
	store := i.storage.ProviderAccountStore()

	pa, err := store.GetByExternalID(ctx, conn.ID, ext)
	if errors.Is(err, models.ErrNotFound) {
		pa = &models.ProviderAccount{ConnectionID: conn.ID, ExternalID: ext}
		applyAccountMetadata(pa, acct, now)
		err = store.Create(ctx, pa)
		if errors.Is(err, models.ErrDuplicateRecord) {
			// Another run created it first; continue as an existing account.
			pa, err = store.GetByExternalID(ctx, conn.ID, ext)
		} else if err == nil {
			result.AccountsCreated++
			i.logger.Info().
				Str("connection", conn.ID).
				Str("provider_account", pa.ID).
				Str("external_account", ext).
				Msg("New provider account awaiting setup")
			return i.storeAccountSnapshot(ctx, pa, acct.Record(), nil)
		}
	}
	if err != nil {
		return fmt.Errorf("failed to load provider account %s: %w", ext, err)
	}

	applyAccountMetadata(pa, acct, now)

	linked, err := i.linker.IsLinked(ctx, pa)
	if err != nil {
		return err
	}
	if !linked {
		if err := store.Save(ctx, pa); err != nil {
			return fmt.Errorf("failed to save provider account: %w", err)
		}
		return i.storeAccountSnapshot(ctx, pa, acct.Record(), nil)
	}

	imported, err := i.importTransactions(ctx, pa, now, result)
	if err != nil {
		return err
	}
	result.TransactionsImported += imported

	var balances models.RawRecord
	err = i.call(ctx, func(ctx context.Context) error {
		var err error
		balances, err = i.client.GetBalances(ctx, pa.ExternalID)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to get balances: %w", err)
	}
	applyBalances(pa, payload.New(balances, i.profile))
	if err := i.storeAccountSnapshot(ctx, pa, acct.Record(), balances); err != nil {
		return err
	}

	var holdings []models.RawRecord
	err = i.call(ctx, func(ctx context.Context) error {
		var err error
		holdings, err = i.client.GetHoldings(ctx, pa.ExternalID)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to get holdings: %w", err)
	}
	if err := replaceSnapshot(ctx, i.storage.RawPayloadStore(), pa.ID, models.RawKindHoldings, holdings, nil); err != nil {
		return err
	}
	result.HoldingsImported += len(holdings)

	if err := store.Save(ctx, pa); err != nil {
		return fmt.Errorf("failed to save provider account: %w", err)
	}
	result.AccountsUpdated++
	return nil
}

// importTransactions walks the transaction pages since the fetch window
// start and merges the new items into the transactions document. A walk
// that ends without error moves the account's window to started; a failed
// one leaves it so the next run fetches the gap again.
func (i *Importer) importTransactions(ctx context.Context, pa *models.ProviderAccount, started time.Time, result *models.ImportResult) (int, error) {
	since := i.since(pa)
	res, walkErr := pagination.Walk(ctx, i.walker, "transactions:"+pa.ID, func(ctx context.Context, cursor string) (pagination.Page[models.RawRecord], error) {
		var page pagination.Page[models.RawRecord]
		err := i.call(ctx, func(ctx context.Context) error {
			items, next, err := i.client.GetTransactions(ctx, pa.ExternalID, since, cursor)
			page = pagination.Page[models.RawRecord]{Items: items, Next: next}
			return err
		})
		return page, err
	})

	if res.Stopped != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("account %s: transaction history truncated (%v)", pa.ExternalID, res.Stopped))
	}

	// Pages fetched before a failure are still valid provider records.
	added := 0
	if len(res.Items) > 0 {
		n, err := mergeAppend(ctx, i.storage.RawPayloadStore(), pa.ID, models.RawKindTransactions, res.Items, i.profile)
		if err != nil {
			result.TransactionsFailed += len(res.Items)
			return 0, err
		}
		added = n
	}

	if walkErr != nil {
		result.TransactionsImported += added
		return 0, fmt.Errorf("failed to get transactions: %w", walkErr)
	}
	if res.Truncated() {
		result.AccountsTruncated++
	}
	pa.LastImportedAt = started
	return added, nil
}

// since returns the start of the transaction fetch window of pa. An account
// never fully imported reaches back the initial lookback.
func (i *Importer) since(pa *models.ProviderAccount) time.Time {
	if pa.LastImportedAt.IsZero() {
		return i.now().Add(-i.config.GetInitialLookback())
	}
	return pa.LastImportedAt.Add(-i.config.GetOverlapWindow())
}

func (i *Importer) storeAccountSnapshot(ctx context.Context, pa *models.ProviderAccount, account, balances models.RawRecord) error {
	items := []models.RawRecord{account}
	keys := []string{models.RawRoleAccount}
	if balances != nil {
		items = append(items, balances)
		keys = append(keys, models.RawRoleBalances)
	}
	return replaceSnapshot(ctx, i.storage.RawPayloadStore(), pa.ID, models.RawKindAccounts, items, keys)
}

// call runs fn under the per-call timeout.
func (i *Importer) call(ctx context.Context, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, i.config.GetCallTimeout())
	defer cancel()
	return fn(callCtx)
}

func externalAccountID(p payload.RawPayload) string {
	if id := p.AccountID(); id != "" {
		return id
	}
	return p.ID()
}

func applyAccountMetadata(pa *models.ProviderAccount, acct payload.RawPayload, now time.Time) {
	if name := acct.Name(); name != "" {
		pa.Name = name
	}
	if cur := acct.Currency(); cur != "" {
		pa.Currency = cur
	}
	if typ := acct.AccountType(); typ != "" {
		pa.AccountType = typ
	}
	applyBalances(pa, acct)
	pa.LastSeenAt = now
}

func applyBalances(pa *models.ProviderAccount, p payload.RawPayload) {
	if v, ok := p.CurrentBalance(); ok {
		pa.CurrentBalance = v
	}
	if v, ok := p.CashBalance(); ok {
		pa.CashBalance = v
	}
	if cur := p.Currency(); cur != "" && pa.Currency == "" {
		pa.Currency = cur
	}
}
