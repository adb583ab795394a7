// Package reconciler recomputes canonical account balances after processing.
package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bobmcallan/provsync/internal/common"
	"github.com/bobmcallan/provsync/internal/interfaces"
	"github.com/bobmcallan/provsync/internal/models"
)

// Compile-time interface check
var _ interfaces.Reconciler = (*Reconciler)(nil)

// Reconciler implements interfaces.Reconciler
type Reconciler struct {
	storage interfaces.StorageManager
	linker  interfaces.AccountLinker
	logger  *common.Logger
	now     func() time.Time
}

// Option configures a Reconciler
type Option func(*Reconciler)

// WithClock overrides the time source that sets the reconciliation date.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		r.now = now
	}
}

// New creates a reconciler
func New(storage interfaces.StorageManager, linker interfaces.AccountLinker, logger *common.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{storage: storage, linker: linker, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile writes the balance of pa's canonical account and records
// today's current-balance anchor. With at least one holding dated today the
// balance is the holdings total plus reported cash; otherwise it is the
// provider-reported total.
func (r *Reconciler) Reconcile(ctx context.Context, pa *models.ProviderAccount) error {
	accountID, err := r.linker.ResolveAccountID(ctx, pa)
	if err != nil {
		return err
	}
	if accountID == "" {
		return nil
	}

	account, err := r.storage.AccountStore().Get(ctx, accountID)
	if err != nil {
		return fmt.Errorf("failed to get account %s: %w", accountID, err)
	}

	today := models.DateOnly(r.now())
	holdings, err := r.storage.HoldingStore().ListByAccountDate(ctx, accountID, today)
	if err != nil {
		return fmt.Errorf("failed to list holdings for %s: %w", accountID, err)
	}

	cash := pa.CashBalance
	balance := pa.CurrentBalance
	source := "provider"
	if len(holdings) > 0 {
		total := decimal.Zero
		for _, h := range holdings {
			total = total.Add(h.Amount)
		}
		balance = total.Add(cash)
		source = "holdings"
	}

	currency := pa.Currency
	if currency == "" {
		currency = account.Currency
	}

	account.Balance = balance
	account.CashBalance = cash
	account.Currency = currency
	if err := r.storage.AccountStore().Save(ctx, account); err != nil {
		return fmt.Errorf("failed to save account %s: %w", accountID, err)
	}

	anchor := &models.Valuation{
		AccountID:  accountID,
		Date:       today,
		Kind:       models.ValuationKindCurrentAnchor,
		Amount:     balance,
		CashAmount: cash,
		Currency:   currency,
	}
	if err := r.storage.ValuationStore().Upsert(ctx, anchor); err != nil {
		return fmt.Errorf("failed to record balance anchor for %s: %w", accountID, err)
	}

	r.logger.Debug().
		Str("account", accountID).
		Str("balance", balance.String()).
		Str("cash", cash.String()).
		Str("source", source).
		Int("holdings", len(holdings)).
		Msg("Account reconciled")
	return nil
}
