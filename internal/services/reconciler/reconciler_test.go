package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/provsync/internal/common"
	"github.com/bobmcallan/provsync/internal/models"
	"github.com/bobmcallan/provsync/internal/services/linker"
	"github.com/bobmcallan/provsync/internal/storage/memory"
)

var today = time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*Reconciler, *memory.Manager, *models.ProviderAccount) {
	t.Helper()
	logger := common.NewSilentLogger()
	store := memory.NewManager(logger)
	ctx := context.Background()
	require.NoError(t, store.AccountStore().Save(ctx, &models.Account{ID: "acc-1", Name: "Brokerage", Currency: "AUD"}))

	pa := &models.ProviderAccount{
		ConnectionID:   "c1",
		ExternalID:     "ext-1",
		AccountID:      "acc-1",
		Currency:       "USD",
		CurrentBalance: decimal.NewFromInt(1000),
		CashBalance:    decimal.NewFromInt(50),
	}
	require.NoError(t, store.ProviderAccountStore().Create(ctx, pa))

	r := New(store, linker.NewService(store, logger), logger, WithClock(func() time.Time { return today }))
	return r, store, pa
}

func holding(sec string, date time.Time, amount int64) *models.Holding {
	return &models.Holding{AccountID: "acc-1", SecurityID: sec, Date: date, Amount: decimal.NewFromInt(amount)}
}

func TestReconcile_HoldingsOverrideStaleProviderTotal(t *testing.T) {
	r, store, pa := setup(t)
	ctx := context.Background()
	require.NoError(t, store.HoldingStore().Upsert(ctx, holding("VTI", today, 400)))
	require.NoError(t, store.HoldingStore().Upsert(ctx, holding("BND", today, 200)))
	// Yesterday's holding must not count
	require.NoError(t, store.HoldingStore().Upsert(ctx, holding("OLD", today.AddDate(0, 0, -1), 9999)))

	require.NoError(t, r.Reconcile(ctx, pa))

	acc, err := store.AccountStore().Get(ctx, "acc-1")
	require.NoError(t, err)
	assert.True(t, acc.Balance.Equal(decimal.NewFromInt(650)), "got %s", acc.Balance)
	assert.True(t, acc.CashBalance.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, "USD", acc.Currency)

	vals, err := store.ValuationStore().ListByAccount(ctx, "acc-1")
	require.NoError(t, err)
	require.Len(t, vals, 1)
	assert.Equal(t, models.ValuationKindCurrentAnchor, vals[0].Kind)
	assert.Equal(t, models.DateOnly(today), vals[0].Date)
	assert.True(t, vals[0].Amount.Equal(decimal.NewFromInt(650)))
}

func TestReconcile_FallsBackToProviderTotal(t *testing.T) {
	r, store, pa := setup(t)
	ctx := context.Background()

	require.NoError(t, r.Reconcile(ctx, pa))

	acc, err := store.AccountStore().Get(ctx, "acc-1")
	require.NoError(t, err)
	assert.True(t, acc.Balance.Equal(decimal.NewFromInt(1000)))
}

func TestReconcile_AnchorIsUpsertedPerDay(t *testing.T) {
	r, store, pa := setup(t)
	ctx := context.Background()

	require.NoError(t, r.Reconcile(ctx, pa))
	pa.CurrentBalance = decimal.NewFromInt(1100)
	require.NoError(t, r.Reconcile(ctx, pa))

	vals, err := store.ValuationStore().ListByAccount(ctx, "acc-1")
	require.NoError(t, err)
	require.Len(t, vals, 1)
	assert.True(t, vals[0].Amount.Equal(decimal.NewFromInt(1100)))
}

func TestReconcile_UnlinkedAccountIsNoop(t *testing.T) {
	r, store, _ := setup(t)
	pa := &models.ProviderAccount{ConnectionID: "c1", ExternalID: "ext-2", CurrentBalance: decimal.NewFromInt(5)}
	require.NoError(t, store.ProviderAccountStore().Create(context.Background(), pa))

	require.NoError(t, r.Reconcile(context.Background(), pa))

	vals, _ := store.ValuationStore().ListByAccount(context.Background(), "acc-1")
	assert.Empty(t, vals)
}
