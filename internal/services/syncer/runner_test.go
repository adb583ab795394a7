package syncer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/provsync/internal/common"
	"github.com/bobmcallan/provsync/internal/interfaces"
	"github.com/bobmcallan/provsync/internal/models"
	"github.com/bobmcallan/provsync/internal/services/linker"
	"github.com/bobmcallan/provsync/internal/storage/memory"
)

// staticClient serves the same upstream data on every call.
type staticClient struct {
	accounts     []models.RawRecord
	transactions []models.RawRecord
	balances     models.RawRecord
	holdings     []models.RawRecord
}

func (c *staticClient) ListAccounts(context.Context) ([]models.RawRecord, error) {
	return c.accounts, nil
}

func (c *staticClient) GetBalances(context.Context, string) (models.RawRecord, error) {
	return c.balances, nil
}

func (c *staticClient) GetTransactions(context.Context, string, time.Time, string) ([]models.RawRecord, string, error) {
	return c.transactions, "", nil
}

func (c *staticClient) GetHoldings(context.Context, string) ([]models.RawRecord, error) {
	return c.holdings, nil
}

type staticFactory struct {
	client interfaces.ProviderClient
}

func (f staticFactory) ClientFor(context.Context, *models.Connection) (interfaces.ProviderClient, error) {
	return f.client, nil
}

func TestRunner_ResyncCreatesNoNewRows(t *testing.T) {
	logger := common.NewSilentLogger()
	store := memory.NewManager(logger)
	ctx := context.Background()

	cfg := common.NewDefaultConfig()
	cfg.Providers["broker"] = common.ProviderConfig{Kind: "brokerage"}

	conn := &models.Connection{ID: "c1", Provider: "broker", Status: models.ConnectionStatusActive}
	require.NoError(t, store.ConnectionStore().Save(ctx, conn))
	require.NoError(t, store.AccountStore().Save(ctx, &models.Account{ID: "acc-1", Name: "Brokerage", Currency: "USD"}))

	today := time.Now().UTC().Format("2006-01-02")
	client := &staticClient{
		accounts: []models.RawRecord{{"id": "ext-1", "name": "Brokerage", "currency": "usd"}},
		transactions: []models.RawRecord{
			{"id": "t1", "type": "BUY", "date": today, "symbol": "VTI", "quantity": 2, "price": 300},
			{"id": "t2", "type": "SELL", "date": today, "symbol": "VTI", "quantity": 10, "price": 5},
			{"type": "fee", "date": today, "amount": 3, "description": "platform fee"},
		},
		balances: models.RawRecord{"current_balance": 650, "cash_balance": 50},
		holdings: []models.RawRecord{{"symbol": "VTI", "quantity": 2, "price": 300}},
	}
	runner := NewRunner(store, staticFactory{client: client}, nil, cfg, logger)

	// First sync finds the account and leaves it awaiting setup.
	run, err := runner.SyncConnection(ctx, conn.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncPhaseDone, run.Phase)

	pa, err := store.ProviderAccountStore().GetByExternalID(ctx, conn.ID, "ext-1")
	require.NoError(t, err)
	_, err = linker.NewService(store, logger).Link(ctx, pa, "acc-1")
	require.NoError(t, err)

	run, err = runner.SyncConnection(ctx, conn.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, run.Stats["trades_created"])
	assert.Equal(t, 1, run.Stats["transactions_created"])
	assert.Equal(t, 1, run.Stats["entries_content_keyed"], "the fee has no provider id")

	entries, err := store.EntryStore().ListByAccount(ctx, "acc-1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	holdings, err := store.HoldingStore().ListByAccountDate(ctx, "acc-1", models.DateOnly(time.Now()))
	require.NoError(t, err)
	require.Len(t, holdings, 1)

	account, err := store.AccountStore().Get(ctx, "acc-1")
	require.NoError(t, err)
	assert.True(t, account.Balance.Equal(holdings[0].Amount.Add(account.CashBalance)), "balance %s", account.Balance)

	// Unchanged upstream: no new entries or holdings
	run, err = runner.SyncConnection(ctx, conn.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 0, run.Stats["trades_created"])
	assert.EqualValues(t, 0, run.Stats["transactions_created"])

	again, err := store.EntryStore().ListByAccount(ctx, "acc-1")
	require.NoError(t, err)
	assert.Len(t, again, 3)
	holdings, err = store.HoldingStore().ListByAccountDate(ctx, "acc-1", models.DateOnly(time.Now()))
	require.NoError(t, err)
	assert.Len(t, holdings, 1)

	var sell *models.Entry
	for _, e := range again {
		if e.Label == models.LabelSell {
			sell = e
		}
	}
	require.NotNil(t, sell)
	assert.Equal(t, "-10", sell.Trade.Qty.String())
}

func TestRunner_ClaimIsExclusivePerConnection(t *testing.T) {
	logger := common.NewSilentLogger()
	store := memory.NewManager(logger)
	runner := NewRunner(store, staticFactory{client: &staticClient{}}, nil, common.NewDefaultConfig(), logger)

	release, ok := runner.Claim("c1")
	require.True(t, ok)

	_, ok = runner.Claim("c1")
	assert.False(t, ok, "second claim on c1 must fail")

	other, ok := runner.Claim("c2")
	require.True(t, ok, "other connections are independent")
	other()

	_, err := runner.SyncConnection(context.Background(), "c1")
	assert.ErrorIs(t, err, models.ErrSyncInProgress)

	release()
	release() // idempotent
	again, ok := runner.Claim("c1")
	require.True(t, ok)
	again()
}
