package security

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/provsync/internal/common"
	"github.com/bobmcallan/provsync/internal/models"
	"github.com/bobmcallan/provsync/internal/storage/memory"
)

type fakeResolver struct {
	known map[string]*models.Security
	err   error
	calls int
}

func (f *fakeResolver) ResolveSecurity(_ context.Context, ticker string) (*models.Security, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if sec, ok := f.known[ticker]; ok {
		return sec, nil
	}
	return nil, models.ErrNotFound
}

func TestNamespacedTicker(t *testing.T) {
	tests := []struct {
		identifier, kind, want string
	}{
		{"aapl", models.SecurityKindStock, "AAPL"},
		{" btc ", models.SecurityKindCrypto, "CRYPTO:BTC"},
		{"CRYPTO:ETH", models.SecurityKindCrypto, "CRYPTO:ETH"},
		{"", models.SecurityKindStock, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NamespacedTicker(tt.identifier, tt.kind), "%q/%s", tt.identifier, tt.kind)
	}
}

func TestFindOrCreate_ResolvesThenCaches(t *testing.T) {
	store := memory.NewManager(common.NewSilentLogger())
	resolver := &fakeResolver{known: map[string]*models.Security{
		"AAPL": {Name: "Apple Inc", Exchange: "XNAS", Currency: "USD"},
	}}
	svc := NewService(store, resolver, time.Second, common.NewSilentLogger())
	ctx := context.Background()

	sec, err := svc.FindOrCreate(ctx, "aapl", "")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", sec.ID)
	assert.Equal(t, "Apple Inc", sec.Name)
	assert.Equal(t, models.SecurityKindStock, sec.Kind)
	assert.False(t, sec.Offline)

	again, err := svc.FindOrCreate(ctx, "AAPL", models.SecurityKindStock)
	require.NoError(t, err)
	assert.Equal(t, sec.ID, again.ID)
	assert.Equal(t, 1, resolver.calls, "stored security must not be resolved again")
}

func TestFindOrCreate_OfflineFallback(t *testing.T) {
	store := memory.NewManager(common.NewSilentLogger())
	ctx := context.Background()

	failing := NewService(store, &fakeResolver{err: errors.New("resolver down")}, time.Second, common.NewSilentLogger())
	sec, err := failing.FindOrCreate(ctx, "btc", models.SecurityKindCrypto)
	require.NoError(t, err)
	assert.Equal(t, "CRYPTO:BTC", sec.ID)
	assert.Equal(t, "BTC", sec.Ticker)
	assert.True(t, sec.Offline)

	noResolver := NewService(store, nil, 0, common.NewSilentLogger())
	sec, err = noResolver.FindOrCreate(ctx, "XYZ", models.SecurityKindStock)
	require.NoError(t, err)
	assert.True(t, sec.Offline)
}

func TestFindOrCreate_CryptoDoesNotCollideWithStock(t *testing.T) {
	store := memory.NewManager(common.NewSilentLogger())
	svc := NewService(store, nil, 0, common.NewSilentLogger())
	ctx := context.Background()

	stock, err := svc.FindOrCreate(ctx, "SOL", models.SecurityKindStock)
	require.NoError(t, err)
	coin, err := svc.FindOrCreate(ctx, "SOL", models.SecurityKindCrypto)
	require.NoError(t, err)
	assert.NotEqual(t, stock.ID, coin.ID)
}

func TestFindOrCreate_EmptyIdentifier(t *testing.T) {
	svc := NewService(memory.NewManager(common.NewSilentLogger()), nil, 0, common.NewSilentLogger())
	_, err := svc.FindOrCreate(context.Background(), "  ", models.SecurityKindStock)
	assert.Error(t, err)
}
