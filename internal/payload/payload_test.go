package payload

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/provsync/internal/models"
)

func decode(t *testing.T, s string) models.RawRecord {
	t.Helper()
	var rec models.RawRecord
	require.NoError(t, json.Unmarshal([]byte(s), &rec))
	return rec
}

func TestRawPayload_PathPriority(t *testing.T) {
	rec := decode(t, `{
		"id": "h-1",
		"symbol": {"symbol": {"symbol": "AAPL", "description": "Apple Inc"}},
		"units": "10",
		"price": 187.5
	}`)
	p := New(rec, BrokerageProfile)

	assert.Equal(t, "h-1", p.ID())
	assert.Equal(t, "AAPL", p.Symbol())
	assert.Equal(t, "Apple Inc", p.SecurityName())

	qty, ok := p.Quantity()
	require.True(t, ok)
	assert.Equal(t, "10", qty.String())

	price, ok := p.Price()
	require.True(t, ok)
	assert.Equal(t, "187.5", price.String())
}

func TestRawPayload_SkipsUnparseablePaths(t *testing.T) {
	// "amount" is an object for crypto providers; the native amount wins.
	rec := decode(t, `{
		"amount": {"amount": "0.5", "currency": "BTC"},
		"native_amount": {"amount": "-15000.00", "currency": "usd"}
	}`)
	p := New(rec, CryptoProfile)

	amt, ok := p.Amount()
	require.True(t, ok)
	assert.Equal(t, "-15000", amt.String())

	qty, ok := p.Quantity()
	require.True(t, ok)
	assert.Equal(t, "0.5", qty.String())

	assert.Equal(t, "BTC", p.Symbol())
	assert.Equal(t, "USD", p.Currency())
}

func TestRawPayload_Dates(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want time.Time
	}{
		{"date only", `{"date": "2024-03-01"}`, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"rfc3339", `{"date": "2024-03-01T10:30:00+02:00"}`, time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC)},
		{"unix seconds", `{"date": 1709287200}`, time.Unix(1709287200, 0).UTC()},
		{"unix millis", `{"date": 1709287200000}`, time.UnixMilli(1709287200000).UTC()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := New(decode(t, tt.raw), DefaultProfile).Date()
			require.True(t, ok)
			assert.True(t, tt.want.Equal(got), "got %v want %v", got, tt.want)
		})
	}
}

func TestRawPayload_MissingFields(t *testing.T) {
	p := New(models.RawRecord{"name": "Checking"}, BankingProfile)

	_, ok := p.Amount()
	assert.False(t, ok)
	_, ok = p.Date()
	assert.False(t, ok)
	assert.Empty(t, p.ID())
	assert.Equal(t, "Checking", p.Name())
}

func TestRawPayload_ArrayIndexAndCommaNumbers(t *testing.T) {
	profile := DefaultProfile.With("custom", map[Field][]string{
		FieldSymbol:         {"securities.0.ticker"},
		FieldCurrentBalance: {"totals.balance"},
	})
	rec := decode(t, `{"securities": [{"ticker": "VTI"}], "totals": {"balance": "1,234.50"}}`)
	p := New(rec, profile)

	assert.Equal(t, "VTI", p.Symbol())
	bal, ok := p.CurrentBalance()
	require.True(t, ok)
	assert.Equal(t, "1234.5", bal.String())
}

func TestProfile_WithDoesNotMutateParent(t *testing.T) {
	before := len(DefaultProfile.Paths[FieldSymbol])
	_ = DefaultProfile.With("x", map[Field][]string{FieldSymbol: {"code"}})
	assert.Len(t, DefaultProfile.Paths[FieldSymbol], before)
}

func TestRawPayload_BankingBalances(t *testing.T) {
	rec := decode(t, `{"account_id": "acc-1", "name": "Checking", "balances": {"current": 1000, "available": 950, "iso_currency_code": "usd"}}`)
	p := New(rec, BankingProfile)

	cur, ok := p.CurrentBalance()
	require.True(t, ok)
	assert.Equal(t, "1000", cur.String())
	cash, ok := p.CashBalance()
	require.True(t, ok)
	assert.Equal(t, "950", cash.String())
	assert.Equal(t, "USD", p.Currency())
	assert.Equal(t, "acc-1", p.AccountID())
}
