package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bobmcallan/provsync/internal/models"
	"github.com/bobmcallan/provsync/internal/payload"
)

func key(rec models.RawRecord) string {
	return Key(payload.New(rec, payload.DefaultProfile))
}

func TestKey_PrefersProviderID(t *testing.T) {
	k := key(models.RawRecord{"id": "tx-42", "amount": 10, "date": "2024-01-02"})
	assert.Equal(t, "id:tx-42", k)
	assert.False(t, IsContentHash(k))
}

func TestKey_ContentHashIsStructural(t *testing.T) {
	a := models.RawRecord{"date": "2024-01-02", "type": "BUY", "amount": "100.00", "quantity": 5, "symbol": "vti", "currency": "usd"}
	b := models.RawRecord{"date": "2024-01-02T00:00:00Z", "type": " buy ", "amount": 100, "quantity": "5.0", "symbol": "VTI", "currency": "USD"}

	ka, kb := key(a), key(b)
	assert.True(t, IsContentHash(ka))
	assert.Equal(t, ka, kb)
}

func TestKey_IgnoresLiveFields(t *testing.T) {
	base := models.RawRecord{"date": "2024-01-02", "type": "BUY", "amount": 100, "symbol": "VTI"}
	live := models.RawRecord{"date": "2024-01-02", "type": "BUY", "amount": 100, "symbol": "VTI",
		"unrealized_pnl": 12.5, "market_value": 112.5, "status": "settled", "balance": 9000}

	assert.Equal(t, key(base), key(live))
}

func TestKey_StableFieldChangeChangesKey(t *testing.T) {
	tests := []struct {
		name  string
		field string
		value any
	}{
		{"date", "date", "2024-01-03"},
		{"type", "type", "SELL"},
		{"amount", "amount", 101},
		{"quantity", "quantity", 6},
		{"symbol", "symbol", "VOO"},
		{"currency", "currency", "EUR"},
	}
	base := models.RawRecord{"date": "2024-01-02", "type": "BUY", "amount": 100, "quantity": 5, "symbol": "VTI", "currency": "USD"}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			changed := models.RawRecord{}
			for k, v := range base {
				changed[k] = v
			}
			changed[tt.field] = tt.value
			assert.NotEqual(t, key(base), key(changed))
		})
	}
}

func TestExistingKeys(t *testing.T) {
	items := []models.RawRecord{{"id": "a"}, {"id": "b"}}

	stored := &models.RawDocument{Items: items, Keys: []string{"id:a", "id:b"}}
	set := ExistingKeys(stored, payload.DefaultProfile)
	assert.True(t, set.Has("id:a"))
	assert.True(t, set.Has("id:b"))

	legacy := &models.RawDocument{Items: items}
	set = ExistingKeys(legacy, payload.DefaultProfile)
	assert.Len(t, set, 2)
	assert.True(t, set.Has("id:b"))

	assert.Empty(t, ExistingKeys(nil, payload.DefaultProfile))
}
