package models

import "time"

// Security kinds
const (
	SecurityKindStock  = "stock"
	SecurityKindCrypto = "crypto"
	SecurityKindFund   = "fund"
	SecurityKindOther  = "other"
)

// CryptoPrefix namespaces crypto tickers so they never collide with stocks.
const CryptoPrefix = "CRYPTO:"

// Security is a financial instrument keyed by its namespaced ticker.
type Security struct {
	ID        string    `json:"id"` // namespaced ticker
	Ticker    string    `json:"ticker"`
	Name      string    `json:"name"`
	Kind      string    `json:"kind"`
	Exchange  string    `json:"exchange,omitempty"`
	Currency  string    `json:"currency,omitempty"`
	Offline   bool      `json:"offline"` // created without external resolution
	CreatedAt time.Time `json:"created_at"`
}
