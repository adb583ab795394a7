package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Cost basis sources
const (
	CostBasisSourceProvider = "provider"
	CostBasisSourceManual   = "manual"
)

// Holding is a dated position for one security in one account.
type Holding struct {
	ID         string          `json:"id"` // account|security|date
	AccountID  string          `json:"account_id"`
	SecurityID string          `json:"security_id"`
	Date       time.Time       `json:"date"`
	Qty        decimal.Decimal `json:"qty"`
	Price      decimal.Decimal `json:"price"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`

	// CostBasis is nil when unknown. A manual cost basis is owned by the user.
	CostBasis       *decimal.Decimal `json:"cost_basis,omitempty"`
	CostBasisSource string           `json:"cost_basis_source,omitempty"`

	// LinkID names the Link the holding was imported through. Empty once
	// the link is removed.
	LinkID    string    `json:"link_id,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HoldingID returns the natural key of a holding.
func HoldingID(accountID, securityID string, date time.Time) string {
	return accountID + "|" + securityID + "|" + DateKey(date)
}

// HasManualCostBasis reports whether the user set the cost basis.
func (h *Holding) HasManualCostBasis() bool {
	return h.CostBasisSource == CostBasisSourceManual
}
