package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is the user-facing canonical account. The engine only reads and
// writes its balance fields and appends entries to it.
type Account struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	Name        string          `json:"name"`
	Currency    string          `json:"currency"`
	Balance     decimal.Decimal `json:"balance"`
	CashBalance decimal.Decimal `json:"cash_balance"`
	Inactive    bool            `json:"inactive"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Valuation kinds
const (
	ValuationKindCurrentAnchor = "current_anchor"
)

// Valuation is a dated balance fact for an account. The current anchor is
// written by the reconciler and consumed by balance-history computation.
type Valuation struct {
	ID         string          `json:"id"`
	AccountID  string          `json:"account_id"`
	Date       time.Time       `json:"date"`
	Kind       string          `json:"kind"`
	Amount     decimal.Decimal `json:"amount"`
	CashAmount decimal.Decimal `json:"cash_amount"`
	Currency   string          `json:"currency"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// ValuationID returns the natural key of a valuation.
func ValuationID(accountID string, date time.Time, kind string) string {
	return accountID + "|" + DateKey(date) + "|" + kind
}

// DateOnly truncates t to midnight UTC.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DateKey formats t as YYYY-MM-DD in UTC.
func DateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
