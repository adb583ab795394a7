package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Entry kinds
const (
	EntryKindTrade       = "trade"
	EntryKindTransaction = "transaction"
)

// ActivityLabel is the closed set of activity classifications an entry can carry.
type ActivityLabel string

const (
	LabelBuy            ActivityLabel = "Buy"
	LabelSell           ActivityLabel = "Sell"
	LabelReinvestment   ActivityLabel = "Reinvestment"
	LabelOptionExercise ActivityLabel = "Exercise"
	LabelDividend       ActivityLabel = "Dividend"
	LabelInterest       ActivityLabel = "Interest"
	LabelFee            ActivityLabel = "Fee"
	LabelTax            ActivityLabel = "Tax"
	LabelTransfer       ActivityLabel = "Transfer"
	LabelContribution   ActivityLabel = "Contribution"
	LabelWithdrawal     ActivityLabel = "Withdrawal"
	LabelDeposit        ActivityLabel = "Deposit"
	LabelOther          ActivityLabel = "Other"
)

// IsTradeLike reports whether the label produces a Trade rather than a cash Transaction.
func (l ActivityLabel) IsTradeLike() bool {
	switch l {
	case LabelBuy, LabelSell, LabelReinvestment, LabelOptionExercise:
		return true
	}
	return false
}

// IsSellSide reports whether the trade reduces the position.
func (l ActivityLabel) IsSellSide() bool {
	return l == LabelSell
}

// CashDirection returns -1 for outflows, +1 for inflows and 0 when the
// provider's own sign should be kept.
func (l ActivityLabel) CashDirection() int {
	switch l {
	case LabelFee, LabelTax, LabelWithdrawal, LabelBuy, LabelReinvestment, LabelOptionExercise:
		return -1
	case LabelDividend, LabelInterest, LabelContribution, LabelDeposit, LabelSell:
		return 1
	default:
		return 0
	}
}

// Entry is a signed ledger row on a canonical account: either a Trade or a
// cash Transaction. Provider-sourced entries carry an ExternalID unique per account.
type Entry struct {
	ID          string          `json:"id"`
	AccountID   string          `json:"account_id"`
	ExternalID  string          `json:"external_id"`
	Kind        string          `json:"kind"` // "trade", "transaction"
	Date        time.Time       `json:"date"`
	Name        string          `json:"name"`
	Amount      decimal.Decimal `json:"amount"` // cash-flow signed: outflows negative
	Currency    string          `json:"currency"`
	Label       ActivityLabel   `json:"label,omitempty"`
	Source      string          `json:"source,omitempty"`
	Trade       *Trade          `json:"trade,omitempty"`
	Transaction *Transaction    `json:"transaction,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Trade is the securities sub-record of a trade entry.
type Trade struct {
	SecurityID string          `json:"security_id"`
	Qty        decimal.Decimal `json:"qty"` // negative for sell-side trades
	Price      decimal.Decimal `json:"price"`
	Fee        decimal.Decimal `json:"fee"`
	Currency   string          `json:"currency"`
}

// Transaction is the cash sub-record of a transaction entry.
type Transaction struct {
	Category     string `json:"category,omitempty"`
	ProviderType string `json:"provider_type,omitempty"` // raw type string as reported
	Pending      bool   `json:"pending"`
}

// EntryID returns the natural key of a provider-sourced entry.
func EntryID(accountID, externalID string) string {
	return accountID + "|" + externalID
}
