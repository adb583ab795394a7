package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProviderAccount is one upstream account as reported by a provider,
// independent of whether the user has linked it to a canonical Account.
type ProviderAccount struct {
	ID             string          `json:"id"`
	ConnectionID   string          `json:"connection_id"`
	ExternalID     string          `json:"external_id"`
	Name           string          `json:"name"`
	Currency       string          `json:"currency"`
	AccountType    string          `json:"account_type,omitempty"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	CashBalance    decimal.Decimal `json:"cash_balance"`

	// AccountID is the direct reference to a canonical account. A Link row
	// is the other way an account can be linked.
	AccountID string `json:"account_id,omitempty"`

	Inactive           bool      `json:"inactive"`
	ZeroActivityStreak int       `json:"zero_activity_streak"`
	LastSeenAt         time.Time `json:"last_seen_at"`

	// LastImportedAt is when this account's transactions were last fetched
	// completely. It anchors the next fetch window.
	LastImportedAt time.Time `json:"last_imported_at"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Link associates a ProviderAccount with at most one canonical Account.
// It is a weak reference: removing it detaches holdings, never deletes them.
type Link struct {
	ID                string    `json:"id"`
	ProviderAccountID string    `json:"provider_account_id"`
	AccountID         string    `json:"account_id"`
	CreatedAt         time.Time `json:"created_at"`
}

// DirectLinkID is the link reference holdings carry when their provider
// account is linked through its direct AccountID rather than a Link row.
func DirectLinkID(providerAccountID string) string {
	return "direct:" + providerAccountID
}

// UnlinkResult reports the outcome of unlinking one provider account.
type UnlinkResult struct {
	ProviderAccountID    string `json:"provider_account_id"`
	DetachedHoldingCount int    `json:"detached_holding_count"`
	Err                  error  `json:"-"`
	Error                string `json:"error,omitempty"`
}

// PruneResult reports which provider accounts were removed by pruning and
// which orphans were kept because they are linked.
type PruneResult struct {
	Deleted   []string `json:"deleted"`
	Protected []string `json:"protected"`
}
