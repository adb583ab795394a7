package models

import "time"

// Raw document kinds. A ProviderAccount owns one document of each of the
// first three kinds; a Connection owns one connection_accounts document.
const (
	RawKindAccounts           = "accounts"
	RawKindTransactions       = "transactions"
	RawKindHoldings           = "holdings"
	RawKindConnectionAccounts = "connection_accounts"
)

// RawRecord is one provider item as fetched, decoded from JSON.
type RawRecord map[string]any

// RawDocument is the last-known provider snapshot of one kind for one owner.
// Version increments on every write and guards read-merge-write cycles.
type RawDocument struct {
	OwnerID   string      `json:"owner_id"`
	Kind      string      `json:"kind"`
	Version   int         `json:"version"`
	Keys      []string    `json:"keys,omitempty"` // per item: dedup key for merged kinds, role for snapshots
	Items     []RawRecord `json:"items"`
	FetchedAt time.Time   `json:"fetched_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Item roles in a provider account's accounts snapshot
const (
	RawRoleAccount  = "account"
	RawRoleBalances = "balances"
)

// Item returns the snapshot item with the given role, nil when absent.
func (d *RawDocument) Item(role string) RawRecord {
	for i, k := range d.Keys {
		if k == role && i < len(d.Items) {
			return d.Items[i]
		}
	}
	return nil
}

// RawDocumentID returns the storage key of an owner's document of a kind.
func RawDocumentID(ownerID, kind string) string {
	return ownerID + "|" + kind
}
