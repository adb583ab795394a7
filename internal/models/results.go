package models

// ImportResult summarises one importer pass over a connection.
type ImportResult struct {
	AccountsCreated      int      `json:"accounts_created"`
	AccountsUpdated      int      `json:"accounts_updated"`
	AccountsFailed       int      `json:"accounts_failed"`
	AccountsPruned       int      `json:"accounts_pruned"`
	AccountsProtected    int      `json:"accounts_protected"`
	TransactionsImported int      `json:"transactions_imported"`
	TransactionsFailed   int      `json:"transactions_failed"`
	HoldingsImported     int      `json:"holdings_imported"`
	AccountsTruncated    int      `json:"accounts_truncated"`
	Warnings             []string `json:"warnings,omitempty"`
	Errors               []string `json:"errors,omitempty"`

	// Err is set when the import aborted; counts above still describe the
	// work finished before the abort.
	Err error `json:"-"`
}

// Stats renders the result as SyncRun statistics.
func (r *ImportResult) Stats() map[string]any {
	stats := map[string]any{
		"accounts_created":       r.AccountsCreated,
		"accounts_updated":       r.AccountsUpdated,
		"import_accounts_failed": r.AccountsFailed,
		"accounts_pruned":        r.AccountsPruned,
		"accounts_protected":     r.AccountsProtected,
		"transactions_imported":  r.TransactionsImported,
		"transactions_failed":    r.TransactionsFailed,
		"holdings_imported":      r.HoldingsImported,
		"accounts_truncated":     r.AccountsTruncated,
	}
	if len(r.Warnings) > 0 {
		stats["warnings"] = r.Warnings
	}
	if len(r.Errors) > 0 {
		stats["errors"] = r.Errors
	}
	return stats
}

// ActivityResult summarises one activity-processing pass over a provider account.
type ActivityResult struct {
	TradesCreated       int      `json:"trades_created"`
	TransactionsCreated int      `json:"transactions_created"`
	Backfilled          int      `json:"backfilled"`
	Duplicates          int      `json:"duplicates"`
	Skipped             int      `json:"skipped"`
	ContentKeyed        int      `json:"content_keyed"` // created entries keyed by content hash, no provider id
	Unmapped            []string `json:"unmapped,omitempty"`
}

// Created returns the number of new entries.
func (r *ActivityResult) Created() int {
	return r.TradesCreated + r.TransactionsCreated
}

// HoldingsResult summarises one holdings-processing pass over a provider account.
type HoldingsResult struct {
	Upserted           int `json:"upserted"`
	Skipped            int `json:"skipped"`
	CostBasisPreserved int `json:"cost_basis_preserved"`
}

// DisconnectResult reports what disconnecting a connection unlinked and
// removed. Removed is false when any account failed to unlink; the
// connection then stays disconnected until the disconnect is repeated.
type DisconnectResult struct {
	ConnectionID            string         `json:"connection_id"`
	DryRun                  bool           `json:"dry_run"`
	Results                 []UnlinkResult `json:"results"`
	Removed                 bool           `json:"removed"`
	ProviderAccountsRemoved int            `json:"provider_accounts_removed"`
}
