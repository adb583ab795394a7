package models

import "time"

// Connection status values
const (
	ConnectionStatusActive         = "active"
	ConnectionStatusRequiresUpdate = "requires_update"
	ConnectionStatusDisconnected   = "disconnected" // set while a disconnect removes the connection
)

// Connection is one external credential/session at a provider. It owns the
// family of ProviderAccounts the provider reports for that session.
type Connection struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	Provider       string    `json:"provider"` // key into the [providers] config section
	Status         string    `json:"status"`   // "active", "requires_update", "disconnected"
	PendingSetup   bool      `json:"pending_setup"`
	CredentialsRef string    `json:"credentials_ref,omitempty"` // opaque, resolved by the client factory
	LastSyncedAt   time.Time `json:"last_synced_at"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// IsActive reports whether the connection can be synced without user action.
func (c *Connection) IsActive() bool {
	return c.Status == "" || c.Status == ConnectionStatusActive
}

// IsDisconnected reports whether a disconnect has started on the connection.
func (c *Connection) IsDisconnected() bool {
	return c.Status == ConnectionStatusDisconnected
}
