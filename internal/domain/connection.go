package domain

import "time"

// ProviderDevice is the only provider the sync engine talks to today.
const ProviderDevice = "device"

// Connection links a user to the device provider. At most one active connection
// exists per (UserID, Provider); deactivation keeps the row and its history.
type Connection struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID *string
	AccessToken    string
	TokenSecret    string
	IsActive       bool
	ConnectedAt    time.Time
	LastSyncAt     *time.Time
}
