// Package domain defines the device-sync data model and the persistence contracts
// the ingestion paths depend on.
package domain

import (
	"context"
	"time"
)

// ConnectionStore persists per-user provider credentials and connection lifecycle.
type ConnectionStore interface {
	GetActiveConnection(ctx context.Context, userID string) (*Connection, error)
	FindActiveByToken(ctx context.Context, accessToken string) (*Connection, error)
	DeactivateConnection(ctx context.Context, userID string) error
	UpdateLastSync(ctx context.Context, userID string, at time.Time) error
	SetProviderUserID(ctx context.Context, userID, providerUserID string) error
	PurgeConnection(ctx context.Context, userID string) error
	// UpsertConnection stores fresh credentials from a completed OAuth handshake as the
	// user's active connection, deactivating any previous one.
	UpsertConnection(ctx context.Context, conn Connection) (*Connection, error)
}

// OutboxEvent is a domain event recorded in the same transaction as the change it describes.
type OutboxEvent struct {
	Type         string
	AggregateID  string
	PartitionKey string
	Payload      any
}

// ActivityTx is the set of writes performed while reconciling one provider activity.
// Implementations run every call inside one transaction.
type ActivityTx interface {
	// ClaimDeviceActivity inserts an empty mirror for the dedup key when absent and
	// returns the row locked for the rest of the transaction. claimed reports whether
	// this call inserted it.
	ClaimDeviceActivity(ctx context.Context, userID, externalID string) (activity *DeviceActivity, claimed bool, err error)
	// FindDeviceActivityForUpdate locks an existing mirror; it returns nil when absent.
	FindDeviceActivityForUpdate(ctx context.Context, userID, externalID string) (*DeviceActivity, error)
	UpsertDeviceActivity(ctx context.Context, activity DeviceActivity) (string, error)

	CreateCardioLog(ctx context.Context, log CardioLog) (string, error)
	UpdateCardioLog(ctx context.Context, id string, patch LogPatch) error
	CreateStrengthLog(ctx context.Context, log StrengthLog) (string, error)
	UpdateStrengthLog(ctx context.Context, id string, patch LogPatch) error
	IncrementAggregateStats(ctx context.Context, userID string, xp, workouts, minutes int) error

	RecordEvent(ctx context.Context, event OutboxEvent) error
}

// ActivityStore opens reconciliation transactions.
type ActivityStore interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx ActivityTx) error) error
}

// DeviceActivityReader serves the read side of the mirror and the route cache.
type DeviceActivityReader interface {
	GetDeviceActivity(ctx context.Context, userID, externalID string) (*DeviceActivity, error)
	ListDeviceActivities(ctx context.Context, userID string, cursor *Cursor, limit int) ([]DeviceActivity, *Cursor, error)
	SaveRouteCache(ctx context.Context, deviceActivityID string, route Route) error
	GetOrInitAggregateStats(ctx context.Context, userID string) (*AggregateStats, error)
}
