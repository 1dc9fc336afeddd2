package domain

import "errors"

var (
	// ErrConnectionNotFound is returned when a user has no active provider connection.
	ErrConnectionNotFound = errors.New("active device connection not found")
	// ErrReconnectRequired signals the provider rejected the stored credentials.
	ErrReconnectRequired = errors.New("device connection expired, reconnect required")
	// ErrSyncFailed wraps non-auth provider or transport failures during a pull.
	ErrSyncFailed = errors.New("device sync failed")
	// ErrMalformedPayload marks a provider item that cannot be ingested.
	ErrMalformedPayload = errors.New("malformed provider payload")
	// ErrNotIngested is returned by targeted edits for activities never mirrored.
	ErrNotIngested = errors.New("device activity not ingested")
	// ErrDeviceActivityNotFound is returned when a mirror row cannot be located.
	ErrDeviceActivityNotFound = errors.New("device activity not found")
	// ErrInvalidRange is returned when a pull sync range ends before it starts.
	ErrInvalidRange = errors.New("invalid sync range")
	// ErrRouteNotFound means no map data exists for the activity. It is not a failure.
	ErrRouteNotFound = errors.New("no route available")
)
