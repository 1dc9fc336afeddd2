package auth

// Scopes understood by the device sync API.
const (
	ScopeDeviceSync = "device:sync"
	ScopeDeviceRead = "device:read"
)
