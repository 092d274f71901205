package auth

// Known OAuth scopes used by the sync API.
const (
	ScopeSyncWrite = "sync:write"
	ScopeSyncRead  = "sync:read"
)
