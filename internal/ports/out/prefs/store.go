package prefs

import "context"

// Well-known keys of the device-local key/value store.
const (
	KeyUserID      = "userId"
	KeySystemID    = "systemId"
	KeyDeviceToken = "deviceToken"
)

// SyncDomainEvent is the only sync domain that keeps a last-synced stamp today.
const SyncDomainEvent = "event"

// SyncDomains lists every domain with a last-synced stamp.
var SyncDomains = []string{SyncDomainEvent}

// LastSyncedKey returns the key holding the last-synced stamp of a sync domain.
func LastSyncedKey(syncDomain string) string {
	return "lastSynced." + syncDomain
}

// Store is a small persistent string key/value store local to the device.
type Store interface {
	// Get returns ok=false when the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	// Delete is a no-op for absent keys.
	Delete(ctx context.Context, key string) error
}
