// Package kv provides device-scoped key-value storage. Operations are
// synchronous and never suspend the caller; concurrent writers race with
// last-write-wins semantics and no locking beyond internal consistency.
package kv

// Store is a flat, prefix-enumerable key-value store.
type Store interface {
	// Get returns the value for key, or ok=false if absent.
	Get(key string) (value []byte, ok bool)
	// Set stores value under key, replacing any previous value.
	Set(key string, value []byte) error
	// Delete removes key. Deleting an absent key is a no-op.
	Delete(key string)
	// ListKeys returns all keys beginning with prefix, in unspecified order.
	ListKeys(prefix string) []string
}
