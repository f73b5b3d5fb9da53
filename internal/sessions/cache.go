package sessions

import (
	"cvplus-backend/internal/shared/storage/kv"
	"cvplus-backend/internal/shared/telemetry"
)

// cacheKeyPrefix namespaces session records inside the shared local cache.
const cacheKeyPrefix = "cvplus_session_"

// CacheStore is the typed boundary over the device-scoped local cache.
// A record that fails to decode is treated as not-found: it is logged and
// dropped rather than surfaced as an error, and one corrupt entry never
// aborts enumeration of the others.
type CacheStore struct {
	kv kv.Store
}

// NewCacheStore wraps the given key-value store.
func NewCacheStore(store kv.Store) *CacheStore {
	return &CacheStore{kv: store}
}

// Get returns the cached session, or ErrNotFound.
func (c *CacheStore) Get(sessionID string) (Session, error) {
	data, ok := c.kv.Get(cacheKey(sessionID))
	if !ok {
		return Session{}, ErrNotFound
	}
	s, err := decodeSession(data)
	if err != nil {
		c.dropCorrupt(cacheKey(sessionID), err)
		return Session{}, ErrNotFound
	}
	return s, nil
}

// Put writes the session synchronously. Last caller wins.
func (c *CacheStore) Put(s Session) error {
	data, err := encodeSession(s)
	if err != nil {
		return err
	}
	return c.kv.Set(cacheKey(s.ID), data)
}

// Delete removes the session and reports whether a record existed.
func (c *CacheStore) Delete(sessionID string) bool {
	key := cacheKey(sessionID)
	_, existed := c.kv.Get(key)
	c.kv.Delete(key)
	return existed
}

// List returns every decodable cached session. Corrupt entries are dropped
// and skipped.
func (c *CacheStore) List() []Session {
	keys := c.kv.ListKeys(cacheKeyPrefix)
	out := make([]Session, 0, len(keys))
	for _, key := range keys {
		data, ok := c.kv.Get(key)
		if !ok {
			continue
		}
		s, err := decodeSession(data)
		if err != nil {
			c.dropCorrupt(key, err)
			continue
		}
		out = append(out, s)
	}
	return out
}

func (c *CacheStore) dropCorrupt(key string, err error) {
	telemetry.Warn("session.cache.corrupt_record_dropped", map[string]any{
		"key":   key,
		"error": err.Error(),
	})
	c.kv.Delete(key)
}

func cacheKey(sessionID string) string {
	return cacheKeyPrefix + sessionID
}
