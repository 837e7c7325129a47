package cache

import (
	"time"

	"github.com/google/uuid"
)

// LabelCache caches user display labels per session. Identities are
// effectively immutable within a session lifetime, so entries are populated
// lazily and expire only on the long default TTL.
type LabelCache struct {
	cache *MemoryCache
}

// NewLabelCache creates a label cache with the given TTL.
func NewLabelCache(ttl time.Duration) *LabelCache {
	return &LabelCache{
		cache: NewMemoryCache(ttl, 10000),
	}
}

// Get returns the cached label for a user, if present.
func (lc *LabelCache) Get(userID uuid.UUID) (string, bool) {
	value, ok := lc.cache.Get("label:" + userID.String())
	if !ok {
		return "", false
	}
	label, ok := value.(string)
	return label, ok
}

// Set stores a label for a user.
func (lc *LabelCache) Set(userID uuid.UUID, label string) {
	lc.cache.Set("label:"+userID.String(), label, 0)
}
