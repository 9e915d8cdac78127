package tgs

import "sync"

// ReferralCache maps (client, originalService, currentRealm) to the
// referral the KDC previously returned for that key, so a repeated
// AcquireService call for the same client/service pair does not re-walk
// a referral chain the process has already resolved once.
//
// It is process-wide state as far as a single Engine is concerned -
// callers normally construct one ReferralCache per Engine and share it
// across every acquisition that Engine performs - and is safe for
// concurrent use: many readers, serialised writers, first-writer-wins on
// a write-write conflict for the same key (spec.md §5; entries are
// idempotent so a racing second write observing the first writer's value
// is not a correctness problem).
type ReferralCache struct {
	mu      sync.RWMutex
	entries map[ReferralKey]ReferralCacheEntry
}

// NewReferralCache returns an empty cache ready for use.
func NewReferralCache() *ReferralCache {
	return &ReferralCache{entries: make(map[ReferralKey]ReferralCacheEntry)}
}

// Get returns the cached entry for key, if any.
func (c *ReferralCache) Get(key ReferralKey) (ReferralCacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	return entry, ok
}

// Put records that key referred to toRealm via credential. If key is
// already present, the existing entry is kept (first-writer-wins) and
// Put reports false; otherwise the entry is stored and Put reports true.
func (c *ReferralCache) Put(key ReferralKey, toRealm string, credential Credential) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; exists {
		return false
	}
	c.entries[key] = ReferralCacheEntry{ToRealm: toRealm, Credential: credential}
	return true
}

// Len returns the number of cached entries. Intended for tests and
// metrics, not for control flow.
func (c *ReferralCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
