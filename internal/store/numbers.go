package store

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nexusbot/nexusbot/internal/types"
)

// NumbersCache holds the portal's number directory with a TTL. The directory
// is expensive to fetch, so reads are served from the snapshot until it goes
// stale. An empty refresh never replaces a non-empty snapshot: a directory
// that suddenly reports zero numbers is a portal glitch, not a provisioning
// wipe. The snapshot is persisted with its capture timestamp, so a restart
// inside the TTL window serves the directory without a fetch.
type NumbersCache struct {
	mu        sync.RWMutex
	entries   []types.NumberRecord
	fetchedAt time.Time
	ttl       time.Duration
	blob      *Blob
	now       func() time.Time
}

// numbersSnapshot is the persisted form of the cache.
type numbersSnapshot struct {
	FetchedAt time.Time            `json:"fetchedAt"`
	Entries   []types.NumberRecord `json:"entries"`
}

// NewNumbersCache creates an empty, memory-only cache with the given TTL.
func NewNumbersCache(ttl time.Duration) *NumbersCache {
	return &NumbersCache{ttl: ttl, now: time.Now}
}

// OpenNumbersCache creates a cache backed by a blob in dir, restoring the
// previous snapshot and its timestamp if one was persisted.
func OpenNumbersCache(dir string, ttl time.Duration) (*NumbersCache, error) {
	blob, err := NewBlob(dir, "numbers_cache.json")
	if err != nil {
		return nil, err
	}

	c := &NumbersCache{ttl: ttl, blob: blob, now: time.Now}

	var snap numbersSnapshot
	found, err := blob.Load(&snap)
	if err != nil {
		return nil, err
	}
	if found {
		c.entries = snap.Entries
		c.fetchedAt = snap.FetchedAt
		log.Debug().
			Int("numbers", len(snap.Entries)).
			Time("fetched_at", snap.FetchedAt).
			Msg("Number directory snapshot restored")
	}
	return c, nil
}

// Get returns the cached directory and whether it is still fresh. An entry
// exactly at the TTL boundary counts as stale.
func (c *NumbersCache) Get() ([]types.NumberRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.entries) == 0 {
		return nil, false
	}
	fresh := c.now().Sub(c.fetchedAt) < c.ttl
	out := make([]types.NumberRecord, len(c.entries))
	copy(out, c.entries)
	return out, fresh
}

// Set replaces the snapshot and persists it with a fresh timestamp. An empty
// refresh keeps the previous snapshot but does not renew its freshness, so
// the next cycle retries the fetch.
func (c *NumbersCache) Set(entries []types.NumberRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(entries) == 0 && len(c.entries) > 0 {
		log.Warn().
			Int("kept", len(c.entries)).
			Msg("Directory refresh returned no numbers, keeping previous snapshot")
		return
	}

	c.entries = make([]types.NumberRecord, len(entries))
	copy(c.entries, entries)
	c.fetchedAt = c.now()
	c.persistLocked()
}

// Invalidate marks the snapshot stale without discarding it.
func (c *NumbersCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetchedAt = time.Time{}
	c.persistLocked()
}

// ByRange groups the cached numbers by their range label.
func (c *NumbersCache) ByRange() map[string][]string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	grouped := make(map[string][]string)
	for _, e := range c.entries {
		grouped[e.Range] = append(grouped[e.Range], e.Number)
	}
	return grouped
}

// Count returns the number of cached entries.
func (c *NumbersCache) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *NumbersCache) persistLocked() {
	if c.blob == nil {
		return
	}
	snap := numbersSnapshot{FetchedAt: c.fetchedAt, Entries: c.entries}
	if err := c.blob.Save(snap); err != nil {
		log.Warn().Err(err).Msg("Failed to persist number directory snapshot")
	}
}
