package store

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Dedup is the delivered-message registry. A message fingerprint enters the
// set exactly once; only the winner of TryMarkSent may deliver. Entries are
// never evicted or expired: presence is a permanent at-most-once guarantee,
// so the set only grows. At the fingerprint rate this portal produces, the
// registry stays small for years.
type Dedup struct {
	mu   sync.Mutex
	sent map[string]time.Time
	blob *Blob
	now  func() time.Time
}

// OpenDedup loads the delivery registry from dir.
func OpenDedup(dir string) (*Dedup, error) {
	blob, err := NewBlob(dir, "delivered.json")
	if err != nil {
		return nil, err
	}

	sent := make(map[string]time.Time)
	if _, err := blob.Load(&sent); err != nil {
		return nil, err
	}

	log.Debug().Int("fingerprints", len(sent)).Msg("Delivery registry loaded")
	return &Dedup{sent: sent, blob: blob, now: time.Now}, nil
}

// TryMarkSent atomically claims a fingerprint for delivery. Returns true for
// the first caller and false for everyone after, including callers in later
// process lifetimes: the registry is persisted on every successful claim.
func (d *Dedup) TryMarkSent(fingerprint string) bool {
	if fingerprint == "" {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, dup := d.sent[fingerprint]; dup {
		return false
	}
	d.sent[fingerprint] = d.now()

	if err := d.blob.Save(d.sent); err != nil {
		log.Warn().Err(err).Msg("Failed to persist delivery registry")
	}
	return true
}

// Seen reports whether a fingerprint has already been delivered.
func (d *Dedup) Seen(fingerprint string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.sent[fingerprint]
	return ok
}

// Count returns the number of delivered fingerprints on record.
func (d *Dedup) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent)
}
