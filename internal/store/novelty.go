package store

import (
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// Novelty tracks which portal ranges have been seen before, so that a newly
// provisioned range can be announced exactly once. The known set only ever
// grows; ranges that disappear from the portal stay known.
type Novelty struct {
	mu    sync.Mutex
	known map[string]struct{}
	blob  *Blob
	// coldStart is true until the first observation when no state file
	// existed. The first sweep establishes the baseline silently instead of
	// announcing every pre-existing range.
	coldStart bool
}

// OpenNovelty loads the known-ranges registry from dir.
func OpenNovelty(dir string) (*Novelty, error) {
	blob, err := NewBlob(dir, "known_ranges.json")
	if err != nil {
		return nil, err
	}

	var persisted []string
	found, err := blob.Load(&persisted)
	if err != nil {
		return nil, err
	}

	n := &Novelty{
		known:     make(map[string]struct{}, len(persisted)),
		blob:      blob,
		coldStart: !found,
	}
	for _, r := range persisted {
		n.known[r] = struct{}{}
	}

	log.Debug().
		Int("known", len(n.known)).
		Bool("cold_start", n.coldStart).
		Msg("Known ranges registry loaded")
	return n, nil
}

// Observe records the ranges of the current sweep and returns the ones never
// seen before. On a cold start (no persisted registry) the whole observation
// becomes the baseline and nothing is reported as new.
func (n *Novelty) Observe(ranges []string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()

	var fresh []string
	for _, r := range ranges {
		if r == "" {
			continue
		}
		if _, ok := n.known[r]; !ok {
			n.known[r] = struct{}{}
			if !n.coldStart {
				fresh = append(fresh, r)
			}
		}
	}

	if n.coldStart {
		n.coldStart = false
		log.Info().
			Int("ranges", len(n.known)).
			Msg("Baseline established, existing ranges will not be announced")
	}

	if err := n.persistLocked(); err != nil {
		log.Warn().Err(err).Msg("Failed to persist known ranges")
	}
	return fresh
}

// Known reports whether a range has been seen before.
func (n *Novelty) Known(r string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.known[r]
	return ok
}

// Count returns the size of the known set.
func (n *Novelty) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.known)
}

func (n *Novelty) persistLocked() error {
	out := make([]string, 0, len(n.known))
	for r := range n.known {
		out = append(out, r)
	}
	sort.Strings(out)
	return n.blob.Save(out)
}
