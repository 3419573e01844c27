package monitor

import (
	"sync"
	"time"
)

// rangeCounters tracks deliveries for one range.
type rangeCounters struct {
	delivered     int64
	lastDelivered time.Time
}

// RangeStatsJSON is the serializable snapshot of one range's counters.
type RangeStatsJSON struct {
	Delivered     int64     `json:"delivered"`
	LastDelivered time.Time `json:"lastDelivered,omitempty"`
}

// Stats tracks per-range delivery counters for the status surface.
type Stats struct {
	mu     sync.RWMutex
	ranges map[string]*rangeCounters
	now    func() time.Time
}

// NewStats creates an empty stats tracker.
func NewStats() *Stats {
	return &Stats{
		ranges: make(map[string]*rangeCounters),
		now:    time.Now,
	}
}

// Record counts one delivered message for a range.
func (s *Stats) Record(rangeName string) {
	if rangeName == "" {
		rangeName = "unknown"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.ranges[rangeName]
	if !ok {
		c = &rangeCounters{}
		s.ranges[rangeName] = c
	}
	c.delivered++
	c.lastDelivered = s.now()
}

// Delivered returns the delivery count for one range.
func (s *Stats) Delivered(rangeName string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if c, ok := s.ranges[rangeName]; ok {
		return c.delivered
	}
	return 0
}

// Snapshot returns a copy of all per-range counters.
func (s *Stats) Snapshot() map[string]RangeStatsJSON {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]RangeStatsJSON, len(s.ranges))
	for name, c := range s.ranges {
		out[name] = RangeStatsJSON{
			Delivered:     c.delivered,
			LastDelivered: c.lastDelivered,
		}
	}
	return out
}
