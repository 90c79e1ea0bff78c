package triage

import (
	"sync"
	"time"

	"github.com/linnemanlabs/wardwatch/internal/urgency"
)

const statsBucket = time.Minute

type tierBucket struct {
	start  time.Time
	counts map[urgency.Tier]int
}

// Stats counts opened cases per tier over a rolling window. Buckets older
// than the window are dropped on every Record and Snapshot.
type Stats struct {
	mu      sync.Mutex
	window  time.Duration
	buckets []tierBucket
}

// NewStats creates a collector with the given window (24h when <= 0).
func NewStats(window time.Duration) *Stats {
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &Stats{window: window}
}

// Window returns the rolling window length.
func (s *Stats) Window() time.Duration { return s.window }

// Record counts one case opened at the given time.
func (s *Stats) Record(tier urgency.Tier, at time.Time) {
	if !tier.Valid() {
		return
	}
	start := at.Truncate(statsBucket)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.prune(at)

	if n := len(s.buckets); n > 0 && s.buckets[n-1].start.Equal(start) {
		s.buckets[n-1].counts[tier]++
		return
	}
	// out-of-order records land in their own bucket; prune only looks at start times
	s.buckets = append(s.buckets, tierBucket{start: start, counts: map[urgency.Tier]int{tier: 1}})
}

// Snapshot returns per-tier counts within the window ending at now.
// Every case-opening tier is present, zero or not.
func (s *Stats) Snapshot(now time.Time) map[urgency.Tier]int {
	out := make(map[urgency.Tier]int, len(urgency.Tiers))
	for _, t := range urgency.Tiers {
		out[t] = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.prune(now)
	for _, b := range s.buckets {
		for t, n := range b.counts {
			out[t] += n
		}
	}
	return out
}

func (s *Stats) prune(now time.Time) {
	cutoff := now.Add(-s.window)
	kept := s.buckets[:0]
	for _, b := range s.buckets {
		if b.start.Add(statsBucket).After(cutoff) {
			kept = append(kept, b)
		}
	}
	s.buckets = kept
}
