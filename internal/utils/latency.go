package utils

import (
	"sort"
	"sync"
	"time"
)

// LatencyTracker keeps the most recent duration samples in a ring and computes percentiles.
type LatencyTracker struct {
	mu      sync.RWMutex
	samples []time.Duration
	next    int
	full    bool
}

// NewLatencyTracker creates a tracker storing up to maxSize samples.
func NewLatencyTracker(maxSize int) *LatencyTracker {
	if maxSize <= 0 {
		maxSize = 512
	}
	return &LatencyTracker{samples: make([]time.Duration, maxSize)}
}

// Observe records a new duration, overwriting the oldest once full.
func (l *LatencyTracker) Observe(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.samples[l.next] = d
	l.next = (l.next + 1) % len(l.samples)
	if l.next == 0 {
		l.full = true
	}
}

// Percentile returns the percentile (0-100) duration. Returns zero if no samples.
func (l *LatencyTracker) Percentile(p float64) time.Duration {
	l.mu.RLock()
	sorted := append([]time.Duration(nil), l.window()...)
	l.mu.RUnlock()

	if len(sorted) == 0 {
		return 0
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	switch {
	case p <= 0:
		return sorted[0]
	case p >= 100:
		return sorted[len(sorted)-1]
	}
	return sorted[int((p/100.0)*float64(len(sorted)-1))]
}

// Count returns number of samples retained.
func (l *LatencyTracker) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.window())
}

func (l *LatencyTracker) window() []time.Duration {
	if l.full {
		return l.samples
	}
	return l.samples[:l.next]
}
