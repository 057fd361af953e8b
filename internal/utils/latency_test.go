package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatencyTrackerPercentile(t *testing.T) {
	tracker := NewLatencyTracker(10)
	durations := []time.Duration{50 * time.Millisecond, 10 * time.Millisecond, 30 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond}
	for _, d := range durations {
		tracker.Observe(d)
	}

	require.Equal(t, len(durations), tracker.Count())
	assert.GreaterOrEqual(t, tracker.Percentile(95), 40*time.Millisecond)
	assert.Equal(t, 10*time.Millisecond, tracker.Percentile(0))
}

func TestLatencyTrackerBoundedSize(t *testing.T) {
	tracker := NewLatencyTracker(3)
	for i := 0; i < 10; i++ {
		tracker.Observe(time.Duration(i) * time.Millisecond)
	}
	require.Equal(t, 3, tracker.Count())
	assert.Equal(t, 9*time.Millisecond, tracker.Percentile(100), "newest sample retained")
	assert.Equal(t, 7*time.Millisecond, tracker.Percentile(0), "oldest samples evicted")
}

func TestLatencyTrackerEmpty(t *testing.T) {
	tracker := NewLatencyTracker(0)
	assert.Zero(t, tracker.Percentile(50))
}
