package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitTimestamp(t *testing.T) {
	ts, rest, ok := SplitTimestamp("2024-05-01T10:00:00.123456789Z ERROR boom")
	require.True(t, ok, "expected timestamp prefix to be detected")
	assert.Equal(t, "ERROR boom", rest)
	assert.True(t, ts.Equal(time.Date(2024, 5, 1, 10, 0, 0, 123456789, time.UTC)), "unexpected timestamp %v", ts)

	_, rest, ok = SplitTimestamp("Traceback (most recent call last):")
	assert.False(t, ok)
	assert.Equal(t, "Traceback (most recent call last):", rest)
}

func TestParseRFC3339Empty(t *testing.T) {
	_, err := ParseRFC3339("")
	assert.Error(t, err)
}
