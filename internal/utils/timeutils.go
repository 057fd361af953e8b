package utils

import (
	"fmt"
	"strings"
	"time"
)

// ParseRFC3339 returns a time from the provided string or an error.
func ParseRFC3339(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time: %w", err)
	}
	return t, nil
}

// SplitTimestamp separates a leading RFC3339 token (as written by `docker logs --timestamps`)
// from the rest of a log line. ok is false when the line carries no such prefix.
func SplitTimestamp(line string) (ts time.Time, rest string, ok bool) {
	head, tail, found := strings.Cut(line, " ")
	if !found {
		return time.Time{}, line, false
	}
	parsed, err := ParseRFC3339(head)
	if err != nil {
		return time.Time{}, line, false
	}
	return parsed, tail, true
}
