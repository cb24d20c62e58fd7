package ingest

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Accepted timestamp shapes, most common first. Producers mix RFC 3339 with
// naive local stamps and raw epoch numbers.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTime parses a timestamp through the ordered fallback list, ending with
// numeric epoch values. Callers treat an error as a record-level failure.
func ParseTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, nil
		}
	}
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		return FromEpoch(n), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}

// FromEpoch converts a raw epoch number to a time, guessing the unit from
// magnitude: nanoseconds, microseconds, milliseconds, then seconds.
func FromEpoch(n float64) time.Time {
	switch {
	case n >= 1e16:
		return time.Unix(0, int64(n)).UTC()
	case n >= 1e13:
		return time.UnixMicro(int64(n)).UTC()
	case n >= 1e11:
		return time.UnixMilli(int64(n)).UTC()
	default:
		sec, frac := math.Modf(n)
		return time.Unix(int64(sec), int64(frac*float64(time.Second))).UTC()
	}
}

// SecondsToMS converts a duration recorded in (possibly fractional) seconds
// to whole milliseconds.
func SecondsToMS(seconds float64) int64 {
	return int64(math.Round(seconds * 1000))
}
