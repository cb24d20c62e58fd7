package ingest

import (
	"testing"
	"time"
)

func TestParseTimeLayouts(t *testing.T) {
	cases := []string{
		"2025-03-14T09:26:53.123456789Z",
		"2025-03-14T09:26:53Z",
		"2025-03-14T09:26:53.123+02:00",
		"2025-03-14T09:26:53",
		"2025-03-14 09:26:53",
	}
	for _, raw := range cases {
		ts, err := ParseTime(raw)
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", raw, err)
		}
		if ts.Year() != 2025 || ts.Minute() != 26 {
			t.Fatalf("%q: parsed to unexpected time %v", raw, ts)
		}
	}
}

func TestParseTimeEpoch(t *testing.T) {
	want := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

	sec, err := ParseTime("1741944413")
	if err != nil {
		t.Fatalf("seconds: %v", err)
	}
	if !sec.Equal(want) {
		t.Fatalf("seconds: expected %v, got %v", want, sec)
	}

	ms, err := ParseTime("1741944413000")
	if err != nil {
		t.Fatalf("millis: %v", err)
	}
	if !ms.Equal(want) {
		t.Fatalf("millis: expected %v, got %v", want, ms)
	}
}

func TestParseTimeRejectsGarbage(t *testing.T) {
	if _, err := ParseTime("yesterday"); err == nil {
		t.Fatalf("expected error for unparseable timestamp")
	}
	if _, err := ParseTime(""); err == nil {
		t.Fatalf("expected error for empty timestamp")
	}
}

func TestFromEpochUnits(t *testing.T) {
	ref := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	refSec := float64(ref.Unix())

	if got := FromEpoch(refSec); !got.Equal(ref) {
		t.Fatalf("seconds: expected %v, got %v", ref, got)
	}
	if got := FromEpoch(refSec * 1e3); !got.Equal(ref) {
		t.Fatalf("millis: expected %v, got %v", ref, got)
	}
	if got := FromEpoch(refSec * 1e6); !got.Equal(ref) {
		t.Fatalf("micros: expected %v, got %v", ref, got)
	}
	// Nanosecond epochs exceed float64's exact integer range; allow the
	// sub-microsecond rounding that implies.
	got := FromEpoch(refSec * 1e9)
	if d := got.Sub(ref); d < -time.Millisecond || d > time.Millisecond {
		t.Fatalf("nanos: expected %v within 1ms, got %v", ref, got)
	}
}

func TestSecondsToMS(t *testing.T) {
	if got := SecondsToMS(0.01); got != 10 {
		t.Fatalf("expected 10ms, got %d", got)
	}
	if got := SecondsToMS(1.5); got != 1500 {
		t.Fatalf("expected 1500ms, got %d", got)
	}
	if got := SecondsToMS(0); got != 0 {
		t.Fatalf("expected 0ms, got %d", got)
	}
}
