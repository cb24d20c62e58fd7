package format

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"agenttrace/internal/store"
)

func sampleSummaries() []store.Summary {
	return []store.Summary{
		{
			SessionID:    "session-a",
			Tool:         "claude",
			Title:        "Fix the flaky watcher test",
			Path:         "/tmp/session-a.jsonl",
			EventCount:   24,
			MessageCount: 10,
			CreatedAt:    time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC),
			UpdatedAt:    time.Date(2025, 10, 1, 12, 1, 30, 0, time.UTC),
			DurationMS:   90_000,
		},
		{
			SessionID:    "session-b",
			Tool:         "codex",
			Title:        "Audit the retry loop",
			Path:         "/tmp/session-b.jsonl",
			EventCount:   31,
			MessageCount: 20,
			CreatedAt:    time.Date(2025, 10, 2, 9, 30, 0, 0, time.UTC),
			UpdatedAt:    time.Date(2025, 10, 2, 9, 30, 45, 0, time.UTC),
			DurationMS:   45_000,
		},
	}
}

func TestWriteSummariesPlain(t *testing.T) {
	var buf bytes.Buffer
	items := sampleSummaries()

	if err := WriteSummaries(&buf, items, true, "plain"); err != nil {
		t.Fatalf("WriteSummaries plain returned error: %v", err)
	}

	expected := strings.Join([]string{
		"updated\tsession_id\ttool\tduration\tmessage_count\ttitle",
		"2025-10-01T12:01:30Z\tsession-a\tclaude\t00:01:30\t10\tFix the flaky watcher test",
		"2025-10-02T09:30:45Z\tsession-b\tcodex\t00:00:45\t20\tAudit the retry loop",
	}, "\n") + "\n"

	if got := buf.String(); got != expected {
		t.Fatalf("plain output mismatch:\nexpected: %q\nactual:   %q", expected, got)
	}
}

func TestWriteSummariesTable(t *testing.T) {
	var buf bytes.Buffer
	items := sampleSummaries()

	if err := WriteSummaries(&buf, items, true, "table"); err != nil {
		t.Fatalf("WriteSummaries table returned error: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "DURATION") || !strings.Contains(out, "MESSAGES") {
		t.Fatalf("table header missing expected columns:\n%s", out)
	}
	if !strings.Contains(out, "session-a") || !strings.Contains(out, "00:01:30") {
		t.Fatalf("table missing first row fields:\n%s", out)
	}
}

func TestWriteSummariesTableEmpty(t *testing.T) {
	var buf bytes.Buffer

	if err := WriteSummaries(&buf, nil, true, "table"); err != nil {
		t.Fatalf("WriteSummaries table returned error: %v", err)
	}
	if !strings.Contains(buf.String(), "(no sessions)") {
		t.Fatalf("empty table missing placeholder row:\n%s", buf.String())
	}
}

func TestWriteSummariesInvalidFormat(t *testing.T) {
	var buf bytes.Buffer
	err := WriteSummaries(&buf, sampleSummaries(), true, "xml")
	if err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestWriteSummariesJSONL(t *testing.T) {
	var buf bytes.Buffer
	items := sampleSummaries()

	if err := WriteSummaries(&buf, items, false, "jsonl"); err != nil {
		t.Fatalf("WriteSummaries jsonl returned error: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != len(items) {
		t.Fatalf("expected %d lines, got %d", len(items), len(lines))
	}
	if !strings.Contains(lines[0], "\"session-a\"") || !strings.Contains(lines[0], "\"duration_ms\":90000") {
		t.Fatalf("first jsonl line unexpected: %s", lines[0])
	}
}

func TestFormatDuration(t *testing.T) {
	cases := []struct {
		ms   int64
		want string
	}{
		{0, "00:00:00"},
		{-5, "00:00:00"},
		{999, "00:00:00"},
		{90_000, "00:01:30"},
		{3_723_000, "01:02:03"},
	}
	for _, tc := range cases {
		if got := FormatDuration(tc.ms); got != tc.want {
			t.Errorf("FormatDuration(%d) = %q, want %q", tc.ms, got, tc.want)
		}
	}
}
