package view

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"agenttrace/internal/claude"
	"agenttrace/internal/trace"
)

const (
	followLine1 = `{"type":"user","uuid":"u-1","sessionId":"sess-follow","timestamp":"2025-01-06T10:00:00Z","message":{"role":"user","content":"start the refactor"}}`
	followLine2 = `{"type":"assistant","uuid":"a-1","sessionId":"sess-follow","timestamp":"2025-01-06T10:00:05Z","message":{"role":"assistant","content":[{"type":"text","text":"on it"}]}}`
)

func writeTranscript(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write transcript: %v", err)
	}
}

func newTestFollower(path string, out *bytes.Buffer) *follower {
	return &follower{
		path: path,
		session: &trace.Session{
			SessionID: "sess-follow",
			Agent:     trace.Agent{Tool: "claude-code"},
		},
		out: out,
	}
}

func TestConsumeAppendedHoldsPartialLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sess-follow.jsonl")
	partialHead := `{"type":"assistant","uuid":"a-2","sessionId":"sess-follow","timestamp":"2025-01-06T10:00:10Z","mes`
	writeTranscript(t, path, followLine1+"\n"+followLine2+"\n"+partialHead)

	var buf bytes.Buffer
	f := newTestFollower(path, &buf)

	if err := f.consumeAppended(); err != nil {
		t.Fatalf("consumeAppended() error = %v", err)
	}
	if len(f.session.Events) != 2 {
		t.Fatalf("len(Events) = %d, want 2 (unterminated line must wait)", len(f.session.Events))
	}
	if !strings.Contains(buf.String(), "start the refactor") {
		t.Fatalf("backlog not printed:\n%s", buf.String())
	}

	// The producer finishes the held record.
	partialTail := `sage":{"role":"assistant","content":[{"type":"text","text":"done"}]}}` + "\n"
	file, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open for append: %v", err)
	}
	if _, err := file.WriteString(partialTail); err != nil {
		t.Fatalf("append: %v", err)
	}
	file.Close()

	if err := f.consumeAppended(); err != nil {
		t.Fatalf("second consumeAppended() error = %v", err)
	}
	if len(f.session.Events) != 3 {
		t.Fatalf("len(Events) = %d, want 3", len(f.session.Events))
	}
	if got := f.session.Events[2].Text(); got != "done" {
		t.Errorf("Events[2].Text() = %q, want %q", got, "done")
	}
	if !strings.Contains(buf.String(), "| done") {
		t.Fatalf("appended event not printed:\n%s", buf.String())
	}
}

func TestConsumeAppendedResetsOnTruncate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sess-follow.jsonl")
	writeTranscript(t, path, followLine1+"\n"+followLine2+"\n")

	var buf bytes.Buffer
	f := newTestFollower(path, &buf)
	if err := f.consumeAppended(); err != nil {
		t.Fatalf("consumeAppended() error = %v", err)
	}
	if len(f.session.Events) != 2 {
		t.Fatalf("len(Events) = %d, want 2", len(f.session.Events))
	}

	short := `{"type":"user","uuid":"u-9","sessionId":"sess-follow","message":{"role":"user","content":"again"}}` + "\n"
	writeTranscript(t, path, short)

	if err := f.consumeAppended(); err != nil {
		t.Fatalf("consumeAppended() after truncate error = %v", err)
	}
	if len(f.session.Events) != 3 {
		t.Fatalf("len(Events) = %d, want 3 (reset should re-read the file)", len(f.session.Events))
	}
	if got := f.session.Events[2].Text(); got != "again" {
		t.Errorf("Events[2].Text() = %q, want %q", got, "again")
	}
}

func TestRunFollowStopsOnClosedChannel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sess-follow.jsonl")
	writeTranscript(t, path, followLine1+"\n"+followLine2+"\n")

	sess, err := claude.New().Parse(path)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	stop := make(chan struct{})
	close(stop)

	var buf bytes.Buffer
	opts := Options{
		Session: sess,
		Path:    path,
		Follow:  true,
		Out:     &buf,
		Stop:    stop,
	}
	if err := Run(opts); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !strings.Contains(buf.String(), "start the refactor") {
		t.Fatalf("backlog not printed before stop:\n%s", buf.String())
	}
	if !strings.Contains(buf.String(), "| on it") {
		t.Fatalf("second backlog event missing:\n%s", buf.String())
	}
}

func TestRunFollowRejectsOtherFormats(t *testing.T) {
	sess := &trace.Session{
		SessionID: "sess-codex",
		Agent:     trace.Agent{Tool: "codex"},
	}
	opts := Options{
		Session: sess,
		Path:    "/tmp/rollout.jsonl",
		Follow:  true,
		Out:     &bytes.Buffer{},
	}
	if err := Run(opts); err == nil {
		t.Fatal("expected error for non-claude follow")
	}
}
