package claude

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"agenttrace/internal/trace"
)

func fixturePath(parts ...string) string {
	elems := append([]string{"..", "..", "testdata", "claude", "projects", "demo-project"}, parts...)
	return filepath.Join(elems...)
}

func TestCanParse(t *testing.T) {
	p := New()
	cases := []struct {
		path string
		want bool
	}{
		{"/home/dev/.claude/projects/demo/abc.jsonl", true},
		{fixturePath("a1b2c3d4.jsonl"), true},
		{"/home/dev/.claude/projects/demo/abc.json", false},
		{"/tmp/session.jsonl", false},
	}
	for _, tc := range cases {
		if got := p.CanParse(tc.path); got != tc.want {
			t.Fatalf("CanParse(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}

func TestParseSimple(t *testing.T) {
	sess, err := New().Parse(fixturePath("a1b2c3d4.jsonl"))
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}

	if sess.SessionID != "a1b2c3d4-0000-4000-8000-000000000001" {
		t.Fatalf("unexpected session id: %s", sess.SessionID)
	}
	if sess.Agent.Provider != "anthropic" || sess.Agent.Tool != "claude-code" {
		t.Fatalf("unexpected agent identity: %+v", sess.Agent)
	}
	if sess.Agent.Model != "claude-sonnet-4-20250514" {
		t.Fatalf("unexpected model: %s", sess.Agent.Model)
	}
	if sess.Agent.Version != "1.0.35" {
		t.Fatalf("unexpected version: %s", sess.Agent.Version)
	}
	if sess.Context.Title != "What does this repo do?" {
		t.Fatalf("unexpected title: %q", sess.Context.Title)
	}
	if got := sess.Context.Attrs[trace.AttrCWD]; got != "/home/dev/project" {
		t.Fatalf("unexpected cwd attr: %q", got)
	}
	if got := sess.Context.CreatedAt.Format(time.RFC3339); got != "2025-01-05T10:00:00Z" {
		t.Fatalf("unexpected created_at: %s", got)
	}

	if len(sess.Events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(sess.Events))
	}
	if sess.Events[0].Type != trace.EventUserMessage || sess.Events[0].ID != "u-1" {
		t.Fatalf("unexpected first event: %+v", sess.Events[0])
	}
	if sess.Events[1].Type != trace.EventAgentMessage {
		t.Fatalf("unexpected second event type: %s", sess.Events[1].Type)
	}
	if got := sess.Events[1].Attr(trace.AttrInputTokens); got != "10" {
		t.Fatalf("unexpected input token attr: %q", got)
	}

	if sess.Stats.MessageCount != 4 {
		t.Fatalf("unexpected message count: %d", sess.Stats.MessageCount)
	}
	if sess.Stats.InputTokens != 40 || sess.Stats.OutputTokens != 23 {
		t.Fatalf("unexpected token totals: in=%d out=%d", sess.Stats.InputTokens, sess.Stats.OutputTokens)
	}
	if sess.Stats.TotalTokens != 63 {
		t.Fatalf("unexpected total tokens: %d", sess.Stats.TotalTokens)
	}
	if sess.Stats.DurationMS != 7000 {
		t.Fatalf("unexpected duration: %d", sess.Stats.DurationMS)
	}
}

func TestParseWithTools(t *testing.T) {
	sess, err := New().Parse(fixturePath("f00dfeed.jsonl"))
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}

	// The summary record comes first in the file, so it wins the title.
	if sess.Context.Title != "Investigating the README" {
		t.Fatalf("unexpected title: %q", sess.Context.Title)
	}

	if len(sess.Events) != 8 {
		for _, ev := range sess.Events {
			t.Logf("event %s %s", ev.ID, ev.Type)
		}
		t.Fatalf("expected 8 events, got %d", len(sess.Events))
	}

	thinking := sess.Events[1]
	if thinking.Type != trace.EventThinking {
		t.Fatalf("expected thinking event, got %s", thinking.Type)
	}
	if got := thinking.Attr(trace.AttrInputTokens); got != "12" {
		t.Fatalf("usage should attach to the record's first event, got %q", got)
	}

	read := sess.Events[2]
	if read.Type != trace.EventFileRead || read.Path != "README.md" {
		t.Fatalf("unexpected read event: %+v", read)
	}
	if read.Tool != "Read" {
		t.Fatalf("unexpected tool name: %s", read.Tool)
	}

	result := sess.Events[3]
	if result.Type != trace.EventToolResult {
		t.Fatalf("expected tool_result, got %s", result.Type)
	}
	if result.CallID != read.ID {
		t.Fatalf("result call id %q does not resolve to call event %q", result.CallID, read.ID)
	}
	if result.Tool != "Read" {
		t.Fatalf("unexpected result tool: %s", result.Tool)
	}
	if !strings.Contains(result.Text(), "# demo") {
		t.Fatalf("unexpected result text: %q", result.Text())
	}

	shell := sess.Events[4]
	if shell.Type != trace.EventShellCommand || shell.Command != "wc -l README.md" {
		t.Fatalf("unexpected shell event: %+v", shell)
	}

	shellResult := sess.Events[5]
	if shellResult.CallID != shell.ID {
		t.Fatalf("shell result call id %q, want %q", shellResult.CallID, shell.ID)
	}
	if shellResult.Text() != "2 README.md" {
		t.Fatalf("unexpected shell result text: %q", shellResult.Text())
	}

	system := sess.Events[7]
	if system.Type != trace.EventSystemMessage {
		t.Fatalf("expected system_message, got %s", system.Type)
	}
	if system.DurationMS != 7000 {
		t.Fatalf("unexpected system duration: %d", system.DurationMS)
	}
	if got := system.Attr(trace.AttrSubtype); got != "turn_duration" {
		t.Fatalf("unexpected subtype attr: %q", got)
	}

	// Meta records never become events.
	for _, ev := range sess.Events {
		if ev.ID == "u-4" {
			t.Fatal("meta record leaked into the timeline")
		}
	}

	if sess.Stats.ToolCallCount != 2 {
		t.Fatalf("unexpected tool call count: %d", sess.Stats.ToolCallCount)
	}
	if sess.Stats.FileOpCount != 1 {
		t.Fatalf("unexpected file op count: %d", sess.Stats.FileOpCount)
	}
}

func TestParseMergesSubagents(t *testing.T) {
	sess, err := New().Parse(fixturePath("0a1b2c3d.jsonl"))
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}

	if len(sess.Events) != 4 {
		t.Fatalf("expected 4 events (message, bracket pair, child message), got %d", len(sess.Events))
	}
	if sess.Events[0].Type != trace.EventUserMessage {
		t.Fatalf("unexpected first event: %s", sess.Events[0].Type)
	}

	start := sess.Events[1]
	if start.Type != trace.EventTaskStart || start.TaskID == "" {
		t.Fatalf("unexpected bracket open: %+v", start)
	}
	child := sess.Events[2]
	if child.Type != trace.EventAgentMessage {
		t.Fatalf("unexpected child event: %s", child.Type)
	}
	if child.TaskID != start.TaskID {
		t.Fatalf("child not tagged with bracket task id: %q vs %q", child.TaskID, start.TaskID)
	}
	if !strings.HasPrefix(child.ID, start.TaskID+":") {
		t.Fatalf("child id not re-namespaced: %q", child.ID)
	}
	end := sess.Events[3]
	if end.Type != trace.EventTaskEnd || end.TaskID != start.TaskID {
		t.Fatalf("unexpected bracket close: %+v", end)
	}

	if len(sess.Context.RelatedSessionIDs) != 1 || sess.Context.RelatedSessionIDs[0] != "child-session" {
		t.Fatalf("unexpected related sessions: %v", sess.Context.RelatedSessionIDs)
	}
	if sess.Stats.MessageCount != 2 {
		t.Fatalf("unexpected message count: %d", sess.Stats.MessageCount)
	}
	if sess.Stats.TaskCount != 1 {
		t.Fatalf("unexpected task count: %d", sess.Stats.TaskCount)
	}
}

func TestParseMissingFile(t *testing.T) {
	if _, err := New().Parse(fixturePath("does-not-exist.jsonl")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
