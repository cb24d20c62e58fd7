package view

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"agenttrace/internal/trace"
)

func sampleSession() *trace.Session {
	base := time.Date(2025, 10, 27, 12, 0, 0, 0, time.UTC)
	sess := &trace.Session{
		SessionID: "sess-view",
		Agent:     trace.Agent{Tool: "claude-code"},
	}
	sess.Events = []trace.Event{
		{ID: "evt-1", Timestamp: base, Type: trace.EventUserMessage,
			Content: trace.TextContent("hello there")},
		{ID: "evt-2", Timestamp: base.Add(5 * time.Second), Type: trace.EventAgentMessage,
			Content: trace.TextContent("hi, taking a look")},
		{ID: "evt-3", Timestamp: base.Add(10 * time.Second), Type: trace.EventFileRead,
			Tool: "read", Path: "cmd/main.go"},
		{ID: "evt-4", Timestamp: base.Add(11 * time.Second), Type: trace.EventToolResult,
			Tool: "read", CallID: "evt-3", Content: trace.TextContent("package main")},
	}
	sess.Finalize()
	return sess
}

func TestBuildViewFiltersDefaults(t *testing.T) {
	filters, err := buildViewFilters("", "")
	if err != nil {
		t.Fatalf("buildViewFilters returned error: %v", err)
	}
	if filters.types != nil || filters.roles != nil {
		t.Fatalf("default filters should pass everything, got %#v", filters)
	}
}

func TestBuildViewFiltersParsing(t *testing.T) {
	filters, err := buildViewFilters("file_read, SHELL_COMMAND", "user")
	if err != nil {
		t.Fatalf("buildViewFilters returned error: %v", err)
	}
	if len(filters.types) != 2 {
		t.Fatalf("expected 2 event types, got %#v", filters.types)
	}
	if _, ok := filters.types[trace.EventFileRead]; !ok {
		t.Fatal("file_read missing from type filter")
	}
	if len(filters.roles) != 1 {
		t.Fatalf("expected 1 role, got %#v", filters.roles)
	}

	if _, err := buildViewFilters("nonsense", ""); err == nil {
		t.Fatal("expected error for unknown event type")
	}
	if _, err := buildViewFilters("", "robot"); err == nil {
		t.Fatal("expected error for unknown role")
	}

	all, err := buildViewFilters("all", "all")
	if err != nil {
		t.Fatalf("buildViewFilters(all) returned error: %v", err)
	}
	if all.types != nil || all.roles != nil {
		t.Fatalf("all should disable filtering, got %#v", all)
	}
}

func TestEventMatchesFilters(t *testing.T) {
	filters := viewFilters{
		roles: map[string]struct{}{"agent": {}},
	}

	event := trace.Event{Type: trace.EventAgentMessage}
	if !eventMatchesFilters(event, filters) {
		t.Fatal("expected agent message to match")
	}

	event.Type = trace.EventUserMessage
	if eventMatchesFilters(event, filters) {
		t.Fatal("unexpected match for user role")
	}

	filters.types = map[trace.EventType]struct{}{trace.EventShellCommand: {}}
	event = trace.Event{Type: trace.EventShellCommand}
	if !eventMatchesFilters(event, filters) {
		t.Fatal("shell_command should match both filters")
	}
}

func TestEventRing(t *testing.T) {
	ring := newEventRing(3)
	for i := 1; i <= 5; i++ {
		ring.push(trace.Event{ID: "evt-" + strings.Repeat("x", i)})
	}
	got := ring.slice()
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].ID != "evt-xxx" || got[2].ID != "evt-xxxxx" {
		t.Fatalf("ring kept wrong window: %v", got)
	}
}

func TestRunTextFormat(t *testing.T) {
	var buf bytes.Buffer
	opts := Options{
		Session: sampleSession(),
		Out:     &buf,
	}
	if err := Run(opts); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "[#001] user_message | 2025-10-27T12:00:00Z") {
		t.Fatalf("missing first header:\n%s", out)
	}
	if !strings.Contains(out, "| hello there") {
		t.Fatalf("missing first body:\n%s", out)
	}
	if !strings.Contains(out, "[#003] file_read") {
		t.Fatalf("missing file_read header:\n%s", out)
	}
	if !strings.Contains(out, "| Path: cmd/main.go") {
		t.Fatalf("missing path line:\n%s", out)
	}
	if !strings.Contains(out, "tool_result(read)") {
		t.Fatalf("missing result label:\n%s", out)
	}
}

func TestRunTextTail(t *testing.T) {
	var buf bytes.Buffer
	opts := Options{
		Session: sampleSession(),
		Tail:    2,
		Out:     &buf,
	}
	if err := Run(opts); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	out := buf.String()
	if strings.Contains(out, "hello there") {
		t.Fatalf("tail should drop the oldest events:\n%s", out)
	}
	if !strings.Contains(out, "[#001] file_read") {
		t.Fatalf("tail window should renumber from one:\n%s", out)
	}
	if !strings.Contains(out, "[#002] tool_result(read)") {
		t.Fatalf("missing second tail event:\n%s", out)
	}
}

func TestRunTextTypeFilter(t *testing.T) {
	var buf bytes.Buffer
	opts := Options{
		Session:  sampleSession(),
		TypesArg: "user_message,agent_message",
		Out:      &buf,
	}
	if err := Run(opts); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	out := buf.String()
	if strings.Contains(out, "Path:") {
		t.Fatalf("type filter should drop tool events:\n%s", out)
	}
	if strings.Count(out, "[#0") != 2 {
		t.Fatalf("expected exactly two events:\n%s", out)
	}
}

func TestRunJSONRecomputesStats(t *testing.T) {
	var buf bytes.Buffer
	opts := Options{
		Session:  sampleSession(),
		Format:   "json",
		TypesArg: "user_message,agent_message",
		Out:      &buf,
	}
	if err := Run(opts); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	var got trace.Session
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not a session document: %v", err)
	}
	if got.SessionID != "sess-view" {
		t.Errorf("SessionID = %q", got.SessionID)
	}
	if len(got.Events) != 2 {
		t.Fatalf("len(Events) = %d, want 2", len(got.Events))
	}
	if got.Stats.EventCount != 2 {
		t.Errorf("Stats.EventCount = %d, want 2", got.Stats.EventCount)
	}
	if got.Stats.ToolCallCount != 0 {
		t.Errorf("Stats.ToolCallCount = %d, want 0", got.Stats.ToolCallCount)
	}
}

func TestRunUnsupportedFormat(t *testing.T) {
	opts := Options{
		Session: sampleSession(),
		Format:  "television",
		Out:     &bytes.Buffer{},
	}
	if err := Run(opts); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestRenderChatLinesAlignment(t *testing.T) {
	base := time.Date(2025, 10, 27, 12, 0, 0, 0, time.UTC)
	events := []trace.Event{
		{Type: trace.EventUserMessage, Timestamp: base,
			Content: trace.TextContent("hello there")},
		{Type: trace.EventAgentMessage, Timestamp: base.Add(5 * time.Second),
			Content: trace.TextContent("hi, how can I help you today?")},
		{Type: trace.EventToolResult, Tool: "bash", Timestamp: base.Add(10 * time.Second),
			Content: trace.TextContent("ok")},
	}

	lines := renderChatTranscript(events, 80, false)
	if len(lines) == 0 {
		t.Fatal("expected chat lines")
	}

	userTop := findPrefix(lines, "╭")
	if userTop < 0 {
		t.Fatalf("failed to locate user bubble: %v", lines)
	}

	next := findPrefix(lines[userTop+1:], "╭")
	if next < 0 {
		t.Fatalf("failed to locate agent bubble: %v", lines)
	}
	agentTop := next + userTop + 1

	if idx := strings.Index(lines[userTop], "╭"); idx <= 2 {
		t.Fatalf("user bubble should be right aligned, got index %d line %q", idx, lines[userTop])
	}

	if !strings.HasPrefix(lines[agentTop], "  ╭") {
		t.Fatalf("agent bubble should be left aligned: %q", lines[agentTop])
	}
}

func findPrefix(lines []string, prefix string) int {
	for i, line := range lines {
		if strings.HasPrefix(line, prefix) || strings.Contains(line, prefix) {
			return i
		}
	}
	return -1
}
