package trace

import (
	"reflect"
	"testing"
	"time"
)

func ts(sec int) time.Time {
	return time.Date(2025, 3, 14, 9, 0, sec, 0, time.UTC)
}

func TestComputeStats(t *testing.T) {
	exit := 0
	events := []Event{
		{ID: "e1", Timestamp: ts(0), Type: EventUserMessage, Content: TextContent("run the tests")},
		{ID: "e2", Timestamp: ts(1), Type: EventShellCommand, Tool: "bash", Command: "go test ./..."},
		{ID: "e3", Timestamp: ts(3), Type: EventToolResult, Tool: "bash", CallID: "e2", ExitCode: &exit},
		{ID: "e4", Timestamp: ts(4), Type: EventAgentMessage, Content: TextContent("all green"),
			Attrs: map[string]string{AttrInputTokens: "120", AttrOutputTokens: "30", AttrTotalTokens: "150"}},
		{ID: "e5", Timestamp: ts(5), Type: EventFileEdit, Tool: "edit", Path: "main.go"},
		{ID: "e6", Timestamp: ts(6), Type: EventToolResult, Tool: "edit", CallID: "e5", IsError: true},
	}

	st := ComputeStats(events)

	if st.EventCount != 6 {
		t.Fatalf("expected 6 events, got %d", st.EventCount)
	}
	if st.MessageCount != 2 {
		t.Fatalf("expected 2 messages, got %d", st.MessageCount)
	}
	if st.UserMessageCount != 1 || st.AgentMessageCount != 1 {
		t.Fatalf("unexpected message split: user=%d agent=%d", st.UserMessageCount, st.AgentMessageCount)
	}
	if st.ToolCallCount != 2 {
		t.Fatalf("expected 2 tool calls, got %d", st.ToolCallCount)
	}
	if st.ToolErrorCount != 1 {
		t.Fatalf("expected 1 tool error, got %d", st.ToolErrorCount)
	}
	if st.FileOpCount != 1 {
		t.Fatalf("expected 1 file op, got %d", st.FileOpCount)
	}
	if st.InputTokens != 120 || st.OutputTokens != 30 || st.TotalTokens != 150 {
		t.Fatalf("unexpected token totals: %d/%d/%d", st.InputTokens, st.OutputTokens, st.TotalTokens)
	}
	if st.DurationMS != 6000 {
		t.Fatalf("expected 6000ms duration, got %d", st.DurationMS)
	}
	if !st.FirstEventAt.Equal(ts(0)) || !st.LastEventAt.Equal(ts(6)) {
		t.Fatalf("unexpected bounds: %v .. %v", st.FirstEventAt, st.LastEventAt)
	}
}

func TestComputeStatsIdempotent(t *testing.T) {
	events := []Event{
		{ID: "e1", Timestamp: ts(0), Type: EventUserMessage, Content: TextContent("hello")},
		{ID: "e2", Timestamp: ts(2), Type: EventAgentMessage, Content: TextContent("hi"),
			Attrs: map[string]string{AttrTotalTokens: "42"}},
	}

	first := ComputeStats(events)
	second := ComputeStats(events)

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("stats differ across recomputation:\n%+v\n%+v", first, second)
	}
}

func TestComputeStatsEmpty(t *testing.T) {
	st := ComputeStats(nil)
	if st.EventCount != 0 || st.DurationMS != 0 {
		t.Fatalf("expected zero stats, got %+v", st)
	}
	if !st.FirstEventAt.IsZero() || !st.LastEventAt.IsZero() {
		t.Fatalf("expected zero bounds, got %+v", st)
	}
}

func TestComputeStatsIgnoresBadTokenAttr(t *testing.T) {
	events := []Event{
		{ID: "e1", Timestamp: ts(0), Type: EventAgentMessage,
			Attrs: map[string]string{AttrTotalTokens: "not-a-number"}},
	}
	st := ComputeStats(events)
	if st.TotalTokens != 0 {
		t.Fatalf("expected malformed token attr to count as 0, got %d", st.TotalTokens)
	}
}
