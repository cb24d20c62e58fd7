package trace

import (
	"testing"
	"time"
)

func TestSortEventsStable(t *testing.T) {
	shared := ts(5)
	events := []Event{
		{ID: "late", Timestamp: ts(9), Type: EventAgentMessage},
		{ID: "tie-a", Timestamp: shared, Type: EventUserMessage},
		{ID: "tie-b", Timestamp: shared, Type: EventAgentMessage},
		{ID: "early", Timestamp: ts(1), Type: EventUserMessage},
	}

	SortEvents(events)

	order := []string{"early", "tie-a", "tie-b", "late"}
	for i, want := range order {
		if events[i].ID != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, events[i].ID)
		}
	}
}

func TestMergeChild(t *testing.T) {
	parent := &Session{
		SessionID: "parent-1",
		Events: []Event{
			{ID: "p1", Timestamp: ts(0), Type: EventUserMessage, Content: TextContent("do the thing")},
		},
	}
	child := &Session{
		SessionID: "child-1",
		Context:   Context{Title: "explore the repo"},
		Events: []Event{
			{ID: "c1", Timestamp: ts(2), Type: EventAgentMessage, Content: TextContent("looking around")},
			{ID: "c2", Timestamp: ts(4), Type: EventShellCommand, Command: "ls"},
		},
	}

	MergeChild(parent, child, "task-abc")
	parent.Finalize()

	if len(parent.Events) != 5 {
		t.Fatalf("expected 5 events after merge, got %d", len(parent.Events))
	}

	start := parent.Events[1]
	if start.Type != EventTaskStart || start.TaskID != "task-abc" {
		t.Fatalf("expected task_start for task-abc, got %+v", start)
	}
	if start.Title != "explore the repo" {
		t.Fatalf("expected child title on bracket, got %q", start.Title)
	}

	merged := parent.Events[2]
	if merged.ID != "task-abc:c1" {
		t.Fatalf("expected re-namespaced event id, got %q", merged.ID)
	}
	if merged.TaskID != "task-abc" {
		t.Fatalf("expected child event tagged with task id, got %q", merged.TaskID)
	}

	closing := parent.Events[4]
	if closing.Type != EventTaskEnd || closing.TaskID != "task-abc" {
		t.Fatalf("expected task_end for task-abc, got %+v", closing)
	}
	if closing.DurationMS != 2000 {
		t.Fatalf("expected 2000ms bracket duration, got %d", closing.DurationMS)
	}

	if len(parent.Context.RelatedSessionIDs) != 1 || parent.Context.RelatedSessionIDs[0] != "child-1" {
		t.Fatalf("expected child session recorded as related, got %v", parent.Context.RelatedSessionIDs)
	}
}

func TestMergeChildCountsMessages(t *testing.T) {
	parent := &Session{
		SessionID: "parent-1",
		Events: []Event{
			{ID: "p1", Timestamp: ts(0), Type: EventUserMessage, Content: TextContent("go")},
		},
	}
	child := &Session{
		SessionID: "child-1",
		Events: []Event{
			{ID: "c1", Timestamp: ts(3), Type: EventAgentMessage, Content: TextContent("done")},
		},
	}

	MergeChild(parent, child, "task-x")
	parent.Finalize()

	if len(parent.Events) != 4 {
		t.Fatalf("expected 4 events (message, start, message, end), got %d", len(parent.Events))
	}
	if parent.Stats.MessageCount != 2 {
		t.Fatalf("expected message_count 2, got %d", parent.Stats.MessageCount)
	}
	if parent.Stats.TaskCount != 1 {
		t.Fatalf("expected task_count 1, got %d", parent.Stats.TaskCount)
	}
}

func TestMergeChildEmpty(t *testing.T) {
	parent := &Session{SessionID: "parent-1"}
	MergeChild(parent, &Session{SessionID: "child-1"}, "task-x")
	if len(parent.Events) != 0 {
		t.Fatalf("expected empty child to add nothing, got %d events", len(parent.Events))
	}
}

func TestMergeChildClampsNegativeDuration(t *testing.T) {
	parent := &Session{SessionID: "parent-1"}
	child := &Session{
		SessionID: "child-1",
		Events: []Event{
			{ID: "c1", Timestamp: ts(9), Type: EventAgentMessage},
			{ID: "c2", Timestamp: ts(1), Type: EventAgentMessage},
		},
	}

	MergeChild(parent, child, "task-x")

	var closing *Event
	for i := range parent.Events {
		if parent.Events[i].Type == EventTaskEnd {
			closing = &parent.Events[i]
		}
	}
	if closing == nil {
		t.Fatalf("expected a task_end bracket")
	}
	if closing.DurationMS != 0 {
		t.Fatalf("expected clamped duration 0, got %d", closing.DurationMS)
	}
}

func TestAbsorbPartial(t *testing.T) {
	sess := &Session{SessionID: "live-1"}

	sess.Absorb(Partial{
		Agent:   &Agent{Tool: "claude-code", Model: "claude-sonnet-4"},
		Context: &Context{Title: "first prompt", CreatedAt: ts(0)},
		Events: []Event{
			{ID: "e1", Timestamp: ts(0), Type: EventUserMessage},
		},
	})
	sess.Absorb(Partial{
		Agent:   &Agent{Tool: "other-tool", Version: "1.2.3"},
		Context: &Context{Title: "second prompt", UpdatedAt: ts(8)},
		Events: []Event{
			{ID: "e2", Timestamp: ts(8), Type: EventAgentMessage},
		},
	})

	if sess.Agent.Tool != "claude-code" {
		t.Fatalf("expected first tool to win, got %q", sess.Agent.Tool)
	}
	if sess.Agent.Version != "1.2.3" {
		t.Fatalf("expected empty version to be filled, got %q", sess.Agent.Version)
	}
	if sess.Context.Title != "first prompt" {
		t.Fatalf("expected first title to win, got %q", sess.Context.Title)
	}
	if !sess.Context.UpdatedAt.Equal(ts(8)) {
		t.Fatalf("expected updated_at to advance, got %v", sess.Context.UpdatedAt)
	}
	if len(sess.Events) != 2 {
		t.Fatalf("expected 2 absorbed events, got %d", len(sess.Events))
	}
}

func TestFinalizeSetsUpdatedAt(t *testing.T) {
	sess := &Session{
		SessionID: "s1",
		Events: []Event{
			{ID: "e2", Timestamp: ts(7), Type: EventAgentMessage},
			{ID: "e1", Timestamp: ts(2), Type: EventUserMessage},
		},
	}
	sess.Finalize()

	if sess.Events[0].ID != "e1" {
		t.Fatalf("expected sorted events, got %s first", sess.Events[0].ID)
	}
	if !sess.Context.UpdatedAt.Equal(ts(7)) {
		t.Fatalf("expected updated_at from last event, got %v", sess.Context.UpdatedAt)
	}
	if sess.Stats.EventCount != 2 {
		t.Fatalf("expected stats recomputed, got %+v", sess.Stats)
	}
}

func BenchmarkComputeStats(b *testing.B) {
	events := make([]Event, 0, 1000)
	base := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 1000; i++ {
		events = append(events, Event{
			ID:        "e",
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Type:      EventAgentMessage,
		})
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ComputeStats(events)
	}
}
