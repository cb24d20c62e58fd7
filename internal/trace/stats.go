package trace

import (
	"strconv"
	"time"
)

// Stats aggregates a session timeline. It is always derived from Events by
// ComputeStats and never maintained incrementally.
type Stats struct {
	EventCount        int       `json:"event_count"`
	MessageCount      int       `json:"message_count"`
	UserMessageCount  int       `json:"user_message_count"`
	AgentMessageCount int       `json:"agent_message_count"`
	ToolCallCount     int       `json:"tool_call_count"`
	ToolErrorCount    int       `json:"tool_error_count"`
	FileOpCount       int       `json:"file_op_count"`
	TaskCount         int       `json:"task_count"`
	InputTokens       int64     `json:"input_tokens,omitempty"`
	OutputTokens      int64     `json:"output_tokens,omitempty"`
	TotalTokens       int64     `json:"total_tokens,omitempty"`
	DurationMS        int64     `json:"duration_ms,omitempty"`
	FirstEventAt      time.Time `json:"first_event_at,omitzero"`
	LastEventAt       time.Time `json:"last_event_at,omitzero"`
}

// ComputeStats folds an event list into aggregate counters. The fold is
// deterministic and idempotent: the same list always yields the same values.
func ComputeStats(events []Event) Stats {
	var st Stats
	st.EventCount = len(events)

	for i := range events {
		ev := &events[i]
		switch ev.Type {
		case EventUserMessage:
			st.UserMessageCount++
		case EventAgentMessage:
			st.AgentMessageCount++
		case EventToolResult:
			if ev.IsError {
				st.ToolErrorCount++
			}
		case EventTaskStart:
			st.TaskCount++
		case EventFileRead, EventFileEdit, EventFileCreate, EventFileDelete:
			st.FileOpCount++
		}
		if ev.IsToolInvocation() {
			st.ToolCallCount++
		}

		st.InputTokens += attrInt64(ev, AttrInputTokens)
		st.OutputTokens += attrInt64(ev, AttrOutputTokens)
		st.TotalTokens += attrInt64(ev, AttrTotalTokens)

		if ev.Timestamp.IsZero() {
			continue
		}
		if st.FirstEventAt.IsZero() || ev.Timestamp.Before(st.FirstEventAt) {
			st.FirstEventAt = ev.Timestamp
		}
		if ev.Timestamp.After(st.LastEventAt) {
			st.LastEventAt = ev.Timestamp
		}
	}

	st.MessageCount = st.UserMessageCount + st.AgentMessageCount
	if st.TotalTokens == 0 {
		st.TotalTokens = st.InputTokens + st.OutputTokens
	}
	if !st.FirstEventAt.IsZero() && !st.LastEventAt.IsZero() {
		if d := st.LastEventAt.Sub(st.FirstEventAt); d > 0 {
			st.DurationMS = d.Milliseconds()
		}
	}
	return st
}

func attrInt64(ev *Event, key string) int64 {
	raw := ev.Attrs[key]
	if raw == "" {
		return 0
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
