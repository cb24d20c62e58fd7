package trace

import (
	"strconv"
	"time"
)

// SyntheticTaskSummary marks a task_end fabricated because the source never
// recorded a completion.
const SyntheticTaskSummary = "(no recorded completion)"

// CloseOpenTasks appends a synthetic task_end for every task_start whose task
// id has no matching task_end, placed at the timestamp of the last event (or
// fallback when the timeline is empty). The returned slice satisfies the
// bracket invariant: every task id has exactly as many ends as starts.
func CloseOpenTasks(events []Event, fallback time.Time) []Event {
	var openOrder []string
	starts := make(map[string]int)
	ends := make(map[string]int)
	for _, ev := range events {
		if ev.TaskID == "" {
			continue
		}
		switch ev.Type {
		case EventTaskStart:
			if starts[ev.TaskID] == 0 {
				openOrder = append(openOrder, ev.TaskID)
			}
			starts[ev.TaskID]++
		case EventTaskEnd:
			ends[ev.TaskID]++
		}
	}

	closeAt := fallback
	if len(events) > 0 {
		closeAt = events[len(events)-1].Timestamp
	}

	for _, taskID := range openOrder {
		for n := ends[taskID]; n < starts[taskID]; n++ {
			id := "task-close:" + taskID
			if n > 0 {
				id += ":" + strconv.Itoa(n)
			}
			closing := Event{
				ID:        id,
				Timestamp: closeAt,
				Type:      EventTaskEnd,
				TaskID:    taskID,
				Summary:   SyntheticTaskSummary,
			}
			closing.SetAttr(AttrSynthetic, "true")
			events = append(events, closing)
		}
	}
	return events
}
