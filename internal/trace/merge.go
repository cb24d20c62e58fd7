package trace

import "sort"

// SortEvents orders a timeline non-decreasing by timestamp. The sort is
// stable: events with equal timestamps keep their discovery order.
func SortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
}

// MergeChild splices a finished child session into its parent under a fresh
// task bracket: a synthetic task_start at the child's first event time, every
// child event re-namespaced and tagged with taskID, and a synthetic task_end
// at the child's last event time. An empty child is a no-op. The caller
// re-finalizes the parent after all children are merged.
func MergeChild(parent *Session, child *Session, taskID string) {
	if child == nil || len(child.Events) == 0 {
		return
	}

	start := child.Events[0].Timestamp
	end := child.Events[len(child.Events)-1].Timestamp
	var durationMS int64
	if d := end.Sub(start); d > 0 {
		durationMS = d.Milliseconds()
	}

	title := child.Context.Title
	if title == "" {
		title = child.SessionID
	}

	open := Event{
		ID:        taskID + ":start",
		Timestamp: start,
		Type:      EventTaskStart,
		TaskID:    taskID,
		Title:     title,
	}
	open.SetAttr(AttrSynthetic, "true")
	parent.Events = append(parent.Events, open)

	for _, ev := range child.Events {
		ev.ID = taskID + ":" + ev.ID
		// Brackets that originated inside the child keep their own task
		// id so their start/end pairing stays intact.
		if ev.Type != EventTaskStart && ev.Type != EventTaskEnd {
			ev.TaskID = taskID
		}
		parent.Events = append(parent.Events, ev)
	}

	closing := Event{
		ID:         taskID + ":end",
		Timestamp:  end,
		Type:       EventTaskEnd,
		TaskID:     taskID,
		Summary:    title,
		DurationMS: durationMS,
	}
	closing.SetAttr(AttrSynthetic, "true")
	parent.Events = append(parent.Events, closing)

	if child.SessionID != "" {
		parent.Context.RelatedSessionIDs = append(parent.Context.RelatedSessionIDs, child.SessionID)
	}
}
