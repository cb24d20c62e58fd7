package ingest

// CallRef ties an opaque call id back to the event that recorded the call.
type CallRef struct {
	EventID string
	Tool    string
}

// CallTable correlates tool-call records with their later result records
// within one parse pass. A table is created per pass and threaded explicitly
// through the pass; it is never shared between sessions.
type CallTable struct {
	refs    map[string]CallRef
	last    CallRef
	hasLast bool
}

// NewCallTable returns an empty table.
func NewCallTable() *CallTable {
	return &CallTable{refs: make(map[string]CallRef)}
}

// Record remembers the event that carried a tool call. An empty callID still
// updates the most-recent slot used by id-less result records.
func (t *CallTable) Record(callID, eventID, tool string) {
	ref := CallRef{EventID: eventID, Tool: tool}
	if callID != "" {
		t.refs[callID] = ref
	}
	t.last = ref
	t.hasLast = true
}

// Resolve looks up the call a result record refers to. An empty callID falls
// back to the most recently recorded call, which is correct for formats that
// allow only one call in flight. An unknown non-empty id misses.
func (t *CallTable) Resolve(callID string) (CallRef, bool) {
	if callID != "" {
		ref, ok := t.refs[callID]
		return ref, ok
	}
	if t.hasLast {
		return t.last, true
	}
	return CallRef{}, false
}
