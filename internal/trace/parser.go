package trace

// Parser is the contract every format component implements. CanParse is a
// cheap path-based predicate (no I/O beyond existence checks); Parse performs
// all reads and returns a fully finalized session. Implementations share no
// state and are safe to call concurrently for different paths.
type Parser interface {
	// Name returns the short format name, e.g. "claude" or "codex".
	Name() string

	// CanParse reports whether path looks like a transcript of this format.
	CanParse(path string) bool

	// Parse reads the transcript at path and returns the normalized
	// session. Only an unreadable path or an undecodable whole-document
	// container fails; malformed individual records are skipped.
	Parse(path string) (*Session, error)
}

// Partial is the outcome of one incremental batch: the classification of a
// set of raw lines with no file I/O, no deduplication and no subagent search.
// Agent and Context are nil when the batch carried no header metadata.
type Partial struct {
	Agent   *Agent
	Context *Context
	Events  []Event
}

// Absorb folds a partial result into the running session. Agent and context
// fields fill first-non-empty-wins; events append in arrival order. The
// caller re-finalizes when it needs ordering or stats.
func (s *Session) Absorb(p Partial) {
	if p.Agent != nil {
		if s.Agent.Provider == "" {
			s.Agent.Provider = p.Agent.Provider
		}
		if s.Agent.Model == "" {
			s.Agent.Model = p.Agent.Model
		}
		if s.Agent.Tool == "" {
			s.Agent.Tool = p.Agent.Tool
		}
		if s.Agent.Version == "" {
			s.Agent.Version = p.Agent.Version
		}
	}
	if p.Context != nil {
		if s.Context.Title == "" {
			s.Context.Title = p.Context.Title
		}
		if s.Context.Description == "" {
			s.Context.Description = p.Context.Description
		}
		if s.Context.CreatedAt.IsZero() {
			s.Context.CreatedAt = p.Context.CreatedAt
		}
		if p.Context.UpdatedAt.After(s.Context.UpdatedAt) {
			s.Context.UpdatedAt = p.Context.UpdatedAt
		}
		for key, value := range p.Context.Attrs {
			s.Context.FillAttr(key, value)
		}
	}
	s.Events = append(s.Events, p.Events...)
}
