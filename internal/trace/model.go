// Package trace defines the canonical session model every source format is
// normalized into, together with the folds that finalize a session: stable
// ordering, aggregate stats, open-task reconciliation and subagent splicing.
package trace

import "time"

// Session is one normalized transcript. A session is owned by whoever holds
// it: the producing parser mutates it only while building it, and every
// downstream consumer treats it as read-only.
type Session struct {
	SessionID string  `json:"session_id"`
	Agent     Agent   `json:"agent"`
	Context   Context `json:"context"`
	Events    []Event `json:"events"`
	Stats     Stats   `json:"stats"`
}

// Agent identifies the tool and model that produced a transcript.
type Agent struct {
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
	Tool     string `json:"tool,omitempty"`
	Version  string `json:"version,omitempty"`
}

// Context carries session-level metadata that lives outside the timeline.
type Context struct {
	Title             string            `json:"title,omitempty"`
	Description       string            `json:"description,omitempty"`
	Tags              []string          `json:"tags,omitempty"`
	CreatedAt         time.Time         `json:"created_at,omitzero"`
	UpdatedAt         time.Time         `json:"updated_at,omitzero"`
	RelatedSessionIDs []string          `json:"related_session_ids,omitempty"`
	Attrs             map[string]string `json:"attributes,omitempty"`
}

// Attribute keys shared by the format components. Values are always strings;
// numeric attributes (token counts, exit codes) are decimal strings.
const (
	AttrChannel      = "channel"
	AttrSessionID    = "session_id"
	AttrSourceCallID = "source_call_id"
	AttrSynthetic    = "synthetic"
	AttrSchema       = "schema"
	AttrSubtype      = "subtype"
	AttrInputTokens  = "input_tokens"
	AttrOutputTokens = "output_tokens"
	AttrTotalTokens  = "total_tokens"
	AttrExitCode     = "exit_code"
	AttrCWD          = "cwd"
	AttrGitBranch    = "git_branch"
)

// SetAttr records a context attribute, allocating the map on first use.
func (c *Context) SetAttr(key, value string) {
	if c.Attrs == nil {
		c.Attrs = make(map[string]string)
	}
	c.Attrs[key] = value
}

// FillAttr records a context attribute only when it is not already set,
// implementing the first-non-empty-wins rule for header metadata.
func (c *Context) FillAttr(key, value string) {
	if value == "" {
		return
	}
	if _, ok := c.Attrs[key]; ok {
		return
	}
	c.SetAttr(key, value)
}

// Finalize sorts the timeline, closes any open task bracket and recomputes
// aggregate stats. Parsers call it exactly once before returning a session;
// callers that mutate Events afterwards must call it again.
func (s *Session) Finalize() {
	SortEvents(s.Events)
	s.Events = CloseOpenTasks(s.Events, s.Context.CreatedAt)
	if s.Context.UpdatedAt.IsZero() && len(s.Events) > 0 {
		s.Context.UpdatedAt = s.Events[len(s.Events)-1].Timestamp
	}
	s.Stats = ComputeStats(s.Events)
}
