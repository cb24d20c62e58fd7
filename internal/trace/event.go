package trace

import (
	"encoding/json"
	"strings"
	"time"
)

// EventType tags the variant of a timeline entry.
type EventType string

// Event type variants. The file, shell, search and fetch kinds are
// specializations of a tool call; results always arrive as EventToolResult.
const (
	EventUserMessage   EventType = "user_message"
	EventAgentMessage  EventType = "agent_message"
	EventSystemMessage EventType = "system_message"
	EventThinking      EventType = "thinking"
	EventToolCall      EventType = "tool_call"
	EventToolResult    EventType = "tool_result"
	EventFileRead      EventType = "file_read"
	EventFileEdit      EventType = "file_edit"
	EventFileCreate    EventType = "file_create"
	EventFileDelete    EventType = "file_delete"
	EventShellCommand  EventType = "shell_command"
	EventCodeSearch    EventType = "code_search"
	EventFileSearch    EventType = "file_search"
	EventWebSearch     EventType = "web_search"
	EventWebFetch      EventType = "web_fetch"
	EventTaskStart     EventType = "task_start"
	EventTaskEnd       EventType = "task_end"
	EventCustom        EventType = "custom"
)

// Event is one entry on a session timeline. Variant-specific fields are kept
// flat; only the fields matching Type are populated.
type Event struct {
	ID         string            `json:"event_id"`
	Timestamp  time.Time         `json:"timestamp,omitzero"`
	Type       EventType         `json:"event_type"`
	TaskID     string            `json:"task_id,omitempty"`
	Content    []Content         `json:"content,omitempty"`
	DurationMS int64             `json:"duration_ms,omitempty"`
	Attrs      map[string]string `json:"attributes,omitempty"`

	// Tool names the invoked tool for EventToolCall and EventToolResult.
	Tool string `json:"tool,omitempty"`
	// IsError marks a failed tool result.
	IsError bool `json:"is_error,omitempty"`
	// CallID references the event id of the originating call, resolved
	// during the parse pass that produced both events.
	CallID   string `json:"call_id,omitempty"`
	Path     string `json:"path,omitempty"`
	Command  string `json:"command,omitempty"`
	ExitCode *int   `json:"exit_code,omitempty"`
	Query    string `json:"query,omitempty"`
	Pattern  string `json:"pattern,omitempty"`
	URL      string `json:"url,omitempty"`
	Title    string `json:"title,omitempty"`
	Summary  string `json:"summary,omitempty"`
	Kind     string `json:"kind,omitempty"`
}

// ContentType distinguishes the block kinds inside an event.
type ContentType string

const (
	ContentText ContentType = "text"
	ContentCode ContentType = "code"
	ContentJSON ContentType = "json"
)

// Content is one block of event payload. Source text is preserved verbatim.
type Content struct {
	Type      ContentType     `json:"type"`
	Text      string          `json:"text,omitempty"`
	Language  string          `json:"language,omitempty"`
	StartLine int             `json:"start_line,omitempty"`
	JSON      json.RawMessage `json:"json,omitempty"`
}

// TextContent wraps plain text in a single content block.
func TextContent(text string) []Content {
	return []Content{{Type: ContentText, Text: text}}
}

// CodeContent wraps a code snippet in a single content block.
func CodeContent(code, language string) []Content {
	return []Content{{Type: ContentCode, Text: code, Language: language}}
}

// JSONContent wraps raw structured data in a single content block.
func JSONContent(raw json.RawMessage) []Content {
	return []Content{{Type: ContentJSON, JSON: raw}}
}

// SetAttr records an event attribute, allocating the map on first use.
func (e *Event) SetAttr(key, value string) {
	if e.Attrs == nil {
		e.Attrs = make(map[string]string)
	}
	e.Attrs[key] = value
}

// Attr returns the named attribute or the empty string.
func (e *Event) Attr(key string) string {
	return e.Attrs[key]
}

// Text concatenates the text of all non-JSON content blocks.
func (e *Event) Text() string {
	var b strings.Builder
	for _, block := range e.Content {
		if block.Type == ContentJSON {
			continue
		}
		if b.Len() > 0 && block.Text != "" {
			b.WriteString("\n")
		}
		b.WriteString(block.Text)
	}
	return b.String()
}

// IsMessage reports whether the event is a user or agent utterance.
func (e Event) IsMessage() bool {
	return e.Type == EventUserMessage || e.Type == EventAgentMessage
}

// IsToolInvocation reports whether the event belongs to the tool-call family,
// including the specialized file, shell, search and fetch kinds.
func (e Event) IsToolInvocation() bool {
	switch e.Type {
	case EventToolCall, EventShellCommand,
		EventFileRead, EventFileEdit, EventFileCreate, EventFileDelete,
		EventCodeSearch, EventFileSearch, EventWebSearch, EventWebFetch:
		return true
	}
	return false
}

// Role buckets the event for display, filtering and deduplication.
// One of "user", "agent", "system" or "tool".
func (e Event) Role() string {
	switch e.Type {
	case EventUserMessage:
		return "user"
	case EventAgentMessage, EventThinking:
		return "agent"
	case EventSystemMessage, EventTaskStart, EventTaskEnd, EventCustom:
		return "system"
	default:
		return "tool"
	}
}
