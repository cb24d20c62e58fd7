// Package claude parses Claude Code project transcripts into canonical
// sessions. Transcripts are JSONL files under ~/.claude/projects/<project>/,
// one record per line, with subagent transcripts in a sibling directory named
// after the parent file's stem.
package claude

import "encoding/json"

// EntryType represents the top-level "type" field values in Claude Code JSONL logs.
type EntryType string

const (
	EntryTypeUser      EntryType = "user"
	EntryTypeAssistant EntryType = "assistant"
	EntryTypeSystem    EntryType = "system"
	EntryTypeSummary   EntryType = "summary"
)

// ContentBlockType represents the "type" field in content blocks.
type ContentBlockType string

const (
	ContentBlockTypeText       ContentBlockType = "text"
	ContentBlockTypeThinking   ContentBlockType = "thinking"
	ContentBlockTypeToolUse    ContentBlockType = "tool_use"
	ContentBlockTypeToolResult ContentBlockType = "tool_result"
)

// rawEntry is one JSONL record. Only the fields the parser reads are declared;
// unknown fields are ignored so that newer log versions still parse.
type rawEntry struct {
	Type        string          `json:"type"`
	UUID        string          `json:"uuid"`
	SessionID   string          `json:"sessionId"`
	CWD         string          `json:"cwd"`
	GitBranch   string          `json:"gitBranch"`
	Version     string          `json:"version"`
	Timestamp   string          `json:"timestamp"`
	IsSidechain bool            `json:"isSidechain"`
	IsMeta      bool            `json:"isMeta"`
	Subtype     string          `json:"subtype"`
	DurationMS  int64           `json:"durationMs"`
	Content     json.RawMessage `json:"content"` // system records carry text here
	Message     json.RawMessage `json:"message"`
	ToolResult  json.RawMessage `json:"toolUseResult"`
	Summary     string          `json:"summary"` // summary records only
}

// messagePayload is the "message" object of user and assistant records.
type messagePayload struct {
	Model   string          `json:"model"`
	Content json.RawMessage `json:"content"` // string or []contentBlock
	Usage   *usagePayload   `json:"usage"`
}

// usagePayload carries per-message token accounting.
type usagePayload struct {
	InputTokens              int64 `json:"input_tokens"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
}

// contentBlock is one element of a message content array.
type contentBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	Thinking string `json:"thinking"`

	// tool_use fields.
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`

	// tool_result fields.
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"` // string or nested blocks
	IsError   bool            `json:"is_error"`
}

// toolResultMeta is the record-level "toolUseResult" object that accompanies
// tool_result blocks with execution detail the block itself omits.
type toolResultMeta struct {
	Stdout      string `json:"stdout"`
	Stderr      string `json:"stderr"`
	Interrupted bool   `json:"interrupted"`
	IsImage     bool   `json:"isImage"`
}
