// Package codex parses Codex CLI rollout files into canonical sessions.
// Rollouts are JSONL files under ~/.codex/sessions/YYYY/MM/DD/. Two schemas
// exist in the wild: the current one wraps every line in {timestamp, type,
// payload}; the legacy one writes a bare meta object on the first line and
// bare response items after it. The same conversation can be reported on two
// channels (response_item and event_msg), so message-like events go through
// cross-channel deduplication.
package codex

import "encoding/json"

// EntryType represents the wrapper "type" field of current-schema records.
type EntryType string

const (
	EntryTypeSessionMeta  EntryType = "session_meta"
	EntryTypeResponseItem EntryType = "response_item"
	EntryTypeEventMsg     EntryType = "event_msg"
	EntryTypeTurnContext  EntryType = "turn_context"
	EntryTypeCompacted    EntryType = "compacted"
)

// Channel names recorded on events for cross-channel deduplication.
const (
	channelResponseItem = "response_item"
	channelEventMsg     = "event_msg"
)

type rawRecord struct {
	Timestamp string          `json:"timestamp"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
}

// sessionMetaPayload is the session_meta payload; the same shape appears bare
// as the first line of legacy rollouts.
type sessionMetaPayload struct {
	ID              string `json:"id"`
	Timestamp       string `json:"timestamp"`
	CWD             string `json:"cwd"`
	Originator      string `json:"originator"`
	CLIVersion      string `json:"cli_version"`
	ParentSessionID string `json:"parent_session_id"`
}

// itemPayload covers every response_item variant; legacy rollouts write the
// same objects bare.
type itemPayload struct {
	Type      string          `json:"type"`
	Role      string          `json:"role"`
	Content   json.RawMessage `json:"content"`
	Summary   json.RawMessage `json:"summary"`
	Name      string          `json:"name"`
	Arguments string          `json:"arguments"`
	Input     string          `json:"input"`
	CallID    string          `json:"call_id"`
	Output    json.RawMessage `json:"output"`
	Action    *actionPayload  `json:"action"`
}

// actionPayload is the nested action of local_shell_call and web_search_call.
type actionPayload struct {
	Command []string `json:"command"`
	Query   string   `json:"query"`
}

// contentPart is one element of a message or reasoning content array.
type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// execOutput is the JSON envelope shell outputs are encoded as inside a
// function_call_output string.
type execOutput struct {
	Output   string        `json:"output"`
	Metadata *execMetadata `json:"metadata"`
}

type execMetadata struct {
	ExitCode        *int    `json:"exit_code"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// eventMsgPayload covers the event_msg variants the parser consumes. The
// message text has moved between the message, content and text keys across
// CLI versions.
type eventMsgPayload struct {
	Type             string          `json:"type"`
	Message          string          `json:"message"`
	Content          string          `json:"content"`
	Text             string          `json:"text"`
	Info             *tokenCountInfo `json:"info"`
	LastAgentMessage string          `json:"last_agent_message"`
	SessionID        string          `json:"session_id"`
	Model            string          `json:"model"`
}

type tokenCountInfo struct {
	TotalTokenUsage tokenUsage `json:"total_token_usage"`
	LastTokenUsage  tokenUsage `json:"last_token_usage"`
}

type tokenUsage struct {
	InputTokens       int64 `json:"input_tokens"`
	CachedInputTokens int64 `json:"cached_input_tokens"`
	OutputTokens      int64 `json:"output_tokens"`
	ReasoningTokens   int64 `json:"reasoning_output_tokens"`
	TotalTokens       int64 `json:"total_tokens"`
}

type turnContextPayload struct {
	CWD            string `json:"cwd"`
	Model          string `json:"model"`
	Effort         string `json:"effort"`
	ApprovalPolicy string `json:"approval_policy"`
}
