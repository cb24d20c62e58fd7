// Package cline parses Cline task directories into canonical sessions. Each
// task directory holds two sibling documents: api_conversation_history.json,
// the Anthropic-shaped message array sent to the provider, and
// ui_messages.json, the event log behind the extension UI. The API document
// is authoritative; the UI document fills in what the API never sees
// (commands, their output, request accounting) and echoes utterances that go
// through cross-channel deduplication.
package cline

import "encoding/json"

const (
	apiHistoryFile = "api_conversation_history.json"
	uiMessagesFile = "ui_messages.json"
	taskIndexFile  = "task_history.json"
)

// Channel names recorded on events for cross-channel deduplication.
const (
	channelAPI = "api"
	channelUI  = "ui"
)

// apiMessage is one entry of the API document. Content is either a block
// array or a bare string.
type apiMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
	TS      int64           `json:"ts"`
}

// apiBlock is one Anthropic content block.
type apiBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	Thinking  string          `json:"thinking"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"`
	IsError   bool            `json:"is_error"`
}

// uiMessage is one entry of the UI document.
type uiMessage struct {
	TS   int64  `json:"ts"`
	Type string `json:"type"`
	Say  string `json:"say"`
	Ask  string `json:"ask"`
	Text string `json:"text"`
}

// followupPayload is the JSON text of an ask:followup record. Older versions
// wrote the bare question string instead.
type followupPayload struct {
	Question string `json:"question"`
	Selected string `json:"selected"`
}

// apiReqPayload is the JSON text of a say:api_req_started record.
type apiReqPayload struct {
	Request    string  `json:"request"`
	TokensIn   int64   `json:"tokensIn"`
	TokensOut  int64   `json:"tokensOut"`
	CacheReads int64   `json:"cacheReads"`
	Cost       float64 `json:"cost"`
}

// taskEntry is one record of the optional task_history.json index, which
// appears either bare or under an "entries" key.
type taskEntry struct {
	ID        string `json:"id"`
	TS        int64  `json:"ts"`
	Task      string `json:"task"`
	TokensIn  int64  `json:"tokensIn"`
	TokensOut int64  `json:"tokensOut"`
}
