// Package opencode parses opencode storage trees into canonical sessions.
// opencode persists one JSON document per entity under storage/session/:
// an info doc per session, a message doc per message, and, in newer
// versions, a part doc per message part. Older versions inline the parts
// array in the message doc; both layouts are read.
package opencode

import "encoding/json"

// Part types found in message parts.
const (
	partText       = "text"
	partReasoning  = "reasoning"
	partTool       = "tool"
	partStepStart  = "step-start"
	partStepFinish = "step-finish"
)

// Tool part states.
const (
	stateCompleted = "completed"
	stateError     = "error"
)

// infoDoc is storage/session/info/<sessionID>.json.
type infoDoc struct {
	ID       string `json:"id"`
	Version  string `json:"version"`
	Title    string `json:"title"`
	ParentID string `json:"parentID"`
	Time     struct {
		Created int64 `json:"created"`
		Updated int64 `json:"updated"`
	} `json:"time"`
}

// messageDoc is storage/session/message/<sessionID>/<messageID>.json.
type messageDoc struct {
	ID         string    `json:"id"`
	Role       string    `json:"role"`
	SessionID  string    `json:"sessionID"`
	ModelID    string    `json:"modelID"`
	ProviderID string    `json:"providerID"`
	Parts      []partDoc `json:"parts"`
	Time       struct {
		Created   int64 `json:"created"`
		Completed int64 `json:"completed"`
	} `json:"time"`
}

// partDoc is one message part, inline or from
// storage/session/part/<messageID>/<partID>.json.
type partDoc struct {
	ID        string     `json:"id"`
	MessageID string     `json:"messageID"`
	Type      string     `json:"type"`
	Text      string     `json:"text"`
	Tool      string     `json:"tool"`
	CallID    string     `json:"callID"`
	State     *toolState `json:"state"`
}

// toolState is the lifecycle record of a tool part. Input is kept raw so the
// call event preserves the exact payload.
type toolState struct {
	Status string          `json:"status"`
	Input  json.RawMessage `json:"input"`
	Output string          `json:"output"`
	Title  string          `json:"title"`
	Time   struct {
		Start int64 `json:"start"`
		End   int64 `json:"end"`
	} `json:"time"`
}
