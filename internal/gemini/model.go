// Package gemini parses Gemini CLI chat transcripts.
//
// The CLI keeps one chat per file under ~/.gemini/tmp/<project-hash>/chats/.
// Older builds write a single JSON document holding the whole conversation;
// newer builds write line-delimited JSON with one message per line and an
// optional leading metadata record.
package gemini

import "encoding/json"

// Message types recorded by the CLI.
const (
	messageUser    = "user"
	messageGemini  = "gemini"
	messageThought = "thought"
	messageMeta    = "metadata" // jsonl header line only
)

// chatDocument is the single-document container.
type chatDocument struct {
	SessionID   string       `json:"sessionId"`
	ProjectHash string       `json:"projectHash"`
	StartTime   string       `json:"startTime"`
	LastUpdated string       `json:"lastUpdated"`
	Messages    []rawMessage `json:"messages"`
}

// rawMessage is one chat message. The jsonl layout writes the same shape one
// record per line, so both sub-parsers share it.
type rawMessage struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Content   string          `json:"content"`
	Thoughts  json.RawMessage `json:"thoughts"`
	Tokens    *tokenCounts    `json:"tokens"`
	Timestamp string          `json:"timestamp"`
	SessionID string          `json:"sessionId"` // metadata record only
}

type tokenCounts struct {
	Input  int64 `json:"input"`
	Output int64 `json:"output"`
	Total  int64 `json:"total"`
}

// thoughtPart is one entry of a structured thoughts list attached to a
// gemini message in newer transcripts.
type thoughtPart struct {
	Subject     string `json:"subject"`
	Description string `json:"description"`
}
