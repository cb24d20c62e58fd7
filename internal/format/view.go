package format

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"agenttrace/internal/trace"
)

// EventLabel returns the display label for an event: the event type, refined
// with the tool name for generic calls and the kind for custom records.
func EventLabel(event trace.Event) string {
	switch {
	case event.Type == trace.EventToolCall && event.Tool != "":
		return fmt.Sprintf("tool_call(%s)", event.Tool)
	case event.Type == trace.EventToolResult && event.Tool != "":
		return fmt.Sprintf("tool_result(%s)", event.Tool)
	case event.Type == trace.EventCustom && event.Kind != "":
		return fmt.Sprintf("custom(%s)", event.Kind)
	default:
		return string(event.Type)
	}
}

// RenderEventLines returns the formatted body lines for a timeline event.
// The variant field carries the signal for specialized tool kinds, so their
// raw JSON input blocks are suppressed; generic calls show the full input.
func RenderEventLines(event trace.Event, wrapWidth int) []string {
	var lines []string
	includeJSON := true

	switch event.Type {
	case trace.EventFileRead, trace.EventFileEdit, trace.EventFileCreate, trace.EventFileDelete:
		if event.Path != "" {
			lines = append(lines, "Path: "+event.Path)
			includeJSON = false
		}
	case trace.EventShellCommand:
		if event.Command != "" {
			lines = append(lines, "$ "+event.Command)
			includeJSON = false
		}
	case trace.EventCodeSearch, trace.EventWebSearch:
		if event.Query != "" {
			lines = append(lines, "Query: "+event.Query)
			includeJSON = false
		}
	case trace.EventFileSearch:
		if event.Pattern != "" {
			lines = append(lines, "Pattern: "+event.Pattern)
			includeJSON = false
		}
	case trace.EventWebFetch:
		if event.URL != "" {
			lines = append(lines, "URL: "+event.URL)
			includeJSON = false
		}
	case trace.EventTaskStart:
		if event.Title != "" {
			lines = append(lines, "Task: "+event.Title)
		}
	case trace.EventTaskEnd:
		if event.Summary != "" {
			lines = append(lines, strings.Split(wrapBody(event.Summary, wrapWidth), "\n")...)
		}
	}

	if body := renderBlocks(event.Content, wrapWidth, includeJSON); body != "" {
		lines = append(lines, strings.Split(body, "\n")...)
	}

	if event.ExitCode != nil && *event.ExitCode != 0 {
		lines = append(lines, fmt.Sprintf("Exit: %d", *event.ExitCode))
	}
	if event.Type == trace.EventToolResult && event.DurationMS > 0 {
		lines = append(lines, fmt.Sprintf("Took: %dms", event.DurationMS))
	}
	return lines
}

// renderBlocks joins content blocks into a printable string with optional
// wrapping. Code blocks are preformatted and never rewrapped.
func renderBlocks(blocks []trace.Content, wrapWidth int, includeJSON bool) string {
	if len(blocks) == 0 {
		return ""
	}
	parts := make([]string, 0, len(blocks))
	for _, block := range blocks {
		switch block.Type {
		case trace.ContentText:
			if text := strings.TrimSpace(block.Text); text != "" {
				parts = append(parts, wrapBody(text, wrapWidth))
			}
		case trace.ContentCode:
			if block.Text != "" {
				parts = append(parts, block.Text)
			}
		case trace.ContentJSON:
			if includeJSON {
				if formatted := formatJSON(block.JSON); formatted != "" {
					parts = append(parts, formatted)
				}
			}
		default:
			if text := strings.TrimSpace(block.Text); text != "" {
				parts = append(parts, wrapBody(text, wrapWidth))
			}
		}
	}
	return strings.Join(parts, "\n")
}

// EncodeSession writes the session as indented JSON.
func EncodeSession(w io.Writer, sess *trace.Session) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(sess)
}

// EncodeSessionLines writes the session as JSON lines: one header object
// carrying everything but the timeline, then one line per event.
func EncodeSessionLines(w io.Writer, sess *trace.Session) error {
	enc := json.NewEncoder(w)
	header := struct {
		SessionID string        `json:"session_id"`
		Agent     trace.Agent   `json:"agent"`
		Context   trace.Context `json:"context"`
		Stats     trace.Stats   `json:"stats"`
	}{sess.SessionID, sess.Agent, sess.Context, sess.Stats}
	if err := enc.Encode(header); err != nil {
		return err
	}
	for _, event := range sess.Events {
		if err := enc.Encode(event); err != nil {
			return err
		}
	}
	return nil
}

func wrapBody(text string, width int) string {
	if width <= 0 || len(text) <= width {
		return text
	}

	words := strings.Fields(text)
	if len(words) == 0 {
		return ""
	}

	var lines []string
	current := words[0]
	for _, word := range words[1:] {
		if len(current)+1+len(word) > width {
			lines = append(lines, current)
			current = word
		} else {
			current += " " + word
		}
	}
	lines = append(lines, current)

	return strings.Join(lines, "\n")
}

func formatJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err == nil {
		return buf.String()
	}
	return string(raw)
}
