package claude

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"agenttrace/internal/ingest"
	"agenttrace/internal/log"
	"agenttrace/internal/trace"
)

const (
	// maxLineSize bounds a single JSONL record. Transcripts embed whole file
	// contents in tool results, so lines get large.
	maxLineSize = 8 * 1024 * 1024

	maxTitleLen = 120
)

// Parser reads Claude Code project transcripts.
type Parser struct{}

// New returns a Claude Code parser.
func New() *Parser { return &Parser{} }

// Name returns the format name.
func (p *Parser) Name() string { return "claude" }

// CanParse matches .jsonl transcripts inside a claude/projects store.
func (p *Parser) CanParse(path string) bool {
	if filepath.Ext(path) != ".jsonl" {
		return false
	}
	return strings.Contains(filepath.ToSlash(path), "claude/projects/")
}

// Parse reads the transcript at path, splices in the session's subagent
// transcripts and returns the finalized session.
func (p *Parser) Parse(path string) (*trace.Session, error) {
	sess, err := p.parseFile(path, true)
	if err != nil {
		return nil, err
	}
	sess.Finalize()
	return sess, nil
}

func (p *Parser) parseFile(path string, includeSubagents bool) (*trace.Session, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open session file: %w", err)
	}
	defer file.Close()

	sess := &trace.Session{Agent: trace.Agent{Provider: "anthropic", Tool: "claude-code"}}
	st := newParseState(sess)

	scanner := newScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := st.consume([]byte(line)); err != nil {
			log.L().Debug("skip transcript record",
				zap.String("path", path), zap.Int("line", lineNo), zap.Error(err))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}

	if sess.SessionID == "" {
		sess.SessionID = sessionStem(path)
	}
	if includeSubagents {
		p.mergeSubagents(sess, path)
	}
	return sess, nil
}

// mergeSubagents splices subagent transcripts recorded next to the parent
// file, in a directory named after the parent's stem. Children never recurse:
// a child's own subagent directory is not followed.
func (p *Parser) mergeSubagents(sess *trace.Session, path string) {
	dir := filepath.Join(filepath.Dir(path), sessionStem(path))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return // no subagent directory
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		childPath := filepath.Join(dir, entry.Name())
		child, err := p.parseFile(childPath, false)
		if err != nil {
			log.L().Debug("skip subagent transcript", zap.String("path", childPath), zap.Error(err))
			continue
		}
		if len(child.Events) == 0 {
			continue
		}
		child.Finalize()
		trace.MergeChild(sess, child, newTaskID(child.SessionID))
	}
}

// newTaskID returns the bracket id for a spliced subagent run, derived from
// the child session id so repeated parses produce the same timeline.
func newTaskID(childID string) string {
	if childID == "" {
		childID = uuid.NewString()
	}
	if len(childID) > 8 {
		childID = childID[:8]
	}
	return "task-" + childID
}

// parseState accumulates one transcript file. A fresh state is created per
// file; call correlation never crosses file boundaries.
type parseState struct {
	sess       *trace.Session
	calls      *ingest.CallTable
	seq        int
	recognized bool
}

func newParseState(sess *trace.Session) *parseState {
	return &parseState{sess: sess, calls: ingest.NewCallTable()}
}

// consume decodes one record and appends the events it yields. A returned
// error means the record was skipped; the transcript as a whole is unaffected.
func (st *parseState) consume(line []byte) error {
	var entry rawEntry
	if err := json.Unmarshal(line, &entry); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}

	var ts time.Time
	if entry.Timestamp != "" {
		parsed, err := ingest.ParseTime(entry.Timestamp)
		if err != nil {
			return fmt.Errorf("record timestamp: %w", err)
		}
		ts = parsed
	}
	st.fillHeader(&entry, ts)

	switch EntryType(entry.Type) {
	case EntryTypeUser:
		st.consumeUser(&entry, ts)
	case EntryTypeAssistant:
		st.consumeAssistant(&entry, ts)
	case EntryTypeSystem:
		st.consumeSystem(&entry, ts)
	case EntryTypeSummary:
		if entry.Summary != "" && st.sess.Context.Title == "" {
			st.sess.Context.Title = entry.Summary
		}
	default:
		return fmt.Errorf("unknown record type %q", entry.Type)
	}
	st.recognized = true
	return nil
}

// fillHeader applies the first-non-empty-wins rule for session metadata that
// repeats on every record.
func (st *parseState) fillHeader(entry *rawEntry, ts time.Time) {
	sess := st.sess
	if sess.SessionID == "" {
		sess.SessionID = entry.SessionID
	}
	if sess.Agent.Version == "" {
		sess.Agent.Version = entry.Version
	}
	if sess.Context.CreatedAt.IsZero() && !ts.IsZero() {
		sess.Context.CreatedAt = ts
	}
	sess.Context.FillAttr(trace.AttrCWD, entry.CWD)
	sess.Context.FillAttr(trace.AttrGitBranch, entry.GitBranch)
}

func (st *parseState) consumeUser(entry *rawEntry, ts time.Time) {
	if entry.IsMeta {
		return // injected housekeeping records, not part of the conversation
	}
	var msg messagePayload
	if len(entry.Message) > 0 {
		if err := json.Unmarshal(entry.Message, &msg); err != nil {
			return
		}
	}

	n := 0
	var text strings.Builder
	for _, block := range decodeBlocks(msg.Content) {
		switch ContentBlockType(block.Type) {
		case ContentBlockTypeToolResult:
			st.emit(entry, st.resultEvent(entry, block, ts, n))
			n++
		case ContentBlockTypeText:
			if text.Len() > 0 {
				text.WriteString("\n")
			}
			text.WriteString(block.Text)
		}
	}

	if s := strings.TrimSpace(text.String()); s != "" {
		st.emit(entry, trace.Event{
			ID:        st.eventID(entry, n),
			Timestamp: ts,
			Type:      trace.EventUserMessage,
			Content:   trace.TextContent(s),
		})
		if st.sess.Context.Title == "" && !entry.IsSidechain {
			st.sess.Context.Title = titleFromText(s)
		}
	}
}

func (st *parseState) consumeAssistant(entry *rawEntry, ts time.Time) {
	var msg messagePayload
	if len(entry.Message) > 0 {
		if err := json.Unmarshal(entry.Message, &msg); err != nil {
			return
		}
	}
	if st.sess.Agent.Model == "" {
		st.sess.Agent.Model = msg.Model
	}

	// Token accounting is per record; it attaches to the first event the
	// record yields so repeated blocks do not double count.
	usage := msg.Usage
	attachUsage := func(ev *trace.Event) {
		if usage == nil {
			return
		}
		if in := usage.InputTokens + usage.CacheCreationInputTokens + usage.CacheReadInputTokens; in > 0 {
			ev.SetAttr(trace.AttrInputTokens, strconv.FormatInt(in, 10))
		}
		if usage.OutputTokens > 0 {
			ev.SetAttr(trace.AttrOutputTokens, strconv.FormatInt(usage.OutputTokens, 10))
		}
		usage = nil
	}

	n := 0
	var pending strings.Builder
	flush := func() {
		s := strings.TrimSpace(pending.String())
		pending.Reset()
		if s == "" {
			return
		}
		ev := trace.Event{
			ID:        st.eventID(entry, n),
			Timestamp: ts,
			Type:      trace.EventAgentMessage,
			Content:   trace.TextContent(s),
		}
		n++
		attachUsage(&ev)
		st.emit(entry, ev)
	}

	for _, block := range decodeBlocks(msg.Content) {
		switch ContentBlockType(block.Type) {
		case ContentBlockTypeText:
			if pending.Len() > 0 {
				pending.WriteString("\n")
			}
			pending.WriteString(block.Text)
		case ContentBlockTypeThinking:
			flush()
			if block.Thinking == "" {
				continue
			}
			ev := trace.Event{
				ID:        st.eventID(entry, n),
				Timestamp: ts,
				Type:      trace.EventThinking,
				Content:   trace.TextContent(block.Thinking),
			}
			n++
			attachUsage(&ev)
			st.emit(entry, ev)
		case ContentBlockTypeToolUse:
			flush()
			ev := st.callEvent(entry, block, ts, n)
			n++
			attachUsage(&ev)
			st.emit(entry, ev)
		}
	}
	flush()
}

// consumeSystem emits housekeeping records that carry a payload, e.g. hook
// output or turn-duration markers. Bare lifecycle records are dropped.
func (st *parseState) consumeSystem(entry *rawEntry, ts time.Time) {
	text := blockText(entry.Content)
	if text == "" && entry.Subtype == "" {
		return
	}
	ev := trace.Event{
		ID:         st.eventID(entry, 0),
		Timestamp:  ts,
		Type:       trace.EventSystemMessage,
		DurationMS: entry.DurationMS,
	}
	if entry.Subtype != "" {
		ev.SetAttr(trace.AttrSubtype, entry.Subtype)
	}
	if text != "" {
		ev.Content = trace.TextContent(text)
	}
	st.emit(entry, ev)
}

// callEvent classifies a tool_use block and registers it for later result
// correlation.
func (st *parseState) callEvent(entry *rawEntry, block contentBlock, ts time.Time, n int) trace.Event {
	var input map[string]any
	if len(block.Input) > 0 {
		_ = json.Unmarshal(block.Input, &input)
	}
	ev := ingest.Classify(block.Name, input)
	ev.ID = st.eventID(entry, n)
	ev.Timestamp = ts
	if raw := string(block.Input); len(raw) > 0 && raw != "{}" && raw != "null" {
		ev.Content = trace.JSONContent(block.Input)
	}
	if block.ID != "" {
		ev.SetAttr(trace.AttrSourceCallID, block.ID)
	}
	st.calls.Record(block.ID, ev.ID, block.Name)
	return ev
}

// resultEvent builds a tool_result event from a tool_result block plus the
// record-level execution metadata, resolving the opaque call id back to the
// originating call event.
func (st *parseState) resultEvent(entry *rawEntry, block contentBlock, ts time.Time, n int) trace.Event {
	ev := trace.Event{
		ID:        st.eventID(entry, n),
		Timestamp: ts,
		Type:      trace.EventToolResult,
		IsError:   block.IsError,
	}
	if block.ToolUseID != "" {
		ev.SetAttr(trace.AttrSourceCallID, block.ToolUseID)
	}
	if ref, ok := st.calls.Resolve(block.ToolUseID); ok {
		ev.CallID = ref.EventID
		ev.Tool = ref.Tool
	}

	text := blockText(block.Content)
	stderr := ""
	if len(entry.ToolResult) > 0 {
		var meta toolResultMeta
		if err := json.Unmarshal(entry.ToolResult, &meta); err == nil {
			if text == "" {
				text = meta.Stdout
			}
			if text == "" && meta.IsImage {
				text = "[image]"
			}
			stderr = meta.Stderr
			if meta.Interrupted {
				ev.IsError = true
			}
		} else if text == "" {
			var s string
			if json.Unmarshal(entry.ToolResult, &s) == nil {
				text = s
			}
		}
	}
	if text != "" {
		ev.Content = trace.TextContent(text)
	}
	if stderr != "" {
		ev.Content = append(ev.Content, trace.Content{Type: trace.ContentText, Text: stderr})
	}
	return ev
}

// emit appends an event, tagging entries recorded on a sidechain.
func (st *parseState) emit(entry *rawEntry, ev trace.Event) {
	if entry.IsSidechain {
		ev.SetAttr("sidechain", "true")
	}
	st.sess.Events = append(st.sess.Events, ev)
}

// eventID derives stable event ids from the record uuid. Extra events emitted
// from the same record get a /n suffix; records without a uuid fall back to a
// file-ordinal id.
func (st *parseState) eventID(entry *rawEntry, n int) string {
	if entry.UUID == "" {
		st.seq++
		return "evt-" + strconv.Itoa(st.seq)
	}
	if n == 0 {
		return entry.UUID
	}
	return entry.UUID + "/" + strconv.Itoa(n)
}

// decodeBlocks accepts the two shapes message content takes in the wild: a
// plain string or an array of typed blocks. Anything else is preserved as an
// opaque text block so content is never silently dropped.
func decodeBlocks(raw json.RawMessage) []contentBlock {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return nil
		}
		return []contentBlock{{Type: string(ContentBlockTypeText), Text: s}}
	}
	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		return blocks
	}
	return []contentBlock{{Type: string(ContentBlockTypeText), Text: string(raw)}}
}

// blockText flattens nested content, a string or a block array, to plain text.
func blockText(raw json.RawMessage) string {
	var parts []string
	for _, block := range decodeBlocks(raw) {
		switch ContentBlockType(block.Type) {
		case ContentBlockTypeText:
			if block.Text != "" {
				parts = append(parts, block.Text)
			}
		case ContentBlockTypeThinking:
			if block.Thinking != "" {
				parts = append(parts, block.Thinking)
			}
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

// titleFromText derives a session title from the first line of the first
// user message.
func titleFromText(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) > maxTitleLen {
		s = string(runes[:maxTitleLen]) + "…"
	}
	return s
}

func sessionStem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// newScanner returns a scanner sized for transcript lines, which can embed
// whole file contents in a single record.
func newScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	return scanner
}
