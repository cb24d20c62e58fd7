package codex

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

	"go.uber.org/zap"

	"agenttrace/internal/ingest"
	"agenttrace/internal/log"
	"agenttrace/internal/trace"
)

const (
	// maxLineSize bounds a single JSONL record; instructions blocks and tool
	// outputs can run to megabytes.
	maxLineSize = 8 * 1024 * 1024

	maxTitleLen = 120
)

// Parser reads Codex CLI rollout files.
type Parser struct{}

// New returns a Codex rollout parser.
func New() *Parser { return &Parser{} }

// Name returns the format name.
func (p *Parser) Name() string { return "codex" }

// CanParse matches rollout files by their name prefix or by living under a
// codex/sessions store.
func (p *Parser) CanParse(path string) bool {
	if filepath.Ext(path) != ".jsonl" {
		return false
	}
	if strings.HasPrefix(filepath.Base(path), "rollout-") {
		return true
	}
	return strings.Contains(filepath.ToSlash(path), "codex/sessions/")
}

// Parse reads the rollout at path, splices in sibling rollouts that declare
// this session as their parent, and returns the finalized session.
func (p *Parser) Parse(path string) (*trace.Session, error) {
	sess, err := p.parseFile(path)
	if err != nil {
		return nil, err
	}
	p.mergeSubagents(sess, path)
	sess.Finalize()
	return sess, nil
}

func (p *Parser) parseFile(path string) (*trace.Session, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open rollout file: %w", err)
	}
	defer file.Close()

	sess := &trace.Session{Agent: trace.Agent{Provider: "openai", Tool: "codex"}}
	st := &parseState{sess: sess, calls: ingest.NewCallTable()}

	scanner := newScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := st.consume([]byte(line)); err != nil {
			log.L().Debug("skip rollout record",
				zap.String("path", path), zap.Int("line", lineNo), zap.Error(err))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read rollout file: %w", err)
	}

	if sess.SessionID == "" {
		base := filepath.Base(path)
		sess.SessionID = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return sess, nil
}

// mergeSubagents splices sibling rollouts whose meta record names this session
// as parent. One level only: a child's own children are not followed.
func (p *Parser) mergeSubagents(sess *trace.Session, path string) {
	if sess.SessionID == "" {
		return
	}
	dir := filepath.Dir(path)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	self := filepath.Base(path)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || name == self || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		childPath := filepath.Join(dir, name)
		meta, err := readMetaHead(childPath)
		if err != nil || meta == nil || meta.ParentSessionID != sess.SessionID {
			continue
		}
		child, err := p.parseFile(childPath)
		if err != nil {
			log.L().Debug("skip subagent rollout", zap.String("path", childPath), zap.Error(err))
			continue
		}
		if len(child.Events) == 0 {
			continue
		}
		child.Finalize()
		trace.MergeChild(sess, child, "task-"+shortID(child.SessionID))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	if id == "" {
		return "child"
	}
	return id
}

// readMetaHead decodes the meta record from the first non-empty line of a
// rollout without parsing the rest of the file.
func readMetaHead(path string) (*sessionMetaPayload, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	scanner := newScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec rawRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, err
		}
		var meta sessionMetaPayload
		if rec.Type == string(EntryTypeSessionMeta) && len(rec.Payload) > 0 {
			if err := json.Unmarshal(rec.Payload, &meta); err != nil {
				return nil, err
			}
			return &meta, nil
		}
		if rec.Type == "" {
			if err := json.Unmarshal([]byte(line), &meta); err == nil && meta.ID != "" {
				return &meta, nil
			}
		}
		return nil, nil
	}
	return nil, scanner.Err()
}

// parseState accumulates one rollout file.
type parseState struct {
	sess  *trace.Session
	calls *ingest.CallTable
	seq   int
}

func (st *parseState) nextID() string {
	st.seq++
	return "evt-" + strconv.Itoa(st.seq)
}

// consume decodes one record and appends the events it yields. A returned
// error means the record was skipped; the rollout as a whole is unaffected.
func (st *parseState) consume(line []byte) error {
	var rec rawRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}

	var ts time.Time
	if rec.Timestamp != "" {
		parsed, err := ingest.ParseTime(rec.Timestamp)
		if err != nil {
			return fmt.Errorf("record timestamp: %w", err)
		}
		ts = parsed
	}

	switch EntryType(rec.Type) {
	case EntryTypeSessionMeta:
		var meta sessionMetaPayload
		if err := json.Unmarshal(rec.Payload, &meta); err != nil {
			return fmt.Errorf("decode session_meta: %w", err)
		}
		st.sess.Context.FillAttr(trace.AttrSchema, "wrapper")
		st.applyMeta(&meta, ts)
	case EntryTypeResponseItem:
		var item itemPayload
		if err := json.Unmarshal(rec.Payload, &item); err != nil {
			return fmt.Errorf("decode response_item: %w", err)
		}
		st.consumeItem(&item, ts)
	case EntryTypeEventMsg:
		var msg eventMsgPayload
		if err := json.Unmarshal(rec.Payload, &msg); err != nil {
			return fmt.Errorf("decode event_msg: %w", err)
		}
		st.consumeEventMsg(&msg, ts)
	case EntryTypeTurnContext:
		var tc turnContextPayload
		if err := json.Unmarshal(rec.Payload, &tc); err != nil {
			return fmt.Errorf("decode turn_context: %w", err)
		}
		st.applyTurnContext(&tc)
	case EntryTypeCompacted:
		st.consumeCompacted(rec.Payload, ts)
	default:
		return st.consumeLegacy(line, &rec, ts)
	}
	return nil
}

// consumeLegacy handles the old schema: a bare meta object on the first line
// and bare response items after it.
func (st *parseState) consumeLegacy(line []byte, rec *rawRecord, ts time.Time) error {
	if rec.Type == "" {
		var meta sessionMetaPayload
		if err := json.Unmarshal(line, &meta); err == nil && meta.ID != "" {
			st.sess.Context.FillAttr(trace.AttrSchema, "legacy")
			st.applyMeta(&meta, ts)
			return nil
		}
		return fmt.Errorf("unrecognized record")
	}
	if !legacyItemType(rec.Type) {
		return fmt.Errorf("unknown record type %q", rec.Type)
	}
	var item itemPayload
	if err := json.Unmarshal(line, &item); err != nil {
		return fmt.Errorf("decode legacy item: %w", err)
	}
	st.consumeItem(&item, ts)
	return nil
}

func legacyItemType(t string) bool {
	switch t {
	case "message", "reasoning", "function_call", "function_call_output",
		"local_shell_call", "custom_tool_call", "custom_tool_call_output",
		"web_search_call":
		return true
	}
	return false
}

func (st *parseState) applyMeta(meta *sessionMetaPayload, ts time.Time) {
	sess := st.sess
	if sess.SessionID == "" {
		sess.SessionID = meta.ID
	}
	if sess.Agent.Version == "" {
		sess.Agent.Version = meta.CLIVersion
	}
	sess.Context.FillAttr(trace.AttrCWD, meta.CWD)
	sess.Context.FillAttr("originator", meta.Originator)
	if meta.ParentSessionID != "" {
		sess.Context.RelatedSessionIDs = append(sess.Context.RelatedSessionIDs, meta.ParentSessionID)
		sess.Context.SetAttr("parent_session_id", meta.ParentSessionID)
	}

	if sess.Context.CreatedAt.IsZero() {
		if meta.Timestamp != "" {
			if parsed, err := ingest.ParseTime(meta.Timestamp); err == nil {
				ts = parsed
			}
		}
		sess.Context.CreatedAt = ts
	}
}

func (st *parseState) applyTurnContext(tc *turnContextPayload) {
	sess := st.sess
	if sess.Agent.Model == "" {
		sess.Agent.Model = tc.Model
	}
	sess.Context.FillAttr(trace.AttrCWD, tc.CWD)
	sess.Context.FillAttr("effort", tc.Effort)
	sess.Context.FillAttr("approval_policy", tc.ApprovalPolicy)
}

// consumeItem turns one response_item into canonical events. response_item is
// the authoritative channel: message-like items evict equivalent event_msg
// duplicates.
func (st *parseState) consumeItem(item *itemPayload, ts time.Time) {
	switch item.Type {
	case "message":
		st.consumeItemMessage(item, ts)
	case "reasoning":
		text := partsText(item.Summary)
		if text == "" {
			text = partsText(item.Content)
		}
		if text == "" {
			return
		}
		ev := trace.Event{
			ID:        st.nextID(),
			Timestamp: ts,
			Type:      trace.EventThinking,
			Content:   trace.TextContent(text),
		}
		ev.SetAttr(trace.AttrChannel, channelResponseItem)
		st.sess.Events = ingest.AppendMessage(st.sess.Events, ev, true)
	case "function_call", "custom_tool_call":
		st.consumeCall(item, ts)
	case "function_call_output", "custom_tool_call_output":
		st.consumeOutput(item, ts)
	case "local_shell_call":
		ev := trace.Event{ID: st.nextID(), Timestamp: ts, Type: trace.EventShellCommand, Tool: "local_shell"}
		if item.Action != nil {
			ev.Command = ingest.CommandFromArgs(item.Action.Command)
		}
		ev.SetAttr(trace.AttrChannel, channelResponseItem)
		if item.CallID != "" {
			ev.SetAttr(trace.AttrSourceCallID, item.CallID)
		}
		st.calls.Record(item.CallID, ev.ID, "local_shell")
		st.sess.Events = append(st.sess.Events, ev)
	case "web_search_call":
		ev := trace.Event{ID: st.nextID(), Timestamp: ts, Type: trace.EventWebSearch, Tool: "web_search"}
		if item.Action != nil {
			ev.Query = item.Action.Query
		}
		ev.SetAttr(trace.AttrChannel, channelResponseItem)
		st.sess.Events = append(st.sess.Events, ev)
	}
}

func (st *parseState) consumeItemMessage(item *itemPayload, ts time.Time) {
	text := partsText(item.Content)
	if text == "" {
		return
	}

	var ev trace.Event
	switch item.Role {
	case "user":
		if tag := systemTag(text); tag != "" {
			ev = trace.Event{ID: st.nextID(), Timestamp: ts, Type: trace.EventSystemMessage, Content: trace.TextContent(text)}
			ev.SetAttr(trace.AttrSubtype, tag)
			ev.SetAttr(trace.AttrChannel, channelResponseItem)
			st.sess.Events = append(st.sess.Events, ev)
			return
		}
		ev = trace.Event{ID: st.nextID(), Timestamp: ts, Type: trace.EventUserMessage, Content: trace.TextContent(text)}
		if st.sess.Context.Title == "" {
			st.sess.Context.Title = titleFromText(text)
		}
	case "assistant":
		ev = trace.Event{ID: st.nextID(), Timestamp: ts, Type: trace.EventAgentMessage, Content: trace.TextContent(text)}
	case "system", "developer":
		ev = trace.Event{ID: st.nextID(), Timestamp: ts, Type: trace.EventSystemMessage, Content: trace.TextContent(text)}
		ev.SetAttr(trace.AttrChannel, channelResponseItem)
		st.sess.Events = append(st.sess.Events, ev)
		return
	default:
		return
	}
	ev.SetAttr(trace.AttrChannel, channelResponseItem)
	st.sess.Events = ingest.AppendMessage(st.sess.Events, ev, true)
}

// systemTag classifies user-role records Codex uses for injected context.
func systemTag(text string) string {
	switch {
	case strings.HasPrefix(text, "<user_instructions>"):
		return "user_instructions"
	case strings.HasPrefix(text, "<environment_context>"):
		return "environment_context"
	}
	return ""
}

func (st *parseState) consumeCall(item *itemPayload, ts time.Time) {
	args := item.Arguments
	if args == "" {
		args = item.Input
	}
	var input map[string]any
	if args != "" {
		_ = json.Unmarshal([]byte(args), &input)
	}

	ev := ingest.Classify(item.Name, input)
	ev.ID = st.nextID()
	ev.Timestamp = ts
	if args != "" {
		if json.Valid([]byte(args)) {
			ev.Content = trace.JSONContent(json.RawMessage(args))
		} else {
			ev.Content = trace.TextContent(args)
		}
	}
	ev.SetAttr(trace.AttrChannel, channelResponseItem)
	if item.CallID != "" {
		ev.SetAttr(trace.AttrSourceCallID, item.CallID)
	}
	st.calls.Record(item.CallID, ev.ID, item.Name)
	st.sess.Events = append(st.sess.Events, ev)
}

func (st *parseState) consumeOutput(item *itemPayload, ts time.Time) {
	ev := trace.Event{ID: st.nextID(), Timestamp: ts, Type: trace.EventToolResult}
	ev.SetAttr(trace.AttrChannel, channelResponseItem)
	if item.CallID != "" {
		ev.SetAttr(trace.AttrSourceCallID, item.CallID)
	}
	if ref, ok := st.calls.Resolve(item.CallID); ok {
		ev.CallID = ref.EventID
		ev.Tool = ref.Tool
	}

	if text := outputText(item.Output, &ev); text != "" {
		ev.Content = trace.TextContent(text)
	}
	st.sess.Events = append(st.sess.Events, ev)
}

func (st *parseState) consumeEventMsg(msg *eventMsgPayload, ts time.Time) {
	switch msg.Type {
	case "session_configured":
		if st.sess.SessionID == "" {
			st.sess.SessionID = msg.SessionID
		}
		if st.sess.Agent.Model == "" {
			st.sess.Agent.Model = msg.Model
		}
	case "user_message":
		text := ingest.FirstNonEmpty(msg.Message, msg.Content, msg.Text)
		if text == "" {
			return
		}
		if tag := systemTag(text); tag != "" {
			ev := trace.Event{ID: st.nextID(), Timestamp: ts, Type: trace.EventSystemMessage, Content: trace.TextContent(text)}
			ev.SetAttr(trace.AttrSubtype, tag)
			ev.SetAttr(trace.AttrChannel, channelEventMsg)
			st.sess.Events = append(st.sess.Events, ev)
			return
		}
		ev := trace.Event{ID: st.nextID(), Timestamp: ts, Type: trace.EventUserMessage, Content: trace.TextContent(text)}
		ev.SetAttr(trace.AttrChannel, channelEventMsg)
		if st.sess.Context.Title == "" {
			st.sess.Context.Title = titleFromText(text)
		}
		st.sess.Events = ingest.AppendMessage(st.sess.Events, ev, false)
	case "agent_message":
		text := ingest.FirstNonEmpty(msg.Message, msg.Content, msg.Text)
		if text == "" {
			return
		}
		ev := trace.Event{ID: st.nextID(), Timestamp: ts, Type: trace.EventAgentMessage, Content: trace.TextContent(text)}
		ev.SetAttr(trace.AttrChannel, channelEventMsg)
		st.sess.Events = ingest.AppendMessage(st.sess.Events, ev, false)
	case "agent_reasoning":
		text := ingest.FirstNonEmpty(msg.Text, msg.Message, msg.Content)
		if text == "" {
			return
		}
		ev := trace.Event{ID: st.nextID(), Timestamp: ts, Type: trace.EventThinking, Content: trace.TextContent(text)}
		ev.SetAttr(trace.AttrChannel, channelEventMsg)
		st.sess.Events = ingest.AppendMessage(st.sess.Events, ev, false)
	case "task_complete":
		// Covers rollouts where the final assistant message only shows up
		// here; deduplication drops it when the item channel reported it.
		if msg.LastAgentMessage == "" {
			return
		}
		ev := trace.Event{ID: st.nextID(), Timestamp: ts, Type: trace.EventAgentMessage, Content: trace.TextContent(msg.LastAgentMessage)}
		ev.SetAttr(trace.AttrChannel, channelEventMsg)
		st.sess.Events = ingest.AppendMessage(st.sess.Events, ev, false)
	case "token_count":
		st.consumeTokenCount(msg.Info, ts)
	case "error":
		text := ingest.FirstNonEmpty(msg.Message, msg.Content, msg.Text)
		if text == "" {
			return
		}
		ev := trace.Event{ID: st.nextID(), Timestamp: ts, Type: trace.EventSystemMessage, Content: trace.TextContent(text)}
		ev.SetAttr(trace.AttrSubtype, "error")
		ev.SetAttr(trace.AttrChannel, channelEventMsg)
		st.sess.Events = append(st.sess.Events, ev)
	case "turn_aborted":
		ev := trace.Event{ID: st.nextID(), Timestamp: ts, Type: trace.EventSystemMessage, Content: trace.TextContent("turn aborted")}
		ev.SetAttr(trace.AttrSubtype, "turn_aborted")
		ev.SetAttr(trace.AttrChannel, channelEventMsg)
		st.sess.Events = append(st.sess.Events, ev)
	}
}

// consumeTokenCount emits the per-turn token delta so the stats fold can sum
// session totals from event attributes.
func (st *parseState) consumeTokenCount(info *tokenCountInfo, ts time.Time) {
	if info == nil {
		return
	}
	usage := info.LastTokenUsage
	if usage.InputTokens == 0 && usage.OutputTokens == 0 && usage.TotalTokens == 0 {
		return
	}
	ev := trace.Event{
		ID:        st.nextID(),
		Timestamp: ts,
		Type:      trace.EventCustom,
		Kind:      "token_count",
		Content:   trace.TextContent(fmt.Sprintf("tokens: %d in / %d out", usage.InputTokens, usage.OutputTokens)),
	}
	ev.SetAttr(trace.AttrChannel, channelEventMsg)
	if usage.InputTokens > 0 {
		ev.SetAttr(trace.AttrInputTokens, strconv.FormatInt(usage.InputTokens, 10))
	}
	if usage.OutputTokens > 0 {
		ev.SetAttr(trace.AttrOutputTokens, strconv.FormatInt(usage.OutputTokens, 10))
	}
	st.sess.Events = append(st.sess.Events, ev)
}

// consumeCompacted records a history-compaction marker.
func (st *parseState) consumeCompacted(raw json.RawMessage, ts time.Time) {
	var payload struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(raw, &payload)
	text := payload.Message
	if text == "" {
		text = "history compacted"
	}
	ev := trace.Event{ID: st.nextID(), Timestamp: ts, Type: trace.EventSystemMessage, Content: trace.TextContent(text)}
	ev.SetAttr(trace.AttrSubtype, "compacted")
	st.sess.Events = append(st.sess.Events, ev)
}

// outputText decodes a tool output payload: a plain string, an object with
// content/success, or a JSON-encoded exec envelope whose shell metadata is
// folded into the event.
func outputText(raw json.RawMessage, ev *trace.Event) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return execText(s, ev)
	}
	var obj struct {
		Content string `json:"content"`
		Success *bool  `json:"success"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Content != "" {
		if obj.Success != nil && !*obj.Success {
			ev.IsError = true
		}
		return obj.Content
	}
	return string(raw)
}

// execText unwraps the {"output": ..., "metadata": ...} envelope shell results
// are stringified as. Anything that is not the envelope passes through.
func execText(s string, ev *trace.Event) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "{") {
		return s
	}
	var out execOutput
	if err := json.Unmarshal([]byte(trimmed), &out); err != nil {
		return s
	}
	if out.Metadata == nil && out.Output == "" {
		return s
	}
	if out.Metadata != nil {
		if out.Metadata.ExitCode != nil {
			code := *out.Metadata.ExitCode
			ev.ExitCode = &code
			ev.SetAttr(trace.AttrExitCode, strconv.Itoa(code))
			if code != 0 {
				ev.IsError = true
			}
		}
		if out.Metadata.DurationSeconds > 0 {
			ev.DurationMS = ingest.SecondsToMS(out.Metadata.DurationSeconds)
		}
	}
	return out.Output
}

// partsText flattens message content: a plain string or an array of typed
// text parts.
func partsText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var parts []contentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}
	var b strings.Builder
	for _, part := range parts {
		if part.Text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(part.Text)
	}
	return strings.TrimSpace(b.String())
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

// newScanner returns a scanner sized for rollout lines.
func newScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	return scanner
}
