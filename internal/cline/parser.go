package cline

import (
	"encoding/json"
	"fmt"
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

const maxTitleLen = 120

// Parser reads Cline task directories.
type Parser struct{}

func New() *Parser { return &Parser{} }

// Name returns the format name.
func (p *Parser) Name() string { return "cline" }

// CanParse accepts either sibling document by name, or a task directory that
// contains the API history.
func (p *Parser) CanParse(path string) bool {
	switch filepath.Base(path) {
	case apiHistoryFile, uiMessagesFile:
		return true
	}
	if filepath.Ext(path) != "" {
		return false
	}
	_, err := os.Stat(filepath.Join(path, apiHistoryFile))
	return err == nil
}

// Parse reads both documents of a task. The API history is authoritative and
// fatal when unreadable; a missing or broken UI document degrades the session
// to API-only. The optional task_history.json index two levels up supplies
// title and creation time.
func (p *Parser) Parse(path string) (*trace.Session, error) {
	taskDir := path
	switch filepath.Base(path) {
	case apiHistoryFile, uiMessagesFile:
		taskDir = filepath.Dir(path)
	}
	taskID := filepath.Base(taskDir)

	sess := &trace.Session{
		SessionID: "cline-" + taskID,
		Agent:     trace.Agent{Tool: "cline"},
	}
	st := &parseState{sess: sess, calls: ingest.NewCallTable()}

	if err := st.parseAPI(filepath.Join(taskDir, apiHistoryFile)); err != nil {
		return nil, err
	}
	if err := st.parseUI(filepath.Join(taskDir, uiMessagesFile)); err != nil {
		log.L().Debug("skip ui messages", zap.String("task", taskID), zap.Error(err))
	}
	applyTaskIndex(taskDir, taskID, sess)
	if sess.Context.Title == "" {
		sess.Context.Title = deriveTitle(sess.Events)
	}
	sess.Finalize()
	return sess, nil
}

type parseState struct {
	sess  *trace.Session
	calls *ingest.CallTable
	seq   int
	// lastTS carries the previous API message time onto entries that predate
	// the ts field.
	lastTS time.Time
	// apiToolCalls counts tool_use blocks seen on the API channel. When the
	// API records tool calls natively the UI's command and tool records are
	// echoes and are dropped rather than deduplicated, since tool events
	// never dedup by text.
	apiToolCalls int
}

func (st *parseState) nextID() string {
	st.seq++
	return fmt.Sprintf("evt-%d", st.seq)
}

func (st *parseState) parseAPI(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("open api history: %w", err)
	}
	var msgs []apiMessage
	if err := json.Unmarshal(data, &msgs); err != nil {
		return fmt.Errorf("decode api history %s: %w", path, err)
	}
	for i := range msgs {
		st.consumeAPI(msgs[i])
	}
	return nil
}

func (st *parseState) consumeAPI(msg apiMessage) {
	ts := st.lastTS
	if msg.TS > 0 {
		ts = ingest.FromEpoch(float64(msg.TS))
		st.lastTS = ts
	}
	if st.sess.Context.CreatedAt.IsZero() && !ts.IsZero() {
		st.sess.Context.CreatedAt = ts
	}
	for _, block := range blocksOf(msg.Content) {
		st.consumeBlock(msg.Role, block, ts)
	}
}

// blocksOf decodes a message content field, which is either a block array or
// a bare string.
func blocksOf(raw json.RawMessage) []apiBlock {
	if len(raw) == 0 {
		return nil
	}
	var blocks []apiBlock
	if json.Unmarshal(raw, &blocks) == nil {
		return blocks
	}
	var s string
	if json.Unmarshal(raw, &s) == nil && s != "" {
		return []apiBlock{{Type: "text", Text: s}}
	}
	return nil
}

func (st *parseState) consumeBlock(role string, block apiBlock, ts time.Time) {
	switch block.Type {
	case "text":
		if strings.TrimSpace(block.Text) == "" {
			return
		}
		kind := trace.EventUserMessage
		if role == "assistant" {
			kind = trace.EventAgentMessage
		}
		st.appendMessage(kind, block.Text, ts, channelAPI)
	case "thinking":
		st.appendMessage(trace.EventThinking, block.Thinking, ts, channelAPI)
	case "tool_use":
		st.consumeToolUse(block, ts)
	case "tool_result":
		st.consumeToolResult(block, ts)
	}
}

// consumeToolUse emits a classified call event, except for the two
// message-bearing pseudo-tools: attempt_completion carries the final answer
// and ask_followup_question carries a question to the user.
func (st *parseState) consumeToolUse(block apiBlock, ts time.Time) {
	input := map[string]any{}
	if len(block.Input) > 0 {
		if err := json.Unmarshal(block.Input, &input); err != nil {
			log.L().Debug("skip tool input", zap.String("tool", block.Name), zap.Error(err))
		}
	}
	switch block.Name {
	case "attempt_completion":
		st.appendMessage(trace.EventAgentMessage, ingest.GetString(input, "result"), ts, channelAPI)
		return
	case "ask_followup_question":
		st.appendMessage(trace.EventAgentMessage, ingest.GetString(input, "question"), ts, channelAPI)
		return
	}

	ev := ingest.Classify(block.Name, input)
	ev.ID = st.nextID()
	ev.Timestamp = ts
	if len(block.Input) > 0 {
		ev.Content = trace.JSONContent(block.Input)
	}
	ev.SetAttr(trace.AttrChannel, channelAPI)
	st.calls.Record(block.ID, ev.ID, block.Name)
	st.sess.Events = append(st.sess.Events, ev)
	st.apiToolCalls++
}

func (st *parseState) consumeToolResult(block apiBlock, ts time.Time) {
	ev := trace.Event{
		ID:        st.nextID(),
		Timestamp: ts,
		Type:      trace.EventToolResult,
		IsError:   block.IsError,
	}
	if ref, ok := st.calls.Resolve(block.ToolUseID); ok {
		ev.CallID = ref.EventID
		ev.Tool = ref.Tool
	}
	if text := resultText(block.Content); text != "" {
		ev.Content = trace.TextContent(text)
	}
	ev.SetAttr(trace.AttrChannel, channelAPI)
	st.sess.Events = append(st.sess.Events, ev)
}

// resultText flattens a tool_result content field: a bare string or a block
// array whose text blocks are joined.
func resultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var blocks []apiBlock
	if json.Unmarshal(raw, &blocks) != nil {
		return ""
	}
	var parts []string
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func (st *parseState) parseUI(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var msgs []uiMessage
	if err := json.Unmarshal(data, &msgs); err != nil {
		return err
	}
	for _, msg := range msgs {
		st.consumeUI(msg)
	}
	return nil
}

func (st *parseState) consumeUI(msg uiMessage) {
	var ts time.Time
	if msg.TS > 0 {
		ts = ingest.FromEpoch(float64(msg.TS))
	}
	switch msg.Type {
	case "say":
		st.consumeSay(msg, ts)
	case "ask":
		st.consumeAsk(msg, ts)
	default:
		log.L().Debug("skip ui record", zap.String("type", msg.Type))
	}
}

func (st *parseState) consumeSay(msg uiMessage, ts time.Time) {
	switch msg.Say {
	case "text", "completion_result":
		st.appendMessage(trace.EventAgentMessage, msg.Text, ts, channelUI)
	case "reasoning":
		st.appendMessage(trace.EventThinking, msg.Text, ts, channelUI)
	case "user_feedback":
		st.appendMessage(trace.EventUserMessage, msg.Text, ts, channelUI)
	case "command":
		if st.apiToolCalls > 0 || strings.TrimSpace(msg.Text) == "" {
			return
		}
		ev := trace.Event{
			ID:        st.nextID(),
			Timestamp: ts,
			Type:      trace.EventShellCommand,
			Tool:      "execute_command",
			Command:   strings.TrimSpace(msg.Text),
		}
		ev.SetAttr(trace.AttrChannel, channelUI)
		st.calls.Record("", ev.ID, ev.Tool)
		st.sess.Events = append(st.sess.Events, ev)
	case "command_output":
		if st.apiToolCalls > 0 {
			return
		}
		ev := trace.Event{
			ID:        st.nextID(),
			Timestamp: ts,
			Type:      trace.EventToolResult,
		}
		if ref, ok := st.calls.Resolve(""); ok {
			ev.CallID = ref.EventID
			ev.Tool = ref.Tool
		}
		if msg.Text != "" {
			ev.Content = trace.TextContent(msg.Text)
		}
		ev.SetAttr(trace.AttrChannel, channelUI)
		st.sess.Events = append(st.sess.Events, ev)
	case "tool":
		st.consumeUITool(msg, ts)
	case "api_req_started":
		st.consumeAPIReq(msg, ts)
	default:
		log.L().Debug("skip ui record", zap.String("say", msg.Say))
	}
}

// consumeUITool reads a say:tool record, whose text is a JSON payload naming
// the tool and its arguments in UI vocabulary.
func (st *parseState) consumeUITool(msg uiMessage, ts time.Time) {
	if st.apiToolCalls > 0 || msg.Text == "" {
		return
	}
	payload := map[string]any{}
	if err := json.Unmarshal([]byte(msg.Text), &payload); err != nil {
		log.L().Debug("skip ui tool record", zap.Error(err))
		return
	}
	name := ingest.GetString(payload, "tool")
	if name == "" {
		return
	}
	ev := ingest.Classify(name, payload)
	ev.ID = st.nextID()
	ev.Timestamp = ts
	ev.Content = trace.JSONContent(json.RawMessage(msg.Text))
	ev.SetAttr(trace.AttrChannel, channelUI)
	st.calls.Record("", ev.ID, name)
	st.sess.Events = append(st.sess.Events, ev)
}

// consumeAPIReq turns request accounting into a custom event carrying token
// attributes, which the stats fold picks up.
func (st *parseState) consumeAPIReq(msg uiMessage, ts time.Time) {
	var req apiReqPayload
	if msg.Text != "" {
		if err := json.Unmarshal([]byte(msg.Text), &req); err != nil {
			log.L().Debug("skip api request record", zap.Error(err))
			return
		}
	}
	ev := trace.Event{
		ID:        st.nextID(),
		Timestamp: ts,
		Type:      trace.EventCustom,
		Kind:      "api_request",
	}
	ev.SetAttr(trace.AttrChannel, channelUI)
	if req.TokensIn > 0 {
		ev.SetAttr(trace.AttrInputTokens, strconv.FormatInt(req.TokensIn, 10))
	}
	if req.TokensOut > 0 {
		ev.SetAttr(trace.AttrOutputTokens, strconv.FormatInt(req.TokensOut, 10))
	}
	st.sess.Events = append(st.sess.Events, ev)
}

func (st *parseState) consumeAsk(msg uiMessage, ts time.Time) {
	switch msg.Ask {
	case "followup":
		question, selected := msg.Text, ""
		var payload followupPayload
		if strings.HasPrefix(strings.TrimSpace(msg.Text), "{") &&
			json.Unmarshal([]byte(msg.Text), &payload) == nil {
			question, selected = payload.Question, payload.Selected
		}
		st.appendMessage(trace.EventAgentMessage, question, ts, channelUI)
		st.appendMessage(trace.EventUserMessage, selected, ts, channelUI)
	default:
		log.L().Debug("skip ui record", zap.String("ask", msg.Ask))
	}
}

func (st *parseState) appendMessage(kind trace.EventType, text string, ts time.Time, channel string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	ev := trace.Event{
		ID:        st.nextID(),
		Timestamp: ts,
		Type:      kind,
		Content:   trace.TextContent(text),
	}
	ev.SetAttr(trace.AttrChannel, channel)
	st.sess.Events = ingest.AppendMessage(st.sess.Events, ev, channel == channelAPI)
}

// applyTaskIndex merges title and creation time from the optional
// task_history.json index kept two levels above the task directory.
func applyTaskIndex(taskDir, taskID string, sess *trace.Session) {
	indexPath := filepath.Join(filepath.Dir(filepath.Dir(taskDir)), taskIndexFile)
	data, err := os.ReadFile(indexPath)
	if err != nil {
		return
	}
	for _, entry := range decodeTaskIndex(data) {
		if entry.ID != taskID {
			continue
		}
		if entry.Task != "" {
			sess.Context.Title = titleFromText(entry.Task)
		}
		if entry.TS > 0 && sess.Context.CreatedAt.IsZero() {
			sess.Context.CreatedAt = ingest.FromEpoch(float64(entry.TS))
		}
		return
	}
}

func decodeTaskIndex(data []byte) []taskEntry {
	var wrapped struct {
		Entries []taskEntry `json:"entries"`
	}
	if json.Unmarshal(data, &wrapped) == nil && len(wrapped.Entries) > 0 {
		return wrapped.Entries
	}
	var bare []taskEntry
	if json.Unmarshal(data, &bare) == nil {
		return bare
	}
	return nil
}

// deriveTitle falls back to the first user utterance, unwrapping the <task>
// markup Cline puts around the initial prompt.
func deriveTitle(events []trace.Event) string {
	for _, ev := range events {
		if ev.Type != trace.EventUserMessage {
			continue
		}
		text := ev.Text()
		if i := strings.Index(text, "<task>"); i >= 0 {
			text = text[i+len("<task>"):]
			if j := strings.Index(text, "</task>"); j >= 0 {
				text = text[:j]
			}
		}
		if title := titleFromText(strings.TrimSpace(text)); title != "" {
			return title
		}
	}
	return ""
}

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
