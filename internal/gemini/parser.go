package gemini

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"agenttrace/internal/ingest"
	"agenttrace/internal/log"
	"agenttrace/internal/trace"
)

const (
	maxLineSize = 8 * 1024 * 1024
	maxTitleLen = 120
)

// Parser reads Gemini CLI chat files.
type Parser struct{}

func New() *Parser { return &Parser{} }

// Name returns the format name.
func (p *Parser) Name() string { return "gemini" }

// CanParse reports whether path looks like a Gemini CLI chat file. The
// extension picks the sub-parser later, so both are accepted here.
func (p *Parser) CanParse(path string) bool {
	ext := filepath.Ext(path)
	if ext != ".json" && ext != ".jsonl" {
		return false
	}
	slash := filepath.ToSlash(path)
	return strings.Contains(slash, "gemini/tmp/") || strings.Contains(slash, "gemini/chats/")
}

// Parse reads one chat file into a session. Documents that fail to decode as
// a whole are fatal; in the jsonl layout malformed lines are skipped.
func (p *Parser) Parse(path string) (*trace.Session, error) {
	sess := &trace.Session{
		Agent: trace.Agent{Provider: "google", Tool: "gemini-cli"},
	}
	var err error
	if filepath.Ext(path) == ".jsonl" {
		err = parseLines(path, sess)
	} else {
		err = parseDocument(path, sess)
	}
	if err != nil {
		return nil, err
	}
	if sess.SessionID == "" {
		sess.SessionID = sessionStem(path)
	}
	sess.Finalize()
	return sess, nil
}

func parseDocument(path string, sess *trace.Session) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("open chat file: %w", err)
	}
	var doc chatDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decode chat file %s: %w", path, err)
	}

	sess.SessionID = doc.SessionID
	if doc.ProjectHash != "" {
		sess.Context.FillAttr("project_hash", doc.ProjectHash)
	}
	if ts, err := ingest.ParseTime(doc.StartTime); err == nil {
		sess.Context.CreatedAt = ts
	}
	if ts, err := ingest.ParseTime(doc.LastUpdated); err == nil {
		sess.Context.UpdatedAt = ts
	}

	st := &parseState{sess: sess}
	for i, msg := range doc.Messages {
		if err := st.consume(msg); err != nil {
			log.L().Debug("skip chat message",
				zap.String("path", path),
				zap.Int("index", i),
				zap.Error(err))
		}
	}
	return nil
}

func parseLines(path string, sess *trace.Session) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open chat file: %w", err)
	}
	defer f.Close()

	st := &parseState{sess: sess}
	scanner := newScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var msg rawMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			log.L().Debug("skip chat record",
				zap.String("path", path),
				zap.Int("line", lineNo),
				zap.Error(err))
			continue
		}
		if msg.Type == messageMeta {
			if sess.SessionID == "" {
				sess.SessionID = msg.SessionID
			}
			continue
		}
		if err := st.consume(msg); err != nil {
			log.L().Debug("skip chat record",
				zap.String("path", path),
				zap.Int("line", lineNo),
				zap.Error(err))
		}
	}
	return scanner.Err()
}

type parseState struct {
	sess *trace.Session
	seq  int
}

func (st *parseState) consume(msg rawMessage) error {
	ts, err := ingest.ParseTime(msg.Timestamp)
	if err != nil {
		return err
	}
	if st.sess.Context.CreatedAt.IsZero() {
		st.sess.Context.CreatedAt = ts
	}

	switch msg.Type {
	case messageUser:
		if msg.Content == "" {
			return nil
		}
		st.sess.Events = append(st.sess.Events, trace.Event{
			ID:        st.eventID(msg.ID, 0),
			Timestamp: ts,
			Type:      trace.EventUserMessage,
			Content:   trace.TextContent(msg.Content),
		})
		if st.sess.Context.Title == "" {
			st.sess.Context.Title = titleFromText(msg.Content)
		}
	case messageGemini:
		before := len(st.sess.Events)
		if txt := thoughtsText(msg.Thoughts); txt != "" {
			st.sess.Events = append(st.sess.Events, trace.Event{
				ID:        st.eventID(msg.ID, 1),
				Timestamp: ts,
				Type:      trace.EventThinking,
				Content:   trace.TextContent(txt),
			})
		}
		if msg.Content != "" {
			st.sess.Events = append(st.sess.Events, trace.Event{
				ID:        st.eventID(msg.ID, 0),
				Timestamp: ts,
				Type:      trace.EventAgentMessage,
				Content:   trace.TextContent(msg.Content),
			})
		}
		if msg.Tokens != nil && len(st.sess.Events) > before {
			applyTokens(&st.sess.Events[len(st.sess.Events)-1], msg.Tokens)
		}
	case messageThought:
		if msg.Content == "" {
			return nil
		}
		st.sess.Events = append(st.sess.Events, trace.Event{
			ID:        st.eventID(msg.ID, 0),
			Timestamp: ts,
			Type:      trace.EventThinking,
			Content:   trace.TextContent(msg.Content),
		})
	default:
		return fmt.Errorf("unknown message type %q", msg.Type)
	}
	return nil
}

func (st *parseState) eventID(raw string, n int) string {
	if raw == "" {
		st.seq++
		return fmt.Sprintf("evt-%d", st.seq)
	}
	if n == 0 {
		return raw
	}
	return fmt.Sprintf("%s/%d", raw, n)
}

func applyTokens(ev *trace.Event, tk *tokenCounts) {
	if tk.Input > 0 {
		ev.SetAttr(trace.AttrInputTokens, strconv.FormatInt(tk.Input, 10))
	}
	if tk.Output > 0 {
		ev.SetAttr(trace.AttrOutputTokens, strconv.FormatInt(tk.Output, 10))
	}
	if tk.Total > 0 {
		ev.SetAttr(trace.AttrTotalTokens, strconv.FormatInt(tk.Total, 10))
	}
}

// thoughtsText flattens the thoughts field, which is either a plain string or
// a list of subject/description pairs.
func thoughtsText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return strings.TrimSpace(s)
	}
	var parts []thoughtPart
	if json.Unmarshal(raw, &parts) != nil {
		return ""
	}
	var lines []string
	for _, part := range parts {
		switch {
		case part.Subject != "" && part.Description != "":
			lines = append(lines, part.Subject+": "+part.Description)
		case part.Subject != "":
			lines = append(lines, part.Subject)
		case part.Description != "":
			lines = append(lines, part.Description)
		}
	}
	return strings.Join(lines, "\n")
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

func sessionStem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func newScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	return scanner
}
