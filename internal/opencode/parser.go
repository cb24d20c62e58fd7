package opencode

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"agenttrace/internal/ingest"
	"agenttrace/internal/log"
	"agenttrace/internal/trace"
)

const maxTitleLen = 120

// Parser reads opencode storage trees.
type Parser struct{}

func New() *Parser { return &Parser{} }

// Name returns the format name.
func (p *Parser) Name() string { return "opencode" }

// CanParse accepts a session info document or a per-session message
// directory. Part and message documents are never claimed on their own, so a
// storage walk yields each session once.
func (p *Parser) CanParse(path string) bool {
	slash := filepath.ToSlash(path)
	if !strings.Contains(slash, "opencode") {
		return false
	}
	if strings.Contains(slash, "/storage/session/info/") {
		return filepath.Ext(path) == ".json"
	}
	if strings.Contains(slash, "/storage/session/message/") {
		return filepath.Ext(path) == ""
	}
	return false
}

// Parse assembles one session from the storage tree: the info document for
// metadata, then every message document in id order, with parts either
// inline or under the sibling part directory, then any child sessions whose
// info document names this one as parent. Individual documents that fail to
// read or decode are skipped; only the entry point itself is fatal.
func (p *Parser) Parse(path string) (*trace.Session, error) {
	sessionID, storageDir, fromInfo, err := resolveSession(path)
	if err != nil {
		return nil, err
	}
	sess, err := p.parseSession(storageDir, sessionID, fromInfo)
	if err != nil {
		return nil, err
	}
	p.mergeChildren(sess, storageDir)
	sess.Finalize()
	return sess, nil
}

func (p *Parser) parseSession(storageDir, sessionID string, fromInfo bool) (*trace.Session, error) {
	sess := &trace.Session{
		SessionID: sessionID,
		Agent:     trace.Agent{Tool: "opencode"},
	}
	if err := applyInfo(storageDir, sessionID, sess, fromInfo); err != nil {
		return nil, err
	}

	msgDir := filepath.Join(storageDir, "session", "message", sessionID)
	names, err := docNames(msgDir)
	if err != nil {
		if fromInfo && os.IsNotExist(err) {
			return sess, nil
		}
		return nil, fmt.Errorf("list message documents: %w", err)
	}

	st := &parseState{sess: sess, calls: ingest.NewCallTable(), storageDir: storageDir}
	for _, name := range names {
		msgPath := filepath.Join(msgDir, name)
		data, err := os.ReadFile(msgPath)
		if err != nil {
			log.L().Debug("skip message document", zap.String("path", msgPath), zap.Error(err))
			continue
		}
		var doc messageDoc
		if err := json.Unmarshal(data, &doc); err != nil {
			log.L().Debug("skip message document", zap.String("path", msgPath), zap.Error(err))
			continue
		}
		st.consume(doc)
	}
	return sess, nil
}

// mergeChildren splices sessions whose info document records this session as
// parentID. One level only: a child's own children are not followed.
func (p *Parser) mergeChildren(sess *trace.Session, storageDir string) {
	if sess.SessionID == "" {
		return
	}
	infoDir := filepath.Join(storageDir, "session", "info")
	names, err := docNames(infoDir)
	if err != nil {
		return
	}
	for _, name := range names {
		childID := strings.TrimSuffix(name, ".json")
		if childID == sess.SessionID {
			continue
		}
		infoPath := filepath.Join(infoDir, name)
		data, err := os.ReadFile(infoPath)
		if err != nil {
			continue
		}
		var info infoDoc
		if err := json.Unmarshal(data, &info); err != nil || info.ParentID != sess.SessionID {
			continue
		}
		child, err := p.parseSession(storageDir, childID, true)
		if err != nil {
			log.L().Debug("skip child session", zap.String("path", infoPath), zap.Error(err))
			continue
		}
		if len(child.Events) == 0 {
			continue
		}
		child.Finalize()
		trace.MergeChild(sess, child, "task-"+shortID(childID))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// resolveSession locates the storage root and session id behind an entry
// path, which is either .../storage/session/info/<id>.json or the message
// directory .../storage/session/message/<id>.
func resolveSession(path string) (sessionID, storageDir string, fromInfo bool, err error) {
	slash := filepath.ToSlash(path)
	switch {
	case strings.Contains(slash, "/storage/session/info/"):
		base := filepath.Base(path)
		sessionID = strings.TrimSuffix(base, filepath.Ext(base))
		storageDir = filepath.Dir(filepath.Dir(filepath.Dir(path)))
		return sessionID, storageDir, true, nil
	case strings.Contains(slash, "/storage/session/message/"):
		sessionID = filepath.Base(path)
		storageDir = filepath.Dir(filepath.Dir(filepath.Dir(path)))
		return sessionID, storageDir, false, nil
	}
	return "", "", false, fmt.Errorf("not an opencode session path: %s", path)
}

// applyInfo merges the info document into the session header. When the entry
// point was the info document itself a failure is fatal; when it was the
// message directory the session degrades to timeline-only.
func applyInfo(storageDir, sessionID string, sess *trace.Session, required bool) error {
	infoPath := filepath.Join(storageDir, "session", "info", sessionID+".json")
	data, err := os.ReadFile(infoPath)
	if err != nil {
		if required {
			return fmt.Errorf("open session info: %w", err)
		}
		log.L().Debug("skip session info", zap.String("path", infoPath), zap.Error(err))
		return nil
	}
	var info infoDoc
	if err := json.Unmarshal(data, &info); err != nil {
		if required {
			return fmt.Errorf("decode session info %s: %w", infoPath, err)
		}
		log.L().Debug("skip session info", zap.String("path", infoPath), zap.Error(err))
		return nil
	}

	if info.ID != "" {
		sess.SessionID = info.ID
	}
	sess.Context.Title = info.Title
	sess.Agent.Version = info.Version
	if info.Time.Created > 0 {
		sess.Context.CreatedAt = ingest.FromEpoch(float64(info.Time.Created))
	}
	if info.Time.Updated > 0 {
		sess.Context.UpdatedAt = ingest.FromEpoch(float64(info.Time.Updated))
	}
	if info.ParentID != "" {
		sess.Context.RelatedSessionIDs = append(sess.Context.RelatedSessionIDs, info.ParentID)
		sess.Context.SetAttr("parent_session_id", info.ParentID)
	}
	return nil
}

// docNames lists the JSON documents in a directory in id order. opencode ids
// are time-ordered, so lexicographic order is chronological.
func docNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

type parseState struct {
	sess       *trace.Session
	calls      *ingest.CallTable
	storageDir string
	seq        int
}

func (st *parseState) consume(doc messageDoc) {
	ts := st.sess.Context.CreatedAt
	if doc.Time.Created > 0 {
		ts = ingest.FromEpoch(float64(doc.Time.Created))
	}
	if st.sess.Context.CreatedAt.IsZero() {
		st.sess.Context.CreatedAt = ts
	}
	st.sess.Agent.Provider = ingest.FirstNonEmpty(st.sess.Agent.Provider, doc.ProviderID)
	st.sess.Agent.Model = ingest.FirstNonEmpty(st.sess.Agent.Model, doc.ModelID)

	// Parts are sequential within a message but only tool states carry their
	// own times, so a cursor keeps later parts from sorting before earlier
	// tool activity.
	for i, part := range st.parts(doc) {
		ts = st.consumePart(doc, part, i, ts)
	}
}

// parts returns the message's parts: inline when the older layout recorded
// them on the message doc, otherwise read from the part directory.
func (st *parseState) parts(doc messageDoc) []partDoc {
	if len(doc.Parts) > 0 {
		return doc.Parts
	}
	partDir := filepath.Join(st.storageDir, "session", "part", doc.ID)
	names, err := docNames(partDir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.L().Debug("skip part directory", zap.String("path", partDir), zap.Error(err))
		}
		return nil
	}
	parts := make([]partDoc, 0, len(names))
	for _, name := range names {
		partPath := filepath.Join(partDir, name)
		data, err := os.ReadFile(partPath)
		if err != nil {
			log.L().Debug("skip part document", zap.String("path", partPath), zap.Error(err))
			continue
		}
		var part partDoc
		if err := json.Unmarshal(data, &part); err != nil {
			log.L().Debug("skip part document", zap.String("path", partPath), zap.Error(err))
			continue
		}
		parts = append(parts, part)
	}
	return parts
}

func (st *parseState) consumePart(doc messageDoc, part partDoc, index int, ts time.Time) time.Time {
	switch part.Type {
	case partText:
		if part.Text == "" {
			return ts
		}
		kind := trace.EventSystemMessage
		switch doc.Role {
		case "user":
			kind = trace.EventUserMessage
		case "assistant":
			kind = trace.EventAgentMessage
		}
		st.sess.Events = append(st.sess.Events, trace.Event{
			ID:        st.partID(doc, part, index),
			Timestamp: ts,
			Type:      kind,
			Content:   trace.TextContent(part.Text),
		})
		if kind == trace.EventUserMessage && st.sess.Context.Title == "" {
			st.sess.Context.Title = titleFromText(part.Text)
		}
	case partReasoning:
		if part.Text == "" {
			return ts
		}
		st.sess.Events = append(st.sess.Events, trace.Event{
			ID:        st.partID(doc, part, index),
			Timestamp: ts,
			Type:      trace.EventThinking,
			Content:   trace.TextContent(part.Text),
		})
	case partTool:
		return st.consumeTool(doc, part, index, ts)
	case partStepStart, partStepFinish:
		// Turn boundaries carry no timeline content.
	default:
		log.L().Debug("skip unknown part type",
			zap.String("message", doc.ID),
			zap.String("type", part.Type))
	}
	return ts
}

// consumeTool emits the classified call event and, once the state reports a
// terminal status, the correlated result.
func (st *parseState) consumeTool(doc messageDoc, part partDoc, index int, ts time.Time) time.Time {
	input := map[string]any{}
	var rawInput json.RawMessage
	if part.State != nil && len(part.State.Input) > 0 {
		rawInput = part.State.Input
		if err := json.Unmarshal(part.State.Input, &input); err != nil {
			log.L().Debug("skip tool input",
				zap.String("message", doc.ID),
				zap.String("part", part.ID),
				zap.Error(err))
		}
	}

	call := ingest.Classify(part.Tool, input)
	call.ID = st.partID(doc, part, index)
	call.Timestamp = ts
	if part.State != nil {
		if part.State.Time.Start > 0 {
			call.Timestamp = ingest.FromEpoch(float64(part.State.Time.Start))
		}
		call.Title = part.State.Title
	}
	if len(rawInput) > 0 {
		call.Content = trace.JSONContent(rawInput)
	}
	st.calls.Record(part.CallID, call.ID, part.Tool)
	st.sess.Events = append(st.sess.Events, call)
	if call.Timestamp.After(ts) {
		ts = call.Timestamp
	}

	if part.State == nil {
		return ts
	}
	if part.State.Status != stateCompleted && part.State.Status != stateError {
		return ts
	}
	result := trace.Event{
		ID:        call.ID + "/result",
		Timestamp: call.Timestamp,
		Type:      trace.EventToolResult,
		IsError:   part.State.Status == stateError,
	}
	if ref, ok := st.calls.Resolve(part.CallID); ok {
		result.CallID = ref.EventID
		result.Tool = ref.Tool
	}
	if part.State.Time.End > 0 {
		result.Timestamp = ingest.FromEpoch(float64(part.State.Time.End))
		if part.State.Time.Start > 0 {
			result.DurationMS = part.State.Time.End - part.State.Time.Start
		}
	}
	if part.State.Output != "" {
		result.Content = trace.TextContent(part.State.Output)
	}
	st.sess.Events = append(st.sess.Events, result)
	if result.Timestamp.After(ts) {
		ts = result.Timestamp
	}
	return ts
}

func (st *parseState) partID(doc messageDoc, part partDoc, index int) string {
	if part.ID != "" {
		return part.ID
	}
	if doc.ID != "" {
		return fmt.Sprintf("%s/%d", doc.ID, index)
	}
	st.seq++
	return fmt.Sprintf("evt-%d", st.seq)
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
