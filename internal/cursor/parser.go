// Package cursor parses Cursor workspace state databases into canonical
// sessions. Each workspace keeps a state.vscdb SQLite store; AI conversations
// live in two generations of keys: the legacy chat panel state in ItemTable
// and composer conversations in cursorDiskKV.
package cursor

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"agenttrace/internal/log"
	"agenttrace/internal/trace"
)

const (
	chatDataKey  = "workbench.panel.aichat.view.aichat.chatdata"
	composerKey  = "composer.composerData"
	composerBody = "composerData:" // cursorDiskKV key prefix
)

type chatTab struct {
	TabID     string       `json:"tabId"`
	ChatTitle string       `json:"chatTitle"`
	Bubbles   []chatBubble `json:"bubbles"`
}

type chatBubble struct {
	Type string `json:"type"` // "user" or "ai"
	Text string `json:"text"`
}

type composerMeta struct {
	ComposerID    string `json:"composerId"`
	Name          string `json:"name"`
	CreatedAt     int64  `json:"createdAt"`
	LastUpdatedAt int64  `json:"lastUpdatedAt"`
}

type composerBubble struct {
	Type       int         `json:"type"` // 1 user, 2 assistant
	Text       string      `json:"text"`
	BubbleID   string      `json:"bubbleId"`
	TimingInfo *timingInfo `json:"timingInfo"`
}

type timingInfo struct {
	ClientStartTime int64 `json:"clientStartTime"`
	ClientEndTime   int64 `json:"clientEndTime"`
}

// Parser reads Cursor workspace state databases.
type Parser struct{}

// New returns a Cursor state parser.
func New() *Parser { return &Parser{} }

// Name returns the format name.
func (p *Parser) Name() string { return "cursor" }

// CanParse matches the workspace state database by its fixed name.
func (p *Parser) CanParse(path string) bool {
	return filepath.Base(path) == "state.vscdb"
}

// Parse opens the database read-only and collects every conversation stored
// in the workspace into one session. Missing tables or keys are not errors;
// a file that is not a SQLite database is.
func (p *Parser) Parse(path string) (*trace.Session, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}

	sess := &trace.Session{
		SessionID: sessionIDFromPath(path),
		Agent:     trace.Agent{Tool: "cursor"},
	}
	st := &parseState{sess: sess}
	st.readComposers(db)
	st.readChatData(db)

	sess.Finalize()
	return sess, nil
}

func sessionIDFromPath(path string) string {
	dir := filepath.Base(filepath.Dir(path))
	if dir == "" || dir == "." || dir == string(filepath.Separator) {
		return "cursor-session"
	}
	return "cursor-" + dir
}

type parseState struct {
	sess *trace.Session
	seq  int
}

func (st *parseState) nextID() string {
	st.seq++
	return "evt-" + strconv.Itoa(st.seq)
}

// readComposers ingests the composer index and each conversation body.
func (st *parseState) readComposers(db *sql.DB) {
	raw, ok := storeValue(db, "ItemTable", composerKey)
	if !ok {
		return
	}
	var payload struct {
		AllComposers []composerMeta `json:"allComposers"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		log.L().Debug("skip composer index", zap.Error(err))
		return
	}

	for _, meta := range payload.AllComposers {
		if meta.ComposerID == "" {
			continue
		}
		if st.sess.Context.Title == "" && meta.Name != "" {
			st.sess.Context.Title = meta.Name
		}
		created := fromMillis(meta.CreatedAt)
		if !created.IsZero() &&
			(st.sess.Context.CreatedAt.IsZero() || created.Before(st.sess.Context.CreatedAt)) {
			st.sess.Context.CreatedAt = created
		}
		if updated := fromMillis(meta.LastUpdatedAt); updated.After(st.sess.Context.UpdatedAt) {
			st.sess.Context.UpdatedAt = updated
		}
		st.readConversation(db, meta, created)
	}
}

// readConversation ingests one composer body from cursorDiskKV.
func (st *parseState) readConversation(db *sql.DB, meta composerMeta, fallback time.Time) {
	raw, ok := storeValue(db, "cursorDiskKV", composerBody+meta.ComposerID)
	if !ok {
		return
	}
	var payload struct {
		Conversation []composerBubble `json:"conversation"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		log.L().Debug("skip composer body", zap.String("composer", meta.ComposerID), zap.Error(err))
		return
	}

	for _, bubble := range payload.Conversation {
		text := strings.TrimSpace(bubble.Text)
		if text == "" {
			continue
		}
		var kind trace.EventType
		switch bubble.Type {
		case 1:
			kind = trace.EventUserMessage
		case 2:
			kind = trace.EventAgentMessage
		default:
			continue
		}

		ts := fallback
		if bubble.TimingInfo != nil {
			if t := fromMillis(bubble.TimingInfo.ClientStartTime); !t.IsZero() {
				ts = t
			}
		}

		id := bubble.BubbleID
		if id == "" {
			id = st.nextID()
		}
		ev := trace.Event{ID: id, Timestamp: ts, Type: kind, Content: trace.TextContent(text)}
		ev.SetAttr("composer_id", meta.ComposerID)
		st.sess.Events = append(st.sess.Events, ev)
	}
}

// readChatData ingests the legacy AI-chat panel state.
func (st *parseState) readChatData(db *sql.DB) {
	raw, ok := storeValue(db, "ItemTable", chatDataKey)
	if !ok {
		return
	}
	var payload struct {
		Tabs []chatTab `json:"tabs"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		log.L().Debug("skip chat data", zap.Error(err))
		return
	}

	for _, tab := range payload.Tabs {
		if st.sess.Context.Title == "" && tab.ChatTitle != "" {
			st.sess.Context.Title = tab.ChatTitle
		}
		for _, bubble := range tab.Bubbles {
			text := strings.TrimSpace(bubble.Text)
			if text == "" {
				continue
			}
			kind := trace.EventAgentMessage
			if bubble.Type == "user" {
				kind = trace.EventUserMessage
			}
			// Legacy bubbles carry no timestamps; discovery order stands.
			ev := trace.Event{ID: st.nextID(), Type: kind, Content: trace.TextContent(text)}
			if tab.TabID != "" {
				ev.SetAttr("tab_id", tab.TabID)
			}
			st.sess.Events = append(st.sess.Events, ev)
		}
	}
}

// storeValue reads one key from a key-value table. A missing table or key is
// not an error; the source is simply absent.
func storeValue(db *sql.DB, table, key string) (json.RawMessage, bool) {
	query := fmt.Sprintf("SELECT value FROM %s WHERE [key] = ?", table)
	var raw []byte
	if err := db.QueryRow(query, key).Scan(&raw); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			log.L().Debug("read state db", zap.String("table", table), zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	return raw, len(raw) > 0
}

func fromMillis(n int64) time.Time {
	if n <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(n).UTC()
}
