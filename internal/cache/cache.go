// Package cache persists parsed sessions in a local SQLite database so
// repeated listings and lookups skip re-walking the source trees.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"agenttrace/internal/store"
	"agenttrace/internal/trace"
)

// ErrNotFound is returned by Get for a session id the cache has never seen.
var ErrNotFound = errors.New("session not in cache")

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		tool TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		source_path TEXT NOT NULL DEFAULT '',
		event_count INTEGER NOT NULL DEFAULT 0,
		message_count INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP,
		updated_at TIMESTAMP,
		payload TEXT NOT NULL,
		cached_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_tool ON sessions(tool)`,
}

// Cache is a SQLite-backed session store. The handle is safe for concurrent
// use; SQLite serializes writers internally.
type Cache struct {
	db *sql.DB
}

// Open opens or creates the cache database at path.
func Open(path string) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set cache pragmas: %w", err)
	}
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init cache schema: %w", err)
		}
	}
	return &Cache{db: db}, nil
}

// Close releases the database handle.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Upsert stores the session under its id, replacing any previous row. The
// summary supplies the queryable columns; the session itself is kept as the
// canonical JSON payload.
func (c *Cache) Upsert(ctx context.Context, sum store.Summary, sess *trace.Session) error {
	if sum.SessionID == "" {
		return errors.New("session id is required")
	}
	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sum.SessionID, err)
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO sessions (
			session_id, tool, title, source_path, event_count, message_count,
			duration_ms, created_at, updated_at, payload, cached_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			tool = excluded.tool,
			title = excluded.title,
			source_path = excluded.source_path,
			event_count = excluded.event_count,
			message_count = excluded.message_count,
			duration_ms = excluded.duration_ms,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			payload = excluded.payload,
			cached_at = excluded.cached_at`,
		sum.SessionID, sum.Tool, sum.Title, sum.Path,
		sum.EventCount, sum.MessageCount, sum.DurationMS,
		sum.CreatedAt, sum.UpdatedAt, string(payload), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", sum.SessionID, err)
	}
	return nil
}

// Get loads the cached session payload.
func (c *Cache) Get(ctx context.Context, sessionID string) (*trace.Session, error) {
	var payload string
	err := c.db.QueryRowContext(ctx,
		`SELECT payload FROM sessions WHERE session_id = ?`, sessionID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	var sess trace.Session
	if err := json.Unmarshal([]byte(payload), &sess); err != nil {
		return nil, fmt.Errorf("decode cached session %s: %w", sessionID, err)
	}
	return &sess, nil
}

// List returns the cached summaries, most recently updated first.
func (c *Cache) List(ctx context.Context) ([]store.Summary, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT session_id, tool, title, source_path, event_count,
			message_count, duration_ms, created_at, updated_at
		FROM sessions
		ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list cached sessions: %w", err)
	}
	defer rows.Close()

	var summaries []store.Summary
	for rows.Next() {
		var s store.Summary
		if err := rows.Scan(&s.SessionID, &s.Tool, &s.Title, &s.Path,
			&s.EventCount, &s.MessageCount, &s.DurationMS,
			&s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan cache row: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// Delete removes one cached session. Deleting an absent id is not an error.
func (c *Cache) Delete(ctx context.Context, sessionID string) error {
	if _, err := c.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	return nil
}
