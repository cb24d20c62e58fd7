// Package store enumerates recorded sessions across every tool's on-disk
// location and resolves session ids back to paths.
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"agenttrace/internal/registry"
	"agenttrace/internal/trace"
)

var errStop = errors.New("stop iteration")

// Summary is one discovered session, reduced to what listings need.
type Summary struct {
	SessionID    string    `json:"session_id"`
	Tool         string    `json:"tool"`
	Title        string    `json:"title"`
	Path         string    `json:"path"`
	EventCount   int       `json:"event_count"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at,omitzero"`
	UpdatedAt    time.Time `json:"updated_at,omitzero"`
	DurationMS   int64     `json:"duration_ms"`
}

// ListOptions controls how sessions are enumerated.
type ListOptions struct {
	// Roots to walk; DefaultRoots when empty.
	Roots []Root
	// Tool restricts results to one format name.
	Tool     string
	After    *time.Time
	Before   *time.Time
	Limit    int
	MaxTitle int
}

// ListResult contains session summaries and non-fatal warnings.
type ListResult struct {
	Summaries []Summary
	Warnings  []error
}

// Summarize reduces a parsed session to its listing row. tool is the format
// name; when empty the agent's own tool name is used.
func Summarize(sess *trace.Session, path, tool string, maxTitle int) Summary {
	if tool == "" {
		tool = sess.Agent.Tool
	}
	title := sess.Context.Title
	if maxTitle > 0 {
		title = truncate(title, maxTitle)
	}
	return Summary{
		SessionID:    sess.SessionID,
		Tool:         tool,
		Title:        title,
		Path:         path,
		EventCount:   sess.Stats.EventCount,
		MessageCount: sess.Stats.MessageCount,
		CreatedAt:    sess.Context.CreatedAt,
		UpdatedAt:    sess.Context.UpdatedAt,
		DurationMS:   sess.Stats.DurationMS,
	}
}

// ListSessions walks the roots and summarizes every session some parser
// claims. A failed parse becomes a warning, never aborts the walk. Sessions
// that declare a parent are skipped: they surface inside the parent's
// timeline. Formats that expose more than one entry path per session are
// reported once, keyed by session id.
func ListSessions(reg *registry.Registry, opts ListOptions) (ListResult, error) {
	roots := opts.Roots
	if len(roots) == 0 {
		roots = DefaultRoots()
	}

	var result ListResult
	seen := make(map[string]struct{})
	for _, root := range roots {
		if opts.Tool != "" && root.Tool != "" && root.Tool != opts.Tool {
			continue
		}
		if _, err := os.Stat(root.Path); err != nil {
			continue
		}
		err := filepath.WalkDir(root.Path, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				result.Warnings = append(result.Warnings, fmt.Errorf("walk %s: %w", path, walkErr))
				return nil
			}
			if d.IsDir() && subagentDir(path) {
				return fs.SkipDir
			}
			parser, ok := reg.Select(path)
			if !ok {
				return nil
			}
			if opts.Tool != "" && parser.Name() != opts.Tool {
				return nil
			}
			// A claimed directory is one whole session; never descend into it.
			var skip error
			if d.IsDir() {
				skip = fs.SkipDir
			}
			sess, err := parser.Parse(path)
			if err != nil {
				result.Warnings = append(result.Warnings, fmt.Errorf("parse %s: %w", path, err))
				return skip
			}
			if sess.Context.Attrs["parent_session_id"] != "" {
				return skip
			}
			if _, dup := seen[sess.SessionID]; dup {
				return skip
			}
			seen[sess.SessionID] = struct{}{}

			summary := Summarize(sess, path, parser.Name(), opts.MaxTitle)
			if opts.After != nil && summary.CreatedAt.Before(*opts.After) {
				return skip
			}
			if opts.Before != nil && summary.CreatedAt.After(*opts.Before) {
				return skip
			}
			result.Summaries = append(result.Summaries, summary)
			return skip
		})
		if err != nil {
			return result, err
		}
	}

	sort.Slice(result.Summaries, func(i, j int) bool {
		return result.Summaries[i].UpdatedAt.After(result.Summaries[j].UpdatedAt)
	})

	if opts.Limit > 0 && len(result.Summaries) > opts.Limit {
		result.Summaries = result.Summaries[:opts.Limit]
	}

	return result, nil
}

// FindSessionPath resolves a session id, or a unique id prefix, to the entry
// path of its transcript.
func FindSessionPath(reg *registry.Registry, roots []Root, idOrPrefix string) (string, error) {
	if idOrPrefix == "" {
		return "", errors.New("session id is required")
	}
	if len(roots) == 0 {
		roots = DefaultRoots()
	}

	var exact string
	matches := make(map[string]string)
	for _, root := range roots {
		if _, err := os.Stat(root.Path); err != nil {
			continue
		}
		err := filepath.WalkDir(root.Path, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return nil
			}
			if d.IsDir() && subagentDir(path) {
				return fs.SkipDir
			}
			parser, ok := reg.Select(path)
			if !ok {
				return nil
			}
			var skip error
			if d.IsDir() {
				skip = fs.SkipDir
			}
			sess, err := parser.Parse(path)
			if err != nil {
				return skip
			}
			if sess.SessionID == idOrPrefix {
				exact = path
				return errStop
			}
			if strings.HasPrefix(sess.SessionID, idOrPrefix) {
				if _, ok := matches[sess.SessionID]; !ok {
					matches[sess.SessionID] = path
				}
			}
			return skip
		})
		if err != nil && !errors.Is(err, errStop) {
			return "", err
		}
		if exact != "" {
			return exact, nil
		}
	}

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("session %s not found", idOrPrefix)
	case 1:
		for _, path := range matches {
			return path, nil
		}
	}
	ids := make([]string, 0, len(matches))
	for id := range matches {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return "", fmt.Errorf("session id prefix %s is ambiguous: %s", idOrPrefix, strings.Join(ids, ", "))
}

// subagentDir reports whether dir holds subagent transcripts belonging to the
// sibling session file of the same stem. The parent's parse splices those in,
// so walks never treat them as sessions of their own.
func subagentDir(path string) bool {
	_, err := os.Stat(path + ".jsonl")
	return err == nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "…"
}
