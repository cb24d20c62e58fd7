package store

import (
	"os"
	"path/filepath"
)

// Root is one directory to enumerate, labeled with the format whose sessions
// live under it.
type Root struct {
	Tool string
	Path string
}

// DefaultRoots returns the conventional session locations of every supported
// tool under the current user's home. Roots that do not exist are skipped
// during enumeration, so the list is safe to use as-is on machines that have
// only some of the tools installed.
func DefaultRoots() []Root {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	return []Root{
		{Tool: "claude", Path: filepath.Join(home, ".claude", "projects")},
		{Tool: "codex", Path: filepath.Join(home, ".codex", "sessions")},
		{Tool: "cursor", Path: filepath.Join(home, ".config", "Cursor", "User", "workspaceStorage")},
		{Tool: "gemini", Path: filepath.Join(home, ".gemini", "tmp")},
		{Tool: "opencode", Path: filepath.Join(home, ".local", "share", "opencode", "storage")},
		{Tool: "cline", Path: filepath.Join(home, ".config", "Code", "User", "globalStorage", "saoudrizwan.claude-dev", "tasks")},
	}
}
