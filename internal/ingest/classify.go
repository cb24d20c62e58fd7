package ingest

import (
	"path/filepath"
	"strings"

	"agenttrace/internal/trace"
)

// toolKinds maps known tool names, across every supported producer and the
// renames they went through, to the specialized event kind.
var toolKinds = map[string]trace.EventType{
	"bash":             trace.EventShellCommand,
	"shell":            trace.EventShellCommand,
	"local_shell":      trace.EventShellCommand,
	"execute_command":  trace.EventShellCommand,
	"run_terminal_cmd": trace.EventShellCommand,
	"terminal":         trace.EventShellCommand,

	"read":      trace.EventFileRead,
	"read_file": trace.EventFileRead,
	"readfile":  trace.EventFileRead,
	"view":      trace.EventFileRead,
	"open_file": trace.EventFileRead,
	"cat":       trace.EventFileRead,

	"edit":               trace.EventFileEdit,
	"multiedit":          trace.EventFileEdit,
	"edit_file":          trace.EventFileEdit,
	"editedexistingfile": trace.EventFileEdit,
	"replace_in_file":    trace.EventFileEdit,
	"apply_patch":        trace.EventFileEdit,
	"str_replace":        trace.EventFileEdit,

	"write":          trace.EventFileCreate,
	"write_file":     trace.EventFileCreate,
	"write_to_file":  trace.EventFileCreate,
	"create_file":    trace.EventFileCreate,
	"newfilecreated": trace.EventFileCreate,

	"delete_file": trace.EventFileDelete,
	"remove_file": trace.EventFileDelete,
	"rm":          trace.EventFileDelete,

	"grep":            trace.EventCodeSearch,
	"search_files":    trace.EventCodeSearch,
	"searchfiles":     trace.EventCodeSearch,
	"codebase_search": trace.EventCodeSearch,
	"ripgrep":         trace.EventCodeSearch,

	"glob":               trace.EventFileSearch,
	"list_files":         trace.EventFileSearch,
	"listfilestoplevel":  trace.EventFileSearch,
	"listfilesrecursive": trace.EventFileSearch,
	"find_files":         trace.EventFileSearch,
	"file_search":        trace.EventFileSearch,

	"websearch":       trace.EventWebSearch,
	"web_search":      trace.EventWebSearch,
	"search_web":      trace.EventWebSearch,
	"web_search_call": trace.EventWebSearch,

	"webfetch":       trace.EventWebFetch,
	"web_fetch":      trace.EventWebFetch,
	"fetch":          trace.EventWebFetch,
	"url_fetch":      trace.EventWebFetch,
	"browser_action": trace.EventWebFetch,
}

// Classify builds the canonical event skeleton for one tool invocation: the
// specialized event kind when the tool name is known, with the variant field
// extracted from whichever historical input shape is present. The caller
// fills ID, Timestamp, Content and attributes. Unknown tools stay a generic
// tool_call.
func Classify(tool string, input map[string]any) trace.Event {
	kind, ok := toolKinds[normalizeToolName(tool)]
	if !ok {
		return trace.Event{Type: trace.EventToolCall, Tool: tool}
	}

	ev := trace.Event{Type: kind, Tool: tool}
	switch kind {
	case trace.EventShellCommand:
		ev.Command = ExtractCommand(input)
	case trace.EventFileRead, trace.EventFileEdit, trace.EventFileCreate, trace.EventFileDelete:
		ev.Path = GetString(input, "file_path", "filePath", "path", "target_file", "absolute_path", "filename", "file")
	case trace.EventCodeSearch:
		ev.Query = GetString(input, "query", "pattern", "regex", "search_term")
	case trace.EventFileSearch:
		ev.Pattern = GetString(input, "pattern", "glob", "path_pattern", "query", "name")
	case trace.EventWebSearch:
		ev.Query = GetString(input, "query", "search_term", "q")
	case trace.EventWebFetch:
		ev.URL = GetString(input, "url", "uri", "link")
	}
	return ev
}

func normalizeToolName(tool string) string {
	return strings.ToLower(strings.TrimSpace(tool))
}

// ExtractCommand pulls the command string out of a shell invocation payload.
// Producers have recorded it as a bare string, as an argv array whose shell
// prefix must be stripped, and under several key names.
func ExtractCommand(input map[string]any) string {
	for _, key := range []string{"command", "cmd", "script", "args"} {
		raw, ok := input[key]
		if !ok {
			continue
		}
		switch v := raw.(type) {
		case string:
			if v != "" {
				return v
			}
		case []any:
			if cmd := CommandFromArgs(stringSlice(v)); cmd != "" {
				return cmd
			}
		}
	}
	return ""
}

// CommandFromArgs renders an argv array as the command a user would read:
// a leading [shell, -c/-lc] pair is stripped so only the actual command line
// remains; anything else joins verbatim.
func CommandFromArgs(args []string) string {
	if len(args) >= 3 && isShellPath(args[0]) && isCommandFlag(args[1]) {
		return strings.Join(args[2:], " ")
	}
	return strings.Join(args, " ")
}

func isShellPath(s string) bool {
	switch filepath.Base(s) {
	case "bash", "sh", "zsh", "dash", "fish", "ksh":
		return true
	}
	return false
}

func isCommandFlag(s string) bool {
	return strings.HasPrefix(s, "-") && strings.ContainsRune(s, 'c')
}

func stringSlice(raw []any) []string {
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
