// Package main provides the agenttrace CLI for browsing AI coding agent
// sessions across tools through one normalized timeline.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"agenttrace/internal/cache"
	"agenttrace/internal/format"
	"agenttrace/internal/log"
	"agenttrace/internal/registry"
	"agenttrace/internal/store"
	"agenttrace/internal/trace"
	"agenttrace/internal/view"
)

var version = "dev"

var (
	verbose bool
	logFile string
)

var rootCmd = &cobra.Command{
	Use:     "agenttrace",
	Short:   "Browse AI coding agent sessions as one normalized timeline",
	Version: version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log.Init(verbose, logFile)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false,
		"log skipped records and parse diagnostics to stderr")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "",
		"also write diagnostics to the given file")

	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newViewCmd())
	rootCmd.AddCommand(newInfoCmd())
	rootCmd.AddCommand(newExportCmd())
	rootCmd.AddCommand(newSyncCmd())
	rootCmd.AddCommand(newCachedCmd())
	rootCmd.AddCommand(newWatchCmd())
}

func main() {
	err := rootCmd.Execute()
	log.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "agenttrace: %v\n", err)
		os.Exit(1)
	}
}

func newListCmd() *cobra.Command {
	var (
		toolFlag   string
		afterStr   string
		beforeStr  string
		limit      int
		formatFlag string
		noHeader   bool
		titleWidth int
		rootFlag   string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions from every tool in reverse chronological order",
		RunE: func(cmd *cobra.Command, args []string) error {
			var after, before *time.Time
			if afterStr != "" {
				t, err := time.Parse(time.RFC3339, afterStr)
				if err != nil {
					return fmt.Errorf("invalid --after value: %w", err)
				}
				after = &t
			}
			if beforeStr != "" {
				t, err := time.Parse(time.RFC3339, beforeStr)
				if err != nil {
					return fmt.Errorf("invalid --before value: %w", err)
				}
				before = &t
			}

			opts := store.ListOptions{
				Roots:    sessionRoots(rootFlag),
				Tool:     strings.ToLower(toolFlag),
				After:    after,
				Before:   before,
				Limit:    limit,
				MaxTitle: titleWidth,
			}

			result, err := store.ListSessions(registry.New(), opts)
			if err != nil {
				return err
			}

			errs := cmd.ErrOrStderr()
			for _, warn := range result.Warnings {
				fmt.Fprintf(errs, "warning: %v\n", warn)
			}

			includeHeader := !noHeader
			return format.WriteSummaries(cmd.OutOrStdout(), result.Summaries, includeHeader, strings.ToLower(formatFlag))
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&toolFlag, "tool", "", "only list one tool: claude, codex, cursor, gemini, opencode or cline")
	flags.StringVar(&afterStr, "after", "", "include sessions created on/after the given RFC3339 timestamp")
	flags.StringVar(&beforeStr, "before", "", "include sessions created on/before the given RFC3339 timestamp")
	flags.IntVar(&limit, "limit", 0, "limit number of sessions returned (0 means no limit)")
	flags.StringVar(&formatFlag, "format", "table", "output format: table, plain, json, or jsonl")
	flags.BoolVar(&noHeader, "no-header", false, "omit header row for plain output")
	flags.IntVar(&titleWidth, "title-width", 80, "maximum characters included in the title column")
	flags.StringVar(&rootFlag, "root", "", "walk a single directory instead of the default roots")

	return cmd
}

func newViewCmd() *cobra.Command {
	var (
		typesArg     string
		rolesArg     string
		wrap         int
		tail         int
		rootFlag     string
		formatFlag   string
		follow       bool
		noPager      bool
		forceColor   bool
		forceNoColor bool
	)

	cmd := &cobra.Command{
		Use:   "view <session-id-or-path>",
		Short: "Render a session timeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if forceColor && forceNoColor {
				return errors.New("--color and --no-color cannot be used together")
			}

			reg := registry.New()
			sess, path, err := resolveSession(reg, rootFlag, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			outFile, _ := out.(*os.File)
			return view.Run(view.Options{
				Session:      sess,
				Path:         path,
				Format:       formatFlag,
				Wrap:         wrap,
				Tail:         tail,
				TypesArg:     typesArg,
				RolesArg:     rolesArg,
				Follow:       follow,
				NoPager:      noPager,
				ForceColor:   forceColor,
				ForceNoColor: forceNoColor,
				Out:          out,
				OutFile:      outFile,
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&typesArg, "types", "T", "", "comma-separated event types to include (default: all)")
	flags.StringVarP(&rolesArg, "roles", "R", "", "comma-separated roles to include: user, agent, system, tool (default: all)")
	flags.IntVar(&wrap, "wrap", 0, "wrap text at the given width (0 means terminal width)")
	flags.IntVar(&tail, "tail", 0, "only render the last N events (0 means all)")
	flags.StringVar(&rootFlag, "root", "", "walk a single directory instead of the default roots")
	flags.StringVar(&formatFlag, "format", "text", "output format: text, chat, json, or jsonl")
	flags.BoolVarP(&follow, "follow", "f", false, "keep the view open and print events as they are appended")
	flags.BoolVar(&noPager, "no-pager", false, "print chat output directly instead of paging")
	flags.BoolVar(&forceColor, "color", false, "force-enable ANSI colors even when stdout is not a TTY")
	flags.BoolVar(&forceNoColor, "no-color", false, "disable ANSI colors regardless of terminal detection")

	return cmd
}

type infoPayload struct {
	SessionID       string   `json:"session_id"`
	Path            string   `json:"path"`
	Tool            string   `json:"tool"`
	Provider        string   `json:"provider,omitempty"`
	Model           string   `json:"model,omitempty"`
	ToolVersion     string   `json:"tool_version,omitempty"`
	Title           string   `json:"title"`
	CreatedAt       string   `json:"created_at,omitempty"`
	UpdatedAt       string   `json:"updated_at,omitempty"`
	DurationMS      int64    `json:"duration_ms"`
	DurationDisplay string   `json:"duration_display"`
	EventCount      int      `json:"event_count"`
	MessageCount    int      `json:"message_count"`
	ToolCallCount   int      `json:"tool_call_count"`
	ToolErrorCount  int      `json:"tool_error_count"`
	FileOpCount     int      `json:"file_op_count"`
	TaskCount       int      `json:"task_count"`
	InputTokens     int64    `json:"input_tokens,omitempty"`
	OutputTokens    int64    `json:"output_tokens,omitempty"`
	TotalTokens     int64    `json:"total_tokens,omitempty"`
	CWD             string   `json:"cwd,omitempty"`
	GitBranch       string   `json:"git_branch,omitempty"`
	RelatedSessions []string `json:"related_session_ids,omitempty"`
}

func buildInfoPayload(sess *trace.Session, path string) infoPayload {
	payload := infoPayload{
		SessionID:       sess.SessionID,
		Path:            path,
		Tool:            sess.Agent.Tool,
		Provider:        sess.Agent.Provider,
		Model:           sess.Agent.Model,
		ToolVersion:     sess.Agent.Version,
		Title:           sess.Context.Title,
		DurationMS:      sess.Stats.DurationMS,
		DurationDisplay: format.FormatDuration(sess.Stats.DurationMS),
		EventCount:      sess.Stats.EventCount,
		MessageCount:    sess.Stats.MessageCount,
		ToolCallCount:   sess.Stats.ToolCallCount,
		ToolErrorCount:  sess.Stats.ToolErrorCount,
		FileOpCount:     sess.Stats.FileOpCount,
		TaskCount:       sess.Stats.TaskCount,
		InputTokens:     sess.Stats.InputTokens,
		OutputTokens:    sess.Stats.OutputTokens,
		TotalTokens:     sess.Stats.TotalTokens,
		CWD:             sess.Context.Attrs[trace.AttrCWD],
		GitBranch:       sess.Context.Attrs[trace.AttrGitBranch],
		RelatedSessions: sess.Context.RelatedSessionIDs,
	}
	if !sess.Context.CreatedAt.IsZero() {
		payload.CreatedAt = sess.Context.CreatedAt.Format(time.RFC3339)
	}
	if !sess.Context.UpdatedAt.IsZero() {
		payload.UpdatedAt = sess.Context.UpdatedAt.Format(time.RFC3339)
	}
	return payload
}

func newInfoCmd() *cobra.Command {
	var (
		formatFlag string
		fullTitle  bool
		rootFlag   string
	)

	cmd := &cobra.Command{
		Use:   "info <session-id-or-path>",
		Short: "Show session metadata and aggregate statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := registry.New()
			sess, path, err := resolveSession(reg, rootFlag, args[0])
			if err != nil {
				return err
			}

			payload := buildInfoPayload(sess, path)

			titleSnippet := collapseWhitespace(payload.Title)
			if !fullTitle {
				titleSnippet = clipTitle(titleSnippet, 160)
			}

			switch strings.ToLower(formatFlag) {
			case "json":
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(payload)
			case "text":
				renderInfoText(cmd.OutOrStdout(), payload, titleSnippet)
				return nil
			default:
				return fmt.Errorf("unsupported format: %s", formatFlag)
			}
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&formatFlag, "format", "text", "output format: text or json")
	flags.BoolVar(&fullTitle, "full-title", false, "show the full title without clipping")
	flags.StringVar(&rootFlag, "root", "", "walk a single directory instead of the default roots")

	return cmd
}

func newExportCmd() *cobra.Command {
	var (
		formatFlag string
		outPath    string
		rootFlag   string
	)

	cmd := &cobra.Command{
		Use:   "export <session-id-or-path>",
		Short: "Write a normalized session as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := registry.New()
			sess, _, err := resolveSession(reg, rootFlag, args[0])
			if err != nil {
				return err
			}

			var out io.Writer = cmd.OutOrStdout()
			if outPath != "" {
				f, err := os.Create(outPath)
				if err != nil {
					return fmt.Errorf("create export file: %w", err)
				}
				defer f.Close()
				out = f
			}

			switch strings.ToLower(formatFlag) {
			case "", "json":
				return format.EncodeSession(out, sess)
			case "jsonl":
				return format.EncodeSessionLines(out, sess)
			default:
				return fmt.Errorf("unsupported format: %s", formatFlag)
			}
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&formatFlag, "format", "json", "output format: json or jsonl")
	flags.StringVarP(&outPath, "out", "o", "", "write to the given file instead of stdout")
	flags.StringVar(&rootFlag, "root", "", "walk a single directory instead of the default roots")

	return cmd
}

func newSyncCmd() *cobra.Command {
	var (
		toolFlag  string
		rootFlag  string
		cacheFlag string
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Parse every discovered session into the local cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := registry.New()
			result, err := store.ListSessions(reg, store.ListOptions{
				Roots: sessionRoots(rootFlag),
				Tool:  strings.ToLower(toolFlag),
			})
			if err != nil {
				return err
			}

			errs := cmd.ErrOrStderr()
			for _, warn := range result.Warnings {
				fmt.Fprintf(errs, "warning: %v\n", warn)
			}

			path, err := cacheFilePath(cacheFlag)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return fmt.Errorf("create cache directory: %w", err)
			}
			c, err := cache.Open(path)
			if err != nil {
				return err
			}
			defer c.Close()

			ctx := cmd.Context()
			synced := 0
			for _, sum := range result.Summaries {
				sess, err := reg.Parse(sum.Path)
				if err != nil {
					fmt.Fprintf(errs, "warning: %v\n", err)
					continue
				}
				if err := c.Upsert(ctx, store.Summarize(sess, sum.Path, sum.Tool, 0), sess); err != nil {
					return err
				}
				synced++
			}

			fmt.Fprintf(cmd.OutOrStdout(), "synced %d of %d sessions to %s\n", synced, len(result.Summaries), path)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&toolFlag, "tool", "", "only sync one tool: claude, codex, cursor, gemini, opencode or cline")
	flags.StringVar(&rootFlag, "root", "", "walk a single directory instead of the default roots")
	flags.StringVar(&cacheFlag, "cache", "", "override the cache database path")

	return cmd
}

func newCachedCmd() *cobra.Command {
	var (
		formatFlag string
		noHeader   bool
		cacheFlag  string
	)

	cmd := &cobra.Command{
		Use:   "cached",
		Short: "List sessions from the local cache without re-walking the roots",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := cacheFilePath(cacheFlag)
			if err != nil {
				return err
			}
			c, err := cache.Open(path)
			if err != nil {
				return err
			}
			defer c.Close()

			items, err := c.List(cmd.Context())
			if err != nil {
				return err
			}

			includeHeader := !noHeader
			return format.WriteSummaries(cmd.OutOrStdout(), items, includeHeader, strings.ToLower(formatFlag))
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&formatFlag, "format", "table", "output format: table, plain, json, or jsonl")
	flags.BoolVar(&noHeader, "no-header", false, "omit header row for plain output")
	flags.StringVar(&cacheFlag, "cache", "", "override the cache database path")

	return cmd
}

func newWatchCmd() *cobra.Command {
	var (
		typesArg     string
		rolesArg     string
		wrap         int
		tail         int
		rootFlag     string
		forceColor   bool
		forceNoColor bool
	)

	cmd := &cobra.Command{
		Use:   "watch <session-id-or-path>",
		Short: "Follow a live session, printing events as they are recorded",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if forceColor && forceNoColor {
				return errors.New("--color and --no-color cannot be used together")
			}

			reg := registry.New()
			sess, path, err := resolveSession(reg, rootFlag, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			outFile, _ := out.(*os.File)
			return view.Run(view.Options{
				Session:      sess,
				Path:         path,
				Format:       "text",
				Wrap:         wrap,
				Tail:         tail,
				TypesArg:     typesArg,
				RolesArg:     rolesArg,
				Follow:       true,
				ForceColor:   forceColor,
				ForceNoColor: forceNoColor,
				Out:          out,
				OutFile:      outFile,
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&typesArg, "types", "T", "", "comma-separated event types to include (default: all)")
	flags.StringVarP(&rolesArg, "roles", "R", "", "comma-separated roles to include: user, agent, system, tool (default: all)")
	flags.IntVar(&wrap, "wrap", 0, "wrap text at the given width (0 means terminal width)")
	flags.IntVar(&tail, "tail", 0, "only print the last N backlog events before following (0 means all)")
	flags.StringVar(&rootFlag, "root", "", "walk a single directory instead of the default roots")
	flags.BoolVar(&forceColor, "color", false, "force-enable ANSI colors even when stdout is not a TTY")
	flags.BoolVar(&forceNoColor, "no-color", false, "disable ANSI colors regardless of terminal detection")

	return cmd
}

// sessionRoots returns the directories to enumerate: an explicit --root wins,
// then AGENTTRACE_ROOT, then the per-tool defaults. An override is walked
// unlabeled so every registered format gets a chance to claim its entries.
func sessionRoots(rootFlag string) []store.Root {
	dir := rootFlag
	if dir == "" {
		dir = os.Getenv("AGENTTRACE_ROOT")
	}
	if dir == "" {
		return store.DefaultRoots()
	}
	return []store.Root{{Path: dir}}
}

func resolveSession(reg *registry.Registry, rootFlag, arg string) (*trace.Session, string, error) {
	path, err := resolveSessionPath(reg, sessionRoots(rootFlag), arg)
	if err != nil {
		return nil, "", err
	}
	sess, err := reg.Parse(path)
	if err != nil {
		return nil, "", err
	}
	return sess, path, nil
}

// resolveSessionPath accepts a direct path, a path relative to one of the
// roots, or a session id prefix. Directories count: a cline session is a task
// directory, not a file.
func resolveSessionPath(reg *registry.Registry, roots []store.Root, arg string) (string, error) {
	if arg == "" {
		return "", errors.New("session identifier is empty")
	}

	if _, err := os.Stat(arg); err == nil {
		if _, ok := reg.Select(arg); ok {
			return arg, nil
		}
	}

	for _, root := range roots {
		candidate := filepath.Join(root.Path, arg)
		if _, err := os.Stat(candidate); err == nil {
			if _, ok := reg.Select(candidate); ok {
				return candidate, nil
			}
		}
	}

	return store.FindSessionPath(reg, roots, arg)
}

func cacheFilePath(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if env := os.Getenv("AGENTTRACE_CACHE"); env != "" {
		return env, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determine home directory: %w", err)
	}
	return filepath.Join(home, ".cache", "agenttrace", "sessions.db"), nil
}

func renderInfoText(out io.Writer, payload infoPayload, titleSnippet string) {
	const labelWidth = 14
	writeKV(out, labelWidth, "Session ID", payload.SessionID)
	writeKV(out, labelWidth, "Tool", payload.Tool)
	if payload.Provider != "" {
		writeKV(out, labelWidth, "Provider", payload.Provider)
	}
	if payload.Model != "" {
		writeKV(out, labelWidth, "Model", payload.Model)
	}
	if payload.ToolVersion != "" {
		writeKV(out, labelWidth, "Tool Version", payload.ToolVersion)
	}
	writeKV(out, labelWidth, "Title", titleSnippet)
	writeKV(out, labelWidth, "Created At", payload.CreatedAt)
	writeKV(out, labelWidth, "Updated At", payload.UpdatedAt)
	writeKV(out, labelWidth, "Duration", payload.DurationDisplay)
	writeKV(out, labelWidth, "Events", fmt.Sprintf("%d", payload.EventCount))
	writeKV(out, labelWidth, "Messages", fmt.Sprintf("%d", payload.MessageCount))
	writeKV(out, labelWidth, "Tool Calls", fmt.Sprintf("%d", payload.ToolCallCount))
	writeKV(out, labelWidth, "Tool Errors", fmt.Sprintf("%d", payload.ToolErrorCount))
	writeKV(out, labelWidth, "File Ops", fmt.Sprintf("%d", payload.FileOpCount))
	writeKV(out, labelWidth, "Tasks", fmt.Sprintf("%d", payload.TaskCount))
	if payload.TotalTokens > 0 {
		writeKV(out, labelWidth, "Tokens", fmt.Sprintf("%d in / %d out / %d total",
			payload.InputTokens, payload.OutputTokens, payload.TotalTokens))
	}
	if payload.CWD != "" {
		writeKV(out, labelWidth, "CWD", payload.CWD)
	}
	if payload.GitBranch != "" {
		writeKV(out, labelWidth, "Git Branch", payload.GitBranch)
	}
	if len(payload.RelatedSessions) > 0 {
		writeKV(out, labelWidth, "Related", strings.Join(payload.RelatedSessions, ", "))
	}
	writeKV(out, labelWidth, "Path", payload.Path)
}

func writeKV(out io.Writer, width int, label string, value string) {
	fmt.Fprintf(out, "%-*s: %s\n", width, label, value)
}

func collapseWhitespace(text string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(text)), " ")
}

func clipTitle(text string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	if max == 1 {
		return "…"
	}
	return string(runes[:max-1]) + "…"
}
