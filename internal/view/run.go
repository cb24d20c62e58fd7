// Package view renders a session timeline to a terminal: plain text, chat
// bubbles or JSON, with type/role filters, a tail window, optional paging and
// a live follow mode.
package view

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"golang.org/x/term"

	"agenttrace/internal/format"
	"agenttrace/internal/trace"
)

// Options defines the configurable parameters for rendering a view.
type Options struct {
	Session      *trace.Session
	Path         string
	Format       string
	Wrap         int
	Tail         int
	TypesArg     string
	RolesArg     string
	Follow       bool
	NoPager      bool
	ForceColor   bool
	ForceNoColor bool
	Out          io.Writer
	OutFile      *os.File
	// Stop ends follow mode when closed. A nil channel follows forever.
	Stop <-chan struct{}
}

// Run renders the session according to the provided options.
func Run(opts Options) error {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Session == nil {
		return errors.New("no session to render")
	}

	filters, err := buildViewFilters(opts.TypesArg, opts.RolesArg)
	if err != nil {
		return err
	}

	formatMode := strings.ToLower(opts.Format)
	if formatMode == "" {
		formatMode = "text"
	}

	if opts.Follow {
		if formatMode != "text" {
			return fmt.Errorf("follow mode supports only the text format, not %s", formatMode)
		}
		return runFollow(opts, filters)
	}

	events := filterEvents(opts.Session.Events, filters)
	if opts.Tail > 0 {
		ring := newEventRing(opts.Tail)
		for _, event := range events {
			ring.push(event)
		}
		events = ring.slice()
	}

	switch formatMode {
	case "text":
		useColor := resolveColorChoice(opts)
		for idx, event := range events {
			if idx > 0 {
				fmt.Fprintln(opts.Out)
			}
			printEvent(opts.Out, event, idx+1, opts.Wrap, useColor)
		}
		return nil

	case "chat":
		if len(events) == 0 {
			return nil
		}
		colorEnabled := resolveColorChoice(opts)
		width := determineWidth(opts.OutFile, opts.Wrap)
		lines := renderChatTranscript(events, width, colorEnabled)
		if len(lines) == 0 {
			return nil
		}
		if !opts.NoPager && opts.OutFile != nil && isatty.IsTerminal(opts.OutFile.Fd()) {
			return pipeThroughPager(lines, colorEnabled)
		}
		return writeLines(opts.Out, lines)

	case "json":
		clone := *opts.Session
		clone.Events = events
		clone.Stats = trace.ComputeStats(events)
		return format.EncodeSession(opts.Out, &clone)

	case "jsonl":
		clone := *opts.Session
		clone.Events = events
		clone.Stats = trace.ComputeStats(events)
		return format.EncodeSessionLines(opts.Out, &clone)

	default:
		return fmt.Errorf("unsupported format: %s", opts.Format)
	}
}

type viewFilters struct {
	types map[trace.EventType]struct{}
	roles map[string]struct{}
}

var knownEventTypes = map[string]trace.EventType{
	"user_message":   trace.EventUserMessage,
	"agent_message":  trace.EventAgentMessage,
	"system_message": trace.EventSystemMessage,
	"thinking":       trace.EventThinking,
	"tool_call":      trace.EventToolCall,
	"tool_result":    trace.EventToolResult,
	"file_read":      trace.EventFileRead,
	"file_edit":      trace.EventFileEdit,
	"file_create":    trace.EventFileCreate,
	"file_delete":    trace.EventFileDelete,
	"shell_command":  trace.EventShellCommand,
	"code_search":    trace.EventCodeSearch,
	"file_search":    trace.EventFileSearch,
	"web_search":     trace.EventWebSearch,
	"web_fetch":      trace.EventWebFetch,
	"task_start":     trace.EventTaskStart,
	"task_end":       trace.EventTaskEnd,
	"custom":         trace.EventCustom,
}

var knownRoles = map[string]struct{}{
	"user":   {},
	"agent":  {},
	"system": {},
	"tool":   {},
}

// buildViewFilters parses the CSV filter arguments. Empty or "all" disables
// the corresponding filter; every token must name a known type or role.
func buildViewFilters(typesArg, rolesArg string) (viewFilters, error) {
	var filters viewFilters

	typeFilter, err := parseTypesArg(typesArg)
	if err != nil {
		return filters, err
	}
	roleFilter, err := parseRolesArg(rolesArg)
	if err != nil {
		return filters, err
	}

	filters.types = typeFilter
	filters.roles = roleFilter
	return filters, nil
}

func parseTypesArg(arg string) (map[trace.EventType]struct{}, error) {
	values := parseCSV(arg)
	if len(values) == 0 {
		return nil, nil
	}
	if len(values) == 1 && values[0] == "all" {
		return nil, nil
	}

	set := make(map[trace.EventType]struct{}, len(values))
	for _, token := range values {
		eventType, ok := knownEventTypes[token]
		if !ok {
			return nil, fmt.Errorf("unknown event type %q", token)
		}
		set[eventType] = struct{}{}
	}
	return set, nil
}

func parseRolesArg(arg string) (map[string]struct{}, error) {
	values := parseCSV(arg)
	if len(values) == 0 {
		return nil, nil
	}
	if len(values) == 1 && values[0] == "all" {
		return nil, nil
	}

	set := make(map[string]struct{}, len(values))
	for _, token := range values {
		if _, ok := knownRoles[token]; !ok {
			return nil, fmt.Errorf("unknown role %q", token)
		}
		set[token] = struct{}{}
	}
	return set, nil
}

func parseCSV(arg string) []string {
	if strings.TrimSpace(arg) == "" {
		return nil
	}
	parts := strings.Split(arg, ",")
	output := make([]string, 0, len(parts))
	for _, part := range parts {
		token := strings.TrimSpace(strings.ToLower(part))
		if token != "" {
			output = append(output, token)
		}
	}
	return output
}

func eventMatchesFilters(event trace.Event, filters viewFilters) bool {
	if filters.types != nil {
		if _, ok := filters.types[event.Type]; !ok {
			return false
		}
	}
	if filters.roles != nil {
		if _, ok := filters.roles[event.Role()]; !ok {
			return false
		}
	}
	return true
}

func filterEvents(events []trace.Event, filters viewFilters) []trace.Event {
	if filters.types == nil && filters.roles == nil {
		return events
	}
	out := make([]trace.Event, 0, len(events))
	for _, event := range events {
		if eventMatchesFilters(event, filters) {
			out = append(out, event)
		}
	}
	return out
}

type eventRing struct {
	data   []trace.Event
	start  int
	length int
}

func newEventRing(capacity int) *eventRing {
	if capacity <= 0 {
		return &eventRing{}
	}
	return &eventRing{data: make([]trace.Event, capacity)}
}

func (r *eventRing) push(event trace.Event) {
	if len(r.data) == 0 {
		return
	}
	idx := (r.start + r.length) % len(r.data)
	r.data[idx] = event
	if r.length < len(r.data) {
		r.length++
		return
	}
	r.start = (r.start + 1) % len(r.data)
}

func (r *eventRing) slice() []trace.Event {
	if r.length == 0 {
		return nil
	}
	result := make([]trace.Event, r.length)
	for i := 0; i < r.length; i++ {
		result[i] = r.data[(r.start+i)%len(r.data)]
	}
	return result
}

func determineWidth(out *os.File, wrap int) int {
	if wrap > 0 {
		return wrap
	}
	if out != nil {
		if w, _, err := term.GetSize(int(out.Fd())); err == nil && w > 0 {
			return w
		}
	}
	if colsStr := os.Getenv("COLUMNS"); colsStr != "" {
		if v, err := strconv.Atoi(colsStr); err == nil && v > 0 {
			return v
		}
	}
	return 80
}

func pipeThroughPager(lines []string, colorEnabled bool) error {
	text := strings.Join(lines, "\n")
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}

	pagerCmd := os.Getenv("PAGER")
	var cmd *exec.Cmd
	if pagerCmd == "" {
		args := []string{"less"}
		if colorEnabled {
			args = append(args, "-R")
		}
		cmd = exec.Command(args[0], args[1:]...) // #nosec G204
	} else {
		cmd = exec.Command("sh", "-c", pagerCmd) // #nosec G204
	}

	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create pager pipe: %w", err)
	}
	go func() {
		defer stdin.Close()
		io.WriteString(stdin, text) //nolint:errcheck
	}()

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("run pager: %w", err)
	}

	return nil
}

func writeLines(out io.Writer, lines []string) error {
	for _, line := range lines {
		if _, err := fmt.Fprintln(out, line); err != nil {
			return err
		}
	}
	return nil
}

func printEvent(out io.Writer, event trace.Event, index int, wrap int, useColor bool) {
	label := format.EventLabel(event)
	role := event.Role()

	ts := "-"
	if !event.Timestamp.IsZero() {
		ts = event.Timestamp.Format(time.RFC3339)
	}
	headerPlain := fmt.Sprintf("[#%03d] %s | %s", index, label, ts)

	indexText := fmt.Sprintf("#%03d", index)
	labelText := label
	tsText := ts
	separator := "|"

	if useColor {
		indexText = colorize(true, ansiBoldWhite, indexText)
		labelText = colorize(true, roleColor(role), labelText)
		tsText = colorize(true, ansiTimestamp, tsText)
		separator = colorize(true, ansiSeparator, "|")
	}

	header := fmt.Sprintf("[%s] %s %s %s", indexText, labelText, separator, tsText)
	fmt.Fprintln(out, header)
	fmt.Fprintln(out, strings.Repeat("-", len(headerPlain)))

	lines := format.RenderEventLines(event, wrap)
	if len(lines) == 0 {
		prefix := "|"
		if useColor {
			prefix = colorize(true, ansiSeparator, "|")
		}
		fmt.Fprintf(out, "%s %s\n", prefix, "(no content)")
		return
	}
	linePrefix := "| "
	emptyPrefix := "|"
	if useColor {
		separatorColor := colorize(true, ansiSeparator, "|")
		linePrefix = separatorColor + " "
		emptyPrefix = separatorColor
	}
	for _, line := range lines {
		if line == "" {
			fmt.Fprintln(out, emptyPrefix)
			continue
		}
		fmt.Fprintf(out, "%s%s\n", linePrefix, line)
	}
}

const (
	ansiReset     = "\x1b[0m"
	ansiBoldWhite = "\x1b[1;97m"
	ansiTimestamp = "\x1b[38;5;245m"
	ansiSeparator = "\x1b[38;5;240m"
	ansiAgent     = "\x1b[38;5;44m"
	ansiUser      = "\x1b[38;5;220m"
	ansiTool      = "\x1b[38;5;207m"
)

func colorize(enabled bool, code string, text string) string {
	if !enabled {
		return text
	}
	return code + text + ansiReset
}

func roleColor(role string) string {
	switch role {
	case "agent":
		return ansiAgent
	case "user":
		return ansiUser
	case "tool", "system":
		return ansiTool
	default:
		return ansiSeparator
	}
}

func resolveColorChoice(opts Options) bool {
	if opts.ForceColor {
		return true
	}
	if opts.ForceNoColor {
		return false
	}
	return shouldUseColorAuto(opts.Out)
}

func shouldUseColorAuto(out io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	file, ok := out.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
