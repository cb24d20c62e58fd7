package view

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"agenttrace/internal/claude"
	"agenttrace/internal/log"
	"agenttrace/internal/trace"
)

// follower tails one transcript file: the already-parsed session prints
// first, then appended lines fold in incrementally. Incremental batches skip
// deduplication and subagent lookup, so a live view can show echoes a full
// reparse would fold away.
type follower struct {
	path    string
	session *trace.Session
	filters viewFilters
	wrap    int
	color   bool
	out     io.Writer

	offset  int64 // read position, always at a line boundary
	printed int   // consumed index into session.Events
	shown   int   // running display index
}

// runFollow renders the backlog and then watches the file for appended
// records. Only the claude transcript format appends one complete JSON
// record per line, so follow is limited to it.
func runFollow(opts Options, filters viewFilters) error {
	if opts.Session.Agent.Tool != "claude-code" {
		return errors.New("follow mode is only available for claude transcripts")
	}
	if opts.Path == "" {
		return errors.New("follow mode needs the transcript path")
	}

	f := &follower{
		path:    opts.Path,
		session: opts.Session,
		filters: filters,
		wrap:    opts.Wrap,
		color:   resolveColorChoice(opts),
		out:     opts.Out,
	}

	// Snapshot the size before printing the backlog; lines appended after
	// this point are picked up by the watch loop.
	if info, err := os.Stat(opts.Path); err == nil {
		f.offset = info.Size()
	}
	if opts.Tail > 0 {
		f.skipBacklogBeyond(opts.Tail)
	}
	f.printNew()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory rather than the file: atomic replaces would leave
	// a watch on the old inode silent.
	dir := filepath.Dir(opts.Path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	for {
		select {
		case <-opts.Stop:
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != f.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := f.consumeAppended(); err != nil {
				log.L().Debug("follow read failed",
					zap.String("path", f.path),
					zap.Error(err))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.L().Debug("watcher error", zap.Error(err))
		}
	}
}

// skipBacklogBeyond advances the consumed index so only the last n matching
// backlog events print. Everything appended afterwards streams in full.
func (f *follower) skipBacklogBeyond(n int) {
	matching := 0
	for _, event := range f.session.Events {
		if eventMatchesFilters(event, f.filters) {
			matching++
		}
	}
	if matching <= n {
		return
	}
	skip := matching - n
	for f.printed < len(f.session.Events) && skip > 0 {
		if eventMatchesFilters(f.session.Events[f.printed], f.filters) {
			skip--
		}
		f.printed++
	}
}

// consumeAppended reads complete lines past the current offset and folds
// them into the session. An unterminated trailing line stays unconsumed
// until the producer finishes it.
func (f *follower) consumeAppended() error {
	file, err := os.Open(f.path)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}
	// The file shrank: it was truncated or replaced, start over.
	if info.Size() < f.offset {
		f.offset = 0
	}
	if f.offset > 0 {
		if _, err := file.Seek(f.offset, io.SeekStart); err != nil {
			return err
		}
	}

	reader := bufio.NewReader(file)
	var lines []string
	for {
		line, err := reader.ReadString('\n')
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		f.offset += int64(len(line))
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	if len(lines) == 0 {
		return nil
	}

	// Events arrive in file order; re-sorting mid-stream would shuffle what
	// is already on screen, so the partial appends as-is.
	partial := claude.ParseLines(lines)
	f.session.Absorb(partial)
	f.printNew()
	return nil
}

func (f *follower) printNew() {
	for ; f.printed < len(f.session.Events); f.printed++ {
		event := f.session.Events[f.printed]
		if !eventMatchesFilters(event, f.filters) {
			continue
		}
		if f.shown > 0 {
			fmt.Fprintln(f.out)
		}
		printEvent(f.out, event, f.shown+1, f.wrap, f.color)
		f.shown++
	}
}
