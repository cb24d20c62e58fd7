// Package registry wires the format parsers into one dispatcher. Selection
// is first-match over a fixed registration order, so path-pattern overlaps
// resolve the same way on every run.
package registry

import (
	"errors"
	"fmt"

	"agenttrace/internal/claude"
	"agenttrace/internal/cline"
	"agenttrace/internal/codex"
	"agenttrace/internal/cursor"
	"agenttrace/internal/gemini"
	"agenttrace/internal/opencode"
	"agenttrace/internal/trace"
)

// ErrUnknownFormat is returned when no registered parser claims a path.
var ErrUnknownFormat = errors.New("unknown transcript format")

// Registry holds the registered parsers in selection order.
type Registry struct {
	parsers []trace.Parser
}

// New returns a registry with every built-in format registered.
func New() *Registry {
	return &Registry{parsers: []trace.Parser{
		claude.New(),
		codex.New(),
		cursor.New(),
		gemini.New(),
		opencode.New(),
		cline.New(),
	}}
}

// Parsers returns the registered parsers in selection order.
func (r *Registry) Parsers() []trace.Parser {
	return r.parsers
}

// Select returns the first parser that claims the path.
func (r *Registry) Select(path string) (trace.Parser, bool) {
	for _, p := range r.parsers {
		if p.CanParse(path) {
			return p, true
		}
	}
	return nil, false
}

// Parse dispatches the path to its format parser.
func (r *Registry) Parse(path string) (*trace.Session, error) {
	p, ok := r.Select(path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, path)
	}
	return p.Parse(path)
}
