// Package dialplan implements the Dialplan Evaluator (spec.md §4.6): a
// hot-reloadable, cached compilation of the persisted routing script into an
// in-process callable.
//
// The scripting engine (SPEC_FULL.md §4.15) is a small line-oriented rule
// table rather than a general-purpose language, matching the "pure
// dispatching logic, pattern-match on the dialled user" contract: scripts
// cannot block on I/O because there is nothing in the grammar that could.
package dialplan

import (
	"fmt"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"github.com/zurustar/signalrtc/internal/logging"
	"github.com/zurustar/signalrtc/internal/storage"
)

// CallDescriptor is what a dialplan lookup resolves a dialled user to.
type CallDescriptor struct {
	DestinationURI string
	Body           string
}

// rule is one compiled "match <pattern> -> fwd(\"user@host\", body)" line.
// pattern "_" matches any dialled user.
type rule struct {
	pattern string
	dest    string
	body    string
}

func (r rule) matches(dialledUser string) bool {
	return r.pattern == "_" || r.pattern == dialledUser
}

// compiledDialplan is one compiled generation, published atomically.
type compiledDialplan struct {
	rules       []rule
	compiledAt  time.Time
	sourceStamp time.Time // dialplan.LastUpdate truncated to whole seconds, as of this compile
}

// Evaluator is the Dialplan Evaluator.
type Evaluator struct {
	store   *storage.DB
	logger  logging.Logger
	current atomic.Pointer[compiledDialplan]

	lastCompileError atomic.Pointer[string]
}

// New builds an Evaluator; call Warm once at startup to load and compile the
// persisted dialplan before the first lookup.
func New(store *storage.DB, logger logging.Logger) *Evaluator {
	return &Evaluator{store: store, logger: logger}
}

// Warm loads and compiles the current persisted dialplan, publishing it as
// the initial generation.
func (e *Evaluator) Warm() error {
	dp, err := e.store.GetDialplan()
	if err != nil {
		return fmt.Errorf("failed to load dialplan for warmup: %w", err)
	}
	if dp == nil {
		e.current.Store(&compiledDialplan{})
		return nil
	}
	return e.compileAndPublish(dp)
}

// Lookup resolves dialledUser against the current compiled dialplan,
// recompiling first if the persisted source has changed (spec.md §4.6:
// lastUpdate, truncated to whole seconds, newer than the last compile).
// fromAccount is nil when the caller is an unhosted external party.
func (e *Evaluator) Lookup(dialledUser string, fromAccount *storage.Account) (*CallDescriptor, error) {
	if err := e.maybeRecompile(); err != nil {
		// Compilation failures keep the previous compile in use (spec.md
		// §4.6); the error is exposed via LastCompileError for the admin
		// surface, lookup proceeds against whatever is already published.
		e.logger.Warn("dialplan recompile failed, continuing with previous generation", logging.Err(err))
	}

	compiled := e.current.Load()
	if compiled == nil {
		return nil, nil
	}
	for _, r := range compiled.rules {
		if r.matches(dialledUser) {
			return &CallDescriptor{DestinationURI: r.dest, Body: r.body}, nil
		}
	}
	return nil, nil
}

// LastCompileError returns the most recent compile failure message, or "" if
// the last attempt succeeded.
func (e *Evaluator) LastCompileError() string {
	if p := e.lastCompileError.Load(); p != nil {
		return *p
	}
	return ""
}

func (e *Evaluator) maybeRecompile() error {
	dp, err := e.store.GetDialplan()
	if err != nil {
		return fmt.Errorf("failed to load dialplan: %w", err)
	}
	if dp == nil {
		return nil
	}
	stamp := dp.LastUpdate.Truncate(time.Second)

	compiled := e.current.Load()
	if compiled != nil && !stamp.After(compiled.sourceStamp) {
		return nil
	}
	return e.compileAndPublish(dp)
}

func (e *Evaluator) compileAndPublish(dp *storage.Dialplan) error {
	rules, err := compile(dp.ScriptSource)
	if err != nil {
		msg := err.Error()
		e.lastCompileError.Store(&msg)
		return err
	}

	previous := e.current.Load()
	e.current.Store(&compiledDialplan{
		rules:       rules,
		compiledAt:  time.Now(),
		sourceStamp: dp.LastUpdate.Truncate(time.Second),
	})
	e.lastCompileError.Store(nil)

	if previous != nil {
		// Bound peak RSS: the previous generation's rule table (and, in a
		// richer scripting engine, its compiler state) is now unreachable.
		// in-flight lookups already captured the old pointer and are
		// unaffected (spec.md §4.6, §5).
		debug.FreeOSMemory()
	}
	return nil
}

// compile parses one rule per line: "match <pattern> -> fwd(\"user@host\", body)".
// Blank lines and lines starting with "#" are ignored. First match wins at
// lookup time, so rule order is preserved.
func compile(source string) ([]rule, error) {
	var rules []rule
	for lineNo, line := range strings.Split(source, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		r, err := compileLine(line)
		if err != nil {
			return nil, fmt.Errorf("dialplan line %d: %w", lineNo+1, err)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

func compileLine(line string) (rule, error) {
	const arrow = "->"
	idx := strings.Index(line, arrow)
	if idx < 0 {
		return rule{}, fmt.Errorf("missing '->' in %q", line)
	}
	head := strings.TrimSpace(line[:idx])
	tail := strings.TrimSpace(line[idx+len(arrow):])

	if !strings.HasPrefix(head, "match ") {
		return rule{}, fmt.Errorf("expected 'match <pattern>', got %q", head)
	}
	pattern := strings.TrimSpace(strings.TrimPrefix(head, "match "))
	if pattern == "" {
		return rule{}, fmt.Errorf("empty match pattern")
	}

	dest, body, err := parseFwd(tail)
	if err != nil {
		return rule{}, err
	}
	return rule{pattern: pattern, dest: dest, body: body}, nil
}

// parseFwd parses fwd("user@host", body) or fwd("user@host") into (dest, body).
func parseFwd(expr string) (dest, body string, err error) {
	const prefix = "fwd("
	if !strings.HasPrefix(expr, prefix) || !strings.HasSuffix(expr, ")") {
		return "", "", fmt.Errorf("expected fwd(\"user@host\"[, body]), got %q", expr)
	}
	inner := expr[len(prefix) : len(expr)-1]

	args := splitTopLevelArgs(inner)
	if len(args) == 0 || len(args) > 2 {
		return "", "", fmt.Errorf("fwd() takes 1 or 2 arguments, got %d", len(args))
	}
	dest, err = unquote(args[0])
	if err != nil {
		return "", "", fmt.Errorf("fwd() destination: %w", err)
	}
	if len(args) == 2 {
		body, err = unquote(args[1])
		if err != nil {
			return "", "", fmt.Errorf("fwd() body: %w", err)
		}
	}
	return dest, body, nil
}

func splitTopLevelArgs(s string) []string {
	var out []string
	depth := 0
	inQuote := false
	start := 0
	for i, r := range s {
		switch r {
		case '"':
			inQuote = !inQuote
		case '(':
			if !inQuote {
				depth++
			}
		case ')':
			if !inQuote {
				depth--
			}
		case ',':
			if !inQuote && depth == 0 {
				out = append(out, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	last := strings.TrimSpace(s[start:])
	if last != "" {
		out = append(out, last)
	}
	return out
}

func unquote(s string) (string, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return "", fmt.Errorf("expected a quoted string, got %q", s)
	}
	return s[1 : len(s)-1], nil
}
