// Package markup interprets the template directive language used by pages and
// plugins. Directives are HTML comments:
//
//	<!--IF:expr--> ... <!--ELSE--> ... <!--ENDIF-->   conditional block
//	<!--ENDIF:expr-->                                 closes the IF with the same expr
//	<!--name(a,b)-->                                  function call
//	<!--:name-->                                      variable, empty when unset
//	<!--name-->                                       variable, inline marker when unset
//
// Rendering runs in passes: each pass tokenizes the text, parses it into a
// tree and evaluates the tree. Output produced by functions and branches may
// itself contain directives, so passes repeat while the previous one
// substituted something, up to a maximum depth. Rendering never fails and
// performs no output escaping.
package markup

import (
	"strings"

	"plugin-runtime/internal/common/logging"
)

// DefaultMaxDepth bounds the number of passes of a single render.
const DefaultMaxDepth = 8

// Engine renders templates against a FunctionRegistry. It holds no per-render
// state and is safe for concurrent use.
type Engine struct {
	functions *FunctionRegistry
	maxDepth  int
	logger    logging.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxDepth overrides DefaultMaxDepth. Values below one are ignored.
func WithMaxDepth(depth int) Option {
	return func(e *Engine) {
		if depth > 0 {
			e.maxDepth = depth
		}
	}
}

// WithLogger sets the logger used to report misbehaving functions.
func WithLogger(logger logging.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine creates an engine resolving calls through functions.
func NewEngine(functions *FunctionRegistry, opts ...Option) *Engine {
	e := &Engine{
		functions: functions,
		maxDepth:  DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logging.Component("markup")
	}
	return e
}

// MaxDepth returns the pass limit.
func (e *Engine) MaxDepth() int {
	return e.maxDepth
}

// Functions returns the registry the engine resolves calls through.
func (e *Engine) Functions() *FunctionRegistry {
	return e.functions
}

// Render evaluates text against rc. A nil rc renders with an empty context.
func (e *Engine) Render(text string, rc *Context) string {
	if rc == nil {
		rc = NewContext(nil)
	}

	for depth := 0; depth < e.maxDepth; depth++ {
		out, changed := e.pass(text, rc)
		text = out
		if !changed {
			break
		}
	}

	return text
}

func (e *Engine) pass(text string, rc *Context) (string, bool) {
	if !strings.Contains(text, openDelim) {
		return text, false
	}

	var out strings.Builder
	out.Grow(len(text))
	changed := e.eval(parse(tokenize(text)), rc, &out)
	return out.String(), changed
}
