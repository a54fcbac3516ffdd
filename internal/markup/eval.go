package markup

import (
	"fmt"
	"strings"

	"plugin-runtime/internal/common/logging"
)

// evalExpr evaluates a condition against the context's flags. An expression
// is split on whichever of | and & appears first; a mixed expression is
// therefore an OR-list (or AND-list) whose terms contain the other operator
// literally, and such a term names a flag that is never set.
func evalExpr(expr string, rc *Context) bool {
	or := strings.IndexByte(expr, '|')
	and := strings.IndexByte(expr, '&')

	switch {
	case or >= 0 && (and < 0 || or < and):
		for _, term := range strings.Split(expr, "|") {
			if evalTerm(term, rc) {
				return true
			}
		}
		return false

	case and >= 0:
		for _, term := range strings.Split(expr, "&") {
			if !evalTerm(term, rc) {
				return false
			}
		}
		return true

	default:
		return evalTerm(expr, rc)
	}
}

func evalTerm(term string, rc *Context) bool {
	if strings.HasPrefix(term, "!") {
		return !rc.Has(term[1:])
	}
	return rc.Has(term)
}

// eval writes one pass over nodes to out and reports whether any directive
// was substituted. Literal text, including malformed directives, is not a
// substitution.
func (e *Engine) eval(nodes []node, rc *Context, out *strings.Builder) bool {
	changed := false

	for _, n := range nodes {
		switch n := n.(type) {
		case textNode:
			out.WriteString(n.text)

		case ifNode:
			changed = true
			branch := n.otherwise
			if evalExpr(n.expr, rc) {
				branch = n.then
			}
			e.eval(branch, rc, out)

		case callNode:
			changed = true
			out.WriteString(e.call(n, rc))

		case varNode:
			changed = true
			if value, ok := rc.Get(n.name); ok {
				out.WriteString(value)
			} else if !n.silent {
				fmt.Fprintf(out, "[undefined variable: %s]", n.name)
			}
		}
	}

	return changed
}

// call invokes a template function. A missing function or a panicking one
// produces an inline marker instead of failing the render.
func (e *Engine) call(n callNode, rc *Context) (result string) {
	fn, ok := e.functions.Lookup(n.name)
	if !ok {
		return fmt.Sprintf("[unknown function: %s]", n.name)
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("Template function panicked",
				logging.String("function", n.name),
				logging.Field{Key: "panic", Value: r},
			)
			result = fmt.Sprintf("[function error: %s]", n.name)
		}
	}()

	return fn(rc, n.args)
}
