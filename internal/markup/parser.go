package markup

// node is an element of the template syntax tree.
type node interface{}

type textNode struct {
	text string
}

type callNode struct {
	name string
	args []string
}

type varNode struct {
	name   string
	silent bool
}

type ifNode struct {
	expr      string
	then      []node
	otherwise []node
}

// frame is an IF block under construction.
type frame struct {
	open    token
	then    []node
	els     []node
	elseTok *token
}

func (f *frame) add(n node) {
	if f.elseTok != nil {
		f.els = append(f.els, n)
		return
	}
	f.then = append(f.then, n)
}

// flatten turns an unterminated block back into literal text around its
// already-parsed children.
func (f *frame) flatten() []node {
	nodes := make([]node, 0, len(f.then)+len(f.els)+2)
	nodes = append(nodes, textNode{f.open.raw})
	nodes = append(nodes, f.then...)
	if f.elseTok != nil {
		nodes = append(nodes, textNode{f.elseTok.raw})
		nodes = append(nodes, f.els...)
	}
	return nodes
}

// parse builds the syntax tree. Structural errors never fail: a stray ELSE or
// ENDIF, a second ELSE, and an IF without a matching ENDIF are kept as text.
func parse(tokens []token) []node {
	root := &frame{}
	stack := []*frame{root}
	top := func() *frame { return stack[len(stack)-1] }

	for i := range tokens {
		tok := tokens[i]
		switch tok.kind {
		case tokText:
			top().add(textNode{tok.raw})

		case tokCall:
			top().add(callNode{name: tok.name, args: tok.args})

		case tokVar:
			top().add(varNode{name: tok.name, silent: tok.silent})

		case tokIf:
			stack = append(stack, &frame{open: tok})

		case tokElse:
			f := top()
			if f == root || f.elseTok != nil {
				f.add(textNode{tok.raw})
				continue
			}
			f.elseTok = &tokens[i]

		case tokEndIf:
			match := matchingFrame(stack, tok.expr)
			if match <= 0 {
				top().add(textNode{tok.raw})
				continue
			}
			// Blocks opened inside the matched one were never closed.
			for len(stack)-1 > match {
				inner := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				for _, n := range inner.flatten() {
					top().add(n)
				}
			}
			f := stack[match]
			stack = stack[:match]
			top().add(ifNode{expr: f.open.expr, then: f.then, otherwise: f.els})
		}
	}

	for len(stack) > 1 {
		inner := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, n := range inner.flatten() {
			top().add(n)
		}
	}

	return root.then
}

// matchingFrame returns the stack index closed by an ENDIF with the given tag,
// or -1. An untagged ENDIF closes the innermost block.
func matchingFrame(stack []*frame, tag string) int {
	if len(stack) < 2 {
		return -1
	}
	if tag == "" {
		return len(stack) - 1
	}
	for i := len(stack) - 1; i > 0; i-- {
		if stack[i].open.expr == tag {
			return i
		}
	}
	return -1
}
