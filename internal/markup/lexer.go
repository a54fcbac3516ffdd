package markup

import "strings"

const (
	openDelim  = "<!--"
	closeDelim = "-->"
)

type tokenKind int

const (
	tokText tokenKind = iota
	tokIf
	tokElse
	tokEndIf
	tokCall
	tokVar
)

// token is one lexical unit of a template. raw always holds the exact source
// text so that malformed structure can be emitted back verbatim.
type token struct {
	kind tokenKind
	raw  string

	// tokIf: the condition. tokEndIf: the optional tag.
	expr string
	// tokCall and tokVar
	name   string
	args   []string
	silent bool
}

// tokenize splits text into literal runs and directives. A comment that is
// not a directive, or an unterminated comment, is returned as text.
func tokenize(text string) []token {
	var tokens []token
	var literal strings.Builder

	flush := func() {
		if literal.Len() > 0 {
			tokens = append(tokens, token{kind: tokText, raw: literal.String()})
			literal.Reset()
		}
	}

	for len(text) > 0 {
		start := strings.Index(text, openDelim)
		if start < 0 {
			literal.WriteString(text)
			break
		}
		literal.WriteString(text[:start])
		text = text[start:]

		end := strings.Index(text[len(openDelim):], closeDelim)
		if end < 0 {
			literal.WriteString(text)
			break
		}
		end += len(openDelim) + len(closeDelim)

		// "<!-- a <!--b-->": only the innermost opener starts the comment.
		if inner := strings.LastIndex(text[len(openDelim):end-len(closeDelim)], openDelim); inner >= 0 {
			literal.WriteString(text[:len(openDelim)+inner])
			text = text[len(openDelim)+inner:]
			continue
		}

		raw := text[:end]
		body := raw[len(openDelim) : len(raw)-len(closeDelim)]
		text = text[end:]

		tok, ok := classify(raw, body)
		if !ok {
			literal.WriteString(raw)
			continue
		}
		flush()
		tokens = append(tokens, tok)
	}
	flush()

	return tokens
}

// classify recognises the directive forms:
//
//	IF:expr  ELSE  ENDIF  ENDIF:expr  name(args)  :name  name
func classify(raw, body string) (token, bool) {
	switch {
	case strings.HasPrefix(body, "IF:"):
		expr := body[len("IF:"):]
		if !validExpr(expr) {
			return token{}, false
		}
		return token{kind: tokIf, raw: raw, expr: expr}, true

	case body == "ELSE":
		return token{kind: tokElse, raw: raw}, true

	case body == "ENDIF":
		return token{kind: tokEndIf, raw: raw}, true

	case strings.HasPrefix(body, "ENDIF:"):
		expr := body[len("ENDIF:"):]
		if !validExpr(expr) {
			return token{}, false
		}
		return token{kind: tokEndIf, raw: raw, expr: expr}, true
	}

	if open := strings.IndexByte(body, '('); open > 0 && strings.HasSuffix(body, ")") {
		name := body[:open]
		if !validName(name) {
			return token{}, false
		}
		return token{kind: tokCall, raw: raw, name: name, args: splitArgs(body[open+1 : len(body)-1])}, true
	}

	if strings.HasPrefix(body, ":") {
		name := body[1:]
		if !validName(name) {
			return token{}, false
		}
		return token{kind: tokVar, raw: raw, name: name, silent: true}, true
	}

	if validName(body) {
		return token{kind: tokVar, raw: raw, name: body}, true
	}

	return token{}, false
}

// splitArgs comma-splits an argument list. Arguments are not trimmed, and an
// empty list yields no arguments.
func splitArgs(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func isNameByte(c byte) bool {
	return c >= 'a' && c <= 'z' ||
		c >= 'A' && c <= 'Z' ||
		c >= '0' && c <= '9' ||
		c == '_' || c == '-' || c == '.' || c == '/'
}

func validName(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isNameByte(s[i]) {
			return false
		}
	}
	return true
}

// validExpr accepts names joined by | or &, each optionally negated with !.
func validExpr(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !isNameByte(c) && c != '|' && c != '&' && c != '!' {
			return false
		}
	}
	return true
}
