package lens

import (
	"strings"
	"unicode"
)

// delimKind identifies a quoting or grouping symbol currently open within an argument list.
type delimKind uint8

const (
	delimNone delimKind = iota
	delimDoubleQuote
	delimSingleQuote
	delimTemplate
	delimBrace
	delimBracket
	delimParen
)

func openerKind(ch rune) delimKind {
	switch ch {
	case '"':
		return delimDoubleQuote
	case '\'':
		return delimSingleQuote
	case '`':
		return delimTemplate
	case '{':
		return delimBrace
	case '[':
		return delimBracket
	case '(':
		return delimParen
	}
	return delimNone
}

func (k delimKind) isQuote() bool {
	return k == delimDoubleQuote || k == delimSingleQuote || k == delimTemplate
}

func (k delimKind) isGroup() bool {
	return k == delimBrace || k == delimBracket || k == delimParen
}

// closer returns the symbol which closes the delimiter, or 0 for delimNone.
func (k delimKind) closer() rune {
	switch k {
	case delimDoubleQuote:
		return '"'
	case delimSingleQuote:
		return '\''
	case delimTemplate:
		return '`'
	case delimBrace:
		return '}'
	case delimBracket:
		return ']'
	case delimParen:
		return ')'
	}
	return 0
}

// openDelim is a single entry of the delimiter stack.
type openDelim struct {
	kind delimKind
	// fragment is set when this delimiter owns the top entry of the fragment stack.
	fragment bool
	// resume is the tracking state restored once the delimiter closes.
	resume bool
}

// commentKind identifies a comment being skipped within an argument list.
type commentKind uint8

const (
	commentNone commentKind = iota
	commentLine
	commentBlock
)

// argParser synthesizes name templates for the arguments of a single call. It is fed one character at a time
// starting immediately after the call's opening parenthesis, and is done once the matching close is reached.
// A parser must not be reused across calls.
type argParser struct {
	name      strings.Builder
	raw       strings.Builder
	open      []openDelim
	fragments []*strings.Builder
	results   []ArgName
	tracking  bool
	escaped   bool
	done      bool
	literals  LiteralClassifier
	// slash is set while a '/' outside of quotes is held back to see if it starts a comment.
	slash     bool
	slashPrev rune
	comment   commentKind
	star      bool
}

func newArgParser(literals LiteralClassifier) *argParser {
	if literals == nil {
		literals = patternLiteralClassifier{}
	}
	return &argParser{
		tracking: true,
		literals: literals,
	}
}

// SynthesizeArgNames runs the synthesizer over text which starts immediately after a call's opening parenthesis.
// The returned bool reports if the call was closed within text. An unterminated final argument is reported as not
// nameable.
func SynthesizeArgNames(text string) ([]ArgName, bool) {
	p := newArgParser(nil)
	stream := newLineStream(strings.Split(text, "\n"), 0, 0, 0)
	for {
		prev, cur, ok := stream.next()
		if !ok {
			return p.finish(), false
		} else if p.feed(prev, cur) {
			return p.results, true
		}
	}
}

func (p *argParser) top() openDelim {
	if len(p.open) == 0 {
		return openDelim{}
	}
	return p.open[len(p.open)-1]
}

// feed consumes the next character with its predecessor (0 at the start of a line), returning true once the
// call's closing parenthesis has been consumed. A line break is read as a single space, and comments are dropped.
func (p *argParser) feed(prev, cur rune) bool {
	if p.done {
		return true
	}
	if cur == '\n' {
		if p.comment == commentLine {
			p.comment = commentNone
		}
		cur = ' '
	}
	switch p.comment {
	case commentLine:
		return false
	case commentBlock:
		if p.star && cur == '/' {
			p.comment = commentNone
		}
		p.star = cur == '*'
		return false
	}

	if !p.top().kind.isQuote() {
		if p.slash {
			p.slash = false
			if cur == '/' {
				p.comment = commentLine
				return false
			} else if cur == '*' {
				p.comment = commentBlock
				p.star = false
				return false
			}
			p.consume(p.slashPrev, '/')
		} else if cur == '/' && prev != '\\' {
			p.slash = true
			p.slashPrev = prev
			return false
		}
	}
	return p.consume(prev, cur)
}

func (p *argParser) consume(prev, cur rune) bool {
	argStarted := p.raw.Len() > 0
	if !argStarted && (cur == ' ' || cur == '\t') {
		return false // leading whitespace is never part of the argument
	}
	top := p.top()
	if top.kind == delimNone && (cur == ',' || cur == ')') {
		p.finalizeArg(cur == ')')
		return p.done
	}
	p.raw.WriteRune(cur)

	if top.kind.isQuote() {
		if p.escaped {
			p.escaped = false
			p.write(cur)
			return false
		} else if cur == '\\' {
			p.escaped = true
			p.write(cur)
			return false
		}
	}

	resume := p.tracking
	kind := openerKind(cur)
	if !argStarted && (kind.isQuote() || kind == delimBrace || kind == delimBracket) {
		p.tracking = false // presumed literal
	}

	switch {
	case kind.isQuote() && !top.kind.isQuote():
		p.write(cur)
		p.open = append(p.open, openDelim{kind: kind, resume: resume})
		p.tracking = false
	case top.kind != delimNone && top.kind.closer() == cur:
		p.open = p.open[:len(p.open)-1]
		if top.fragment {
			p.flushFragment()
		}
		p.tracking = top.resume
		p.write(cur)
	case top.kind == delimTemplate && cur == '{' && prev == '$':
		p.openGroup(delimBrace)
	case !top.kind.isQuote() && kind.isGroup():
		p.openGroup(kind)
	case p.tracking && top.fragment:
		p.feedFragment(cur)
	case cur == ',' && (top.kind == delimBracket || top.kind == delimParen):
		// a following element may be nameable even when the previous one was not
		p.write(cur)
		p.tracking = true
		p.open[len(p.open)-1].fragment = true
		p.fragments = append(p.fragments, &strings.Builder{})
	default:
		p.write(cur)
	}
	return false
}

// openGroup writes the opening symbol and pushes the group. Brackets and parens opened while tracking start a new
// fragment; braces are object literals or blocks, which are transcribed verbatim.
func (p *argParser) openGroup(kind delimKind) {
	p.write(kind.opener())
	d := openDelim{kind: kind, resume: p.tracking}
	if kind == delimBrace {
		p.tracking = false
	} else if p.tracking {
		d.fragment = true
		p.fragments = append(p.fragments, &strings.Builder{})
	}
	p.open = append(p.open, d)
}

func (k delimKind) opener() rune {
	switch k {
	case delimBrace:
		return '{'
	case delimBracket:
		return '['
	case delimParen:
		return '('
	}
	return k.closer()
}

func (p *argParser) feedFragment(cur rune) {
	frag := p.fragments[len(p.fragments)-1]
	if frag.Len() == 0 && unicode.IsDigit(cur) {
		// numeric index, the group content is kept as written
		p.fragments = p.fragments[:len(p.fragments)-1]
		p.open[len(p.open)-1].fragment = false
		p.tracking = false
		p.write(cur)
	} else if cur == ',' {
		p.flushFragment()
		p.write(cur)
		p.fragments = append(p.fragments, &strings.Builder{})
	} else {
		frag.WriteRune(cur)
	}
}

// flushFragment pops the top fragment into its parent. Fragments nested within other fragments are plain
// expression text; a fragment written to the name template becomes an interpolation placeholder unless it is a
// static key.
func (p *argParser) flushFragment() {
	content := p.fragments[len(p.fragments)-1].String()
	p.fragments = p.fragments[:len(p.fragments)-1]
	if len(p.fragments) > 0 {
		p.fragments[len(p.fragments)-1].WriteString(content)
		return
	}

	if isStaticKey(content) {
		writeTemplateText(&p.name, content)
		return
	}
	core := strings.TrimLeftFunc(content, unicode.IsSpace)
	p.name.WriteString(content[:len(content)-len(core)])
	trimmed := strings.TrimRightFunc(core, unicode.IsSpace)
	p.name.WriteString("${")
	p.name.WriteString(trimmed)
	p.name.WriteString("}")
	p.name.WriteString(core[len(trimmed):])
}

// isStaticKey reports if the group content is empty, quoted, or numeric.
func isStaticKey(content string) bool {
	content = strings.TrimSpace(content)
	if content == "" {
		return true
	} else if openerKind(rune(content[0])).isQuote() {
		return true
	}
	return numericLiteralRe.MatchString(content)
}

// write appends a character to the innermost fragment, or to the name template when no fragment is open.
func (p *argParser) write(cur rune) {
	if len(p.fragments) > 0 {
		p.fragments[len(p.fragments)-1].WriteRune(cur)
		return
	}
	switch cur {
	case '`', '\\':
		p.name.WriteByte('\\')
	case '$':
		if p.inQuote() {
			p.name.WriteByte('\\')
		}
	}
	p.name.WriteRune(cur)
}

func (p *argParser) inQuote() bool {
	for _, d := range p.open {
		if d.kind.isQuote() {
			return true
		}
	}
	return false
}

// writeTemplateText writes text verbatim into a template literal body.
func writeTemplateText(sb *strings.Builder, text string) {
	for i, r := range text {
		switch r {
		case '`', '\\':
			sb.WriteByte('\\')
		case '$':
			if i+1 < len(text) && text[i+1] == '{' {
				sb.WriteByte('\\')
			}
		}
		sb.WriteRune(r)
	}
}

func (p *argParser) finalizeArg(closing bool) {
	if !closing || p.raw.Len() > 0 {
		p.results = append(p.results, classifyArg(p.raw.String(), p.name.String(), p.literals))
	}
	p.raw.Reset()
	p.name.Reset()
	p.fragments = nil
	p.tracking = true
	p.escaped = false
	p.done = closing
}

// finish ends the argument list at the end of input. An argument still in progress is recorded as not nameable.
func (p *argParser) finish() []ArgName {
	if !p.done && (p.raw.Len() > 0 || len(p.open) > 0 || p.slash) {
		p.results = append(p.results, ArgName{})
	}
	p.done = true
	return p.results
}
