package lens

import (
	"strconv"
	"strings"
)

// CallSite is a located occurrence of a tracked call along with the classification of each argument.
type CallSite struct {
	File     string    `json:"file" msgpack:"f"`
	Line     int       `json:"line" msgpack:"l"` // 1-based
	Col      int       `json:"col" msgpack:"c"`  // 0-based, in characters
	Function string    `json:"function" msgpack:"fn"`
	Args     []ArgName `json:"args" msgpack:"a"`
}

// NameableCount returns how many arguments of the call have a name template.
func (c CallSite) NameableCount() int {
	var count int
	for _, a := range c.Args {
		if a.Nameable {
			count++
		}
	}
	return count
}

// MetadataLiteral renders the object literal injected as the first argument of the rewritten call:
//
//	{file: "src/app.js", line: 12, col: 4, args: [x => `user`, false]}
func (c CallSite) MetadataLiteral() string {
	var sb strings.Builder
	sb.WriteString("{file: ")
	sb.WriteString(strconv.Quote(c.File))
	sb.WriteString(", line: ")
	sb.WriteString(strconv.Itoa(c.Line))
	sb.WriteString(", col: ")
	sb.WriteString(strconv.Itoa(c.Col))
	sb.WriteString(", args: [")
	for i, a := range c.Args {
		if i > 0 {
			sb.WriteString(", ")
		}
		if a.Nameable {
			sb.WriteString("x => `")
			sb.WriteString(a.Template)
			sb.WriteByte('`')
		} else {
			sb.WriteString("false")
		}
	}
	sb.WriteString("]}")
	return sb.String()
}

// rewrittenPrefix returns the replacement for the tracked prefix `object.function(`. The original arguments follow
// the injected metadata.
func (c CallSite) rewrittenPrefix(object, injectedCall string) string {
	var sb strings.Builder
	sb.WriteString(object)
	sb.WriteByte('.')
	sb.WriteString(c.Function)
	sb.WriteByte('.')
	sb.WriteString(injectedCall)
	sb.WriteByte('(')
	sb.WriteString(c.MetadataLiteral())
	if len(c.Args) > 0 {
		sb.WriteString(", ")
	}
	return sb.String()
}
