package lens

import (
	"regexp"
	"strings"
	"unicode"
)

// ArgName is the outcome of classifying a single call argument.
type ArgName struct {
	// Template is the name template (a template literal body), empty when the argument is not nameable.
	Template string `json:"template,omitempty" msgpack:"t,omitempty"`
	// Nameable reports if the argument was written as an identifier or access chain.
	Nameable bool `json:"nameable" msgpack:"n"`
}

// LiteralClassifier decides if the raw text of an argument is a literal or function expression, and thus never
// nameable.
type LiteralClassifier interface {
	IsLiteral(raw string) bool
}

// numericLiteralRe matches decimal, exponent, hex, octal, binary and BigInt number literals with an optional sign.
var numericLiteralRe = regexp.MustCompile(
	`^[+-]?((0[xX][\da-fA-F_]+|0[oO][0-7_]+|0[bB][01_]+|\d[\d_]*)n?|(\d[\d_]*(\.[\d_]*)?|\.\d[\d_]*)([eE][+-]?\d[\d_]*)?)$`)
var functionLiteralRe = regexp.MustCompile(`=>|\bfunction\b`)

var literalKeywords = map[string]bool{
	"undefined":  true,
	"true":       true,
	"false":      true,
	"null":       true,
	"new Date":   true,
	"new Date()": true,
}

// patternLiteralClassifier matches literals by keyword and pattern without tokenizing the argument.
type patternLiteralClassifier struct{}

func (patternLiteralClassifier) IsLiteral(raw string) bool {
	raw = strings.TrimSpace(raw)
	return literalKeywords[raw] || functionLiteralRe.MatchString(raw) || numericLiteralRe.MatchString(raw)
}

// anyLiteralClassifier reports a literal when any of its classifiers does.
type anyLiteralClassifier []LiteralClassifier

func (a anyLiteralClassifier) IsLiteral(raw string) bool {
	for _, c := range a {
		if c.IsLiteral(raw) {
			return true
		}
	}
	return false
}

// classifyArg decides the outcome of a completed argument from its raw source text and synthesized name.
func classifyArg(raw, name string, literals LiteralClassifier) ArgName {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "...") || literals.IsLiteral(raw) {
		return ArgName{} // spread arguments expand to an unknown number of values
	}
	name = strings.TrimRightFunc(name, unicode.IsSpace)
	if !strings.ContainsAny(name, "{[(\"'`") {
		return ArgName{Template: name, Nameable: true}
	}
	// the name may begin with an escape, so the leading symbol is taken from the source text
	switch raw[0] {
	case '"', '\'', '`', '{', '[':
		return ArgName{}
	}
	return ArgName{Template: name, Nameable: true}
}
