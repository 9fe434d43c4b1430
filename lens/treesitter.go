package lens

import (
	"context"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
)

// literalNodeTypes are the javascript grammar expressions which never have a useful name.
var literalNodeTypes = map[string]bool{
	"number":              true,
	"string":              true,
	"template_string":     true,
	"regex":               true,
	"true":                true,
	"false":               true,
	"null":                true,
	"undefined":           true,
	"object":              true,
	"array":               true,
	"arrow_function":      true,
	"function":            true,
	"function_expression": true,
	"generator_function":  true,
	"class":               true,
}

// treeSitterLiteralClassifier tokenizes the argument with the tree-sitter javascript grammar. Arguments which do not
// parse as a single expression are left to other classifiers.
type treeSitterLiteralClassifier struct{}

// NewStrictLiteralClassifier returns a classifier that combines the keyword and pattern checks with a javascript
// parse of the argument, rejecting literals such as regular expressions and negative numbers written with spacing.
func NewStrictLiteralClassifier() LiteralClassifier {
	return anyLiteralClassifier{patternLiteralClassifier{}, treeSitterLiteralClassifier{}}
}

func (treeSitterLiteralClassifier) IsLiteral(raw string) bool {
	src := []byte("(" + raw + ")")
	parser := sitter.NewParser() // parsers are not safe for concurrent use
	defer parser.Close()
	parser.SetLanguage(javascript.GetLanguage())
	tree, err := parser.ParseCtx(context.Background(), nil, src)
	if err != nil {
		return false
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil || root.HasError() || root.NamedChildCount() != 1 {
		return false
	}
	stmt := root.NamedChild(0)
	if stmt.Type() != "expression_statement" || stmt.NamedChildCount() != 1 {
		return false
	}
	expr := stmt.NamedChild(0)
	if expr.Type() == "parenthesized_expression" && expr.NamedChildCount() == 1 {
		expr = expr.NamedChild(0)
	}
	return isLiteralNode(expr, src)
}

func isLiteralNode(n *sitter.Node, src []byte) bool {
	switch n.Type() {
	case "unary_expression":
		// signed numbers, `void 0`
		if n.ChildCount() != 2 {
			return false
		}
		switch n.Child(0).Type() {
		case "-", "+", "void":
			return isLiteralNode(n.Child(1), src)
		}
		return false
	case "new_expression":
		ctor := n.ChildByFieldName("constructor")
		return ctor != nil && ctor.Content(src) == "Date"
	}
	return literalNodeTypes[n.Type()]
}
