// Package definition finds where an identifier is declared by matching
// declaration shapes line by line. It is a heuristic, not a parser.
package definition

import (
	"fmt"
	"regexp"
)

// Shape is one declaration form. Pattern builds the line regexp for an
// identifier that is already regexp-quoted.
type Shape struct {
	Name        string
	Description string
	Pattern     func(quotedIdent string) string
}

const jsPrefix = `^\s*(export\s+)?(default\s+)?`

// Shapes is the ordered list tried on every line. Append to support more
// syntaxes.
var Shapes = []Shape{
	{
		Name:        "js-function",
		Description: "JavaScript/TypeScript function declaration",
		Pattern:     func(id string) string { return jsPrefix + `(async\s+)?function\s+` + id + `\b` },
	},
	{
		Name:        "js-arrow",
		Description: "const/let/var bound to an arrow function",
		Pattern:     func(id string) string { return jsPrefix + `(const|let|var)\s+` + id + `\s*=\s*(async\s*)?\(` },
	},
	{
		Name:        "js-function-expression",
		Description: "const/let/var bound to a function expression",
		Pattern:     func(id string) string { return jsPrefix + `(const|let|var)\s+` + id + `\s*=\s*(async\s*)?function\b` },
	},
	{
		Name:        "js-class",
		Description: "JavaScript/TypeScript class",
		Pattern:     func(id string) string { return jsPrefix + `class\s+` + id + `\b` },
	},
	{
		Name:        "python-def",
		Description: "Python function",
		Pattern:     func(id string) string { return `^\s*def\s+` + id + `\b` },
	},
	{
		Name:        "python-class",
		Description: "Python class",
		Pattern:     func(id string) string { return `^\s*class\s+` + id + `\b` },
	},
	{
		Name:        "go-func",
		Description: "Go function or method",
		Pattern:     func(id string) string { return `^\s*func\s*(\([^)]*\)\s*)?` + id + `\b` },
	},
	{
		Name:        "rust-fn",
		Description: "Rust function",
		Pattern:     func(id string) string { return `^\s*fn\s+` + id + `\b` },
	},
}

// compile builds the matchers for one identifier.
func compile(shapes []Shape, ident string) ([]*regexp.Regexp, error) {
	quoted := regexp.QuoteMeta(ident)
	out := make([]*regexp.Regexp, 0, len(shapes))
	for _, s := range shapes {
		re, err := regexp.Compile(s.Pattern(quoted))
		if err != nil {
			return nil, fmt.Errorf("shape %s: %w", s.Name, err)
		}
		out = append(out, re)
	}
	return out, nil
}
