package definition

import (
	"fmt"
	"strings"
)

const (
	linesBefore = 10
	linesAfter  = 18
)

// Match is the first declaration line and the numbered lines around it.
type Match struct {
	HitLine int    `json:"line"` // 1-based
	Snippet string `json:"snippet"`
}

// FindDefinition scans text top-down with the default shapes and returns the
// first matching line, or nil.
func FindDefinition(ident, text string) *Match {
	return FindDefinitionWith(Shapes, ident, text)
}

// FindDefinitionWith is FindDefinition over a custom shape list. The first
// line matching any shape wins.
func FindDefinitionWith(shapes []Shape, ident, text string) *Match {
	if ident == "" {
		return nil
	}
	matchers, err := compile(shapes, ident)
	if err != nil {
		return nil
	}

	lines := strings.Split(text, "\n")
	hit := -1
scan:
	for i, line := range lines {
		for _, re := range matchers {
			if re.MatchString(line) {
				hit = i
				break scan
			}
		}
	}
	if hit < 0 {
		return nil
	}

	from := hit - linesBefore
	if from < 0 {
		from = 0
	}
	to := hit + linesAfter
	if to > len(lines) {
		to = len(lines)
	}
	snippet := make([]string, 0, to-from)
	for i := from; i < to; i++ {
		snippet = append(snippet, fmt.Sprintf("%5d | %s", i+1, lines[i]))
	}
	return &Match{HitLine: hit + 1, Snippet: strings.Join(snippet, "\n")}
}
