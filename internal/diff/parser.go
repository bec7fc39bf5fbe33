// Package diff summarizes unified diff text per file.
package diff

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	fileHeaderRe = regexp.MustCompile(`^diff --git a/(.*) b/(.*)$`)
	hunkHeaderRe = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)
)

// Hunk is one @@ section of a file diff.
type Hunk struct {
	OldStartLine int
	OldLineCount int
	NewStartLine int
	NewLineCount int
}

// FileStat is the change summary of one file.
type FileStat struct {
	Path      string
	FileType  string
	Additions int
	Deletions int
	Hunks     []Hunk
	Binary    bool
}

// Summary covers every file header found in a diff. Partial reports a diff
// that was cut before its end, so the last file may be incomplete.
type Summary struct {
	Files     []FileStat
	Additions int
	Deletions int
	Partial   bool
}

// String renders a one-line summary, e.g. "3 files, +12 -4".
func (s Summary) String() string {
	out := fmt.Sprintf("%d files, +%d -%d", len(s.Files), s.Additions, s.Deletions)
	if s.Partial {
		out += " (partial)"
	}
	return out
}

// Parser parses git diff output into per-file statistics
type Parser struct{}

// NewParser creates a new diff parser
func NewParser() *Parser {
	return &Parser{}
}

// Parse walks the diff line by line. Text before the first file header is
// ignored. truncationMarker, when non-empty and present at the end of the
// text, marks the summary partial.
func (p *Parser) Parse(diffText string, truncationMarker string) Summary {
	var s Summary
	if diffText == "" {
		return s
	}
	if truncationMarker != "" && strings.Contains(diffText, truncationMarker) {
		s.Partial = true
		diffText = diffText[:strings.LastIndex(diffText, truncationMarker)]
	}

	var cur *FileStat
	flush := func() {
		if cur != nil {
			s.Files = append(s.Files, *cur)
			s.Additions += cur.Additions
			s.Deletions += cur.Deletions
		}
	}

	inHunk := false
	for _, line := range strings.Split(diffText, "\n") {
		if m := fileHeaderRe.FindStringSubmatch(line); m != nil {
			flush()
			cur = &FileStat{Path: m[2], FileType: p.determineFileType(m[2])}
			inHunk = false
			continue
		}
		if cur == nil {
			continue
		}
		if m := hunkHeaderRe.FindStringSubmatch(line); m != nil {
			cur.Hunks = append(cur.Hunks, Hunk{
				OldStartLine: atoi(m[1], 0),
				OldLineCount: atoi(m[2], 1),
				NewStartLine: atoi(m[3], 0),
				NewLineCount: atoi(m[4], 1),
			})
			inHunk = true
			continue
		}
		if !inHunk {
			if strings.HasPrefix(line, "Binary files ") {
				cur.Binary = true
			}
			continue
		}
		switch {
		case strings.HasPrefix(line, "+"):
			cur.Additions++
		case strings.HasPrefix(line, "-"):
			cur.Deletions++
		}
	}
	flush()
	return s
}

// Summarize parses diffText with the default parser.
func Summarize(diffText string, truncationMarker string) Summary {
	return NewParser().Parse(diffText, truncationMarker)
}

func atoi(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

// determineFileType determines the type of file based on its path
func (p *Parser) determineFileType(filePath string) string {
	name := filePath[strings.LastIndex(filePath, "/")+1:]
	parts := strings.Split(name, ".")
	if len(parts) > 1 {
		return parts[len(parts)-1]
	}
	return ""
}
