// Package terms derives ranked code search keywords from what the reviewer
// typed, what they selected and which files the pull request touches.
package terms

import (
	"path"
	"regexp"
	"strings"
)

const (
	DefaultMaxTerms        = 6
	DefaultMaxTermChars    = 48
	DefaultMaxChangedFiles = 16
	minTermChars           = 3
)

var (
	identifierRe = regexp.MustCompile(`[A-Za-z_$][A-Za-z0-9_$]*`)
	asciiTokenRe = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]{2,}`)
	quoteRe      = regexp.MustCompile("[`\"'\\\\]")
	spaceRe      = regexp.MustCompile(`\s+`)
	digitsRe     = regexp.MustCompile(`^\d+$`)
	extRe        = regexp.MustCompile(`\.[^.]+$`)
)

// Input is everything the extractor looks at.
type Input struct {
	UserText       string
	Selection      string
	FilePath       string   // file associated with the current selection
	ChangedFiles   []string // in PR order
	HeadRepository string   // owner/name
}

// Extractor holds the extraction budgets. The zero value uses the defaults.
type Extractor struct {
	MaxTerms        int
	MaxTermChars    int
	MaxChangedFiles int
}

// Extract returns at most MaxTerms normalized, deduplicated terms in priority
// order: selection identifier, identifier-like tokens of the user text and
// selection, path stems of the selection file, path stems of the first
// changed files, then the head repository name. Identical inputs always give
// identical output.
func (e Extractor) Extract(in Input) []string {
	maxTerms := orDefault(e.MaxTerms, DefaultMaxTerms)
	maxChanged := orDefault(e.MaxChangedFiles, DefaultMaxChangedFiles)

	c := collector{maxChars: orDefault(e.MaxTermChars, DefaultMaxTermChars), seen: map[string]struct{}{}}

	if ident := IdentifierFromSelection(in.Selection); ident != "" {
		c.add(ident)
	}
	for _, tok := range asciiTokenRe.FindAllString(in.UserText+"\n"+in.Selection, -1) {
		c.add(tok)
	}
	for _, tok := range PathStems(in.FilePath) {
		c.add(tok)
	}

	if len(c.out) < maxTerms {
		files := in.ChangedFiles
		if len(files) > maxChanged {
			files = files[:maxChanged]
		}
		for _, p := range files {
			for _, tok := range PathStems(p) {
				c.add(tok)
			}
			if len(c.out) >= maxTerms {
				break
			}
		}
	}

	if len(c.out) < maxTerms && in.HeadRepository != "" {
		c.add(path.Base(in.HeadRepository))
	}

	if len(c.out) > maxTerms {
		return c.out[:maxTerms]
	}
	return c.out
}

// IdentifierFromSelection returns the first identifier-shaped token of the
// selection, or "".
func IdentifierFromSelection(selection string) string {
	return identifierRe.FindString(selection)
}

// PathStems returns the last three path segments with their extension removed.
func PathStems(p string) []string {
	var parts []string
	for _, s := range strings.Split(p, "/") {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) > 3 {
		parts = parts[len(parts)-3:]
	}
	out := make([]string, 0, len(parts))
	for _, s := range parts {
		if stem := extRe.ReplaceAllString(s, ""); stem != "" {
			out = append(out, stem)
		}
	}
	return out
}

// Normalize trims a candidate, replaces quotes, backticks and backslashes with
// spaces, collapses whitespace and caps the length at maxChars characters.
func Normalize(term string, maxChars int) string {
	t := strings.TrimSpace(term)
	if t == "" {
		return ""
	}
	t = quoteRe.ReplaceAllString(t, " ")
	t = strings.TrimSpace(spaceRe.ReplaceAllString(t, " "))
	if r := []rune(t); maxChars > 0 && len(r) > maxChars {
		t = string(r[:maxChars])
	}
	return t
}

type collector struct {
	maxChars int
	seen     map[string]struct{}
	out      []string
}

func (c *collector) add(candidate string) {
	t := Normalize(candidate, c.maxChars)
	if t == "" {
		return
	}
	lower := strings.ToLower(t)
	if IsStopword(lower) || len([]rune(lower)) < minTermChars || digitsRe.MatchString(lower) {
		return
	}
	if _, dup := c.seen[lower]; dup {
		return
	}
	c.seen[lower] = struct{}{}
	c.out = append(c.out, t)
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
