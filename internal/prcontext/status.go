package prcontext

import (
	"fmt"
	"strings"

	"github.com/reviewmate/internal/diff"
)

// Status summarizes what is loaded, for the panel subtitle and the CLI.
type Status struct {
	Loading     bool     `json:"loading"`
	PRKey       string   `json:"prKey,omitempty"`
	Files       int      `json:"files"`
	DiffChars   int      `json:"diffChars"`
	DiffSummary string   `json:"diffSummary,omitempty"`
	RawFiles    int      `json:"rawFiles"`
	RepoWide    int      `json:"repoWide"`
	Terms       []string `json:"terms,omitempty"`
	RepoWideErr string   `json:"repoWideError,omitempty"`
	Err         string   `json:"error,omitempty"`
}

func (a *Assembler) Status() Status {
	c := &a.ctx
	s := Status{
		Loading:     c.Loading,
		PRKey:       c.Key,
		RawFiles:    len(c.RawFiles),
		RepoWide:    len(c.RepoWideFiles),
		Terms:       c.RepoWideTerms,
		RepoWideErr: c.RepoWideErr,
		Err:         c.Err,
	}
	if c.PR != nil {
		s.Files = c.PR.TotalFiles
		if s.Files == 0 {
			s.Files = len(c.PR.Files)
		}
	}
	if c.DiffLoaded {
		s.DiffChars = len(c.Diff)
		s.DiffSummary = diff.Summarize(c.Diff, "\n\n[...truncated").String()
	}
	return s
}

// String renders e.g. "PR files:3 · diff:12k (3 files, +40 -2) · repo:4".
func (s Status) String() string {
	var parts []string
	if s.Loading {
		parts = append(parts, "ctx loading...")
	}
	if s.PRKey != "" && s.Files > 0 {
		parts = append(parts, fmt.Sprintf("PR files:%d", s.Files))
	}
	if s.DiffChars > 0 {
		d := fmt.Sprintf("diff:%dk", (s.DiffChars+500)/1000)
		if s.DiffSummary != "" {
			d += " (" + s.DiffSummary + ")"
		}
		parts = append(parts, d)
	}
	if s.RawFiles > 0 {
		parts = append(parts, fmt.Sprintf("raw:%d", s.RawFiles))
	}
	if s.RepoWide > 0 {
		parts = append(parts, fmt.Sprintf("repo:%d", s.RepoWide))
	}
	if s.RepoWideErr != "" {
		parts = append(parts, "repo ctx err")
	}
	if s.Err != "" {
		parts = append(parts, "ctx err")
	}
	if len(parts) == 0 {
		return "no context loaded"
	}
	return strings.Join(parts, " · ")
}
