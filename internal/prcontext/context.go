// Package prcontext gathers pull request evidence from the code host under
// size and count budgets and composes it into model prompts.
package prcontext

import (
	"strings"

	"github.com/reviewmate/internal/providers"
)

// Limits bounds everything the assembler loads or prints.
type Limits struct {
	MaxSelectionChars         int `koanf:"max_selection_chars"`
	MaxChangedFileCountInList int `koanf:"max_changed_file_count_in_list"`
	MaxRawFiles               int `koanf:"max_raw_files"`
	MaxRawFileChars           int `koanf:"max_raw_file_chars"`
	MaxTotalRawChars          int `koanf:"max_total_raw_chars"`
	MaxRepoWideFiles          int `koanf:"max_repo_wide_files"`
	MaxRepoWideFileChars      int `koanf:"max_repo_wide_file_chars"`
	MaxRepoWideTotalChars     int `koanf:"max_repo_wide_total_chars"`
}

// DefaultLimits returns the stock budgets.
func DefaultLimits() Limits {
	return Limits{
		MaxSelectionChars:         8000,
		MaxChangedFileCountInList: 60,
		MaxRawFiles:               6,
		MaxRawFileChars:           20000,
		MaxTotalRawChars:          60000,
		MaxRepoWideFiles:          8,
		MaxRepoWideFileChars:      12000,
		MaxRepoWideTotalChars:     90000,
	}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	fill := func(v *int, def int) {
		if *v <= 0 {
			*v = def
		}
	}
	fill(&l.MaxSelectionChars, d.MaxSelectionChars)
	fill(&l.MaxChangedFileCountInList, d.MaxChangedFileCountInList)
	fill(&l.MaxRawFiles, d.MaxRawFiles)
	fill(&l.MaxRawFileChars, d.MaxRawFileChars)
	fill(&l.MaxTotalRawChars, d.MaxTotalRawChars)
	fill(&l.MaxRepoWideFiles, d.MaxRepoWideFiles)
	fill(&l.MaxRepoWideFileChars, d.MaxRepoWideFileChars)
	fill(&l.MaxRepoWideTotalChars, d.MaxRepoWideTotalChars)
	return l
}

// Page is what the reviewer is looking at.
type Page struct {
	URL           string `json:"pageUrl"`
	Selection     string `json:"selection,omitempty"`
	SelectionPath string `json:"selectionPath,omitempty"` // file the selection belongs to
}

// Include toggles the optional prompt sections.
type Include struct {
	Selection    bool `json:"selection"`
	PRMeta       bool `json:"prMeta"`
	Diff         bool `json:"diff"`
	ChangedFiles bool `json:"changedFiles"`
}

// DefaultInclude sends selection, PR metadata and diff but not changed file
// bodies.
func DefaultInclude() Include {
	return Include{Selection: true, PRMeta: true, Diff: true}
}

// RepoWideFile is a code search hit with its fetched body.
type RepoWideFile struct {
	providers.RawFile
	Term    string `json:"term"`
	Changed bool   `json:"changed"`
}

// Context is everything loaded for one pull request. It is replaced as a
// whole when the pull request identity changes.
type Context struct {
	Key string // owner/repo#number
	PR  *providers.PullRequest

	Diff          string
	DiffTruncated bool
	DiffLoaded    bool

	RawFiles      []providers.RawFile
	RawTotalChars int

	RepoWideFiles      []RepoWideFile
	RepoWideTotalChars int
	RepoWideTerms      []string
	RepoWideKey        string
	RepoWideErr        string

	MetaErr string
	DiffErr string
	RawErr  string

	Loading bool
	Err     string // first of MetaErr, DiffErr, RawErr
}

// RepoWideKey identifies one repository-wide search: head repository, head
// revision and the ordered terms.
func RepoWideKey(headRepository, headOID string, terms []string) string {
	return headRepository + "@" + headOID + "|" + strings.Join(terms, "|")
}
