package providers

import (
	"context"
)

// CodeHost is the code hosting platform as seen by the context assembler and
// the definition locator.
type CodeHost interface {
	FetchPullRequest(ctx context.Context, ref PRRef) (*PullRequest, error)
	FetchDiff(ctx context.Context, prBaseURL string) (text string, truncated bool, err error)
	// FetchRawFile returns nil, nil when the file is unavailable at rev.
	FetchRawFile(ctx context.Context, repoFullName, rev, path string, maxChars int) (*RawFile, error)
	SearchCode(ctx context.Context, repoFullName string, terms []string) ([]SearchHit, error)
	// SearchPaths runs a single search query and returns the matched paths
	// in result order, unfiltered.
	SearchPaths(ctx context.Context, repoFullName, query string, first int) ([]string, error)
	BlobURL(repoFullName, rev, path string) string
	RawURL(repoFullName, rev, path string) string
	Name() string
}

// PullRequest is the metadata of one pull request.
type PullRequest struct {
	URL            string
	Title          string
	Body           string
	BodyTruncated  bool
	BaseRef        string
	HeadRef        string
	HeadOID        string
	HeadRepository string   // owner/name
	Files          []string // at most the first 100 changed paths
	TotalFiles     int
}

// RawFile is the content of one file at a revision. Truncated is set when the
// text was cut to the per-file budget or replaced by a placeholder.
type RawFile struct {
	Path      string `json:"path"`
	URL       string `json:"url"`
	Text      string `json:"text"`
	Truncated bool   `json:"truncated"`
}

// SearchHit is a code search result path and the term that found it.
type SearchHit struct {
	Path string
	Term string
}
