package definition

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/reviewmate/internal/providers"
)

const (
	DefaultSearchResults = 10
	DefaultMaxHits       = 3
	DefaultFileChars     = 20000
	maxTriedListed       = 10
)

// Outcome tells apart the ways a repository lookup can end.
type Outcome string

const (
	NoSearchHits   Outcome = "no_search_hits"
	NoPatternMatch Outcome = "no_pattern_match"
	Found          Outcome = "found"
)

// Hit is one located declaration.
type Hit struct {
	Path    string `json:"path"`
	Line    int    `json:"line"`
	Snippet string `json:"snippet"`
	BlobURL string `json:"blobUrl"` // deep link to the line at the queried revision
	RawURL  string `json:"rawUrl"`
}

// Result of a lookup. Tried lists the files fetched, in order.
type Result struct {
	Outcome    Outcome  `json:"outcome"`
	Identifier string   `json:"identifier"`
	Query      string   `json:"query,omitempty"`
	Hits       []Hit    `json:"hits,omitempty"`
	Tried      []string `json:"tried,omitempty"`
}

// Locator looks identifiers up through a code host.
type Locator struct {
	Host          providers.CodeHost
	Shapes        []Shape
	SearchResults int
	MaxHits       int
	FileChars     int
}

func NewLocator(host providers.CodeHost) *Locator {
	return &Locator{
		Host:          host,
		Shapes:        Shapes,
		SearchResults: DefaultSearchResults,
		MaxHits:       DefaultMaxHits,
		FileChars:     DefaultFileChars,
	}
}

func (l *Locator) hit(repo, rev, path string, m *Match) Hit {
	return Hit{
		Path:    path,
		Line:    m.HitLine,
		Snippet: m.Snippet,
		BlobURL: fmt.Sprintf("%s#L%d", l.Host.BlobURL(repo, rev, path), m.HitLine),
		RawURL:  l.Host.RawURL(repo, rev, path),
	}
}

// InFile looks for the declaration in a single file at rev.
func (l *Locator) InFile(ctx context.Context, repo, rev, path, ident string) (Result, error) {
	res := Result{Identifier: ident, Tried: []string{path}}
	raw, err := l.Host.FetchRawFile(ctx, repo, rev, path, l.FileChars)
	if err != nil {
		return res, err
	}
	if raw == nil {
		return res, fmt.Errorf("could not read %s at %s", path, rev)
	}
	m := FindDefinitionWith(l.Shapes, ident, raw.Text)
	if m == nil {
		res.Outcome = NoPatternMatch
		return res, nil
	}
	res.Outcome = Found
	res.Hits = []Hit{l.hit(repo, rev, path, m)}
	return res, nil
}

// InRepo runs one code search for the identifier, then reads the matched
// files in order until MaxHits declarations are found. Files that cannot be
// read or do not match are skipped.
func (l *Locator) InRepo(ctx context.Context, repo, rev, ident string) (Result, error) {
	query := "repo:" + repo + " " + ident
	res := Result{Identifier: ident, Query: query}

	paths, err := l.Host.SearchPaths(ctx, repo, query, l.SearchResults)
	if err != nil {
		return res, fmt.Errorf("code search failed: %w", err)
	}

	var uniq []string
	seen := make(map[string]bool)
	for _, p := range paths {
		if p != "" && !seen[p] {
			seen[p] = true
			uniq = append(uniq, p)
		}
	}
	if len(uniq) == 0 {
		res.Outcome = NoSearchHits
		return res, nil
	}

	for _, path := range uniq {
		if len(res.Hits) >= l.MaxHits {
			break
		}
		res.Tried = append(res.Tried, path)
		raw, err := l.Host.FetchRawFile(ctx, repo, rev, path, l.FileChars)
		if err != nil {
			log.Debug().Err(err).Str("path", path).Msg("Skipping definition candidate")
			continue
		}
		if raw == nil {
			continue
		}
		if m := FindDefinitionWith(l.Shapes, ident, raw.Text); m != nil {
			res.Hits = append(res.Hits, l.hit(repo, rev, path, m))
		}
	}

	if len(res.Hits) == 0 {
		res.Outcome = NoPatternMatch
	} else {
		res.Outcome = Found
	}
	return res, nil
}

// Format renders the result as a chat message.
func (r Result) Format() string {
	var b strings.Builder
	switch r.Outcome {
	case NoSearchHits:
		fmt.Fprintf(&b, "No code search results for %s (query: %s)", r.Identifier, r.Query)
	case NoPatternMatch:
		fmt.Fprintf(&b, "Search found files but no declaration of %s matched.\n\nCandidate files:\n", r.Identifier)
		tried := r.Tried
		if len(tried) > maxTriedListed {
			tried = tried[:maxTriedListed]
		}
		for _, p := range tried {
			fmt.Fprintf(&b, "- %s\n", p)
		}
		b.WriteString("\nTip: open the files directly, or select a different keyword (e.g. the class/function/def name).")
	case Found:
		fmt.Fprintf(&b, "Definition candidates for %s (top %d)", r.Identifier, len(r.Hits))
		for _, h := range r.Hits {
			fmt.Fprintf(&b, "\n\nFile: %s:%d\n```\n%s\n```\nView: %s", h.Path, h.Line, h.Snippet, h.BlobURL)
		}
	}
	return b.String()
}

// ErrNoHeadRevision is returned when the pull request lacks a head
// repository or revision to search.
var ErrNoHeadRevision = errors.New("pull request head repository/revision is unknown; cannot look up definitions")

// ForPullRequest looks ident up at the pull request's head revision: in path
// when one is given, across the repository otherwise.
func (l *Locator) ForPullRequest(ctx context.Context, pr *providers.PullRequest, ident, path string) (Result, error) {
	if pr == nil || pr.HeadRepository == "" {
		return Result{Identifier: ident}, ErrNoHeadRevision
	}
	rev := pr.HeadOID
	if rev == "" {
		rev = pr.HeadRef
	}
	if rev == "" {
		return Result{Identifier: ident}, ErrNoHeadRevision
	}
	if path != "" {
		return l.InFile(ctx, pr.HeadRepository, rev, path, ident)
	}
	return l.InRepo(ctx, pr.HeadRepository, rev, ident)
}
