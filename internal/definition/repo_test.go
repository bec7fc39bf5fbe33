package definition

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewmate/internal/providers"
)

type stubHost struct {
	paths     []string
	searchErr error
	files     map[string]string
	queries   []string
	fetched   []string
}

func (s *stubHost) FetchPullRequest(context.Context, providers.PRRef) (*providers.PullRequest, error) {
	return nil, errors.New("not used")
}

func (s *stubHost) FetchDiff(context.Context, string) (string, bool, error) {
	return "", false, errors.New("not used")
}

func (s *stubHost) FetchRawFile(_ context.Context, repo, rev, path string, _ int) (*providers.RawFile, error) {
	s.fetched = append(s.fetched, path)
	text, ok := s.files[path]
	if !ok {
		return nil, nil
	}
	return &providers.RawFile{Path: path, URL: s.RawURL(repo, rev, path), Text: text}, nil
}

func (s *stubHost) SearchCode(context.Context, string, []string) ([]providers.SearchHit, error) {
	return nil, errors.New("not used")
}

func (s *stubHost) SearchPaths(_ context.Context, _ string, query string, first int) ([]string, error) {
	s.queries = append(s.queries, query)
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	if len(s.paths) > first {
		return s.paths[:first], nil
	}
	return s.paths, nil
}

func (s *stubHost) BlobURL(repo, rev, path string) string {
	return "https://github.com/" + repo + "/blob/" + rev + "/" + path
}

func (s *stubHost) RawURL(repo, rev, path string) string {
	return "https://github.com/" + repo + "/raw/" + rev + "/" + path
}

func (s *stubHost) Name() string { return "stub" }

func TestInRepoFound(t *testing.T) {
	host := &stubHost{
		paths: []string{"src/use.ts", "src/total.ts", "src/use.ts", "missing.ts", "py/total.py", "go/total.go", "rs/total.rs"},
		files: map[string]string{
			"src/use.ts":   "import { computeTotal } from './total'\ncomputeTotal()\n",
			"src/total.ts": "\nexport function computeTotal() {}\n",
			"py/total.py":  "def computeTotal():\n    pass\n",
			"go/total.go":  "func computeTotal() {}\n",
			"rs/total.rs":  "fn computeTotal() {}\n",
		},
	}
	res, err := NewLocator(host).InRepo(context.Background(), "acme/shop", "abc123", "computeTotal")
	require.NoError(t, err)

	assert.Equal(t, Found, res.Outcome)
	assert.Equal(t, []string{"repo:acme/shop computeTotal"}, host.queries)
	assert.Equal(t, []string{"src/use.ts", "src/total.ts", "missing.ts", "py/total.py", "go/total.go"}, res.Tried)
	require.Len(t, res.Hits, 3)
	assert.Equal(t, "src/total.ts", res.Hits[0].Path)
	assert.Equal(t, 2, res.Hits[0].Line)
	assert.Equal(t, "https://github.com/acme/shop/blob/abc123/src/total.ts#L2", res.Hits[0].BlobURL)
	assert.Equal(t, "https://github.com/acme/shop/raw/abc123/src/total.ts", res.Hits[0].RawURL)
	assert.Equal(t, "go/total.go", res.Hits[2].Path)
	assert.NotContains(t, host.fetched, "rs/total.rs")

	msg := res.Format()
	assert.Contains(t, msg, "Definition candidates for computeTotal (top 3)")
	assert.Contains(t, msg, "File: src/total.ts:2")
}

func TestInRepoNoSearchHits(t *testing.T) {
	host := &stubHost{}
	res, err := NewLocator(host).InRepo(context.Background(), "acme/shop", "abc123", "nothing")
	require.NoError(t, err)
	assert.Equal(t, NoSearchHits, res.Outcome)
	assert.Empty(t, host.fetched)
	assert.Equal(t, "No code search results for nothing (query: repo:acme/shop nothing)", res.Format())
}

func TestInRepoNoPatternMatch(t *testing.T) {
	host := &stubHost{
		paths: []string{"a.ts", "b.ts"},
		files: map[string]string{"a.ts": "use(thing)", "b.ts": "thing.call()"},
	}
	res, err := NewLocator(host).InRepo(context.Background(), "acme/shop", "abc123", "thing")
	require.NoError(t, err)
	assert.Equal(t, NoPatternMatch, res.Outcome)
	assert.Equal(t, []string{"a.ts", "b.ts"}, res.Tried)
	assert.Contains(t, res.Format(), "Candidate files:\n- a.ts\n- b.ts\n")
}

func TestInRepoSearchError(t *testing.T) {
	host := &stubHost{searchErr: errors.New("GitHub GraphQL HTTP 502 Bad Gateway")}
	_, err := NewLocator(host).InRepo(context.Background(), "acme/shop", "abc123", "thing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "code search failed: GitHub GraphQL HTTP 502 Bad Gateway")
}

func TestInFile(t *testing.T) {
	host := &stubHost{files: map[string]string{"svc.py": "import os\n\nclass Service:\n    pass\n"}}
	l := NewLocator(host)

	res, err := l.InFile(context.Background(), "acme/shop", "abc", "svc.py", "Service")
	require.NoError(t, err)
	assert.Equal(t, Found, res.Outcome)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, "https://github.com/acme/shop/blob/abc/svc.py#L3", res.Hits[0].BlobURL)

	res, err = l.InFile(context.Background(), "acme/shop", "abc", "svc.py", "Missing")
	require.NoError(t, err)
	assert.Equal(t, NoPatternMatch, res.Outcome)

	_, err = l.InFile(context.Background(), "acme/shop", "abc", "gone.py", "Service")
	assert.Error(t, err)
}

func TestForPullRequest(t *testing.T) {
	host := &stubHost{
		paths: []string{"svc.py"},
		files: map[string]string{"svc.py": "class Service:\n    pass\n"},
	}
	l := NewLocator(host)
	ctx := context.Background()

	_, err := l.ForPullRequest(ctx, nil, "Service", "")
	assert.ErrorIs(t, err, ErrNoHeadRevision)
	_, err = l.ForPullRequest(ctx, &providers.PullRequest{HeadRepository: "acme/api"}, "Service", "")
	assert.ErrorIs(t, err, ErrNoHeadRevision)

	pr := &providers.PullRequest{HeadRepository: "acme/api", HeadRef: "feature", HeadOID: "f00d"}
	res, err := l.ForPullRequest(ctx, pr, "Service", "")
	require.NoError(t, err)
	assert.Equal(t, Found, res.Outcome)
	assert.Equal(t, []string{"repo:acme/api Service"}, host.queries)
	assert.Equal(t, "https://github.com/acme/api/blob/f00d/svc.py#L1", res.Hits[0].BlobURL)

	pr.HeadOID = ""
	res, err = l.ForPullRequest(ctx, pr, "Service", "svc.py")
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/acme/api/blob/feature/svc.py#L1", res.Hits[0].BlobURL)
	assert.Len(t, host.queries, 1)
}
