package prcontext

import (
	"context"
	"errors"
	"sync"

	"github.com/reviewmate/internal/providers"
	"github.com/reviewmate/internal/textlimit"
)

// fakeHost is an in-memory code host that counts calls.
type fakeHost struct {
	mu sync.Mutex

	prs      map[string]*providers.PullRequest // by PRRef.Key()
	diffs    map[string]string                 // by PR base URL
	files    map[string]string                 // by path
	hits     []providers.SearchHit
	searchFn func(terms []string) ([]providers.SearchHit, error)
	prErr    error
	diffErr  error
	rawErr   error

	prCalls     int
	diffCalls   int
	rawCalls    []string
	searchCalls int
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		prs:   map[string]*providers.PullRequest{},
		diffs: map[string]string{},
		files: map[string]string{},
	}
}

func (f *fakeHost) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prCalls + f.diffCalls + len(f.rawCalls) + f.searchCalls
}

func (f *fakeHost) FetchPullRequest(ctx context.Context, ref providers.PRRef) (*providers.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prCalls++
	if f.prErr != nil {
		return nil, f.prErr
	}
	pr, ok := f.prs[ref.Key()]
	if !ok {
		return nil, errors.New("GitHub GraphQL: pull request not found")
	}
	cp := *pr
	return &cp, nil
}

func (f *fakeHost) FetchDiff(ctx context.Context, prBaseURL string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.diffCalls++
	if f.diffErr != nil {
		return "", false, f.diffErr
	}
	d, ok := f.diffs[prBaseURL]
	if !ok {
		return "", false, errors.New("PR diff HTTP 404 Not Found")
	}
	text, truncated := textlimit.Truncate(d, 60000)
	return text, truncated, nil
}

func (f *fakeHost) FetchRawFile(ctx context.Context, repo, rev, path string, maxChars int) (*providers.RawFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rawCalls = append(f.rawCalls, path)
	if f.rawErr != nil {
		return nil, f.rawErr
	}
	body, ok := f.files[path]
	if !ok {
		return nil, nil
	}
	text, truncated := textlimit.Truncate(body, maxChars)
	return &providers.RawFile{Path: path, URL: f.RawURL(repo, rev, path), Text: text, Truncated: truncated}, nil
}

func (f *fakeHost) SearchCode(ctx context.Context, repo string, terms []string) ([]providers.SearchHit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchCalls++
	if f.searchFn != nil {
		return f.searchFn(terms)
	}
	return f.hits, nil
}

func (f *fakeHost) SearchPaths(ctx context.Context, repo, query string, first int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchCalls++
	var out []string
	for _, h := range f.hits {
		out = append(out, h.Path)
	}
	return out, nil
}

func (f *fakeHost) BlobURL(repo, rev, path string) string {
	return "https://github.com/" + repo + "/blob/" + rev + "/" + path
}

func (f *fakeHost) RawURL(repo, rev, path string) string {
	return "https://github.com/" + repo + "/raw/" + rev + "/" + path
}

func (f *fakeHost) Name() string { return "fake" }
