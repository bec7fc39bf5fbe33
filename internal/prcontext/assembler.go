package prcontext

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/reviewmate/internal/providers"
	"github.com/reviewmate/internal/terms"
	"github.com/reviewmate/internal/textlimit"
)

// Assembler owns the Context of one session and fills it through idempotent
// ensure operations. Failures are recorded on the Context, never returned.
// Calls on one Assembler must not overlap.
type Assembler struct {
	host      providers.CodeHost
	limits    Limits
	extractor terms.Extractor
	cache     *RepoWideCache
	logger    zerolog.Logger

	ctx Context
}

type Option func(*Assembler)

func WithLimits(l Limits) Option {
	return func(a *Assembler) { a.limits = l.withDefaults() }
}

func WithExtractor(e terms.Extractor) Option {
	return func(a *Assembler) { a.extractor = e }
}

// WithCache shares repository-wide results with other assemblers.
func WithCache(c *RepoWideCache) Option {
	return func(a *Assembler) { a.cache = c }
}

func NewAssembler(host providers.CodeHost, opts ...Option) *Assembler {
	a := &Assembler{
		host:   host,
		limits: DefaultLimits(),
		logger: log.With().Str("component", "prcontext").Logger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Context returns a snapshot of the current context.
func (a *Assembler) Context() Context {
	return a.ctx
}

func (a *Assembler) Limits() Limits {
	return a.limits
}

// Reset drops everything loaded so far.
func (a *Assembler) Reset() {
	a.ctx = Context{}
}

// syncIdentity replaces the context when the page shows a different pull
// request. It reports the pull request of the page.
func (a *Assembler) syncIdentity(page Page) (providers.PRRef, bool) {
	ref, ok := providers.ParsePRURL(page.URL)
	if !ok {
		return ref, false
	}
	if a.ctx.Key != ref.Key() {
		a.logger.Debug().Str("from", a.ctx.Key).Str("to", ref.Key()).Msg("Pull request changed, resetting context")
		a.ctx = Context{Key: ref.Key()}
	}
	return ref, true
}

func (a *Assembler) setLoading() func() {
	a.ctx.Loading = true
	return func() { a.ctx.Loading = false }
}

func (a *Assembler) refreshErr() {
	c := &a.ctx
	switch {
	case c.MetaErr != "":
		c.Err = c.MetaErr
	case c.DiffErr != "":
		c.Err = c.DiffErr
	default:
		c.Err = c.RawErr
	}
}

// EnsureMetadata loads PR metadata unless it is already loaded for the pull
// request on the page. A failed load is retried on the next call and leaves
// the rest of the context alone.
func (a *Assembler) EnsureMetadata(ctx context.Context, page Page) {
	ref, ok := a.syncIdentity(page)
	if !ok || a.ctx.PR != nil {
		return
	}

	defer a.setLoading()()
	defer a.refreshErr()
	pr, err := a.host.FetchPullRequest(ctx, ref)
	if err != nil {
		a.logger.Warn().Err(err).Str("pr", ref.Key()).Msg("Failed to load PR metadata")
		a.ctx.MetaErr = err.Error()
		return
	}
	a.ctx.PR = pr
	a.ctx.MetaErr = ""
}

// metadata returns the loaded PR, fetching it first unless the last attempt
// for this pull request failed. Only EnsureMetadata retries a failure.
func (a *Assembler) metadata(ctx context.Context, page Page) *providers.PullRequest {
	if a.ctx.MetaErr == "" {
		a.EnsureMetadata(ctx, page)
	}
	return a.ctx.PR
}

// EnsureDiff loads the unified diff once per pull request.
func (a *Assembler) EnsureDiff(ctx context.Context, page Page) {
	ref, ok := a.syncIdentity(page)
	if !ok || a.ctx.DiffLoaded {
		return
	}

	defer a.setLoading()()
	defer a.refreshErr()
	a.ctx.DiffErr = ""
	text, truncated, err := a.host.FetchDiff(ctx, ref.BaseURL())
	if err != nil {
		a.logger.Warn().Err(err).Str("pr", ref.Key()).Msg("Failed to load PR diff")
		a.ctx.DiffErr = err.Error()
		return
	}
	a.ctx.Diff = text
	a.ctx.DiffTruncated = truncated
	a.ctx.DiffLoaded = true
}

// EnsureChangedFileBodies loads raw changed files at the head revision, the
// selection's file first, until the file count or total character budget is
// reached. Unavailable files are skipped.
func (a *Assembler) EnsureChangedFileBodies(ctx context.Context, page Page) {
	if _, ok := a.syncIdentity(page); !ok || len(a.ctx.RawFiles) > 0 {
		return
	}
	pr := a.metadata(ctx, page)
	if pr == nil || pr.HeadOID == "" || len(pr.Files) == 0 {
		return
	}

	var paths []string
	seen := make(map[string]bool)
	for _, p := range append([]string{page.SelectionPath}, pr.Files...) {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		paths = append(paths, p)
	}

	defer a.setLoading()()
	defer a.refreshErr()
	a.ctx.RawErr = ""

	var picked []providers.RawFile
	total := 0
	var firstErr error
	for _, p := range paths {
		if len(picked) >= a.limits.MaxRawFiles || total >= a.limits.MaxTotalRawChars {
			break
		}
		raw, err := a.host.FetchRawFile(ctx, pr.HeadRepository, pr.HeadOID, p, a.limits.MaxRawFileChars)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if raw == nil {
			continue
		}
		picked = append(picked, *raw)
		total += textlimit.Len(raw.Text)
	}

	a.ctx.RawFiles = picked
	a.ctx.RawTotalChars = total
	if len(picked) == 0 && firstErr != nil {
		a.ctx.RawErr = firstErr.Error()
	}
	a.logger.Debug().Int("files", len(picked)).Int("chars", total).Msg("Loaded changed file bodies")
}

// Terms returns the search terms a repository-wide search would use for this
// input. It needs loaded metadata for the changed-file and repository
// fallbacks.
func (a *Assembler) Terms(userText string, page Page, include Include) []string {
	in := terms.Input{UserText: userText, FilePath: page.SelectionPath}
	if include.Selection {
		in.Selection = page.Selection
	}
	if pr := a.ctx.PR; pr != nil {
		in.ChangedFiles = pr.Files
		in.HeadRepository = pr.HeadRepository
	}
	return a.extractor.Extract(in)
}

// EnsureRepoWideFiles searches the head repository for the extracted terms
// and loads the best hits. Nothing is fetched when the search key is unchanged
// and results exist, or when the shared cache already holds the key.
func (a *Assembler) EnsureRepoWideFiles(ctx context.Context, userText string, page Page, include Include) {
	if _, ok := a.syncIdentity(page); !ok {
		return
	}
	pr := a.metadata(ctx, page)
	if pr == nil || pr.HeadRepository == "" || pr.HeadOID == "" {
		return
	}

	searchTerms := a.Terms(userText, page, include)
	key := RepoWideKey(pr.HeadRepository, pr.HeadOID, searchTerms)
	if a.ctx.RepoWideKey == key && len(a.ctx.RepoWideFiles) > 0 {
		return
	}

	a.ctx.RepoWideFiles = nil
	a.ctx.RepoWideTotalChars = 0
	a.ctx.RepoWideTerms = searchTerms
	a.ctx.RepoWideKey = key
	a.ctx.RepoWideErr = ""

	if len(searchTerms) == 0 {
		a.ctx.RepoWideErr = "could not extract search terms for repository-wide search"
		return
	}

	if cached, ok := a.cache.Get(key); ok {
		a.logger.Debug().Str("key", key).Msg("Repository-wide results served from cache")
		a.ctx.RepoWideFiles = cached.Files
		a.ctx.RepoWideTotalChars = cached.TotalChars
		return
	}

	defer a.setLoading()()
	hits, err := a.host.SearchCode(ctx, pr.HeadRepository, searchTerms)
	if err != nil {
		a.ctx.RepoWideErr = err.Error()
		return
	}
	if len(hits) == 0 {
		a.ctx.RepoWideErr = fmt.Sprintf("no code search results (terms: %s)", strings.Join(searchTerms, ", "))
		return
	}

	changed := make(map[string]bool, len(pr.Files))
	for _, p := range pr.Files {
		changed[p] = true
	}
	ordered := RankHits(hits, changed)

	var picked []RepoWideFile
	total := 0
	for _, hit := range ordered {
		if len(picked) >= a.limits.MaxRepoWideFiles || total >= a.limits.MaxRepoWideTotalChars {
			break
		}
		raw, err := a.host.FetchRawFile(ctx, pr.HeadRepository, pr.HeadOID, hit.Path, a.limits.MaxRepoWideFileChars)
		if err != nil {
			a.logger.Debug().Err(err).Str("path", hit.Path).Msg("Skipping search hit")
			continue
		}
		if raw == nil {
			continue
		}
		picked = append(picked, RepoWideFile{RawFile: *raw, Term: hit.Term, Changed: changed[hit.Path]})
		total += textlimit.Len(raw.Text)
	}

	a.ctx.RepoWideFiles = picked
	a.ctx.RepoWideTotalChars = total
	if len(picked) == 0 {
		a.ctx.RepoWideErr = "no readable text files in repository search results"
		return
	}
	a.cache.Add(key, RepoWideResult{Files: picked, TotalChars: total})
	a.logger.Debug().
		Strs("terms", searchTerms).
		Int("hits", len(hits)).
		Int("files", len(picked)).
		Int("chars", total).
		Msg("Loaded repository-wide files")
}

// RankHits orders search hits so that files already changed in the pull
// request come last; their content is in the diff. The order is otherwise
// preserved.
func RankHits(hits []providers.SearchHit, changed map[string]bool) []providers.SearchHit {
	out := append([]providers.SearchHit(nil), hits...)
	sort.SliceStable(out, func(i, j int) bool {
		return !changed[out[i].Path] && changed[out[j].Path]
	})
	return out
}

// EnsureAll runs the ensure operations the include flags ask for, in order.
func (a *Assembler) EnsureAll(ctx context.Context, userText string, page Page, include Include) {
	a.EnsureMetadata(ctx, page)
	if include.Diff {
		a.EnsureDiff(ctx, page)
	}
	if include.ChangedFiles {
		a.EnsureChangedFileBodies(ctx, page)
	}
	a.EnsureRepoWideFiles(ctx, userText, page, include)
}
