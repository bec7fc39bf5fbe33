package prcontext

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of repository-wide searches kept.
const DefaultCacheSize = 256

// RepoWideResult is a cached repository-wide search outcome.
type RepoWideResult struct {
	Files      []RepoWideFile
	TotalChars int
}

// RepoWideCache shares repository-wide search results between sessions.
// Entries are keyed by RepoWideKey, so a new head revision or different
// terms never hit a stale entry. Safe for concurrent use.
type RepoWideCache struct {
	entries *lru.Cache[string, RepoWideResult]
}

func NewRepoWideCache(size int) (*RepoWideCache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c, err := lru.New[string, RepoWideResult](size)
	if err != nil {
		return nil, err
	}
	return &RepoWideCache{entries: c}, nil
}

func (c *RepoWideCache) Get(key string) (RepoWideResult, bool) {
	if c == nil {
		return RepoWideResult{}, false
	}
	r, ok := c.entries.Get(key)
	if !ok {
		return RepoWideResult{}, false
	}
	r.Files = append([]RepoWideFile(nil), r.Files...)
	return r, true
}

func (c *RepoWideCache) Add(key string, r RepoWideResult) {
	if c == nil || len(r.Files) == 0 {
		return
	}
	r.Files = append([]RepoWideFile(nil), r.Files...)
	c.entries.Add(key, r)
}

func (c *RepoWideCache) Len() int {
	if c == nil {
		return 0
	}
	return c.entries.Len()
}
