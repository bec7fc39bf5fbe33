package github

import (
	"context"
	"net/url"
	"strings"

	"github.com/reviewmate/internal/providers"
)

const codeSearchQuery = `
query($query: String!, $first: Int!) {
  search(type: CODE, query: $query, first: $first) {
    edges {
      node {
        ... on Blob {
          url
        }
      }
    }
  }
}`

type codeSearchData struct {
	Search *struct {
		Edges []struct {
			Node *struct {
				URL string `json:"url"`
			} `json:"node"`
		} `json:"edges"`
	} `json:"search"`
}

var skippedDirs = []string{
	"/node_modules/", "/dist/", "/build/", "/coverage/", "/.next/", "/__pycache__/", "/vendor/",
}

var skippedExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true, ".svg": true, ".ico": true,
	".pdf": true, ".zip": true, ".gz": true, ".tar": true,
	".mp4": true, ".mov": true, ".avi": true, ".mp3": true, ".wav": true,
	".ttf": true, ".otf": true, ".woff": true, ".woff2": true, ".eot": true,
	".jar": true, ".class": true, ".lock": true,
}

// IsUsefulPath rejects build output, vendored and cache directories and
// binary or lock file extensions.
func IsUsefulPath(path string) bool {
	if path == "" || strings.HasSuffix(path, "/") {
		return false
	}
	lower := "/" + strings.ToLower(path)
	for _, dir := range skippedDirs {
		if strings.Contains(lower, dir) {
			return false
		}
	}
	name := lower[strings.LastIndex(lower, "/")+1:]
	if dot := strings.LastIndex(name, "."); dot >= 0 && skippedExts[name[dot:]] {
		return false
	}
	return true
}

// PathFromBlobURL extracts the repository path from a blob URL of the form
// <origin>/<owner>/<repo>/blob/<rev>/<path>.
func PathFromBlobURL(blobURL string) (string, bool) {
	u, err := url.Parse(blobURL)
	if err != nil {
		return "", false
	}
	parts := strings.Split(u.EscapedPath(), "/")
	for i, part := range parts {
		if part != "blob" {
			continue
		}
		if i+2 > len(parts) {
			return "", false
		}
		path, err := url.PathUnescape(strings.Join(parts[i+2:], "/"))
		if err != nil || path == "" {
			return "", false
		}
		return path, true
	}
	return "", false
}

// SearchPaths runs one code search query and returns the blob paths it
// matched, in result order.
func (p *GitHubProvider) SearchPaths(ctx context.Context, repoFullName, query string, first int) ([]string, error) {
	var data codeSearchData
	err := p.graphql(ctx, codeSearchQuery, map[string]interface{}{"query": query, "first": first}, &data)
	if err != nil {
		return nil, err
	}
	if data.Search == nil {
		return nil, nil
	}
	var paths []string
	for _, edge := range data.Search.Edges {
		if edge.Node == nil || edge.Node.URL == "" {
			continue
		}
		if path, ok := PathFromBlobURL(edge.Node.URL); ok {
			paths = append(paths, path)
		}
	}
	return paths, nil
}

// SearchCode runs one `repo:<repo> <term>` query per term for the first
// MaxSearchQueries terms. Hits are deduplicated by path with the first term
// winning and filtered with IsUsefulPath. The first error is returned only
// when no term produced a hit.
func (p *GitHubProvider) SearchCode(ctx context.Context, repoFullName string, terms []string) ([]providers.SearchHit, error) {
	if len(terms) > p.cfg.MaxSearchQueries {
		terms = terms[:p.cfg.MaxSearchQueries]
	}

	var hits []providers.SearchHit
	seen := make(map[string]bool)
	var firstErr error

	for _, term := range terms {
		query := "repo:" + repoFullName + " " + term
		paths, err := p.SearchPaths(ctx, repoFullName, query, p.cfg.MaxResultsPerQuery)
		if err != nil {
			p.logger.Debug().Err(err).Str("term", term).Msg("Code search query failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		for _, path := range paths {
			if !IsUsefulPath(path) || seen[path] {
				continue
			}
			seen[path] = true
			hits = append(hits, providers.SearchHit{Path: path, Term: term})
		}
	}

	if len(hits) == 0 && firstErr != nil {
		return nil, firstErr
	}
	p.logger.Debug().
		Str("repo", repoFullName).
		Strs("terms", terms).
		Int("hits", len(hits)).
		Msg("Code search finished")
	return hits, nil
}
