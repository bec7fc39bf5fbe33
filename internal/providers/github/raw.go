package github

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/reviewmate/internal/providers"
	"github.com/reviewmate/internal/textlimit"
)

// textContentMarkers are substrings of content types that are fetched as
// text. Extension-less source files are often served with x-<lang> types.
var textContentMarkers = []string{
	"json", "javascript", "xml", "yaml", "yml",
	"x-python", "x-sh", "x-c", "x-c++", "x-java", "x-rust", "x-go",
}

// LooksLikeText reports whether a content type may be read as text. An empty
// content type is accepted.
func LooksLikeText(contentType string) bool {
	v := strings.ToLower(strings.TrimSpace(contentType))
	if v == "" || strings.HasPrefix(v, "text/") {
		return true
	}
	for _, m := range textContentMarkers {
		if strings.Contains(v, m) {
			return true
		}
	}
	return false
}

// FetchRawFile reads one file at rev from the web origin. It returns nil, nil
// for any non-2xx status. Non-text content types come back as a short
// placeholder marked truncated; the body is not read.
func (p *GitHubProvider) FetchRawFile(ctx context.Context, repoFullName, rev, path string, maxChars int) (*providers.RawFile, error) {
	rawURL := p.RawURL(repoFullName, rev, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create raw file request: %w", err)
	}
	resp, err := p.do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		p.logger.Debug().
			Str("path", path).
			Int("status", resp.StatusCode).
			Msg("Raw file unavailable")
		return nil, nil
	}

	ct := resp.Header.Get("Content-Type")
	if !LooksLikeText(ct) {
		return &providers.RawFile{
			Path:      path,
			URL:       rawURL,
			Text:      "[skipped non-text content-type: " + ct + "]",
			Truncated: true,
		}, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read raw file %s: %w", path, err)
	}
	text, truncated := textlimit.Truncate(string(body), maxChars)
	return &providers.RawFile{Path: path, URL: rawURL, Text: text, Truncated: truncated}, nil
}
