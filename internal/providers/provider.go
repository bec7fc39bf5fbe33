package providers

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
)

var prPathRe = regexp.MustCompile(`^/([^/]+)/([^/]+)/pull/(\d+)`)

// PRRef identifies a pull request on a code host web origin.
type PRRef struct {
	Origin string // e.g. https://github.com
	Owner  string
	Repo   string
	Number int
}

// Key is the PR identity, owner/repo#number.
func (r PRRef) Key() string {
	return fmt.Sprintf("%s/%s#%d", r.Owner, r.Repo, r.Number)
}

// BaseURL is the canonical web URL of the pull request.
func (r PRRef) BaseURL() string {
	return fmt.Sprintf("%s/%s/%s/pull/%d", r.Origin, r.Owner, r.Repo, r.Number)
}

// ParsePRURL extracts the pull request identity from a page URL. ok is false
// when the page is not a pull request page.
func ParsePRURL(pageURL string) (ref PRRef, ok bool) {
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		return PRRef{}, false
	}
	m := prPathRe.FindStringSubmatch(u.Path)
	if m == nil {
		return PRRef{}, false
	}
	n, err := strconv.Atoi(m[3])
	if err != nil {
		return PRRef{}, false
	}
	return PRRef{Origin: u.Scheme + "://" + u.Host, Owner: m[1], Repo: m[2], Number: n}, true
}

// IsPRURL reports whether the URL points at a pull request page.
func IsPRURL(pageURL string) bool {
	_, ok := ParsePRURL(pageURL)
	return ok
}

// ConversationKey maps a page URL to the key its conversation is stored
// under: the canonical PR URL on PR pages, origin plus path elsewhere.
// Query and fragment never take part.
func ConversationKey(pageURL string) string {
	if ref, ok := ParsePRURL(pageURL); ok {
		return ref.BaseURL()
	}
	u, err := url.Parse(pageURL)
	if err != nil {
		return pageURL
	}
	return u.Scheme + "://" + u.Host + u.Path
}
