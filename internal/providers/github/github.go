package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/reviewmate/internal/apperr"
	"github.com/reviewmate/internal/providers"
	"github.com/reviewmate/internal/retry"
	"github.com/reviewmate/internal/textlimit"
)

const (
	DefaultGraphQLURL = "https://api.github.com/graphql"
	DefaultWebURL     = "https://github.com"

	opGraphQL = "GitHub GraphQL"
	opDiff    = "PR diff"
)

// GitHubProvider talks to the GitHub GraphQL API for metadata and code
// search and to the web origin for diffs and raw files.
type GitHubProvider struct {
	cfg     GitHubConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  zerolog.Logger
}

func NewGitHubProvider(cfg GitHubConfig) *GitHubProvider {
	cfg = cfg.withDefaults()
	p := &GitHubProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: log.With().Str("component", "github").Logger(),
	}
	if cfg.RequestsPerSecond > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
	}
	p.logger.Debug().
		Str("graphql_url", cfg.GraphQLURL).
		Str("web_url", cfg.WebURL).
		Bool("token", cfg.Token != "").
		Msg("GitHub provider configured")
	return p
}

func (p *GitHubProvider) Name() string {
	return "github"
}

// WithHTTPClient replaces the client used for every call.
func (p *GitHubProvider) WithHTTPClient(c *http.Client) *GitHubProvider {
	p.client = c
	return p
}

func (p *GitHubProvider) BlobURL(repoFullName, rev, path string) string {
	return fmt.Sprintf("%s/%s/blob/%s/%s", p.cfg.WebURL, repoFullName, rev, path)
}

func (p *GitHubProvider) RawURL(repoFullName, rev, path string) string {
	return fmt.Sprintf("%s/%s/raw/%s/%s", p.cfg.WebURL, repoFullName, rev, path)
}

func (p *GitHubProvider) wait(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	return p.limiter.Wait(ctx)
}

func (p *GitHubProvider) authorize(req *http.Request) {
	if p.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.Token)
	}
	if p.cfg.CSRFToken != "" {
		req.Header.Set("X-CSRF-Token", p.cfg.CSRFToken)
	}
	if p.cfg.Cookie != "" {
		req.Header.Set("Cookie", p.cfg.Cookie)
	}
}

func (p *GitHubProvider) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	p.authorize(req)
	return p.client.Do(req)
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// graphql posts one query and decodes its data member into out.
func (p *GitHubProvider) graphql(ctx context.Context, query string, variables map[string]interface{}, out interface{}) error {
	payload, err := json.Marshal(map[string]interface{}{"query": query, "variables": variables})
	if err != nil {
		return fmt.Errorf("failed to encode GraphQL request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.GraphQLURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create GraphQL request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := p.do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read GraphQL response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apperr.HTTP(opGraphQL, resp.StatusCode, statusText(resp), string(body), apperr.ExcerptChars)
	}

	var envelope graphqlResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return apperr.Malformed(opGraphQL, err)
	}
	if len(envelope.Errors) > 0 {
		return apperr.Query(opGraphQL, envelope.Errors[0].Message)
	}
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return apperr.Malformed(opGraphQL, err)
	}
	return nil
}

const pullRequestQuery = `
query($owner: String!, $name: String!, $number: Int!) {
  repository(owner: $owner, name: $name) {
    pullRequest(number: $number) {
      url
      title
      bodyText
      baseRefName
      headRefName
      headRefOid
      headRepository { nameWithOwner }
      files(first: 100) { nodes { path } totalCount }
    }
  }
}`

type pullRequestData struct {
	Repository *struct {
		PullRequest *struct {
			URL            string `json:"url"`
			Title          string `json:"title"`
			BodyText       string `json:"bodyText"`
			BaseRefName    string `json:"baseRefName"`
			HeadRefName    string `json:"headRefName"`
			HeadRefOid     string `json:"headRefOid"`
			HeadRepository *struct {
				NameWithOwner string `json:"nameWithOwner"`
			} `json:"headRepository"`
			Files *struct {
				Nodes []struct {
					Path string `json:"path"`
				} `json:"nodes"`
				TotalCount int `json:"totalCount"`
			} `json:"files"`
		} `json:"pullRequest"`
	} `json:"repository"`
}

// FetchPullRequest loads PR metadata in a single GraphQL query. The body is
// cut to MaxBodyChars.
func (p *GitHubProvider) FetchPullRequest(ctx context.Context, ref providers.PRRef) (*providers.PullRequest, error) {
	var data pullRequestData
	vars := map[string]interface{}{"owner": ref.Owner, "name": ref.Repo, "number": ref.Number}

	result := retry.RetryWithBackoff(ctx, p.cfg.Retry, func() error {
		data = pullRequestData{}
		return p.graphql(ctx, pullRequestQuery, vars, &data)
	}, &p.logger)
	if !result.Success {
		return nil, result.LastError
	}

	if data.Repository == nil || data.Repository.PullRequest == nil {
		return nil, apperr.NotFound(opGraphQL, "pull request not found (check permissions or login)")
	}
	node := data.Repository.PullRequest

	pr := &providers.PullRequest{
		URL:            node.URL,
		Title:          node.Title,
		BaseRef:        node.BaseRefName,
		HeadRef:        node.HeadRefName,
		HeadOID:        node.HeadRefOid,
		HeadRepository: ref.Owner + "/" + ref.Repo,
	}
	if pr.URL == "" {
		pr.URL = ref.BaseURL()
	}
	if node.HeadRepository != nil && node.HeadRepository.NameWithOwner != "" {
		pr.HeadRepository = node.HeadRepository.NameWithOwner
	}
	pr.Body, pr.BodyTruncated = textlimit.Truncate(node.BodyText, p.cfg.MaxBodyChars)
	if node.Files != nil {
		for _, n := range node.Files.Nodes {
			if n.Path != "" {
				pr.Files = append(pr.Files, n.Path)
			}
		}
		pr.TotalFiles = node.Files.TotalCount
	}
	if pr.TotalFiles == 0 {
		pr.TotalFiles = len(pr.Files)
	}

	p.logger.Debug().
		Str("pr", ref.Key()).
		Str("head_oid", pr.HeadOID).
		Int("files", len(pr.Files)).
		Int("total_files", pr.TotalFiles).
		Msg("Fetched pull request metadata")
	return pr, nil
}

// FetchDiff downloads the unified diff from <prBaseURL>.diff, cut to
// MaxDiffChars.
func (p *GitHubProvider) FetchDiff(ctx context.Context, prBaseURL string) (string, bool, error) {
	var text string
	result := retry.RetryWithBackoff(ctx, p.cfg.Retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, prBaseURL+".diff", nil)
		if err != nil {
			return fmt.Errorf("failed to create diff request: %w", err)
		}
		resp, err := p.do(ctx, req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read diff: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return apperr.HTTP(opDiff, resp.StatusCode, statusText(resp), string(body), apperr.ExcerptChars)
		}
		text = string(body)
		return nil
	}, &p.logger)
	if !result.Success {
		return "", false, result.LastError
	}

	diff, truncated := textlimit.Truncate(text, p.cfg.MaxDiffChars)
	p.logger.Debug().
		Str("url", prBaseURL).
		Int("chars", textlimit.Len(text)).
		Bool("truncated", truncated).
		Msg("Fetched PR diff")
	return diff, truncated, nil
}

func statusText(resp *http.Response) string {
	if text := http.StatusText(resp.StatusCode); text != "" {
		return text
	}
	return strings.TrimSpace(strings.TrimPrefix(resp.Status, fmt.Sprint(resp.StatusCode)))
}

var _ providers.CodeHost = (*GitHubProvider)(nil)

// defaultTimeout bounds each code host call.
const defaultTimeout = 30 * time.Second
