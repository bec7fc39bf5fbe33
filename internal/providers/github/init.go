package github

import (
	"time"

	"github.com/reviewmate/internal/providers"
	"github.com/reviewmate/internal/retry"
)

// GitHubConfig holds credentials, endpoints and budgets for the GitHub
// code host.
type GitHubConfig struct {
	Token     string `koanf:"token"`      // optional bearer token for api.github.com
	CSRFToken string `koanf:"csrf_token"` // web session anti-forgery token, sent as X-CSRF-Token
	Cookie    string `koanf:"cookie"`     // web session cookie header

	GraphQLURL string `koanf:"graphql_url"`
	WebURL     string `koanf:"web_url"`

	RequestsPerSecond float64       `koanf:"requests_per_second"` // zero disables rate limiting
	Burst             int           `koanf:"burst"`
	Timeout           time.Duration `koanf:"timeout"`

	MaxBodyChars       int `koanf:"max_body_chars"`
	MaxDiffChars       int `koanf:"max_diff_chars"`
	MaxSearchQueries   int `koanf:"max_search_queries"`
	MaxResultsPerQuery int `koanf:"max_results_per_query"`

	Retry retry.RetryConfig `koanf:"retry"`
}

// Defaults returns the configuration used when fields are left unset.
func Defaults() GitHubConfig {
	return GitHubConfig{
		GraphQLURL:         DefaultGraphQLURL,
		WebURL:             DefaultWebURL,
		RequestsPerSecond:  5,
		Burst:              5,
		Timeout:            defaultTimeout,
		MaxBodyChars:       2000,
		MaxDiffChars:       60000,
		MaxSearchQueries:   4,
		MaxResultsPerQuery: 8,
		Retry:              retry.CodeHostRetryConfig(),
	}
}

func (c GitHubConfig) withDefaults() GitHubConfig {
	d := Defaults()
	if c.GraphQLURL == "" {
		c.GraphQLURL = d.GraphQLURL
	}
	if c.WebURL == "" {
		c.WebURL = d.WebURL
	}
	if c.RequestsPerSecond > 0 && c.Burst <= 0 {
		c.Burst = 1
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.MaxBodyChars <= 0 {
		c.MaxBodyChars = d.MaxBodyChars
	}
	if c.MaxDiffChars <= 0 {
		c.MaxDiffChars = d.MaxDiffChars
	}
	if c.MaxSearchQueries <= 0 {
		c.MaxSearchQueries = d.MaxSearchQueries
	}
	if c.MaxResultsPerQuery <= 0 {
		c.MaxResultsPerQuery = d.MaxResultsPerQuery
	}
	if c.Retry.Multiplier == 0 {
		c.Retry = d.Retry
	}
	if c.Retry.ShouldRetry == nil {
		c.Retry.ShouldRetry = retry.IsRetryableError
	}
	return c
}

func New(config GitHubConfig) (providers.CodeHost, error) {
	return NewGitHubProvider(config), nil
}
