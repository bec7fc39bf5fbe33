package relay

import (
	"net/url"
	"strings"
)

const (
	ModeResponses       = "responses"
	ModeChatCompletions = "chat_completions"

	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "gpt-5"
)

// Settings is the model provider configuration read for every request.
type Settings struct {
	APIKey          string   `koanf:"api_key"`
	BaseURL         string   `koanf:"base_url"`
	OrgID           string   `koanf:"org_id"`
	ProjectID       string   `koanf:"project_id"`
	Mode            string   `koanf:"mode"`
	Model           string   `koanf:"model"`
	DeveloperPrompt string   `koanf:"developer_prompt"`
	AllowedOrigins  []string `koanf:"allowed_origins"` // empty allows any base URL
}

// Normalize trims fields and applies defaults. Unknown modes fall back to
// responses.
func (s Settings) Normalize() Settings {
	s.APIKey = strings.TrimSpace(s.APIKey)
	s.BaseURL = strings.TrimRight(strings.TrimSpace(s.BaseURL), "/")
	if s.BaseURL == "" {
		s.BaseURL = DefaultBaseURL
	}
	s.OrgID = strings.TrimSpace(s.OrgID)
	s.ProjectID = strings.TrimSpace(s.ProjectID)
	if strings.TrimSpace(s.Mode) != ModeChatCompletions {
		s.Mode = ModeResponses
	} else {
		s.Mode = ModeChatCompletions
	}
	s.Model = strings.TrimSpace(s.Model)
	if s.Model == "" {
		s.Model = DefaultModel
	}
	s.DeveloperPrompt = strings.TrimSpace(s.DeveloperPrompt)
	return s
}

// HasKey reports whether an API key is configured.
func (s Settings) HasKey() bool {
	return strings.TrimSpace(s.APIKey) != ""
}

// Origin returns scheme://host of the base URL.
func (s Settings) Origin() string {
	u, err := url.Parse(s.BaseURL)
	if err != nil || u.Host == "" {
		return s.BaseURL
	}
	return u.Scheme + "://" + u.Host
}

// OriginAllowed checks the base URL origin against AllowedOrigins. Entries
// may carry a trailing "/*".
func (s Settings) OriginAllowed() bool {
	if len(s.AllowedOrigins) == 0 {
		return true
	}
	origin := s.Origin()
	for _, o := range s.AllowedOrigins {
		o = strings.TrimSuffix(strings.TrimSpace(o), "/*")
		if strings.TrimRight(o, "/") == origin {
			return true
		}
	}
	return false
}

// Endpoint joins the base URL and a path.
func (s Settings) Endpoint(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return s.BaseURL + path
}

// SettingsSource supplies the current settings.
type SettingsSource interface {
	Current() Settings
}

// StaticSettings is a fixed SettingsSource.
type StaticSettings Settings

func (s StaticSettings) Current() Settings { return Settings(s) }
