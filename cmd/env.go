package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/joho/godotenv"

	"github.com/reviewmate/internal/config"
)

// LoadEnvFiles loads environment variables from the given files, overwriting
// existing ones. Missing files are skipped.
func LoadEnvFiles(filenames ...string) error {
	for _, name := range filenames {
		if name == "" {
			continue
		}
		if _, err := os.Stat(name); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Overload(name); err != nil {
			return fmt.Errorf("failed to load %s: %w", name, err)
		}
	}
	return nil
}

// ConfigCheckResult holds the result of configuration validation
type ConfigCheckResult struct {
	Missing  []string          // Required settings that are missing
	Present  map[string]string // Settings that are set (masked values)
	Warnings []string          // Non-fatal warnings
}

// CheckRequiredConfig reports which secrets and endpoints are configured.
func CheckRequiredConfig(cfg *config.Config) *ConfigCheckResult {
	result := &ConfigCheckResult{
		Missing:  []string{},
		Present:  make(map[string]string),
		Warnings: []string{},
	}

	secret := func(key, value string, required bool) {
		switch {
		case value != "":
			result.Present[key] = maskSecret(value)
		case required:
			result.Missing = append(result.Missing, key)
		}
	}
	secret("model.api_key", cfg.Model.APIKey, true)
	secret("github.token", cfg.GitHub.Token, false)
	secret("github.cookie", cfg.GitHub.Cookie, false)
	secret("storage.database_url", cfg.Storage.DatabaseURL, false)

	if cfg.GitHub.Token == "" && cfg.GitHub.Cookie == "" {
		result.Warnings = append(result.Warnings, "no GitHub credentials: only public repositories can be read and code search may be refused")
	}
	if cfg.Storage.DatabaseURL == "" {
		result.Warnings = append(result.Warnings, "storage.database_url is empty: conversations are kept in memory only")
	}
	return result
}

// PrintConfigCheck prints the configuration check results
func PrintConfigCheck(w io.Writer, result *ConfigCheckResult) {
	fmt.Fprintln(w, "=== Configuration Check ===")

	if len(result.Missing) > 0 {
		fmt.Fprintln(w, "❌ Missing required settings:")
		for _, v := range result.Missing {
			fmt.Fprintf(w, "   - %s\n", v)
		}
		fmt.Fprintln(w, "")
	}

	if len(result.Present) > 0 {
		fmt.Fprintln(w, "✓ Configured settings:")
		keys := make([]string, 0, len(result.Present))
		for k := range result.Present {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "   - %s = %s\n", k, result.Present[k])
		}
		fmt.Fprintln(w, "")
	}

	for _, warning := range result.Warnings {
		fmt.Fprintf(w, "⚠ Warning: %s\n", warning)
	}

	if len(result.Missing) == 0 {
		fmt.Fprintln(w, "✓ All required configuration is present")
	}

	fmt.Fprintln(w, "============================")
}

// maskSecret masks a secret value for display, showing only first and last 2 chars
func maskSecret(value string) string {
	if len(value) <= 8 {
		return "****"
	}
	return value[:2] + "****" + value[len(value)-2:]
}
