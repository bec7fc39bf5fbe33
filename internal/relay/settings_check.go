package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/reviewmate/internal/apperr"
	"github.com/reviewmate/internal/retry"
)

// CheckResult is the outcome of a settings check.
type CheckResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// CheckSettings lists the provider's models with the given settings. Transient
// failures are retried.
func (r *Relay) CheckSettings(ctx context.Context, s Settings) CheckResult {
	s = s.Normalize()
	if !s.HasKey() {
		return CheckResult{Error: apperr.ConfigMissing("API key is missing").Error()}
	}
	if !s.OriginAllowed() {
		return CheckResult{Error: apperr.PermissionMissing(s.Origin() + "/*").Error()}
	}

	var listing struct {
		Data []json.RawMessage `json:"data"`
	}
	hasData := false

	logger := log.With().Str("component", "relay").Str("base_url", s.BaseURL).Logger()
	result := retry.RetryWithBackoff(ctx, retry.ModelListRetryConfig(), func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.Endpoint("/models"), nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		setAuthHeaders(req, s)
		resp, err := r.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return httpError(resp, apperr.ExcerptChars)
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		hasData = json.Unmarshal(body, &listing) == nil && listing.Data != nil
		return nil
	}, &logger)

	if !result.Success {
		return CheckResult{Error: result.LastError.Error()}
	}
	if hasData {
		return CheckResult{OK: true, Message: fmt.Sprintf("models=%d", len(listing.Data))}
	}
	return CheckResult{OK: true, Message: "ok"}
}
