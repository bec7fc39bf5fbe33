package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fast keeps a policy's decisions but shrinks its delays.
func fast(c RetryConfig) RetryConfig {
	c.BaseDelay = time.Millisecond
	c.MaxDelay = 2 * time.Millisecond
	c.Jitter = false
	return c
}

// failing returns an operation that fails with errs in order and succeeds
// once they run out.
func failing(errs ...error) (func() error, *int) {
	calls := 0
	return func() error {
		defer func() { calls++ }()
		if calls < len(errs) {
			return errs[calls]
		}
		return nil
	}, &calls
}

func TestPolicies(t *testing.T) {
	host := CodeHostRetryConfig()
	assert.Equal(t, 2, host.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, host.BaseDelay)
	require.NotNil(t, host.ShouldRetry)

	models := ModelListRetryConfig()
	assert.Equal(t, 2, models.MaxRetries)
	assert.Equal(t, 2.5, models.Multiplier)
	require.NotNil(t, models.ShouldRetry)
}

func TestCodeHostPolicy(t *testing.T) {
	tests := []struct {
		name         string
		errs         []error
		wantAttempts int
		wantSuccess  bool
	}{
		{
			name:         "first try",
			wantAttempts: 1,
			wantSuccess:  true,
		},
		{
			name:         "gateway error then metadata",
			errs:         []error{errors.New("GitHub GraphQL HTTP 502 Bad Gateway")},
			wantAttempts: 2,
			wantSuccess:  true,
		},
		{
			name:         "missing diff is final",
			errs:         []error{errors.New("PR diff HTTP 404 Not Found")},
			wantAttempts: 1,
		},
		{
			name: "rate limited every time",
			errs: []error{
				errors.New("GitHub GraphQL: API rate limit exceeded"),
				errors.New("GitHub GraphQL: API rate limit exceeded"),
				errors.New("GitHub GraphQL: API rate limit exceeded"),
				errors.New("GitHub GraphQL: API rate limit exceeded"),
			},
			wantAttempts: 3,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op, calls := failing(tt.errs...)
			res := RetryWithBackoff(context.Background(), fast(CodeHostRetryConfig()), op, nil)
			assert.Equal(t, tt.wantAttempts, res.Attempts)
			assert.Equal(t, tt.wantAttempts, *calls)
			assert.Equal(t, tt.wantSuccess, res.Success)
			if tt.wantSuccess {
				assert.NoError(t, res.LastError)
			} else {
				assert.Error(t, res.LastError)
			}
			assert.Len(t, res.RetryReasons, min(len(tt.errs), tt.wantAttempts))
		})
	}
}

func TestModelListPolicy(t *testing.T) {
	op, calls := failing(errors.New("HTTP 401 Unauthorized: invalid api key"))
	res := RetryWithBackoff(context.Background(), fast(ModelListRetryConfig()), op, nil)
	assert.False(t, res.Success)
	assert.Equal(t, 1, *calls, "a rejected key is not retried")

	op, calls = failing(errors.New("HTTP 429 Too Many Requests"), errors.New("HTTP 503 Service Unavailable"))
	logger := zerolog.Nop()
	res = RetryWithBackoff(context.Background(), fast(ModelListRetryConfig()), op, &logger)
	assert.True(t, res.Success)
	assert.Equal(t, 3, *calls)
	assert.Equal(t, []string{"HTTP 429 Too Many Requests", "HTTP 503 Service Unavailable"}, res.RetryReasons)
}

func TestRetryStopsWhenContextEnds(t *testing.T) {
	cfg := CodeHostRetryConfig()
	cfg.BaseDelay = time.Hour
	cfg.MaxDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	op, calls := failing(errors.New("connection reset by peer"), errors.New("connection reset by peer"))
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	res := RetryWithBackoff(ctx, cfg, op, nil)
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.LastError, context.Canceled)
	assert.Equal(t, 1, *calls)
}

func TestRetryWithBackoffAndReason(t *testing.T) {
	attempts := 0
	res := RetryWithBackoffAndReason(context.Background(), fast(CodeHostRetryConfig()), func() (error, string) {
		attempts++
		if attempts == 1 {
			return errors.New("raw HTTP 503 Service Unavailable"), "raw_503"
		}
		return nil, ""
	}, nil)
	assert.True(t, res.Success)
	assert.Equal(t, []string{"raw_503"}, res.RetryReasons)
}

func TestCalculateDelay(t *testing.T) {
	cfg := CodeHostRetryConfig()
	cfg.Jitter = false
	assert.Equal(t, 500*time.Millisecond, calculateDelay(cfg, 0))
	assert.Equal(t, time.Second, calculateDelay(cfg, 1))
	assert.Equal(t, 2*time.Second, calculateDelay(cfg, 2))
	assert.Equal(t, 5*time.Second, calculateDelay(cfg, 10), "capped at MaxDelay")

	cfg.Jitter = true
	for i := 0; i < 50; i++ {
		d := calculateDelay(cfg, 1)
		assert.GreaterOrEqual(t, d, 900*time.Millisecond)
		assert.LessOrEqual(t, d, 1100*time.Millisecond)
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("GitHub GraphQL HTTP 502 Bad Gateway"), true},
		{errors.New("PR diff HTTP 504 Gateway Timeout"), true},
		{errors.New("HTTP 429 Too Many Requests"), true},
		{errors.New("dial tcp: lookup api.github.com: no such host"), true},
		{errors.New("context deadline exceeded"), true},
		{errors.New("PR diff HTTP 404 Not Found"), false},
		{errors.New("HTTP 401 Unauthorized"), false},
		{errors.New("GitHub GraphQL: pull request not found (check permissions or login)"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsRetryableError(tt.err), "%v", tt.err)
	}
}
