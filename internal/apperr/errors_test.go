package apperr

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPErrorMessage(t *testing.T) {
	err := HTTP("PR diff", 404, "Not Found", "  page missing  ", 0)
	assert.Equal(t, "PR diff HTTP 404 Not Found: page missing", err.Error())
	assert.Equal(t, KindHTTP, err.Kind)
}

func TestHTTPErrorExcerptIsBounded(t *testing.T) {
	err := HTTP("op", 500, "", strings.Repeat("x", 500), 10)
	assert.Equal(t, "xxxxxxxxxx", err.Excerpt)
}

func TestQueryErrorDefaultsMessage(t *testing.T) {
	err := Query("GitHub GraphQL", "")
	assert.Equal(t, "GitHub GraphQL: unknown error", err.Error())
}

func TestKindSurvivesWrapping(t *testing.T) {
	wrapped := fmt.Errorf("loading: %w", NotFound("PR metadata", "pull request not visible"))
	assert.True(t, IsKind(wrapped, KindNotFound))
	assert.False(t, IsKind(wrapped, KindHTTP))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.False(t, IsKind(nil, KindNotFound))
}

func TestMalformedUnwraps(t *testing.T) {
	cause := errors.New("unexpected EOF")
	err := Malformed("GitHub GraphQL", cause)
	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "invalid JSON response")
}

func TestPermissionAndConfigMessages(t *testing.T) {
	assert.Equal(t, "Missing host permission: https://api.example.com/*", PermissionMissing("https://api.example.com/*").Error())
	assert.Equal(t, "API key is missing", ConfigMissing("API key is missing").Error())
}
