// Package testutil provides common test utilities and assertions.
package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	rserrors "github.com/reglet-dev/rootscope/domain/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// AssertJSONEqual compares two JSON strings for equality, ignoring formatting
func AssertJSONEqual(t *testing.T, expected, actual string, msgAndArgs ...interface{}) {
	t.Helper()

	var expectedJSON, actualJSON interface{}
	require.NoError(t, json.Unmarshal([]byte(expected), &expectedJSON), "expected JSON is invalid")
	require.NoError(t, json.Unmarshal([]byte(actual), &actualJSON), "actual JSON is invalid")

	assert.Equal(t, expectedJSON, actualJSON, msgAndArgs...)
}

// WriteFile writes content to name inside a fresh temp dir and returns the path.
func WriteFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// AssertStale asserts that every ref fails its validity check with a stale
// handle error.
func AssertStale(t *testing.T, refs ...rserrors.Ref) {
	t.Helper()
	for i, r := range refs {
		_, err := r.Handle()
		assert.ErrorIs(t, err, rserrors.ErrStaleHandle, "ref %d", i)
	}
}

// AssertLive asserts that every ref still resolves.
func AssertLive(t *testing.T, refs ...rserrors.Ref) {
	t.Helper()
	for i, r := range refs {
		_, err := r.Handle()
		assert.NoError(t, err, "ref %d", i)
	}
}

// RequireErrorDetail asserts err converts to a detail of the given type and code.
func RequireErrorDetail(t *testing.T, err error, typ, code string) {
	t.Helper()
	require.Error(t, err)
	d := rserrors.ToErrorDetail(err)
	require.NotNil(t, d)
	assert.Equal(t, typ, d.Type, "detail type of %v", err)
	assert.Equal(t, code, d.Code, "detail code of %v", err)
}
