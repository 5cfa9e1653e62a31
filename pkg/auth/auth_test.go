package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sshmcp-project/sshmcp/internal/testutil"
)

const testCredentialFile = `[
  {"host": "10.0.0.1", "username": "ubuntu", "password": "secret"},
  {"host": "10.0.0.2", "username": "deploy", "private_key_path": "/keys/deploy"},
  {"host": "10.0.0.3", "username": "empty"}
]`

func TestLoadAndLookup(t *testing.T) {
	path, cleanup, err := testutil.WriteStringToTempFile(testCredentialFile)
	require.NoError(t, err)
	defer cleanup()

	store, err := Load(path)
	require.NoError(t, err)

	creds, ok := store.Lookup("10.0.0.1", "ubuntu")
	require.True(t, ok)
	assert.Equal(t, "ubuntu", creds.Username)
	assert.Equal(t, "secret", creds.Password)

	creds, ok = store.Lookup("10.0.0.2", "deploy")
	require.True(t, ok)
	assert.Equal(t, "/keys/deploy", creds.PrivateKeyPath)

	_, ok = store.Lookup("10.0.0.1", "other-user")
	assert.False(t, ok, "credentials are scoped to host and username")

	// An entry with neither password nor key resolves nothing.
	_, ok = store.Lookup("10.0.0.3", "empty")
	assert.False(t, ok)
}

func TestLoadEmptyPath(t *testing.T) {
	store, err := Load("")
	require.NoError(t, err)

	_, ok := store.Lookup("anyhost", "anyone")
	assert.False(t, ok)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/credentials.json")
	require.Error(t, err)
}

func TestLoadMalformedFile(t *testing.T) {
	path, cleanup, err := testutil.WriteStringToTempFile("{not json")
	require.NoError(t, err)
	defer cleanup()

	_, err = Load(path)
	require.Error(t, err)
}
