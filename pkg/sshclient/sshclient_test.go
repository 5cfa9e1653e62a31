package sshclient

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sshmcp-project/sshmcp/internal/testutil"
)

func testPrivateKeyPEM(t *testing.T) []byte {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
}

func TestTargetAddr(t *testing.T) {
	assert.Equal(t, "10.0.0.1:22", Target{Host: "10.0.0.1", Port: 22}.Addr())
	assert.Equal(t, "example.com:2222", Target{Host: "example.com", Port: 2222}.Addr())
}

func TestBuildClientConfig(t *testing.T) {
	t.Run("password auth", func(t *testing.T) {
		cfg, err := buildClientConfig(Credentials{Username: "u", Password: "pw"})
		require.NoError(t, err)
		assert.Equal(t, "u", cfg.User)
		assert.Len(t, cfg.Auth, 1)
		assert.Equal(t, SSHDialTimeout, cfg.Timeout)
	})

	t.Run("key material auth", func(t *testing.T) {
		cfg, err := buildClientConfig(Credentials{
			Username:           "u",
			PrivateKeyMaterial: testPrivateKeyPEM(t),
		})
		require.NoError(t, err)
		assert.Len(t, cfg.Auth, 1)
	})

	t.Run("key file auth", func(t *testing.T) {
		path, cleanup, err := testutil.WriteStringToTempFile(string(testPrivateKeyPEM(t)))
		require.NoError(t, err)
		defer cleanup()

		cfg, err := buildClientConfig(Credentials{Username: "u", PrivateKeyPath: path})
		require.NoError(t, err)
		assert.Len(t, cfg.Auth, 1)
	})

	t.Run("password and key combine", func(t *testing.T) {
		cfg, err := buildClientConfig(Credentials{
			Username:           "u",
			Password:           "pw",
			PrivateKeyMaterial: testPrivateKeyPEM(t),
		})
		require.NoError(t, err)
		assert.Len(t, cfg.Auth, 2)
	})

	t.Run("missing username", func(t *testing.T) {
		_, err := buildClientConfig(Credentials{Password: "pw"})
		require.Error(t, err)
	})

	t.Run("no auth method", func(t *testing.T) {
		_, err := buildClientConfig(Credentials{Username: "u"})
		require.Error(t, err)
	})

	t.Run("unreadable key file", func(t *testing.T) {
		_, err := buildClientConfig(Credentials{
			Username:       "u",
			PrivateKeyPath: "/nonexistent/id_rsa",
		})
		require.Error(t, err)
	})

	t.Run("garbage key material", func(t *testing.T) {
		_, err := buildClientConfig(Credentials{
			Username:           "u",
			PrivateKeyMaterial: []byte("not a key"),
		})
		require.Error(t, err)
	})
}

func TestConnectionErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewConnectionError(Target{Host: "h", Port: 22}, cause)

	var connErr *ConnectionError
	require.True(t, errors.As(err, &connErr))
	assert.Equal(t, "h", connErr.Host)
	assert.Equal(t, 22, connErr.Port)
	assert.True(t, errors.Is(err, cause))
}
