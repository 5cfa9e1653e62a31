package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSettings(t *testing.T) {
	s := Default()

	assert.Equal(t, "info", s.LogLevel)
	assert.Equal(t, 5, s.PerHostMaxConnections)
	assert.Equal(t, 10*time.Second, s.ConnectTimeout)
	assert.Equal(t, 30*time.Second, s.CommandTimeout)
	assert.Equal(t, 5*time.Minute, s.IdleConnectionTTL)
	assert.Equal(t, 128, s.CacheMaxSize)
	assert.Equal(t, time.Hour, s.StaticTTL)
	assert.Equal(t, 2*time.Minute, s.DynamicTTL)
	assert.Equal(t, HashMD5, s.HashAlgorithm)
	assert.Equal(t, 8192, s.DefaultChunkSize)
	assert.Empty(t, s.SafetyWhitelist)

	require.NoError(t, s.Validate())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("SSH_MCP_PER_HOST_MAX_CONNECTIONS", "9")
	t.Setenv("SSH_MCP_COMMAND_TIMEOUT", "45s")
	t.Setenv("SSH_MCP_LOG_LEVEL", "debug")

	s, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9, s.PerHostMaxConnections)
	assert.Equal(t, 45*time.Second, s.CommandTimeout)
	assert.Equal(t, "debug", s.LogLevel)
	// Untouched settings keep their defaults.
	assert.Equal(t, 128, s.CacheMaxSize)
}

func TestLoadRejectsMissingConfigFile(t *testing.T) {
	_, err := Load("/nonexistent/sshmcp.yaml")
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr bool
	}{
		{"defaults are valid", func(s *Settings) {}, false},
		{"zero per-host limit", func(s *Settings) { s.PerHostMaxConnections = 0 }, true},
		{"negative command timeout", func(s *Settings) { s.CommandTimeout = -time.Second }, true},
		{"zero idle ttl", func(s *Settings) { s.IdleConnectionTTL = 0 }, true},
		{"bad hash algorithm", func(s *Settings) { s.HashAlgorithm = "crc32" }, true},
		{"sha256 is valid", func(s *Settings) { s.HashAlgorithm = HashSHA256 }, false},
		{"both is valid", func(s *Settings) { s.HashAlgorithm = HashBoth }, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := Default()
			tc.mutate(s)
			err := s.Validate()
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
