// Package config loads server settings from a config file, a .env file and
// SSH_MCP_* environment variables, in increasing order of precedence.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// HashAlgorithm selects the digest used for transfer verification.
type HashAlgorithm string

const (
	HashMD5    HashAlgorithm = "md5"
	HashSHA256 HashAlgorithm = "sha256"
	HashBoth   HashAlgorithm = "both"
)

// Settings holds every tunable of the server.
type Settings struct {
	LogLevel string `mapstructure:"log_level"`
	LogPath  string `mapstructure:"log_path"`

	PerHostMaxConnections int           `mapstructure:"per_host_max_connections"`
	ConnectTimeout        time.Duration `mapstructure:"connect_timeout"`
	CommandTimeout        time.Duration `mapstructure:"command_timeout"`
	IdleConnectionTTL     time.Duration `mapstructure:"idle_connection_ttl"`

	CacheMaxSize  int           `mapstructure:"cache_max_size"`
	StaticTTL     time.Duration `mapstructure:"static_ttl"`
	DynamicTTL    time.Duration `mapstructure:"dynamic_ttl"`

	HashAlgorithm    HashAlgorithm `mapstructure:"hash_algorithm"`
	DefaultChunkSize int           `mapstructure:"default_chunk_size"`

	// Regex patterns that bypass the command safety checks entirely.
	SafetyWhitelist []string `mapstructure:"safety_whitelist"`

	CredentialFile string `mapstructure:"credential_file"`
}

const envPrefix = "SSH_MCP"

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("log_path", "/tmp/sshmcp.log")
	v.SetDefault("per_host_max_connections", 5)
	v.SetDefault("connect_timeout", 10*time.Second)
	v.SetDefault("command_timeout", 30*time.Second)
	v.SetDefault("idle_connection_ttl", 5*time.Minute)
	v.SetDefault("cache_max_size", 128)
	v.SetDefault("static_ttl", time.Hour)
	v.SetDefault("dynamic_ttl", 2*time.Minute)
	v.SetDefault("hash_algorithm", string(HashMD5))
	v.SetDefault("default_chunk_size", 8192)
	v.SetDefault("safety_whitelist", []string{})
	v.SetDefault("credential_file", "")
}

// Load reads settings. configFile may be empty; a .env in the working
// directory is honored when present.
func Load(configFile string) (*Settings, error) {
	// godotenv only fills env vars that are not already set, so real
	// environment always wins over .env.
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Default returns settings with every default applied and nothing read from
// the environment. Used by tests.
func Default() *Settings {
	v := viper.New()
	setDefaults(v)
	var s Settings
	// Defaults always unmarshal cleanly.
	_ = v.Unmarshal(&s)
	return &s
}

// Validate rejects settings the rest of the system cannot operate under.
func (s *Settings) Validate() error {
	if s.PerHostMaxConnections < 1 {
		return fmt.Errorf("per_host_max_connections must be >= 1, got %d", s.PerHostMaxConnections)
	}
	if s.CommandTimeout <= 0 {
		return fmt.Errorf("command_timeout must be positive, got %v", s.CommandTimeout)
	}
	if s.IdleConnectionTTL <= 0 {
		return fmt.Errorf("idle_connection_ttl must be positive, got %v", s.IdleConnectionTTL)
	}
	switch s.HashAlgorithm {
	case HashMD5, HashSHA256, HashBoth:
	default:
		return fmt.Errorf("invalid hash_algorithm: %q", s.HashAlgorithm)
	}
	return nil
}
