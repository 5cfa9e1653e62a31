// Package auth resolves stored SSH credentials from a JSON credential file
// so callers do not have to pass secrets on every tool invocation.
package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/mitchellh/go-homedir"

	"github.com/sshmcp-project/sshmcp/pkg/sshclient"
)

type storedCredential struct {
	Host           string `json:"host"`
	Username       string `json:"username"`
	Password       string `json:"password,omitempty"`
	PrivateKeyPath string `json:"private_key_path,omitempty"`
}

// Store holds credentials loaded from a credential file. A zero Store
// resolves nothing.
type Store struct {
	mu      sync.RWMutex
	entries map[string]storedCredential
}

func key(host, username string) string {
	return host + "|" + username
}

// Load reads a credential file. An empty path yields an empty store; a
// missing file at a configured path is an error.
func Load(path string) (*Store, error) {
	s := &Store{entries: make(map[string]storedCredential)}
	if path == "" {
		return s, nil
	}

	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("failed to expand credential file path: %w", err)
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		return nil, fmt.Errorf("failed to read credential file %s: %w", expanded, err)
	}

	var creds []storedCredential
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("failed to parse credential file %s: %w", expanded, err)
	}
	for _, c := range creds {
		s.entries[key(c.Host, c.Username)] = c
	}
	return s, nil
}

// Lookup returns the stored credentials for host and username.
func (s *Store) Lookup(host, username string) (sshclient.Credentials, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.entries[key(host, username)]
	if !ok || (c.Password == "" && c.PrivateKeyPath == "") {
		return sshclient.Credentials{}, false
	}
	return sshclient.Credentials{
		Username:       username,
		Password:       c.Password,
		PrivateKeyPath: c.PrivateKeyPath,
	}, true
}
