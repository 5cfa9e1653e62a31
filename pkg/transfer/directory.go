package transfer

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/sshmcp-project/sshmcp/pkg/sshclient"
)

// Listing is one page of a remote directory.
type Listing struct {
	Host          string   `json:"host"`
	Port          int      `json:"port"`
	Path          string   `json:"path"`
	Page          int      `json:"page"`
	PageSize      int      `json:"page_size"`
	Total         int      `json:"total"`
	Items         []string `json:"items"`
	FilterPattern string   `json:"filter_pattern,omitempty"`
}

// ListDirectory lists a remote directory, sorted by name, with optional
// regex filtering and 1-based pagination. Total counts entries after
// filtering.
func (m *Manager) ListDirectory(
	ctx context.Context,
	target sshclient.Target,
	creds sshclient.Credentials,
	path string,
	page, pageSize int,
	filterPattern string,
) (*Listing, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("path cannot be empty")
	}
	if page < 1 {
		return nil, fmt.Errorf("page must be >= 1, got %d", page)
	}
	if pageSize < 1 {
		return nil, fmt.Errorf("page_size must be >= 1, got %d", pageSize)
	}

	var filter *regexp.Regexp
	if filterPattern != "" {
		var err error
		if filter, err = regexp.Compile(filterPattern); err != nil {
			return nil, fmt.Errorf("invalid filter pattern: %w", err)
		}
	}

	var names []string
	err := m.pool.WithConn(ctx, target, creds, func(conn sshclient.Client) error {
		client, err := conn.NewSFTP()
		if err != nil {
			return fmt.Errorf("failed to open sftp channel: %w", err)
		}
		defer client.Close()

		entries, err := client.ReadDir(path)
		if err != nil {
			return fmt.Errorf("failed to list %s: %w", path, err)
		}
		for _, entry := range entries {
			names = append(names, entry.Name())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(names)
	if filter != nil {
		filtered := names[:0]
		for _, name := range names {
			if filter.MatchString(name) {
				filtered = append(filtered, name)
			}
		}
		names = filtered
	}

	total := len(names)
	start := (page - 1) * pageSize
	items := []string{}
	if start < total {
		end := start + pageSize
		if end > total {
			end = total
		}
		items = names[start:end]
	}

	return &Listing{
		Host:          target.Host,
		Port:          target.Port,
		Path:          path,
		Page:          page,
		PageSize:      pageSize,
		Total:         total,
		Items:         items,
		FilterPattern: filterPattern,
	}, nil
}
