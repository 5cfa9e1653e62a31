// Package transfer moves files over SFTP with chunked reads, optional
// resume and digest verification against the remote md5sum/sha256sum
// tools.
package transfer

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/sshmcp-project/sshmcp/pkg/config"
	"github.com/sshmcp-project/sshmcp/pkg/pool"
	"github.com/sshmcp-project/sshmcp/pkg/sshclient"
)

// ProgressFunc receives (transferred, total) byte counts as a transfer
// advances.
type ProgressFunc func(transferred, total int64)

// Options tune a single transfer. Zero values fall back to settings.
type Options struct {
	ChunkSize int
	Resume    bool
	// Verify computes local digests and compares them against the remote
	// file using the algorithm from settings.
	Verify   bool
	Progress ProgressFunc
}

// Result reports a completed transfer. Digest fields are empty when
// verification was disabled; a nil match means the remote digest could not
// be obtained.
type Result struct {
	Host             string `json:"host"`
	Port             int    `json:"port"`
	LocalPath        string `json:"local_path"`
	RemotePath       string `json:"remote_path"`
	BytesTransferred int64  `json:"bytes_transferred"`
	TotalBytes       int64  `json:"total_bytes"`
	Resumed          bool   `json:"resumed"`

	MD5Local     string `json:"md5_local,omitempty"`
	MD5Remote    string `json:"md5_remote,omitempty"`
	MD5Match     *bool  `json:"md5_match,omitempty"`
	SHA256Local  string `json:"sha256_local,omitempty"`
	SHA256Remote string `json:"sha256_remote,omitempty"`
	SHA256Match  *bool  `json:"sha256_match,omitempty"`
}

// FileInfo is the remote stat of one path.
type FileInfo struct {
	Path        string `json:"path"`
	Size        int64  `json:"size"`
	Permissions string `json:"permissions"`
	ModTime     int64  `json:"mtime"`
	IsDir       bool   `json:"is_dir"`
}

// Manager runs SFTP operations over pooled connections.
type Manager struct {
	settings *config.Settings
	pool     *pool.Pool
}

func NewManager(settings *config.Settings, p *pool.Pool) *Manager {
	return &Manager{settings: settings, pool: p}
}

// Upload copies a local file to the remote host. With Resume set and a
// shorter remote file already present, the upload appends from the remote
// size; digests still cover the whole file.
func (m *Manager) Upload(
	ctx context.Context,
	target sshclient.Target,
	creds sshclient.Credentials,
	localPath, remotePath string,
	opts Options,
) (*Result, error) {
	local, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open local file %s: %w", localPath, err)
	}
	defer local.Close()

	stat, err := local.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat local file %s: %w", localPath, err)
	}
	if stat.IsDir() {
		return nil, fmt.Errorf("local path %s is a directory", localPath)
	}
	totalBytes := stat.Size()
	chunkSize := m.chunkSize(opts.ChunkSize)
	digests := m.newDigests(opts.Verify)

	result := &Result{
		Host:       target.Host,
		Port:       target.Port,
		LocalPath:  localPath,
		RemotePath: remotePath,
		TotalBytes: totalBytes,
	}

	err = m.pool.WithConn(ctx, target, creds, func(conn sshclient.Client) error {
		client, err := conn.NewSFTP()
		if err != nil {
			return fmt.Errorf("failed to open sftp channel: %w", err)
		}
		defer client.Close()

		var startOffset int64
		if opts.Resume {
			if attrs, err := client.Stat(remotePath); err == nil {
				if size := attrs.Size(); size > 0 && size < totalBytes {
					startOffset = size
					result.Resumed = true
				}
			}
		}

		if startOffset > 0 {
			// The digest must cover the part already uploaded, so the
			// prefix is read through the hashers rather than skipped.
			if digests != nil {
				if _, err := io.CopyN(digests.writer(), local, startOffset); err != nil {
					return fmt.Errorf("failed to hash uploaded prefix: %w", err)
				}
			} else if _, err := local.Seek(startOffset, io.SeekStart); err != nil {
				return fmt.Errorf("failed to seek local file: %w", err)
			}
			result.BytesTransferred = startOffset
		}

		flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
		if result.Resumed {
			flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
		}
		remote, err := client.OpenFile(remotePath, flags)
		if err != nil {
			return fmt.Errorf("failed to open remote file %s: %w", remotePath, err)
		}
		defer remote.Close()

		return copyChunks(remote, local, chunkSize, digests, totalBytes,
			&result.BytesTransferred, opts.Progress)
	})
	if err != nil {
		return nil, err
	}

	if digests != nil {
		if err := m.verify(ctx, target, creds, remotePath, digests, result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// Download copies a remote file to the local filesystem, creating parent
// directories as needed.
func (m *Manager) Download(
	ctx context.Context,
	target sshclient.Target,
	creds sshclient.Credentials,
	remotePath, localPath string,
	opts Options,
) (*Result, error) {
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create local directory: %w", err)
	}

	chunkSize := m.chunkSize(opts.ChunkSize)
	digests := m.newDigests(opts.Verify)

	result := &Result{
		Host:       target.Host,
		Port:       target.Port,
		LocalPath:  localPath,
		RemotePath: remotePath,
	}

	err := m.pool.WithConn(ctx, target, creds, func(conn sshclient.Client) error {
		client, err := conn.NewSFTP()
		if err != nil {
			return fmt.Errorf("failed to open sftp channel: %w", err)
		}
		defer client.Close()

		attrs, err := client.Stat(remotePath)
		if err != nil {
			return fmt.Errorf("failed to stat remote file %s: %w", remotePath, err)
		}
		result.TotalBytes = attrs.Size()

		var startOffset int64
		if opts.Resume {
			if stat, err := os.Stat(localPath); err == nil && !stat.IsDir() {
				if size := stat.Size(); size > 0 && size < result.TotalBytes {
					startOffset = size
					result.Resumed = true
				}
			}
		}

		if result.Resumed && digests != nil {
			existing, err := os.Open(localPath)
			if err != nil {
				return fmt.Errorf("failed to open partial download: %w", err)
			}
			_, err = io.CopyN(digests.writer(), existing, startOffset)
			existing.Close()
			if err != nil {
				return fmt.Errorf("failed to hash downloaded prefix: %w", err)
			}
		}

		flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
		if result.Resumed {
			flags = os.O_WRONLY | os.O_APPEND
		}
		local, err := os.OpenFile(localPath, flags, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open local file %s: %w", localPath, err)
		}
		defer local.Close()

		remote, err := client.Open(remotePath)
		if err != nil {
			return fmt.Errorf("failed to open remote file %s: %w", remotePath, err)
		}
		defer remote.Close()

		if startOffset > 0 {
			if _, err := remote.Seek(startOffset, io.SeekStart); err != nil {
				return fmt.Errorf("failed to seek remote file: %w", err)
			}
			result.BytesTransferred = startOffset
		}

		return copyChunks(local, remote, chunkSize, digests, result.TotalBytes,
			&result.BytesTransferred, opts.Progress)
	})
	if err != nil {
		return nil, err
	}

	if digests != nil {
		if err := m.verify(ctx, target, creds, remotePath, digests, result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// Stat returns remote file metadata.
func (m *Manager) Stat(
	ctx context.Context,
	target sshclient.Target,
	creds sshclient.Credentials,
	path string,
) (*FileInfo, error) {
	var info *FileInfo
	err := m.pool.WithConn(ctx, target, creds, func(conn sshclient.Client) error {
		client, err := conn.NewSFTP()
		if err != nil {
			return fmt.Errorf("failed to open sftp channel: %w", err)
		}
		defer client.Close()

		attrs, err := client.Stat(path)
		if err != nil {
			return fmt.Errorf("failed to stat %s: %w", path, err)
		}
		info = &FileInfo{
			Path:        path,
			Size:        attrs.Size(),
			Permissions: attrs.Mode().String(),
			ModTime:     attrs.ModTime().Unix(),
			IsDir:       attrs.IsDir(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

func (m *Manager) chunkSize(requested int) int {
	if requested > 0 {
		return requested
	}
	if m.settings.DefaultChunkSize > 0 {
		return m.settings.DefaultChunkSize
	}
	return 8192
}

// copyChunks streams src into dst one chunk at a time, feeding the hashers
// and the progress callback as it goes.
func copyChunks(
	dst io.Writer,
	src io.Reader,
	chunkSize int,
	digests *digestSet,
	totalBytes int64,
	transferred *int64,
	progress ProgressFunc,
) error {
	out := dst
	if digests != nil {
		out = io.MultiWriter(dst, digests.writer())
	}

	buf := make([]byte, chunkSize)
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := out.Write(buf[:n]); err != nil {
				return fmt.Errorf("transfer write failed: %w", err)
			}
			*transferred += int64(n)
			if progress != nil {
				progress(*transferred, totalBytes)
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("transfer read failed: %w", readErr)
		}
	}
}

type digestSet struct {
	md5h    hash.Hash
	sha256h hash.Hash
}

func (m *Manager) newDigests(verify bool) *digestSet {
	if !verify {
		return nil
	}
	d := &digestSet{}
	switch m.settings.HashAlgorithm {
	case config.HashSHA256:
		d.sha256h = sha256.New()
	case config.HashBoth:
		d.md5h = md5.New()
		d.sha256h = sha256.New()
	default:
		d.md5h = md5.New()
	}
	return d
}

func (d *digestSet) writer() io.Writer {
	switch {
	case d.md5h != nil && d.sha256h != nil:
		return io.MultiWriter(d.md5h, d.sha256h)
	case d.sha256h != nil:
		return d.sha256h
	default:
		return d.md5h
	}
}

// verify fills the result's digest fields, fetching the remote side's
// digest over a pooled connection. A missing remote tool leaves the match
// flag nil rather than failing the transfer.
func (m *Manager) verify(
	ctx context.Context,
	target sshclient.Target,
	creds sshclient.Credentials,
	remotePath string,
	digests *digestSet,
	result *Result,
) error {
	if digests.md5h != nil {
		result.MD5Local = hex.EncodeToString(digests.md5h.Sum(nil))
		remote, err := m.remoteDigest(ctx, target, creds, remotePath, "md5sum", 32)
		if err != nil {
			return err
		}
		result.MD5Remote = remote
		if remote != "" {
			match := remote == result.MD5Local
			result.MD5Match = &match
		}
	}
	if digests.sha256h != nil {
		result.SHA256Local = hex.EncodeToString(digests.sha256h.Sum(nil))
		remote, err := m.remoteDigest(ctx, target, creds, remotePath, "sha256sum", 64)
		if err != nil {
			return err
		}
		result.SHA256Remote = remote
		if remote != "" {
			match := remote == result.SHA256Local
			result.SHA256Match = &match
		}
	}
	return nil
}

func (m *Manager) remoteDigest(
	ctx context.Context,
	target sshclient.Target,
	creds sshclient.Credentials,
	remotePath string,
	tool string,
	hexLen int,
) (string, error) {
	quoted := shellQuote(remotePath)
	cmd := fmt.Sprintf("%s -- %s 2>/dev/null || %s %s 2>/dev/null || true",
		tool, quoted, tool, quoted)

	var stdout string
	err := m.pool.WithConn(ctx, target, creds, func(conn sshclient.Client) error {
		res, err := conn.Run(ctx, cmd, sshclient.RunOptions{
			Timeout: m.settings.CommandTimeout,
		})
		if err != nil {
			return err
		}
		stdout = res.Stdout
		return nil
	})
	if err != nil {
		return "", err
	}

	fields := strings.Fields(stdout)
	if len(fields) == 0 {
		return "", nil
	}
	hexRe := regexp.MustCompile(fmt.Sprintf("^[a-fA-F0-9]{%d}$", hexLen))
	if !hexRe.MatchString(fields[0]) {
		return "", nil
	}
	return strings.ToLower(fields[0]), nil
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
