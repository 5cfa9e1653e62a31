package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sshmcp-project/sshmcp/pkg/config"
	"github.com/sshmcp-project/sshmcp/pkg/logger"
	"github.com/sshmcp-project/sshmcp/pkg/pool"
	"github.com/sshmcp-project/sshmcp/pkg/sshclient"
)

func TestMain(m *testing.M) {
	logger.SetGlobalLogger(logger.NewNopLogger())
	os.Exit(m.Run())
}

var echoMarkerRe = regexp.MustCompile(`^echo (__SSHMCP_DONE_[0-9a-f]+__)\$\?(__SSHMCP_DONE_[0-9a-f]+__)$`)

// fakeShell emulates a bash session: it reads wrapped commands from stdin
// and answers with the sentinel frame on stdout, keeping a working
// directory between commands.
type fakeShell struct {
	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	stderrR *io.PipeReader
	stderrW *io.PipeWriter

	cwd        string
	termOnce   sync.Once
	terminated atomic.Bool
}

func newFakeShell() *fakeShell {
	s := &fakeShell{cwd: "/root"}
	s.stdinR, s.stdinW = io.Pipe()
	s.stdoutR, s.stdoutW = io.Pipe()
	s.stderrR, s.stderrW = io.Pipe()
	go s.loop()
	return s
}

func (s *fakeShell) Stdin() io.Writer  { return s.stdinW }
func (s *fakeShell) Stdout() io.Reader { return s.stdoutR }
func (s *fakeShell) Stderr() io.Reader { return s.stderrR }

func (s *fakeShell) Terminate() error {
	s.termOnce.Do(func() {
		s.terminated.Store(true)
		s.stdinW.Close()
		s.stdoutW.Close()
		s.stderrW.Close()
	})
	return nil
}

func (s *fakeShell) loop() {
	scanner := bufio.NewScanner(s.stdinR)
	var pendingOut string
	var pendingCode int
	silent := false

	for scanner.Scan() {
		line := scanner.Text()

		if m := echoMarkerRe.FindStringSubmatch(line); m != nil {
			if !silent {
				fmt.Fprintf(s.stdoutW, "%s%s%d%s", pendingOut, m[1], pendingCode, m[1])
			}
			pendingOut, pendingCode, silent = "", 0, false
			continue
		}

		switch {
		case line == "exit":
		case strings.HasPrefix(line, "cd "):
			s.cwd = strings.TrimSpace(strings.TrimPrefix(line, "cd "))
		case line == "pwd":
			pendingOut = s.cwd + "\n"
		case strings.HasPrefix(line, "echo "):
			pendingOut = strings.TrimPrefix(line, "echo ") + "\n"
		case line == "hang":
			silent = true
		case line == "fail":
			pendingCode = 1
			s.stderrW.Write([]byte("fail: expected error\n"))
		}
	}
}

type fakeShellClient struct {
	alive  atomic.Bool
	shells []*fakeShell
	mu     sync.Mutex
}

func newFakeShellClient() *fakeShellClient {
	c := &fakeShellClient{}
	c.alive.Store(true)
	return c
}

func (c *fakeShellClient) Run(ctx context.Context, command string, opts sshclient.RunOptions) (*sshclient.Result, error) {
	return nil, errors.New("not supported")
}

func (c *fakeShellClient) StartShell(ctx context.Context) (sshclient.ShellProcess, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	shell := newFakeShell()
	c.shells = append(c.shells, shell)
	return shell, nil
}

func (c *fakeShellClient) NewSFTP() (*sftp.Client, error) { return nil, errors.New("not supported") }
func (c *fakeShellClient) Alive() bool                    { return c.alive.Load() }
func (c *fakeShellClient) Close() error {
	c.alive.Store(false)
	return nil
}

type fakeShellDialer struct {
	mu      sync.Mutex
	dials   int
	clients []*fakeShellClient
}

func (d *fakeShellDialer) Dial(ctx context.Context, target sshclient.Target, creds sshclient.Credentials) (sshclient.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	client := newFakeShellClient()
	d.clients = append(d.clients, client)
	return client, nil
}

func (d *fakeShellDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func newTestManager(t *testing.T, mutate func(*config.Settings)) (*Manager, *fakeShellDialer) {
	t.Helper()
	settings := config.Default()
	if mutate != nil {
		mutate(settings)
	}

	dialer := &fakeShellDialer{}
	p := pool.New(settings, dialer)
	t.Cleanup(func() { _ = p.CloseAll() })

	return NewManager(settings, p), dialer
}

var (
	testTarget = sshclient.Target{Host: "10.0.0.1", Port: 22}
	testCreds  = sshclient.Credentials{Username: "ubuntu", Password: "pw"}
)

func TestRunFramesOutputAndExitStatus(t *testing.T) {
	m, _ := newTestManager(t, nil)
	ctx := context.Background()

	res, err := m.Run(ctx, testTarget, testCreds, "echo hello", "", false)
	require.NoError(t, err)
	assert.NotEmpty(t, res.SessionID)
	assert.Equal(t, "hello\n", res.Stdout)
	assert.Equal(t, 0, res.ExitStatus)
	assert.False(t, res.Closed)
}

func TestRunReportsNonZeroExit(t *testing.T) {
	m, _ := newTestManager(t, nil)
	ctx := context.Background()

	res, err := m.Run(ctx, testTarget, testCreds, "fail", "", false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ExitStatus)
	assert.Equal(t, "fail: expected error\n", res.Stderr)
}

func TestSessionKeepsStateBetweenCommands(t *testing.T) {
	m, dialer := newTestManager(t, nil)
	ctx := context.Background()

	res, err := m.Run(ctx, testTarget, testCreds, "cd /tmp", "", false)
	require.NoError(t, err)
	id := res.SessionID

	res, err = m.Run(ctx, testTarget, testCreds, "pwd", id, false)
	require.NoError(t, err)
	assert.Equal(t, id, res.SessionID)
	assert.Equal(t, "/tmp\n", res.Stdout)

	// Both commands ran on the same shell over the same connection.
	assert.Equal(t, 1, dialer.dialCount())
	assert.Len(t, dialer.clients[0].shells, 1)
}

func TestEmptyCommandIsRejected(t *testing.T) {
	m, _ := newTestManager(t, nil)

	_, err := m.Run(context.Background(), testTarget, testCreds, "   ", "", false)
	require.Error(t, err)

	var sessErr *Error
	assert.True(t, errors.As(err, &sessErr))
}

func TestCloseSessionReleasesLeaseForReuse(t *testing.T) {
	m, dialer := newTestManager(t, nil)
	ctx := context.Background()

	res, err := m.Run(ctx, testTarget, testCreds, "pwd", "", false)
	require.NoError(t, err)
	id := res.SessionID
	require.Equal(t, 1, m.Count())

	closed, err := m.Run(ctx, testTarget, testCreds, "", id, true)
	require.NoError(t, err)
	assert.True(t, closed.Closed)
	assert.Equal(t, id, closed.SessionID)
	assert.Equal(t, 0, m.Count())
	assert.True(t, dialer.clients[0].shells[0].terminated.Load())

	// The connection went back to the pool: a new session reuses it.
	_, err = m.Run(ctx, testTarget, testCreds, "pwd", "", false)
	require.NoError(t, err)
	assert.Equal(t, 1, dialer.dialCount())
}

func TestRunTimeoutKeepsSessionAlive(t *testing.T) {
	m, _ := newTestManager(t, func(s *config.Settings) {
		s.CommandTimeout = 100 * time.Millisecond
	})
	ctx := context.Background()

	res, err := m.Run(ctx, testTarget, testCreds, "pwd", "", false)
	require.NoError(t, err)
	id := res.SessionID

	_, err = m.Run(ctx, testTarget, testCreds, "hang", id, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))

	// The session survived the timeout and still works.
	res, err = m.Run(ctx, testTarget, testCreds, "pwd", id, false)
	require.NoError(t, err)
	assert.Equal(t, "/root\n", res.Stdout)
	assert.Equal(t, 1, m.Count())
}

func TestIdleSessionsAreReaped(t *testing.T) {
	m, dialer := newTestManager(t, nil)
	ctx := context.Background()

	now := time.Unix(1000, 0)
	m.SetNowFunc(func() time.Time { return now })

	res, err := m.Run(ctx, testTarget, testCreds, "pwd", "", false)
	require.NoError(t, err)
	staleID := res.SessionID

	// The next call finds the first session idle past the TTL and closes
	// it before doing its own work.
	now = now.Add(m.settings.IdleConnectionTTL + time.Second)
	res, err = m.Run(ctx, testTarget, testCreds, "pwd", "", false)
	require.NoError(t, err)
	assert.NotEqual(t, staleID, res.SessionID)
	assert.Equal(t, 1, m.Count())
	assert.True(t, dialer.clients[0].shells[0].terminated.Load())
}

func TestCloseAllClosesEverySession(t *testing.T) {
	m, _ := newTestManager(t, nil)
	ctx := context.Background()

	_, err := m.Run(ctx, testTarget, testCreds, "pwd", "", false)
	require.NoError(t, err)
	other := sshclient.Credentials{Username: "admin", Password: "pw"}
	_, err = m.Run(ctx, testTarget, other, "pwd", "", false)
	require.NoError(t, err)

	assert.Equal(t, 2, m.CloseAll())
	assert.Equal(t, 0, m.Count())
}
