// Package session maintains persistent interactive shells over leased pool
// connections, framing command output with single-use sentinel markers.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sshmcp-project/sshmcp/pkg/config"
	"github.com/sshmcp-project/sshmcp/pkg/logger"
	"github.com/sshmcp-project/sshmcp/pkg/pool"
	"github.com/sshmcp-project/sshmcp/pkg/sshclient"
)

const markerPrefix = "__SSHMCP_DONE_"

// ErrTimeout is wrapped into an *Error when the sentinel never shows up
// within the command timeout. The shell is not killed: the call fails but
// the session stays usable, with best-effort state.
var ErrTimeout = errors.New("interactive command timed out")

// Error is a session-scoped failure carrying the session id.
type Error struct {
	SessionID string
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("session %s: %v", e.SessionID, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Result is the outcome of one interactive call.
type Result struct {
	SessionID  string `json:"session_id"`
	ExitStatus int    `json:"exit_status"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	Closed     bool   `json:"closed"`
}

// Session binds one leased connection and one live shell process. It moves
// absent -> active -> closed; closing is destructive and final.
type Session struct {
	id       string
	lease    *pool.LeasedConnection
	proc     sshclient.ShellProcess
	lastUsed time.Time

	// runMu serializes commands on this shell; interleaving two sentinel
	// frames on one stream would be unparseable.
	runMu sync.Mutex

	outMu  sync.Mutex
	stdout []byte
	stderr []byte
	notify chan struct{}
}

// Manager owns the session registry.
type Manager struct {
	settings *config.Settings
	pool     *pool.Pool
	now      func() time.Time
	newID    func() string

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(settings *config.Settings, p *pool.Pool) *Manager {
	return &Manager{
		settings: settings,
		pool:     p,
		now:      time.Now,
		newID:    func() string { return strings.ReplaceAll(uuid.NewString(), "-", "") },
		sessions: make(map[string]*Session),
	}
}

// SetNowFunc overrides the manager's clock. Used by tests.
func (m *Manager) SetNowFunc(now func() time.Time) {
	m.now = now
}

// Run executes a command inside the session identified by sessionID,
// creating the session when needed. closeSession closes instead of running.
func (m *Manager) Run(
	ctx context.Context,
	target sshclient.Target,
	creds sshclient.Credentials,
	command string,
	sessionID string,
	closeSession bool,
) (*Result, error) {
	if strings.TrimSpace(command) == "" && !closeSession {
		return nil, &Error{SessionID: sessionID, Err: errors.New("command cannot be empty")}
	}

	// Idle leases hold per-host admission permits; reap before admitting
	// more work so they cannot starve the pool indefinitely.
	m.reapIdle()

	sess, err := m.getOrCreate(ctx, target, creds, sessionID)
	if err != nil {
		return nil, err
	}

	if closeSession {
		m.Close(sess.id)
		return &Result{SessionID: sess.id, Closed: true}, nil
	}

	sess.runMu.Lock()
	defer sess.runMu.Unlock()

	m.touch(sess)

	marker := markerPrefix + strings.ReplaceAll(uuid.NewString(), "-", "") + "__"
	wrapped := fmt.Sprintf("%s\necho %s$?%s\n", command, marker, marker)

	start := sess.outputStart()
	if _, err := io.WriteString(sess.proc.Stdin(), wrapped); err != nil {
		return nil, &Error{SessionID: sess.id, Err: fmt.Errorf("failed to write command: %w", err)}
	}

	stdout, exitStatus, err := sess.waitForFrame(ctx, start, marker, m.settings.CommandTimeout)
	if err != nil {
		return nil, &Error{SessionID: sess.id, Err: err}
	}

	m.touch(sess)
	return &Result{
		SessionID:  sess.id,
		ExitStatus: exitStatus,
		Stdout:     stdout,
		Stderr:     sess.takeStderr(),
	}, nil
}

// Close destroys a session: polite exit, terminate, release the lease back
// to the pool. Exit and terminate failures are swallowed; the lease release
// always happens.
func (m *Manager) Close(sessionID string) {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	if !ok {
		return
	}

	if _, err := io.WriteString(sess.proc.Stdin(), "exit\n"); err != nil {
		logger.Get().Debugf("polite exit failed for session %s: %v", sessionID, err)
	}
	if err := sess.proc.Terminate(); err != nil {
		logger.Get().Debugf("terminate failed for session %s: %v", sessionID, err)
	}

	// The physical connection is still reusable.
	sess.lease.Release(false)
}

// CloseAll closes every known session and returns the count closed.
func (m *Manager) CloseAll() int {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Close(id)
	}
	return len(ids)
}

// Count reports the number of active sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) getOrCreate(
	ctx context.Context,
	target sshclient.Target,
	creds sshclient.Credentials,
	sessionID string,
) (*Session, error) {
	if sessionID != "" {
		m.mu.Lock()
		if sess, ok := m.sessions[sessionID]; ok {
			sess.lastUsed = m.now()
			m.mu.Unlock()
			return sess, nil
		}
		m.mu.Unlock()
	}

	lease, err := m.pool.Lease(ctx, target, creds)
	if err != nil {
		return nil, err
	}

	proc, err := lease.Client.StartShell(ctx)
	if err != nil {
		// A failed session must not leak its lease.
		lease.Release(true)
		return nil, &Error{SessionID: sessionID, Err: fmt.Errorf("failed to start shell: %w", err)}
	}

	id := sessionID
	if id == "" {
		id = m.newID()
	}
	sess := &Session{
		id:       id,
		lease:    lease,
		proc:     proc,
		lastUsed: m.now(),
		notify:   make(chan struct{}, 1),
	}
	go sess.pump(proc.Stdout(), &sess.stdout)
	go sess.pump(proc.Stderr(), &sess.stderr)

	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()
	return sess, nil
}

func (m *Manager) touch(sess *Session) {
	m.mu.Lock()
	sess.lastUsed = m.now()
	m.mu.Unlock()
}

func (m *Manager) reapIdle() {
	ttl := m.settings.IdleConnectionTTL
	now := m.now()

	m.mu.Lock()
	var expired []string
	for id, sess := range m.sessions {
		if now.Sub(sess.lastUsed) > ttl {
			expired = append(expired, id)
		}
	}
	m.mu.Unlock()

	for _, id := range expired {
		logger.Get().Debugf("closing idle session %s", id)
		m.Close(id)
	}
}

// pump drains a stream into the session buffer so interleaved stderr never
// blocks stdout framing or gets lost.
func (s *Session) pump(r io.Reader, buf *[]byte) {
	chunk := make([]byte, 4096)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			s.outMu.Lock()
			*buf = append(*buf, chunk[:n]...)
			s.outMu.Unlock()
			select {
			case s.notify <- struct{}{}:
			default:
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *Session) outputStart() int {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	return len(s.stdout)
}

// waitForFrame blocks until both sentinel occurrences appear in the output
// written after start, or the timeout fires.
func (s *Session) waitForFrame(
	ctx context.Context,
	start int,
	marker string,
	timeout time.Duration,
) (string, int, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if stdout, code, ok := s.extractFrame(start, marker); ok {
			return stdout, code, nil
		}
		select {
		case <-s.notify:
		case <-timer.C:
			return "", 0, ErrTimeout
		case <-ctx.Done():
			return "", 0, ctx.Err()
		}
	}
}

// extractFrame parses "<stdout><marker><code><marker>" out of the buffer
// and consumes it, keeping whatever trails the frame.
func (s *Session) extractFrame(start int, marker string) (string, int, bool) {
	s.outMu.Lock()
	defer s.outMu.Unlock()

	if start > len(s.stdout) {
		start = len(s.stdout)
	}
	segment := string(s.stdout[start:])

	first := strings.Index(segment, marker)
	if first < 0 {
		return "", 0, false
	}
	rest := segment[first+len(marker):]
	second := strings.Index(rest, marker)
	if second < 0 {
		return "", 0, false
	}

	stdout := segment[:first]
	code, err := strconv.Atoi(strings.TrimSpace(rest[:second]))
	if err != nil {
		code = 0
	}

	remainder := rest[second+len(marker):]
	s.stdout = append(s.stdout[:start], remainder...)
	return stdout, code, true
}

func (s *Session) takeStderr() string {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	out := string(s.stderr)
	s.stderr = nil
	return out
}
