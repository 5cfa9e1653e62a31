package sshclient

import (
	"context"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/ssh"
)

const defaultShell = "/bin/bash"

// shellProcess is an interactive shell running inside one SSH session.
type shellProcess struct {
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader
	stderr  io.Reader

	termOnce sync.Once
}

func (w *clientWrapper) StartShell(ctx context.Context) (ShellProcess, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	session, err := w.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          0,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty("xterm", 40, 120, modes); err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("failed to request pty: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("failed to open stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("failed to open stderr pipe: %w", err)
	}

	if err := session.Start(defaultShell); err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("failed to start shell: %w", err)
	}

	return &shellProcess{
		session: session,
		stdin:   stdin,
		stdout:  stdout,
		stderr:  stderr,
	}, nil
}

func (p *shellProcess) Stdin() io.Writer  { return p.stdin }
func (p *shellProcess) Stdout() io.Reader { return p.stdout }
func (p *shellProcess) Stderr() io.Reader { return p.stderr }

func (p *shellProcess) Terminate() error {
	var err error
	p.termOnce.Do(func() {
		_ = p.stdin.Close()
		_ = p.session.Signal(ssh.SIGKILL)
		err = p.session.Close()
	})
	return err
}
