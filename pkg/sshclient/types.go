package sshclient

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/pkg/sftp"
)

// Target identifies a remote SSH endpoint.
type Target struct {
	Host string
	Port int
}

func (t Target) Addr() string {
	return fmt.Sprintf("%s:%d", t.Host, t.Port)
}

// Credentials carries everything needed to authenticate a connection.
// Password and key auth may be combined; at least one must be present.
type Credentials struct {
	Username           string
	Password           string
	PrivateKeyPath     string
	PrivateKeyMaterial []byte
}

// RunOptions controls a single remote command execution.
type RunOptions struct {
	// Stdin, when non-empty, is fed to the command's standard input.
	Stdin string
	// Timeout bounds the whole round-trip. Zero means no bound.
	Timeout time.Duration
}

// Result is the outcome of a completed remote command. A non-zero exit
// status is not an error.
type Result struct {
	ExitStatus int
	Stdout     string
	Stderr     string
}

// Client is a live, authenticated SSH connection.
type Client interface {
	// Run executes a command and waits for it to finish.
	Run(ctx context.Context, command string, opts RunOptions) (*Result, error)
	// StartShell starts a long-lived interactive shell with a PTY.
	StartShell(ctx context.Context) (ShellProcess, error)
	// NewSFTP opens an SFTP subsystem channel on this connection.
	NewSFTP() (*sftp.Client, error)
	// Alive reports whether the underlying transport is still open. It
	// must be cheap: callers invoke it under locks.
	Alive() bool
	Close() error
}

// ShellProcess is a running interactive shell bound to one connection.
type ShellProcess interface {
	Stdin() io.Writer
	Stdout() io.Reader
	Stderr() io.Reader
	// Terminate forcibly ends the shell. Idempotent.
	Terminate() error
}

// Dialer establishes new SSH connections. The pool depends on this
// interface so tests can substitute fakes.
type Dialer interface {
	Dial(ctx context.Context, target Target, creds Credentials) (Client, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, target Target, creds Credentials) (Client, error)

func (f DialerFunc) Dial(ctx context.Context, target Target, creds Credentials) (Client, error) {
	return f(ctx, target, creds)
}
