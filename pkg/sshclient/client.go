package sshclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/sshmcp-project/sshmcp/pkg/logger"
)

// clientWrapper adapts *ssh.Client to the Client interface and tracks
// transport liveness without a network round trip.
type clientWrapper struct {
	client *ssh.Client
	closed atomic.Bool
}

func newClientWrapper(client *ssh.Client) *clientWrapper {
	w := &clientWrapper{client: client}
	go func() {
		// Wait returns once the transport is gone, for any reason.
		_ = client.Wait()
		w.closed.Store(true)
	}()
	return w
}

func (w *clientWrapper) Alive() bool {
	return !w.closed.Load()
}

func (w *clientWrapper) Close() error {
	w.closed.Store(true)
	return w.client.Close()
}

func (w *clientWrapper) NewSFTP() (*sftp.Client, error) {
	return sftp.NewClient(w.client)
}

func (w *clientWrapper) Run(
	ctx context.Context,
	command string,
	opts RunOptions,
) (*Result, error) {
	session, err := w.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if opts.Stdin != "" {
		session.Stdin = bytes.NewBufferString(opts.Stdin)
	}

	if err := session.Start(command); err != nil {
		return nil, fmt.Errorf("failed to start command: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	var timeout <-chan time.Time
	if opts.Timeout > 0 {
		timer := time.NewTimer(opts.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-ctx.Done():
		_ = session.Close()
		return nil, ctx.Err()
	case <-timeout:
		// Abandon the call; the connection's health is re-checked by the
		// pool on the next checkout.
		_ = session.Close()
		return nil, fmt.Errorf("command timed out after %v: %s", opts.Timeout, command)
	case err := <-done:
		return resultFromWait(stdout.String(), stderr.String(), err)
	}
}

func resultFromWait(stdout, stderr string, err error) (*Result, error) {
	res := &Result{Stdout: stdout, Stderr: stderr}
	if err == nil {
		return res, nil
	}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		res.ExitStatus = exitErr.ExitStatus()
		return res, nil
	}

	var missingErr *ssh.ExitMissingError
	if errors.As(err, &missingErr) {
		// Remote closed without reporting a status. Treat like a failed
		// command rather than a transport error.
		logger.Get().Debugf("remote exited without status: %v", err)
		res.ExitStatus = -1
		return res, nil
	}

	return nil, fmt.Errorf("command wait failed: %w", err)
}
