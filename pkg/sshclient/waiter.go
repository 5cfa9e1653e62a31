package sshclient

import (
	"context"

	"github.com/cenkalti/backoff/v4"

	"github.com/sshmcp-project/sshmcp/pkg/logger"
)

// WaitForSSH repeatedly dials the target with exponential backoff until a
// connection succeeds or the deadline passes. It is a CLI-facing readiness
// probe; the connection pool itself never retries.
func WaitForSSH(
	ctx context.Context,
	dialer Dialer,
	target Target,
	creds Credentials,
) error {
	l := logger.Get()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = SSHWaitInterval
	policy.MaxElapsedTime = SSHWaitMaxElapsed

	attempt := 0
	operation := func() error {
		attempt++
		client, err := dialer.Dial(ctx, target, creds)
		if err != nil {
			l.Debugf("ssh not ready on %s (attempt %d): %v", target.Addr(), attempt, err)
			return err
		}
		_ = client.Close()
		return nil
	}

	return backoff.Retry(operation, backoff.WithContext(policy, ctx))
}
