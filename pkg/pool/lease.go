package pool

import (
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/sshmcp-project/sshmcp/pkg/sshclient"
)

// LeasedConnection is a connection checked out for longer than one call,
// such as the lifetime of an interactive session. Release must run exactly
// once per lease; a second call is a no-op.
type LeasedConnection struct {
	Client sshclient.Client

	pool     *Pool
	poolKey  PoolKey
	sem      *semaphore.Weighted
	released atomic.Bool
}

// Release returns the connection to the pool, or closes it when close is
// true, then frees the host admission permit. Idempotent.
func (l *LeasedConnection) Release(close bool) {
	if !l.released.CompareAndSwap(false, true) {
		return
	}
	defer l.sem.Release(1)

	if close {
		closeQuietly(l.Client)
		return
	}
	l.pool.checkin(l.poolKey, l.Client)
}

// Released reports whether the lease has already been released.
func (l *LeasedConnection) Released() bool {
	return l.released.Load()
}
