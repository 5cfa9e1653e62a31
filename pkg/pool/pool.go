// Package pool manages reusable SSH connections with per-host admission
// control, request coalescing and background idle reaping.
package pool

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/sshmcp-project/sshmcp/pkg/config"
	"github.com/sshmcp-project/sshmcp/pkg/logger"
	"github.com/sshmcp-project/sshmcp/pkg/sshclient"
)

// ReapInterval is how often the background reaper scans idle connections.
// A variable so tests can shrink it.
var ReapInterval = 30 * time.Second

// HostKey identifies a host for admission control. Distinct ports on the
// same host count as distinct hosts.
type HostKey struct {
	Host string
	Port int
}

// PoolKey identifies a reusable connection queue. Connections are never
// shared across users.
type PoolKey struct {
	Host     string
	Port     int
	Username string
}

func (k PoolKey) hostKey() HostKey {
	return HostKey{Host: k.Host, Port: k.Port}
}

type pooledConn struct {
	client   sshclient.Client
	lastUsed time.Time
}

// Pool owns every pooled SSH connection in the process. All bookkeeping is
// guarded by mu; network I/O (dial, close) always happens outside it.
type Pool struct {
	settings *config.Settings
	dialer   sshclient.Dialer
	now      func() time.Time

	mu         sync.Mutex
	semaphores map[HostKey]*semaphore.Weighted
	idle       map[PoolKey][]pooledConn
	hostIndex  map[HostKey]map[PoolKey]struct{}
	pending    map[PoolKey]chan struct{}
	closed     bool

	reaperOnce    sync.Once
	reaperRunning bool
	reaperStop    chan struct{}
	reaperDone    chan struct{}
}

// New creates a pool. The reaper starts lazily on the first acquisition.
func New(settings *config.Settings, dialer sshclient.Dialer) *Pool {
	return &Pool{
		settings:   settings,
		dialer:     dialer,
		now:        time.Now,
		semaphores: make(map[HostKey]*semaphore.Weighted),
		idle:       make(map[PoolKey][]pooledConn),
		hostIndex:  make(map[HostKey]map[PoolKey]struct{}),
		pending:    make(map[PoolKey]chan struct{}),
		reaperStop: make(chan struct{}),
		reaperDone: make(chan struct{}),
	}
}

// SetNowFunc overrides the pool's clock. Used by tests.
func (p *Pool) SetNowFunc(now func() time.Time) {
	p.now = now
}

// WithConn runs fn with a pooled connection. The connection is checked in
// and the host permit released when fn returns, on every path.
func (p *Pool) WithConn(
	ctx context.Context,
	target sshclient.Target,
	creds sshclient.Credentials,
	fn func(sshclient.Client) error,
) error {
	p.ensureReaperStarted()

	poolKey := PoolKey{Host: target.Host, Port: target.Port, Username: creds.Username}
	sem := p.semaphoreFor(poolKey.hostKey())
	if err := sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer sem.Release(1)

	conn, err := p.checkoutOrDial(ctx, poolKey, target, creds)
	if err != nil {
		return err
	}
	defer p.checkin(poolKey, conn)

	return fn(conn)
}

// Lease checks out a connection under the host's admission permit and hands
// ownership to the caller. The caller must call Release exactly once; a
// failed dial never leaks the permit.
func (p *Pool) Lease(
	ctx context.Context,
	target sshclient.Target,
	creds sshclient.Credentials,
) (*LeasedConnection, error) {
	p.ensureReaperStarted()

	poolKey := PoolKey{Host: target.Host, Port: target.Port, Username: creds.Username}
	sem := p.semaphoreFor(poolKey.hostKey())
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	conn, err := p.checkoutOrDial(ctx, poolKey, target, creds)
	if err != nil {
		sem.Release(1)
		return nil, err
	}

	return &LeasedConnection{
		Client:  conn,
		pool:    p,
		poolKey: poolKey,
		sem:     sem,
	}, nil
}

// CloseAll stops the reaper, drains every idle queue and closes every
// connection concurrently. Idempotent.
func (p *Pool) CloseAll() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	reaperStarted := p.reaperStarted()
	p.mu.Unlock()

	close(p.reaperStop)
	if reaperStarted {
		<-p.reaperDone
	}

	p.mu.Lock()
	var conns []sshclient.Client
	for _, queue := range p.idle {
		for _, item := range queue {
			conns = append(conns, item.client)
		}
	}
	p.idle = make(map[PoolKey][]pooledConn)
	p.hostIndex = make(map[HostKey]map[PoolKey]struct{})
	p.mu.Unlock()

	var g errgroup.Group
	for _, conn := range conns {
		conn := conn
		g.Go(func() error {
			closeQuietly(conn)
			return nil
		})
	}
	return g.Wait()
}

func (p *Pool) semaphoreFor(hostKey HostKey) *semaphore.Weighted {
	p.mu.Lock()
	defer p.mu.Unlock()

	sem, ok := p.semaphores[hostKey]
	if !ok {
		sem = semaphore.NewWeighted(int64(p.settings.PerHostMaxConnections))
		p.semaphores[hostKey] = sem
	}
	return sem
}

func (p *Pool) checkoutOrDial(
	ctx context.Context,
	poolKey PoolKey,
	target sshclient.Target,
	creds sshclient.Credentials,
) (sshclient.Client, error) {
	if conn := p.checkout(poolKey); conn != nil {
		return conn, nil
	}
	return p.connectOrJoin(ctx, poolKey, target, creds)
}

// checkout pops idle connections most-recently-returned first, discarding
// dead ones, until it finds a live one or the queue is exhausted.
func (p *Pool) checkout(poolKey PoolKey) sshclient.Client {
	p.mu.Lock()
	defer p.mu.Unlock()

	queue := p.idle[poolKey]
	for len(queue) > 0 {
		item := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		if connAlive(item.client) {
			p.idle[poolKey] = queue
			return item.client
		}
		go closeQuietly(item.client)
	}

	delete(p.idle, poolKey)
	p.pruneHostIndexLocked(poolKey)
	return nil
}

// checkin returns a connection to its idle queue after a liveness check.
// Dead connections are closed, not requeued.
func (p *Pool) checkin(poolKey PoolKey, conn sshclient.Client) {
	if !connAlive(conn) {
		closeQuietly(conn)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.idle[poolKey] = append(p.idle[poolKey], pooledConn{
		client:   conn,
		lastUsed: p.now(),
	})

	hostKey := poolKey.hostKey()
	index, ok := p.hostIndex[hostKey]
	if !ok {
		index = make(map[PoolKey]struct{})
		p.hostIndex[hostKey] = index
	}
	index[poolKey] = struct{}{}
}

// connectOrJoin coalesces concurrent first-connections per PoolKey: a
// joiner waits for the in-flight attempt to resolve, then dials its own
// connection. The in-flight connection belongs to its original caller.
func (p *Pool) connectOrJoin(
	ctx context.Context,
	poolKey PoolKey,
	target sshclient.Target,
	creds sshclient.Credentials,
) (sshclient.Client, error) {
	p.mu.Lock()
	inflight, joining := p.pending[poolKey]
	if !joining {
		inflight = make(chan struct{})
		p.pending[poolKey] = inflight
	}
	p.mu.Unlock()

	if joining {
		select {
		case <-inflight:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return p.dial(ctx, target, creds)
	}

	conn, err := p.dial(ctx, target, creds)

	p.mu.Lock()
	delete(p.pending, poolKey)
	p.mu.Unlock()
	close(inflight)

	return conn, err
}

// dial performs exactly one connection attempt, bounded by the configured
// connect timeout. The pool never retries; that is the caller's concern.
func (p *Pool) dial(
	ctx context.Context,
	target sshclient.Target,
	creds sshclient.Credentials,
) (sshclient.Client, error) {
	dialCtx := ctx
	if p.settings.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, p.settings.ConnectTimeout)
		defer cancel()
	}

	conn, err := p.dialer.Dial(dialCtx, target, creds)
	if err != nil {
		var connErr *sshclient.ConnectionError
		if errors.As(err, &connErr) {
			return nil, err
		}
		return nil, sshclient.NewConnectionError(target, err)
	}
	return conn, nil
}

func (p *Pool) pruneHostIndexLocked(poolKey PoolKey) {
	hostKey := poolKey.hostKey()
	if index, ok := p.hostIndex[hostKey]; ok {
		delete(index, poolKey)
		if len(index) == 0 {
			delete(p.hostIndex, hostKey)
		}
	}
}

// connAlive treats any failure while checking as dead: reconnecting is
// cheaper than handing out a broken pipe.
func connAlive(conn sshclient.Client) (alive bool) {
	defer func() {
		if r := recover(); r != nil {
			alive = false
		}
	}()
	return conn.Alive()
}

func closeQuietly(conn sshclient.Client) {
	defer func() {
		_ = recover()
	}()
	if err := conn.Close(); err != nil {
		logger.Get().Debugf("close failed, discarding connection anyway: %v", err)
	}
}
