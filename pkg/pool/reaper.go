package pool

import (
	"sync"
	"time"

	"github.com/sshmcp-project/sshmcp/pkg/logger"
	"github.com/sshmcp-project/sshmcp/pkg/sshclient"
)

// ensureReaperStarted lazily starts the background reaper on the pool's
// first request. No-op afterwards and after shutdown.
func (p *Pool) ensureReaperStarted() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	p.reaperOnce.Do(func() {
		p.mu.Lock()
		p.reaperRunning = true
		p.mu.Unlock()
		go p.reaperLoop()
	})
}

func (p *Pool) reaperStarted() bool {
	return p.reaperRunning
}

func (p *Pool) reaperLoop() {
	defer close(p.reaperDone)

	ticker := time.NewTicker(ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.reaperStop:
			return
		case <-ticker.C:
			p.reapIdle()
		}
	}
}

// reapIdle closes connections that are dead or idle past the TTL. The
// partition happens under the lock; the closes do not, so concurrent
// checkouts are never blocked on network I/O.
func (p *Pool) reapIdle() {
	ttl := p.settings.IdleConnectionTTL
	now := p.now()

	var toClose []sshclient.Client

	p.mu.Lock()
	for poolKey, queue := range p.idle {
		kept := queue[:0]
		for _, item := range queue {
			if !connAlive(item.client) || now.Sub(item.lastUsed) > ttl {
				toClose = append(toClose, item.client)
			} else {
				kept = append(kept, item)
			}
		}
		if len(kept) > 0 {
			p.idle[poolKey] = kept
		} else {
			delete(p.idle, poolKey)
			p.pruneHostIndexLocked(poolKey)
		}
	}
	p.mu.Unlock()

	if len(toClose) == 0 {
		return
	}
	logger.Get().Debugf("reaper closing %d idle connections", len(toClose))

	var wg sync.WaitGroup
	for _, conn := range toClose {
		wg.Add(1)
		go func(c sshclient.Client) {
			defer wg.Done()
			closeQuietly(c)
		}(conn)
	}
	wg.Wait()
}
