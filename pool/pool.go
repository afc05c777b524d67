// Package pool implements the bounded per-server connection pool of
// spec.md §4.4: check-out/check-in with LRU idle reuse, hand-over of a
// checked-in connection directly to a waiting checkout (bypassing the
// idle list), generation-based invalidation (as a whole and per
// load-balancer serviceId), a MAX_CONNECTING dial semaphore, and a
// maintenance loop that prunes idle/expired connections and tops up to
// minPoolSize.
//
// The check-out/check-in loop shape — pop-validate-retry from the idle
// slice, park a waiter when empty, hand a checked-in connection
// straight to the oldest waiter — is grounded on the connection-reuse
// bookkeeping in the db-bouncer and hashicorp-nomad pool references
// retrieved alongside the teacher.
package pool

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/atsika/dbwire/address"
	"github.com/atsika/dbwire/conn"
	"github.com/atsika/dbwire/errkind"
	"github.com/atsika/dbwire/event"
	"github.com/atsika/dbwire/executor"
	"github.com/atsika/dbwire/session"
)

// SessionPool is the narrow surface Close hands a best-effort endSessions
// cleanup to (spec.md §4.4): drain, then send one command through a
// connection that is itself about to be closed, carrying every lsid the
// session pool drained. *session.ServerSessionPool satisfies this.
type SessionPool interface {
	Close(ctx context.Context, runner session.CommandRunner)
}

// ConnectFunc dials and opens a new Connection to the pool's server.
type ConnectFunc func(ctx context.Context) (*conn.Connection, error)

type idleEntry struct {
	conn       *conn.Connection
	returnedAt time.Time
}

type waiter struct {
	ch chan waitResult
}

type waitResult struct {
	conn *conn.Connection
	err  error
}

// Pool is a bounded set of Connections to a single server address.
type Pool struct {
	addr      address.Address
	cfg       *Config
	connectFn ConnectFunc
	monitor   event.Monitor

	mu          sync.Mutex
	idle        []*idleEntry // index 0 = LRU, last = MRU
	total       int
	generations map[string]uint64 // serviceID -> generation, "" = whole-pool generation
	waiters     *list.List         // of *waiter, FIFO
	closed      bool

	connectingSem chan struct{}

	maintStop chan struct{}
	maintDone chan struct{}
}

// New creates a Pool for addr. connectFn is called (respecting the
// MAX_CONNECTING semaphore) whenever a new connection must be dialed.
func New(addr address.Address, connectFn ConnectFunc, monitor event.Monitor, cfg *Config) *Pool {
	if cfg == nil {
		cfg = defaultConfig()
	}
	if monitor == nil {
		monitor = event.NopMonitor{}
	}
	maxConnecting := cfg.maxConnecting
	if maxConnecting <= 0 {
		maxConnecting = 1
	}
	p := &Pool{
		addr:          addr,
		cfg:           cfg,
		connectFn:     connectFn,
		monitor:       monitor,
		generations:   map[string]uint64{"": 1},
		waiters:       list.New(),
		connectingSem: make(chan struct{}, maxConnecting),
		maintStop:     make(chan struct{}),
		maintDone:     make(chan struct{}),
	}
	p.monitor.Event(&event.PoolEvent{Type: event.PoolCreated, Address: addr.String()})
	go p.maintain()
	p.monitor.Event(&event.PoolEvent{Type: event.PoolReady, Address: addr.String()})
	return p
}

// CheckOut returns a ready-to-use connection: a valid idle one if
// available, a freshly dialed one if under maxPoolSize, or waits for
// one to be checked in otherwise. It respects both ctx's deadline and
// the pool's own maxWaitTime, whichever is sooner.
func (p *Pool) CheckOut(ctx context.Context) (*conn.Connection, error) {
	p.monitor.Event(&event.PoolEvent{Type: event.CheckOutStarted, Address: p.addr.String()})
	started := time.Now()

	c, err := p.checkOutOnce(ctx)
	if err != nil {
		p.monitor.Event(&event.PoolEvent{Type: event.CheckOutFailed, Address: p.addr.String(), Reason: string(classifyCheckOutFailure(err)), Duration: time.Since(started)})
		return nil, err
	}
	p.monitor.Event(&event.PoolEvent{Type: event.CheckedOut, Address: p.addr.String(), ConnectionID: connID(c), Duration: time.Since(started)})
	return c, nil
}

// CheckOutAsync is the callback-mode counterpart to CheckOut (spec.md
// §4.4/§5): it reuses the exact same check-out state machine, dispatched
// onto one of exec's worker goroutines so cb runs off the caller's own
// goroutine. Hand-over on CheckIn already targets a waiter's channel
// rather than any particular goroutine, so it needs no change to support
// a checked-out connection being awaited asynchronously.
func (p *Pool) CheckOutAsync(ctx context.Context, exec *executor.Executor, cb func(*conn.Connection, error)) {
	exec.Submit(func() {
		c, err := p.CheckOut(ctx)
		cb(c, err)
	})
}

func classifyCheckOutFailure(err error) event.CheckOutFailedReason {
	switch {
	case errkind.OfKindMatches(err, errkind.PoolClosed):
		return event.ReasonPoolIsClosed
	case errkind.OfKindMatches(err, errkind.Timeout, errkind.PoolTimeout):
		return event.ReasonTimeout
	default:
		return event.ReasonConnError
	}
}

func (p *Pool) checkOutOnce(ctx context.Context) (*conn.Connection, error) {
	if p.cfg.maxWaitTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.maxWaitTime)
		defer cancel()
	}

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, errkind.New(errkind.PoolClosed, "pool.CheckOut", errPoolClosed)
		}

		// Pop from the MRU end, discarding stale/expired/invalidated
		// entries and retrying, per spec.md §4.4 "why most-recently-used".
		for len(p.idle) > 0 {
			e := p.idle[len(p.idle)-1]
			p.idle = p.idle[:len(p.idle)-1]

			if p.isStale(e) {
				p.total--
				p.mu.Unlock()
				p.closeDiscarded(e.conn, event.ReasonStale)
				p.mu.Lock()
				continue
			}
			p.mu.Unlock()
			return e.conn, nil
		}

		if p.total < p.cfg.maxPoolSize {
			p.total++
			p.mu.Unlock()
			c, err := p.dial(ctx)
			if err != nil {
				p.mu.Lock()
				p.total--
				p.mu.Unlock()
				return nil, err
			}
			return c, nil
		}

		w := &waiter{ch: make(chan waitResult, 1)}
		elem := p.waiters.PushBack(w)
		p.mu.Unlock()

		select {
		case res := <-w.ch:
			if res.err != nil {
				return nil, res.err
			}
			return res.conn, nil
		case <-ctx.Done():
			p.mu.Lock()
			p.waiters.Remove(elem)
			p.mu.Unlock()

			// CheckIn may have handed a connection to w.ch in the
			// instant before the list removal above took effect; if so,
			// honor it rather than leaking the connection.
			select {
			case res := <-w.ch:
				if res.err != nil {
					return nil, res.err
				}
				return res.conn, nil
			default:
			}
			return nil, errkind.New(errkind.PoolTimeout, "pool.CheckOut", errWaitTimeout)
		}
	}
}

func (p *Pool) dial(ctx context.Context) (*conn.Connection, error) {
	select {
	case p.connectingSem <- struct{}{}:
	case <-ctx.Done():
		return nil, errkind.New(errkind.Timeout, "pool.dial", ctx.Err())
	}
	defer func() { <-p.connectingSem }()

	p.monitor.Event(&event.PoolEvent{Type: event.ConnectionCreated, Address: p.addr.String()})
	c, err := p.connectFn(ctx)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	gen := p.generations[c.ServiceID()]
	p.mu.Unlock()
	c.SetGeneration(gen)

	p.monitor.Event(&event.PoolEvent{Type: event.ConnectionReady, Address: p.addr.String(), ConnectionID: connID(c)})
	return c, nil
}

// CheckIn returns c to the pool. A dirty, generation-stale, or
// post-close connection is closed instead of reused. If a waiter is
// parked, c is handed directly to it, bypassing the idle list (spec.md
// §4.4 "hand-over bypasses LRU").
func (p *Pool) CheckIn(c *conn.Connection) {
	p.mu.Lock()

	if p.closed {
		p.total--
		p.mu.Unlock()
		p.closeDiscarded(c, event.ReasonPoolClosed)
		return
	}

	if c.IsDirty() || c.Generation() != p.generations[c.ServiceID()] {
		reason := event.ReasonStale
		if c.IsDirty() {
			reason = event.ReasonError
		}
		p.total--
		p.mu.Unlock()
		p.closeDiscarded(c, reason)
		return
	}

	if elem := p.waiters.Front(); elem != nil {
		p.waiters.Remove(elem)
		p.mu.Unlock()
		w := elem.Value.(*waiter)
		w.ch <- waitResult{conn: c}
		p.monitor.Event(&event.PoolEvent{Type: event.CheckedIn, Address: p.addr.String(), ConnectionID: connID(c), Interruption: true})
		return
	}

	p.idle = append(p.idle, &idleEntry{conn: c, returnedAt: time.Now()})
	p.mu.Unlock()
	p.monitor.Event(&event.PoolEvent{Type: event.CheckedIn, Address: p.addr.String(), ConnectionID: connID(c)})
}

func (p *Pool) isStale(e *idleEntry) bool {
	now := time.Now()
	if p.cfg.maxConnIdleTime > 0 && now.Sub(e.returnedAt) >= p.cfg.maxConnIdleTime {
		return true
	}
	if p.cfg.maxConnLifeTime > 0 && now.Sub(e.conn.CreatedAt()) >= p.cfg.maxConnLifeTime {
		return true
	}
	if e.conn.IsDirty() {
		return true
	}
	if e.conn.Generation() != p.generations[e.conn.ServiceID()] {
		return true
	}
	return false
}

func (p *Pool) closeDiscarded(c *conn.Connection, reason event.ConnectionClosedReason) {
	_ = c.Close()
	p.monitor.Event(&event.PoolEvent{Type: event.ConnectionClosed, Address: p.addr.String(), ConnectionID: connID(c), Reason: string(reason)})
}

// Clear invalidates every connection under serviceID (use "" for the
// whole pool outside a load-balanced topology) by bumping its
// generation: idle connections matching it are pruned on their next
// check-out attempt or by the maintenance loop, and checked-out ones are
// pruned on check-in.
func (p *Pool) Clear(serviceID string) {
	p.mu.Lock()
	p.generations[serviceID]++
	p.mu.Unlock()
	p.monitor.Event(&event.PoolEvent{Type: event.PoolCleared, Address: p.addr.String()})
}

// Close stops the maintenance loop, closes every idle connection, fails
// every parked waiter, and marks the pool unusable. If a SessionPool was
// configured (pool.WithSessionPool), one surviving idle connection is
// borrowed to send its best-effort endSessions before being closed itself
// (spec.md §4.4), the same conn.Connection.RunCommand path every other
// command uses rather than a bespoke code path.
func (p *Pool) Close(ctx context.Context) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	var waiters []*waiter
	for e := p.waiters.Front(); e != nil; e = e.Next() {
		waiters = append(waiters, e.Value.(*waiter))
	}
	p.waiters.Init()
	p.mu.Unlock()

	close(p.maintStop)
	<-p.maintDone

	if p.cfg.sessionPool != nil && len(idle) > 0 {
		p.cfg.sessionPool.Close(ctx, idle[0].conn)
	}

	for _, e := range idle {
		p.closeDiscarded(e.conn, event.ReasonPoolClosed)
	}
	for _, w := range waiters {
		w.ch <- waitResult{err: errkind.New(errkind.PoolClosed, "pool.Close", errPoolClosed)}
	}

	p.monitor.Event(&event.PoolEvent{Type: event.PoolClosed, Address: p.addr.String()})
}

// Stats reports a snapshot of the pool's size for diagnostics.
type Stats struct {
	Total int
	Idle  int
	InUse int
}

// Stats returns the pool's current size breakdown.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Total: p.total, Idle: len(p.idle), InUse: p.total - len(p.idle)}
}

func connID(c *conn.Connection) string {
	if c == nil {
		return ""
	}
	return c.Address().String()
}
