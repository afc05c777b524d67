package session

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"
)

// CommandRunner is the narrow surface the session pool needs to send a
// best-effort endSessions on close. It is satisfied by conn.Connection,
// but this package never imports conn — that dependency would be
// circular, since conn enriches commands with SessionContext values this
// package defines.
type CommandRunner interface {
	RunCommand(ctx context.Context, db string, cmd bsoncore.Document) (bsoncore.Document, error)
}

// ServerSessionPool is a LIFO of available sessions plus an in-use
// counter (spec.md §4.5). Pruning of near-expired sessions is lazy, done
// at Get; pruning of dirty sessions is eager, done at Release.
type ServerSessionPool struct {
	mu        sync.Mutex
	available []*ServerSession
	inUse     atomic.Int64

	// logicalSessionTimeoutMinutes is updated from the cluster's hello
	// reply; 0 means "unknown", in which case no TTL pruning happens.
	logicalSessionTimeoutMinutes atomic.Int32

	closed atomic.Bool
}

// NewServerSessionPool returns an empty pool.
func NewServerSessionPool() *ServerSessionPool {
	return &ServerSessionPool{}
}

// SetLogicalSessionTimeoutMinutes updates the pool's view of the
// cluster's session TTL, as observed on a hello reply.
func (p *ServerSessionPool) SetLogicalSessionTimeoutMinutes(minutes int32) {
	p.logicalSessionTimeoutMinutes.Store(minutes)
}

// Get pops the most-recently-used available session, discarding any
// popped session that is within one minute of the server's session TTL
// and trying the next one, per spec.md §4.5 and §8 scenario 6. If none
// remain, a fresh session is allocated.
func (p *ServerSessionPool) Get() *ServerSession {
	now := time.Now()
	timeout := p.logicalSessionTimeoutMinutes.Load()

	p.mu.Lock()
	for len(p.available) > 0 {
		s := p.available[len(p.available)-1]
		p.available = p.available[:len(p.available)-1]

		if s.NearingServerTimeout(now, timeout) {
			continue
		}

		s.Touch()
		p.mu.Unlock()
		p.inUse.Add(1)
		return s
	}
	p.mu.Unlock()

	s := NewServerSession()
	p.inUse.Add(1)
	return s
}

// Release returns s to the pool unless it is dirty, in which case it is
// dropped (spec.md §4.5).
func (p *ServerSessionPool) Release(s *ServerSession) {
	p.inUse.Add(-1)
	if s.IsDirty() || s.closed.Load() {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed.Load() {
		return
	}
	p.available = append(p.available, s)
}

// InUseCount returns the number of sessions currently checked out.
func (p *ServerSessionPool) InUseCount() int64 { return p.inUse.Load() }

// AvailableCount returns the number of idle sessions held by the pool.
func (p *ServerSessionPool) AvailableCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.available)
}

// Close drains the pool and, if runner is non-nil, sends a best-effort
// endSessions command carrying every drained lsid (spec.md §4.5). Errors
// from the endSessions call are ignored, matching the pool's close
// contract in §4.4.
func (p *ServerSessionPool) Close(ctx context.Context, runner CommandRunner) {
	p.mu.Lock()
	drained := p.available
	p.available = nil
	p.closed.Store(true)
	p.mu.Unlock()

	if runner == nil || len(drained) == 0 {
		return
	}

	idx, cmd := bsoncore.AppendDocumentStart(nil)
	aIdx, arr := bsoncore.AppendArrayStart(nil)
	for i, s := range drained {
		arr = bsoncore.AppendDocumentElement(arr, strconv.Itoa(i), s.ID)
	}
	arr, _ = bsoncore.AppendArrayEnd(arr, aIdx)
	cmd = bsoncore.AppendArrayElement(cmd, "endSessions", arr)
	cmd, _ = bsoncore.AppendDocumentEnd(cmd, idx)

	_, _ = runner.RunCommand(ctx, "admin", cmd)
}
