// Package session implements the session and cluster-time layer of
// spec.md §4.5/§4.6: server-allocated ServerSessions and their reuse
// pool, and the application-facing ClientSession/SessionContext that
// threads causal consistency and transaction pinning through a command
// dispatch.
package session

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"
)

// ServerSession is an opaque, server-allocated session identifier plus
// the monotonic counters the server uses to order operations within it
// (spec.md §4.5). lsid is generated client-side as a binary UUID v4.
type ServerSession struct {
	ID bsoncore.Document // {id: <binary uuid v4>}

	txnNumber   int64 // advanced only via AdvanceTransactionNumber
	statementID int32

	lastUsedAt atomic.Int64 // UnixNano
	dirty      atomic.Bool
	closed     atomic.Bool
}

// NewServerSession mints a fresh session with a new client-generated
// lsid.
func NewServerSession() *ServerSession {
	s := &ServerSession{ID: buildLsid(uuid.New())}
	s.lastUsedAt.Store(time.Now().UnixNano())
	return s
}

func buildLsid(id uuid.UUID) bsoncore.Document {
	idx, doc := bsoncore.AppendDocumentStart(nil)
	b, _ := id.MarshalBinary()
	doc = bsoncore.AppendBinaryElement(doc, "id", 0x04, b)
	doc, _ = bsoncore.AppendDocumentEnd(doc, idx)
	return doc
}

// AdvanceTransactionNumber increments and returns the new txnNumber.
// Per spec.md §4.5, txnNumber only increases.
func (s *ServerSession) AdvanceTransactionNumber() int64 {
	return atomic.AddInt64(&s.txnNumber, 1)
}

// TransactionNumber returns the current txnNumber without advancing it.
func (s *ServerSession) TransactionNumber() int64 {
	return atomic.LoadInt64(&s.txnNumber)
}

// AdvanceStatementID adds n to the statement counter and returns the new
// value.
func (s *ServerSession) AdvanceStatementID(n int32) int32 {
	return atomic.AddInt32(&s.statementID, n)
}

// MarkDirty permanently flags the session as unsafe to reuse: spec.md
// §4.3 requires this whenever a command on the session fails with a
// network error.
func (s *ServerSession) MarkDirty() { s.dirty.Store(true) }

// IsDirty reports whether the session has been marked dirty.
func (s *ServerSession) IsDirty() bool { return s.dirty.Load() }

// Touch refreshes LastUsedAt to now; the pool calls it on each check-out
// so its TTL-proximity check (§4.5) is accurate.
func (s *ServerSession) Touch() { s.lastUsedAt.Store(time.Now().UnixNano()) }

// LastUsedAt returns the time this session was last checked out.
func (s *ServerSession) LastUsedAt() time.Time {
	return time.Unix(0, s.lastUsedAt.Load())
}

// NearingServerTimeout reports whether the session is within one minute
// of the server's logical_session_timeout_minutes, measured from now.
// This is the pool's basis for discarding a popped session rather than
// handing it back out (spec.md §4.5: "Why most-recently-used").
func (s *ServerSession) NearingServerTimeout(now time.Time, logicalSessionTimeoutMinutes int32) bool {
	if logicalSessionTimeoutMinutes <= 0 {
		return false
	}
	timeout := time.Duration(logicalSessionTimeoutMinutes)*time.Minute - time.Minute
	return now.Sub(s.LastUsedAt()) >= timeout
}
