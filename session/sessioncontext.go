package session

import (
	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"github.com/atsika/dbwire/address"
	"github.com/atsika/dbwire/clock"
)

// Context is the narrow view of a session that command dispatch needs
// in order to enrich outgoing commands and absorb replies (spec.md
// §4.6). Two implementations satisfy it: implicitSessionContext, used
// for operations given no explicit ClientSession, and
// explicitSessionContext, backed by a real ClientSession. Modeling the
// split this way — rather than as a single struct with nil-checks —
// keeps "no session" and "session with no transaction" from collapsing
// into the same zero value.
type Context interface {
	HasSession() bool
	IsImplicit() bool
	Lsid() (lsidDocument []byte, ok bool)
	TransactionNumber() (int64, bool)
	AdvanceTransactionNumber() int64
	NotifyMessageSent()
	CausallyConsistent() bool
	AdvanceClusterTime(doc clock.Document)
	ClusterTime() (clock.Document, bool)
	AdvanceOperationTime(ts clock.Timestamp)
	OperationTime() (clock.Timestamp, bool)
	IsSnapshot() bool
	SnapshotTime() (clock.Timestamp, bool)
	HasActiveTransaction() bool
	PinnedServer() (address.Address, bool)
	ReadConcern() (bsoncore.Document, bool)
	RecoveryToken() (bsoncore.Document, bool)
	ClearTransactionContext()
	MarkDirty()
	IsDirty() bool
}

// Implicit returns a Context backed by an ephemeral server session that
// exists only for the lifetime of a single operation (spec.md §4.3:
// every command needs an lsid even without an explicit session).
func Implicit(pool *ServerSessionPool) Context {
	return &implicitSessionContext{serverSession: pool.Get(), pool: pool}
}

type implicitSessionContext struct {
	serverSession *ServerSession
	pool          *ServerSessionPool
	clusterTime   clock.Document
	hasCT         bool
	opTime        clock.Timestamp
	hasOT         bool
}

func (c *implicitSessionContext) HasSession() bool { return true }

func (c *implicitSessionContext) IsImplicit() bool { return true }

func (c *implicitSessionContext) Lsid() ([]byte, bool) { return c.serverSession.ID, true }

func (c *implicitSessionContext) TransactionNumber() (int64, bool) { return 0, false }

// AdvanceTransactionNumber increments the underlying server session's
// counter directly: an implicit session has no active transaction, but
// its txnNumber still advances for retryable-write bookkeeping.
func (c *implicitSessionContext) AdvanceTransactionNumber() int64 {
	return c.serverSession.AdvanceTransactionNumber()
}

// NotifyMessageSent is a no-op for an implicit session: it lives for a
// single operation, so there is no "first statement vs. later statement"
// distinction to record.
func (c *implicitSessionContext) NotifyMessageSent() {}

func (c *implicitSessionContext) CausallyConsistent() bool { return false }

func (c *implicitSessionContext) AdvanceClusterTime(doc clock.Document) {
	if !c.hasCT || c.clusterTime.TS.Less(doc.TS) {
		c.clusterTime = doc
		c.hasCT = true
	}
}

func (c *implicitSessionContext) ClusterTime() (clock.Document, bool) { return c.clusterTime, c.hasCT }

func (c *implicitSessionContext) AdvanceOperationTime(ts clock.Timestamp) {
	if !c.hasOT || c.opTime.Less(ts) {
		c.opTime = ts
		c.hasOT = true
	}
}

func (c *implicitSessionContext) OperationTime() (clock.Timestamp, bool) { return c.opTime, c.hasOT }

func (c *implicitSessionContext) IsSnapshot() bool { return false }

func (c *implicitSessionContext) SnapshotTime() (clock.Timestamp, bool) { return clock.Timestamp{}, false }

func (c *implicitSessionContext) HasActiveTransaction() bool { return false }

func (c *implicitSessionContext) PinnedServer() (address.Address, bool) {
	return address.Address{}, false
}

func (c *implicitSessionContext) ReadConcern() (bsoncore.Document, bool) { return nil, false }

func (c *implicitSessionContext) RecoveryToken() (bsoncore.Document, bool) { return nil, false }

// ClearTransactionContext is a no-op: an implicit session never carries
// one.
func (c *implicitSessionContext) ClearTransactionContext() {}

func (c *implicitSessionContext) MarkDirty() { c.serverSession.MarkDirty() }

func (c *implicitSessionContext) IsDirty() bool { return c.serverSession.IsDirty() }

// Release returns the implicit session to its pool. Callers must invoke
// this once the operation the Context was created for has completed.
func (c *implicitSessionContext) Release() { c.pool.Release(c.serverSession) }

// Explicit returns a Context backed by cs.
func Explicit(cs *ClientSession) Context {
	return &explicitSessionContext{cs: cs}
}

type explicitSessionContext struct {
	cs *ClientSession
}

func (c *explicitSessionContext) HasSession() bool { return true }

func (c *explicitSessionContext) IsImplicit() bool { return false }

func (c *explicitSessionContext) Lsid() ([]byte, bool) {
	return c.cs.ServerSession().ID, true
}

func (c *explicitSessionContext) TransactionNumber() (int64, bool) {
	if !c.cs.HasActiveTransaction() {
		return 0, false
	}
	return c.cs.ServerSession().TransactionNumber(), true
}

func (c *explicitSessionContext) AdvanceTransactionNumber() int64 {
	return c.cs.ServerSession().AdvanceTransactionNumber()
}

func (c *explicitSessionContext) NotifyMessageSent() { c.cs.NotifyMessageSent() }

func (c *explicitSessionContext) CausallyConsistent() bool { return c.cs.CausallyConsistent() }

func (c *explicitSessionContext) AdvanceClusterTime(doc clock.Document) { c.cs.AdvanceClusterTime(doc) }

func (c *explicitSessionContext) ClusterTime() (clock.Document, bool) { return c.cs.ClusterTime() }

func (c *explicitSessionContext) AdvanceOperationTime(ts clock.Timestamp) {
	c.cs.AdvanceOperationTime(ts)
}

func (c *explicitSessionContext) OperationTime() (clock.Timestamp, bool) { return c.cs.OperationTime() }

func (c *explicitSessionContext) IsSnapshot() bool { return c.cs.IsSnapshot() }

func (c *explicitSessionContext) SnapshotTime() (clock.Timestamp, bool) { return c.cs.SnapshotTime() }

func (c *explicitSessionContext) HasActiveTransaction() bool { return c.cs.HasActiveTransaction() }

func (c *explicitSessionContext) PinnedServer() (address.Address, bool) { return c.cs.PinnedServer() }

func (c *explicitSessionContext) ReadConcern() (bsoncore.Document, bool) { return c.cs.ReadConcern() }

func (c *explicitSessionContext) RecoveryToken() (bsoncore.Document, bool) { return c.cs.RecoveryToken() }

func (c *explicitSessionContext) ClearTransactionContext() { c.cs.ClearTransactionContext() }

func (c *explicitSessionContext) MarkDirty() { c.cs.ServerSession().MarkDirty() }

func (c *explicitSessionContext) IsDirty() bool { return c.cs.IsDirty() }

// Unwrap returns the ClientSession backing an explicit Context, for
// callers (transaction commit/abort, endSessions) that need more than
// the narrow interface exposes. It returns false for an implicit
// Context.
func Unwrap(ctx Context) (*ClientSession, bool) {
	e, ok := ctx.(*explicitSessionContext)
	if !ok {
		return nil, false
	}
	return e.cs, true
}
