package session

import (
	"sync"

	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"github.com/atsika/dbwire/address"
	"github.com/atsika/dbwire/clock"
)

// Options configures a ClientSession at creation (spec.md §4.6).
// CausallyConsistent is a plain bool whose zero value is false, so the
// zero Options is not causally consistent; there is no separate unset
// state that defaults to true. A caller who wants snapshot reads
// instead sets Snapshot, which this package then treats as causally
// consistent by construction (every snapshot read already observes a
// single consistent point).
type Options struct {
	CausallyConsistent bool
	Snapshot           bool
}

func (o Options) causallyConsistent() bool {
	return o.Snapshot || o.CausallyConsistent
}

// ClientSession is the application-facing handle spec.md §4.6 describes:
// it carries causal-consistency state (cluster time, operation time),
// an optional snapshot timestamp fixed on first use, an optional pinned
// server for mongos/sharded topologies, a recovery token for sharded
// transactions, and an optional transaction context. All mutation is
// synchronized; a ClientSession is safe only for one logical operation
// at a time, matching the rest of the pack's session types.
type ClientSession struct {
	Options Options

	mu               sync.Mutex
	clusterTime      clock.Document
	hasClusterTime   bool
	operationTime    clock.Timestamp
	hasOperationTime bool
	snapshotTime     clock.Timestamp
	hasSnapshotTime  bool
	pinnedServer     address.Address
	hasPinnedServer  bool
	recoveryToken    bsoncore.Document
	messageSent      bool
	txnCtx           *TransactionContext

	serverSession *ServerSession
	pool          *ServerSessionPool

	closed bool
}

// NewClientSession allocates a server session from pool and wraps it in
// a ClientSession configured by opts.
func NewClientSession(pool *ServerSessionPool, opts Options) *ClientSession {
	return &ClientSession{
		Options:       opts,
		serverSession: pool.Get(),
		pool:          pool,
	}
}

// CausallyConsistent reports whether this session enforces causal
// consistency on its operations.
func (cs *ClientSession) CausallyConsistent() bool { return cs.Options.causallyConsistent() }

// ServerSession returns the underlying server-allocated session.
func (cs *ClientSession) ServerSession() *ServerSession { return cs.serverSession }

// AdvanceClusterTime merges doc into the session's view of cluster time,
// keeping the greater of the two (spec.md §4.7 — the same rule as
// clock.ClusterClock, applied per-session: on a tie the document already
// held is kept).
func (cs *ClientSession) AdvanceClusterTime(doc clock.Document) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if !cs.hasClusterTime || cs.clusterTime.TS.Less(doc.TS) {
		cs.clusterTime = doc
		cs.hasClusterTime = true
	}
}

// ClusterTime returns the session's current cluster time, if any.
func (cs *ClientSession) ClusterTime() (clock.Document, bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.clusterTime, cs.hasClusterTime
}

// AdvanceOperationTime merges ts into the session's operation time,
// keeping the greater value.
func (cs *ClientSession) AdvanceOperationTime(ts clock.Timestamp) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if !cs.hasOperationTime || cs.operationTime.Less(ts) {
		cs.operationTime = ts
		cs.hasOperationTime = true
	}
}

// OperationTime returns the session's current operation time, if any.
func (cs *ClientSession) OperationTime() (clock.Timestamp, bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.operationTime, cs.hasOperationTime
}

// SetSnapshotTime fixes the session's snapshot read timestamp. Per
// spec.md §4.6, this may happen only once per session: the first
// snapshot read in the session establishes the point every subsequent
// read observes.
func (cs *ClientSession) SetSnapshotTime(ts clock.Timestamp) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.hasSnapshotTime {
		return errSnapshotAlreadySet()
	}
	cs.snapshotTime = ts
	cs.hasSnapshotTime = true
	return nil
}

// SnapshotTime returns the session's fixed snapshot timestamp, if set.
func (cs *ClientSession) SnapshotTime() (clock.Timestamp, bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.snapshotTime, cs.hasSnapshotTime
}

// PinServer pins the session to addr, used for mongos recovery within a
// sharded transaction.
func (cs *ClientSession) PinServer(addr address.Address) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.pinnedServer = addr
	cs.hasPinnedServer = true
}

// UnpinServer clears any pinned server.
func (cs *ClientSession) UnpinServer() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.hasPinnedServer = false
}

// PinnedServer returns the pinned address, if any.
func (cs *ClientSession) PinnedServer() (address.Address, bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.pinnedServer, cs.hasPinnedServer
}

// SetRecoveryToken stores the recovery token from a sharded transaction
// command reply, an opaque document passed through unmodified on the
// next command of the same transaction.
func (cs *ClientSession) SetRecoveryToken(token bsoncore.Document) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.recoveryToken = token
}

// RecoveryToken returns the most recently stored recovery token, if any.
func (cs *ClientSession) RecoveryToken() (bsoncore.Document, bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.recoveryToken, cs.recoveryToken != nil
}

// IsSnapshot reports whether this session was configured for snapshot
// reads.
func (cs *ClientSession) IsSnapshot() bool { return cs.Options.Snapshot }

// IsDirty reports whether the underlying server session has been marked
// dirty by a network error.
func (cs *ClientSession) IsDirty() bool { return cs.serverSession.IsDirty() }

// NotifyMessageSent records that at least one command has been sent on
// this session, the signal retryable-write bookkeeping uses to tell a
// session's first statement from a retry.
func (cs *ClientSession) NotifyMessageSent() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.messageSent = true
}

// HasSentMessage reports whether NotifyMessageSent has been called.
func (cs *ClientSession) HasSentMessage() bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.messageSent
}

// ReadConcern builds the readConcern document this session's current
// state dictates, if any: a snapshot session reports its fixed
// atClusterTime once set, otherwise a causally-consistent session past
// its first operation reports afterClusterTime (spec.md §4.6/§6).
func (cs *ClientSession) ReadConcern() (bsoncore.Document, bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.Options.Snapshot {
		if !cs.hasSnapshotTime {
			return nil, false
		}
		idx, doc := bsoncore.AppendDocumentStart(nil)
		doc = bsoncore.AppendStringElement(doc, "level", "snapshot")
		doc = bsoncore.AppendTimestampElement(doc, "atClusterTime", cs.snapshotTime.T, cs.snapshotTime.I)
		doc, _ = bsoncore.AppendDocumentEnd(doc, idx)
		return doc, true
	}

	if cs.Options.causallyConsistent() && cs.hasOperationTime && cs.messageSent {
		idx, doc := bsoncore.AppendDocumentStart(nil)
		doc = bsoncore.AppendTimestampElement(doc, "afterClusterTime", cs.operationTime.T, cs.operationTime.I)
		doc, _ = bsoncore.AppendDocumentEnd(doc, idx)
		return doc, true
	}

	return nil, false
}

// StartTransaction attaches a fresh TransactionContext pinned to addr
// and advances the underlying server session's transaction number.
func (cs *ClientSession) StartTransaction(addr address.Address, value any) int64 {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.txnCtx = NewTransactionContext(addr, value)
	return cs.serverSession.AdvanceTransactionNumber()
}

// TransactionContext returns the active transaction context, if any.
func (cs *ClientSession) TransactionContext() (*TransactionContext, bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.txnCtx, cs.txnCtx != nil
}

// ClearTransactionContext releases the session's reference to the
// active transaction context, if one is set.
func (cs *ClientSession) ClearTransactionContext() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.txnCtx != nil {
		cs.txnCtx.Release()
	}
	cs.txnCtx = nil
	cs.hasPinnedServer = false
}

// HasActiveTransaction reports whether a transaction context is
// currently attached.
func (cs *ClientSession) HasActiveTransaction() bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.txnCtx != nil
}

// EndSession releases the underlying server session back to its pool
// and marks this ClientSession unusable. Calling EndSession more than
// once is a no-op.
func (cs *ClientSession) EndSession() {
	cs.mu.Lock()
	if cs.closed {
		cs.mu.Unlock()
		return
	}
	cs.closed = true
	ss := cs.serverSession
	cs.mu.Unlock()

	cs.pool.Release(ss)
}

// Closed reports whether EndSession has been called.
func (cs *ClientSession) Closed() bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.closed
}
