package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"github.com/atsika/dbwire/clock"
)

func TestServerSessionTransactionNumberStrictlyIncreasing(t *testing.T) {
	s := NewServerSession()
	var prev int64
	for i := 0; i < 5; i++ {
		n := s.AdvanceTransactionNumber()
		assert.Greater(t, n, prev)
		prev = n
	}
}

func TestServerSessionPoolGetReleaseRoundTrip(t *testing.T) {
	pool := NewServerSessionPool()
	s := pool.Get()
	assert.EqualValues(t, 1, pool.InUseCount())
	pool.Release(s)
	assert.EqualValues(t, 0, pool.InUseCount())
	assert.Equal(t, 1, pool.AvailableCount())
}

func TestServerSessionPoolDropsDirtyOnRelease(t *testing.T) {
	pool := NewServerSessionPool()
	s := pool.Get()
	s.MarkDirty()
	pool.Release(s)
	assert.Equal(t, 0, pool.AvailableCount())
}

type stubRunner struct {
	lastDB  string
	lastCmd bsoncore.Document
	called  bool
}

func (r *stubRunner) RunCommand(ctx context.Context, db string, cmd bsoncore.Document) (bsoncore.Document, error) {
	r.called = true
	r.lastDB = db
	r.lastCmd = cmd
	return nil, nil
}

func TestServerSessionPoolCloseSendsEndSessions(t *testing.T) {
	pool := NewServerSessionPool()
	s1 := pool.Get()
	s2 := pool.Get()
	pool.Release(s1)
	pool.Release(s2)

	r := &stubRunner{}
	pool.Close(context.Background(), r)

	require.True(t, r.called)
	assert.Equal(t, "admin", r.lastDB)
	_, err := r.lastCmd.LookupErr("endSessions")
	require.NoError(t, err)
}

func TestServerSessionPoolCloseNoSessionsSkipsCommand(t *testing.T) {
	pool := NewServerSessionPool()
	r := &stubRunner{}
	pool.Close(context.Background(), r)
	assert.False(t, r.called)
}

func TestClientSessionSnapshotTimeSetOnce(t *testing.T) {
	pool := NewServerSessionPool()
	cs := NewClientSession(pool, Options{Snapshot: true})
	defer cs.EndSession()

	require.NoError(t, cs.SetSnapshotTime(clock.Timestamp{T: 10, I: 1}))
	err := cs.SetSnapshotTime(clock.Timestamp{T: 20, I: 1})
	assert.Error(t, err)

	ts, ok := cs.SnapshotTime()
	require.True(t, ok)
	assert.EqualValues(t, 10, ts.T)
}

func TestClientSessionOperationTimeMonotonicMerge(t *testing.T) {
	pool := NewServerSessionPool()
	cs := NewClientSession(pool, Options{CausallyConsistent: true})
	defer cs.EndSession()

	cs.AdvanceOperationTime(clock.Timestamp{T: 5, I: 1})
	cs.AdvanceOperationTime(clock.Timestamp{T: 3, I: 1})
	cs.AdvanceOperationTime(clock.Timestamp{T: 8, I: 2})

	ts, ok := cs.OperationTime()
	require.True(t, ok)
	assert.EqualValues(t, 8, ts.T)
}

func TestClientSessionCausalConsistencyDefaultsTrue(t *testing.T) {
	assert.True(t, Options{}.causallyConsistent())
	assert.False(t, Options{CausallyConsistent: false}.causallyConsistent())
}

func TestExplicitSessionContextReflectsClientSession(t *testing.T) {
	pool := NewServerSessionPool()
	cs := NewClientSession(pool, Options{CausallyConsistent: true})
	defer cs.EndSession()

	ctx := Explicit(cs)
	assert.True(t, ctx.CausallyConsistent())
	assert.False(t, ctx.HasActiveTransaction())

	cs.StartTransaction(cs.pinnedServer, nil)
	assert.True(t, ctx.HasActiveTransaction())

	_, ok := Unwrap(ctx)
	assert.True(t, ok)
}

func TestImplicitSessionContextHasNoTransaction(t *testing.T) {
	pool := NewServerSessionPool()
	ctx := Implicit(pool)
	defer ctx.(*implicitSessionContext).Release()

	assert.False(t, ctx.HasActiveTransaction())
	assert.False(t, ctx.CausallyConsistent())
	_, ok := ctx.TransactionNumber()
	assert.False(t, ok)

	_, ok = Unwrap(ctx)
	assert.False(t, ok)
}
