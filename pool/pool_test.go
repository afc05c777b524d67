package pool

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atsika/dbwire/address"
	"github.com/atsika/dbwire/clock"
	"github.com/atsika/dbwire/conn"
	"github.com/atsika/dbwire/executor"
	"github.com/atsika/dbwire/session"
)

type noopStream struct{ closed atomic.Bool }

func (s *noopStream) Read(ctx context.Context, p []byte) (int, error)  { return 0, net.ErrClosed }
func (s *noopStream) Write(ctx context.Context, p [][]byte) (int, error) { return 0, net.ErrClosed }
func (s *noopStream) Close() error                                    { s.closed.Store(true); return nil }
func (s *noopStream) LocalAddr() net.Addr                              { return fakeAddr{} }
func (s *noopStream) RemoteAddr() net.Addr                             { return fakeAddr{} }

type fakeAddr struct{}

func (fakeAddr) Network() string { return "tcp" }
func (fakeAddr) String() string  { return "127.0.0.1:27017" }

func newConnectFn(dialCount *atomic.Int64) ConnectFunc {
	addr := address.Address{Host: "127.0.0.1", Port: 27017}
	return func(ctx context.Context) (*conn.Connection, error) {
		dialCount.Add(1)
		return conn.New(addr, &noopStream{}, clock.New(), nil, nil)
	}
}

func TestPoolCheckOutReuseIsLRU(t *testing.T) {
	var dials atomic.Int64
	p := New(address.Address{Host: "127.0.0.1", Port: 27017}, newConnectFn(&dials), nil, ApplyOptions(WithMaxPoolSize(5)))
	defer p.Close(context.Background())

	c1, err := p.CheckOut(context.Background())
	require.NoError(t, err)
	p.CheckIn(c1)

	c2, err := p.CheckOut(context.Background())
	require.NoError(t, err)
	assert.Same(t, c1, c2)
	assert.EqualValues(t, 1, dials.Load())
	p.CheckIn(c2)
}

func TestPoolCheckOutDialsUpToMax(t *testing.T) {
	var dials atomic.Int64
	p := New(address.Address{Host: "127.0.0.1", Port: 27017}, newConnectFn(&dials), nil, ApplyOptions(WithMaxPoolSize(2), WithMaxConnecting(2)))
	defer p.Close(context.Background())

	c1, err := p.CheckOut(context.Background())
	require.NoError(t, err)
	c2, err := p.CheckOut(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, c1, c2)
	assert.EqualValues(t, 2, dials.Load())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = p.CheckOut(ctx)
	assert.Error(t, err)

	p.CheckIn(c1)
	p.CheckIn(c2)
}

func TestPoolHandOverBypassesIdleList(t *testing.T) {
	var dials atomic.Int64
	p := New(address.Address{Host: "127.0.0.1", Port: 27017}, newConnectFn(&dials), nil, ApplyOptions(WithMaxPoolSize(1)))
	defer p.Close(context.Background())

	c1, err := p.CheckOut(context.Background())
	require.NoError(t, err)

	waiterResult := make(chan *conn.Connection, 1)
	go func() {
		c, err := p.CheckOut(context.Background())
		require.NoError(t, err)
		waiterResult <- c
	}()

	// Give the waiter time to park before checking in, so CheckIn must
	// hand c1 directly to it rather than placing it on the idle list.
	time.Sleep(20 * time.Millisecond)
	p.CheckIn(c1)

	select {
	case c := <-waiterResult:
		assert.Same(t, c1, c)
	case <-time.After(time.Second):
		t.Fatal("waiter never received handed-over connection")
	}
	assert.Equal(t, 0, p.Stats().Idle)
}

func TestPoolClearInvalidatesOnCheckIn(t *testing.T) {
	var dials atomic.Int64
	p := New(address.Address{Host: "127.0.0.1", Port: 27017}, newConnectFn(&dials), nil, ApplyOptions(WithMaxPoolSize(5)))
	defer p.Close(context.Background())

	c1, err := p.CheckOut(context.Background())
	require.NoError(t, err)

	p.Clear("")
	p.CheckIn(c1)

	assert.Equal(t, 0, p.Stats().Idle)
	assert.Equal(t, 0, p.Stats().Total)
}

func TestPoolCheckOutAfterCloseFails(t *testing.T) {
	var dials atomic.Int64
	p := New(address.Address{Host: "127.0.0.1", Port: 27017}, newConnectFn(&dials), nil, nil)
	p.Close(context.Background())

	_, err := p.CheckOut(context.Background())
	assert.Error(t, err)
}

func TestPoolMaintenancePrunesIdleConnections(t *testing.T) {
	var dials atomic.Int64
	cfg := ApplyOptions(
		WithMaxPoolSize(5),
		WithMaxConnIdleTime(10*time.Millisecond),
		WithMaintenance(0, 20*time.Millisecond),
	)
	p := New(address.Address{Host: "127.0.0.1", Port: 27017}, newConnectFn(&dials), nil, cfg)
	defer p.Close(context.Background())

	c1, err := p.CheckOut(context.Background())
	require.NoError(t, err)
	p.CheckIn(c1)
	require.Equal(t, 1, p.Stats().Idle)

	assert.Eventually(t, func() bool {
		return p.Stats().Idle == 0
	}, time.Second, 10*time.Millisecond)
}

func TestPoolCheckOutAsyncRunsOnExecutorGoroutine(t *testing.T) {
	var dials atomic.Int64
	p := New(address.Address{Host: "127.0.0.1", Port: 27017}, newConnectFn(&dials), nil, ApplyOptions(WithMaxPoolSize(5)))
	defer p.Close(context.Background())

	exec := executor.New(2)
	defer exec.Close()

	result := make(chan *conn.Connection, 1)
	errs := make(chan error, 1)
	p.CheckOutAsync(context.Background(), exec, func(c *conn.Connection, err error) {
		result <- c
		errs <- err
	})

	select {
	case c := <-result:
		require.NoError(t, <-errs)
		require.NotNil(t, c)
	case <-time.After(time.Second):
		t.Fatal("CheckOutAsync callback never fired")
	}
}

func TestPoolCloseDispatchesEndSessionsThroughSurvivingConnection(t *testing.T) {
	var dials atomic.Int64
	sessionPool := session.NewServerSessionPool()
	sessionPool.Release(session.NewServerSession())

	p := New(
		address.Address{Host: "127.0.0.1", Port: 27017},
		newConnectFn(&dials),
		nil,
		ApplyOptions(WithMaxPoolSize(5), WithSessionPool(sessionPool)),
	)

	c1, err := p.CheckOut(context.Background())
	require.NoError(t, err)
	p.CheckIn(c1)
	require.Equal(t, 1, p.Stats().Idle)

	p.Close(context.Background())

	assert.Equal(t, 0, sessionPool.AvailableCount())
}
