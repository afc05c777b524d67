package opctx

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atsika/dbwire/session"
)

func TestNewAppliesTimeout(t *testing.T) {
	pool := session.NewServerSessionPool()
	sess := session.Implicit(pool)

	oc, cancel := New(context.Background(), sess, 10*time.Millisecond)
	defer cancel()

	deadline, ok := oc.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(10*time.Millisecond), deadline, 5*time.Millisecond)

	<-oc.Done()
	assert.Error(t, oc.Err())
}

func TestNewWithoutTimeoutHasNoDeadline(t *testing.T) {
	pool := session.NewServerSessionPool()
	sess := session.Implicit(pool)

	oc, cancel := New(context.Background(), sess, 0)
	defer cancel()

	_, ok := oc.Deadline()
	assert.False(t, ok)
}

func TestWithServerAPIDoesNotMutateOriginal(t *testing.T) {
	pool := session.NewServerSessionPool()
	sess := session.Implicit(pool)
	oc, cancel := New(context.Background(), sess, 0)
	defer cancel()

	api := &ServerAPI{Version: "1", Strict: true}
	oc2 := oc.WithServerAPI(api)

	assert.Nil(t, oc.API)
	assert.Same(t, api, oc2.API)
}
