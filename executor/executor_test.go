package executor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExecutorRunsSubmittedWork(t *testing.T) {
	e := New(2)
	defer e.Close()

	var wg sync.WaitGroup
	var mu sync.Mutex
	results := make(map[int]bool)

	for i := 0; i < 10; i++ {
		i := i
		wg.Add(1)
		e.Submit(func() {
			defer wg.Done()
			mu.Lock()
			results[i] = true
			mu.Unlock()
		})
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for submitted work")
	}

	require.Len(t, results, 10)
}

func TestExecutorSubmitDoesNotBlockOnSlowJob(t *testing.T) {
	e := New(1)
	defer e.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	e.Submit(func() {
		close(started)
		<-release
	})

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("worker never started the slow job")
	}

	submitDone := make(chan struct{})
	go func() {
		e.Submit(func() {})
		close(submitDone)
	}()

	select {
	case <-submitDone:
	case <-time.After(time.Second):
		t.Fatal("Submit blocked behind a slow in-flight job")
	}

	close(release)
}

func TestExecutorCloseStopsWorkers(t *testing.T) {
	e := New(1)
	e.Close()

	// Submitting after Close must not block forever.
	done := make(chan struct{})
	go func() {
		e.Submit(func() {})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Submit blocked after Close")
	}
}
