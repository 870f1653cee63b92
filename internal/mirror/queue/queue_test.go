package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/s3mirror/internal/common"
)

// recorder collects execution events in order.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) byPrefix(prefix string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		if len(e) >= len(prefix) && e[:len(prefix)] == prefix {
			out = append(out, e)
		}
	}
	return out
}

func TestQueue_PerKeyFIFO(t *testing.T) {
	q := New(Options{MaxConcurrency: 4})
	rec := &recorder{}

	// Interleave submissions for key1 with other keys; key1 must run in
	// submission order regardless of cross-key scheduling.
	for i, key := range []string{"key1", "key2", "key1", "key3", "key1"} {
		i := i
		err := q.Submit(key, time.Second, func(ctx context.Context) error {
			rec.add(key + "-" + string(rune('0'+i)))
			return nil
		})
		require.NoError(t, err)
	}

	require.NoError(t, q.Close(5*time.Second))

	assert.Equal(t, []string{"key1-0", "key1-2", "key1-4"}, rec.byPrefix("key1"))
}

func TestQueue_ConcurrencyCap(t *testing.T) {
	const maxPar = 3

	release := make(chan struct{})
	var mu sync.Mutex
	running, peak := 0, 0

	q := New(Options{MaxConcurrency: maxPar})
	for i := 0; i < 10; i++ {
		key := string(rune('a' + i))
		require.NoError(t, q.Submit(key, 5*time.Second, func(ctx context.Context) error {
			mu.Lock()
			running++
			if running > peak {
				peak = running
			}
			mu.Unlock()

			<-release

			mu.Lock()
			running--
			mu.Unlock()
			return nil
		}))
	}

	// Give the dispatcher a moment, then verify the cap held.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, maxPar, q.Running())

	close(release)
	require.NoError(t, q.Close(5*time.Second))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, maxPar, peak)
}

func TestQueue_BusyKeyDefersWithoutBlocking(t *testing.T) {
	q := New(Options{MaxConcurrency: 4})

	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, q.Submit("k", time.Second, func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started

	// Submission for the busy key returns immediately.
	done := make(chan struct{})
	require.NoError(t, q.Submit("k", time.Second, func(ctx context.Context) error {
		close(done)
		return nil
	}))
	assert.Equal(t, 1, q.Len())

	close(release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("deferred task never ran")
	}
	require.NoError(t, q.Close(time.Second))
}

func TestQueue_TimeoutReleasesKey(t *testing.T) {
	q := New(Options{MaxConcurrency: 2, ReaperInterval: 20 * time.Millisecond})

	block := make(chan struct{})
	require.NoError(t, q.Submit("k", 50*time.Millisecond, func(ctx context.Context) error {
		<-block // ignores its deadline
		return nil
	}))

	ran := make(chan struct{})
	require.NoError(t, q.Submit("k", time.Second, func(ctx context.Context) error {
		close(ran)
		return nil
	}))

	// The second task must start once the reaper evicts the first:
	// before timeout + reaper interval, with some slack for scheduling.
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("key slot was not released after timeout")
	}

	close(block) // late completion is discarded via run-id check
	require.NoError(t, q.Close(time.Second))
}

func TestQueue_LateCompletionDoesNotReleaseNewRun(t *testing.T) {
	q := New(Options{MaxConcurrency: 2, ReaperInterval: 10 * time.Millisecond})

	blockOld := make(chan struct{})
	require.NoError(t, q.Submit("k", 30*time.Millisecond, func(ctx context.Context) error {
		<-blockOld
		return nil
	}))

	holdNew := make(chan struct{})
	newStarted := make(chan struct{})
	require.NoError(t, q.Submit("k", -1, func(ctx context.Context) error {
		close(newStarted)
		<-holdNew
		return nil
	}))

	<-newStarted
	// Old task finishes late while the new run holds the key. Its
	// completion must not free the slot.
	close(blockOld)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, q.Running())

	close(holdNew)
	require.NoError(t, q.Close(time.Second))
}

func TestQueue_SubmitAfterStop(t *testing.T) {
	q := New(Options{})
	q.Stop(false)

	err := q.Submit("k", time.Second, func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, common.ErrQueueStopped)
	require.NoError(t, q.Close(time.Second))
}

func TestQueue_GracefulStopRunsPending(t *testing.T) {
	q := New(Options{MaxConcurrency: 1})

	var mu sync.Mutex
	count := 0
	gate := make(chan struct{})
	for i := 0; i < 3; i++ {
		require.NoError(t, q.Submit("k", time.Second, func(ctx context.Context) error {
			<-gate
			mu.Lock()
			count++
			mu.Unlock()
			return nil
		}))
	}

	close(gate)
	require.NoError(t, q.Close(5*time.Second))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, count)
}

func TestQueue_ImmediateStopDiscardsPending(t *testing.T) {
	q := New(Options{MaxConcurrency: 1})

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, q.Submit("a", time.Second, func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started

	var mu sync.Mutex
	ran := 0
	for i := 0; i < 3; i++ {
		require.NoError(t, q.Submit("b", time.Second, func(ctx context.Context) error {
			mu.Lock()
			ran++
			mu.Unlock()
			return nil
		}))
	}

	q.Stop(true)
	assert.Equal(t, 0, q.Len())

	close(release)
	require.NoError(t, q.Close(time.Second))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, ran)
}

func TestQueue_PanicBecomesError(t *testing.T) {
	errs := make(chan error, 1)
	q := New(Options{OnError: func(key string, err error) { errs <- err }})

	require.NoError(t, q.Submit("k", time.Second, func(ctx context.Context) error {
		panic("boom")
	}))

	select {
	case err := <-errs:
		assert.Contains(t, err.Error(), "boom")
	case <-time.After(2 * time.Second):
		t.Fatal("panic was not surfaced")
	}
	require.NoError(t, q.Close(time.Second))
}

func TestQueue_OnErrorReceivesTaskError(t *testing.T) {
	want := errors.New("task error")
	errs := make(chan error, 1)
	q := New(Options{OnError: func(key string, err error) { errs <- err }})

	require.NoError(t, q.Submit("k", time.Second, func(ctx context.Context) error {
		return want
	}))

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, want)
	case <-time.After(2 * time.Second):
		t.Fatal("error was not surfaced")
	}
	require.NoError(t, q.Close(time.Second))
}

func TestQueue_EmptyKeyRejected(t *testing.T) {
	q := New(Options{})
	assert.Error(t, q.Submit("", time.Second, func(ctx context.Context) error { return nil }))
	require.NoError(t, q.Close(time.Second))
}

func TestQueue_CloseEscalatesOnTimeout(t *testing.T) {
	q := New(Options{MaxConcurrency: 1, ReaperInterval: 20 * time.Millisecond})

	require.NoError(t, q.Submit("k", 100*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done() // holds until cancelled or deadline
		return ctx.Err()
	}))

	err := q.Close(10 * time.Millisecond)
	assert.ErrorIs(t, err, common.ErrQueueStopped)
}

func TestQueue_CloseEscalationReapsNonCooperativeTask(t *testing.T) {
	q := New(Options{MaxConcurrency: 1, ReaperInterval: 20 * time.Millisecond})

	// The task body never looks at its context, like a file operation
	// stuck in a blocking syscall. Only the reaper can release its key,
	// so Close must keep the reaper running through the escalated wait.
	release := make(chan struct{})
	require.NoError(t, q.Submit("k", 100*time.Millisecond, func(ctx context.Context) error {
		<-release
		return nil
	}))

	done := make(chan error, 1)
	go func() { done <- q.Close(10 * time.Millisecond) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, common.ErrQueueStopped)
	case <-time.After(2 * time.Second):
		t.Fatal("Close hung on a task that ignores its context")
	}

	close(release) // late completion is discarded via run-id check
}
