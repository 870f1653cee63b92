// Package queue implements the bounded asynchronous operation queue that
// serializes mirror mutations by partition key.
//
// Contract:
//   - at most one task per key runs at any moment; same-key tasks run in
//     submission order
//   - at most MaxConcurrency distinct keys run at once
//   - a task past its timeout loses its key slot; the abandoned task's late
//     completion is discarded through a run-id check
//   - Stop(false) refuses new submissions and lets outstanding work finish,
//     Stop(true) additionally drops not-yet-started tasks
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/s3mirror/internal/common"
	"github.com/dmitrijs2005/s3mirror/internal/logging"
)

const (
	DefaultMaxConcurrency = 300
	DefaultTaskTimeout    = 60 * time.Second
	DefaultReaperInterval = 1 * time.Second
)

// Task is a unit of queued work. The context carries the task's deadline
// when one was declared; the body is expected to honor it cooperatively,
// the queue never preempts a running task.
type Task func(ctx context.Context) error

// ErrorHandler receives failures that escape a task body. The queue has
// already released the key slot when the handler runs.
type ErrorHandler func(key string, err error)

// Options configures a Queue. Zero values select the defaults above.
type Options struct {
	MaxConcurrency int
	DefaultTimeout time.Duration
	ReaperInterval time.Duration
	OnError        ErrorHandler
	Logger         logging.Logger
}

type item struct {
	key     string
	task    Task
	timeout time.Duration
	next    *item
}

type runningTask struct {
	runID     uint64
	expiresAt time.Time // zero when the task declared no timeout
	cancel    context.CancelFunc
}

// Queue dispatches tasks with per-key exclusion and bounded concurrency.
type Queue struct {
	opts Options
	log  logging.Logger

	mu           sync.Mutex
	head, tail   *item
	pendingCount int
	running      map[string]*runningTask
	nextRunID    uint64
	stopped      bool
	drained      chan struct{}
	drainedOnce  sync.Once

	baseCtx    context.Context
	baseCancel context.CancelFunc
	reaperStop chan struct{}
	reaperOnce sync.Once
	reaperDone chan struct{}
}

// New creates a queue and starts its reaper.
func New(opts Options) *Queue {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = DefaultMaxConcurrency
	}
	if opts.DefaultTimeout == 0 {
		opts.DefaultTimeout = DefaultTaskTimeout
	}
	if opts.ReaperInterval <= 0 {
		opts.ReaperInterval = DefaultReaperInterval
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewForLevel("NONE")
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		opts:       opts,
		log:        opts.Logger.With("module", "queue"),
		running:    make(map[string]*runningTask),
		drained:    make(chan struct{}),
		baseCtx:    ctx,
		baseCancel: cancel,
		reaperStop: make(chan struct{}),
		reaperDone: make(chan struct{}),
	}

	go q.reap()

	return q
}

// Submit enqueues a task for the given partition key.
//
// A zero timeout selects the queue default; a negative timeout disables the
// deadline entirely. Submit never blocks on a busy key: the task is
// deferred and started when the key frees up.
func (q *Queue) Submit(key string, timeout time.Duration, task Task) error {
	if key == "" {
		return fmt.Errorf("submit: empty partition key")
	}
	if timeout == 0 {
		timeout = q.opts.DefaultTimeout
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return common.ErrQueueStopped
	}

	it := &item{key: key, task: task, timeout: timeout}
	if q.tail == nil {
		q.head, q.tail = it, it
	} else {
		q.tail.next = it
		q.tail = it
	}
	q.pendingCount++

	q.dispatchLocked()
	return nil
}

// dispatchLocked walks the pending list in submission order and starts every
// item whose key is idle, until the concurrency cap is reached. Items for
// busy keys stay in place so per-key FIFO order survives the scan.
func (q *Queue) dispatchLocked() {
	var prev *item
	for it := q.head; it != nil; {
		if len(q.running) >= q.opts.MaxConcurrency {
			return
		}
		if _, busy := q.running[it.key]; busy {
			prev = it
			it = it.next
			continue
		}

		// unlink
		next := it.next
		if prev == nil {
			q.head = next
		} else {
			prev.next = next
		}
		if next == nil {
			q.tail = prev
		}
		q.pendingCount--

		q.startLocked(it)
		it = next
	}
}

func (q *Queue) startLocked(it *item) {
	q.nextRunID++
	runID := q.nextRunID

	ctx := q.baseCtx
	cancel := context.CancelFunc(func() {})
	rt := &runningTask{runID: runID}
	if it.timeout > 0 {
		rt.expiresAt = time.Now().Add(it.timeout)
		ctx, cancel = context.WithDeadline(ctx, rt.expiresAt)
	}
	rt.cancel = cancel
	q.running[it.key] = rt

	go func() {
		err := runTask(ctx, it.task)
		q.complete(it.key, runID, err)
	}()
}

// runTask converts a panic in the task body into an error so a broken task
// cannot take down the dispatcher.
func runTask(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panic: %v", r)
		}
	}()
	return task(ctx)
}

func (q *Queue) complete(key string, runID uint64, err error) {
	q.mu.Lock()

	rt, ok := q.running[key]
	if !ok || rt.runID != runID {
		// The reaper already evicted this run; the slot belongs to a
		// newer task (or nobody). Drop the result.
		q.mu.Unlock()
		q.log.Debug(context.Background(), "discarding late task completion", "key", key, "run_id", runID)
		return
	}

	delete(q.running, key)
	rt.cancel()
	q.dispatchLocked()
	q.checkDrainedLocked()
	q.mu.Unlock()

	if err != nil {
		if q.opts.OnError != nil {
			q.opts.OnError(key, err)
		} else {
			q.log.Error(context.Background(), "task failed", "key", key, "error", err)
		}
	}
}

// reap periodically evicts running entries whose deadline passed, freeing
// their keys for queued work.
func (q *Queue) reap() {
	defer close(q.reaperDone)

	t := time.NewTicker(q.opts.ReaperInterval)
	defer t.Stop()

	for {
		select {
		case <-q.reaperStop:
			return
		case now := <-t.C:
			q.mu.Lock()
			for key, rt := range q.running {
				if rt.expiresAt.IsZero() || now.Before(rt.expiresAt) {
					continue
				}
				q.log.Warn(context.Background(), "task timed out, releasing key", "key", key, "run_id", rt.runID)
				delete(q.running, key)
				rt.cancel()
			}
			q.dispatchLocked()
			q.checkDrainedLocked()
			q.mu.Unlock()
		}
	}
}

func (q *Queue) checkDrainedLocked() {
	if q.stopped && q.head == nil && len(q.running) == 0 {
		q.drainedOnce.Do(func() { close(q.drained) })
	}
}

// Stop refuses further submissions. With immediate=true, tasks that have
// not started yet are discarded; running tasks always run to completion
// (or eviction by their own timeout).
func (q *Queue) Stop(immediate bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.stopped = true
	if immediate {
		if q.pendingCount > 0 {
			q.log.Warn(context.Background(), "discarding queued tasks", "count", q.pendingCount)
		}
		q.head, q.tail = nil, nil
		q.pendingCount = 0
	}
	q.checkDrainedLocked()
}

// Close performs a graceful stop and waits up to timeout for the queue to
// drain. When the timeout fires, the stop escalates to immediate, the base
// context is cancelled to nudge cooperative tasks, and Close keeps waiting
// for running tasks to finish or be reaped. The reaper stays alive through
// that wait: a task body that ignores its context (a blocking syscall) only
// leaves the running table when the reaper evicts it past its deadline, so
// stopping the reaper first would leave the drain unbounded. It returns
// common.ErrQueueStopped wrapped with a timeout note when escalation
// happened.
func (q *Queue) Close(timeout time.Duration) error {
	q.Stop(false)

	var escalated bool
	select {
	case <-q.drained:
	case <-time.After(timeout):
		escalated = true
		q.Stop(true)
		q.baseCancel()
		<-q.drained
	}

	q.baseCancel()
	q.reaperOnce.Do(func() { close(q.reaperStop) })
	<-q.reaperDone

	if escalated {
		return fmt.Errorf("drain timed out after %s: %w", timeout, common.ErrQueueStopped)
	}
	return nil
}

// Running returns the number of keys currently holding a run slot.
func (q *Queue) Running() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.running)
}

// Len returns the number of submitted tasks that have not started.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pendingCount
}

// Drained exposes the drain signal for callers that coordinate shutdown
// themselves.
func (q *Queue) Drained() <-chan struct{} {
	return q.drained
}
