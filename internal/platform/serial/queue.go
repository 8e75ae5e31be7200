// Package serial provides single-goroutine execution contexts.
//
// The sync core funnels every local-store mutation through one Queue and
// delivers every change notification through another, so tasks on the same
// queue never run concurrently and run in submission order.
package serial

import (
	"context"
	"errors"
	"sync"

	"github.com/m-mizutani/goerr/v2"

	"github.com/Overland-East-Bay/club-sync/internal/platform/logging"
)

// ErrClosed is returned when work is submitted after Close.
var ErrClosed = errors.New("serial queue closed")

type queueKey struct{}

// Queue runs submitted tasks one at a time, FIFO, on a dedicated goroutine.
// The pending list is unbounded so Go never blocks the submitter.
type Queue struct {
	name string

	mu      sync.Mutex
	pending []func(ctx context.Context)
	closed  bool
	wake    chan struct{}
	done    chan struct{}
}

// New starts a queue. name shows up in logs only.
func New(name string) *Queue {
	q := &Queue{
		name: name,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *Queue) Name() string { return q.name }

// Go enqueues fn without waiting for it.
func (q *Queue) Go(fn func(ctx context.Context)) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.pending = append(q.pending, fn)
	select {
	case q.wake <- struct{}{}:
	default:
	}
	q.mu.Unlock()
	return nil
}

// Do runs fn on the queue and waits for its result. When ctx already belongs
// to a task of this queue, fn runs inline; nesting never deadlocks.
//
// If ctx is cancelled before fn starts, Do returns ctx.Err() and fn is skipped.
// Once fn has started, Do waits for it to finish.
func (q *Queue) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if On(ctx, q) {
		return fn(ctx)
	}

	var (
		errc    = make(chan error, 1)
		startMu sync.Mutex
		started bool
		skipped bool
	)
	err := q.Go(func(qctx context.Context) {
		startMu.Lock()
		if skipped {
			startMu.Unlock()
			return
		}
		started = true
		startMu.Unlock()
		errc <- fn(withParent(qctx, ctx))
	})
	if err != nil {
		return err
	}

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		startMu.Lock()
		if !started {
			skipped = true
			startMu.Unlock()
			return ctx.Err()
		}
		startMu.Unlock()
		return <-errc
	}
}

// Barrier waits until every task enqueued before the call has finished.
func (q *Queue) Barrier(ctx context.Context) error {
	return q.Do(ctx, func(context.Context) error { return nil })
}

// Close stops accepting work, runs what is already queued and waits for the
// worker to exit. It is safe to call more than once.
func (q *Queue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.wake)
	}
	q.mu.Unlock()
	<-q.done
}

// On reports whether ctx was handed to a task running on q.
func On(ctx context.Context, q *Queue) bool {
	cur, _ := ctx.Value(queueKey{}).(*Queue)
	return cur == q
}

func (q *Queue) run() {
	defer close(q.done)
	base := context.WithValue(context.Background(), queueKey{}, q)

	for {
		q.mu.Lock()
		tasks := q.pending
		q.pending = nil
		closed := q.closed
		q.mu.Unlock()

		for _, task := range tasks {
			q.exec(base, task)
		}
		if len(tasks) > 0 {
			continue
		}
		if closed {
			return
		}
		<-q.wake
	}
}

func (q *Queue) exec(ctx context.Context, task func(ctx context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			logging.Default().Error("panic in serial task",
				"queue", q.name,
				"error", goerr.New("task panicked", goerr.V("panic", r)))
		}
	}()
	task(ctx)
}

// parentCtx carries the submitter's values and cancellation while keeping
// the queue marker of the running task.
type parentCtx struct {
	context.Context
	queue context.Context
}

func withParent(qctx, parent context.Context) context.Context {
	return parentCtx{Context: parent, queue: qctx}
}

func (c parentCtx) Value(key any) any {
	if _, ok := key.(queueKey); ok {
		return c.queue.Value(key)
	}
	return c.Context.Value(key)
}
