// Package queue implements the bounded, single-consumer, many-producer FIFO
// that buffers events of one concrete type between producers and the worker
// that publishes them.
package queue

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Write when the queue has already been closed for
// writes.
var ErrClosed = errors.New("queue: closed for writes")

// ErrCancelled is returned by Write, WriteAll and WaitToRead when the caller's
// cancellation context is done before the operation could complete.
var ErrCancelled = errors.New("queue: cancelled")

// DefaultBoundedCapacity is the default depth of a bounded queue when the
// caller does not specify one.
const DefaultBoundedCapacity = 1_000_000

// Queue is a bounded FIFO of events of a single concrete type T. Zero or more
// producer goroutines call Write/WriteAll; exactly one consumer goroutine
// obtains a Reader and drains it. The zero value is not usable; construct
// with New.
type Queue[T any] struct {
	mu       sync.Mutex
	notFull  sync.Cond
	notEmpty sync.Cond

	items    []T
	capacity int // 0 means unbounded
	closed   bool

	reader *Reader[T]
}

// New constructs a Queue with the given bounded capacity. A capacity <= 0
// means unbounded (Write never blocks on capacity, only on cancellation).
func New[T any](capacity int) *Queue[T] {
	if capacity < 0 {
		capacity = 0
	}
	q := &Queue[T]{capacity: capacity}
	q.notFull = *sync.NewCond(&q.mu)
	q.notEmpty = *sync.NewCond(&q.mu)
	return q
}

// NewBounded constructs a Queue bounded at DefaultBoundedCapacity.
func NewBounded[T any]() *Queue[T] {
	return New[T](DefaultBoundedCapacity)
}

// NewUnbounded constructs a Queue with no capacity limit.
func NewUnbounded[T any]() *Queue[T] {
	return New[T](0)
}

// Write admits item to the queue, blocking while the queue is full. It
// returns true on admission. It returns false with ErrClosed if the queue has
// been closed for writes, or false with ErrCancelled if ctx is done before
// admission. Write never drops or overwrites; this is the system's central
// backpressure mechanism.
func (q *Queue[T]) Write(ctx context.Context, item T) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.capacity > 0 && len(q.items) >= q.capacity && !q.closed {
		if done, cancelled := q.waitLocked(ctx, &q.notFull); done {
			return false, cancelled
		}
	}

	if q.closed {
		return false, ErrClosed
	}

	q.items = append(q.items, item)
	q.notEmpty.Signal()
	return true, nil
}

// WriteAll writes each item in order using Write, short-circuiting on the
// first cancellation or closed-queue error. Items already written before the
// failure remain admitted; this is a best-effort bulk write, not all-or
// -nothing.
func (q *Queue[T]) WriteAll(ctx context.Context, items []T) error {
	for _, item := range items {
		if _, err := q.Write(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

// Close marks the queue closed for writes. Readers continue to drain any
// items already admitted; once drained, they observe end-of-stream. Close is
// idempotent.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}

// Reader returns the single reader handle for this queue, creating it on
// first call. Calling Reader more than once returns the same handle; the
// queue is designed for exactly one consumer.
func (q *Queue[T]) Reader() *Reader[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.reader == nil {
		q.reader = &Reader[T]{q: q}
	}
	return q.reader
}

// waitLocked blocks on cond until it is signalled or ctx is done. The mutex
// must be held on entry and is re-acquired before returning. It reports
// done=true when the caller should stop looping (either ctx fired, in which
// case cancelled carries ErrCancelled, or the predicate the caller is
// checking may now be true).
func (q *Queue[T]) waitLocked(ctx context.Context, cond *sync.Cond) (done bool, cancelled error) {
	if ctx == nil {
		cond.Wait()
		return false, nil
	}

	select {
	case <-ctx.Done():
		return true, ErrCancelled
	default:
	}

	// sync.Cond has no context-aware wait, so a watcher goroutine broadcasts
	// when ctx is cancelled to unstick Wait().
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			q.mu.Lock()
			cond.Broadcast()
			q.mu.Unlock()
		case <-stop:
		}
	}()

	cond.Wait()

	select {
	case <-ctx.Done():
		return true, ErrCancelled
	default:
		return false, nil
	}
}

// Reader exposes the consumer-side protocol over a Queue. It is not safe for
// concurrent use by more than one goroutine.
type Reader[T any] struct {
	q *Queue[T]
}

// WaitToRead blocks until at least one item is available to read or the
// queue is closed and drained (end-of-stream), or ctx is done. It reports
// ok=false once the queue is closed and empty (end-of-stream) or ErrCancelled
// if ctx fired first.
func (r *Reader[T]) WaitToRead(ctx context.Context) (ok bool, err error) {
	q := r.q
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		if done, cancelled := q.waitLocked(ctx, &q.notEmpty); done {
			return false, cancelled
		}
	}

	if len(q.items) == 0 && q.closed {
		return false, nil
	}
	return true, nil
}

// TryRead attempts a non-blocking read. It returns false if the queue is
// currently empty (whether or not it is closed).
func (r *Reader[T]) TryRead() (item T, ok bool) {
	q := r.q
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return item, false
	}

	item = q.items[0]
	q.items = q.items[1:]
	q.notFull.Signal()
	return item, true
}

// TryPeek reports, without consuming, whether at least one item is
// immediately readable. It returns promptly (never blocks) even if more items
// are about to arrive — this is what lets the worker flush a short batch at
// low throughput instead of waiting for it to fill.
func (r *Reader[T]) TryPeek() bool {
	q := r.q
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) > 0
}

// Len reports the number of items currently buffered. Intended for metrics
// sampling, not for control flow (the value is stale the instant it is read).
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Len reports the number of items currently buffered in the underlying
// queue, for metrics sampling by the worker that owns this reader.
func (r *Reader[T]) Len() int {
	return r.q.Len()
}
