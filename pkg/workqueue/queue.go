// Package workqueue provides an unbounded FIFO work queue with in-flight
// tracking. An item handed out by Get stays "in flight" until the worker
// calls Ack, so AwaitDrained can tell the difference between an empty queue
// and a finished one. This is the completion-detection primitive used to
// decide when a pipeline stage has fully settled.
//
// The queue is generic over the item type T and safe for any number of
// concurrent producers, consumers, and drain waiters.
package workqueue

import (
	"context"
	"sync"
)

// Queue is an unbounded FIFO queue of T with acknowledgement tracking.
type Queue[T any] struct {
	mu       sync.Mutex
	ready    *sync.Cond // signals new items, acks, and context wake-ups
	items    []T
	inflight int
}

// New returns an empty queue.
func New[T any]() *Queue[T] {
	q := &Queue[T]{}
	q.ready = sync.NewCond(&q.mu)
	return q
}

// Put appends an item. It never blocks; the queue grows as needed.
func (q *Queue[T]) Put(item T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
	q.ready.Broadcast()
}

// Get blocks until an item is available or the context is done. On success
// the item is moved from pending to in-flight and must eventually be
// acknowledged with Ack, even if the caller fails to process it.
func (q *Queue[T]) Get(ctx context.Context) (T, error) {
	defer q.wakeOnDone(ctx)()

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 {
		if err := ctx.Err(); err != nil {
			var zero T
			return zero, err
		}
		q.ready.Wait()
	}
	item := q.items[0]
	q.items = q.items[1:]
	q.inflight++
	return item, nil
}

// Ack marks one previously dequeued item as done. Calling Ack more times
// than Get panics, as that would corrupt drain detection.
func (q *Queue[T]) Ack() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.inflight == 0 {
		panic("workqueue: Ack called more times than Get")
	}
	q.inflight--
	q.ready.Broadcast()
}

// AwaitDrained blocks until the queue has no pending and no in-flight items,
// or the context is done. Any number of callers may wait; all are released
// when the queue drains.
func (q *Queue[T]) AwaitDrained(ctx context.Context) error {
	defer q.wakeOnDone(ctx)()

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) > 0 || q.inflight > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		q.ready.Wait()
	}
	return nil
}

// wakeOnDone broadcasts to cond waiters when the context is cancelled so
// they can observe ctx.Err instead of sleeping forever. The callback takes
// the lock before broadcasting: a waiter is either still holding it (and
// will re-check ctx.Err before waiting) or already parked in Wait, so the
// wake-up cannot slip into the gap between the check and the wait.
func (q *Queue[T]) wakeOnDone(ctx context.Context) func() bool {
	return context.AfterFunc(ctx, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		q.ready.Broadcast()
	})
}

// Len returns the number of pending (not yet dequeued) items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// InFlight returns the number of dequeued but not yet acknowledged items.
func (q *Queue[T]) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inflight
}
