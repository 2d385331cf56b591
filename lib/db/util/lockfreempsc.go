// Package util provides a lock-free Multi-Producer Single-Consumer (MPSC) queue.
//
// Features and Guarantees:
//
//   - Lock-Free Push: producers append with CompareAndSwap on the tail node and never
//     block each other or the consumer
//   - Unbounded Size: the queue grows as needed, a producer never waits for the consumer
//   - Single Consumer: exactly one goroutine reads the Recv() channel
//   - Close Drains: items pushed before Close are still delivered, after that the
//     Recv() channel is closed
//   - Per-Producer Order: items of a single producer are delivered in push order. Across
//     producers the order is decided by which CompareAndSwap succeeds first.
package util

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// node is a single element of the linked list backing the queue
type node[T any] struct {
	value *T
	next  atomic.Pointer[node[T]]
}

// LockFreeMPSC is a lock-free multi-producer single-consumer queue.
// Producers link new nodes behind the tail, a dedicated goroutine moves them
// from the head into the output channel.
type LockFreeMPSC[T any] struct {
	head   atomic.Pointer[node[T]]
	tail   atomic.Pointer[node[T]]
	out    chan *T
	closed atomic.Bool

	// wakeup for the mover goroutine when the list is empty
	mu   sync.Mutex
	cond *sync.Cond
}

// NewLockFreeMPSC creates a new queue and starts its mover goroutine.
// The goroutine exits after Close once every pushed item was delivered.
func NewLockFreeMPSC[T any]() *LockFreeMPSC[T] {
	sentinel := &node[T]{}

	q := &LockFreeMPSC[T]{
		out: make(chan *T),
	}
	q.cond = sync.NewCond(&q.mu)
	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	go q.move()

	return q
}

// Push appends value to the queue.
// Returns false if value is nil or the queue is closed.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (q *LockFreeMPSC[T]) Push(value *T) bool {
	if value == nil || q.closed.Load() {
		return false
	}

	n := &node[T]{value: value}

	for spins := 0; ; spins++ {
		tail := q.tail.Load()
		next := tail.next.Load()

		if next != nil {
			// another producer linked a node but has not moved the tail yet
			q.tail.CompareAndSwap(tail, next)
			continue
		}

		if tail.next.CompareAndSwap(nil, n) {
			q.tail.CompareAndSwap(tail, n)

			q.mu.Lock()
			q.cond.Signal()
			q.mu.Unlock()
			return true
		}

		// lost the race against another producer
		if spins > 8 {
			runtime.Gosched()
		}
	}
}

// move forwards items from the linked list into the output channel
func (q *LockFreeMPSC[T]) move() {
	defer close(q.out)

	for {
		head := q.head.Load()
		next := head.next.Load()

		if next != nil {
			value := next.value
			q.head.Store(next)
			q.out <- value
			next.value = nil // the node is the new sentinel, drop the reference
			continue
		}

		if q.closed.Load() {
			return
		}

		q.mu.Lock()
		if q.head.Load().next.Load() == nil && !q.closed.Load() {
			q.cond.Wait()
		}
		q.mu.Unlock()
	}
}

// Recv returns the receive-only output channel of the queue.
// The channel is closed after Close once all pending items were received.
func (q *LockFreeMPSC[T]) Recv() <-chan *T {
	return q.out
}

// Close stops accepting new items. Items already in the queue are still delivered.
func (q *LockFreeMPSC[T]) Close() {
	q.closed.Store(true)

	q.mu.Lock()
	q.cond.Signal()
	q.mu.Unlock()
}

// Len returns the number of items not yet handed to the output channel.
// This is O(n) and should only be used for debugging and metrics.
func (q *LockFreeMPSC[T]) Len() int {
	count := 0
	for n := q.head.Load().next.Load(); n != nil; n = n.next.Load() {
		count++
	}
	return count
}
