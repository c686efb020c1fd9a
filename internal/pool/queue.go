package pool

import (
	"errors"
	"sync"
)

// ErrQueueSealed is returned when items are pushed after the pool started.
var ErrQueueSealed = errors.New("pool: queue already started")

// Queue is the FIFO shared by all workers of one run.
//
// It is filled in bulk before Run and drained by the workers; the lock is
// only held for queue bookkeeping, never while an item is processed.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	head   int
	sealed bool
}

func NewQueue[T any](items ...T) *Queue[T] {
	q := &Queue[T]{}
	q.items = append(q.items, items...)
	return q
}

// Populate appends items to the back of the queue. It fails once the queue
// has been handed to Run.
func (q *Queue[T]) Populate(items ...T) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.sealed {
		return ErrQueueSealed
	}
	q.items = append(q.items, items...)
	return nil
}

// Len returns the number of pending items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

func (q *Queue[T]) seal() {
	q.mu.Lock()
	q.sealed = true
	q.mu.Unlock()
}

// pop removes the front item. pending is the queue length before the pop;
// before runs under the lock with that length, so progress reports are
// serialized with dequeues.
func (q *Queue[T]) pop(before func(pending int)) (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	pending := len(q.items) - q.head
	if pending == 0 {
		return item, false
	}
	if before != nil {
		before(pending)
	}

	item = q.items[q.head]
	var zero T
	q.items[q.head] = zero
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	}
	return item, true
}
