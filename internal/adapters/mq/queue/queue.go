// Package queue provides the bounded in-memory queue batches are fanned out through.
package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/okian/insights/pkg/metrics"
)

const defaultQueueCapacity = 1024

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue[T any] interface {
	// Enqueue adds an item. It fails with ErrFull or ErrClosed instead of blocking.
	Enqueue(ctx context.Context, item T) error

	// Dequeue returns a channel that yields items until the queue is closed
	// and drained, or ctx is done.
	Dequeue(ctx context.Context) <-chan T

	// Len returns the number of buffered items.
	Len() int

	// Close stops accepting items. Buffered items can still be dequeued.
	Close() error
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue[T any] struct {
	items    chan T
	capacity int
	name     string

	mu     sync.RWMutex
	closed bool
}

var _ Queue[int] = (*InMemoryQueue[int])(nil)

// NewInMemoryQueue creates a bounded queue.
func NewInMemoryQueue[T any](opts ...Option) *InMemoryQueue[T] {
	s := settings{capacity: defaultQueueCapacity, name: "queue"}
	for _, opt := range opts {
		opt(&s)
	}

	q := &InMemoryQueue[T]{
		items:    make(chan T, s.capacity),
		capacity: s.capacity,
		name:     s.name,
	}
	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueSize(0)
	return q
}

// Enqueue adds item to the queue.
func (q *InMemoryQueue[T]) Enqueue(ctx context.Context, item T) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.reject("closed")
		return fmt.Errorf("%s: %w", q.name, ErrClosed)
	}
	if err := ctx.Err(); err != nil {
		q.reject("context_cancelled")
		return err
	}

	select {
	case q.items <- item:
		metrics.RecordQueueEnqueue()
		metrics.UpdateQueueSize(len(q.items))
		return nil
	default:
		q.reject("queue_full")
		return fmt.Errorf("%s: %w", q.name, ErrFull)
	}
}

// Dequeue returns a channel that yields buffered items.
func (q *InMemoryQueue[T]) Dequeue(ctx context.Context) <-chan T {
	out := make(chan T)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case item, ok := <-q.items:
				if !ok {
					return
				}
				select {
				case out <- item:
					metrics.RecordQueueDequeue()
					metrics.UpdateQueueSize(len(q.items))
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Len returns the number of buffered items.
func (q *InMemoryQueue[T]) Len() int {
	return len(q.items)
}

// Close stops accepting items. It is safe to call more than once.
func (q *InMemoryQueue[T]) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	close(q.items)
	q.closed = true
	return nil
}

// IsClosed reports whether Close was called.
func (q *InMemoryQueue[T]) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}

func (q *InMemoryQueue[T]) reject(reason string) {
	metrics.RecordQueueEnqueueError()
	metrics.RecordErrorByComponent(q.name, reason)
}
