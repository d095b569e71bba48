// Package memory provides the in-process job queue used by platform workers.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/apicrawler/internal/crawler"
)

// ErrClosed is returned by Enqueue after Close, and by Dequeue once a closed
// queue is drained.
var ErrClosed = errors.New("queue closed")

const compactThreshold = 32

// Queue is an unbounded FIFO with a blocking, context-aware Dequeue.
type Queue struct {
	mu     sync.Mutex
	items  []*crawler.Job
	head   int
	ready  chan struct{}
	closed bool
}

// NewQueue constructs an empty queue.
func NewQueue() *Queue {
	return &Queue{ready: make(chan struct{}, 1)}
}

// Enqueue appends a job at the tail. It never blocks.
func (q *Queue) Enqueue(ctx context.Context, job *crawler.Job) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("enqueue canceled: %w", err)
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items = append(q.items, job)
	q.mu.Unlock()
	q.signal()
	return nil
}

// Dequeue pops the head job, blocking until one is available or ctx ends.
func (q *Queue) Dequeue(ctx context.Context) (*crawler.Job, error) {
	for {
		q.mu.Lock()
		if n := len(q.items) - q.head; n > 0 {
			job := q.items[q.head]
			q.items[q.head] = nil
			q.head++
			switch {
			case q.head == len(q.items):
				q.items = q.items[:0]
				q.head = 0
			case q.head >= compactThreshold && q.head*2 >= len(q.items):
				// Requeued jobs keep the queue from draining; reclaim the
				// consumed prefix.
				live := copy(q.items, q.items[q.head:])
				clear(q.items[live:])
				q.items = q.items[:live]
				q.head = 0
			}
			more := n > 1
			q.mu.Unlock()
			if more {
				q.signal()
			}
			return job, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, ErrClosed
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case <-q.ready:
		}
	}
}

// Len returns the number of pending jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// Close stops accepting jobs and wakes blocked consumers. Pending jobs can
// still be dequeued.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ready)
}

func (q *Queue) signal() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
