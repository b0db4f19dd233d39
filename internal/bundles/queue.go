package bundles

import (
	"context"
	"sync"
)

// QueueItem is one pending bundle in either pipeline stage's work queue.
type QueueItem struct {
	BundleID     string
	ParentID     [32]byte
	RootTxID     string
	BypassFilter bool
	TempPath     string // set by Stage A before handoff to Stage B
}

// Queue is a bounded deque supporting queue(item, prioritized): push to the
// tail for ordinary arrivals, push to the head (unshift) for prioritized
// ones, with Pop always taking from the head. Bounded by capacity so a slow
// downstream stage applies backpressure to its upstream producer, per §4.6's
// two-stage queue discipline.
type Queue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	items    []QueueItem
	capacity int
	closed   bool
}

// NewQueue builds a Queue with the given capacity. capacity <= 0 means
// unbounded.
func NewQueue(capacity int) *Queue {
	q := &Queue{capacity: capacity}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push enqueues item, blocking while the queue is at capacity. If
// prioritized, item is placed at the head (served before anything already
// queued); otherwise it is appended at the tail.
func (q *Queue) Push(ctx context.Context, item QueueItem, prioritized bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.capacity > 0 && len(q.items) >= q.capacity && !q.closed {
		if !q.waitOrCanceled(ctx) {
			return ctx.Err()
		}
	}
	if q.closed {
		return context.Canceled
	}
	if prioritized {
		q.items = append([]QueueItem{item}, q.items...)
	} else {
		q.items = append(q.items, item)
	}
	q.cond.Broadcast()
	return nil
}

// Pop removes and returns the item at the head of the queue, blocking until
// one is available, the queue is closed and drained, or ctx is canceled.
func (q *Queue) Pop(ctx context.Context) (QueueItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 {
		if q.closed {
			return QueueItem{}, false
		}
		if !q.waitOrCanceled(ctx) {
			return QueueItem{}, false
		}
	}
	item := q.items[0]
	q.items = q.items[1:]
	q.cond.Broadcast()
	return item, true
}

// Close unblocks any waiting Push/Pop callers; once closed and drained, Pop
// returns ok=false.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// waitOrCanceled blocks on q.cond until woken, returning false if ctx is
// already canceled. sync.Cond has no context-aware wait, so cancellation is
// delivered by a watcher goroutine that broadcasts on ctx.Done().
func (q *Queue) waitOrCanceled(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	done := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
		close(done)
	})
	q.cond.Wait()
	stop()
	select {
	case <-done:
	default:
	}
	return ctx.Err() == nil
}
