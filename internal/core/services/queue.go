package services

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
)

// IndexingQueue is a deduplicating two-tier priority queue of paths.
// HIGH items are always served before NORMAL items, FIFO within a tier.
// A path is tracked from the moment it is enqueued until it is dequeued;
// both sets change under the same lock.
type IndexingQueue struct {
	mu      sync.Mutex
	items   itemHeap
	tracked map[string]struct{}
	paused  bool
	seq     uint64

	// claimed counts dequeued items not yet released with Done.
	claimed int

	// wake is signalled when an item arrives or the queue resumes.
	wake chan struct{}

	now func() time.Time
}

// NewIndexingQueue creates an empty, running queue.
func NewIndexingQueue() *IndexingQueue {
	return &IndexingQueue{
		tracked: make(map[string]struct{}),
		wake:    make(chan struct{}, 1),
		now:     time.Now,
	}
}

// Enqueue adds path at the given priority.
// It returns false without changing anything if the path is already pending.
func (q *IndexingQueue) Enqueue(path string, priority domain.Priority) bool {
	q.mu.Lock()
	if _, ok := q.tracked[path]; ok {
		q.mu.Unlock()
		return false
	}
	q.seq++
	heap.Push(&q.items, &queueEntry{
		item: domain.QueueItem{Path: path, Priority: priority, EnqueuedAt: q.now()},
		seq:  q.seq,
	})
	q.tracked[path] = struct{}{}
	q.mu.Unlock()

	q.signal()
	return true
}

// Dequeue returns the next item, waiting up to timeout while the queue is
// empty or paused. It returns false on timeout or context cancellation.
func (q *IndexingQueue) Dequeue(ctx context.Context, timeout time.Duration) (domain.QueueItem, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if item, ok := q.tryDequeue(); ok {
			return item, true
		}
		select {
		case <-ctx.Done():
			return domain.QueueItem{}, false
		case <-timer.C:
			return domain.QueueItem{}, false
		case <-q.wake:
		}
	}
}

func (q *IndexingQueue) tryDequeue() (domain.QueueItem, bool) {
	q.mu.Lock()
	if q.paused || q.items.Len() == 0 {
		q.mu.Unlock()
		return domain.QueueItem{}, false
	}
	entry := heap.Pop(&q.items).(*queueEntry)
	delete(q.tracked, entry.item.Path)
	q.claimed++
	more := q.items.Len() > 0
	q.mu.Unlock()

	// Pass the wake-up on so another waiting consumer sees the remainder.
	if more {
		q.signal()
	}
	return entry.item, true
}

// Pause stops Dequeue from yielding items. Queued work is kept.
func (q *IndexingQueue) Pause() {
	q.mu.Lock()
	q.paused = true
	q.mu.Unlock()
}

// Resume lets Dequeue yield items again.
func (q *IndexingQueue) Resume() {
	q.mu.Lock()
	q.paused = false
	q.mu.Unlock()
	q.signal()
}

// Paused reports whether the queue is paused.
func (q *IndexingQueue) Paused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused
}

// Clear drops every pending item and returns how many were dropped.
// Items already dequeued are unaffected.
func (q *IndexingQueue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.items.Len()
	q.items = nil
	q.tracked = make(map[string]struct{})
	return n
}

// Len returns the number of pending items.
func (q *IndexingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Pending returns the number of pending items per tier.
func (q *IndexingQueue) Pending() (high, normal int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.items {
		if e.item.Priority == domain.PriorityHigh {
			high++
		} else {
			normal++
		}
	}
	return high, normal
}

// Done releases a dequeued item once its processing has finished.
func (q *IndexingQueue) Done() {
	q.mu.Lock()
	if q.claimed > 0 {
		q.claimed--
	}
	q.mu.Unlock()
}

// Outstanding returns pending items plus dequeued items not yet released.
// Zero means every enqueued path has been fully handled.
func (q *IndexingQueue) Outstanding() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len() + q.claimed
}

// Contains reports whether path is pending.
func (q *IndexingQueue) Contains(path string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.tracked[path]
	return ok
}

func (q *IndexingQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

type queueEntry struct {
	item domain.QueueItem
	seq  uint64
}

// itemHeap orders entries by priority, then by arrival.
type itemHeap []*queueEntry

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].item.Priority != h[j].item.Priority {
		return h[i].item.Priority > h[j].item.Priority
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) { *h = append(*h, x.(*queueEntry)) }

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}
