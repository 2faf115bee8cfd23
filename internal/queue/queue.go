// Package queue implements the four-level priority work queue described in
// spec §4.C: one FIFO per priority, bounded capacity, pause/resume, and a
// metrics snapshot that is always consistent with the Data Model invariants.
package queue

import (
	"math"
	"sync"

	"github.com/standardbeagle/probelsp/internal/types"
)

// Unlimited is the capacity value meaning "no cap".
const Unlimited = math.MaxInt

// Queue is a bounded, four-level priority FIFO. The zero value is not
// usable; construct with New.
type Queue struct {
	mu     sync.Mutex
	levels [4][]types.QueueItem
	cap    int
	paused bool

	nextID        uint64
	totalEnqueued uint64
	totalDequeued uint64
	estBytes      int64
}

// New creates a queue with the given capacity. Pass Unlimited for no cap.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = Unlimited
	}
	return &Queue{cap: capacity}
}

// NextID returns a fresh monotonically increasing id for a new item. Callers
// building a QueueItem should set Item.ID to this value before Enqueue.
func (q *Queue) NextID() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextID++
	return q.nextID
}

func (q *Queue) total() int {
	n := 0
	for _, l := range q.levels {
		n += len(l)
	}
	return n
}

// Enqueue appends item into its priority's sub-queue. Returns false without
// any side effect if the queue is paused or already at capacity.
func (q *Queue) Enqueue(item types.QueueItem) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.enqueueLocked(item)
}

func (q *Queue) enqueueLocked(item types.QueueItem) bool {
	if q.paused {
		return false
	}
	if !item.Priority.Valid() {
		return false
	}
	if q.total()+1 > q.cap {
		return false
	}
	q.levels[item.Priority] = append(q.levels[item.Priority], item)
	q.totalEnqueued++
	q.estBytes += item.EstSize
	return true
}

// EnqueueBatch enqueues items in order. It is observationally equivalent to
// calling Enqueue on each item in sequence: the result slice reports the
// per-item outcome so callers can tell which were accepted.
func (q *Queue) EnqueueBatch(items []types.QueueItem) []bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	ok := make([]bool, len(items))
	for i, item := range items {
		ok[i] = q.enqueueLocked(item)
	}
	return ok
}

// Dequeue returns the head of the highest non-empty priority sub-queue. Ties
// within a priority are broken by insertion order (FIFO).
func (q *Queue) Dequeue() (types.QueueItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.paused {
		return types.QueueItem{}, false
	}
	for p := types.PriorityCritical; p >= types.PriorityLow; p-- {
		l := q.levels[p]
		if len(l) == 0 {
			continue
		}
		item := l[0]
		q.levels[p] = l[1:]
		q.totalDequeued++
		q.estBytes -= item.EstSize
		return item, true
	}
	return types.QueueItem{}, false
}

// LenForPriority returns the exact count held in one sub-queue.
func (q *Queue) LenForPriority(p types.Priority) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !p.Valid() {
		return 0
	}
	return len(q.levels[p])
}

// ClearPriority drains the sub-queue for p and returns how many items were
// removed.
func (q *Queue) ClearPriority(p types.Priority) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !p.Valid() {
		return 0
	}
	n := len(q.levels[p])
	for _, item := range q.levels[p] {
		q.estBytes -= item.EstSize
	}
	q.levels[p] = nil
	q.totalDequeued += uint64(n)
	return n
}

// RemoveMatching deletes every item for which pred returns true, preserving
// the relative order of survivors, and returns the count removed.
func (q *Queue) RemoveMatching(pred func(types.QueueItem) bool) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	removed := 0
	for p := range q.levels {
		kept := q.levels[p][:0]
		for _, item := range q.levels[p] {
			if pred(item) {
				removed++
				q.totalDequeued++
				q.estBytes -= item.EstSize
				continue
			}
			kept = append(kept, item)
		}
		q.levels[p] = kept
	}
	return removed
}

// Pause stops enqueue/dequeue from succeeding until Resume is called.
func (q *Queue) Pause() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused = true
}

// Resume lifts a prior Pause.
func (q *Queue) Resume() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused = false
}

// IsPaused reports the current embargo state.
func (q *Queue) IsPaused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused
}

// GetMetrics returns a snapshot consistent with the invariants of §3: total
// equals the sum of per-priority counts, and enqueued-minus-dequeued equals
// total.
func (q *Queue) GetMetrics() types.QueueMetrics {
	q.mu.Lock()
	defer q.mu.Unlock()
	m := types.QueueMetrics{
		PerPriority:         make(map[types.Priority]int, 4),
		EstimatedTotalBytes: q.estBytes,
		TotalEnqueued:       q.totalEnqueued,
		TotalDequeued:       q.totalDequeued,
	}
	for p, l := range q.levels {
		m.PerPriority[types.Priority(p)] = len(l)
		m.Total += len(l)
	}
	if q.cap != Unlimited && q.cap > 0 {
		m.Utilization = float64(m.Total) / float64(q.cap)
	}
	return m
}

// Capacity returns the configured capacity (Unlimited if uncapped).
func (q *Queue) Capacity() int {
	return q.cap
}
