package workqueue

import (
	"container/heap"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// entry is a live queue member waiting to become visible.
type entry[T comparable] struct {
	item      T
	notBefore time.Time
	seq       uint64
	index     int
}

// waitHeap orders entries by due time, insertion order on ties.
type waitHeap[T comparable] []*entry[T]

func (h waitHeap[T]) Len() int { return len(h) }

func (h waitHeap[T]) Less(i, j int) bool {
	if h[i].notBefore.Equal(h[j].notBefore) {
		return h[i].seq < h[j].seq
	}

	return h[i].notBefore.Before(h[j].notBefore)
}

func (h waitHeap[T]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *waitHeap[T]) Push(x any) {
	e, _ := x.(*entry[T])
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *waitHeap[T]) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]

	return e
}

// Queue is a deduplicating, delay-capable work queue. The zero value is not
// usable; construct with New or NewWithClock.
type Queue[T comparable] struct {
	mu   sync.Mutex
	cond *sync.Cond

	clock clock.WithDelayedExecution

	waiting    waitHeap[T]
	entries    map[T]*entry[T]
	processing map[T]struct{}
	dirty      map[T]struct{}
	attempts   map[T]int

	seq          uint64
	wakeAt       time.Time
	wakeTimer    clock.Timer
	shuttingDown bool
}

// New returns an empty queue driven by the wall clock.
func New[T comparable]() *Queue[T] {
	return NewWithClock[T](clock.RealClock{})
}

// NewWithClock returns an empty queue driven by the given clock. Tests pass a
// fake clock to control item visibility deterministically.
func NewWithClock[T comparable](c clock.WithDelayedExecution) *Queue[T] {
	q := &Queue[T]{
		clock:      c,
		entries:    make(map[T]*entry[T]),
		processing: make(map[T]struct{}),
		dirty:      make(map[T]struct{}),
		attempts:   make(map[T]int),
	}
	q.cond = sync.NewCond(&q.mu)

	return q
}

// Add enqueues item with immediate visibility. If item is already queued this
// is a merge, not a duplicate; if item is in flight it is marked dirty and
// re-queued when Done is called for it.
func (q *Queue[T]) Add(item T) {
	q.AddAfter(item, 0)
}

// AddAfter enqueues item with visibility no sooner than d from now. Negative
// durations count as zero. When an entry for item already exists the earlier
// due time wins; work that was already eligible is never pushed back.
func (q *Queue[T]) AddAfter(item T, d time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.shuttingDown {
		return
	}

	if d < 0 {
		d = 0
	}

	now := q.clock.Now()
	due := now.Add(d)

	if e, ok := q.entries[item]; ok {
		if due.Before(e.notBefore) {
			e.notBefore = due
			heap.Fix(&q.waiting, e.index)
			q.notify(due, now)
		}

		return
	}

	if _, inFlight := q.processing[item]; inFlight && d == 0 {
		q.dirty[item] = struct{}{}

		return
	}

	q.seq++
	e := &entry[T]{item: item, notBefore: due, seq: q.seq}
	q.entries[item] = e
	heap.Push(&q.waiting, e)
	q.notify(due, now)
}

// notify wakes a consumer for an entry due at t. Callers hold q.mu.
func (q *Queue[T]) notify(t, now time.Time) {
	if !t.After(now) {
		q.cond.Signal()

		return
	}

	q.armWake(t, now)
}

// armWake schedules the single wake timer for t unless an earlier wake is
// already pending. Callers hold q.mu.
func (q *Queue[T]) armWake(t, now time.Time) {
	if !q.wakeAt.IsZero() && !t.Before(q.wakeAt) {
		return
	}

	if q.wakeTimer != nil {
		q.wakeTimer.Stop()
	}

	q.wakeAt = t
	// The clock may invoke the callback while holding its own lock; hop to a
	// goroutine before taking q.mu.
	q.wakeTimer = q.clock.AfterFunc(t.Sub(now), func() { go q.wake() })
}

func (q *Queue[T]) wake() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.wakeAt = time.Time{}
	q.wakeTimer = nil
	q.cond.Broadcast()
}

// Get blocks until a due, non-in-flight item is available and returns it,
// marking it in flight until Done. It returns shutdown = true once the queue
// has been shut down and drained.
func (q *Queue[T]) Get() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		now := q.clock.Now()

		for q.waiting.Len() > 0 {
			top := q.waiting[0]
			if top.notBefore.After(now) {
				break
			}

			popped, _ := heap.Pop(&q.waiting).(*entry[T])
			delete(q.entries, popped.item)

			// A due entry for a key still being processed collapses
			// into the dirty marker; Done re-queues it.
			if _, inFlight := q.processing[popped.item]; inFlight {
				q.dirty[popped.item] = struct{}{}

				continue
			}

			q.processing[popped.item] = struct{}{}

			return popped.item, false
		}

		if q.shuttingDown && q.waiting.Len() == 0 {
			var zero T

			return zero, true
		}

		if q.waiting.Len() > 0 {
			q.armWake(q.waiting[0].notBefore, now)
		}

		q.cond.Wait()
	}
}

// Done clears the in-flight marker for item. If the item went dirty while in
// flight it is re-queued with immediate visibility.
func (q *Queue[T]) Done(item T) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.processing, item)

	if _, isDirty := q.dirty[item]; !isDirty {
		return
	}

	delete(q.dirty, item)

	if q.shuttingDown {
		return
	}

	now := q.clock.Now()

	// A held entry may have appeared while the item was in flight; the
	// dirty re-add makes it due now.
	if e, queued := q.entries[item]; queued {
		if now.Before(e.notBefore) {
			e.notBefore = now
			heap.Fix(&q.waiting, e.index)
		}

		q.cond.Signal()

		return
	}

	q.seq++
	e := &entry[T]{item: item, notBefore: now, seq: q.seq}
	q.entries[item] = e
	heap.Push(&q.waiting, e)
	q.cond.Signal()
}

// Fail records one more consecutive failure for item and returns the streak
// length. The counter resets on Forget.
func (q *Queue[T]) Fail(item T) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.attempts[item]++

	return q.attempts[item]
}

// NumRequeues returns the current consecutive-failure streak for item.
func (q *Queue[T]) NumRequeues(item T) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.attempts[item]
}

// Forget resets the failure streak for item. Queue membership is unaffected.
func (q *Queue[T]) Forget(item T) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.attempts, item)
}

// Len reports the number of live entries, due or held.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.entries)
}

// ShuttingDown reports whether ShutDown has been called.
func (q *Queue[T]) ShuttingDown() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.shuttingDown
}

// ShutDown closes the queue. Items already due keep draining to Get; items
// held for the future are dropped; further adds are ignored.
func (q *Queue[T]) ShutDown() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.shuttingDown {
		return
	}

	q.shuttingDown = true
	now := q.clock.Now()

	kept := q.waiting[:0]

	for _, e := range q.waiting {
		if e.notBefore.After(now) {
			delete(q.entries, e.item)

			continue
		}

		kept = append(kept, e)
	}

	for i, e := range kept {
		e.index = i
	}

	q.waiting = kept
	heap.Init(&q.waiting)

	if q.wakeTimer != nil {
		q.wakeTimer.Stop()
		q.wakeTimer = nil
		q.wakeAt = time.Time{}
	}

	q.cond.Broadcast()
}
