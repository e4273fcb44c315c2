package broker

import (
	"container/heap"
	"sync"
)

// queuedEvent pairs an event with its arrival sequence so ordering is stable
// even when timestamps collide.
type queuedEvent struct {
	ev  *Event
	seq uint64
}

// eventHeap implements heap.Interface: priority descending, then ingestion
// time ascending (oldest first), then arrival sequence.
type eventHeap []*queuedEvent

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	if h[i].ev.Priority != h[j].ev.Priority {
		return h[i].ev.Priority > h[j].ev.Priority
	}
	if !h[i].ev.Timestamp.Equal(h[j].ev.Timestamp) {
		return h[i].ev.Timestamp.Before(h[j].ev.Timestamp)
	}
	return h[i].seq < h[j].seq
}

func (h eventHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

func (h *eventHeap) Push(x interface{}) {
	*h = append(*h, x.(*queuedEvent))
}

func (h *eventHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // avoid memory leak
	*h = old[0 : n-1]
	return item
}

// eventQueue is the ingestion buffer between Emit and the dispatch worker.
// It is bounded: when full, the oldest entry of the lowest pending priority
// is dropped so critical traffic survives sustained overload. maxSize <= 0
// means unbounded.
type eventQueue struct {
	mu      sync.Mutex
	h       eventHeap
	seq     uint64
	maxSize int
}

func newEventQueue(maxSize int) *eventQueue {
	return &eventQueue{
		h:       make(eventHeap, 0),
		maxSize: maxSize,
	}
}

// Push enqueues an event and returns the event evicted by the bound, if any.
// When the queue is full and the incoming event is itself the lowest
// priority pending, the incoming event is the one dropped.
func (q *eventQueue) Push(ev *Event) *Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	var dropped *Event
	if q.maxSize > 0 && len(q.h) >= q.maxSize {
		idx := q.worstLocked()
		if q.h[idx].ev.Priority >= ev.Priority {
			return ev
		}
		dropped = heap.Remove(&q.h, idx).(*queuedEvent).ev
	}

	q.seq++
	heap.Push(&q.h, &queuedEvent{ev: ev, seq: q.seq})
	return dropped
}

// PopBatch removes up to n events in dispatch order, leaving the remainder
// queued for the next tick.
func (q *eventQueue) PopBatch(n int) []*Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n > len(q.h) {
		n = len(q.h)
	}
	batch := make([]*Event, 0, n)
	for i := 0; i < n; i++ {
		batch = append(batch, heap.Pop(&q.h).(*queuedEvent).ev)
	}
	return batch
}

func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.h)
}

// worstLocked finds the index of the lowest-priority, oldest entry. Linear
// scan; only runs when the queue is at its bound.
func (q *eventQueue) worstLocked() int {
	worst := 0
	for i := 1; i < len(q.h); i++ {
		w, c := q.h[worst], q.h[i]
		if c.ev.Priority < w.ev.Priority ||
			(c.ev.Priority == w.ev.Priority && c.seq < w.seq) {
			worst = i
		}
	}
	return worst
}
