package jobs

import (
	"container/heap"
	"errors"
	"slices"
	"sync"
)

// ErrNilWorkUnit is returned when attempting to push a nil work unit.
var ErrNilWorkUnit = errors.New("cannot push nil work unit")

// Priority levels for work units. Higher values are taken first.
const (
	PriorityLow    = 0
	PriorityNormal = 10 // batch pages and script chunks
	PriorityHigh   = 20 // one-off regeneration
)

// PriorityQueue is the shared queue the workers of a run pull from. Units
// with a higher Priority come out first; equal priorities keep push order,
// so pages are submitted in script order.
type PriorityQueue struct {
	mu      sync.Mutex
	entries queueHeap
	pushed  uint64
}

// NewPriorityQueue creates an empty queue.
func NewPriorityQueue() *PriorityQueue {
	return &PriorityQueue{}
}

// Push adds a work unit to the queue.
func (q *PriorityQueue) Push(unit *WorkUnit) error {
	if unit == nil {
		return ErrNilWorkUnit
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pushed++
	heap.Push(&q.entries, queueEntry{unit: unit, order: q.pushed})
	return nil
}

// TryPop removes the next unit, or returns nil when the queue is empty.
func (q *PriorityQueue) TryPop() *WorkUnit {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return nil
	}
	return heap.Pop(&q.entries).(queueEntry).unit
}

// Len returns the number of queued units.
func (q *PriorityQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Pending returns the sorted page numbers of every queued unit. After a
// cancelled run these are the pages that stayed idle.
func (q *PriorityQueue) Pending() []int {
	q.mu.Lock()
	defer q.mu.Unlock()
	var pages []int
	for _, e := range q.entries {
		pages = append(pages, e.unit.Pages...)
	}
	slices.Sort(pages)
	return pages
}

type queueEntry struct {
	unit  *WorkUnit
	order uint64
}

type queueHeap []queueEntry

func (h queueHeap) Len() int      { return len(h) }
func (h queueHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h queueHeap) Less(i, j int) bool {
	if pi, pj := h[i].unit.Priority, h[j].unit.Priority; pi != pj {
		return pi > pj
	}
	return h[i].order < h[j].order
}

func (h *queueHeap) Push(x any) { *h = append(*h, x.(queueEntry)) }

func (h *queueHeap) Pop() any {
	old := *h
	e := old[len(old)-1]
	old[len(old)-1] = queueEntry{}
	*h = old[:len(old)-1]
	return e
}
