package engine

import (
	"context"
	"sync"

	"github.com/orchaframework/orcha/aatree"
	"github.com/orchaframework/orcha/petition"
)

// readyItem is the ordering key the ready queue sorts by: (priority,
// arrival-index), matching spec §3's "Ordering is total on (priority,
// arrival-index)".
type readyItem struct {
	priority float64
	arrival  uint64
	pet      petition.Petition
}

func compareReadyItem(a, b readyItem) int {
	if a.priority < b.priority {
		return -1
	}
	if a.priority > b.priority {
		return 1
	}
	if a.arrival < b.arrival {
		return -1
	}
	if a.arrival > b.arrival {
		return 1
	}
	return 0
}

// readyQueue is the in-process priority queue of petitions the Admission
// worker peeks, admits from, and re-enqueues into. It is backed by the
// aatree package (adapted from the teacher to add Min/Max and the look-ahead
// walk TakeN) because look-ahead needs ordered successor walks past the
// head, and re-admission/cancellation needs removal of an arbitrary
// already-enqueued element -- neither of which a plain binary heap gives
// cleanly.
//
// The cond-broadcast-on-push, goroutine-bridges-ctx.Done-to-Broadcast
// pattern mirrors queue.queueImpl's Join/wait in the teacher's queue
// package.
type readyQueue struct {
	mu   sync.Mutex
	cond *sync.Cond
	tree *aatree.AATree[readyItem]
}

func newReadyQueue() *readyQueue {
	rq := &readyQueue{tree: aatree.New(compareReadyItem)}
	rq.cond = sync.NewCond(&rq.mu)
	return rq
}

// Push inserts item and wakes any worker blocked in Wait.
func (rq *readyQueue) Push(item readyItem) {
	rq.mu.Lock()
	rq.tree.Insert(item)
	rq.mu.Unlock()
	rq.cond.Broadcast()
}

// Remove deletes item (matched by its ordering key) if present, returning
// whether it was found. Used when admission succeeds (the item moves out
// of ready into running), when a petition is broken during admission, when
// Cancel-Dispatch cancels an enqueued petition, and to drop the shutdown
// poison pill.
func (rq *readyQueue) Remove(item readyItem) bool {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	return rq.tree.Remove(item)
}

// Len returns the current number of ready petitions.
func (rq *readyQueue) Len() int {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	return rq.tree.Count()
}

// PeekN returns up to n items in ascending (priority, arrival) order,
// without removing them. n is clamped to the queue's current size by the
// caller (Admission never asks for more than Len()).
func (rq *readyQueue) PeekN(n int) []readyItem {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	return rq.tree.TakeN(n)
}

// Tail returns the largest (last-in-order) item currently ready, used by
// Admission to detect whether the queue's contents changed between rounds
// (spec §4.4's anti-tight-spin rule).
func (rq *readyQueue) Tail() (readyItem, bool) {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	return rq.tree.Max()
}

// Wait blocks until the queue becomes non-empty or ctx is done, returning
// false in the latter case.
func (rq *readyQueue) Wait(ctx context.Context) bool {
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		select {
		case <-ctx.Done():
			rq.mu.Lock()
			rq.cond.Broadcast()
			rq.mu.Unlock()
		case <-stop:
		}
	}()

	rq.mu.Lock()
	defer rq.mu.Unlock()
	for rq.tree.Count() == 0 {
		if ctx.Err() != nil {
			return false
		}
		rq.cond.Wait()
	}
	return true
}
