// Package priorityqueue implements a transactional priority queue keyed by
// a caller-supplied ordering function — spec.md §6 names "ordering
// function (for priority queues)" as a constructor argument without
// further specifying the structure; this package supplements that gap
// (SPEC_FULL.md §5) by applying container/heap to the tentative slice held
// in a single stm.Ref, the same discipline queue.TQueue and hub.Hub apply
// to their own linked structures: container/heap is stdlib, used here
// because no library in the example pack offers a heap implementation
// (see DESIGN.md).
package priorityqueue

import (
	"container/heap"

	"gostm"
)

// Strategy governs what Offer does when a bounded queue is full, mirroring
// package queue's strategies. Sliding's notion of "head" is the
// lowest-priority (worst) element rather than the oldest.
type Strategy int

const (
	Backpressure Strategy = iota
	Dropping
	Sliding
	Unbounded
)

// innerHeap adapts a plain slice plus a less function to heap.Interface.
// Never escapes this package: every operation rebuilds one from the
// journal's tentative slice and tears it back down before returning.
type innerHeap[T any] struct {
	items []T
	less  func(a, b T) bool
}

func (h innerHeap[T]) Len() int            { return len(h.items) }
func (h innerHeap[T]) Less(i, j int) bool  { return h.less(h.items[i], h.items[j]) }
func (h innerHeap[T]) Swap(i, j int)       { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *innerHeap[T]) Push(x any)         { h.items = append(h.items, x.(T)) }
func (h *innerHeap[T]) Pop() any {
	old := h.items
	n := len(old)
	it := old[n-1]
	h.items = old[:n-1]
	return it
}

// PQueue is a transactional priority queue. Construct with Bounded,
// DroppingQueue, SlidingQueue, or Unbounded, supplying a strict weak
// ordering less(a, b) that reports whether a should be dequeued before b.
type PQueue[T any] struct {
	items    *stm.Ref[[]T] // heap-ordered; items[0] is always the best element
	shutdown *stm.Ref[bool]
	less     func(a, b T) bool
	capacity int
	strategy Strategy
}

func newPQueue[T any](capacity int, strategy Strategy, less func(a, b T) bool) *PQueue[T] {
	return &PQueue[T]{
		items:    stm.NewRef[[]T](nil),
		shutdown: stm.NewRef(false),
		less:     less,
		capacity: capacity,
		strategy: strategy,
	}
}

// Bounded constructs a backpressure priority queue of the given positive capacity.
func Bounded[T any](capacity int, less func(a, b T) bool) *PQueue[T] {
	return newPQueue[T](capacity, Backpressure, less)
}

// DroppingQueue constructs a dropping priority queue of the given positive capacity.
func DroppingQueue[T any](capacity int, less func(a, b T) bool) *PQueue[T] {
	return newPQueue[T](capacity, Dropping, less)
}

// SlidingQueue constructs a sliding priority queue: a full Offer evicts the
// current worst element to make room for a new one that sorts before it;
// a new value that does not sort before the worst element is dropped and
// Offer returns false.
func SlidingQueue[T any](capacity int, less func(a, b T) bool) *PQueue[T] {
	return newPQueue[T](capacity, Sliding, less)
}

// Unbounded constructs a priority queue with no capacity limit.
func Unbounded[T any](less func(a, b T) bool) *PQueue[T] {
	return newPQueue[T](0, Unbounded, less)
}

func (q *PQueue[T]) full(sz int) bool {
	return q.strategy != Unbounded && q.capacity > 0 && sz >= q.capacity
}

func (q *PQueue[T]) heapOf(items []T) *innerHeap[T] {
	cp := make([]T, len(items))
	copy(cp, items)
	return &innerHeap[T]{items: cp, less: q.less}
}

// worstIndex finds the position of the element that would sort last under
// less, by linear scan — the heap ordered by less gives O(1) access only to
// the best element (items[0]), not the worst, so Sliding's eviction does a
// one-off scan rather than maintaining a second heap.
func (q *PQueue[T]) worstIndex(items []T) int {
	worst := 0
	for i := 1; i < len(items); i++ {
		if q.less(items[worst], items[i]) {
			worst = i
		}
	}
	return worst
}

// Offer builds the transaction that admits v according to the queue's
// strategy.
func (q *PQueue[T]) Offer(v T) stm.Term[bool] {
	return stm.FlatMap(stm.ReadRef(q.shutdown), func(sd bool) stm.Term[bool] {
		if sd {
			return stm.Fail[bool](stm.ShutdownError("priorityqueue.Offer"))
		}
		return stm.FlatMap(stm.ReadRef(q.items), func(items []T) stm.Term[bool] {
			if !q.full(len(items)) {
				return stm.Map(q.pushTerm(v), func(stm.Unit) bool { return true })
			}
			switch q.strategy {
			case Backpressure:
				return stm.RetryTerm[bool]()
			case Dropping:
				return stm.Succeed(false)
			case Sliding:
				worst := q.worstIndex(items)
				if q.less(v, items[worst]) {
					return stm.FlatMap(q.removeAtTerm(worst), func(stm.Unit) stm.Term[bool] {
						return stm.Map(q.pushTerm(v), func(stm.Unit) bool { return true })
					})
				}
				// v is itself worse than everything already held: drop it.
				return stm.Succeed(false)
			default:
				return stm.Map(q.pushTerm(v), func(stm.Unit) bool { return true })
			}
		})
	})
}

func (q *PQueue[T]) pushTerm(v T) stm.Term[stm.Unit] {
	return stm.FlatMap(stm.ReadRef(q.items), func(items []T) stm.Term[stm.Unit] {
		h := q.heapOf(items)
		heap.Push(h, v)
		return stm.WriteRef(q.items, h.items)
	})
}

func (q *PQueue[T]) removeAtTerm(i int) stm.Term[stm.Unit] {
	return stm.FlatMap(stm.ReadRef(q.items), func(items []T) stm.Term[stm.Unit] {
		h := q.heapOf(items)
		heap.Remove(h, i)
		return stm.WriteRef(q.items, h.items)
	})
}

// TakeResult mirrors queue.TakeResult: OK is false only for a non-blocking
// Poll that found nothing; ShutDown is true only for a shut-down, drained
// queue.
type TakeResult[T any] struct {
	Value    T
	OK       bool
	ShutDown bool
}

// Take builds the transaction that removes and returns the best element
// (per less), retrying while the queue is empty.
func (q *PQueue[T]) Take() stm.Term[TakeResult[T]] {
	return stm.FlatMap(stm.ReadRef(q.items), func(items []T) stm.Term[TakeResult[T]] {
		if len(items) == 0 {
			return stm.FlatMap(stm.ReadRef(q.shutdown), func(sd bool) stm.Term[TakeResult[T]] {
				if sd {
					return stm.Succeed(TakeResult[T]{ShutDown: true})
				}
				return stm.RetryTerm[TakeResult[T]]()
			})
		}
		h := q.heapOf(items)
		best := heap.Pop(h).(T)
		return stm.Map(stm.WriteRef(q.items, h.items), func(stm.Unit) TakeResult[T] {
			return TakeResult[T]{Value: best, OK: true}
		})
	})
}

// Poll is a non-blocking Take: it never retries, returning OK=false
// immediately on an empty, non-shutdown queue instead.
func (q *PQueue[T]) Poll() stm.Term[TakeResult[T]] {
	return stm.OrTry(q.Take(), stm.Succeed(TakeResult[T]{}))
}

// Peek returns the best element without removing it, retrying while empty.
func (q *PQueue[T]) Peek() stm.Term[T] {
	return stm.FlatMap(stm.ReadRef(q.items), func(items []T) stm.Term[T] {
		if len(items) == 0 {
			return stm.RetryTerm[T]()
		}
		return stm.Succeed(items[0])
	})
}

// Size returns the current element count.
func (q *PQueue[T]) Size() stm.Term[int] {
	return stm.Map(stm.ReadRef(q.items), func(items []T) int { return len(items) })
}

// IsEmpty reports whether the queue currently holds no elements.
func (q *PQueue[T]) IsEmpty() stm.Term[bool] {
	return stm.Map(stm.ReadRef(q.items), func(items []T) bool { return len(items) == 0 })
}

// IsFull reports whether an Offer would currently have to apply its
// strategy rather than insert freely.
func (q *PQueue[T]) IsFull() stm.Term[bool] {
	return stm.Map(stm.ReadRef(q.items), func(items []T) bool { return q.full(len(items)) })
}

// Shutdown marks the queue shut down: subsequent Offers fail and drained
// Takes return a terminal signal instead of retrying forever.
func (q *PQueue[T]) Shutdown() stm.Term[stm.Unit] {
	return stm.WriteRef(q.shutdown, true)
}

// AwaitShutdown retries until Shutdown has been committed.
func (q *PQueue[T]) AwaitShutdown() stm.Term[stm.Unit] {
	return stm.RetryUntil(stm.ReadRef(q.shutdown))
}
