// Package queue implements a transactional FIFO queue over gostm's
// software transactional memory engine: a bounded or unbounded linked list
// of value nodes, each node itself wrapping its "next" pointer in a Ref so
// that appends and dequeues touch only the nodes they actually need to
// (spec.md §3, §4.6).
package queue

import (
	"gostm"
)

// Strategy governs what Offer does when a bounded queue is full, per
// spec.md §4.6.
type Strategy int

const (
	// Backpressure blocks Offer (via retry) until room frees up.
	Backpressure Strategy = iota
	// Dropping makes a full Offer return false without writing.
	Dropping
	// Sliding makes a full Offer evict the oldest element to make room.
	Sliding
	// Unbounded ignores capacity; Offer always accepts. Capacity is
	// ignored for queues constructed via Unbounded.
	Unbounded
)

// node is one linked-list cell. Its own next pointer lives in a Ref so a
// writer appending past it only journals that one node, not the whole
// list — the same fine-grained-cell discipline spec.md §5 calls out for
// the hub's remaining_subscribers counters.
type node[T any] struct {
	value T
	next  *stm.Ref[*node[T]]
}

func newNode[T any](v T) *node[T] {
	return &node[T]{value: v, next: stm.NewRef[*node[T]](nil)}
}

// TQueue is a transactional FIFO queue. Construct with Bounded,
// DroppingQueue, SlidingQueue, or Unbounded.
type TQueue[T any] struct {
	head     *stm.Ref[*node[T]] // first not-yet-taken node, nil if empty
	tail     *stm.Ref[*node[T]] // last node, nil if empty
	size     *stm.Ref[int]
	shutdown *stm.Ref[bool]
	capacity int // <=0 means unbounded; fixed at construction, never journaled
	strategy Strategy
}

func newTQueue[T any](capacity int, strategy Strategy) *TQueue[T] {
	return &TQueue[T]{
		head:     stm.NewRef[*node[T]](nil),
		tail:     stm.NewRef[*node[T]](nil),
		size:     stm.NewRef(0),
		shutdown: stm.NewRef(false),
		capacity: capacity,
		strategy: strategy,
	}
}

// Bounded constructs a backpressure queue of the given positive capacity.
func Bounded[T any](capacity int) *TQueue[T] { return newTQueue[T](capacity, Backpressure) }

// DroppingQueue constructs a dropping queue of the given positive capacity.
func DroppingQueue[T any](capacity int) *TQueue[T] { return newTQueue[T](capacity, Dropping) }

// SlidingQueue constructs a sliding queue of the given positive capacity.
func SlidingQueue[T any](capacity int) *TQueue[T] { return newTQueue[T](capacity, Sliding) }

// Unbounded constructs a queue with no capacity limit.
func Unbounded[T any]() *TQueue[T] { return newTQueue[T](0, Unbounded) }

func (q *TQueue[T]) full(sz int) bool {
	return q.strategy != Unbounded && q.capacity > 0 && sz >= q.capacity
}

// appendTerm unconditionally links a new node onto the tail and bumps size.
func (q *TQueue[T]) appendTerm(v T) stm.Term[stm.Unit] {
	n := newNode(v)
	return stm.FlatMap(stm.ReadRef(q.tail), func(tail *node[T]) stm.Term[stm.Unit] {
		var link stm.Term[stm.Unit]
		if tail == nil {
			link = stm.FlatMap(stm.WriteRef(q.head, n), func(stm.Unit) stm.Term[stm.Unit] {
				return stm.WriteRef(q.tail, n)
			})
		} else {
			link = stm.FlatMap(stm.WriteRef(tail.next, n), func(stm.Unit) stm.Term[stm.Unit] {
				return stm.WriteRef(q.tail, n)
			})
		}
		return stm.FlatMap(link, func(stm.Unit) stm.Term[stm.Unit] {
			return stm.ModifyRef(q.size, func(sz int) int { return sz + 1 })
		})
	})
}

// slideTerm drops the current head node to make room, per spec.md §4.6's
// sliding admission strategy ("removes the head element and appends; net
// size unchanged").
func (q *TQueue[T]) slideTerm() stm.Term[stm.Unit] {
	return stm.FlatMap(stm.ReadRef(q.head), func(h *node[T]) stm.Term[stm.Unit] {
		if h == nil {
			return stm.Succeed(stm.Unit{})
		}
		return stm.FlatMap(stm.ReadRef(h.next), func(next *node[T]) stm.Term[stm.Unit] {
			advance := stm.FlatMap(stm.WriteRef(q.head, next), func(stm.Unit) stm.Term[stm.Unit] {
				if next == nil {
					return stm.WriteRef(q.tail, (*node[T])(nil))
				}
				return stm.Succeed(stm.Unit{})
			})
			return stm.FlatMap(advance, func(stm.Unit) stm.Term[stm.Unit] {
				return stm.ModifyRef(q.size, func(sz int) int { return sz - 1 })
			})
		})
	})
}

// Offer builds the single transaction that admits v according to the
// queue's strategy, per spec.md §4.6. Its boolean result is true unless
// the queue is Dropping and full.
func (q *TQueue[T]) Offer(v T) stm.Term[bool] {
	return stm.FlatMap(stm.ReadRef(q.shutdown), func(sd bool) stm.Term[bool] {
		if sd {
			return stm.Fail[bool](stm.ShutdownError("queue.Offer"))
		}
		return stm.FlatMap(stm.ReadRef(q.size), func(sz int) stm.Term[bool] {
			if !q.full(sz) {
				return stm.Map(q.appendTerm(v), func(stm.Unit) bool { return true })
			}
			switch q.strategy {
			case Backpressure:
				return stm.RetryTerm[bool]()
			case Dropping:
				return stm.Succeed(false)
			case Sliding:
				return stm.FlatMap(q.slideTerm(), func(stm.Unit) stm.Term[bool] {
					return stm.Map(q.appendTerm(v), func(stm.Unit) bool { return true })
				})
			default: // Unbounded never reaches "full"
				return stm.Map(q.appendTerm(v), func(stm.Unit) bool { return true })
			}
		})
	})
}

// OfferAll offers every value in vs, in order, as one atomic transaction.
// For a Backpressure queue this means the whole batch blocks until there is
// room for all of it at once.
func (q *TQueue[T]) OfferAll(vs []T) stm.Term[stm.Unit] {
	var t stm.Term[stm.Unit] = stm.Succeed(stm.Unit{})
	for _, v := range vs {
		v := v
		t = stm.FlatMap(t, func(stm.Unit) stm.Term[stm.Unit] {
			return stm.Map(q.Offer(v), func(bool) stm.Unit { return stm.Unit{} })
		})
	}
	return t
}

// TakeResult is Take's result. OK is false only when Poll found nothing to
// take; ShutDown is true only once the queue has been shut down and fully
// drained. Take itself never returns OK=false, ShutDown=false — an empty,
// non-shutdown queue retries instead of returning.
type TakeResult[T any] struct {
	Value    T
	OK       bool
	ShutDown bool
}

// Take builds the transaction that removes and returns the head element,
// retrying while the queue is empty, per spec.md §4.6. On a shut-down,
// drained queue it returns a terminal signal (ShutDown=true) instead of
// retrying forever.
func (q *TQueue[T]) Take() stm.Term[TakeResult[T]] {
	return stm.FlatMap(stm.ReadRef(q.head), func(h *node[T]) stm.Term[TakeResult[T]] {
		if h == nil {
			return stm.FlatMap(stm.ReadRef(q.shutdown), func(sd bool) stm.Term[TakeResult[T]] {
				if sd {
					return stm.Succeed(TakeResult[T]{ShutDown: true})
				}
				return stm.RetryTerm[TakeResult[T]]()
			})
		}
		return stm.FlatMap(stm.ReadRef(h.next), func(next *node[T]) stm.Term[TakeResult[T]] {
			advance := stm.FlatMap(stm.WriteRef(q.head, next), func(stm.Unit) stm.Term[stm.Unit] {
				if next == nil {
					return stm.WriteRef(q.tail, (*node[T])(nil))
				}
				return stm.Succeed(stm.Unit{})
			})
			return stm.FlatMap(advance, func(stm.Unit) stm.Term[TakeResult[T]] {
				return stm.Map(stm.ModifyRef(q.size, func(sz int) int { return sz - 1 }),
					func(stm.Unit) TakeResult[T] { return TakeResult[T]{Value: h.value, OK: true} })
			})
		})
	})
}

// Poll is a non-blocking Take: it never retries, returning OK=false
// immediately on an empty, non-shutdown queue instead.
func (q *TQueue[T]) Poll() stm.Term[TakeResult[T]] {
	return stm.OrTry(q.Take(), stm.Succeed(TakeResult[T]{}))
}

// collectFrom walks the list from n to its end through the journal (so the
// whole traversal becomes part of the transaction's read set), accumulating
// values in order.
func collectFrom[T any](n *node[T]) stm.Term[[]T] {
	if n == nil {
		return stm.Succeed[[]T](nil)
	}
	return stm.FlatMap(stm.ReadRef(n.next), func(next *node[T]) stm.Term[[]T] {
		return stm.Map(collectFrom(next), func(rest []T) []T {
			return append([]T{n.value}, rest...)
		})
	})
}

// TakeAll drains every currently queued element as one transaction.
func (q *TQueue[T]) TakeAll() stm.Term[[]T] {
	return stm.FlatMap(stm.ReadRef(q.head), func(h *node[T]) stm.Term[[]T] {
		return stm.FlatMap(collectFrom(h), func(out []T) stm.Term[[]T] {
			return stm.FlatMap(stm.WriteRef(q.head, (*node[T])(nil)), func(stm.Unit) stm.Term[[]T] {
				return stm.FlatMap(stm.WriteRef(q.tail, (*node[T])(nil)), func(stm.Unit) stm.Term[[]T] {
					return stm.Map(stm.WriteRef(q.size, 0), func(stm.Unit) []T { return out })
				})
			})
		})
	})
}

// TakeUpto drains at most n elements, in order, without blocking once the
// queue runs dry.
func (q *TQueue[T]) TakeUpto(n int) stm.Term[[]T] {
	if n <= 0 {
		return stm.Succeed[[]T](nil)
	}
	var t stm.Term[[]T] = stm.Succeed[[]T](nil)
	for i := 0; i < n; i++ {
		t = stm.FlatMap(t, func(acc []T) stm.Term[[]T] {
			return stm.FlatMap(stm.ReadRef(q.head), func(h *node[T]) stm.Term[[]T] {
				if h == nil {
					return stm.Succeed(acc)
				}
				return stm.Map(q.Take(), func(r TakeResult[T]) []T { return append(acc, r.Value) })
			})
		})
	}
	return t
}

// Peek returns the head value without removing it, retrying while empty.
func (q *TQueue[T]) Peek() stm.Term[T] {
	return stm.FlatMap(stm.ReadRef(q.head), func(h *node[T]) stm.Term[T] {
		if h == nil {
			return stm.RetryTerm[T]()
		}
		return stm.Succeed(h.value)
	})
}

// Size returns the current element count.
func (q *TQueue[T]) Size() stm.Term[int] { return stm.ReadRef(q.size) }

// IsEmpty reports whether the queue currently holds no elements.
func (q *TQueue[T]) IsEmpty() stm.Term[bool] {
	return stm.Map(stm.ReadRef(q.size), func(sz int) bool { return sz == 0 })
}

// IsFull reports whether an Offer would currently have to apply its
// strategy (block, drop, or slide) rather than append freely.
func (q *TQueue[T]) IsFull() stm.Term[bool] {
	return stm.Map(stm.ReadRef(q.size), func(sz int) bool { return q.full(sz) })
}

// Shutdown marks the queue shut down: subsequent Offers fail and drained
// Takes return a terminal signal instead of retrying forever.
func (q *TQueue[T]) Shutdown() stm.Term[stm.Unit] {
	return stm.WriteRef(q.shutdown, true)
}

// AwaitShutdown retries until Shutdown has been committed.
func (q *TQueue[T]) AwaitShutdown() stm.Term[stm.Unit] {
	return stm.RetryUntil(stm.ReadRef(q.shutdown))
}
