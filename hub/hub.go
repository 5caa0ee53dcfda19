// Package hub implements the transactional multi-subscriber broadcast
// structure spec.md §4.7 calls out as the collection meant to exercise
// every hard part of the engine: a singly linked ring of publisher nodes
// shared by every subscriber, each subscriber advancing its own cursor
// through the ring independently, with nodes reclaimed the instant the
// last subscriber that still needed them has moved past.
package hub

import (
	"context"

	"gostm"
)

// Strategy governs what Publish does when a bounded hub is full, mirroring
// package queue's four admission strategies (spec.md §4.6, §4.7).
type Strategy int

const (
	Backpressure Strategy = iota
	Dropping
	Sliding
	Unbounded
)

// pnode is one publisher-ring node. remaining counts how many currently
// live subscribers have not yet consumed it; the node is reclaimed (the
// ring's head advances past it) the instant that count reaches zero,
// whether by ordinary consumption or by an unsubscribe that will never
// consume it. remaining lives in its own Ref, per spec.md §5: "Hub
// publisher nodes are shared-immutable except for their
// remaining_subscribers counter (held in a cell of its own)".
//
// seq is the node's position in publish order, assigned once at append
// time and never written again afterward — plain immutable data, not a
// Ref, same as value. Subscriber cursors track a seq number rather than a
// node pointer precisely so that a subscriber who falls behind the live
// ring (because reclaim or a forced slide has moved head/tail out from
// under a node the subscriber's cursor still names) can always be
// re-resolved against whatever is currently live: see findAfter.
type pnode[T any] struct {
	value     T
	seq       int64
	remaining *stm.Ref[int]
	next      *stm.Ref[*pnode[T]]
}

// SubState is a subscription's two-state lifecycle (spec.md §4.7).
type SubState int

const (
	Live SubState = iota
	Terminated
)

// Hub is a transactional multi-subscriber broadcast structure. Construct
// with Bounded, DroppingHub, SlidingHub, or UnboundedHub.
type Hub[T any] struct {
	head            *stm.Ref[*pnode[T]] // first still-referenced node, nil if ring empty
	tail            *stm.Ref[*pnode[T]] // last published node, nil if nothing ever published
	nextSeq         *stm.Ref[int64]     // seq to assign to the next appended node
	size            *stm.Ref[int]       // count of live (unreclaimed) ring nodes
	subscriberCount *stm.Ref[int]
	shutdown        *stm.Ref[bool]
	capacity        int // <=0 means unbounded; fixed at construction, never journaled
	strategy        Strategy
}

func newHub[T any](capacity int, strategy Strategy) *Hub[T] {
	return &Hub[T]{
		head:            stm.NewRef[*pnode[T]](nil),
		tail:            stm.NewRef[*pnode[T]](nil),
		nextSeq:         stm.NewRef[int64](0),
		size:            stm.NewRef(0),
		subscriberCount: stm.NewRef(0),
		shutdown:        stm.NewRef(false),
		capacity:        capacity,
		strategy:        strategy,
	}
}

// Bounded constructs a backpressure hub of the given positive capacity.
func Bounded[T any](capacity int) *Hub[T] { return newHub[T](capacity, Backpressure) }

// DroppingHub constructs a dropping hub of the given positive capacity.
func DroppingHub[T any](capacity int) *Hub[T] { return newHub[T](capacity, Dropping) }

// SlidingHub constructs a sliding hub of the given positive capacity.
func SlidingHub[T any](capacity int) *Hub[T] { return newHub[T](capacity, Sliding) }

// UnboundedHub constructs a hub with no capacity limit.
func UnboundedHub[T any]() *Hub[T] { return newHub[T](0, Unbounded) }

func (h *Hub[T]) full(sz int) bool {
	return h.strategy != Unbounded && h.capacity > 0 && sz >= h.capacity
}

// reclaimHeadTerm advances head past every leading node whose remaining
// count has already reached zero, decrementing size for each.
func (h *Hub[T]) reclaimHeadTerm() stm.Term[stm.Unit] {
	return stm.FlatMap(stm.ReadRef(h.head), func(head *pnode[T]) stm.Term[stm.Unit] {
		if head == nil {
			return stm.Succeed(stm.Unit{})
		}
		return stm.FlatMap(stm.ReadRef(head.remaining), func(rem int) stm.Term[stm.Unit] {
			if rem > 0 {
				return stm.Succeed(stm.Unit{})
			}
			return stm.FlatMap(stm.ReadRef(head.next), func(next *pnode[T]) stm.Term[stm.Unit] {
				advance := stm.FlatMap(stm.WriteRef(h.head, next), func(stm.Unit) stm.Term[stm.Unit] {
					if next == nil {
						return stm.WriteRef(h.tail, (*pnode[T])(nil))
					}
					return stm.Succeed(stm.Unit{})
				})
				return stm.FlatMap(advance, func(stm.Unit) stm.Term[stm.Unit] {
					return stm.FlatMap(stm.ModifyRef(h.size, func(sz int) int { return sz - 1 }),
						func(stm.Unit) stm.Term[stm.Unit] { return h.reclaimHeadTerm() })
				})
			})
		})
	})
}

// slideTerm forcibly reclaims the head node regardless of its remaining
// count — spec.md §4.7's "slide" primitive, used by Publish when a Sliding
// hub is full. It only ever needs to move head/tail/size: a subscriber
// whose cursor still names the evicted node (or any node before the new
// head) is transparently re-rooted at the live head the next time it
// reads, because Subscription.Take resolves its next message by seq
// number against the current head rather than by following a cached
// node's own next pointer (see findAfter).
func (h *Hub[T]) slideTerm() stm.Term[stm.Unit] {
	return stm.FlatMap(stm.ReadRef(h.head), func(head *pnode[T]) stm.Term[stm.Unit] {
		if head == nil {
			return stm.Succeed(stm.Unit{})
		}
		return stm.FlatMap(stm.ReadRef(head.next), func(next *pnode[T]) stm.Term[stm.Unit] {
			advance := stm.FlatMap(stm.WriteRef(h.head, next), func(stm.Unit) stm.Term[stm.Unit] {
				if next == nil {
					return stm.WriteRef(h.tail, (*pnode[T])(nil))
				}
				return stm.Succeed(stm.Unit{})
			})
			return stm.FlatMap(advance, func(stm.Unit) stm.Term[stm.Unit] {
				return stm.ModifyRef(h.size, func(sz int) int { return sz - 1 })
			})
		})
	})
}

// Publish builds the transaction that broadcasts v to every currently
// subscribed live subscriber, per spec.md §4.7.
func (h *Hub[T]) Publish(v T) stm.Term[bool] {
	return stm.FlatMap(stm.ReadRef(h.shutdown), func(sd bool) stm.Term[bool] {
		if sd {
			return stm.Fail[bool](stm.ShutdownError("hub.Publish"))
		}
		return stm.FlatMap(stm.ReadRef(h.subscriberCount), func(subs int) stm.Term[bool] {
			// publish on a subscriberless hub succeeds trivially: the message
			// has nowhere to go and nothing can go wrong delivering it.
			if subs == 0 {
				return stm.Succeed(true)
			}
			return stm.FlatMap(stm.ReadRef(h.size), func(sz int) stm.Term[bool] {
				if !h.full(sz) {
					return stm.Map(h.appendTerm(v, subs), func(stm.Unit) bool { return true })
				}
				switch h.strategy {
				case Backpressure:
					return stm.RetryTerm[bool]()
				case Dropping:
					return stm.Succeed(false)
				case Sliding:
					return stm.FlatMap(h.slideTerm(), func(stm.Unit) stm.Term[bool] {
						return stm.Map(h.appendTerm(v, subs), func(stm.Unit) bool { return true })
					})
				default:
					return stm.Map(h.appendTerm(v, subs), func(stm.Unit) bool { return true })
				}
			})
		})
	})
}

func (h *Hub[T]) appendTerm(v T, subs int) stm.Term[stm.Unit] {
	return stm.FlatMap(stm.ReadRef(h.nextSeq), func(seq int64) stm.Term[stm.Unit] {
		seq++
		n := &pnode[T]{value: v, seq: seq, remaining: stm.NewRef(subs), next: stm.NewRef[*pnode[T]](nil)}
		assignSeq := stm.WriteRef(h.nextSeq, seq)
		return stm.FlatMap(assignSeq, func(stm.Unit) stm.Term[stm.Unit] {
			return stm.FlatMap(stm.ReadRef(h.tail), func(tail *pnode[T]) stm.Term[stm.Unit] {
				var link stm.Term[stm.Unit]
				if tail == nil {
					link = stm.FlatMap(stm.WriteRef(h.head, n), func(stm.Unit) stm.Term[stm.Unit] {
						return stm.WriteRef(h.tail, n)
					})
				} else {
					link = stm.FlatMap(stm.WriteRef(tail.next, n), func(stm.Unit) stm.Term[stm.Unit] {
						return stm.WriteRef(h.tail, n)
					})
				}
				return stm.FlatMap(link, func(stm.Unit) stm.Term[stm.Unit] {
					return stm.ModifyRef(h.size, func(sz int) int { return sz + 1 })
				})
			})
		})
	})
}

// Subscription is a single subscriber's live position in a Hub's ring.
// cursor holds the seq of the last message this subscription consumed (0
// if none yet), not a node pointer — see findAfter for why.
type Subscription[T any] struct {
	hub    *Hub[T]
	cursor *stm.Ref[int64]
	state  *stm.Ref[SubState]
}

// Subscribe builds the transaction that registers a new subscriber whose
// cursor starts at the hub's current tail's seq, so it observes only
// messages published after this call commits (spec.md §4.7).
func (h *Hub[T]) Subscribe() stm.Term[*Subscription[T]] {
	return stm.FlatMap(stm.ReadRef(h.tail), func(tail *pnode[T]) stm.Term[*Subscription[T]] {
		var startSeq int64
		if tail != nil {
			startSeq = tail.seq
		}
		s := &Subscription[T]{
			hub:    h,
			cursor: stm.NewRef(startSeq),
			state:  stm.NewRef(Live),
		}
		return stm.Map(stm.ModifyRef(h.subscriberCount, func(c int) int { return c + 1 }),
			func(stm.Unit) *Subscription[T] { return s })
	})
}

// State returns the subscription's current lifecycle state.
func (s *Subscription[T]) State() stm.Term[SubState] { return stm.ReadRef(s.state) }

// findAfter walks the live chain starting at n, looking for the first node
// whose seq is greater than cursorSeq — the next message this subscriber
// has not yet consumed. n is always read starting from the hub's current
// head, never from a subscriber-held node pointer: a subscriber whose
// cursor names a node that reclaim or a forced slide has since evicted is
// thereby re-rooted automatically at whatever is live, instead of
// following that node's own (possibly stale, possibly never-linked) next
// pointer. Returns nil if no such node exists yet (nothing new to take).
func findAfter[T any](n *pnode[T], cursorSeq int64) stm.Term[*pnode[T]] {
	if n == nil {
		return stm.Succeed[*pnode[T]](nil)
	}
	if n.seq > cursorSeq {
		return stm.Succeed(n)
	}
	return stm.FlatMap(stm.ReadRef(n.next), func(next *pnode[T]) stm.Term[*pnode[T]] {
		return findAfter(next, cursorSeq)
	})
}

// Take builds the transaction that consumes the next message this
// subscription has not yet seen, retrying while none is available
// (spec.md §4.7). Taking from a terminated subscription fails.
func (s *Subscription[T]) Take() stm.Term[T] {
	return stm.FlatMap(stm.ReadRef(s.state), func(st SubState) stm.Term[T] {
		if st == Terminated {
			return stm.Fail[T](stm.ErrScopeReleased)
		}
		return stm.FlatMap(stm.ReadRef(s.cursor), func(cursorSeq int64) stm.Term[T] {
			return stm.FlatMap(stm.ReadRef(s.hub.head), func(head *pnode[T]) stm.Term[T] {
				return stm.FlatMap(findAfter(head, cursorSeq), func(next *pnode[T]) stm.Term[T] {
					if next == nil {
						return stm.RetryTerm[T]()
					}
					advance := stm.WriteRef(s.cursor, next.seq)
					consume := stm.FlatMap(stm.ModifyRef(next.remaining, func(r int) int { return r - 1 }),
						func(stm.Unit) stm.Term[stm.Unit] { return s.hub.reclaimHeadTerm() })
					return stm.FlatMap(advance, func(stm.Unit) stm.Term[T] {
						return stm.FlatMap(consume, func(stm.Unit) stm.Term[T] {
							return stm.Succeed(next.value)
						})
					})
				})
			})
		})
	})
}

// TakeResult is Poll's result: OK is false when nothing was available to
// take without blocking.
type TakeResult[T any] struct {
	Value T
	OK    bool
}

// Poll is a non-blocking Take: it never retries, reporting OK=false
// immediately if nothing new has been published since the last take.
func (s *Subscription[T]) Poll() stm.Term[TakeResult[T]] {
	return stm.OrTry(
		stm.Map(s.Take(), func(v T) TakeResult[T] { return TakeResult[T]{Value: v, OK: true} }),
		stm.Succeed(TakeResult[T]{}),
	)
}

// Unsubscribe builds the transaction that terminates s: every node s had
// not yet consumed loses one reference, reclaiming any that drop to zero,
// per spec.md §4.7.
func (s *Subscription[T]) Unsubscribe() stm.Term[stm.Unit] {
	return stm.FlatMap(stm.ReadRef(s.state), func(st SubState) stm.Term[stm.Unit] {
		if st == Terminated {
			return stm.Succeed(stm.Unit{})
		}
		return stm.FlatMap(stm.ReadRef(s.cursor), func(cursorSeq int64) stm.Term[stm.Unit] {
			release := stm.FlatMap(s.hub.releaseFrom(cursorSeq), func(stm.Unit) stm.Term[stm.Unit] {
				return s.hub.reclaimHeadTerm()
			})
			dec := stm.FlatMap(release, func(stm.Unit) stm.Term[stm.Unit] {
				return stm.ModifyRef(s.hub.subscriberCount, func(c int) int { return c - 1 })
			})
			return stm.FlatMap(dec, func(stm.Unit) stm.Term[stm.Unit] {
				return stm.WriteRef(s.state, Terminated)
			})
		})
	})
}

// releaseFrom decrements remaining on every currently live node whose seq
// is greater than cursorSeq — the nodes s had not yet consumed. It always
// walks from the hub's current head rather than from any node the
// subscriber itself might still be holding a reference to, for the same
// reason findAfter does: the live chain from head to tail is the only
// one guaranteed to still be properly linked.
func (h *Hub[T]) releaseFrom(cursorSeq int64) stm.Term[stm.Unit] {
	return stm.FlatMap(stm.ReadRef(h.head), func(head *pnode[T]) stm.Term[stm.Unit] {
		return h.releaseNode(head, cursorSeq)
	})
}

func (h *Hub[T]) releaseNode(n *pnode[T], cursorSeq int64) stm.Term[stm.Unit] {
	if n == nil {
		return stm.Succeed(stm.Unit{})
	}
	return stm.FlatMap(stm.ReadRef(n.next), func(next *pnode[T]) stm.Term[stm.Unit] {
		if n.seq <= cursorSeq {
			// already consumed by this subscriber before it unsubscribed
			return h.releaseNode(next, cursorSeq)
		}
		return stm.FlatMap(stm.ModifyRef(n.remaining, func(r int) int { return r - 1 }),
			func(stm.Unit) stm.Term[stm.Unit] { return h.releaseNode(next, cursorSeq) })
	})
}

// Size returns the hub's current live ring length.
func (h *Hub[T]) Size() stm.Term[int] { return stm.ReadRef(h.size) }

// IsFull reports whether a Publish would currently have to apply the
// hub's strategy (block, drop, or slide) rather than append freely.
func (h *Hub[T]) IsFull() stm.Term[bool] {
	return stm.Map(stm.ReadRef(h.size), func(sz int) bool { return h.full(sz) })
}

// SubscriberCount returns the number of currently live subscribers.
func (h *Hub[T]) SubscriberCount() stm.Term[int] { return stm.ReadRef(h.subscriberCount) }

// Shutdown marks the hub shut down: subsequent Publishes fail.
func (h *Hub[T]) Shutdown() stm.Term[stm.Unit] { return stm.WriteRef(h.shutdown, true) }

// AwaitShutdown retries until Shutdown has been committed.
func (h *Hub[T]) AwaitShutdown() stm.Term[stm.Unit] {
	return stm.RetryUntil(stm.ReadRef(h.shutdown))
}

// scopedSubscription adapts a *Subscription[T] to stm.Subscription, the
// collaborator interface scope.go describes: Value exposes the acquired
// resource, Release performs the paired release transaction idempotently
// (Unsubscribe is itself idempotent against a Terminated subscription).
type scopedSubscription[T any] struct {
	sub *Subscription[T]
	rt  *stm.Runtime
}

func (h *scopedSubscription[T]) Value() *Subscription[T] { return h.sub }

func (h *scopedSubscription[T]) Release(ctx context.Context) error {
	outcome := stm.Atomically(ctx, h.rt, h.sub.Unsubscribe())
	if _, ok := outcome.Success(); ok {
		return nil
	}
	if err, ok := outcome.Failure(); ok {
		return err
	}
	if d, ok := outcome.Die(); ok {
		return d
	}
	return stm.ErrRuntimeClosed
}

// SubscribeScoped subscribes and binds the resulting subscription's
// lifetime to scope: when scope releases, Unsubscribe runs as its own new
// transaction, per spec.md §4.7 ("subscribe_scoped: paired with the scope
// collaborator; on scope release, unsubscribe is performed under a new
// transaction"). Unlike every other operation in this package,
// SubscribeScoped is not itself a Term — committing the subscribe and
// registering its finalizer must happen together, and finalizer
// registration is a side effect Scope performs outside any transaction.
func (h *Hub[T]) SubscribeScoped(ctx context.Context, rt *stm.Runtime, scope stm.Scope) (stm.Subscription[*Subscription[T]], error) {
	outcome := stm.Atomically(ctx, rt, h.Subscribe())
	if s, ok := outcome.Success(); ok {
		handle := &scopedSubscription[T]{sub: s, rt: rt}
		scope.AddFinalizer(func() {
			_ = handle.Release(ctx)
		})
		return handle, nil
	}
	if err, ok := outcome.Failure(); ok {
		return nil, err
	}
	if d, ok := outcome.Die(); ok {
		return nil, d
	}
	return nil, stm.ErrRuntimeClosed
}
