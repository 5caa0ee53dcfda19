package stm

import "sync"

// WakeupHandle is the opaque continuation belonging to a parked fiber, per
// spec.md §3. A single handle may be registered in many cells' wakeup
// registries at once (one per cell the parked transaction observed); Fire
// must be idempotent — at most one resumption is ever delivered per park,
// even if multiple writers race to fire the same handle.
//
// WakeupHandle is supplied by the Scheduler (scheduler.go); the coordinator
// never constructs one itself.
type WakeupHandle interface {
	// Fire resumes the parked fiber. Must be safe to call more than once
	// and from any goroutine; only the first call may have an effect.
	Fire()
}

// wakeupRegistry is spec.md §4.5's per-cell set of pending continuations,
// keyed by handle identity so the same handle registered from two
// concurrent park attempts (which cannot happen under the single commit
// lock, but is cheap to guard regardless) only appears once. All methods
// run exclusively under the commit lock — the registry has no lock of its
// own, exactly like the teacher's version.refCount pattern of pushing
// synchronization up to the single owning critical section rather than
// distributing it.
type wakeupRegistry struct {
	pending map[WakeupHandle]struct{}
}

// register adds handle to the set. Safe to call with a nil receiver's
// field uninitialized; lazily allocates.
func (r *wakeupRegistry) register(h WakeupHandle) {
	if r.pending == nil {
		r.pending = make(map[WakeupHandle]struct{}, 1)
	}
	r.pending[h] = struct{}{}
}

// takeAndClear empties the set and returns its prior contents.
func (r *wakeupRegistry) takeAndClear() []WakeupHandle {
	if len(r.pending) == 0 {
		return nil
	}
	out := make([]WakeupHandle, 0, len(r.pending))
	for h := range r.pending {
		out = append(out, h)
	}
	r.pending = nil
	return out
}

// deregister removes a single handle without disturbing others — used on
// cancellation (spec.md §5: "On observed cancellation it ... deregisters
// any pending wakeup handles").
func (r *wakeupRegistry) deregister(h WakeupHandle) {
	delete(r.pending, h)
}

// fireAllOnce fires a de-duplicated union of handles collected from several
// registries exactly once each, even if the same handle was registered in
// more than one of them (a transaction parked after observing several
// cells). Firing happens after the commit lock has been released (spec.md
// §4.4 step 4), so handle.Fire() implementations are free to do real work
// (e.g. resuming a goroutine) without risking contending the commit lock
// from inside itself.
func fireAllOnce(sets ...[]WakeupHandle) {
	seen := make(map[WakeupHandle]struct{})
	for _, set := range sets {
		for _, h := range set {
			if _, dup := seen[h]; dup {
				continue
			}
			seen[h] = struct{}{}
			h.Fire()
		}
	}
}

// fireOnce is a sync.Once-backed helper implementations of WakeupHandle can
// embed to get idempotent firing without hand-rolling a guard each time —
// following the teacher's habit (tx.go's CompareAndSwap state guards) of
// keeping "done exactly once" logic small and explicit.
type fireOnce struct {
	once sync.Once
	fn   func()
}

func (f *fireOnce) Fire() {
	f.once.Do(func() {
		if f.fn != nil {
			f.fn()
		}
	})
}
