package stm

import "context"

// FiberID identifies a lightweight concurrent task known to the Scheduler.
// The engine never interprets its value and does not itself call
// CurrentFiberID; the identity is available to callers for diagnostics.
type FiberID uint64

// Scheduler is the external fiber-scheduling collaborator consumed through
// an interface per spec.md §6 ("Out of scope ... the enclosing fiber
// scheduler"). The engine only ever needs four things from it:
// identifying the calling fiber, constructing a wakeup handle for it,
// blocking that fiber until the handle fires or its context is done, and
// checking whether it has been cancelled.
//
// This reshapes spec.md's collaborator surface
// (current_fiber_id/park/resume/is_cancelled) by folding `resume` into
// WakeupHandle.Fire itself (a handle already IS the resumable capability,
// per spec.md §3 — a Scheduler method taking a handle and a bare func
// taking no scheduler at all say the same thing, and the latter means the
// commit coordinator, which fires handles after every write commit, never
// needs a Scheduler reference of its own).
type Scheduler interface {
	// CurrentFiberID returns an identifier for the fiber executing on the
	// calling goroutine. For diagnostics only; the engine does not call it.
	CurrentFiberID(ctx context.Context) FiberID

	// NewWakeupHandle constructs a fresh, not-yet-fired handle bound to the
	// fiber executing on the calling goroutine. Firing it must cause a
	// subsequent Park call on the same handle to return.
	NewWakeupHandle(ctx context.Context) WakeupHandle

	// Park blocks the calling goroutine until h.Fire() is called or ctx is
	// done, whichever happens first. Returns ctx.Err() in the latter case.
	Park(ctx context.Context, h WakeupHandle) error

	// IsCancelled reports whether the fiber executing on the calling
	// goroutine has been asked to cancel. Consulted by the executor at
	// deterministic checkpoints between primitives (spec.md §5).
	IsCancelled(ctx context.Context) bool
}
