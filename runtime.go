package stm

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// Runtime hosts the commit coordinator and collaborators shared by every
// transaction submitted through Atomically. Construct one with New and
// share it across every Ref/queue/hub it will coordinate — cells carry
// their own version and wakeup state, but only one Runtime's commit lock
// may ever validate+publish a given cell, exactly as the teacher's
// MVCCMap.mu is the sole owner of its version pointer.
type Runtime struct {
	coordinator *coordinator
	scheduler   Scheduler
	logger      *slog.Logger
	stats       Stats
	closed      atomic.Bool
}

// New constructs a Runtime. Call Close when done; Close itself performs no
// blocking work today (no background goroutines, unlike the teacher's
// GC/deadlock-detector pair — this engine has no versions to garbage
// collect, since old committed values become unreachable the instant
// nothing holds a pointer to the Ref's prior snapshot) but is provided so a
// Runtime can later grow one without breaking callers, and so it can be
// marked closed to reject further Atomically calls.
func New(opts ...Option) *Runtime {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	rt := &Runtime{
		scheduler: cfg.scheduler,
		logger:    cfg.logger,
	}
	rt.coordinator = newCoordinator(cfg.logger, &rt.stats)
	return rt
}

// Close marks the Runtime closed; subsequent Atomically calls return
// ErrRuntimeClosed.
func (rt *Runtime) Close() { rt.closed.Store(true) }

// Stats returns a point-in-time snapshot of commit/retry/park counters.
func (rt *Runtime) Stats() StatsSnapshot { return rt.stats.Snapshot() }

// Atomically submits term for execution against rt and blocks until it
// reaches Success, Failure, Die, or is Interrupted — Retry is never
// observable here, per spec.md §6: "atomically(term) -> outcome ... Retry
// is invisible".
//
// Atomically is a package-level generic function, not a Runtime method,
// because Go methods cannot carry their own type parameters independent of
// the receiver's.
func Atomically[A any](ctx context.Context, rt *Runtime, term Term[A]) Outcome[A] {
	if rt.closed.Load() {
		return failOutcome[A](ErrRuntimeClosed)
	}

	ec := &execContext{ctx: ctx, scheduler: rt.scheduler}

	for {
		j := newJournal()
		result := run(ec, j, term.node)

		decision, final := rt.coordinator.commit(ec, j, result)
		switch decision {
		case decisionRestart, decisionParked:
			continue
		case decisionDone:
			return toOutcome[A](final)
		}
	}
}

// toOutcome converts an internal, type-erased execResult into the publicly
// typed Outcome[A] returned from Atomically. The type assertion on Success
// can only fail if this package's own combinators were misused to build a
// Term[A] whose leaves don't actually produce an A, which cannot happen
// through the public API.
func toOutcome[A any](r execResult) Outcome[A] {
	switch r.kind {
	case outcomeSuccess:
		return succeedOutcome[A](r.value.(A))
	case outcomeFailure:
		return failOutcome[A](r.fail)
	case outcomeDie:
		return dieOutcome[A](r.defect)
	case outcomeInterrupted:
		return Outcome[A]{kind: outcomeInterrupted}
	default:
		return dieOutcome[A](newDefect("stm: unexpected internal outcome kind"))
	}
}
