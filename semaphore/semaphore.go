// Package semaphore implements a transactional counting semaphore built
// entirely from a single stm.Ref and the retry primitive — no separate
// admission-strategy concept is needed here, unlike queue and hub, since a
// semaphore has exactly one way to be "full": Acquire retries until a
// permit is free (SPEC_FULL.md §5).
package semaphore

import (
	"context"

	"gostm"
)

// Semaphore is a transactional counting semaphore.
type Semaphore struct {
	permits *stm.Ref[int]
	max     int
}

// New constructs a Semaphore starting with permits available permits, out
// of a maximum of permits (Release past the starting count is a caller
// bug, not guarded against here any more than the teacher's MVCCMap guards
// against a caller writing a key it never declared).
func New(permits int) *Semaphore {
	return &Semaphore{permits: stm.NewRef(permits), max: permits}
}

// Acquire builds the transaction that takes one permit, retrying while
// none is available.
func (s *Semaphore) Acquire() stm.Term[stm.Unit] {
	return stm.FlatMap(stm.ReadRef(s.permits), func(p int) stm.Term[stm.Unit] {
		if p <= 0 {
			return stm.RetryTerm[stm.Unit]()
		}
		return stm.WriteRef(s.permits, p-1)
	})
}

// AcquireN builds the transaction that takes n permits atomically,
// retrying while fewer than n are available.
func (s *Semaphore) AcquireN(n int) stm.Term[stm.Unit] {
	return stm.FlatMap(stm.ReadRef(s.permits), func(p int) stm.Term[stm.Unit] {
		if p < n {
			return stm.RetryTerm[stm.Unit]()
		}
		return stm.WriteRef(s.permits, p-n)
	})
}

// TryAcquire is a non-blocking Acquire: it never retries, reporting false
// immediately if no permit was available.
func (s *Semaphore) TryAcquire() stm.Term[bool] {
	return stm.OrTry(
		stm.Map(s.Acquire(), func(stm.Unit) bool { return true }),
		stm.Succeed(false),
	)
}

// Release returns one permit.
func (s *Semaphore) Release() stm.Term[stm.Unit] {
	return stm.ModifyRef(s.permits, func(p int) int { return p + 1 })
}

// ReleaseN returns n permits at once.
func (s *Semaphore) ReleaseN(n int) stm.Term[stm.Unit] {
	return stm.ModifyRef(s.permits, func(p int) int { return p + n })
}

// Available returns the current permit count.
func (s *Semaphore) Available() stm.Term[int] { return stm.ReadRef(s.permits) }

// WithPermit acquires a permit as one transaction, runs body (arbitrary Go
// code with real side effects — not itself a Term, since a transaction
// commits in a single logical instant and so cannot bracket work external
// to the store), then releases the permit as a second transaction whether
// or not body panics.
//
// A Term-only WithPermit(body Term[A]) would be unsound here: any
// non-Success outcome discards the entire journal, so an Acquire and
// Release folded into the same transaction as body would simply cancel
// out on commit, never actually gating concurrent callers against each
// other the way a semaphore is meant to.
func WithPermit[A any](ctx context.Context, rt *stm.Runtime, s *Semaphore, body func() (A, error)) (A, error) {
	var zero A
	acquired := stm.Atomically(ctx, rt, s.Acquire())
	if _, ok := acquired.Success(); !ok {
		if err, ok := acquired.Failure(); ok {
			return zero, err
		}
		if d, ok := acquired.Die(); ok {
			return zero, d
		}
		return zero, stm.ErrRuntimeClosed
	}
	defer stm.Atomically(ctx, rt, s.Release())
	return body()
}
