package stm

import "sync/atomic"

// cellID uniquely identifies a Ref for the lifetime of the process. Cells
// are compared by identity (not value), exactly as spec.md §9 prescribes:
// "model cells as identities (stable integer ids or pointer-equality
// handles)". A package-global counter is simplest and, unlike pointer
// equality, survives being used as a map key across GC-moved memory (Go's
// GC never moves heap objects today, but an integer id also reads better
// in logs and journals).
var nextCellID atomic.Uint64

// Ref is a versioned cell: the only mutable primitive in the system. Its
// value is treated as immutable — mutation happens only by whole-value
// replacement through a committed transaction.
//
// A Ref's zero value is not usable; construct one with NewRef.
type Ref[T any] struct {
	id      uint64
	version atomic.Uint64 // monotonically increasing, bumped only under the commit lock
	value   atomic.Pointer[T]
	wakeups wakeupRegistry
}

// NewRef constructs a cell holding the given initial value at version 0.
func NewRef[T any](initial T) *Ref[T] {
	r := &Ref[T]{id: nextCellID.Add(1)}
	r.version.Store(0)
	r.value.Store(&initial)
	return r
}

// id64 satisfies the cellHandle interface used by the journal to key
// entries by identity regardless of the cell's element type T.
func (r *Ref[T]) id64() uint64 { return r.id }

// liveVersion returns the cell's current committed version, for journal
// validation. Safe to call without the commit lock: version is only ever
// read here for comparison, never acted upon outside the lock.
func (r *Ref[T]) liveVersion() uint64 { return r.version.Load() }

// liveValue returns the cell's current committed value, for journal seeding
// on first touch.
func (r *Ref[T]) liveValue() T { return *r.value.Load() }

// wakeupReg satisfies cellHandle: exposes this cell's wakeup registry to
// the commit coordinator.
func (r *Ref[T]) wakeupReg() *wakeupRegistry { return &r.wakeups }

// publish installs a new value and bumps the version. Must only be called
// by the commit coordinator, while holding the commit lock — see §4.4.
func (r *Ref[T]) publish(v T) {
	r.value.Store(&v)
	r.version.Add(1)
}

// publishAny satisfies cellHandle: type-erased entry point used by the
// coordinator, which only ever holds journal entries as `any` values.
func (r *Ref[T]) publishAny(v any) { r.publish(v.(T)) }

// unsafeGet implements spec.md §4.1's unsafe_get: look up (or install) this
// cell's journal entry and return its tentative value. Not thread-safe in
// isolation — callers are the executor, which only ever touches a journal
// from the single goroutine running that attempt.
func unsafeGet[T any](j *journal, r *Ref[T]) T {
	if e, ok := j.lookup(r.id); ok {
		return e.value.(T)
	}
	v := r.liveValue()
	j.add(r.id, journalEntry{
		cell:            r,
		observedVersion: r.liveVersion(),
		value:           v,
	})
	return v
}

// unsafeSet implements spec.md §4.1's unsafe_set: install or update this
// cell's journal entry with a new tentative value, flipping was_written.
func unsafeSet[T any](j *journal, r *Ref[T], v T) {
	if e, ok := j.lookup(r.id); ok {
		e.value = v
		e.written = true
		j.update(r.id, *e)
		return
	}
	j.add(r.id, journalEntry{
		cell:            r,
		observedVersion: r.liveVersion(),
		value:           v,
		written:         true,
	})
}
