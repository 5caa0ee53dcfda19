package stm

import "context"

// Scope is the external structured-scope collaborator consumed through an
// interface per spec.md §6 ("Out of scope ... a structured-scope
// mechanism"). It provides deterministic, exactly-once, LIFO-ordered
// resource release on scope exit — the mechanism subscribe_scoped (package
// hub) uses to guarantee unsubscribe runs when the scope closes.
type Scope interface {
	// AddFinalizer registers action to run exactly once when the scope is
	// released, ordered LIFO with peer finalizers already registered on
	// the same scope.
	AddFinalizer(action func())
}

// Subscription is returned by a scoped acquisition (e.g.
// hub.SubscribeScoped): Release performs the acquisition's paired release
// transaction immediately, idempotently, without waiting for scope exit —
// useful for early/manual release — while the scope's own finalizer (also
// wired to Release) guarantees it still happens if the caller never does.
type Subscription[T any] interface {
	// Value is the acquired resource.
	Value() T
	// Release runs the paired release transaction. Safe to call more than
	// once and safe to call after the owning scope has already released it
	// (per spec.md §9: "Release must be idempotent if retried under fiber
	// cancellation").
	Release(ctx context.Context) error
}
