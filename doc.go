// Package stm provides a software transactional memory runtime: composable,
// atomic coordination between lightweight concurrent fibers via transactions
// over versioned cells (Ref).
//
// # Architecture
//
// A transaction is described as a [Term] — an immutable combinator tree over
// primitives such as [Succeed], [Fail], [RetryTerm], [ReadRef], and [WriteRef].
// [Atomically] hands a term to the executor (executor.go), which records reads and
// writes in a per-attempt [journal] and, on completion, asks the
// [coordinator] to validate and publish the journal under a single global
// commit lock. A transaction that calls [RetryTerm] registers the calling
// fiber's wakeup handle on every cell it observed and parks; any later
// commit that writes one of those cells fires the handle, causing the fiber
// to re-run the transaction from scratch.
//
// # Collections
//
// [queue.TQueue], [hub.Hub], [semaphore.Semaphore], and
// [priorityqueue.PQueue] are pure compositions of [Ref] reads and writes;
// none of them touch the commit lock directly or hold any lock of their
// own — admission policy and ordering live entirely in their transaction
// bodies.
//
// # Collaborators
//
// The engine consumes a [Scheduler] (fiber identity, park/resume,
// cancellation) and a [Scope] (deterministic finalizer execution) purely
// through interfaces; package fiber ships goroutine-based reference
// implementations of both.
package stm
