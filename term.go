package stm

// Unit is the result type of transactions that produce no meaningful value
// (a bare WriteRef, a signal retry, ...), mirroring the convention used by
// the effect systems this runtime's vocabulary (fold, or_try, flat_map) is
// drawn from.
type Unit struct{}

// termNode is the type-erased tagged variant spec.md §3 describes: "a
// tagged variant tree over the primitives succeed, fail, retry, die, sync,
// read(cell), write(cell,v), flat_map(t, k), fold(t, on_fail, on_succeed),
// or_try(t1, t2), provide_env(ctx, t), with_env(f), interrupt". Go has no
// existential generics, so Term[A] (the public, statically typed API)
// wraps a termNode whose payloads are `any`; the executor (executor.go)
// interprets nodes with a type switch and the Term[A] boundary functions
// are the only place static types and `any` meet, via type assertions that
// can only fail on a programmer error in this package itself (never from
// caller input, since the combinators are the only way to construct a
// node).
type termNode interface{ stmTermNode() }

type succeedNode struct{ value any }
type failNode struct{ err error }
type dieNode struct{ value any }
type retryNode struct{}
type interruptNode struct{}
type syncNode struct{ fn func() any }
type readNode struct {
	cell cellHandle
	get  func(j *journal) any
}
type writeNode struct {
	cell cellHandle
	set  func(j *journal)
}
type flatMapNode struct {
	base termNode
	k    func(any) termNode
}
type foldNode struct {
	base      termNode
	onFail    func(error) termNode
	onSuccess func(any) termNode
}
type orTryNode struct{ t1, t2 termNode }
type provideEnvNode struct {
	env  any
	base termNode
}
type withEnvNode struct {
	f func(any) termNode
}

func (succeedNode) stmTermNode()    {}
func (failNode) stmTermNode()       {}
func (dieNode) stmTermNode()        {}
func (retryNode) stmTermNode()      {}
func (interruptNode) stmTermNode()  {}
func (syncNode) stmTermNode()       {}
func (readNode) stmTermNode()       {}
func (writeNode) stmTermNode()      {}
func (flatMapNode) stmTermNode()    {}
func (foldNode) stmTermNode()       {}
func (orTryNode) stmTermNode()      {}
func (provideEnvNode) stmTermNode() {}
func (withEnvNode) stmTermNode()    {}

// Term is a suspended description of a transaction: an immutable value that
// may be re-executed any number of times (spec.md §3). Build one with the
// package-level combinators below and run it with Atomically.
type Term[A any] struct {
	node termNode
}

// Succeed builds a transaction that immediately commits with value v.
func Succeed[A any](v A) Term[A] {
	return Term[A]{node: succeedNode{value: v}}
}

// Fail builds a transaction that aborts with a recoverable error.
func Fail[A any](err error) Term[A] {
	return Term[A]{node: failNode{err: err}}
}

// RetryTerm builds a transaction that blocks until any cell it has read
// changes, then re-runs from scratch. Named RetryTerm (not Retry), in line
// with DieTerm and InterruptTerm.
func RetryTerm[A any]() Term[A] {
	return Term[A]{node: retryNode{}}
}

// DieTerm builds a transaction that aborts with an unrecoverable defect.
// Named DieTerm to avoid shadowing the Defect type's common usage.
func DieTerm[A any](defect any) Term[A] {
	return Term[A]{node: dieNode{value: defect}}
}

// InterruptTerm builds a transaction that aborts as though the owning fiber
// were cancelled, regardless of the Scheduler's actual cancellation state.
func InterruptTerm[A any]() Term[A] {
	return Term[A]{node: interruptNode{}}
}

// Sync lifts a pure, side-effect-free Go function into a transaction. f
// must be safe to call any number of times (the attempt may be re-run on
// conflict or retry) — the same referential-transparency requirement
// spec.md §3 places on terms overall.
func Sync[A any](f func() A) Term[A] {
	return Term[A]{node: syncNode{fn: func() any { return f() }}}
}

// ReadRef builds a transaction that returns the cell's tentative value
// within this attempt (spec.md §4.1 unsafe_get).
func ReadRef[T any](r *Ref[T]) Term[T] {
	return Term[T]{node: readNode{
		cell: r,
		get:  func(j *journal) any { return unsafeGet(j, r) },
	}}
}

// WriteRef builds a transaction that tentatively replaces the cell's value
// (spec.md §4.1 unsafe_set); the write is only visible to other
// transactions once this one commits.
func WriteRef[T any](r *Ref[T], v T) Term[Unit] {
	return Term[Unit]{node: writeNode{
		cell: r,
		set:  func(j *journal) { unsafeSet(j, r, v) },
	}}
}

// ModifyRef builds a transaction that reads a cell, applies f, and writes
// the result back — a common enough shape (the teacher's Tx.Put after an
// implicit Get) that it earns its own combinator rather than forcing every
// caller to hand-write FlatMap(ReadRef(r), ...).
func ModifyRef[T any](r *Ref[T], f func(T) T) Term[Unit] {
	return FlatMap(ReadRef(r), func(old T) Term[Unit] {
		return WriteRef(r, f(old))
	})
}

// FlatMap sequences a transaction with a continuation that receives its
// result and produces the next transaction — the sole sequencing primitive;
// Map and ZipRight desugar to it (see SPEC_FULL.md §7).
func FlatMap[A, B any](t Term[A], k func(A) Term[B]) Term[B] {
	return Term[B]{node: flatMapNode{
		base: t.node,
		k:    func(a any) termNode { return k(a.(A)).node },
	}}
}

// Fold traps a Failure (never Retry, never Die — see spec.md §4.3) and
// dispatches to onFail or onSuccess to produce the next transaction.
func Fold[A, B any](t Term[A], onFail func(error) Term[B], onSuccess func(A) Term[B]) Term[B] {
	return Term[B]{node: foldNode{
		base:      t.node,
		onFail:    func(e error) termNode { return onFail(e).node },
		onSuccess: func(a any) termNode { return onSuccess(a.(A)).node },
	}}
}

// OrTry runs t1 on a child journal; if t1 retries, only its reads are
// merged into the parent journal before t2 runs (spec.md §4.3). If t1
// reaches Success/Failure/Die, its child journal (including any writes) is
// adopted wholesale and t2 never runs.
func OrTry[A any](t1, t2 Term[A]) Term[A] {
	return Term[A]{node: orTryNode{t1: t1.node, t2: t2.node}}
}

// ProvideEnv binds an environment value visible to WithEnv within t's
// subtree, so a transaction can read an ambient value without threading it
// through every combinator's argument list.
func ProvideEnv[E, A any](env E, t Term[A]) Term[A] {
	return Term[A]{node: provideEnvNode{env: env, base: t.node}}
}

// WithEnv builds the next transaction from the currently bound environment
// of type E. It is a programmer error (a runtime Die) to use WithEnv[E] in
// a subtree not wrapped by a matching ProvideEnv[E, _].
func WithEnv[E, A any](f func(E) Term[A]) Term[A] {
	return Term[A]{node: withEnvNode{
		f: func(env any) termNode {
			e, ok := env.(E)
			if !ok {
				return dieNode{value: "stm: with_env: bound environment has a different type"}
			}
			return f(e).node
		},
	}}
}

// --- derived combinators (SPEC_FULL.md §7 desugaring table) ---

// Map transforms a transaction's result with a pure function.
func Map[A, B any](t Term[A], f func(A) B) Term[B] {
	return FlatMap(t, func(a A) Term[B] { return Succeed(f(a)) })
}

// Zip runs t1 then t2, returning both results as a pair.
func Zip[A, B any](t1 Term[A], t2 Term[B]) Term[Pair[A, B]] {
	return FlatMap(t1, func(a A) Term[Pair[A, B]] {
		return Map(t2, func(b B) Pair[A, B] { return Pair[A, B]{First: a, Second: b} })
	})
}

// Pair is the result type of Zip.
type Pair[A, B any] struct {
	First  A
	Second B
}

// ZipRight runs t1 for effect, discards its result, then runs and returns t2.
func ZipRight[A, B any](t1 Term[A], t2 Term[B]) Term[B] {
	return FlatMap(t1, func(A) Term[B] { return t2 })
}

// Catch recovers from a Failure by running a handler; unlike Fold it cannot
// change the success type.
func Catch[A any](t Term[A], f func(error) Term[A]) Term[A] {
	return Fold(t, f, func(a A) Term[A] { return Succeed(a) })
}

// Tap runs a side-effecting callback on success without altering the result.
func Tap[A any](t Term[A], f func(A)) Term[A] {
	return FlatMap(t, func(a A) Term[A] {
		f(a)
		return Succeed(a)
	})
}

// Ensuring runs finalizer after t completes with Success or Failure; a
// Failure's error propagates after the finalizer runs. It is built on Fold,
// so the finalizer does not run when t retries, dies, or is interrupted.
func Ensuring[A any](t Term[A], finalizer func()) Term[A] {
	return Fold(t,
		func(err error) Term[A] {
			finalizer()
			return Fail[A](err)
		},
		func(a A) Term[A] {
			finalizer()
			return Succeed(a)
		},
	)
}

// RetryUntil blocks until cond (itself a transactional read, typically of
// some Ref) reports true.
func RetryUntil(cond Term[bool]) Term[Unit] {
	return FlatMap(cond, func(ok bool) Term[Unit] {
		if ok {
			return Succeed(Unit{})
		}
		return RetryTerm[Unit]()
	})
}
