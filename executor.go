package stm

import "context"

// execResult is the executor's internal, type-erased result of walking a
// term to completion, retry, or abort. It adds one kind beyond the four
// public outcomes (Success/Failure/Die/Retry): outcomeInvalid, signalling
// that journal validation failed mid-attempt and the whole attempt must be
// discarded and re-run from scratch with a fresh journal (spec.md §4.3:
// "After each primitive the executor re-checks journal validity; if
// invalid it aborts the attempt and signals the coordinator to restart").
type execResult struct {
	kind   outcomeKind
	value  any
	fail   error
	defect *Defect
}

const (
	outcomeInvalid     outcomeKind = 100
	outcomeInterrupted outcomeKind = 101
)

func execSuccess(v any) execResult       { return execResult{kind: outcomeSuccess, value: v} }
func execFailure(err error) execResult   { return execResult{kind: outcomeFailure, fail: err} }
func execDie(d *Defect) execResult       { return execResult{kind: outcomeDie, defect: d} }
func execRetry() execResult              { return execResult{kind: outcomeRetry} }
func execInvalid() execResult            { return execResult{kind: outcomeInvalid} }
func execInterrupted() execResult        { return execResult{kind: outcomeInterrupted} }

// frame is one pending continuation on the executor's explicit stack,
// replacing host-language recursion for flat_map/fold chains per spec.md
// §9: "Reimplement as a tagged-variant term tree and interpret with an
// explicit continuation stack; do not rely on host recursion." Choice
// combinators (or_try, provide_env) still recurse into a nested call of
// run — that recursion is bounded by the term's literal source-level
// nesting, not by how many times a transaction loops, which is the
// unbounded case this stack is built to avoid blowing the Go stack on.
type frame struct {
	isFold    bool
	flatK     func(any) termNode
	onFail    func(error) termNode
	onSuccess func(any) termNode
}

// execContext carries the state shared across one transaction attempt that
// isn't part of the journal: the ambient environment stack for
// provide_env/with_env and the collaborators consulted for cancellation.
type execContext struct {
	ctx       context.Context
	scheduler Scheduler
	envStack  []any
}

func (ec *execContext) pushEnv(e any) { ec.envStack = append(ec.envStack, e) }
func (ec *execContext) popEnv()       { ec.envStack = ec.envStack[:len(ec.envStack)-1] }
func (ec *execContext) currentEnv() (any, bool) {
	if len(ec.envStack) == 0 {
		return nil, false
	}
	return ec.envStack[len(ec.envStack)-1], true
}

// run interprets root against j, returning the attempt's terminal result.
// It is the sole recursive entry point (for or_try/provide_env subtrees);
// everything else is the iterative stack loop below.
func run(ec *execContext, j *journal, root termNode) execResult {
	var stack []frame
	cur := root

	// evaluating tracks whether cur is a node to interpret (true) or
	// pending holds a terminal result being propagated up through stack
	// (false).
	evaluating := true
	var pending execResult

	for {
		if evaluating {
			if ec.scheduler != nil && ec.scheduler.IsCancelled(ec.ctx) {
				return execInterrupted()
			}

			switch n := cur.(type) {
			case succeedNode:
				pending = execSuccess(n.value)
				evaluating = false

			case failNode:
				pending = execFailure(n.err)
				evaluating = false

			case dieNode:
				pending = execDie(newDefect(n.value))
				evaluating = false

			case interruptNode:
				pending = execInterrupted()
				evaluating = false

			case retryNode:
				pending = execRetry()
				evaluating = false

			case syncNode:
				result := safeCall(n.fn)
				if panicked, ok := result.(panicSentinel); ok {
					pending = execDie(newDefect(panicked.value))
				} else if j.isInvalid() {
					pending = execInvalid()
				} else {
					pending = execSuccess(result)
				}
				evaluating = false

			case readNode:
				v := n.get(j)
				if j.isInvalid() {
					pending = execInvalid()
				} else {
					pending = execSuccess(v)
				}
				evaluating = false

			case writeNode:
				n.set(j)
				if j.isInvalid() {
					pending = execInvalid()
				} else {
					pending = execSuccess(any(Unit{}))
				}
				evaluating = false

			case flatMapNode:
				stack = append(stack, frame{flatK: n.k})
				cur = n.base
				// evaluating stays true; loop continues into base

			case foldNode:
				stack = append(stack, frame{isFold: true, onFail: n.onFail, onSuccess: n.onSuccess})
				cur = n.base

			case orTryNode:
				childJournal := newJournal()
				child := run(ec, childJournal, n.t1)
				switch child.kind {
				case outcomeRetry:
					j.mergeReadsFrom(childJournal)
					cur = n.t2
					// stay evaluating, fall through to next loop iteration
				case outcomeInvalid, outcomeInterrupted:
					pending = child
					evaluating = false
				default: // success, failure, die: adopt wholesale and propagate
					j.adopt(childJournal)
					pending = child
					evaluating = false
				}

			case provideEnvNode:
				ec.pushEnv(n.env)
				sub := run(ec, j, n.base)
				ec.popEnv()
				pending = sub
				evaluating = false

			case withEnvNode:
				env, ok := ec.currentEnv()
				if !ok {
					pending = execDie(newDefect("stm: with_env: no environment bound in scope"))
					evaluating = false
					break
				}
				cur = n.f(env)

			default:
				pending = execDie(newDefect("stm: unknown term node"))
				evaluating = false
			}
			continue
		}

		// Propagating `pending` up through the frame stack.
		if len(stack) == 0 {
			return pending
		}
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if pending.kind == outcomeSuccess {
			if top.isFold {
				cur = top.onSuccess(pending.value)
			} else {
				cur = top.flatK(pending.value)
			}
			evaluating = true
			continue
		}
		if pending.kind == outcomeFailure && top.isFold {
			cur = top.onFail(pending.fail)
			evaluating = true
			continue
		}
		// Die, Retry, outcomeInvalid, outcomeInterrupted, and an untrapped
		// Failure all continue propagating without being caught — per
		// spec.md §4.3, fold traps Failure only, never Retry or Die, and
		// flat_map never traps anything.
	}
}

// safeCall recovers a panicking Sync callback into a Die result instead of
// crashing the fiber. Only Sync callbacks are guarded this way; a panic in
// a FlatMap, Fold, or WithEnv continuation is not recovered.
func safeCall(fn func() any) (result any) {
	defer func() {
		if r := recover(); r != nil {
			result = panicSentinel{value: r}
		}
	}()
	return fn()
}

// panicSentinel distinguishes a recovered panic from a legitimate `any`
// sync result inside the executor loop.
type panicSentinel struct{ value any }
