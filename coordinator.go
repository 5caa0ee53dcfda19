package stm

import (
	"log/slog"

	deadlock "github.com/sasha-s/go-deadlock"
)

// coordinator owns the single global commit lock that serialises validation
// and publication of every transaction attempt, per spec.md §4.4.
//
// The teacher (map.go) protects its own narrow critical section with a bare
// sync.Mutex; this runtime instead uses github.com/sasha-s/go-deadlock,
// which is API-compatible with sync.Mutex but additionally detects
// lock-order inversions and locks held past a configurable threshold. It
// replaces the teacher's hand-rolled deadlock.go DFS-over-wait-graph
// detector — that detector exists because the teacher's transactions can
// each hold a snapshot indefinitely while contending for the single commit
// mutex, so a misbehaving commit body could in principle wedge others
// behind it; go-deadlock catches exactly that failure mode (a held lock
// that never releases) without a background goroutine walking a wait-for
// graph. See DESIGN.md.
type coordinator struct {
	mu      deadlock.Mutex
	logger  *slog.Logger
	metrics *Stats
}

func newCoordinator(logger *slog.Logger, metrics *Stats) *coordinator {
	return &coordinator{logger: logger, metrics: metrics}
}

// commitDecision is what the coordinator tells the caller to do next.
type commitDecision uint8

const (
	decisionDone commitDecision = iota
	decisionRestart
	decisionParked
)

// commit implements spec.md §4.4's protocol for a completed attempt
// (Success/Failure/Die) or an explicit Retry. The caller (runtime.go) is
// responsible for acting on the returned decision: decisionDone means
// result is final; decisionRestart means re-run with a fresh journal
// immediately; decisionParked means the fiber has already been registered
// and blocked and, upon return here, should re-run with a fresh journal
// (the wakeup already happened).
func (c *coordinator) commit(ec *execContext, j *journal, result execResult) (commitDecision, execResult) {
	c.mu.Lock()

	if j.isInvalid() {
		c.mu.Unlock()
		c.metrics.restarts.Add(1)
		return decisionRestart, execResult{}
	}

	if result.kind == outcomeRetry {
		if ec.scheduler == nil {
			// No scheduler configured: nothing can ever wake this attempt.
			// Surface it as a Die rather than hang forever — a programmer
			// error (Atomically called without a Scheduler while a term
			// can retry), not a normal runtime condition.
			c.mu.Unlock()
			return decisionDone, execDie(newDefect("stm: retry with no Scheduler configured"))
		}
		handle := ec.scheduler.NewWakeupHandle(ec.ctx)
		for _, e := range j.entriesInOrder() {
			e.cell.wakeupReg().register(handle)
		}
		c.mu.Unlock()

		c.metrics.parks.Add(1)
		if c.logger != nil {
			c.logger.Debug("stm: transaction parked on retry", "cells", len(j.entriesInOrder()))
		}

		if err := ec.scheduler.Park(ec.ctx, handle); err != nil {
			// Cancelled while parked: deregister defensively (the cells may
			// have already cleared it via an unrelated commit) and report
			// interruption rather than hang.
			c.mu.Lock()
			for _, e := range j.entriesInOrder() {
				e.cell.wakeupReg().deregister(handle)
			}
			c.mu.Unlock()
			return decisionDone, execInterrupted()
		}
		return decisionParked, execResult{}
	}

	// Failure, Die, or Interrupted: the attempt's writes are discarded —
	// nothing is published and no wakeups fire.
	if result.kind != outcomeSuccess {
		c.mu.Unlock()
		return decisionDone, result
	}

	// Success: publish every written cell, collect the union of writers'
	// wakeup registries, clear them, release the lock, then fire outside
	// the critical section (spec.md §4.4 step 4).
	var toFire [][]WakeupHandle
	written := 0
	for _, e := range j.entriesInOrder() {
		if !e.written {
			continue
		}
		e.cell.publishAny(e.value)
		toFire = append(toFire, e.cell.wakeupReg().takeAndClear())
		written++
	}
	c.mu.Unlock()

	if written > 0 {
		c.metrics.commits.Add(1)
		c.metrics.cellsWritten.Add(int64(written))
		if c.logger != nil {
			c.logger.Debug("stm: transaction committed", "cellsWritten", written)
		}
		fireAllOnce(toFire...)
	} else if result.kind == outcomeSuccess {
		c.metrics.commits.Add(1)
	}

	return decisionDone, result
}
