// Package fiber provides reference implementations of the stm.Scheduler
// and stm.Scope collaborators, so the engine in the parent package can be
// exercised end-to-end without a caller having to bring their own fiber
// runtime. Production embedders of package stm are expected to implement
// these interfaces against whatever cooperative scheduler they already
// have (spec.md §1: "consumed only through the interfaces in §6").
package fiber

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"gostm"
)

// Scheduler is a goroutine-pool fiber scheduler: "fibers" are plain
// goroutines, tagged with an identity carried in context.Context, and
// bounded in how many may run concurrently by a weighted semaphore — the
// same primitive go-ethereum and go-eventloop pull golang.org/x/sync in
// for, used here to model spec.md §5's "cooperatively scheduled
// concurrency fabric" (many fibers logically exist; a bounded number of
// goroutines actually execute their bodies at any instant, the rest
// waiting on Acquire the same way a parked transaction waits on its
// wakeup handle).
//
// This is a plain (non-transactional) semaphore gating goroutine fan-out —
// unrelated to, and simpler than, the transactional package semaphore
// built entirely from Ref and retry.
type Scheduler struct {
	limiter *semaphore.Weighted
	idSeq   atomic.Uint64
}

// NewScheduler constructs a Scheduler allowing up to maxConcurrent fiber
// bodies to run at once. A non-positive maxConcurrent means unbounded.
func NewScheduler(maxConcurrent int64) *Scheduler {
	if maxConcurrent <= 0 {
		maxConcurrent = 1 << 30
	}
	return &Scheduler{limiter: semaphore.NewWeighted(maxConcurrent)}
}

type fiberIDKeyType struct{}

var fiberIDKey fiberIDKeyType

// Go launches body on a new goroutine as a fiber without blocking the
// caller; the fiber's goroutine waits for a concurrency slot before running
// body. Go returns ctx.Err() without launching anything if ctx is already
// done; if ctx is cancelled while the fiber is still waiting for a slot,
// body never runs. The context passed to body carries the fiber's
// identity, retrievable via CurrentFiberID.
func (s *Scheduler) Go(ctx context.Context, body func(ctx context.Context)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id := stm.FiberID(s.idSeq.Add(1))
	fctx := context.WithValue(ctx, fiberIDKey, id)
	go func() {
		if err := s.limiter.Acquire(ctx, 1); err != nil {
			return
		}
		defer s.limiter.Release(1)
		body(fctx)
	}()
	return nil
}

// CurrentFiberID implements stm.Scheduler.
func (s *Scheduler) CurrentFiberID(ctx context.Context) stm.FiberID {
	if id, ok := ctx.Value(fiberIDKey).(stm.FiberID); ok {
		return id
	}
	return 0
}

// IsCancelled implements stm.Scheduler.
func (s *Scheduler) IsCancelled(ctx context.Context) bool {
	return ctx.Err() != nil
}

// wakeupHandle is a one-shot, idempotent resume signal backed by a closed
// channel — closing a channel is the standard idiomatic Go broadcast
// primitive for "wake every waiter exactly once".
type wakeupHandle struct {
	once sync.Once
	ch   chan struct{}
}

func newWakeupHandle() *wakeupHandle {
	return &wakeupHandle{ch: make(chan struct{})}
}

// Fire implements stm.WakeupHandle.
func (h *wakeupHandle) Fire() {
	h.once.Do(func() { close(h.ch) })
}

// NewWakeupHandle implements stm.Scheduler.
func (s *Scheduler) NewWakeupHandle(ctx context.Context) stm.WakeupHandle {
	return newWakeupHandle()
}

// Park implements stm.Scheduler: blocks until h fires or ctx is done.
func (s *Scheduler) Park(ctx context.Context, h stm.WakeupHandle) error {
	wh, ok := h.(*wakeupHandle)
	if !ok {
		// A handle from a different Scheduler implementation was passed in
		// — a wiring bug, not a runtime condition callers should expect to
		// recover from at this layer.
		<-ctx.Done()
		return ctx.Err()
	}
	select {
	case <-wh.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
