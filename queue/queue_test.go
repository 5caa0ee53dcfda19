package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	stm "gostm"
	"gostm/fiber"
	"gostm/queue"
)

func newTestRuntime() (*stm.Runtime, *fiber.Scheduler) {
	sched := fiber.NewScheduler(16)
	return stm.New(stm.WithScheduler(sched)), sched
}

func TestUnbounded_OfferTakeInOrder(t *testing.T) {
	rt, _ := newTestRuntime()
	defer rt.Close()
	q := queue.Unbounded[int]()

	for _, v := range []int{7, 1, 4, 2} {
		out := stm.Atomically(context.Background(), rt, q.Offer(v))
		ok, _ := out.Success()
		assert.True(t, ok)
	}
	for _, want := range []int{7, 1, 4, 2} {
		out := stm.Atomically(context.Background(), rt, q.Take())
		r, _ := out.Success()
		require.True(t, r.OK)
		assert.Equal(t, want, r.Value)
	}
}

func TestBounded_BackpressureRetriesThenSucceedsAfterRoom(t *testing.T) {
	rt, sched := newTestRuntime()
	defer rt.Close()
	q := queue.Bounded[int](2)

	stm.Atomically(context.Background(), rt, q.Offer(1))
	stm.Atomically(context.Background(), rt, q.Offer(2))

	done := make(chan bool, 1)
	err := sched.Go(context.Background(), func(ctx context.Context) {
		out := stm.Atomically(ctx, rt, q.Offer(3))
		ok, _ := out.Success()
		done <- ok
	})
	require.NoError(t, err)

	select {
	case <-done:
		t.Fatal("offer on a full backpressure queue must not succeed immediately")
	case <-time.After(30 * time.Millisecond):
	}

	stm.Atomically(context.Background(), rt, q.Take())

	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("offer never unblocked after room freed")
	}
}

func TestDropping_FullOfferReturnsFalseWithoutBlocking(t *testing.T) {
	rt, _ := newTestRuntime()
	defer rt.Close()
	q := queue.DroppingQueue[int](2)

	for _, v := range []int{1, 2} {
		out := stm.Atomically(context.Background(), rt, q.Offer(v))
		ok, _ := out.Success()
		assert.True(t, ok)
	}
	out := stm.Atomically(context.Background(), rt, q.Offer(3))
	ok, _ := out.Success()
	assert.False(t, ok)

	sz := stm.Atomically(context.Background(), rt, q.Size())
	n, _ := sz.Success()
	assert.Equal(t, 2, n)
}

func TestSliding_FullOfferEvictsHeadPreservingOrder(t *testing.T) {
	rt, _ := newTestRuntime()
	defer rt.Close()
	q := queue.SlidingQueue[int](2)

	for _, v := range []int{1, 2, 3} {
		stm.Atomically(context.Background(), rt, q.Offer(v))
	}
	out := stm.Atomically(context.Background(), rt, q.TakeAll())
	vs, _ := out.Success()
	assert.Equal(t, []int{2, 3}, vs)
}

func TestSize_BoundedInvariant(t *testing.T) {
	rt, _ := newTestRuntime()
	defer rt.Close()
	q := queue.Bounded[int](4)

	for i := 0; i < 4; i++ {
		stm.Atomically(context.Background(), rt, q.Offer(i))
		sz := stm.Atomically(context.Background(), rt, q.Size())
		n, _ := sz.Success()
		assert.LessOrEqual(t, n, 4)
		assert.GreaterOrEqual(t, n, 0)
	}
}

func TestPoll_NonBlockingOnEmpty(t *testing.T) {
	rt, _ := newTestRuntime()
	defer rt.Close()
	q := queue.Unbounded[int]()

	out := stm.Atomically(context.Background(), rt, q.Poll())
	r, ok := out.Success()
	require.True(t, ok)
	assert.False(t, r.OK)
}

func TestShutdown_TakeReturnsTerminalSignalWhenDrained(t *testing.T) {
	rt, _ := newTestRuntime()
	defer rt.Close()
	q := queue.Unbounded[int]()

	stm.Atomically(context.Background(), rt, q.Offer(1))
	stm.Atomically(context.Background(), rt, q.Shutdown())

	out := stm.Atomically(context.Background(), rt, q.Take())
	r, _ := out.Success()
	require.True(t, r.OK)
	assert.Equal(t, 1, r.Value)

	out2 := stm.Atomically(context.Background(), rt, q.Take())
	r2, _ := out2.Success()
	assert.True(t, r2.ShutDown)
}

func TestShutdown_OfferFails(t *testing.T) {
	rt, _ := newTestRuntime()
	defer rt.Close()
	q := queue.Unbounded[int]()

	stm.Atomically(context.Background(), rt, q.Shutdown())
	out := stm.Atomically(context.Background(), rt, q.Offer(1))
	err, ok := out.Failure()
	require.True(t, ok)
	assert.ErrorIs(t, err, stm.ErrShutdown)
}

func TestOfferAll_AtomicBatch(t *testing.T) {
	rt, _ := newTestRuntime()
	defer rt.Close()
	q := queue.Unbounded[int]()

	out := stm.Atomically(context.Background(), rt, q.OfferAll([]int{1, 2, 3}))
	_, ok := out.Success()
	require.True(t, ok)

	all := stm.Atomically(context.Background(), rt, q.TakeAll())
	vs, _ := all.Success()
	assert.Equal(t, []int{1, 2, 3}, vs)
}
