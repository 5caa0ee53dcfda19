package hub_test

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	stm "gostm"
	"gostm/fiber"
	"gostm/hub"
)

func newTestRuntime() (*stm.Runtime, *fiber.Scheduler) {
	sched := fiber.NewScheduler(32)
	return stm.New(stm.WithScheduler(sched)), sched
}

// Scenario 1: one publisher, one subscriber, bounded capacity 4.
func TestScenario1_OnePublisherOneSubscriberInOrder(t *testing.T) {
	rt, _ := newTestRuntime()
	defer rt.Close()
	ctx := context.Background()
	h := hub.Bounded[int](4)

	subOut := stm.Atomically(ctx, rt, h.Subscribe())
	sub, ok := subOut.Success()
	require.True(t, ok)

	for _, v := range []int{7, 1, 4, 2} {
		out := stm.Atomically(ctx, rt, h.Publish(v))
		published, _ := out.Success()
		assert.True(t, published)
	}

	for _, want := range []int{7, 1, 4, 2} {
		out := stm.Atomically(ctx, rt, sub.Take())
		got, succeeded := out.Success()
		require.True(t, succeeded)
		assert.Equal(t, want, got)
	}
}

// Scenario 2: bounded backpressure n=2, publisher publishes 5 messages
// concurrently with a slow subscriber; size never exceeds 2, all five
// eventually arrive in order.
func TestScenario2_BackpressureNeverExceedsCapacity(t *testing.T) {
	rt, sched := newTestRuntime()
	defer rt.Close()
	ctx := context.Background()
	h := hub.Bounded[int](2)

	subOut := stm.Atomically(ctx, rt, h.Subscribe())
	sub, _ := subOut.Success()

	done := make(chan struct{})
	go func() {
		for _, v := range []int{1, 2, 3, 4, 5} {
			stm.Atomically(ctx, rt, h.Publish(v))
		}
		close(done)
	}()

	var mu sync.Mutex
	maxSize := 0
	stop := make(chan struct{})
	err := sched.Go(ctx, func(ctx context.Context) {
		for {
			select {
			case <-stop:
				return
			default:
			}
			out := stm.Atomically(ctx, rt, h.Size())
			sz, _ := out.Success()
			mu.Lock()
			if sz > maxSize {
				maxSize = sz
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
		}
	})
	require.NoError(t, err)

	var got []int
	for i := 0; i < 5; i++ {
		time.Sleep(5 * time.Millisecond)
		out := stm.Atomically(ctx, rt, sub.Take())
		v, ok := out.Success()
		require.True(t, ok)
		got = append(got, v)
	}
	close(stop)
	<-done

	assert.Equal(t, []int{1, 2, 3, 4, 5}, got)
	mu.Lock()
	assert.LessOrEqual(t, maxSize, 2)
	mu.Unlock()
}

// drainAvailable polls s until nothing more is available without blocking.
func drainAvailable(ctx context.Context, rt *stm.Runtime, sub *hub.Subscription[int]) []int {
	var got []int
	for {
		out := stm.Atomically(ctx, rt, sub.Poll())
		r, ok := out.Success()
		if !ok || !r.OK {
			return got
		}
		got = append(got, r.Value)
	}
}

// Scenario 3: dropping, n=2, three publications before any take: subscriber
// receives a prefix of [1,2,3] of length <= 2 starting with 1.
func TestScenario3_DroppingPrefixStartsAtFirstElement(t *testing.T) {
	rt, _ := newTestRuntime()
	defer rt.Close()
	ctx := context.Background()
	h := hub.DroppingHub[int](2)

	subOut := stm.Atomically(ctx, rt, h.Subscribe())
	sub, _ := subOut.Success()

	for _, v := range []int{1, 2, 3} {
		stm.Atomically(ctx, rt, h.Publish(v))
	}

	got := drainAvailable(ctx, rt, sub)
	require.LessOrEqual(t, len(got), 2)
	require.NotEmpty(t, got)
	assert.Equal(t, 1, got[0])
	assert.True(t, sort.IntsAreSorted(got))
}

// Scenario 4: sliding, n=2, publications [1,2,3,4] before any take, two
// subscribers: each subscriber's received sequence is monotonic in publish
// order, length <= 2, and the last element is 4 since all four
// publications commit before any take.
func TestScenario4_SlidingMonotonicAndEndsAtLatest(t *testing.T) {
	rt, _ := newTestRuntime()
	defer rt.Close()
	ctx := context.Background()
	h := hub.SlidingHub[int](2)

	sub1Out := stm.Atomically(ctx, rt, h.Subscribe())
	sub1, _ := sub1Out.Success()
	sub2Out := stm.Atomically(ctx, rt, h.Subscribe())
	sub2, _ := sub2Out.Success()

	for _, v := range []int{1, 2, 3, 4} {
		stm.Atomically(ctx, rt, h.Publish(v))
	}

	for _, sub := range []*hub.Subscription[int]{sub1, sub2} {
		got := drainAvailable(ctx, rt, sub)
		require.LessOrEqual(t, len(got), 2)
		require.NotEmpty(t, got)
		assert.True(t, sort.IntsAreSorted(got))
		assert.Equal(t, 4, got[len(got)-1])
	}
}

// Scenario 5: two concurrent publishers on an unbounded hub, two
// subscribers each seeing their own ten values in order, interleaved
// arbitrarily with the other stream.
func TestScenario5_UnboundedTwoPublishersTwoSubscribers(t *testing.T) {
	rt, _ := newTestRuntime()
	defer rt.Close()
	ctx := context.Background()
	h := hub.UnboundedHub[int]()

	sub1Out := stm.Atomically(ctx, rt, h.Subscribe())
	sub1, _ := sub1Out.Success()
	sub2Out := stm.Atomically(ctx, rt, h.Subscribe())
	sub2, _ := sub2Out.Success()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 1; i <= 10; i++ {
			stm.Atomically(ctx, rt, h.Publish(i))
		}
	}()
	go func() {
		defer wg.Done()
		for i := -1; i >= -10; i-- {
			stm.Atomically(ctx, rt, h.Publish(i))
		}
	}()
	wg.Wait()

	for _, sub := range []*hub.Subscription[int]{sub1, sub2} {
		got := drainAvailable(ctx, rt, sub)
		require.Len(t, got, 20)
		var positives, negatives []int
		for _, v := range got {
			if v > 0 {
				positives = append(positives, v)
			} else {
				negatives = append(negatives, v)
			}
		}
		assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, positives)
		assert.Equal(t, []int{-1, -2, -3, -4, -5, -6, -7, -8, -9, -10}, negatives)
	}
}

func TestPublish_NoSubscribersSucceedsTrivially(t *testing.T) {
	rt, _ := newTestRuntime()
	defer rt.Close()
	ctx := context.Background()
	h := hub.Bounded[int](4)

	out := stm.Atomically(ctx, rt, h.Publish(1))
	ok, succeeded := out.Success()
	require.True(t, succeeded)
	assert.True(t, ok)
}

func TestUnsubscribe_TakeFailsAfterTermination(t *testing.T) {
	rt, _ := newTestRuntime()
	defer rt.Close()
	ctx := context.Background()
	h := hub.Bounded[int](4)

	subOut := stm.Atomically(ctx, rt, h.Subscribe())
	sub, _ := subOut.Success()

	stm.Atomically(ctx, rt, sub.Unsubscribe())

	out := stm.Atomically(ctx, rt, sub.Take())
	_, ok := out.Failure()
	assert.True(t, ok)
}

func TestUnsubscribe_ReclaimsNodesNoLiveSubscriberNeeds(t *testing.T) {
	rt, _ := newTestRuntime()
	defer rt.Close()
	ctx := context.Background()
	h := hub.Bounded[int](4)

	subOut := stm.Atomically(ctx, rt, h.Subscribe())
	sub, _ := subOut.Success()

	stm.Atomically(ctx, rt, h.Publish(1))
	stm.Atomically(ctx, rt, h.Publish(2))

	szBefore := stm.Atomically(ctx, rt, h.Size())
	n, _ := szBefore.Success()
	assert.Equal(t, 2, n)

	stm.Atomically(ctx, rt, sub.Unsubscribe())

	szAfter := stm.Atomically(ctx, rt, h.Size())
	n2, _ := szAfter.Success()
	assert.Equal(t, 0, n2, "unsubscribing the only subscriber must reclaim every unconsumed node")
}

func TestSubscribeScoped_ReleaseOnScopeClose(t *testing.T) {
	rt, _ := newTestRuntime()
	defer rt.Close()
	ctx := context.Background()
	h := hub.Bounded[int](4)

	scope := fiber.NewScope()
	handle, err := h.SubscribeScoped(ctx, rt, scope)
	require.NoError(t, err)

	countOut := stm.Atomically(ctx, rt, h.SubscriberCount())
	n, _ := countOut.Success()
	assert.Equal(t, 1, n)

	scope.Close()

	stateOut := stm.Atomically(ctx, rt, handle.Value().State())
	st, _ := stateOut.Success()
	assert.Equal(t, hub.Terminated, st)
}

// A subscriber that drains the hub to empty and then sees a fresh Publish
// must not crash: once head/tail have gone back to nil, resolving the
// subscriber's next message has to re-root at the live head rather than
// follow a node the subscriber itself is still holding.
func TestTakeAfterFullDrainThenRepublish_DoesNotPanic(t *testing.T) {
	rt, _ := newTestRuntime()
	defer rt.Close()
	ctx := context.Background()
	h := hub.Bounded[int](2)

	subOut := stm.Atomically(ctx, rt, h.Subscribe())
	sub, _ := subOut.Success()

	stm.Atomically(ctx, rt, h.Publish(1))
	out := stm.Atomically(ctx, rt, sub.Take())
	v, ok := out.Success()
	require.True(t, ok)
	assert.Equal(t, 1, v)

	szOut := stm.Atomically(ctx, rt, h.Size())
	sz, _ := szOut.Success()
	require.Equal(t, 0, sz, "hub must have drained to empty before republishing")

	stm.Atomically(ctx, rt, h.Publish(2))

	out2 := stm.Atomically(ctx, rt, sub.Take())
	v2, ok2 := out2.Success()
	require.True(t, ok2)
	assert.Equal(t, 2, v2)
}

// A subscriber that has already consumed at least one message (so its
// cursor is no longer at the ring's pre-subscribe starting point) must
// still have values evicted by a Sliding hub's slide skipped, not
// delivered — interleaving Take with Publish, unlike TestScenario4, which
// only takes after every publish has committed.
func TestSliding_StaleCursorSkipsEvictedNodes(t *testing.T) {
	rt, _ := newTestRuntime()
	defer rt.Close()
	ctx := context.Background()
	h := hub.SlidingHub[int](2)

	subOut := stm.Atomically(ctx, rt, h.Subscribe())
	sub, _ := subOut.Success()

	stm.Atomically(ctx, rt, h.Publish(1))
	stm.Atomically(ctx, rt, h.Publish(2))

	out := stm.Atomically(ctx, rt, sub.Take())
	v, ok := out.Success()
	require.True(t, ok)
	require.Equal(t, 1, v, "first take consumes the oldest published value")

	// Hub now holds just {2}. Publishing 3 fills it to capacity without a
	// slide; publishing 4 then forces a slide that evicts 2 before
	// appending. This subscriber's cursor already points past 1, so it must
	// receive 3 and 4 without ever observing the evicted 2.
	stm.Atomically(ctx, rt, h.Publish(3))
	stm.Atomically(ctx, rt, h.Publish(4))

	got := drainAvailable(ctx, rt, sub)
	assert.Equal(t, []int{3, 4}, got, "sliding must skip values evicted before a stale subscriber cursor reaches them")
}
