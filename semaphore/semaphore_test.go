package semaphore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	stm "gostm"
	"gostm/fiber"
	"gostm/semaphore"
)

func newTestRuntime() (*stm.Runtime, *fiber.Scheduler) {
	sched := fiber.NewScheduler(16)
	return stm.New(stm.WithScheduler(sched)), sched
}

func TestAcquireRelease_RoundTrip(t *testing.T) {
	rt, _ := newTestRuntime()
	defer rt.Close()
	ctx := context.Background()
	s := semaphore.New(1)

	out := stm.Atomically(ctx, rt, s.Acquire())
	_, ok := out.Success()
	require.True(t, ok)

	avail := stm.Atomically(ctx, rt, s.Available())
	n, _ := avail.Success()
	assert.Equal(t, 0, n)

	stm.Atomically(ctx, rt, s.Release())
	avail2 := stm.Atomically(ctx, rt, s.Available())
	n2, _ := avail2.Success()
	assert.Equal(t, 1, n2)
}

func TestAcquire_BlocksWhenExhausted(t *testing.T) {
	rt, sched := newTestRuntime()
	defer rt.Close()
	ctx := context.Background()
	s := semaphore.New(1)

	stm.Atomically(ctx, rt, s.Acquire())

	acquired := make(chan struct{}, 1)
	err := sched.Go(ctx, func(ctx context.Context) {
		stm.Atomically(ctx, rt, s.Acquire())
		acquired <- struct{}{}
	})
	require.NoError(t, err)

	select {
	case <-acquired:
		t.Fatal("second acquire must not succeed while no permit is available")
	case <-time.After(30 * time.Millisecond):
	}

	stm.Atomically(ctx, rt, s.Release())

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second acquire never unblocked after release")
	}
}

func TestTryAcquire_NonBlocking(t *testing.T) {
	rt, _ := newTestRuntime()
	defer rt.Close()
	ctx := context.Background()
	s := semaphore.New(0)

	out := stm.Atomically(ctx, rt, s.TryAcquire())
	ok, _ := out.Success()
	assert.False(t, ok)
}

func TestAcquireN_AtomicBatch(t *testing.T) {
	rt, _ := newTestRuntime()
	defer rt.Close()
	ctx := context.Background()
	s := semaphore.New(5)

	out := stm.Atomically(ctx, rt, s.AcquireN(3))
	_, ok := out.Success()
	require.True(t, ok)

	avail := stm.Atomically(ctx, rt, s.Available())
	n, _ := avail.Success()
	assert.Equal(t, 2, n)
}

func TestWithPermit_AlwaysReleasesOnBodyError(t *testing.T) {
	rt, _ := newTestRuntime()
	defer rt.Close()
	ctx := context.Background()
	s := semaphore.New(1)

	bodyErr := errors.New("body failed")
	_, err := semaphore.WithPermit(ctx, rt, s, func() (int, error) {
		return 0, bodyErr
	})
	require.ErrorIs(t, err, bodyErr)

	avail := stm.Atomically(ctx, rt, s.Available())
	n, _ := avail.Success()
	assert.Equal(t, 1, n, "WithPermit must release even when body returns an error")
}
