package admission

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAcquireReleaseBasic(t *testing.T) {
	c := New(2)
	ctx := context.Background()

	require.NoError(t, c.Acquire(ctx))
	require.NoError(t, c.Acquire(ctx))
	require.Equal(t, State{Limit: 2, Active: 2, Waiting: 0}, c.State())

	c.Release()
	require.Equal(t, 1, c.State().Active)
}

func TestAcquireBlocksAtLimit(t *testing.T) {
	c := New(1)
	ctx := context.Background()
	require.NoError(t, c.Acquire(ctx))

	done := make(chan struct{})
	go func() {
		require.NoError(t, c.Acquire(ctx))
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, c.State().Waiting)

	c.Release()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second Acquire never unblocked after Release")
	}
}

func TestAcquireCanceledNeverHoldsPermit(t *testing.T) {
	c := New(1)
	ctx := context.Background()
	require.NoError(t, c.Acquire(ctx))

	cctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Acquire(cctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("canceled Acquire never returned")
	}

	// The held permit is still with the first Acquire; releasing it must
	// admit a fresh waiter rather than leak the slot to the canceled one.
	c.Release()
	require.NoError(t, c.Acquire(context.Background()))
}

func TestReleaseWithoutAcquirePanics(t *testing.T) {
	c := New(1)
	require.Panics(t, func() { c.Release() })
}

func TestResizeUpAdmitsWaiters(t *testing.T) {
	c := New(1)
	ctx := context.Background()
	require.NoError(t, c.Acquire(ctx))

	done := make(chan struct{})
	go func() {
		require.NoError(t, c.Acquire(ctx))
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, c.State().Waiting)

	require.NoError(t, c.Resize(2))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Resize(2) never admitted the queued waiter")
	}
	require.Equal(t, 2, c.State().Active)
}

func TestResizeDownDoesNotRevokeHeldPermits(t *testing.T) {
	c := New(3)
	ctx := context.Background()
	require.NoError(t, c.Acquire(ctx))
	require.NoError(t, c.Acquire(ctx))
	require.NoError(t, c.Acquire(ctx))

	require.NoError(t, c.Resize(1))
	require.Equal(t, 3, c.State().Active) // still holding 3, over the new limit

	c.Release()
	c.Release()
	require.Equal(t, 1, c.State().Active)
}

func TestReleaseRaceWithCancelDoesNotLeakPermits(t *testing.T) {
	c := New(4)
	ctx := context.Background()

	var wg sync.WaitGroup
	for round := 0; round < 200; round++ {
		for i := 0; i < 4; i++ {
			require.NoError(t, c.Acquire(ctx))
		}

		// Queue waiters whose contexts are about to expire right as Release
		// hands them a permit — the race the fix targets.
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				cctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
				defer cancel()
				if err := c.Acquire(cctx); err == nil {
					c.Release()
				}
			}()
		}

		for i := 0; i < 4; i++ {
			c.Release()
		}
		wg.Wait()

		st := c.State()
		require.Equal(t, 0, st.Active, "round %d: a held permit was leaked", round)
		require.Equal(t, 0, st.Waiting, "round %d: a waiter was left stranded", round)
	}
}

func TestFIFOOrdering(t *testing.T) {
	c := New(1)
	ctx := context.Background()
	require.NoError(t, c.Acquire(ctx))

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			// Stagger goroutine starts so waiters queue in a known order.
			time.Sleep(time.Duration(n) * 10 * time.Millisecond)
			require.NoError(t, c.Acquire(ctx))
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
			c.Release()
		}(i)
	}
	time.Sleep(100 * time.Millisecond)
	c.Release()
	wg.Wait()

	require.Equal(t, []int{0, 1, 2, 3, 4}, order)
}
