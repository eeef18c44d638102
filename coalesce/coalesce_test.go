package coalesce

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fetchgate/gateway/gwtypes"
	"github.com/stretchr/testify/require"
)

func TestSecondStartIsFollower(t *testing.T) {
	r := NewRegistry()
	h1, leader1 := r.Start("fp")
	h2, leader2 := r.Start("fp")

	require.True(t, leader1)
	require.False(t, leader2)
	require.Same(t, h1, h2)
}

func TestFollowersObserveHeadBeforeFinal(t *testing.T) {
	r := NewRegistry()
	h, leader := r.Start("fp")
	require.True(t, leader)

	var wg sync.WaitGroup
	headSeen := make(chan Head, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		head, err := h.WaitHead(context.Background())
		require.NoError(t, err)
		headSeen <- head
	}()

	time.Sleep(10 * time.Millisecond)
	h.ResolveHead(Head{Status: 200, Streaming: true})

	select {
	case head := <-headSeen:
		require.Equal(t, 200, head.Status)
		require.True(t, head.Streaming)
	case <-time.After(time.Second):
		t.Fatal("follower never observed head resolution")
	}

	h.ResolveFinal(nil, nil)
	wg.Wait()
}

func TestHandleRemovedFromRegistryAfterFinal(t *testing.T) {
	r := NewRegistry()
	h, _ := r.Start("fp")
	require.Equal(t, 1, r.Len())

	h.ResolveHead(Head{Status: 200})
	h.ResolveFinal(&gwtypes.CachedValue{Status: 200}, nil)

	require.Equal(t, 0, r.Len())
	require.False(t, r.InFlight("fp"))
}

func TestFollowerCancelDoesNotAffectLeader(t *testing.T) {
	r := NewRegistry()
	h, _ := r.Start("fp")

	cctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := h.WaitFinal(cctx)
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("canceled follower never returned")
	}

	// The leader is unaffected and can still resolve normally.
	h.ResolveHead(Head{Status: 200})
	h.ResolveFinal(&gwtypes.CachedValue{Status: 200}, nil)

	val, err := h.WaitFinal(context.Background())
	require.NoError(t, err)
	require.Equal(t, 200, val.Status)
}

func TestResolveIsIdempotent(t *testing.T) {
	r := NewRegistry()
	h, _ := r.Start("fp")

	h.ResolveHead(Head{Status: 200})
	h.ResolveHead(Head{Status: 500}) // must be ignored

	head, err := h.WaitHead(context.Background())
	require.NoError(t, err)
	require.Equal(t, 200, head.Status)

	h.ResolveFinal(&gwtypes.CachedValue{Status: 200}, nil)
	h.ResolveFinal(&gwtypes.CachedValue{Status: 500}, nil) // ignored

	val, err := h.WaitFinal(context.Background())
	require.NoError(t, err)
	require.Equal(t, 200, val.Status)
}
