package memcache

import (
	"testing"
	"time"

	"github.com/fetchgate/gateway/gwtypes"
	"github.com/stretchr/testify/require"
)

func val(status int) *gwtypes.CachedValue {
	return &gwtypes.CachedValue{
		Status:    status,
		Body:      []byte("body"),
		StoredAt:  time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	}
}

func TestSetGetRoundTrip(t *testing.T) {
	c := New(2)
	c.Set("a", val(200))
	got, ok := c.Get("a")
	require.True(t, ok)
	require.Equal(t, 200, got.Status)
}

func TestLRUEviction(t *testing.T) {
	c := New(2)
	c.Set("a", val(1))
	c.Set("b", val(2))
	c.Set("c", val(3)) // evicts "a" (least recently used)

	_, ok := c.Get("a")
	require.False(t, ok)
	_, ok = c.Get("b")
	require.True(t, ok)
	_, ok = c.Get("c")
	require.True(t, ok)
}

func TestGetPromotesToMostRecentlyUsed(t *testing.T) {
	c := New(2)
	c.Set("a", val(1))
	c.Set("b", val(2))
	c.Get("a") // touch a, making b the LRU entry
	c.Set("c", val(3))

	_, ok := c.Get("b")
	require.False(t, ok, "b should have been evicted, not a")
	_, ok = c.Get("a")
	require.True(t, ok)
}

func TestExpiredEntryIsMiss(t *testing.T) {
	c := New(2)
	v := val(200)
	v.ExpiresAt = time.Now().Add(-time.Second)
	c.Set("a", v)

	_, ok := c.Get("a")
	require.False(t, ok)
	require.Equal(t, 0, c.Len())
}

func TestStatsTrackHitsAndMisses(t *testing.T) {
	c := New(2)
	c.Set("a", val(1))
	c.Get("a")
	c.Get("missing")

	hits, misses := c.Stats()
	require.Equal(t, int64(1), hits)
	require.Equal(t, int64(1), misses)
}

func TestResizeEvictsDownToNewCapacity(t *testing.T) {
	c := New(3)
	c.Set("a", val(1))
	c.Set("b", val(2))
	c.Set("c", val(3))

	c.Resize(1)
	require.Equal(t, 1, c.Len())
	_, ok := c.Get("c")
	require.True(t, ok, "most recently used entry should survive the shrink")
	_, ok = c.Get("a")
	require.False(t, ok)

	c.Set("d", val(4))
	require.Equal(t, 1, c.Len(), "new capacity must still be enforced after resize")
}

func TestReset(t *testing.T) {
	c := New(2)
	c.Set("a", val(1))
	c.Reset()
	require.Equal(t, 0, c.Len())
	_, ok := c.Get("a")
	require.False(t, ok)
}
