package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fetchgate/gateway/gwtypes"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// fakeKV is an in-memory stand-in for a Redis-shaped KV store, used so
// these tests exercise the L2 cache's key discipline and ordering
// guarantees without a live Redis instance.
type fakeKV struct {
	mu     sync.Mutex
	values map[string]string
	lists  map[string][]string
}

func newFakeKV() *fakeKV {
	return &fakeKV{values: map[string]string{}, lists: map[string][]string{}}
}

func (f *fakeKV) Get(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (f *fakeKV) SetEX(ctx context.Context, key, value string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = value
	return nil
}

func (f *fakeKV) Del(ctx context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.values, k)
		delete(f.lists, k)
	}
	return nil
}

func (f *fakeKV) LLen(ctx context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.lists[key])), nil
}

func (f *fakeKV) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l := f.lists[key]
	if stop < 0 {
		stop = int64(len(l)) - 1
	}
	if stop >= int64(len(l)) {
		stop = int64(len(l)) - 1
	}
	if start > stop || len(l) == 0 {
		return nil, nil
	}
	out := make([]string, stop-start+1)
	copy(out, l[start:stop+1])
	return out, nil
}

func (f *fakeKV) RPush(ctx context.Context, key string, values ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists[key] = append(f.lists[key], values...)
	return nil
}

func (f *fakeKV) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return nil
}

func TestBufferedRoundTrip(t *testing.T) {
	kv := newFakeKV()
	c := New(kv)
	ctx := context.Background()

	v := &gwtypes.CachedValue{
		Fingerprint: "fp1",
		Status:      200,
		Header:      map[string][]string{"Content-Type": {"text/plain"}},
		Body:        []byte("hello"),
		StoredAt:    time.Now(),
	}
	require.NoError(t, c.SetBuffered(ctx, v, time.Minute))

	got, err := c.GetBuffered(ctx, "fp1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, 200, got.Status)
	require.Equal(t, []byte("hello"), got.Body)
}

func TestChunkedReplayPreservesOrder(t *testing.T) {
	kv := newFakeKV()
	c := New(kv)
	ctx := context.Background()

	w := c.NewChunkWriter("fp2", 200, map[string][]string{"Content-Type": {"text/event-stream"}})
	require.NoError(t, w.WriteChunk(ctx, []byte("first")))
	require.NoError(t, w.WriteChunk(ctx, []byte("second")))
	require.NoError(t, w.WriteChunk(ctx, []byte("third")))
	require.NoError(t, w.Finish(ctx, time.Minute))

	rec, err := c.GetChunked(ctx, "fp2")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, []gwtypes.Chunk{
		gwtypes.Chunk("first"), gwtypes.Chunk("second"), gwtypes.Chunk("third"),
	}, rec.Chunks)
	require.False(t, rec.Truncated)
}

func TestChunkWriterNoopWithoutChunks(t *testing.T) {
	kv := newFakeKV()
	c := New(kv)
	ctx := context.Background()

	w := c.NewChunkWriter("fp3", 200, nil)
	require.NoError(t, w.Finish(ctx, time.Minute))

	rec, err := c.GetChunked(ctx, "fp3")
	require.NoError(t, err)
	require.Nil(t, rec)
}

func TestDeleteRemovesBothRepresentations(t *testing.T) {
	kv := newFakeKV()
	c := New(kv)
	ctx := context.Background()

	require.NoError(t, c.SetBuffered(ctx, &gwtypes.CachedValue{Fingerprint: "fp4", Status: 200}, time.Minute))
	require.NoError(t, c.Delete(ctx, "fp4"))

	got, err := c.GetBuffered(ctx, "fp4")
	require.NoError(t, err)
	require.Nil(t, got)
}
