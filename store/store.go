// Package store implements the gateway's persistent cache: a thin
// low-level KV/list collaborator interface matching a Redis-shaped
// contract (get/setex/del/llen/lrange/rpush/expire), a concrete
// implementation over go-redis, and the higher-level L2 cache built on top
// of it that knows about buffered vs. chunked-stream keys.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fetchgate/gateway/gwtypes"
	"github.com/redis/go-redis/v9"
)

// KV is the persistent store collaborator: the minimal Redis-shaped surface
// the L2 cache depends on. Defined as an interface so tests can supply an
// in-memory fake without a live Redis instance.
type KV interface {
	Get(ctx context.Context, key string) (string, error) // redis.Nil on miss
	SetEX(ctx context.Context, key string, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	LLen(ctx context.Context, key string) (int64, error)
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	RPush(ctx context.Context, key string, values ...string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// RedisKV adapts a *redis.Client to the KV interface.
type RedisKV struct {
	c *redis.Client
}

// NewRedisKV builds a RedisKV from a connection URL (redis://host:port/db).
func NewRedisKV(url string) (*RedisKV, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	return &RedisKV{c: redis.NewClient(opt)}, nil
}

// Ping checks connectivity, used at process startup only.
func (r *RedisKV) Ping(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.c.Ping(cctx).Err()
}

func (r *RedisKV) Get(ctx context.Context, key string) (string, error) {
	return r.c.Get(ctx, key).Result()
}

func (r *RedisKV) SetEX(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.c.SetEx(ctx, key, value, ttl).Err()
}

func (r *RedisKV) Del(ctx context.Context, keys ...string) error {
	return r.c.Del(ctx, keys...).Err()
}

func (r *RedisKV) LLen(ctx context.Context, key string) (int64, error) {
	return r.c.LLen(ctx, key).Result()
}

func (r *RedisKV) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return r.c.LRange(ctx, key, start, stop).Result()
}

func (r *RedisKV) RPush(ctx context.Context, key string, values ...string) error {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return r.c.RPush(ctx, key, args...).Err()
}

func (r *RedisKV) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return r.c.Expire(ctx, key, ttl).Err()
}

// Close releases the underlying client's connections.
func (r *RedisKV) Close() error {
	return r.c.Close()
}

// IsMiss reports whether err represents "key does not exist" rather than a
// genuine store failure.
func IsMiss(err error) bool {
	return err == redis.Nil
}

// ─── L2 cache ────────────────────────────────────────────────

const keyPrefix = "fgw:"

func bufKey(fp gwtypes.Fingerprint) string    { return keyPrefix + "buf:" + string(fp) }
func streamKey(fp gwtypes.Fingerprint) string { return keyPrefix + "stream:" + string(fp) }
func metaKey(fp gwtypes.Fingerprint) string   { return keyPrefix + "meta:" + string(fp) }

type bufferedEnvelope struct {
	Status  int                 `json:"status"`
	Header  map[string][]string `json:"header"`
	Body    []byte              `json:"body"`
	StoredAt time.Time          `json:"stored_at"`
}

type chunkedMeta struct {
	Status    int                 `json:"status"`
	Header    map[string][]string `json:"header"`
	Truncated bool                `json:"truncated"`
	StoredAt  time.Time           `json:"stored_at"`
}

// Cache is the L2 persistent cache built over a KV collaborator. Every
// method is best-effort: store errors are returned to the caller (who, per
// the gateway's error-absorption policy, logs and treats them as a miss or
// silently drops the write — this package never itself decides to swallow
// an error, to keep that policy decision in one place).
type Cache struct {
	kv KV
}

// New wraps a KV collaborator as an L2 cache.
func New(kv KV) *Cache {
	return &Cache{kv: kv}
}

// GetBuffered reads K_buf for fp. Returns (nil, nil) on a clean miss.
func (c *Cache) GetBuffered(ctx context.Context, fp gwtypes.Fingerprint) (*gwtypes.CachedValue, error) {
	raw, err := c.kv.Get(ctx, bufKey(fp))
	if err != nil {
		if IsMiss(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("l2 get buffered: %w", err)
	}
	var env bufferedEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, fmt.Errorf("l2 decode buffered: %w", err)
	}
	return &gwtypes.CachedValue{
		Fingerprint: fp,
		Status:      env.Status,
		Header:      env.Header,
		Body:        env.Body,
		StoredAt:    env.StoredAt,
	}, nil
}

// SetBuffered writes K_buf with the given TTL as one SETEX.
func (c *Cache) SetBuffered(ctx context.Context, v *gwtypes.CachedValue, ttl time.Duration) error {
	env := bufferedEnvelope{Status: v.Status, Header: v.Header, Body: v.Body, StoredAt: v.StoredAt}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("l2 encode buffered: %w", err)
	}
	if err := c.kv.SetEX(ctx, bufKey(v.Fingerprint), string(raw), ttl); err != nil {
		return fmt.Errorf("l2 set buffered: %w", err)
	}
	return nil
}

// GetChunked reads K_meta + the full K_stream list for fp, reassembling
// chunks in the exact order LRange returns them (arrival / append order).
// Chunks are never reversed — LRange(0,-1) already returns them
// head-to-tail, and any step that reversed this before replay would
// deliver the body backwards.
func (c *Cache) GetChunked(ctx context.Context, fp gwtypes.Fingerprint) (*gwtypes.ChunkedReplayRecord, error) {
	rawMeta, err := c.kv.Get(ctx, metaKey(fp))
	if err != nil {
		if IsMiss(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("l2 get meta: %w", err)
	}
	var meta chunkedMeta
	if err := json.Unmarshal([]byte(rawMeta), &meta); err != nil {
		return nil, fmt.Errorf("l2 decode meta: %w", err)
	}

	raw, err := c.kv.LRange(ctx, streamKey(fp), 0, -1)
	if err != nil {
		return nil, fmt.Errorf("l2 lrange stream: %w", err)
	}

	chunks := make([]gwtypes.Chunk, len(raw))
	for i, s := range raw {
		chunks[i] = gwtypes.Chunk(s)
	}

	return &gwtypes.ChunkedReplayRecord{
		Fingerprint: fp,
		Status:      meta.Status,
		Header:      meta.Header,
		Chunks:      chunks,
		Truncated:   meta.Truncated,
		StoredAt:    meta.StoredAt,
	}, nil
}

// ChunkWriter incrementally mirrors a streaming origin response into L2:
// clear any stale stream key, RPush each chunk as it arrives, then write
// meta and set both keys' TTL once the stream ends (or the mirror gives
// up at a size/count ceiling).
type ChunkWriter struct {
	cache     *Cache
	fp        gwtypes.Fingerprint
	status    int
	header    map[string][]string
	started   bool
	truncated bool
}

// NewChunkWriter prepares a chunked mirror for fp. It does not touch the
// store until the first WriteChunk call, so a streaming response that ends
// before any chunk is mirrored leaves no stale K_stream key behind.
func (c *Cache) NewChunkWriter(fp gwtypes.Fingerprint, status int, header map[string][]string) *ChunkWriter {
	return &ChunkWriter{cache: c, fp: fp, status: status, header: header}
}

// WriteChunk appends one chunk to the mirrored stream, clearing any
// previous stale list on the first call.
func (w *ChunkWriter) WriteChunk(ctx context.Context, chunk []byte) error {
	if !w.started {
		if err := w.cache.kv.Del(ctx, streamKey(w.fp)); err != nil {
			return fmt.Errorf("l2 clear stale stream: %w", err)
		}
		w.started = true
	}
	if err := w.cache.kv.RPush(ctx, streamKey(w.fp), string(chunk)); err != nil {
		return fmt.Errorf("l2 rpush chunk: %w", err)
	}
	return nil
}

// Truncate marks the mirror as having stopped early (a size/count ceiling
// was reached) so replay can tell callers the mirrored copy is a prefix.
func (w *ChunkWriter) Truncate() { w.truncated = true }

// Finish writes K_meta and applies ttl to both K_meta and K_stream. If no
// chunk was ever written, Finish is a no-op — there is nothing to expire.
func (w *ChunkWriter) Finish(ctx context.Context, ttl time.Duration) error {
	if !w.started {
		return nil
	}
	meta := chunkedMeta{Status: w.status, Header: w.header, Truncated: w.truncated, StoredAt: time.Now()}
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("l2 encode meta: %w", err)
	}
	if err := w.cache.kv.SetEX(ctx, metaKey(w.fp), string(raw), ttl); err != nil {
		return fmt.Errorf("l2 set meta: %w", err)
	}
	if err := w.cache.kv.Expire(ctx, streamKey(w.fp), ttl); err != nil {
		return fmt.Errorf("l2 expire stream: %w", err)
	}
	return nil
}

// Delete removes both the buffered and chunked-stream representations of fp.
func (c *Cache) Delete(ctx context.Context, fp gwtypes.Fingerprint) error {
	return c.kv.Del(ctx, bufKey(fp), streamKey(fp), metaKey(fp))
}
