package fetchgateway

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/fetchgate/gateway/gwtypes"
	"github.com/fetchgate/gateway/originclient"
	"github.com/fetchgate/gateway/store"
	"github.com/rs/zerolog"
)

// originReader is the plain pass-through body used for requests the
// gateway does not cache (non-GET, or Enhanced=false): it forwards origin
// bytes untouched and calls release exactly once (which returns the
// admission permit, when one is held), on whichever exit path fires first —
// natural EOF, an origin read error, or an explicit Close from the caller.
type originReader struct {
	body    originclient.Stream
	release func()
	once    sync.Once
	pending []byte // rest of the last chunk that did not fit in p
}

func (r *originReader) Read(p []byte) (int, error) {
	if len(r.pending) > 0 {
		n := copy(p, r.pending)
		r.pending = r.pending[n:]
		return n, nil
	}
	chunk, err := r.body.Next()
	n := copy(p, chunk)
	if err != nil {
		r.releaseOnce()
		if err == io.EOF && n > 0 {
			// deliver the final bytes before signaling EOF on the next call
			return n, nil
		}
		return n, err
	}
	if len(chunk) > n {
		// Next() returned more than p can hold (io.ReadAll's first read is
		// only 512 bytes); keep the rest for the following Read calls.
		r.pending = chunk[n:]
	}
	return n, nil
}

func (r *originReader) Close() error {
	r.releaseOnce()
	return r.body.Close()
}

func (r *originReader) releaseOnce() {
	r.once.Do(r.release)
}

// leaderReader is the response handler's core state machine: it
// forwards origin bytes to the caller immediately (classification never
// delays delivery) while deciding, independently, whether the response
// being mirrored into the cache should be stored as one buffered value or
// as a chunked stream. The decision starts from the header alone
// (classifyHead); if the header leaves it undecided, the handler keeps a
// running copy of the body in memory and promotes to streaming mid-flight
// — folding the already-buffered bytes into the chunk mirror as its first
// chunk — the moment the running copy crosses PromoteBuffer.
type leaderReader struct {
	origin originclient.Stream

	fp     gwtypes.Fingerprint
	status int
	header http.Header

	l1set func(*gwtypes.CachedValue)
	l2    *store.Cache
	cfg   Snapshot
	log   zerolog.Logger

	onFinal func(*gwtypes.CachedValue, error)
	release func()
	once    sync.Once

	// headStreaming records the header classification (classifyHead's
	// verdict) for the lifetime of the response, independent of whether a
	// mirror ended up attached. A head-classified-streaming response is
	// never eligible for an L1 buffered entry, even if no L2/mirror exists
	// to carry it instead.
	headStreaming bool

	mu        sync.Mutex
	buf       bytes.Buffer
	promoted  bool
	mirror    *chunkMirror
	total     int64
	finalized bool

	pending []byte // rest of the last chunk that did not fit in p
}

func newLeaderReader(
	ctx context.Context,
	origin originclient.Stream,
	fp gwtypes.Fingerprint,
	status int,
	header http.Header,
	forcedStreaming bool,
	l1set func(*gwtypes.CachedValue),
	l2 *store.Cache,
	cfg Snapshot,
	log zerolog.Logger,
	onFinal func(*gwtypes.CachedValue, error),
	release func(),
) *leaderReader {
	lr := &leaderReader{
		origin: origin, fp: fp, status: status, header: header,
		l1set: l1set, l2: l2, cfg: cfg, log: log,
		onFinal: onFinal, release: release,
		headStreaming: forcedStreaming,
	}
	if forcedStreaming && cfg.CacheEnabled && cfg.StreamEnabled && l2 != nil {
		lr.promoted = true
		lr.mirror = newChunkMirror(l2, fp, status, header, cfg, log)
	}
	_ = ctx
	return lr
}

func (lr *leaderReader) Read(p []byte) (int, error) {
	if len(lr.pending) > 0 {
		n := copy(p, lr.pending)
		lr.pending = lr.pending[n:]
		return n, nil
	}
	chunk, err := lr.origin.Next()
	if len(chunk) > 0 {
		lr.record(chunk)
	}
	n := copy(p, chunk)

	if err != nil {
		lr.finish(err)
		if err == io.EOF {
			return n, io.EOF
		}
		return n, err
	}
	if len(chunk) > n {
		// The whole chunk is already recorded; hand the rest to the caller
		// on the following Read calls.
		lr.pending = chunk[n:]
	}
	return n, nil
}

// record folds chunk into whichever caching strategy is active, promoting
// from tentative-buffer to streaming-mirror if the running total has grown
// past the promote threshold.
func (lr *leaderReader) record(chunk []byte) {
	lr.mu.Lock()
	defer lr.mu.Unlock()

	lr.total += int64(len(chunk))

	if lr.promoted {
		lr.mirror.offer(chunk)
		return
	}

	if lr.headStreaming {
		// The header already classified this response as streaming. A
		// mirror would have been attached above if one could be (L2
		// present, caching and streaming both enabled); since none is,
		// these bytes can never be cached either way, so don't accumulate
		// them in buf.
		return
	}

	lr.buf.Write(chunk)

	shouldPromote := lr.cfg.CacheEnabled && lr.cfg.StreamEnabled && lr.l2 != nil &&
		int64(lr.buf.Len()) >= lr.cfg.StreamDetectBuffer &&
		int64(lr.buf.Len()) > lr.cfg.StreamPromoteBuffer
	if !shouldPromote {
		return
	}

	lr.promoted = true
	lr.mirror = newChunkMirror(lr.l2, lr.fp, lr.status, lr.header, lr.cfg, lr.log)
	lr.mirror.offer(lr.buf.Bytes())
	lr.buf.Reset()
}

// finish runs exactly once, however the body ended: it closes out the
// caching strategy, fires the single-flight final resolution, and releases
// the admission permit.
func (lr *leaderReader) finish(err error) {
	lr.once.Do(func() {
		lr.mu.Lock()
		promoted := lr.promoted
		var value *gwtypes.CachedValue
		if err == io.EOF && !promoted && !lr.headStreaming {
			value = &gwtypes.CachedValue{
				Fingerprint: lr.fp,
				Status:      lr.status,
				Header:      map[string][]string(lr.header),
				Body:        append([]byte(nil), lr.buf.Bytes()...),
				StoredAt:    time.Now(),
				ExpiresAt:   time.Now().Add(lr.cfg.CacheTTL),
			}
		}
		mirror := lr.mirror
		lr.mu.Unlock()

		lr.release()

		if err != io.EOF {
			lr.onFinal(nil, err)
			if mirror != nil {
				mirror.close()
			}
			return
		}

		if value != nil {
			if lr.cfg.CacheEnabled {
				lr.l1set(value)
				if lr.l2 != nil {
					go func() {
						ctx := context.Background()
						if werr := lr.l2.SetBuffered(ctx, value, lr.cfg.CacheTTL); werr != nil {
							lr.log.Debug().Err(werr).Msg("l2 buffered write failed")
						}
					}()
				}
			}
			lr.onFinal(value, nil)
			return
		}

		if mirror != nil {
			mirror.close()
		}
		lr.onFinal(nil, nil)
	})
}

func (lr *leaderReader) Close() error {
	lr.finish(newError(Canceled, "body closed before completion", nil))
	return lr.origin.Close()
}
