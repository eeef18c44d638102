package fetchgateway

import (
	"context"
	"time"

	"github.com/fetchgate/gateway/gwtypes"
	"github.com/fetchgate/gateway/store"
	"github.com/rs/zerolog"
)

// chunkMirror asynchronously copies a streaming response's body into the L2
// chunked-stream representation. It is strictly best-effort: offer() never
// blocks the caller (the response handler's read loop, which is also what
// is feeding bytes to the gateway's own caller) — a full internal queue
// just drops the rest of the mirror and marks the record Truncated rather
// than applying any backpressure to the origin read. L2 mirroring must
// never throttle the live response.
type chunkMirror struct {
	ch     chan []byte
	done   chan struct{}
	writer *store.ChunkWriter
	ttl    time.Duration
	log    zerolog.Logger

	maxChunks   int
	maxBytes    int64
	sentChunks  int
	sentBytes   int64
	truncated   bool
}

func newChunkMirror(l2 *store.Cache, fp gwtypes.Fingerprint, status int, header map[string][]string, cfg Snapshot, log zerolog.Logger) *chunkMirror {
	if l2 == nil || !cfg.StreamEnabled {
		return nil
	}
	m := &chunkMirror{
		ch:        make(chan []byte, 64),
		done:      make(chan struct{}),
		writer:    l2.NewChunkWriter(fp, status, header),
		ttl:       cfg.CacheTTL,
		log:       log,
		maxChunks: cfg.StreamMaxChunks,
		maxBytes:  cfg.StreamMaxTotalBytes,
	}
	go m.run()
	return m
}

// offer queues chunk for mirroring without ever blocking the caller.
func (m *chunkMirror) offer(chunk []byte) {
	if m == nil {
		return
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	select {
	case m.ch <- cp:
	default:
		m.truncated = true // best-effort signal; exact accounting happens in run()
	}
}

// close signals no more chunks are coming and waits for the mirror to
// flush K_meta. Safe to call on a nil mirror.
func (m *chunkMirror) close() {
	if m == nil {
		return
	}
	close(m.ch)
	<-m.done
}

func (m *chunkMirror) run() {
	defer close(m.done)
	ctx := context.Background()

	for chunk := range m.ch {
		if m.truncated {
			continue // drain without writing once truncated
		}
		if m.maxChunks > 0 && m.sentChunks >= m.maxChunks {
			m.truncated = true
			continue
		}
		if m.maxBytes > 0 && m.sentBytes+int64(len(chunk)) > m.maxBytes {
			m.truncated = true
			continue
		}
		if err := m.writer.WriteChunk(ctx, chunk); err != nil {
			m.log.Debug().Err(err).Msg("l2 chunk mirror write failed, dropping rest of mirror")
			m.truncated = true
			continue
		}
		m.sentChunks++
		m.sentBytes += int64(len(chunk))
	}

	if m.truncated {
		m.writer.Truncate()
	}
	if err := m.writer.Finish(ctx, m.ttl); err != nil {
		m.log.Debug().Err(err).Msg("l2 chunk mirror finish failed")
	}
}
