// Package gwtypes holds the data model shared by every fetch-gateway
// component: the request fingerprint, the realized cached value, and the
// chunked-stream replay record. Kept in its own package so admission,
// memcache, coalesce, store, and originclient can all depend on the model
// without depending on each other or on the top-level fetchgateway package.
package gwtypes

import "time"

// Fingerprint identifies a cacheable request. Two requests with the same
// fingerprint are considered identical for caching and coalescing purposes.
type Fingerprint string

// Classification describes how a response's body was handled.
type Classification int

const (
	// ClassifyUnknown is the zero value; never observed on a resolved entry.
	ClassifyUnknown Classification = iota
	// ClassifyBuffered means the full body was read into memory.
	ClassifyBuffered
	// ClassifyStreamed means the body was passed through chunk by chunk.
	ClassifyStreamed
)

func (c Classification) String() string {
	switch c {
	case ClassifyBuffered:
		return "buffered"
	case ClassifyStreamed:
		return "streamed"
	default:
		return "unknown"
	}
}

// CachedValue is a fully realized, buffered response: a complete body with
// its status and header snapshot. This is the only shape L1 ever stores —
// there are no promise/handle entries in the memory cache.
type CachedValue struct {
	Fingerprint Fingerprint
	Status      int
	Header      map[string][]string
	Body        []byte
	StoredAt    time.Time
	ExpiresAt   time.Time
}

// Expired reports whether the value's TTL has elapsed as of now.
func (c *CachedValue) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// Chunk is one piece of a streamed origin body, in arrival order.
type Chunk []byte

// ChunkedReplayRecord is the L2 representation of a streamed response:
// status/header metadata plus an ordered list of chunks. Replay MUST
// reassemble chunks in the order stored (strict append order) — never
// reversed.
type ChunkedReplayRecord struct {
	Fingerprint Fingerprint
	Status      int
	Header      map[string][]string
	Chunks      []Chunk
	Truncated   bool // true if the mirror stopped early (size/count ceiling)
	StoredAt    time.Time
	ExpiresAt   time.Time
}

// Expired reports whether the record's TTL has elapsed as of now.
func (r *ChunkedReplayRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

// TotalBytes returns the sum of all chunk lengths.
func (r *ChunkedReplayRecord) TotalBytes() int64 {
	var n int64
	for _, c := range r.Chunks {
		n += int64(len(c))
	}
	return n
}
