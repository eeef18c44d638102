// Package coalesce implements the gateway's single-flight registry:
// concurrent requests sharing a fingerprint are coalesced onto one leader,
// which performs the full origin fetch while followers wait on a two-phase
// outcome. Kept as a structure wholly separate from the memory cache — it
// only ever holds in-flight handles, never realized values.
//
// The two-phase resolution (head, then final) is the one point where this
// registry departs from a plain function-call coalescer like
// golang.org/x/sync/singleflight: a streaming response's status/headers are
// known long before its body finishes, and followers need that head as soon
// as it exists rather than blocking on full completion. Generic
// function-call coalescing can't express that kind of per-phase
// resolution, hence the hand-rolled Start/ResolveHead/ResolveFinal contract
// here instead.
package coalesce

import (
	"context"
	"sync"

	"github.com/fetchgate/gateway/gwtypes"
)

// Head is the first-phase outcome: everything known once the origin
// response head and the stream/buffer classification are available.
type Head struct {
	Status     int
	Header     map[string][]string
	Streaming  bool
	Err        error
}

// Handle represents one in-flight (or just-completed) fetch for a single
// fingerprint. The leader resolves it in two steps; followers observe
// either step independently.
type Handle struct {
	fp gwtypes.Fingerprint

	headOnce sync.Once
	headCh   chan struct{}
	head     Head

	finalOnce sync.Once
	finalCh   chan struct{}
	final     *gwtypes.CachedValue // non-nil only for a buffered outcome
	finalErr  error

	registry *Registry
}

func newHandle(fp gwtypes.Fingerprint, r *Registry) *Handle {
	return &Handle{
		fp:       fp,
		headCh:   make(chan struct{}),
		finalCh:  make(chan struct{}),
		registry: r,
	}
}

// ResolveHead is called exactly once by the leader once the origin response
// head and streaming classification are known (or the attempt failed before
// ever reaching that point).
func (h *Handle) ResolveHead(head Head) {
	h.headOnce.Do(func() {
		h.head = head
		close(h.headCh)
	})
}

// ResolveFinal is called exactly once by the leader once the outcome is
// fully settled: for a bufferable response, the realized value; for a
// streaming response, value is nil and err (if any) reflects whether the
// best-effort mirror completed cleanly. ResolveFinal also removes this
// handle from the registry so the next caller starts a fresh attempt.
func (h *Handle) ResolveFinal(value *gwtypes.CachedValue, err error) {
	h.finalOnce.Do(func() {
		h.final = value
		h.finalErr = err
		close(h.finalCh)
		h.registry.remove(h.fp, h)
	})
}

// WaitHead blocks until the head phase resolves or ctx is done. A follower
// that cancels here does NOT cancel the leader — it simply stops waiting;
// the leader's ResolveHead/ResolveFinal calls are unaffected.
func (h *Handle) WaitHead(ctx context.Context) (Head, error) {
	select {
	case <-h.headCh:
		return h.head, nil
	case <-ctx.Done():
		return Head{}, ctx.Err()
	}
}

// WaitFinal blocks until the final phase resolves or ctx is done.
func (h *Handle) WaitFinal(ctx context.Context) (*gwtypes.CachedValue, error) {
	select {
	case <-h.finalCh:
		return h.final, h.finalErr
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Registry coalesces concurrent fetches for the same fingerprint.
type Registry struct {
	mu       sync.Mutex
	inflight map[gwtypes.Fingerprint]*Handle
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{inflight: make(map[gwtypes.Fingerprint]*Handle)}
}

// Start installs a new handle for fp if none is in flight, or returns the
// existing one. The boolean result reports whether the caller is the
// leader (must run the fetch) or a follower (must wait on the handle).
// Installation is atomic with the caller's own L1/L2 miss check in the
// sense that the caller must hold whatever invariant it needs externally —
// Start itself only guards the registry's own map.
func (r *Registry) Start(fp gwtypes.Fingerprint) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.inflight[fp]; ok {
		return h, false
	}
	h := newHandle(fp, r)
	r.inflight[fp] = h
	return h, true
}

// InFlight reports whether fp currently has a leader in progress.
func (r *Registry) InFlight(fp gwtypes.Fingerprint) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.inflight[fp]
	return ok
}

// Len returns the number of fingerprints currently in flight.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inflight)
}

func (r *Registry) remove(fp gwtypes.Fingerprint, h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	// Only remove if it's still the same handle — guards against a
	// (hypothetical) stale callback racing a newer leader.
	if cur, ok := r.inflight[fp]; ok && cur == h {
		delete(r.inflight, fp)
	}
}
