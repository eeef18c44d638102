package fetchgateway

import (
	"sync/atomic"
	"time"

	gwconfig "github.com/fetchgate/gateway/config"
	uatomic "go.uber.org/atomic"
)

// Snapshot is the static configuration read once per refresh cycle: the
// ConfigProvider collaborator's output.
type Snapshot struct {
	Concurrency int

	CacheEnabled bool
	CacheTTL     time.Duration
	L1Capacity   int

	StreamEnabled       bool
	StreamDetectBuffer  int64
	StreamPromoteBuffer int64
	StreamMaxBody       int64
	StreamMaxChunks     int
	StreamMaxTotalBytes int64

	Enhanced bool

	RefreshTTL time.Duration
}

// ConfigProvider supplies configuration snapshots. Implementations may read
// environment variables, a remote config service, or anything else — the
// gateway only ever calls Load().
type ConfigProvider interface {
	Load() Snapshot
}

// EnvConfigProvider adapts config.Load (environment + .env) to ConfigProvider.
type EnvConfigProvider struct{}

func (EnvConfigProvider) Load() Snapshot {
	c := gwconfig.Load()
	return Snapshot{
		Concurrency:         c.Concurrency,
		CacheEnabled:        c.CacheEnabled,
		CacheTTL:            c.CacheTTL,
		L1Capacity:          c.L1Capacity,
		StreamEnabled:       c.StreamEnabled,
		StreamDetectBuffer:  c.StreamDetectBuffer,
		StreamPromoteBuffer: c.StreamPromoteBuffer,
		StreamMaxBody:       c.StreamMaxBody,
		StreamMaxChunks:     c.StreamMaxChunks,
		StreamMaxTotalBytes: c.StreamMaxTotalBytes,
		Enhanced:            c.Enhanced,
		RefreshTTL:          c.RefreshTTL,
	}
}

// StaticConfigProvider serves a fixed Snapshot — useful for tests and for
// Configure()'s explicit override.
type StaticConfigProvider struct{ Snapshot Snapshot }

func (s StaticConfigProvider) Load() Snapshot { return s.Snapshot }

// refresher implements a lazy, TTL-gated, request-triggered config reload:
// there is no background timer goroutine polling for changes. Instead, a
// refresh is kicked off from inside a fetch call once the TTL has elapsed,
// runs in its own goroutine so the triggering request is never blocked on
// it, and a compare-and-swap guard prevents two refreshes from running
// concurrently.
type refresher struct {
	provider    ConfigProvider
	snapshot    atomic.Value // Snapshot
	lastRefresh uatomic.Int64 // unix nanos
	refreshing  uatomic.Bool
	onRefresh   func(Snapshot) // applied from the refresh goroutine
}

func newRefresher(provider ConfigProvider, initial Snapshot, onRefresh func(Snapshot)) *refresher {
	r := &refresher{provider: provider, onRefresh: onRefresh}
	r.snapshot.Store(initial)
	r.lastRefresh.Store(time.Now().UnixNano())
	return r
}

// current returns the snapshot read once at the top of a single request.
func (r *refresher) current() Snapshot {
	return r.snapshot.Load().(Snapshot)
}

// maybeTrigger checks the TTL and, if elapsed, kicks off an async refresh.
// Never blocks the calling request.
func (r *refresher) maybeTrigger() {
	ttl := r.current().RefreshTTL
	if ttl <= 0 {
		return
	}
	last := time.Unix(0, r.lastRefresh.Load())
	if time.Since(last) < ttl {
		return
	}
	if !r.refreshing.CompareAndSwap(false, true) {
		return // a refresh is already in flight
	}
	go func() {
		defer r.refreshing.Store(false)
		snap := r.provider.Load()
		r.snapshot.Store(snap)
		r.lastRefresh.Store(time.Now().UnixNano())
		if r.onRefresh != nil {
			r.onRefresh(snap)
		}
	}()
}

// forceRefresh applies snap immediately and synchronously — used by
// Configure() for an explicit, caller-driven override rather than the lazy
// request-triggered path.
func (r *refresher) forceRefresh(snap Snapshot) {
	r.snapshot.Store(snap)
	r.lastRefresh.Store(time.Now().UnixNano())
	if r.onRefresh != nil {
		r.onRefresh(snap)
	}
}
