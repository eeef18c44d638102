// Package fetchgateway is the enhanced HTTP client gateway's orchestrator:
// it wires the admission controller, memory cache, single-flight registry,
// persistent cache, and response handler into one
// fetch/fetchStream/configure/reset/dispose surface.
package fetchgateway

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/fetchgate/gateway/admission"
	"github.com/fetchgate/gateway/coalesce"
	"github.com/fetchgate/gateway/gwtypes"
	"github.com/fetchgate/gateway/memcache"
	"github.com/fetchgate/gateway/observability"
	"github.com/fetchgate/gateway/originclient"
	"github.com/fetchgate/gateway/store"
	"github.com/rs/zerolog"
)

// Gateway is one instance of the enhanced fetch pipeline. There is no
// process-wide singleton or global state — every collaborator is
// constructed and owned by one Gateway, and Dispose releases them
// deterministically.
type Gateway struct {
	origin originclient.Transport

	admission *admission.Controller
	l1        *memcache.Cache
	l2        *store.Cache // nil when L2 is disabled
	coalesce  *coalesce.Registry

	refresher *refresher

	tracer  *observability.Tracer
	metrics *observability.Metrics
	log     zerolog.Logger
}

// Option customizes a new Gateway.
type Option func(*Gateway)

// WithL2 attaches a persistent cache collaborator. Without this option the
// gateway runs with L1 and single-flight only.
func WithL2(l2 *store.Cache) Option {
	return func(g *Gateway) { g.l2 = l2 }
}

// WithObservability attaches the tracer/metrics sink.
func WithObservability(tracer *observability.Tracer, metrics *observability.Metrics) Option {
	return func(g *Gateway) { g.tracer = tracer; g.metrics = metrics }
}

// New constructs a Gateway. provider supplies the first configuration
// snapshot immediately (not lazily) so the gateway is usable as soon as New
// returns; subsequent snapshots are applied per the lazy refresh policy.
func New(origin originclient.Transport, provider ConfigProvider, log zerolog.Logger, opts ...Option) *Gateway {
	initial := provider.Load()

	g := &Gateway{
		origin:   origin,
		l1:       memcache.New(initial.L1Capacity),
		coalesce: coalesce.NewRegistry(),
		log:      log.With().Str("component", "fetchgateway").Logger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.metrics == nil {
		g.metrics = observability.NewMetrics(log)
	}

	g.admission = admission.New(initial.Concurrency)
	g.refresher = newRefresher(provider, initial, func(snap Snapshot) {
		if err := g.admission.Resize(snap.Concurrency); err != nil {
			g.log.Warn().Err(err).Msg("config refresh: invalid concurrency, keeping previous limit")
		}
		g.l1.Resize(snap.L1Capacity)
	})

	return g
}

// Configure applies snap immediately and synchronously, bypassing the lazy
// TTL gate — the explicit, caller-driven counterpart to the request-
// triggered refresh.
func (g *Gateway) Configure(snap Snapshot) {
	g.refresher.forceRefresh(snap)
}

// Reset clears the memory cache. In-flight single-flight handles are left
// in place and resolve as usual. It does not touch L2 (a shared store may be
// serving other instances) and does not affect admission state.
func (g *Gateway) Reset() {
	g.l1.Reset()
}

// Dispose releases everything this Gateway owns: the origin transport's
// pooled connections and the observability sink's background flush.
func (g *Gateway) Dispose() {
	if closer, ok := g.origin.(interface{ Close() }); ok {
		closer.Close()
	}
	if g.tracer != nil {
		g.tracer.Shutdown()
	}
}

// Fetch performs a request and returns it fully buffered, up to the
// configured response size ceiling. Most callers that don't need
// incremental delivery should use this instead of FetchStream.
func (g *Gateway) Fetch(ctx context.Context, req *http.Request) (*Result, error) {
	res, err := g.FetchStream(ctx, req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	cfg := g.refresher.current()
	limit := cfg.StreamMaxBody
	if limit <= 0 {
		limit = 10 * 1024 * 1024
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, limit+1))
	if err != nil {
		return nil, newError(OriginNetwork, "reading response body", err)
	}
	if int64(len(body)) > limit {
		return nil, newError(ResponseTooLarge, "response exceeded the configured size ceiling", nil)
	}

	return &Result{
		Status:    res.Status,
		Header:    res.Header,
		Body:      io.NopCloser(bytes.NewReader(body)),
		Streaming: res.Streaming,
		FromCache: res.FromCache,
	}, nil
}

// FetchStream performs a request and returns its response head immediately,
// with a body the caller reads incrementally. This is the gateway's full
// pipeline: L1 -> L2 -> single-flight -> admission -> origin -> classify ->
// (buffer | stream) -> cache write -> release.
func (g *Gateway) FetchStream(ctx context.Context, req *http.Request) (*Result, error) {
	if req.Method == http.MethodGet {
		return g.fetchCached(ctx, req)
	}
	return g.fetchUncached(ctx, req)
}

func (g *Gateway) fetchCached(ctx context.Context, req *http.Request) (*Result, error) {
	g.refresher.maybeTrigger()
	cfg := g.refresher.current()

	if !cfg.Enhanced {
		return g.fetchUncached(ctx, req)
	}

	fp := Fingerprint(req)

	if cfg.CacheEnabled {
		if v, ok := g.l1.Get(fp); ok {
			g.metrics.TrackCache("l1", true)
			return resultFromCached(v), nil
		}
		g.metrics.TrackCache("l1", false)

		if g.l2 != nil {
			if v, err := g.l2.GetBuffered(ctx, fp); err != nil {
				g.absorb(CacheUnavailable, "l2 buffered read", err)
			} else if v != nil {
				g.metrics.TrackCache("l2", true)
				g.l1.Set(fp, v)
				return resultFromCached(v), nil
			}

			if rec, err := g.l2.GetChunked(ctx, fp); err != nil {
				g.absorb(CacheUnavailable, "l2 chunked read", err)
			} else if rec != nil {
				g.metrics.TrackCache("l2", true)
				return resultFromChunked(rec), nil
			}
			g.metrics.TrackCache("l2", false)
		}
	}

	handle, isLeader := g.coalesce.Start(fp)
	if isLeader {
		g.metrics.TrackCoalesce("leader")
		return g.runLeader(ctx, req, fp, handle, cfg)
	}
	g.metrics.TrackCoalesce("follower")
	return g.runFollower(ctx, fp, handle)
}

func (g *Gateway) runLeader(ctx context.Context, req *http.Request, fp gwtypes.Fingerprint, handle *coalesce.Handle, cfg Snapshot) (*Result, error) {
	if err := g.admission.Acquire(ctx); err != nil {
		kind := Canceled
		if ctx.Err() != context.Canceled {
			kind = Timeout
		}
		gerr := newError(kind, "waiting for admission", err)
		handle.ResolveHead(coalesce.Head{Err: gerr})
		handle.ResolveFinal(nil, gerr)
		return nil, gerr
	}

	resp, err := g.origin.Do(ctx, req)
	if err != nil {
		g.admission.Release()
		gerr := classifyOriginError(ctx, err)
		handle.ResolveHead(coalesce.Head{Err: gerr})
		handle.ResolveFinal(nil, gerr)
		g.metrics.TrackError(string(gerr.Kind))
		return nil, gerr
	}

	streaming := classifyHead(resp.Header)
	handle.ResolveHead(coalesce.Head{Status: resp.Status, Header: resp.Header, Streaming: streaming})

	var l1set func(*gwtypes.CachedValue)
	if cfg.CacheEnabled {
		l1set = func(v *gwtypes.CachedValue) { g.l1.Set(fp, v) }
	} else {
		l1set = func(*gwtypes.CachedValue) {}
	}

	released := false
	release := func() {
		if released {
			return
		}
		released = true
		g.admission.Release()
	}

	lr := newLeaderReader(ctx, resp.Body, fp, resp.Status, resp.Header, streaming, l1set, g.l2, cfg, g.log,
		func(v *gwtypes.CachedValue, err error) { handle.ResolveFinal(v, err) },
		release,
	)

	return &Result{Status: resp.Status, Header: resp.Header, Body: lr, Streaming: streaming}, nil
}

func (g *Gateway) runFollower(ctx context.Context, fp gwtypes.Fingerprint, handle *coalesce.Handle) (*Result, error) {
	head, err := handle.WaitHead(ctx)
	if err != nil {
		return nil, newError(Canceled, "waiting for in-flight request head", err)
	}
	if head.Err != nil {
		return nil, head.Err
	}

	if !head.Streaming {
		val, err := handle.WaitFinal(ctx)
		if err != nil {
			return nil, newError(Canceled, "waiting for in-flight request body", err)
		}
		if val == nil {
			return emptyResult(head.Status, head.Header), nil
		}
		return resultFromCached(val), nil
	}

	if _, err := handle.WaitFinal(ctx); err != nil {
		return nil, newError(Canceled, "waiting for in-flight streamed request", err)
	}

	if g.l2 == nil {
		return emptyResult(head.Status, head.Header), nil
	}
	rec, err := g.l2.GetChunked(ctx, fp)
	if err != nil {
		g.absorb(CacheUnavailable, "l2 chunked replay for follower", err)
		return emptyResult(head.Status, head.Header), nil
	}
	if rec == nil {
		return emptyResult(head.Status, head.Header), nil
	}
	return resultFromChunked(rec), nil
}

// fetchUncached serves a request with no L1/L2/single-flight involvement.
// With Enhanced=true (non-GET methods) it passes through admission; with
// Enhanced=false it delegates straight to the origin transport, admission
// included in the bypass.
func (g *Gateway) fetchUncached(ctx context.Context, req *http.Request) (*Result, error) {
	if !g.refresher.current().Enhanced {
		resp, err := g.origin.Do(ctx, req)
		if err != nil {
			gerr := classifyOriginError(ctx, err)
			g.metrics.TrackError(string(gerr.Kind))
			return nil, gerr
		}
		return &Result{Status: resp.Status, Header: resp.Header, Body: &originReader{body: resp.Body, release: func() {}}}, nil
	}

	if err := g.admission.Acquire(ctx); err != nil {
		kind := Canceled
		if ctx.Err() != context.Canceled {
			kind = Timeout
		}
		return nil, newError(kind, "waiting for admission", err)
	}

	resp, err := g.origin.Do(ctx, req)
	if err != nil {
		g.admission.Release()
		gerr := classifyOriginError(ctx, err)
		g.metrics.TrackError(string(gerr.Kind))
		return nil, gerr
	}

	released := false
	release := func() {
		if released {
			return
		}
		released = true
		g.admission.Release()
	}

	return &Result{
		Status: resp.Status,
		Header: resp.Header,
		Body:   &originReader{body: resp.Body, release: release},
	}, nil
}

func (g *Gateway) absorb(kind Kind, context string, err error) {
	g.log.Debug().Err(err).Str("context", context).Msg("absorbed error, degrading to miss")
	g.metrics.TrackError(string(kind))
}

func classifyOriginError(ctx context.Context, err error) *Error {
	if ctx.Err() == context.Canceled {
		return newError(Canceled, "request canceled", err)
	}
	if ctx.Err() == context.DeadlineExceeded {
		return newError(Timeout, "request deadline exceeded", err)
	}
	return newError(OriginNetwork, "origin request failed", err)
}

