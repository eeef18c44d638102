// Package router assembles the gateway's chi.Router: the middleware chain
// (request ID, panic recovery, request logging, tracing, body size limit)
// followed by the health/metrics endpoints and the catch-all fetch proxy
// route.
package router

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/fetchgate/gateway/config"
	"github.com/fetchgate/gateway/fetchgateway"
	"github.com/fetchgate/gateway/observability"
)

// NewRouter returns a configured chi Router wrapping gw.
func NewRouter(cfg *config.Config, appLogger zerolog.Logger, gw *fetchgateway.Gateway, metrics *observability.Metrics, tracer *observability.Tracer) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(mwRequestLogger(appLogger))
	if tracer != nil {
		r.Use(observability.TracingMiddleware(tracer))
	}
	r.Use(mwMaxBodySize(cfg.MaxBodyBytes))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"fetchgate"}`))
	})

	if metrics != nil {
		r.Get("/metrics", metrics.Handler())
	}

	proxy := newProxyHandler(gw, appLogger)
	configHandler := newConfigHandler(gw, appLogger)

	r.Route("/v1/gateway", func(r chi.Router) {
		r.Get("/config", configHandler.Get)
		r.Put("/config", configHandler.Put)
	})

	// Everything else is a fetch-through request: the inbound request's
	// method, URL, and headers are forwarded to the gateway pipeline as-is.
	r.Handle("/*", proxy)

	return r
}

// mwMaxBodySize returns middleware that limits the request body size.
func mwMaxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = 10 * 1024 * 1024
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > 0 && r.ContentLength > maxBytes {
				http.Error(w, `{"error":"request_too_large"}`, http.StatusRequestEntityTooLarge)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

func mwRequestLogger(appLogger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(rw, r)
			appLogger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("req_id", chimw.GetReqID(r.Context())).
				Int("status", rw.Status()).
				Dur("duration", time.Since(start)).
				Msg("request completed")
		})
	}
}

// proxyHandler forwards inbound requests through the fetch gateway and
// streams the result back to the caller.
type proxyHandler struct {
	gw  *fetchgateway.Gateway
	log zerolog.Logger
}

func newProxyHandler(gw *fetchgateway.Gateway, log zerolog.Logger) *proxyHandler {
	return &proxyHandler{gw: gw, log: log.With().Str("component", "proxy").Logger()}
}

func (p *proxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	originReq := r.Clone(r.Context())
	originReq.RequestURI = ""

	res, err := p.gw.FetchStream(r.Context(), originReq)
	if err != nil {
		p.writeError(w, err)
		return
	}
	defer res.Body.Close()

	for k, vs := range res.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(res.Status)
	if _, err := io.Copy(w, res.Body); err != nil {
		p.log.Debug().Err(err).Msg("error copying response body to client")
	}
}

func (p *proxyHandler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	kind, ok := fetchgateway.KindOf(err)
	if ok {
		switch kind {
		case fetchgateway.InvalidInput:
			status = http.StatusBadRequest
		case fetchgateway.Timeout:
			status = http.StatusGatewayTimeout
		case fetchgateway.Canceled:
			status = 499
		case fetchgateway.ResponseTooLarge:
			status = http.StatusRequestEntityTooLarge
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// configHandler exposes configuration for inspection and explicit override.
// Get reports the snapshot the environment currently yields
// (EnvConfigProvider), not the gateway's live snapshot: an override applied
// with Put is not reflected in it. Put applies the decoded snapshot at once
// through Gateway.Configure, bypassing the lazy request-triggered refresh.
type configHandler struct {
	gw  *fetchgateway.Gateway
	log zerolog.Logger
}

func newConfigHandler(gw *fetchgateway.Gateway, log zerolog.Logger) *configHandler {
	return &configHandler{gw: gw, log: log.With().Str("component", "gateway_config").Logger()}
}

func (h *configHandler) Get(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(fetchgateway.EnvConfigProvider{}.Load())
}

func (h *configHandler) Put(w http.ResponseWriter, r *http.Request) {
	var snap fetchgateway.Snapshot
	if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
		http.Error(w, `{"error":"invalid body"}`, http.StatusBadRequest)
		return
	}
	h.gw.Configure(snap)
	w.WriteHeader(http.StatusNoContent)
}
