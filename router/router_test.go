package router

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/fetchgate/gateway/config"
	"github.com/fetchgate/gateway/fetchgateway"
	"github.com/fetchgate/gateway/observability"
	"github.com/fetchgate/gateway/originclient"
)

func testConfig() *config.Config {
	return &config.Config{
		Addr:         ":0",
		Env:          "development",
		MaxBodyBytes: 1024 * 1024,
	}
}

func TestHealthzDoesNotTouchGateway(t *testing.T) {
	cfg := testConfig()
	snap := fetchgateway.Snapshot{Concurrency: 4, Enhanced: true}
	gw := fetchgateway.New(originclient.NewClient(), fetchgateway.StaticConfigProvider{Snapshot: snap}, zerolog.Nop())
	defer gw.Dispose()

	r := NewRouter(cfg, zerolog.Nop(), gw, observability.NewMetrics(zerolog.Nop()), nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "fetchgate")
}

func TestProxyForwardsToOrigin(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "2")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer origin.Close()

	cfg := testConfig()
	snap := fetchgateway.Snapshot{Concurrency: 4, Enhanced: true, CacheTTL: time.Minute}
	gw := fetchgateway.New(originclient.NewClient(), fetchgateway.StaticConfigProvider{Snapshot: snap}, zerolog.Nop())
	defer gw.Dispose()

	r := NewRouter(cfg, zerolog.Nop(), gw, observability.NewMetrics(zerolog.Nop()), nil)

	req := httptest.NewRequest(http.MethodGet, origin.URL+"/thing", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}

func TestConfigEndpointAppliesOverride(t *testing.T) {
	cfg := testConfig()
	snap := fetchgateway.Snapshot{Concurrency: 2, Enhanced: true}
	gw := fetchgateway.New(originclient.NewClient(), fetchgateway.StaticConfigProvider{Snapshot: snap}, zerolog.Nop())
	defer gw.Dispose()

	r := NewRouter(cfg, zerolog.Nop(), gw, observability.NewMetrics(zerolog.Nop()), nil)

	req := httptest.NewRequest(http.MethodPut, "/v1/gateway/config", strings.NewReader(`{"concurrency":16,"enhanced":true}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
}
