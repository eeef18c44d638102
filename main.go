package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/fetchgate/gateway/config"
	"github.com/fetchgate/gateway/fetchgateway"
	"github.com/fetchgate/gateway/logger"
	"github.com/fetchgate/gateway/observability"
	"github.com/fetchgate/gateway/originclient"
	"github.com/fetchgate/gateway/router"
	"github.com/fetchgate/gateway/store"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg)

	log.Info().Str("env", cfg.Env).Msg("fetchgate starting")

	var l2 *store.Cache
	if cfg.CacheEnabled {
		kv, err := store.NewRedisKV(cfg.RedisURL)
		if err != nil {
			log.Warn().Err(err).Msg("redis init failed — continuing with L1 only")
		} else if pingErr := kv.Ping(context.Background()); pingErr != nil {
			log.Warn().Err(pingErr).Msg("redis ping failed — continuing with L1 only")
		} else {
			l2 = store.New(kv)
			log.Info().Msg("redis connected")
		}
	}

	metrics := observability.NewMetrics(log)
	traceExporter := observability.NewLogExporter(log)
	sampleRate := 1.0
	if cfg.IsProduction() {
		sampleRate = 0.1
	}
	tracer := observability.NewTracer(log, traceExporter, sampleRate)

	origin := originclient.NewClient()

	opts := []fetchgateway.Option{fetchgateway.WithObservability(tracer, metrics)}
	if l2 != nil {
		opts = append(opts, fetchgateway.WithL2(l2))
	}
	gw := fetchgateway.New(origin, fetchgateway.EnvConfigProvider{}, log, opts...)

	r := router.NewRouter(cfg, log, gw, metrics, tracer)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming responses may run arbitrarily long
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GracefulTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	} else {
		log.Info().Msg("gateway stopped gracefully")
	}

	gw.Dispose()
}
