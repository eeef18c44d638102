// Package config loads the gateway's runtime configuration.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the full static configuration snapshot for one refresh cycle.
// Fields map directly onto the ConfigProvider collaborator: Load reads the
// environment once; fetchgateway's refresher calls it again once
// Snapshot.RefreshTTL has elapsed.
type Config struct {
	// Server
	Addr            string
	Env             string
	GracefulTimeout time.Duration

	// Persistent store (L2)
	RedisURL string

	// Origin backend
	BackendURL string

	// Admission control
	Concurrency int

	// L1/L2 cache
	CacheEnabled bool
	CacheTTL     time.Duration
	L1Capacity   int

	// Streaming classification
	StreamEnabled       bool
	StreamDetectBuffer  int64
	StreamPromoteBuffer int64
	StreamMaxBody       int64
	StreamMaxChunks     int
	StreamMaxTotalBytes int64

	// Escape hatch: when false the gateway bypasses every enhancement and
	// delegates straight to the origin transport.
	Enhanced bool

	// Config refresh
	RefreshTTL time.Duration

	// Body limits
	MaxBodyBytes int64

	LogLevel string
}

// Load reads configuration from environment variables and an optional .env file.
func Load() *Config {
	_ = godotenv.Load()

	gracefulSec := getEnvInt("GATEWAY_GRACEFUL_TIMEOUT_SEC", 15)

	return &Config{
		Addr:            getEnv("GATEWAY_ADDR", ":8080"),
		Env:             getEnv("ENV", "development"),
		GracefulTimeout: time.Duration(gracefulSec) * time.Second,

		RedisURL:   getEnv("REDIS_URL", "redis://redis:6379"),
		BackendURL: getEnv("BACKEND_URL", "http://localhost:8000"),

		Concurrency: getEnvInt("FETCH_CONCURRENCY", 64),

		CacheEnabled: getEnvBool("FETCH_CACHE_ENABLED", true),
		CacheTTL:     time.Duration(getEnvInt("FETCH_CACHE_TTL_SEC", 300)) * time.Second,
		L1Capacity:   getEnvInt("FETCH_L1_CAPACITY", 500),

		StreamEnabled:       getEnvBool("FETCH_STREAM_ENABLED", true),
		StreamDetectBuffer:  int64(getEnvInt("FETCH_STREAM_DETECT_BUFFER_BYTES", 4*1024)),
		StreamPromoteBuffer: int64(getEnvInt("FETCH_STREAM_PROMOTE_BUFFER_BYTES", 64*1024)),
		StreamMaxBody:       int64(getEnvInt("FETCH_STREAM_RESPONSE_MAX_BYTES", 10*1024*1024)),
		StreamMaxChunks:     getEnvInt("FETCH_STREAM_MAX_CHUNKS", 4096),
		StreamMaxTotalBytes: int64(getEnvInt("FETCH_STREAM_MAX_TOTAL_BYTES", 10*1024*1024)),

		Enhanced: getEnvBool("FETCH_ENHANCED", true),

		RefreshTTL: time.Duration(getEnvInt("FETCH_CONFIG_REFRESH_SEC", 300)) * time.Second,

		MaxBodyBytes: int64(getEnvInt("GATEWAY_MAX_BODY_BYTES", 1*1024*1024)),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
	}
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
