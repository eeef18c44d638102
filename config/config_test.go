package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{
		"FETCH_CONCURRENCY", "FETCH_CACHE_TTL_SEC", "FETCH_ENHANCED", "FETCH_STREAM_ENABLED",
	} {
		os.Unsetenv(k)
	}

	cfg := Load()
	require.Equal(t, 64, cfg.Concurrency)
	require.Equal(t, 300*time.Second, cfg.CacheTTL)
	require.True(t, cfg.Enhanced)
	require.True(t, cfg.StreamEnabled)
	require.Equal(t, 500, cfg.L1Capacity)
}

func TestLoadOverrides(t *testing.T) {
	os.Setenv("FETCH_CONCURRENCY", "8")
	os.Setenv("FETCH_ENHANCED", "false")
	defer os.Unsetenv("FETCH_CONCURRENCY")
	defer os.Unsetenv("FETCH_ENHANCED")

	cfg := Load()
	require.Equal(t, 8, cfg.Concurrency)
	require.False(t, cfg.Enhanced)
}

func TestEnvironmentHelpers(t *testing.T) {
	cfg := Load()
	require.False(t, cfg.IsProduction())

	os.Setenv("ENV", "production")
	defer os.Unsetenv("ENV")
	cfg = Load()
	require.True(t, cfg.IsProduction())
	require.False(t, cfg.IsDevelopment())
}
