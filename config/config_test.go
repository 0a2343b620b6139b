package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "ratelimitcore.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestNewWatcher_Defaults(t *testing.T) {
	w, err := NewWatcher("", nil)
	require.NoError(t, err)

	c := w.Current()
	require.True(t, c.Enabled)
	require.Equal(t, CompilerImmediate, c.Spel.CompilerMode)
	require.Equal(t, 1000, c.Spel.CacheSize)
	require.Equal(t, StorageTiered, c.Storage.Type)
	require.Equal(t, 0.5, c.CircuitBreaker.FailureThreshold)
	require.Equal(t, 10*time.Second, c.CircuitBreaker.Window)
	require.Equal(t, 30*time.Second, c.CircuitBreaker.HalfOpenDelay)
	require.Equal(t, "about:blank", c.ProblemDetails.TypeURI)
}

func TestNewWatcher_LoadsFileAndLimiters(t *testing.T) {
	path := writeConfig(t, `
enabled: true
throttling:
  enabled: true
  soft_limit: 80
  hard_limit: 100
  max_delay_ms: 2000
  strategy: exponential
storage:
  type: tiered
limiters:
  - name: api-default
    algorithm: token_bucket
    limit: 10
    window: 1s
`)

	w, err := NewWatcher(path, nil)
	require.NoError(t, err)

	c := w.Current()
	require.True(t, c.Throttling.Enabled)
	require.Equal(t, 80.0, c.Throttling.SoftLimit)
	require.Equal(t, 1, c.ThrottleStrategy())
	require.Len(t, c.Limiters, 1)

	acfg, err := c.Limiters[0].ToAlgoConfig()
	require.NoError(t, err)
	require.Equal(t, "api-default", acfg.Name)
	require.Equal(t, int64(10), acfg.Capacity) // defaulted from Limit
}

func TestLimiterSpec_ToAlgoConfig_RejectsUnknownAlgorithm(t *testing.T) {
	spec := LimiterSpec{Name: "x", Algorithm: "quantum_bucket", Limit: 1, Window: time.Second}
	_, err := spec.ToAlgoConfig()
	require.Error(t, err)
}

func TestLimiterSpec_ToAlgoConfig_PropagatesConfigError(t *testing.T) {
	spec := LimiterSpec{Name: "x", Algorithm: "fixed_window", Limit: 0, Window: time.Second}
	_, err := spec.ToAlgoConfig()
	require.Error(t, err)
}

func TestWatcher_ReloadsOnFileChange(t *testing.T) {
	path := writeConfig(t, "enabled: true\n")
	w, err := NewWatcher(path, nil)
	require.NoError(t, err)
	require.True(t, w.Current().Enabled)

	changed := make(chan Config, 1)
	w.Watch(func(c Config) { changed <- c })

	require.NoError(t, os.WriteFile(path, []byte("enabled: false\n"), 0o644))

	select {
	case c := <-changed:
		require.False(t, c.Enabled)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}
