package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Validate())
	require.Equal(t, 5, cfg.Providers.Primary.RequestsPerMinute)
	require.Equal(t, 60, cfg.Providers.Secondary.RequestsPerMinute)
	require.Equal(t, 30*time.Second, cfg.CallTimeout())
	require.Equal(t, 5*time.Minute, cfg.CacheTTL())
	require.True(t, cfg.Quotes.EnableFallback)
	require.False(t, cfg.Quotes.RetryUnresolved)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	// Arrange: a partial YAML file
	path := writeFile(t, "gateway.yaml", `
server:
  port: "9090"
quotes:
  retry_unresolved: true
cache:
  ttl_sec: 60
providers:
  secondary:
    enabled: false
`)

	// Act
	cfg, err := Load(path)

	// Assert: file values win, untouched keys keep defaults
	require.NoError(t, err)
	require.Equal(t, "9090", cfg.Server.Port)
	require.True(t, cfg.Quotes.RetryUnresolved)
	require.Equal(t, 60, cfg.Cache.TTLSec)
	require.InDelta(t, 0.8, cfg.Cache.StaleAfter, 1e-9)
	require.False(t, cfg.Providers.Secondary.Enabled)
	require.True(t, cfg.Providers.Primary.Enabled)
}

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))

	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PORT", "7070")
	t.Setenv("PRIMARY_API_KEY", "pk")
	t.Setenv("SECONDARY_API_KEY", "sk")
	t.Setenv("PRIMARY_MAX_RPM", "10")
	t.Setenv("QUOTES_ENABLE_FALLBACK", "false")
	t.Setenv("CACHE_BACKEND", "REDIS")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("BREAKER_FAILURE_THRESHOLD", "3")
	t.Setenv("MAX_RETRIES", "1")
	t.Setenv("CACHE_TTL_SEC", "not-a-number")

	cfg, err := Load("")

	require.NoError(t, err)
	require.Equal(t, "7070", cfg.Server.Port)
	require.Equal(t, "pk", cfg.Providers.Primary.APIKey)
	require.Equal(t, "sk", cfg.Providers.Secondary.APIKey)
	require.Equal(t, 10, cfg.Providers.Primary.RequestsPerMinute)
	require.False(t, cfg.Quotes.EnableFallback)
	require.Equal(t, "redis", cfg.Cache.Backend)
	require.Equal(t, "redis:6379", cfg.Cache.Redis.Addr)
	require.Equal(t, 3, cfg.Breaker.FailureThreshold)
	require.Equal(t, 1, cfg.Providers.Secondary.MaxRetries)
	require.Equal(t, 300, cfg.Cache.TTLSec)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("SECONDARY_BASE_URL=https://example.test\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("SECONDARY_BASE_URL") })

	cfg, err := Load("")

	require.NoError(t, err)
	require.Equal(t, "https://example.test", cfg.Providers.Secondary.BaseURL)
}

func TestLoad_InvalidYAML(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeFile(t, "bad.yaml", "server: [unterminated")

	_, err := Load(path)
	require.ErrorContains(t, err, "parse config")
}

func TestValidate_Rejects(t *testing.T) {
	for name, mutate := range map[string]func(*Config){
		"backend":    func(c *Config) { c.Cache.Backend = "memcached" },
		"ttl":        func(c *Config) { c.Cache.TTLSec = 0 },
		"stale":      func(c *Config) { c.Cache.StaleAfter = 1.5 },
		"threshold":  func(c *Config) { c.Breaker.FailureThreshold = 0 },
		"no_provide": func(c *Config) {
			c.Providers.Primary.Enabled = false
			c.Providers.Secondary.Enabled = false
		},
		"same_name":  func(c *Config) { c.Providers.Secondary.Name = "primary" },
		"base_url":   func(c *Config) { c.Providers.Primary.BaseURL = "" },
		"redis_addr": func(c *Config) {
			c.Cache.Backend = "redis"
			c.Cache.Redis.Addr = ""
		},
	} {
		cfg := Default()
		mutate(&cfg)
		require.Error(t, cfg.Validate(), name)
	}
}

func TestValidate_HealthCheckSymbol(t *testing.T) {
	cfg := Default()
	cfg.Providers.Secondary.ProbeSymbol = "reliance.nse"
	require.NoError(t, cfg.Validate())

	cfg.Providers.Primary.ProbeSymbol = "bad sym!"
	err := cfg.Validate()
	require.ErrorContains(t, err, "providers.primary.probe_symbol")
}
