package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"quotegateway/internal/provider"
)

type Server struct {
	Port              string `yaml:"port"`
	RequestTimeoutSec int    `yaml:"request_timeout_sec"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

type Quotes struct {
	EnableFallback  bool `yaml:"enable_fallback"`
	CallTimeoutSec  int  `yaml:"call_timeout_sec"`
	RetryUnresolved bool `yaml:"retry_unresolved"`
	MaxSymbols      int  `yaml:"max_symbols"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type Cache struct {
	Backend          string  `yaml:"backend"` // memory or redis
	TTLSec           int     `yaml:"ttl_sec"`
	StaleAfter       float64 `yaml:"stale_after"`
	MaxEntries       int     `yaml:"max_entries"`
	SweepIntervalSec int     `yaml:"sweep_interval_sec"`
	Redis            Redis   `yaml:"redis"`
}

type Breaker struct {
	FailureThreshold int `yaml:"failure_threshold"`
	OpenTimeoutSec   int `yaml:"open_timeout_sec"`
}

type Provider struct {
	Enabled           bool   `yaml:"enabled"`
	Name              string `yaml:"name"`
	BaseURL           string `yaml:"base_url"`
	APIKey            string `yaml:"api_key"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
	MaxRetries        int    `yaml:"max_retries"`
	BaseDelayMs       int    `yaml:"base_delay_ms"`
	MaxDelayMs        int    `yaml:"max_delay_ms"`
	Priority          int    `yaml:"priority"`
	ProbeSymbol       string `yaml:"probe_symbol"`
	Region            string `yaml:"region"`
}

type Providers struct {
	Primary   Provider `yaml:"primary"`
	Secondary Provider `yaml:"secondary"`
}

type Config struct {
	Server    Server    `yaml:"server"`
	Log       Log       `yaml:"log"`
	Quotes    Quotes    `yaml:"quotes"`
	Cache     Cache     `yaml:"cache"`
	Breaker   Breaker   `yaml:"breaker"`
	Providers Providers `yaml:"providers"`
}

func Default() Config {
	return Config{
		Server: Server{Port: "8080", RequestTimeoutSec: 35},
		Log:    Log{Level: "info", Format: "json"},
		Quotes: Quotes{
			EnableFallback: true,
			CallTimeoutSec: 30,
			MaxSymbols:     500,
		},
		Cache: Cache{
			Backend:          "memory",
			TTLSec:           300,
			StaleAfter:       0.8,
			MaxEntries:       10000,
			SweepIntervalSec: 60,
			Redis:            Redis{Addr: "localhost:6379", Prefix: "quotegateway:quotes:"},
		},
		Breaker: Breaker{FailureThreshold: 5, OpenTimeoutSec: 60},
		Providers: Providers{
			Primary: Provider{
				Enabled:           true,
				Name:              "primary",
				BaseURL:           "https://financialmodelingprep.com",
				RequestsPerMinute: 5,
				MaxRetries:        3,
				BaseDelayMs:       500,
				MaxDelayMs:        8000,
				Priority:          1,
				ProbeSymbol:       "AAPL",
			},
			Secondary: Provider{
				Enabled:           true,
				Name:              "secondary",
				BaseURL:           "https://yfapi.net",
				RequestsPerMinute: 60,
				MaxRetries:        3,
				BaseDelayMs:       500,
				MaxDelayMs:        8000,
				Priority:          2,
				ProbeSymbol:       "AAPL",
			},
		},
	}
}

// Load reads YAML config from path. If path is empty it falls back to
// CONFIG_FILE, then config.yaml; a missing file yields defaults. A .env file in
// the working directory is loaded first, and environment variables override
// select fields.
func Load(path string) (Config, error) {
	cfg := Default()
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port is required"))
	}
	if c.Quotes.CallTimeoutSec <= 0 {
		errs = append(errs, errors.New("quotes.call_timeout_sec must be positive"))
	}
	if c.Quotes.MaxSymbols < 0 {
		errs = append(errs, errors.New("quotes.max_symbols must not be negative"))
	}
	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.Redis.Addr == "" {
			errs = append(errs, errors.New("cache.redis.addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.backend %q is not memory or redis", c.Cache.Backend))
	}
	if c.Cache.TTLSec <= 0 {
		errs = append(errs, errors.New("cache.ttl_sec must be positive"))
	}
	if c.Cache.StaleAfter <= 0 || c.Cache.StaleAfter > 1 {
		errs = append(errs, errors.New("cache.stale_after must be in (0, 1]"))
	}
	if c.Breaker.FailureThreshold <= 0 {
		errs = append(errs, errors.New("breaker.failure_threshold must be positive"))
	}
	if c.Breaker.OpenTimeoutSec <= 0 {
		errs = append(errs, errors.New("breaker.open_timeout_sec must be positive"))
	}
	if !c.Providers.Primary.Enabled && !c.Providers.Secondary.Enabled {
		errs = append(errs, errors.New("at least one provider must be enabled"))
	}
	for key, p := range map[string]Provider{"primary": c.Providers.Primary, "secondary": c.Providers.Secondary} {
		if !p.Enabled {
			continue
		}
		if p.BaseURL == "" {
			errs = append(errs, fmt.Errorf("providers.%s.base_url is required", key))
		}
		if p.RequestsPerMinute < 0 || p.MaxRetries < 0 {
			errs = append(errs, fmt.Errorf("providers.%s: negative limits", key))
		}
		if p.ProbeSymbol != "" {
			if _, err := provider.ParseSymbol(p.ProbeSymbol); err != nil {
				errs = append(errs, fmt.Errorf("providers.%s.probe_symbol: %w", key, err))
			}
		}
	}
	if c.Providers.Primary.Enabled && c.Providers.Secondary.Enabled &&
		c.Providers.Primary.Name != "" && c.Providers.Primary.Name == c.Providers.Secondary.Name {
		errs = append(errs, errors.New("provider names must differ"))
	}
	return errors.Join(errs...)
}

// CallTimeout is the per-provider call bound.
func (c Config) CallTimeout() time.Duration {
	return time.Duration(c.Quotes.CallTimeoutSec) * time.Second
}

func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSec) * time.Second
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if x, ok := envInt("REQUEST_TIMEOUT_SEC"); ok && x > 0 {
		cfg.Server.RequestTimeoutSec = x
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}

	if b, ok := envBool("QUOTES_ENABLE_FALLBACK"); ok {
		cfg.Quotes.EnableFallback = b
	}
	if b, ok := envBool("QUOTES_RETRY_UNRESOLVED"); ok {
		cfg.Quotes.RetryUnresolved = b
	}
	if x, ok := envInt("QUOTES_CALL_TIMEOUT_SEC"); ok && x > 0 {
		cfg.Quotes.CallTimeoutSec = x
	}

	if x, ok := envInt("CACHE_TTL_SEC"); ok && x > 0 {
		cfg.Cache.TTLSec = x
	}
	if v := os.Getenv("CACHE_BACKEND"); v != "" {
		cfg.Cache.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Cache.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Cache.Redis.Password = v
	}

	if x, ok := envInt("BREAKER_FAILURE_THRESHOLD"); ok && x > 0 {
		cfg.Breaker.FailureThreshold = x
	}
	if x, ok := envInt("BREAKER_OPEN_TIMEOUT_SEC"); ok && x > 0 {
		cfg.Breaker.OpenTimeoutSec = x
	}

	if v := os.Getenv("PRIMARY_API_KEY"); v != "" {
		cfg.Providers.Primary.APIKey = v
	}
	if v := os.Getenv("PRIMARY_BASE_URL"); v != "" {
		cfg.Providers.Primary.BaseURL = v
	}
	if x, ok := envInt("PRIMARY_MAX_RPM"); ok && x >= 0 {
		cfg.Providers.Primary.RequestsPerMinute = x
	}
	if v := os.Getenv("SECONDARY_API_KEY"); v != "" {
		cfg.Providers.Secondary.APIKey = v
	}
	if v := os.Getenv("SECONDARY_BASE_URL"); v != "" {
		cfg.Providers.Secondary.BaseURL = v
	}
	if x, ok := envInt("SECONDARY_MAX_RPM"); ok && x >= 0 {
		cfg.Providers.Secondary.RequestsPerMinute = x
	}
	if x, ok := envInt("MAX_RETRIES"); ok && x >= 0 {
		cfg.Providers.Primary.MaxRetries = x
		cfg.Providers.Secondary.MaxRetries = x
	}
}

func envInt(key string) (int, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	x, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return x, true
}

func envBool(key string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "y":
		return true, true
	case "0", "false", "no", "n":
		return false, true
	}
	return false, false
}
