// Package app assembles the quote service from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"quotegateway/internal/breaker"
	"quotegateway/internal/cache"
	"quotegateway/internal/config"
	"quotegateway/internal/httpx"
	"quotegateway/internal/metrics"
	"quotegateway/internal/provider"
	"quotegateway/internal/provider/adapter"
	"quotegateway/internal/provider/fmp"
	"quotegateway/internal/provider/ratelimit"
	"quotegateway/internal/provider/yahoo"
	"quotegateway/internal/quotes"
)

const userAgent = "quotegateway/1.0"

// Exchange suffix tables for the two upstreams. Canonical exchange codes not
// listed pass through unchanged.
var (
	primarySuffixes = map[string]string{
		"NSE": ".NS",
		"BSE": ".BO",
		"LSE": ".L",
		"TSX": ".TO",
		"ASX": ".AX",
	}
	secondarySuffixes = map[string]string{
		"NSE":  ".NS",
		"BSE":  ".BO",
		"LSE":  ".L",
		"TSX":  ".TO",
		"ASX":  ".AX",
		"HKEX": ".HK",
		"XETR": ".DE",
	}
)

// App is a wired quote service plus the resources it owns.
type App struct {
	Service *quotes.Service
	Metrics *metrics.Metrics
	Cache   *cache.Cache

	closers []func() error
}

// Close releases backend connections.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// Build wires providers, breakers, the cache and metrics from cfg.
func Build(ctx context.Context, cfg config.Config, log zerolog.Logger) (*App, error) {
	a := &App{Metrics: metrics.New()}

	store, err := buildStore(ctx, cfg.Cache, a)
	if err != nil {
		return nil, err
	}
	a.Cache = cache.New(store, cache.Config{
		TTL:        cfg.CacheTTL(),
		StaleAfter: cfg.Cache.StaleAfter,
		Logger:     log,
	})

	httpClient := httpx.New(cfg.CallTimeout())
	httpClient.UserAgent = userAgent

	var regs []quotes.Registration
	if p := cfg.Providers.Primary; p.Enabled {
		if p.APIKey == "" {
			log.Warn().Str("provider", p.Name).Msg("providers.primary enabled without an API key")
		}
		client, err := fmp.NewClient(p.APIKey,
			fmp.WithBaseURL(p.BaseURL),
			fmp.WithHTTPClient(httpClient),
		)
		if err != nil {
			return nil, fmt.Errorf("primary client: %w", err)
		}
		reg, err := register(p, client, primarySuffixes, log)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		regs = append(regs, reg)
	}
	if p := cfg.Providers.Secondary; p.Enabled {
		if p.APIKey == "" {
			log.Warn().Str("provider", p.Name).Msg("providers.secondary enabled without an API key")
		}
		client, err := yahoo.NewClient(p.APIKey,
			yahoo.WithBaseURL(p.BaseURL),
			yahoo.WithHTTPClient(httpClient),
			yahoo.WithRegion(p.Region),
		)
		if err != nil {
			return nil, fmt.Errorf("secondary client: %w", err)
		}
		reg, err := register(p, client, secondarySuffixes, log)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		regs = append(regs, reg)
	}

	svc, err := quotes.New(quotes.Config{
		EnableFallback:  cfg.Quotes.EnableFallback,
		CallTimeout:     cfg.CallTimeout(),
		RetryUnresolved: cfg.Quotes.RetryUnresolved,
		MaxSymbols:      cfg.Quotes.MaxSymbols,
		Breaker: breaker.Config{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			OpenTimeout:      time.Duration(cfg.Breaker.OpenTimeoutSec) * time.Second,
		},
	}, regs,
		quotes.WithCache(a.Cache),
		quotes.WithLogger(log),
		quotes.WithMetrics(a.Metrics),
	)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Service = svc
	return a, nil
}

func buildStore(ctx context.Context, cfg config.Cache, a *App) (cache.Store, error) {
	if cfg.Backend != "redis" {
		return cache.NewMemoryStore(cfg.MaxEntries), nil
	}
	rs, err := cache.NewRedisStore(ctx, cache.RedisOptions{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Prefix:   cfg.Redis.Prefix,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, rs.Close)
	return rs, nil
}

func register(p config.Provider, up adapter.Upstream, suffixes map[string]string, log zerolog.Logger) (quotes.Registration, error) {
	var probe provider.Symbol
	if p.ProbeSymbol != "" {
		sym, err := provider.ParseSymbol(p.ProbeSymbol)
		if err != nil {
			return quotes.Registration{}, fmt.Errorf("providers %s probe symbol: %w", p.Name, err)
		}
		probe = sym
	}
	var limiter ratelimit.Limiter
	if p.RequestsPerMinute > 0 {
		limiter = ratelimit.PerMinute(p.RequestsPerMinute)
	}
	a := adapter.New(adapter.Config{
		Name:    p.Name,
		Codec:   adapter.NewSymbolCodec(suffixes),
		Limiter: limiter,
		Retry: adapter.RetryPolicy{
			MaxRetries: p.MaxRetries,
			BaseDelay:  time.Duration(p.BaseDelayMs) * time.Millisecond,
			MaxDelay:   time.Duration(p.MaxDelayMs) * time.Millisecond,
		},
		ProbeSymbol: probe,
		Logger:      log,
	}, up)
	return quotes.Registration{Provider: a, Priority: p.Priority}, nil
}

// HTTPServer applies the listener timeouts used by the service.
func HTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      45 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
