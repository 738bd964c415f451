// Package quotes retrieves quotes through an ordered list of providers with
// caching, circuit breaking and fallback.
package quotes

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"quotegateway/internal/aggregate"
	"quotegateway/internal/breaker"
	"quotegateway/internal/cache"
	"quotegateway/internal/metrics"
	"quotegateway/internal/provider"
)

const (
	DefaultCallTimeout = 30 * time.Second
	DefaultMaxSymbols  = 500
)

type Config struct {
	// EnableFallback lets later providers serve when earlier ones fail.
	EnableFallback bool
	// CallTimeout bounds each provider call, retries included.
	CallTimeout time.Duration
	// RetryUnresolved queries later providers for symbols an earlier provider
	// did not return.
	RetryUnresolved bool
	MaxSymbols      int
	// Breaker configures breakers the service creates for registrations
	// without one.
	Breaker breaker.Config
}

func DefaultConfig() Config {
	return Config{
		EnableFallback: true,
		CallTimeout:    DefaultCallTimeout,
		MaxSymbols:     DefaultMaxSymbols,
	}
}

// Registration binds a provider to its priority and breaker.
// Lower priority values are tried first; ties keep registration order.
type Registration struct {
	Provider provider.Provider
	Priority int
	Breaker  *breaker.Breaker
}

// Result is a successful GetQuotes outcome.
type Result struct {
	Quotes    []provider.Quote `json:"quotes"`
	Errors    []SymbolError    `json:"errors"`
	Provider  string           `json:"provider"`
	FromCache bool             `json:"from_cache"`
}

// ProviderHealth is one row of the diagnostics view.
type ProviderHealth struct {
	Provider string           `json:"provider"`
	Priority int              `json:"priority"`
	Healthy  bool             `json:"healthy"`
	Breaker  breaker.Snapshot `json:"breaker"`
}

type Service struct {
	cfg     Config
	regs    []Registration
	cache   *cache.Cache
	log     zerolog.Logger
	metrics *metrics.Metrics
	probes  singleflight.Group
}

type Option func(*Service)

// WithCache enables result caching.
func WithCache(c *cache.Cache) Option {
	return func(s *Service) { s.cache = c }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// New validates the registrations and orders them by priority.
func New(cfg Config, regs []Registration, opts ...Option) (*Service, error) {
	if len(regs) == 0 {
		return nil, errors.New("quotes: no providers registered")
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	s := &Service{cfg: cfg, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("component", "quotes").Logger()

	seen := make(map[string]struct{}, len(regs))
	s.regs = make([]Registration, 0, len(regs))
	for _, r := range regs {
		if r.Provider == nil {
			return nil, errors.New("quotes: nil provider")
		}
		name := r.Provider.Name()
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("quotes: duplicate provider %q", name)
		}
		seen[name] = struct{}{}
		if r.Breaker == nil {
			r.Breaker = breaker.New(name, s.breakerConfig())
		}
		s.regs = append(s.regs, r)
		s.metrics.BreakerState(name, int(r.Breaker.State()))
	}
	sort.SliceStable(s.regs, func(i, j int) bool { return s.regs[i].Priority < s.regs[j].Priority })
	return s, nil
}

func (s *Service) breakerConfig() breaker.Config {
	bc := s.cfg.Breaker
	next := bc.OnStateChange
	bc.OnStateChange = func(name string, from, to breaker.State) {
		ev := s.log.Info()
		if to == breaker.Open {
			ev = s.log.Warn()
		}
		ev.Str("provider", name).Stringer("from", from).Stringer("to", to).Msg("circuit state changed")
		s.metrics.BreakerState(name, int(to))
		if next != nil {
			next(name, from, to)
		}
	}
	return bc
}

// Providers lists provider names in the order they are tried.
func (s *Service) Providers() []string {
	out := make([]string, len(s.regs))
	for i, r := range s.regs {
		out[i] = r.Provider.Name()
	}
	return out
}

// GetQuotes resolves symbols from the cache or the first provider able to
// serve them.
func (s *Service) GetQuotes(ctx context.Context, raw []string) (*Result, error) {
	symbols, err := s.parse(raw)
	if err != nil {
		s.metrics.Request(provider.KindInvalidRequest.String())
		return nil, err
	}

	key := cache.Key(symbols)
	if s.cache != nil {
		if cached, ok := s.cache.Get(ctx, key); ok {
			lookup := "hit"
			if len(cached) > 0 && cached[0].Stale {
				lookup = "stale_hit"
			}
			s.metrics.CacheLookup(lookup)
			s.metrics.Request("success")
			out, unresolved := aggregate.Merge(symbols, cached)
			return &Result{
				Quotes:    out,
				Errors:    unresolvedErrors(unresolved, "not returned by provider"),
				Provider:  strings.Join(aggregate.Sources(out), ","),
				FromCache: true,
			}, nil
		}
		s.metrics.CacheLookup("miss")
	}

	res, err := s.fetch(ctx, symbols)
	if err != nil {
		s.metrics.Request(provider.KindOf(err).String())
		return nil, err
	}
	if s.cache != nil && len(res.Quotes) > 0 {
		s.cache.Put(ctx, key, res.Quotes)
	}
	s.metrics.Request("success")
	return res, nil
}

func (s *Service) parse(raw []string) ([]provider.Symbol, error) {
	if len(raw) == 0 {
		return nil, provider.Errorf(provider.KindInvalidRequest, "no symbols requested")
	}
	symbols, err := provider.ParseSymbols(raw)
	if err != nil {
		var pe *provider.Error
		if errors.As(err, &pe) {
			return nil, &provider.Error{Kind: provider.KindInvalidRequest, Symbol: pe.Symbol, Message: pe.Message, Err: err}
		}
		return nil, provider.Wrap(provider.KindInvalidRequest, err, "invalid symbol")
	}
	if s.cfg.MaxSymbols > 0 && len(symbols) > s.cfg.MaxSymbols {
		return nil, provider.Errorf(provider.KindInvalidRequest, "too many symbols: %d > %d", len(symbols), s.cfg.MaxSymbols)
	}
	return symbols, nil
}

func (s *Service) fetch(ctx context.Context, symbols []provider.Symbol) (*Result, error) {
	var (
		attempts []Attempt
		batches  [][]provider.Quote
		served   []string
		expired  bool
	)
	remaining := symbols

	for i, reg := range s.regs {
		if i > 0 && !s.cfg.EnableFallback {
			break
		}
		if err := ctx.Err(); err != nil {
			if len(batches) > 0 {
				expired = true
				break
			}
			return nil, s.deadlineError(err, attempts)
		}

		name := reg.Provider.Name()
		permit, ok := reg.Breaker.Acquire()
		if !ok {
			s.log.Debug().Str("provider", name).Msg("circuit open, skipping provider")
			s.metrics.ProviderCall(name, provider.KindCircuitOpen.String(), 0)
			attempts = append(attempts, Attempt{Provider: name, Kind: provider.KindCircuitOpen, Reason: "circuit open"})
			continue
		}

		quotes, took, err := s.call(ctx, reg, remaining)
		if err != nil {
			kind := provider.KindOf(err)
			if ctxErr := ctx.Err(); ctxErr != nil {
				reg.Breaker.Release(permit)
				if len(batches) > 0 {
					s.log.Warn().Str("provider", name).Int("unresolved", len(remaining)).Msg("caller deadline reached, returning partial result")
					expired = true
					break
				}
				return nil, s.deadlineError(ctxErr, attempts)
			}
			// Throttling counts like any other failure so a provider answering
			// 429 on every call gets its circuit opened.
			reg.Breaker.RecordFailure(kind)
			s.metrics.ProviderCall(name, kind.String(), took)
			s.log.Warn().Err(err).Str("provider", name).Stringer("kind", kind).Msg("provider failed")
			attempts = append(attempts, Attempt{Provider: name, Kind: kind, Reason: err.Error()})
			continue
		}

		reg.Breaker.RecordSuccess()
		s.metrics.ProviderCall(name, "success", took)
		batches = append(batches, quotes)
		served = append(served, name)
		if i > 0 && len(batches) == 1 {
			s.log.Info().Str("provider", name).Int("skipped", len(attempts)).Msg("served by fallback provider")
		}

		unresolved := aggregate.Missing(remaining, quotes)
		if len(unresolved) == 0 || !s.cfg.RetryUnresolved || !s.cfg.EnableFallback {
			break
		}
		remaining = unresolved
	}

	if len(batches) == 0 {
		return nil, &AllProvidersFailedError{Attempts: attempts}
	}

	reason := "not returned by " + strings.Join(served, ",")
	if expired {
		reason = "deadline reached before remaining providers answered"
	}
	out, unresolved := aggregate.Merge(symbols, batches...)
	return &Result{
		Quotes:   out,
		Errors:   unresolvedErrors(unresolved, reason),
		Provider: strings.Join(served, ","),
	}, nil
}

func (s *Service) call(ctx context.Context, reg Registration, symbols []provider.Symbol) ([]provider.Quote, time.Duration, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()

	start := time.Now()
	quotes, err := reg.Provider.FetchQuotes(callCtx, symbols)
	took := time.Since(start)
	if err != nil {
		return nil, took, provider.WithProvider(err, reg.Provider.Name())
	}
	return quotes, took, nil
}

func (s *Service) deadlineError(err error, attempts []Attempt) error {
	s.log.Warn().Err(err).Int("attempted", len(attempts)).Msg("caller deadline reached")
	return &provider.Error{Kind: provider.KindTimeout, Message: "deadline reached before quotes were retrieved", Err: err}
}

func unresolvedErrors(symbols []provider.Symbol, reason string) []SymbolError {
	if len(symbols) == 0 {
		return nil
	}
	out := make([]SymbolError, len(symbols))
	for i, s := range symbols {
		out[i] = SymbolError{Symbol: string(s), Reason: reason}
	}
	return out
}

// Health probes every provider concurrently. Concurrent calls share probes
// per provider.
func (s *Service) Health(ctx context.Context) []ProviderHealth {
	out := make([]ProviderHealth, len(s.regs))
	var g errgroup.Group
	for i, reg := range s.regs {
		g.Go(func() error {
			name := reg.Provider.Name()
			v, _, _ := s.probes.Do(name, func() (any, error) {
				pctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
				defer cancel()
				return reg.Provider.IsHealthy(pctx), nil
			})
			healthy, _ := v.(bool)
			out[i] = ProviderHealth{
				Provider: name,
				Priority: reg.Priority,
				Healthy:  healthy,
				Breaker:  reg.Breaker.Snapshot(),
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// ResetBreaker closes the named provider's circuit.
func (s *Service) ResetBreaker(name string) error {
	for _, r := range s.regs {
		if r.Provider.Name() == name {
			r.Breaker.Reset()
			s.metrics.BreakerState(name, int(breaker.Closed))
			s.log.Info().Str("provider", name).Msg("circuit reset")
			return nil
		}
	}
	return provider.Errorf(provider.KindInvalidRequest, "unknown provider %q", name)
}

// Ready reports whether the service can answer: at least one circuit admits
// calls and the cache backend is reachable.
func (s *Service) Ready(ctx context.Context) error {
	if s.cache != nil {
		if err := s.cache.Health(ctx); err != nil {
			return fmt.Errorf("cache backend: %w", err)
		}
	}
	for _, r := range s.regs {
		if r.Breaker.State() != breaker.Open {
			return nil
		}
	}
	return provider.Errorf(provider.KindCircuitOpen, "every provider circuit is open")
}

// ClearCache drops every cached result.
func (s *Service) ClearCache(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	if err := s.cache.Clear(ctx); err != nil {
		return fmt.Errorf("clearing cache: %w", err)
	}
	return nil
}
