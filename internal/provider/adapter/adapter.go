package adapter

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"quotegateway/internal/provider"
	"quotegateway/internal/provider/ratelimit"
)

const (
	// DefaultProbeSymbol is queried by IsHealthy when no probe symbol is configured.
	DefaultProbeSymbol provider.Symbol = "AAPL"
	// DefaultProbeInterval is how long a health probe result is reused.
	DefaultProbeInterval = time.Minute
)

// Row is one upstream quote record before normalization. Numeric fields hold
// whatever the upstream sent: float64, json.Number, a numeric string or nil.
type Row struct {
	Symbol        string
	Name          string
	Price         any
	Open          any
	High          any
	Low           any
	PreviousClose any
	// Time is unix seconds or milliseconds, or an RFC 3339 string.
	Time any
}

// Upstream is a raw quote API: one batched request per call, no retries.
// Failures are returned as *provider.Error.
type Upstream interface {
	Quotes(ctx context.Context, symbols []string) ([]Row, error)
}

type Config struct {
	Name        string
	Codec       SymbolCodec
	Limiter     ratelimit.Limiter // nil disables self-throttling
	Retry       RetryPolicy
	ProbeSymbol provider.Symbol
	// ProbeInterval bounds how often IsHealthy spends a quota slot. Negative
	// probes on every call.
	ProbeInterval time.Duration
	Logger        zerolog.Logger
	Now         func() time.Time
}

// Adapter turns an Upstream into a provider.Provider: it normalizes symbols,
// enforces the upstream quota, retries transient failures and maps rows into
// quotes.
type Adapter struct {
	cfg  Config
	up   Upstream
	log  zerolog.Logger
	warn *rate.Sometimes

	probeMu  sync.Mutex
	probedAt time.Time
	probeOK  bool
}

func New(cfg Config, up Upstream) *Adapter {
	if cfg.Name == "" {
		cfg.Name = "upstream"
	}
	if cfg.ProbeSymbol == "" {
		cfg.ProbeSymbol = DefaultProbeSymbol
	}
	if cfg.ProbeInterval == 0 {
		cfg.ProbeInterval = DefaultProbeInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.Retry = cfg.Retry.withDefaults()
	return &Adapter{
		cfg:  cfg,
		up:   up,
		log:  cfg.Logger.With().Str("provider", cfg.Name).Logger(),
		warn: &rate.Sometimes{First: 3, Interval: 30 * time.Second},
	}
}

func (a *Adapter) Name() string { return a.cfg.Name }

// FetchQuotes admits the call against the upstream quota once, then issues a
// single batched request with retries for transient failures. Symbols the
// upstream does not return are omitted from the result. An invalid symbol
// fails the whole call before admission.
func (a *Adapter) FetchQuotes(ctx context.Context, symbols []provider.Symbol) ([]provider.Quote, error) {
	if len(symbols) == 0 {
		return nil, nil
	}
	canonical := make([]provider.Symbol, len(symbols))
	for i, s := range symbols {
		c, err := provider.ParseSymbol(string(s))
		if err != nil {
			return nil, provider.WithProvider(err, a.cfg.Name)
		}
		canonical[i] = c
	}
	if a.cfg.Limiter != nil && !a.cfg.Limiter.Allow() {
		a.log.Warn().Bool("self_throttled", true).Int("symbols", len(symbols)).Msg("rate limit exceeded")
		return nil, &provider.Error{Kind: provider.KindRateLimitExceeded, Provider: a.cfg.Name, Message: "local request quota exhausted"}
	}

	encoded := make([]string, 0, len(symbols))
	byUpstream := make(map[string]provider.Symbol, len(symbols))
	for _, s := range canonical {
		e := a.cfg.Codec.Encode(s)
		if _, dup := byUpstream[e]; dup {
			continue
		}
		byUpstream[e] = s
		encoded = append(encoded, e)
	}

	rows, err := a.fetchWithRetry(ctx, encoded)
	if err != nil {
		return nil, err
	}
	return a.mapRows(rows, byUpstream), nil
}

// IsHealthy probes the upstream with one symbol. A probe spends a quota slot,
// so its result is reused for ProbeInterval. A full quota window reports
// unhealthy without contacting the upstream.
func (a *Adapter) IsHealthy(ctx context.Context) bool {
	a.probeMu.Lock()
	defer a.probeMu.Unlock()

	now := a.cfg.Now()
	if !a.probedAt.IsZero() && now.Sub(a.probedAt) < a.cfg.ProbeInterval {
		return a.probeOK
	}
	if a.cfg.Limiter != nil && !a.cfg.Limiter.Allow() {
		return false
	}
	_, err := a.up.Quotes(ctx, []string{a.cfg.Codec.Encode(a.cfg.ProbeSymbol)})
	if err != nil {
		a.log.Debug().Err(err).Msg("health probe failed")
	}
	a.probedAt, a.probeOK = now, err == nil
	return a.probeOK
}

func (a *Adapter) fetchWithRetry(ctx context.Context, symbols []string) ([]Row, error) {
	for attempt := 0; ; attempt++ {
		rows, err := a.up.Quotes(ctx, symbols)
		if err == nil {
			return rows, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, a.contextError(ctxErr)
		}

		kind := provider.KindOf(err)
		if kind == provider.KindRateLimitExceeded {
			a.log.Warn().Bool("self_throttled", false).Err(err).Msg("rate limit exceeded")
		}
		if !kind.Transient() || attempt >= a.cfg.Retry.MaxRetries {
			return nil, provider.WithProvider(err, a.cfg.Name)
		}

		delay := a.cfg.Retry.Delay(attempt)
		a.log.Debug().Err(err).Int("attempt", attempt+1).Dur("backoff", delay).Msg("retrying upstream request")
		if err := sleep(ctx, delay); err != nil {
			return nil, a.contextError(err)
		}
	}
}

func (a *Adapter) contextError(err error) error {
	kind := provider.KindNetwork
	if errors.Is(err, context.DeadlineExceeded) {
		kind = provider.KindTimeout
	}
	return &provider.Error{Kind: kind, Provider: a.cfg.Name, Message: "request abandoned", Err: err}
}

func (a *Adapter) mapRows(rows []Row, byUpstream map[string]provider.Symbol) []provider.Quote {
	now := a.cfg.Now().UTC()
	out := make([]provider.Quote, 0, len(rows))
	seen := make(map[provider.Symbol]struct{}, len(rows))
	for _, r := range rows {
		sym, ok := byUpstream[strings.ToUpper(strings.TrimSpace(r.Symbol))]
		if !ok {
			decoded, err := a.cfg.Codec.Decode(r.Symbol)
			if err != nil {
				continue
			}
			if _, requested := byUpstream[a.cfg.Codec.Encode(decoded)]; !requested {
				continue
			}
			sym = decoded
		}
		if _, dup := seen[sym]; dup {
			continue
		}
		seen[sym] = struct{}{}
		out = append(out, a.toQuote(sym, r, now))
	}
	return out
}

func (a *Adapter) toQuote(sym provider.Symbol, r Row, now time.Time) provider.Quote {
	var missing []string
	field := func(name string, v any) decimal.Decimal {
		d, ok := parseDecimal(v)
		if !ok {
			missing = append(missing, name)
		}
		return d
	}
	q := provider.Quote{
		Symbol:        sym,
		DisplayName:   strings.TrimSpace(r.Name),
		Price:         field("price", r.Price),
		Open:          field("open", r.Open),
		High:          field("high", r.High),
		Low:           field("low", r.Low),
		PreviousClose: field("previous_close", r.PreviousClose),
		Timestamp:     parseTime(r.Time, now),
		Source:        a.cfg.Name,
	}
	if q.DisplayName == "" {
		q.DisplayName = string(sym)
	}
	if len(missing) > 0 {
		a.warn.Do(func() {
			a.log.Warn().Str("symbol", string(sym)).Strs("fields", missing).Msg("upstream quote has missing or malformed fields")
		})
	}
	return q
}
