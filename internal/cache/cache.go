// Package cache holds batch-keyed quote results for a bounded time.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"quotegateway/internal/provider"
)

const (
	DefaultTTL        = 5 * time.Minute
	DefaultStaleAfter = 0.8
)

// Entry is one cached batch result.
type Entry struct {
	Quotes    []provider.Quote `json:"quotes"`
	StoredAt  time.Time        `json:"stored_at"`
	ExpiresAt time.Time        `json:"expires_at"`
}

// Store is a key/value backend for entries. Implementations must be safe for
// concurrent use; the last Set for a key wins.
type Store interface {
	// Get returns the entry for key. Expired entries may be returned; Cache
	// decides on expiry.
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, e Entry) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	// Sweep removes entries expired at now and reports how many were removed.
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// Key identifies a symbol set independent of order and duplicates.
func Key(symbols []provider.Symbol) string {
	sorted := provider.SortedSymbols(symbols)
	parts := make([]string, 0, len(sorted))
	for i, s := range sorted {
		if i > 0 && s == sorted[i-1] {
			continue
		}
		parts = append(parts, string(s))
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, ",")))
	return hex.EncodeToString(sum[:])
}

type Config struct {
	TTL time.Duration
	// StaleAfter is the fraction of TTL after which hits are flagged stale.
	StaleAfter float64
	Now        func() time.Time
	Logger     zerolog.Logger
}

// Cache applies TTL and staleness policy on top of a Store.
type Cache struct {
	store      Store
	ttl        time.Duration
	staleAfter time.Duration
	now        func() time.Time
	log        zerolog.Logger
}

func New(store Store, cfg Config) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.StaleAfter <= 0 || cfg.StaleAfter > 1 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Cache{
		store:      store,
		ttl:        cfg.TTL,
		staleAfter: time.Duration(float64(cfg.TTL) * cfg.StaleAfter),
		now:        cfg.Now,
		log:        cfg.Logger.With().Str("component", "cache").Logger(),
	}
}

// TTL is how long a stored result stays servable.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Health reports whether the backend is reachable. Stores without a remote
// connection are always healthy.
func (c *Cache) Health(ctx context.Context) error {
	hc, ok := c.store.(interface{ Health(context.Context) error })
	if !ok {
		return nil
	}
	return hc.Health(ctx)
}

// Get returns the cached quotes for key. Entries past the stale threshold come
// back as copies flagged stale. Backend errors are logged and reported as a miss.
func (c *Cache) Get(ctx context.Context, key string) ([]provider.Quote, bool) {
	e, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache read failed")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	now := c.now()
	if !now.Before(e.ExpiresAt) {
		if err := c.store.Delete(ctx, key); err != nil {
			c.log.Debug().Err(err).Str("key", key).Msg("evicting expired entry")
		}
		return nil, false
	}

	stale := now.Sub(e.StoredAt) >= c.staleAfter
	out := make([]provider.Quote, len(e.Quotes))
	for i, q := range e.Quotes {
		out[i] = q.WithStale(stale)
	}
	return out, true
}

// Put stores quotes under key for one TTL.
func (c *Cache) Put(ctx context.Context, key string, quotes []provider.Quote) {
	now := c.now()
	e := Entry{
		Quotes:    append([]provider.Quote(nil), quotes...),
		StoredAt:  now,
		ExpiresAt: now.Add(c.ttl),
	}
	if err := c.store.Set(ctx, key, e); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
}

// Clear drops every entry.
func (c *Cache) Clear(ctx context.Context) error {
	return c.store.Clear(ctx)
}

// Sweep removes expired entries.
func (c *Cache) Sweep(ctx context.Context) int {
	n, err := c.store.Sweep(ctx, c.now())
	if err != nil {
		c.log.Warn().Err(err).Msg("cache sweep failed")
	}
	return n
}

// RunSweeper sweeps every interval until ctx is done.
func (c *Cache) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Sweep(ctx); n > 0 {
				c.log.Debug().Int("removed", n).Msg("swept expired entries")
			}
		}
	}
}
