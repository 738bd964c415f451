package provider

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is the normalized shape returned by all providers.
// Values are immutable once built; use WithStale to derive a flagged copy.
type Quote struct {
	Symbol        Symbol          `json:"symbol"`
	DisplayName   string          `json:"display_name"`
	Price         decimal.Decimal `json:"price"`
	Open          decimal.Decimal `json:"open"`
	High          decimal.Decimal `json:"high"`
	Low           decimal.Decimal `json:"low"`
	PreviousClose decimal.Decimal `json:"previous_close"`
	Timestamp     time.Time       `json:"timestamp"`
	Source        string          `json:"source"`
	Stale         bool            `json:"is_stale"`
}

// WithStale returns a copy of q with the staleness flag set to stale.
func (q Quote) WithStale(stale bool) Quote {
	q.Stale = stale
	return q
}

// Provider is the capability contract every upstream adapter implements.
//
// FetchQuotes returns one quote per symbol the upstream could resolve; symbols it
// cannot resolve are omitted. Failures are reported as *Error.
type Provider interface {
	Name() string
	FetchQuotes(ctx context.Context, symbols []Symbol) ([]Quote, error)
	IsHealthy(ctx context.Context) bool
}
