package adapter

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// parseDecimal accepts the numeric shapes upstreams emit. Missing or malformed
// values yield zero and false.
func parseDecimal(v any) (decimal.Decimal, bool) {
	switch x := v.(type) {
	case nil:
		return decimal.Zero, false
	case decimal.Decimal:
		return x, true
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat(x), true
	case int:
		return decimal.NewFromInt(int64(x)), true
	case int64:
		return decimal.NewFromInt(x), true
	case json.Number:
		d, err := decimal.NewFromString(x.String())
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return decimal.Zero, false
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	default:
		return decimal.Zero, false
	}
}

// millisThreshold separates unix seconds from unix milliseconds.
const millisThreshold = 1e11

// parseTime reads unix seconds, unix milliseconds or RFC 3339. Anything else
// falls back to fallback.
func parseTime(v any, fallback time.Time) time.Time {
	var n float64
	switch x := v.(type) {
	case float64:
		n = x
	case int64:
		n = float64(x)
	case int:
		n = float64(x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return fallback
		}
		n = f
	case string:
		s := strings.TrimSpace(x)
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t.UTC()
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fallback
		}
		n = f
	default:
		return fallback
	}
	if n <= 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return fallback
	}
	if n >= millisThreshold {
		return time.UnixMilli(int64(n)).UTC()
	}
	return time.Unix(int64(n), 0).UTC()
}
