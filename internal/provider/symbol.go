package provider

import (
	"sort"
	"strings"
)

// Symbol is a canonical security identifier: an uppercase ticker optionally
// followed by "." and a canonical exchange code (e.g. "AAPL", "RELIANCE.NSE").
type Symbol string

const (
	maxTickerLen   = 20
	maxExchangeLen = 8
)

// ParseSymbol normalizes raw into a canonical Symbol. Normalizing an already
// canonical symbol returns it unchanged.
func ParseSymbol(raw string) (Symbol, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return "", &Error{Kind: KindInvalidSymbol, Symbol: raw, Message: "empty symbol"}
	}
	ticker, exchange := s, ""
	if i := strings.LastIndexByte(s, '.'); i >= 0 {
		ticker, exchange = s[:i], s[i+1:]
		if exchange == "" {
			return "", &Error{Kind: KindInvalidSymbol, Symbol: raw, Message: "empty exchange suffix"}
		}
	}
	if ticker == "" || len(ticker) > maxTickerLen {
		return "", &Error{Kind: KindInvalidSymbol, Symbol: raw, Message: "bad ticker length"}
	}
	for _, r := range ticker {
		if !isTickerRune(r) {
			return "", &Error{Kind: KindInvalidSymbol, Symbol: raw, Message: "disallowed character " + string(r)}
		}
	}
	if len(exchange) > maxExchangeLen {
		return "", &Error{Kind: KindInvalidSymbol, Symbol: raw, Message: "bad exchange length"}
	}
	for _, r := range exchange {
		if r < 'A' || r > 'Z' {
			return "", &Error{Kind: KindInvalidSymbol, Symbol: raw, Message: "disallowed exchange character " + string(r)}
		}
	}
	return Symbol(s), nil
}

func isTickerRune(r rune) bool {
	switch {
	case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '-', r == '^', r == '=':
		return true
	}
	return false
}

// Ticker returns the symbol without its exchange suffix.
func (s Symbol) Ticker() string {
	if i := strings.LastIndexByte(string(s), '.'); i >= 0 {
		return string(s[:i])
	}
	return string(s)
}

// Exchange returns the canonical exchange code, or "" for the home market.
func (s Symbol) Exchange() string {
	if i := strings.LastIndexByte(string(s), '.'); i >= 0 {
		return string(s[i+1:])
	}
	return ""
}

func (s Symbol) String() string { return string(s) }

// ParseSymbols normalizes and de-duplicates raw, preserving first-seen order.
// The first invalid entry aborts with its error.
func ParseSymbols(raw []string) ([]Symbol, error) {
	out := make([]Symbol, 0, len(raw))
	seen := make(map[Symbol]struct{}, len(raw))
	for _, r := range raw {
		s, err := ParseSymbol(r)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out, nil
}

// SortedSymbols returns a sorted copy of symbols.
func SortedSymbols(symbols []Symbol) []Symbol {
	out := append([]Symbol(nil), symbols...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
