package adapter

import (
	"strings"

	"quotegateway/internal/provider"
)

// SymbolCodec converts canonical symbols to an upstream's ticker format and back.
// Suffixes maps a canonical exchange code to the upstream suffix, including its
// separator (e.g. "NSE" -> ".NS"). Exchanges missing from the table are passed
// through as ".EXCH".
type SymbolCodec struct {
	suffixes map[string]string
	reverse  map[string]string
}

func NewSymbolCodec(suffixes map[string]string) SymbolCodec {
	c := SymbolCodec{
		suffixes: make(map[string]string, len(suffixes)),
		reverse:  make(map[string]string, len(suffixes)),
	}
	for exch, suffix := range suffixes {
		exch, suffix = strings.ToUpper(exch), strings.ToUpper(suffix)
		c.suffixes[exch] = suffix
		c.reverse[suffix] = exch
	}
	return c
}

// Encode renders s in the upstream's format.
func (c SymbolCodec) Encode(s provider.Symbol) string {
	exch := s.Exchange()
	if exch == "" {
		return s.Ticker()
	}
	if suffix, ok := c.suffixes[exch]; ok {
		return s.Ticker() + suffix
	}
	return string(s)
}

// Decode maps an upstream ticker back to its canonical symbol.
func (c SymbolCodec) Decode(raw string) (provider.Symbol, error) {
	up := strings.ToUpper(strings.TrimSpace(raw))
	if i := strings.LastIndexByte(up, '.'); i >= 0 {
		if exch, ok := c.reverse[up[i:]]; ok {
			return provider.ParseSymbol(up[:i] + "." + exch)
		}
	}
	return provider.ParseSymbol(up)
}
