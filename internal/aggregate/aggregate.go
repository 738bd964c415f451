// Package aggregate combines quote batches from several providers.
package aggregate

import (
	"quotegateway/internal/provider"
)

// Merge collapses batches into one quote per requested symbol, in request
// order. Earlier batches win over later ones; within a batch the first quote
// for a symbol wins. Quotes for symbols that were not requested are dropped.
// unresolved lists requested symbols no batch covered, in request order.
func Merge(requested []provider.Symbol, batches ...[]provider.Quote) (quotes []provider.Quote, unresolved []provider.Symbol) {
	bySymbol := make(map[provider.Symbol]provider.Quote, len(requested))
	for _, batch := range batches {
		for _, q := range batch {
			if _, ok := bySymbol[q.Symbol]; ok {
				continue
			}
			bySymbol[q.Symbol] = q
		}
	}

	quotes = make([]provider.Quote, 0, len(requested))
	seen := make(map[provider.Symbol]struct{}, len(requested))
	for _, s := range requested {
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		if q, ok := bySymbol[s]; ok {
			quotes = append(quotes, q)
			continue
		}
		unresolved = append(unresolved, s)
	}
	return quotes, unresolved
}

// Missing returns the requested symbols absent from quotes, in request order.
func Missing(requested []provider.Symbol, quotes []provider.Quote) []provider.Symbol {
	_, unresolved := Merge(requested, quotes)
	return unresolved
}

// Sources lists the distinct quote sources in first-seen order.
func Sources(quotes []provider.Quote) []string {
	var out []string
	seen := make(map[string]struct{}, 2)
	for _, q := range quotes {
		if _, ok := seen[q.Source]; ok || q.Source == "" {
			continue
		}
		seen[q.Source] = struct{}{}
		out = append(out, q.Source)
	}
	return out
}
