package quotes

import (
	"strings"

	"quotegateway/internal/provider"
)

// Attempt records why one provider did not serve a request.
type Attempt struct {
	Provider string        `json:"provider"`
	Kind     provider.Kind `json:"-"`
	Reason   string        `json:"reason"`
}

// AllProvidersFailedError is returned when every eligible provider was skipped
// or failed. It matches provider.ErrAllProvidersFailed.
type AllProvidersFailedError struct {
	Attempts []Attempt
}

func (e *AllProvidersFailedError) Error() string {
	var b strings.Builder
	b.WriteString("all providers failed")
	for i, a := range e.Attempts {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString("; ")
		}
		b.WriteString(a.Provider)
		b.WriteString(": ")
		b.WriteString(a.Reason)
	}
	return b.String()
}

func (e *AllProvidersFailedError) ErrorKind() provider.Kind { return provider.KindAllProvidersFailed }

func (e *AllProvidersFailedError) Is(target error) bool {
	t, ok := target.(*provider.Error)
	return ok && t.Kind == provider.KindAllProvidersFailed
}

// SymbolError notes a symbol (or the whole batch) that could not be resolved.
type SymbolError struct {
	Symbol string `json:"symbol"`
	Reason string `json:"reason"`
}
