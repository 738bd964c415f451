package provider

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies provider and orchestration failures.
type Kind int

const (
	KindUnknown Kind = iota
	KindNetwork
	KindTimeout
	KindAuthentication
	KindRateLimitExceeded
	KindInvalidSymbol
	KindDataParsing
	KindServiceUnavailable
	KindAllProvidersFailed
	KindInvalidRequest
	// KindCircuitOpen only appears in attempt summaries for skipped providers.
	KindCircuitOpen
)

// String returns a stable identifier for the kind, used in logs and API payloads.
func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindAuthentication:
		return "authentication"
	case KindRateLimitExceeded:
		return "rate_limit_exceeded"
	case KindInvalidSymbol:
		return "invalid_symbol"
	case KindDataParsing:
		return "data_parsing"
	case KindServiceUnavailable:
		return "service_unavailable"
	case KindAllProvidersFailed:
		return "all_providers_failed"
	case KindInvalidRequest:
		return "invalid_request"
	case KindCircuitOpen:
		return "circuit_open"
	default:
		return "unknown"
	}
}

// Transient reports whether a failure of this kind may succeed on retry.
func (k Kind) Transient() bool {
	switch k {
	case KindNetwork, KindTimeout, KindServiceUnavailable:
		return true
	}
	return false
}

// Error is the single error type crossing the provider boundary.
type Error struct {
	Kind     Kind
	Provider string
	Symbol   string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Provider != "" {
		msg = e.Provider + ": " + msg
	}
	if e.Symbol != "" {
		msg += " [" + e.Symbol + "]"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Provider == "" && t.Symbol == "" && t.Message == "" && t.Err == nil
}

var (
	ErrNetwork            = &Error{Kind: KindNetwork}
	ErrTimeout            = &Error{Kind: KindTimeout}
	ErrAuthentication     = &Error{Kind: KindAuthentication}
	ErrRateLimitExceeded  = &Error{Kind: KindRateLimitExceeded}
	ErrInvalidSymbol      = &Error{Kind: KindInvalidSymbol}
	ErrDataParsing        = &Error{Kind: KindDataParsing}
	ErrServiceUnavailable = &Error{Kind: KindServiceUnavailable}
	ErrAllProvidersFailed = &Error{Kind: KindAllProvidersFailed}
	ErrInvalidRequest     = &Error{Kind: KindInvalidRequest}
)

// Errorf builds an *Error of the given kind with a formatted message.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind around err.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the failure kind from err. Context deadlines map to KindTimeout;
// anything unclassified is treated as a network failure.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var k interface{ ErrorKind() Kind }
	if errors.As(err, &k) {
		return k.ErrorKind()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindNetwork
}

// WithProvider stamps the provider name onto err, converting foreign errors into *Error.
func WithProvider(err error, name string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		cp := *e
		if cp.Provider == "" {
			cp.Provider = name
		}
		return &cp
	}
	return &Error{Kind: KindOf(err), Provider: name, Err: err}
}
