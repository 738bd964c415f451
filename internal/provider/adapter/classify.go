package adapter

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"quotegateway/internal/provider"
)

// ClassifyStatus maps a non-2xx upstream status to the shared error taxonomy.
// body is a short excerpt of the response used only as the message.
func ClassifyStatus(code int, body string) *provider.Error {
	msg := http.StatusText(code)
	if b := strings.TrimSpace(body); b != "" {
		msg += ": " + b
	}
	switch {
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return &provider.Error{Kind: provider.KindAuthentication, Message: msg}
	case code == http.StatusTooManyRequests:
		return &provider.Error{Kind: provider.KindRateLimitExceeded, Message: "upstream throttled: " + msg}
	case code == http.StatusRequestTimeout, code == http.StatusGatewayTimeout:
		return &provider.Error{Kind: provider.KindTimeout, Message: msg}
	case code >= 500:
		return &provider.Error{Kind: provider.KindServiceUnavailable, Message: msg}
	default:
		return &provider.Error{Kind: provider.KindNetwork, Message: msg}
	}
}

// ClassifyTransport maps an error from the HTTP round trip.
func ClassifyTransport(err error) *provider.Error {
	var pe *provider.Error
	if errors.As(err, &pe) {
		return pe
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &provider.Error{Kind: provider.KindTimeout, Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &provider.Error{Kind: provider.KindTimeout, Err: err}
	}
	return &provider.Error{Kind: provider.KindNetwork, Err: err}
}

// ClassifyMessage maps an upstream error envelope that arrived with a 2xx status.
func ClassifyMessage(msg string) *provider.Error {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "api key"), strings.Contains(lower, "apikey"),
		strings.Contains(lower, "unauthorized"), strings.Contains(lower, "invalid key"):
		return &provider.Error{Kind: provider.KindAuthentication, Message: msg}
	case strings.Contains(lower, "limit reach"), strings.Contains(lower, "too many requests"):
		return &provider.Error{Kind: provider.KindRateLimitExceeded, Message: "upstream throttled: " + msg}
	default:
		return &provider.Error{Kind: provider.KindServiceUnavailable, Message: msg}
	}
}
