package api

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"quotegateway/internal/breaker"
	"quotegateway/internal/metrics"
	"quotegateway/internal/provider"
	"quotegateway/internal/quotes"
)

type fakeService struct {
	mu       sync.Mutex
	got      []string
	deadline bool
	result   *quotes.Result
	err      error
	resetErr error
	readyErr error
	cleared  bool
}

func (f *fakeService) GetQuotes(ctx context.Context, symbols []string) (*quotes.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = symbols
	_, f.deadline = ctx.Deadline()
	return f.result, f.err
}

func (f *fakeService) Health(context.Context) []quotes.ProviderHealth {
	return []quotes.ProviderHealth{{Provider: "primary", Priority: 1, Healthy: true, Breaker: breaker.Snapshot{Provider: "primary", State: breaker.Closed}}}
}

func (f *fakeService) Ready(context.Context) error { return f.readyErr }

func (f *fakeService) ResetBreaker(string) error { return f.resetErr }

func (f *fakeService) ClearCache(context.Context) error {
	f.mu.Lock()
	f.cleared = true
	f.mu.Unlock()
	return nil
}

func (f *fakeService) Providers() []string { return []string{"primary", "secondary"} }

func okResult() *quotes.Result {
	return &quotes.Result{
		Quotes: []provider.Quote{{
			Symbol:      "AAPL",
			DisplayName: "Apple Inc.",
			Price:       decimal.RequireFromString("189.50"),
			Timestamp:   time.Date(2025, 3, 4, 15, 30, 0, 0, time.UTC),
			Source:      "primary",
		}},
		Errors:   []quotes.SymbolError{{Symbol: "NOPE", Reason: "not returned by primary"}},
		Provider: "primary",
	}
}

func serve(t *testing.T, svc QuoteService, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	r := NewRouter(svc, Options{Logger: zerolog.Nop(), Metrics: metrics.New(), RequestTimeout: time.Second})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestGetQuotes_OK(t *testing.T) {
	t.Parallel()

	// Arrange
	svc := &fakeService{result: okResult()}
	req := httptest.NewRequest(http.MethodGet, "/api/quotes?symbols=aapl,%20NOPE,", http.NoBody)

	// Act
	rec := serve(t, svc, req)

	// Assert
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, []string{"aapl", "NOPE"}, svc.got)
	require.True(t, svc.deadline)
	require.NotEmpty(t, rec.Header().Get(requestIDHeader))

	var body struct {
		Quotes []struct {
			Symbol  string `json:"symbol"`
			Price   string `json:"price"`
			IsStale bool   `json:"is_stale"`
		} `json:"quotes"`
		Errors    []quotes.SymbolError `json:"errors"`
		Provider  string               `json:"provider"`
		FromCache bool                 `json:"from_cache"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Quotes, 1)
	require.Equal(t, "AAPL", body.Quotes[0].Symbol)
	require.Equal(t, "189.5", body.Quotes[0].Price)
	require.Equal(t, "NOPE", body.Errors[0].Symbol)
	require.Equal(t, "primary", body.Provider)
	require.False(t, body.FromCache)
}

func TestGetQuotes_MissingSymbols(t *testing.T) {
	t.Parallel()

	svc := &fakeService{result: okResult()}
	rec := serve(t, svc, httptest.NewRequest(http.MethodGet, "/api/quotes", http.NoBody))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Nil(t, svc.got)
}

func TestPostQuotes(t *testing.T) {
	t.Parallel()

	svc := &fakeService{result: okResult()}
	req := httptest.NewRequest(http.MethodPost, "/api/quotes", strings.NewReader(`{"symbols":["AAPL","MSFT"]}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(requestIDHeader, "req-123")

	rec := serve(t, svc, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"AAPL", "MSFT"}, svc.got)
	require.Equal(t, "req-123", rec.Header().Get(requestIDHeader))
}

func TestPostQuotes_BadBodies(t *testing.T) {
	t.Parallel()

	for name, tc := range map[string]struct {
		body string
		want int
	}{
		"not_json":      {body: `symbols=AAPL`, want: http.StatusBadRequest},
		"unknown_field": {body: `{"symbols":["AAPL"],"extra":1}`, want: http.StatusBadRequest},
		"too_large":     {body: `{"symbols":["` + strings.Repeat("A", maxBody) + `"]}`, want: http.StatusRequestEntityTooLarge},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			svc := &fakeService{result: okResult()}
			rec := serve(t, svc, httptest.NewRequest(http.MethodPost, "/api/quotes", strings.NewReader(tc.body)))

			require.Equal(t, tc.want, rec.Code)
			require.Nil(t, svc.got)
		})
	}
}

func TestQuotes_ErrorMapping(t *testing.T) {
	t.Parallel()

	allFailed := &quotes.AllProvidersFailedError{Attempts: []quotes.Attempt{
		{Provider: "primary", Kind: provider.KindCircuitOpen, Reason: "circuit open"},
		{Provider: "secondary", Kind: provider.KindNetwork, Reason: "secondary: network: connection reset"},
	}}

	for name, tc := range map[string]struct {
		err  error
		want int
	}{
		"invalid":      {err: provider.Errorf(provider.KindInvalidRequest, "bad symbol"), want: http.StatusBadRequest},
		"all_failed":   {err: allFailed, want: http.StatusBadGateway},
		"timeout":      {err: &provider.Error{Kind: provider.KindTimeout, Err: context.DeadlineExceeded}, want: http.StatusGatewayTimeout},
		"unclassified": {err: &provider.Error{Kind: provider.KindDataParsing}, want: http.StatusInternalServerError},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			svc := &fakeService{err: tc.err}
			rec := serve(t, svc, httptest.NewRequest(http.MethodGet, "/api/quotes?symbols=AAPL", http.NoBody))

			require.Equal(t, tc.want, rec.Code, rec.Body.String())
		})
	}

	svc := &fakeService{err: allFailed}
	rec := serve(t, svc, httptest.NewRequest(http.MethodGet, "/api/quotes?symbols=AAPL", http.NoBody))
	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "all_providers_failed", body.Kind)
	require.Len(t, body.Attempts, 2)
	require.Equal(t, "primary", body.Attempts[0].Provider)
	require.Equal(t, "circuit open", body.Attempts[0].Reason)
}

func TestDiagnostics(t *testing.T) {
	t.Parallel()

	svc := &fakeService{}

	rec := serve(t, svc, httptest.NewRequest(http.MethodGet, "/api/providers/health", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"state":"closed"`)

	rec = serve(t, svc, httptest.NewRequest(http.MethodGet, "/api/providers", http.NoBody))
	require.JSONEq(t, `{"providers":["primary","secondary"]}`, rec.Body.String())

	rec = serve(t, svc, httptest.NewRequest(http.MethodPost, "/api/providers/primary/reset", http.NoBody))
	require.Equal(t, http.StatusNoContent, rec.Code)

	svc.resetErr = provider.Errorf(provider.KindInvalidRequest, "unknown provider %q", "nope")
	rec = serve(t, svc, httptest.NewRequest(http.MethodPost, "/api/providers/nope/reset", http.NoBody))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(t, svc, httptest.NewRequest(http.MethodDelete, "/api/cache", http.NoBody))
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.True(t, svc.cleared)

	rec = serve(t, svc, httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody))
	require.Equal(t, "ok", rec.Body.String())

	rec = serve(t, svc, httptest.NewRequest(http.MethodGet, "/readyz", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ready", rec.Body.String())

	svc.readyErr = provider.Errorf(provider.KindCircuitOpen, "every provider circuit is open")
	rec = serve(t, svc, httptest.NewRequest(http.MethodGet, "/readyz", http.NoBody))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = serve(t, svc, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestGzip(t *testing.T) {
	t.Parallel()

	svc := &fakeService{result: okResult()}
	req := httptest.NewRequest(http.MethodGet, "/api/quotes?symbols=AAPL", http.NoBody)
	req.Header.Set("Accept-Encoding", "gzip")

	rec := serve(t, svc, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
	zr, err := gzip.NewReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	plain, err := io.ReadAll(zr)
	require.NoError(t, err)
	require.Contains(t, string(plain), `"symbol":"AAPL"`)
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()

	rec := serve(t, &fakeService{}, httptest.NewRequest(http.MethodOptions, "/api/quotes", http.NoBody))

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
