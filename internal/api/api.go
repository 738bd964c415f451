// Package api exposes the quote service over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"quotegateway/internal/metrics"
	"quotegateway/internal/provider"
	"quotegateway/internal/quotes"
)

// QuoteService is the slice of quotes.Service the handlers need.
type QuoteService interface {
	GetQuotes(ctx context.Context, symbols []string) (*quotes.Result, error)
	Health(ctx context.Context) []quotes.ProviderHealth
	Ready(ctx context.Context) error
	ResetBreaker(name string) error
	ClearCache(ctx context.Context) error
	Providers() []string
}

type Options struct {
	Logger zerolog.Logger
	// Metrics is served on /metrics when set.
	Metrics *metrics.Metrics
	// RequestTimeout bounds a whole quote request. Zero means no extra bound.
	RequestTimeout time.Duration
}

type handler struct {
	svc     QuoteService
	timeout time.Duration
	log     zerolog.Logger
}

// NewRouter builds the gin engine with all routes and middleware.
func NewRouter(svc QuoteService, opts Options) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	h := &handler{svc: svc, timeout: opts.RequestTimeout, log: opts.Logger.With().Str("component", "api").Logger()}

	r := gin.New()
	r.Use(gin.Recovery(), requestID(), accessLog(h.log), corsHeaders(), withGzip(), limitBody(maxBody))

	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/readyz", h.ready)
	if opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(opts.Metrics.Handler()))
	}

	api := r.Group("/api")
	api.GET("/quotes", h.getQuotes)
	api.POST("/quotes", h.postQuotes)
	api.GET("/providers", h.providers)
	api.GET("/providers/health", h.health)
	api.POST("/providers/:name/reset", h.resetBreaker)
	api.DELETE("/cache", h.clearCache)
	return r
}

type quotesRequest struct {
	Symbols []string `json:"symbols"`
}

type errorResponse struct {
	Error     string           `json:"error"`
	Kind      string           `json:"kind,omitempty"`
	Attempts  []quotes.Attempt `json:"attempts,omitempty"`
	RequestID string           `json:"request_id,omitempty"`
}

func (h *handler) getQuotes(c *gin.Context) {
	raw := c.Query("symbols")
	if strings.TrimSpace(raw) == "" {
		h.fail(c, http.StatusBadRequest, "missing symbols query param", provider.KindInvalidRequest)
		return
	}
	h.writeQuotes(c, splitCSV(raw))
}

func (h *handler) postQuotes(c *gin.Context) {
	var body quotesRequest
	dec := json.NewDecoder(c.Request.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.fail(c, http.StatusRequestEntityTooLarge, "request body too large", provider.KindInvalidRequest)
			return
		}
		h.fail(c, http.StatusBadRequest, "invalid JSON body", provider.KindInvalidRequest)
		return
	}
	h.writeQuotes(c, body.Symbols)
}

func (h *handler) writeQuotes(c *gin.Context, symbols []string) {
	ctx := c.Request.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	res, err := h.svc.GetQuotes(ctx, symbols)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if res.Quotes == nil {
		res.Quotes = []provider.Quote{}
	}
	if res.Errors == nil {
		res.Errors = []quotes.SymbolError{}
	}
	c.JSON(http.StatusOK, res)
}

func (h *handler) writeError(c *gin.Context, err error) {
	kind := provider.KindOf(err)
	switch kind {
	case provider.KindInvalidRequest, provider.KindInvalidSymbol:
		h.fail(c, http.StatusBadRequest, err.Error(), kind)
	case provider.KindAllProvidersFailed:
		resp := errorResponse{Error: "all providers failed", Kind: kind.String(), RequestID: c.GetString(requestIDKey)}
		var all *quotes.AllProvidersFailedError
		if errors.As(err, &all) {
			resp.Attempts = all.Attempts
		}
		c.JSON(http.StatusBadGateway, resp)
	case provider.KindTimeout:
		h.fail(c, http.StatusGatewayTimeout, err.Error(), kind)
	default:
		h.log.Error().Err(err).Str("request_id", c.GetString(requestIDKey)).Msg("unexpected quote error")
		h.fail(c, http.StatusInternalServerError, "internal error", kind)
	}
}

func (h *handler) fail(c *gin.Context, status int, msg string, kind provider.Kind) {
	c.AbortWithStatusJSON(status, errorResponse{Error: msg, Kind: kind.String(), RequestID: c.GetString(requestIDKey)})
}

func (h *handler) providers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"providers": h.svc.Providers()})
}

func (h *handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"providers": h.svc.Health(c.Request.Context())})
}

func (h *handler) ready(c *gin.Context) {
	if err := h.svc.Ready(c.Request.Context()); err != nil {
		h.log.Warn().Err(err).Msg("not ready")
		c.String(http.StatusServiceUnavailable, "not ready")
		return
	}
	c.String(http.StatusOK, "ready")
}

func (h *handler) resetBreaker(c *gin.Context) {
	if err := h.svc.ResetBreaker(c.Param("name")); err != nil {
		h.fail(c, http.StatusNotFound, err.Error(), provider.KindOf(err))
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) clearCache(c *gin.Context) {
	if err := h.svc.ClearCache(c.Request.Context()); err != nil {
		h.log.Error().Err(err).Msg("clearing cache")
		h.fail(c, http.StatusInternalServerError, "clearing cache failed", provider.KindOf(err))
		return
	}
	c.Status(http.StatusNoContent)
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
