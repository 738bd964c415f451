// Package yahoo is a client for the secondary quote API (Yahoo Finance style
// quote endpoint behind an API gateway).
package yahoo

import (
	"net/http"
	"net/url"
	"strings"
)

// DefaultBaseURL is the production endpoint of the secondary quote API.
const DefaultBaseURL = "https://yfapi.net"

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=yahoo_test -destination=mock_http_client_test.go -source=client.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is a client for the secondary quote API.
type Client struct {
	baseURL    string
	httpClient HTTPClient
	header     http.Header
	query      url.Values
}

// ClientOption is a configuration option for Client.
type ClientOption func(*Client)

// WithBaseURL sets the base URL for the API.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPClient sets the HTTP client for the API.
func WithHTTPClient(httpClient HTTPClient) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithRegion sets the market region query parameter.
func WithRegion(region string) ClientOption {
	return func(c *Client) {
		if region != "" {
			c.query.Set("region", region)
		}
	}
}

// NewClient creates a new client authenticating with key.
func NewClient(key string, options ...ClientOption) (*Client, error) {
	var client = &Client{
		baseURL:    DefaultBaseURL,
		httpClient: http.DefaultClient,
		header:     http.Header{},
		query:      url.Values{},
	}
	if key != "" {
		// The gateway authenticates with a header.
		client.header.Set("X-API-KEY", key)
	}
	for _, option := range options {
		option(client)
	}
	return client, nil
}
