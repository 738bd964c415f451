package fmp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"strings"

	"quotegateway/internal/provider"
	"quotegateway/internal/provider/adapter"
)

// maxBody caps how much of a response is read.
const maxBody = 8 << 20

// Quotes fetches one batch of quotes. Symbols must already be in the API's
// ticker format.
func (c *Client) Quotes(ctx context.Context, symbols []string) ([]adapter.Row, error) {
	if len(symbols) == 0 {
		return nil, nil
	}
	query := maps.Clone(c.query)
	path := url.PathEscape(strings.Join(symbols, ","))
	endpoint := fmt.Sprintf("%s/api/v3/quote/%s?%s", c.baseURL, path, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, provider.Wrap(provider.KindNetwork, err, "creating request")
	}
	req.Header = c.header.Clone()
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, adapter.ClassifyTransport(err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBody))
	if err != nil {
		return nil, adapter.ClassifyTransport(err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, adapter.ClassifyStatus(res.StatusCode, excerpt(body))
	}
	return decodeQuotes(body)
}

// quoteRow is one element of the quote array.
//
//	{
//	  "symbol": "AAPL",
//	  "name": "Apple Inc.",
//	  "price": 189.5,
//	  "open": 188.0,
//	  "dayHigh": 190.25,
//	  "dayLow": 187.1,
//	  "previousClose": 188.9,
//	  "timestamp": 1741102200
//	}
type quoteRow struct {
	Symbol        string `json:"symbol"`
	Name          string `json:"name"`
	Price         any    `json:"price"`
	Open          any    `json:"open"`
	DayHigh       any    `json:"dayHigh"`
	DayLow        any    `json:"dayLow"`
	PreviousClose any    `json:"previousClose"`
	Timestamp     any    `json:"timestamp"`
}

// errorEnvelope is returned instead of an array on key or plan problems.
type errorEnvelope struct {
	Message string `json:"Error Message"`
	Error   string `json:"error"`
}

func decodeQuotes(body []byte) ([]adapter.Row, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, provider.Errorf(provider.KindDataParsing, "empty response body")
	}

	if trimmed[0] == '{' {
		var env errorEnvelope
		if err := unmarshal(trimmed, &env); err != nil {
			return nil, provider.Wrap(provider.KindDataParsing, err, "decoding error envelope")
		}
		msg := env.Message
		if msg == "" {
			msg = env.Error
		}
		if msg == "" {
			return nil, provider.Errorf(provider.KindDataParsing, "unexpected object response: %s", excerpt(trimmed))
		}
		return nil, adapter.ClassifyMessage(msg)
	}

	var raw []quoteRow
	if err := unmarshal(trimmed, &raw); err != nil {
		return nil, provider.Wrap(provider.KindDataParsing, err, "decoding quote array")
	}
	rows := make([]adapter.Row, 0, len(raw))
	for _, r := range raw {
		if strings.TrimSpace(r.Symbol) == "" {
			continue
		}
		rows = append(rows, adapter.Row{
			Symbol:        r.Symbol,
			Name:          r.Name,
			Price:         r.Price,
			Open:          r.Open,
			High:          r.DayHigh,
			Low:           r.DayLow,
			PreviousClose: r.PreviousClose,
			Time:          r.Timestamp,
		})
	}
	return rows, nil
}

func unmarshal(b []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	return dec.Decode(v)
}

func excerpt(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
