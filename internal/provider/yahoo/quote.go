package yahoo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net/http"
	"strings"

	"quotegateway/internal/provider"
	"quotegateway/internal/provider/adapter"
)

const maxBody = 8 << 20

// Quotes fetches one batch of quotes. Symbols must already be in the API's
// ticker format.
func (c *Client) Quotes(ctx context.Context, symbols []string) ([]adapter.Row, error) {
	if len(symbols) == 0 {
		return nil, nil
	}
	query := maps.Clone(c.query)
	query.Set("symbols", strings.Join(symbols, ","))
	endpoint := fmt.Sprintf("%s/v7/finance/quote?%s", c.baseURL, query.Encode())

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

// quoteResponse mirrors the v7 quote envelope.
//
//	{"quoteResponse": {"result": [...], "error": null}}
type quoteResponse struct {
	QuoteResponse *struct {
		Result []quoteRow `json:"result"`
		Error  *apiError  `json:"error"`
	} `json:"quoteResponse"`
	// Gateways report key problems at the top level.
	Message string `json:"message"`
}

type apiError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type quoteRow struct {
	Symbol                     string `json:"symbol"`
	ShortName                  string `json:"shortName"`
	LongName                   string `json:"longName"`
	RegularMarketPrice         any    `json:"regularMarketPrice"`
	RegularMarketOpen          any    `json:"regularMarketOpen"`
	RegularMarketDayHigh       any    `json:"regularMarketDayHigh"`
	RegularMarketDayLow        any    `json:"regularMarketDayLow"`
	RegularMarketPreviousClose any    `json:"regularMarketPreviousClose"`
	RegularMarketTime          any    `json:"regularMarketTime"`
}

func decodeQuotes(body []byte) ([]adapter.Row, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, provider.Errorf(provider.KindDataParsing, "empty response body")
	}

	var resp quoteResponse
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	if err := dec.Decode(&resp); err != nil {
		return nil, provider.Wrap(provider.KindDataParsing, err, "decoding quote response")
	}
	if resp.QuoteResponse == nil {
		if resp.Message != "" {
			return nil, adapter.ClassifyMessage(resp.Message)
		}
		return nil, provider.Errorf(provider.KindDataParsing, "missing quoteResponse: %s", excerpt(trimmed))
	}
	if e := resp.QuoteResponse.Error; e != nil {
		return nil, adapter.ClassifyMessage(strings.TrimSpace(e.Code + " " + e.Description))
	}

	rows := make([]adapter.Row, 0, len(resp.QuoteResponse.Result))
	for _, r := range resp.QuoteResponse.Result {
		if strings.TrimSpace(r.Symbol) == "" {
			continue
		}
		name := r.LongName
		if name == "" {
			name = r.ShortName
		}
		rows = append(rows, adapter.Row{
			Symbol:        r.Symbol,
			Name:          name,
			Price:         r.RegularMarketPrice,
			Open:          r.RegularMarketOpen,
			High:          r.RegularMarketDayHigh,
			Low:           r.RegularMarketDayLow,
			PreviousClose: r.RegularMarketPreviousClose,
			Time:          r.RegularMarketTime,
		})
	}
	return rows, nil
}

func excerpt(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
