package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	// ErrUnauthorized covers a rejected or missing API key, as distinct from
	// a symbol the provider simply does not know.
	ErrUnauthorized = errors.New("market: API key rejected")

	ErrSymbolNotFound = errors.New("market: symbol not found")
)

const apiKeyHeader = "X-CMC_PRO_API_KEY"

// Client fetches current fiat quotes for a batch of asset symbols from a
// CoinMarketCap-compatible API.
type Client struct {
	baseURL string
	apiKey  string
	fiat    string
	client  *http.Client
}

func NewClient(baseURL, apiKey, fiat string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		fiat:    fiat,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type quoteResponse struct {
	Status struct {
		ErrorCode    int    `json:"error_code"`
		ErrorMessage string `json:"error_message"`
	} `json:"status"`
	Data map[string]struct {
		Symbol string `json:"symbol"`
		Quote  map[string]struct {
			Price float64 `json:"price"`
		} `json:"quote"`
	} `json:"data"`
}

// Quotes returns the current price for every requested symbol in the
// client's fiat unit, in one request. A symbol the provider does not carry
// yields ErrSymbolNotFound; everything the provider did return is discarded
// so a caller never works from a partial quote set.
func (c *Client) Quotes(ctx context.Context, symbols []string) (map[string]float64, error) {
	q := url.Values{}
	q.Set("symbol", strings.Join(symbols, ","))
	q.Set("convert", c.fiat)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/v1/cryptocurrency/quotes/latest?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build quotes request: %w", err)
	}
	req.Header.Set(apiKeyHeader, c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch quotes: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w (status %d)", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("quotes API status %d", resp.StatusCode)
	}

	var body quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode quotes: %w", err)
	}

	prices := make(map[string]float64, len(symbols))
	for _, sym := range symbols {
		entry, ok := body.Data[sym]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrSymbolNotFound, sym)
		}
		quote, ok := entry.Quote[c.fiat]
		if !ok {
			return nil, fmt.Errorf("%w: %s has no %s quote", ErrSymbolNotFound, sym, c.fiat)
		}
		prices[sym] = quote.Price
	}
	return prices, nil
}
