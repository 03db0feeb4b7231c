// Package brapi provides a client for the brapi.dev market-quote API, the
// upstream provider behind search and pricing fallbacks.
package brapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/fabioitj/gatherin/internal/model"
)

const (
	DefaultBaseURL   = "https://brapi.dev"
	DefaultTimeout   = 10 * time.Second
	DefaultRateLimit = 5 // requests per second
)

// flexInt64 handles JSON values that may be a number, a numeric string or null.
type flexInt64 int64

func (f *flexInt64) UnmarshalJSON(data []byte) error {
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		*f = flexInt64(math.Round(num))
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			*f = 0
			return nil
		}
		*f = flexInt64(math.Round(n))
		return nil
	}
	return fmt.Errorf("cannot unmarshal %s into int64", string(data))
}

// Client talks to brapi. Every request waits on a token-bucket limiter.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithBaseURL sets the base URL
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithRateLimit sets the rate limit
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		if requestsPerSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
		}
	}
}

// WithTimeout sets the HTTP timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a new brapi client. The token may be empty; brapi
// serves a limited anonymous tier.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// APIError represents a non-200 response from brapi.
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("brapi API error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// listItem is one entry of /api/quote/list.
type listItem struct {
	Stock     string          `json:"stock"`
	Name      string          `json:"name"`
	Close     decimal.Decimal `json:"close"`
	Change    decimal.Decimal `json:"change"`
	Volume    flexInt64       `json:"volume"`
	MarketCap flexInt64       `json:"market_cap"`
	Logo      string          `json:"logo"`
	Sector    string          `json:"sector"`
}

type listResponse struct {
	Stocks []listItem `json:"stocks"`
	Funds  []listItem `json:"funds"`
}

type quoteResult struct {
	Symbol             string          `json:"symbol"`
	RegularMarketPrice decimal.Decimal `json:"regularMarketPrice"`
}

type quoteResponse struct {
	Results []quoteResult `json:"results"`
}

// ListQuotes searches the provider's quote list. FIIs are listed by brapi
// under the "fund" type.
func (c *Client) ListQuotes(ctx context.Context, assetType model.AssetType, search string) ([]model.AssetCandidate, error) {
	params := url.Values{}
	params.Set("type", providerType(assetType))
	if search != "" {
		params.Set("search", search)
	}

	var resp listResponse
	if err := c.get(ctx, "/api/quote/list", params, &resp); err != nil {
		return nil, err
	}

	items := resp.Stocks
	if assetType == model.AssetFII && len(resp.Funds) > 0 {
		items = resp.Funds
	}

	out := make([]model.AssetCandidate, 0, len(items))
	for _, it := range items {
		if it.Stock == "" {
			continue
		}
		out = append(out, model.AssetCandidate{
			Ticker:    strings.ToUpper(it.Stock),
			Name:      it.Name,
			Type:      assetType,
			Price:     it.Close,
			Change:    it.Change,
			Volume:    int64(it.Volume),
			MarketCap: int64(it.MarketCap),
			Logo:      it.Logo,
			Sector:    it.Sector,
		})
	}
	return out, nil
}

// Quotes fetches current prices for tickers in a single request. Tickers
// the provider does not know are absent from the result.
func (c *Client) Quotes(ctx context.Context, tickers []string) (map[string]decimal.Decimal, error) {
	prices := make(map[string]decimal.Decimal, len(tickers))
	if len(tickers) == 0 {
		return prices, nil
	}

	var resp quoteResponse
	path := "/api/quote/" + strings.Join(tickers, ",")
	if err := c.get(ctx, path, nil, &resp); err != nil {
		return nil, err
	}

	for _, r := range resp.Results {
		if r.Symbol == "" {
			continue
		}
		prices[strings.ToUpper(r.Symbol)] = r.RegularMarketPrice
	}
	return prices, nil
}

// get performs a rate-limited GET request
func (c *Client) get(ctx context.Context, path string, params url.Values, result any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	slog.Debug("brapi request", "path", path)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(body)),
			Endpoint:   path,
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func providerType(t model.AssetType) string {
	if t == model.AssetFII {
		return "fund"
	}
	return "stock"
}
