// Package eodhd resolves instrument metadata from the EODHD fundamentals API.
package eodhd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/bobmcallan/provsync/internal/common"
	"github.com/bobmcallan/provsync/internal/interfaces"
	"github.com/bobmcallan/provsync/internal/models"
)

const (
	DefaultBaseURL   = "https://eodhd.com/api"
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 10 // requests per second
	DefaultExchange  = "US"
)

// Compile-time interface check
var _ interfaces.InstrumentResolver = (*Client)(nil)

// Client implements interfaces.InstrumentResolver
type Client struct {
	baseURL    string
	apiKey     string
	exchange   string
	httpClient *http.Client
	logger     *common.Logger
	limiter    *rate.Limiter
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithBaseURL sets the base URL
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithLogger sets the logger
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets the rate limit
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// WithTimeout sets the HTTP timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithDefaultExchange sets the exchange suffix for tickers that carry none.
func WithDefaultExchange(exchange string) ClientOption {
	return func(c *Client) {
		if exchange != "" {
			c.exchange = exchange
		}
	}
}

// NewClient creates a new EODHD client
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:  DefaultBaseURL,
		apiKey:   apiKey,
		exchange: DefaultExchange,
		httpClient: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:  common.NewSilentLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// APIError represents an API error
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("EODHD API error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// get performs a rate-limited GET request
func (c *Client) get(ctx context.Context, path string, params url.Values, result interface{}) error {
	// Wait for rate limiter
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	// Add API key
	if params == nil {
		params = url.Values{}
	}
	params.Set("api_token", c.apiKey)
	params.Set("fmt", "json")

	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	c.logger.Debug().Str("url", c.baseURL+path).Msg("EODHD API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(body),
			Endpoint:   path,
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

type generalResponse struct {
	Code         string `json:"Code"`
	Name         string `json:"Name"`
	Exchange     string `json:"Exchange"`
	CurrencyCode string `json:"CurrencyCode"`
	Type         string `json:"Type"`
}

// ResolveSecurity looks up a namespaced ticker. Crypto tickers are queried
// against the USD pair on the CC exchange. Unknown tickers return
// models.ErrNotFound.
func (c *Client) ResolveSecurity(ctx context.Context, ticker string) (*models.Security, error) {
	symbol, crypto := c.symbol(ticker)
	path := "/fundamentals/" + url.PathEscape(symbol)

	var resp generalResponse
	err := c.get(ctx, path, url.Values{"filter": {"General"}}, &resp)
	if err != nil {
		if apiErr, ok := err.(*APIError); ok && apiErr.StatusCode == http.StatusNotFound {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	if resp.Name == "" && resp.Code == "" {
		return nil, models.ErrNotFound
	}

	sec := &models.Security{
		ID:       ticker,
		Ticker:   strings.TrimPrefix(ticker, models.CryptoPrefix),
		Name:     resp.Name,
		Kind:     kindFor(resp.Type, crypto),
		Exchange: resp.Exchange,
		Currency: strings.ToUpper(resp.CurrencyCode),
	}
	return sec, nil
}

func (c *Client) symbol(ticker string) (string, bool) {
	if bare, ok := strings.CutPrefix(ticker, models.CryptoPrefix); ok {
		return bare + "-USD.CC", true
	}
	if strings.Contains(ticker, ".") {
		return ticker, false
	}
	return ticker + "." + c.exchange, false
}

func kindFor(eodType string, crypto bool) string {
	if crypto {
		return models.SecurityKindCrypto
	}
	switch strings.ToUpper(eodType) {
	case "COMMON STOCK", "PREFERRED STOCK":
		return models.SecurityKindStock
	case "ETF", "FUND", "MUTUAL FUND":
		return models.SecurityKindFund
	case "CURRENCY":
		return models.SecurityKindCrypto
	case "":
		return ""
	default:
		return models.SecurityKindOther
	}
}
