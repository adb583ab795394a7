// Package provider provides a configurable REST client for account
// aggregation providers.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
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
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 5 // requests per second
)

// Endpoint names looked up in the provider's path table. {account} in a
// template is replaced with the escaped account reference.
const (
	PathAccounts     = "accounts"
	PathBalances     = "balances"
	PathTransactions = "transactions"
	PathHoldings     = "holdings"
	PathPostSync     = "post_sync"
)

var defaultPaths = map[string]string{
	PathAccounts:     "/v1/accounts",
	PathBalances:     "/v1/accounts/{account}/balances",
	PathTransactions: "/v1/accounts/{account}/transactions",
	PathHoldings:     "/v1/accounts/{account}/holdings",
}

// Compile-time interface checks
var (
	_ interfaces.ProviderClient = (*Client)(nil)
	_ interfaces.PostSyncHook   = (*Client)(nil)
)

// Client implements interfaces.ProviderClient over a JSON REST API.
type Client struct {
	name       string
	baseURL    string
	token      string
	paths      map[string]string
	httpClient *http.Client
	logger     *common.Logger
	limiter    *rate.Limiter
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithLogger sets the logger
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
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

// WithPaths overrides endpoint path templates.
func WithPaths(paths map[string]string) ClientOption {
	return func(c *Client) {
		for k, v := range paths {
			c.paths[k] = v
		}
	}
}

// NewClient creates a client for the provider name at baseURL,
// authenticating with a bearer token.
func NewClient(name, baseURL, token string, opts ...ClientOption) *Client {
	c := &Client{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		paths:   make(map[string]string, len(defaultPaths)),
		httpClient: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:  common.NewSilentLogger(),
	}
	for k, v := range defaultPaths {
		c.paths[k] = v
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// envelope is the accepted list response shape. Providers that return a
// bare array are handled separately.
type envelope struct {
	Data       json.RawMessage `json:"data"`
	Items      json.RawMessage `json:"items"`
	Results    json.RawMessage `json:"results"`
	Next       string          `json:"next"`
	NextCursor string          `json:"next_cursor"`
}

func (e *envelope) records() json.RawMessage {
	for _, raw := range []json.RawMessage{e.Data, e.Items, e.Results} {
		if len(raw) > 0 {
			return raw
		}
	}
	return nil
}

func (e *envelope) cursor() string {
	if e.NextCursor != "" {
		return e.NextCursor
	}
	return e.Next
}

// ListAccounts returns every account visible to the connection.
func (c *Client) ListAccounts(ctx context.Context) ([]models.RawRecord, error) {
	const op = "list_accounts"
	body, err := c.do(ctx, op, http.MethodGet, c.path(PathAccounts, ""), nil)
	if err != nil {
		return nil, err
	}
	recs, _, err := decodeList(body)
	if err != nil {
		return nil, c.failure(op, err)
	}
	return recs, nil
}

// GetBalances returns the balance record for one account.
func (c *Client) GetBalances(ctx context.Context, accountRef string) (models.RawRecord, error) {
	const op = "get_balances"
	body, err := c.do(ctx, op, http.MethodGet, c.path(PathBalances, accountRef), nil)
	if err != nil {
		return nil, err
	}
	rec, err := decodeRecord(body)
	if err != nil {
		return nil, c.failure(op, err)
	}
	return rec, nil
}

// GetTransactions returns one page of transactions dated on or after since.
func (c *Client) GetTransactions(ctx context.Context, accountRef string, since time.Time, cursor string) ([]models.RawRecord, string, error) {
	const op = "get_transactions"
	q := url.Values{}
	if !since.IsZero() {
		q.Set("since", since.UTC().Format("2006-01-02"))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	path := c.path(PathTransactions, accountRef)
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	body, err := c.do(ctx, op, http.MethodGet, path, nil)
	if err != nil {
		return nil, "", err
	}
	recs, next, err := decodeList(body)
	if err != nil {
		return nil, "", c.failure(op, err)
	}
	return recs, next, nil
}

// GetHoldings returns current positions for one account.
func (c *Client) GetHoldings(ctx context.Context, accountRef string) ([]models.RawRecord, error) {
	const op = "get_holdings"
	body, err := c.do(ctx, op, http.MethodGet, c.path(PathHoldings, accountRef), nil)
	if err != nil {
		return nil, err
	}
	recs, _, err := decodeList(body)
	if err != nil {
		return nil, c.failure(op, err)
	}
	return recs, nil
}

// PostSync notifies the provider that a sync finished. A no-op unless the
// provider configures a post_sync path.
func (c *Client) PostSync(ctx context.Context, conn *models.Connection) error {
	tmpl, ok := c.paths[PathPostSync]
	if !ok || tmpl == "" {
		return nil
	}
	payload, err := json.Marshal(map[string]string{"connection_id": conn.ID})
	if err != nil {
		return err
	}
	_, err = c.do(ctx, "post_sync", http.MethodPost, tmpl, payload)
	return err
}

func (c *Client) path(name, accountRef string) string {
	tmpl := c.paths[name]
	return strings.ReplaceAll(tmpl, "{account}", url.PathEscape(accountRef))
}

// do performs a rate-limited request and classifies failures into
// *models.ProviderError.
func (c *Client) do(ctx context.Context, op, method, path string, body []byte) ([]byte, error) {
	// Wait for rate limiter
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &models.ProviderError{Kind: models.ProviderErrorTransient, Op: op, Err: fmt.Errorf("rate limit wait: %w", err)}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, c.failure(op, fmt.Errorf("failed to create request: %w", err))
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug().Str("provider", c.name).Str("op", op).Str("url", path).Msg("Provider API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &models.ProviderError{Kind: models.ProviderErrorTransient, Op: op, Err: fmt.Errorf("failed to execute request: %w", err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &models.ProviderError{Kind: models.ProviderErrorTransient, StatusCode: resp.StatusCode, Op: op, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &models.ProviderError{
			Kind:       classify(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Op:         op,
			Err:        fmt.Errorf("%s: %s", c.name, truncate(string(data), 200)),
		}
	}

	return data, nil
}

func (c *Client) failure(op string, err error) error {
	return &models.ProviderError{Kind: models.ProviderErrorFailure, Op: op, Err: err}
}

// classify maps an HTTP status onto a provider error kind.
func classify(status int) string {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return models.ProviderErrorUnauthorized
	case status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500:
		return models.ProviderErrorTransient
	default:
		return models.ProviderErrorFailure
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func newDecoder(data []byte) *json.Decoder {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec
}

var errUnexpectedShape = errors.New("unexpected response shape")

// decodeList accepts a bare array or an envelope holding one under data,
// items or results.
func decodeList(data []byte) ([]models.RawRecord, string, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, "", nil
	}

	if trimmed[0] == '[' {
		var recs []models.RawRecord
		if err := newDecoder(trimmed).Decode(&recs); err != nil {
			return nil, "", fmt.Errorf("failed to decode response: %w", err)
		}
		return recs, "", nil
	}

	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, "", fmt.Errorf("failed to decode response: %w", err)
	}
	raw := env.records()
	if raw == nil {
		return nil, env.cursor(), nil
	}
	var recs []models.RawRecord
	if err := newDecoder(raw).Decode(&recs); err != nil {
		return nil, "", fmt.Errorf("%w: %v", errUnexpectedShape, err)
	}
	return recs, env.cursor(), nil
}

// decodeRecord accepts a bare object or one wrapped under data.
func decodeRecord(data []byte) (models.RawRecord, error) {
	var rec models.RawRecord
	if err := newDecoder(data).Decode(&rec); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if inner, ok := rec["data"].(map[string]any); ok && len(rec) == 1 {
		return models.RawRecord(inner), nil
	}
	return rec, nil
}
